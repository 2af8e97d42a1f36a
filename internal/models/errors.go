package models

import (
	"errors"
	"fmt"
)

var (
	// ErrMalformedChunk is matched by errors reporting a remote chunk of unexpected shape.
	ErrMalformedChunk = errors.New("malformed chunk")
	// ErrRemoteCall is matched by errors reporting a failed call to the model.
	ErrRemoteCall = errors.New("remote call failed")
)

// MalformedChunkError reports a chunk that could not be read as a Single or a Boundary. This frequently
// happens when the remote applied a content filter, in which case Feedback describes what was flagged.
type MalformedChunkError struct {
	Reason   string
	Feedback string
}

func (e *MalformedChunkError) Error() string {
	if e.Feedback == "" {
		return fmt.Sprintf("malformed chunk: %s", e.Reason)
	}
	return fmt.Sprintf("malformed chunk: %s (%s)", e.Reason, e.Feedback)
}

// Is reports whether target is ErrMalformedChunk.
func (e *MalformedChunkError) Is(target error) bool {
	return target == ErrMalformedChunk
}

// RemoteCallError reports a network, authentication or quota failure from a model provider.
type RemoteCallError struct {
	Provider string
	Err      error
}

// NewRemoteCallError wraps err as a failure of the named provider.
func NewRemoteCallError(provider string, err error) *RemoteCallError {
	return &RemoteCallError{Provider: provider, Err: err}
}

func (e *RemoteCallError) Error() string {
	return fmt.Sprintf("%s: %v", e.Provider, e.Err)
}

// Is reports whether target is ErrRemoteCall.
func (e *RemoteCallError) Is(target error) bool {
	return target == ErrRemoteCall
}

func (e *RemoteCallError) Unwrap() error {
	return e.Err
}
