package models

// Chunk is one unit of a streamed model reply. It is either a Single continuation of the currently open
// phase, or a Boundary that closes the reasoning phase and opens the answer phase within the same unit.
type Chunk interface {
	// Text returns the first segment of the chunk.
	Text() string

	chunk()
}

// Single is a chunk carrying one segment of text.
type Single struct {
	Segment string
}

// Boundary is a chunk carrying the tail of the reasoning text and the head of the answer text.
type Boundary struct {
	Reasoning string
	Answer    string
}

// Text implements Chunk.
func (s Single) Text() string { return s.Segment }

// Text implements Chunk.
func (b Boundary) Text() string { return b.Reasoning }

func (Single) chunk()   {}
func (Boundary) chunk() {}

// ChunkFromSegments builds a chunk from the raw text segments of a remote response. One segment makes a
// Single and two make a Boundary. Any other count of two or more is read as a Single of the first
// segment. A response without segments cannot be interpreted and yields a MalformedChunkError.
func ChunkFromSegments(segments ...string) (Chunk, error) {
	switch len(segments) {
	case 0:
		return nil, &MalformedChunkError{Reason: "no segments"}
	case 2:
		return Boundary{Reasoning: segments[0], Answer: segments[1]}, nil
	default:
		return Single{Segment: segments[0]}, nil
	}
}
