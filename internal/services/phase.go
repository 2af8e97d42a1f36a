package services

import (
	"strings"

	"github.com/MegaGrindStone/mycochat/internal/models"
)

// phaseSplitter tags text from providers that report reasoning and answer text on separate channels.
// The first answer text always opens the answer phase with a Boundary, even when the model produced no
// reasoning at all.
type phaseSplitter struct {
	answering bool
}

func (p *phaseSplitter) reasoning(text string) (models.Chunk, bool) {
	if text == "" || p.answering {
		return nil, false
	}
	return models.Single{Segment: text}, true
}

func (p *phaseSplitter) answer(text string) (models.Chunk, bool) {
	if text == "" {
		return nil, false
	}
	if p.answering {
		return models.Single{Segment: text}, true
	}
	p.answering = true
	return models.Boundary{Answer: text}, true
}

// both handles a delta that carries the end of the reasoning and the start of the answer at once.
func (p *phaseSplitter) both(reasoning, answer string) (models.Chunk, bool) {
	if p.answering {
		return p.answer(answer)
	}
	if answer == "" {
		return p.reasoning(reasoning)
	}
	p.answering = true
	return models.Boundary{Reasoning: reasoning, Answer: answer}, true
}

const (
	thinkOpen  = "<think>"
	thinkClose = "</think>"
)

// thinkSplitter tags text from models that inline their reasoning between <think> and </think> at the
// start of the reply. A reply that does not open with <think> is all answer. Text that may be the start
// of a tag is held back until the next delta settles it.
type thinkSplitter struct {
	opened    bool
	answering bool
	pending   string
}

func (s *thinkSplitter) split(text string) (models.Chunk, bool) {
	if s.answering {
		if text == "" {
			return nil, false
		}
		return models.Single{Segment: text}, true
	}

	text = s.pending + text
	s.pending = ""

	if !s.opened {
		trimmed := strings.TrimLeft(text, " \t\r\n")
		if trimmed == "" {
			return nil, false
		}
		if len(trimmed) < len(thinkOpen) && strings.HasPrefix(thinkOpen, trimmed) {
			s.pending = trimmed
			return nil, false
		}
		if !strings.HasPrefix(trimmed, thinkOpen) {
			s.answering = true
			return models.Boundary{Answer: trimmed}, true
		}
		s.opened = true
		text = strings.TrimPrefix(trimmed, thinkOpen)
	}

	idx := strings.Index(text, thinkClose)
	if idx < 0 {
		keep := partialTag(text, thinkClose)
		s.pending = text[len(text)-keep:]
		text = text[:len(text)-keep]
		if text == "" {
			return nil, false
		}
		return models.Single{Segment: text}, true
	}

	s.answering = true
	return models.Boundary{
		Reasoning: text[:idx],
		Answer:    strings.TrimLeft(text[idx+len(thinkClose):], "\r\n"),
	}, true
}

// flush releases the text held back when the reply ended in what looked like the start of a tag.
func (s *thinkSplitter) flush() (models.Chunk, bool) {
	text := s.pending
	s.pending = ""
	if text == "" || s.answering {
		return nil, false
	}
	if !s.opened {
		s.answering = true
		return models.Boundary{Answer: text}, true
	}
	return models.Single{Segment: text}, true
}

// partialTag returns the length of the longest proper prefix of tag that text ends with.
func partialTag(text, tag string) int {
	for k := min(len(text), len(tag)-1); k > 0; k-- {
		if strings.HasSuffix(text, tag[:k]) {
			return k
		}
	}
	return 0
}
