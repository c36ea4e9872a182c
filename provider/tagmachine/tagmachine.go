// Package tagmachine splits a character stream into "thinking" and
// "visible" segments around a literal <think>...</think> sentinel pair,
// surviving arbitrary chunk boundaries.
package tagmachine

import "strings"

const (
	openSentinel  = "<think>"
	closeSentinel = "</think>"
)

// State is one of the four recognizer states.
type State int

const (
	Outside State = iota
	MaybeOpen
	Inside
	MaybeClose
)

// Event is one emitted segment: either a visible text delta or a
// thinking delta.
type Event struct {
	Thinking bool
	Content  string
}

// Machine is a byte-by-byte <think> tag recognizer. Its state persists
// across calls to Feed, so a sentinel split across any chunk boundary is
// still recognized correctly. A Machine is not safe for concurrent use.
type Machine struct {
	state    State
	acc      []byte
	visible  strings.Builder
	thinking strings.Builder
}

// New returns a Machine starting in the Outside state.
func New() *Machine {
	return &Machine{}
}

// Feed processes one chunk and returns the events it produced, in input
// order. A chunk may produce zero or more events. The pending segment is
// flushed whenever a '<' opens a sentinel candidate, so one chunk can
// yield several adjacent events of the same type.
func (m *Machine) Feed(chunk string) []Event {
	var events []Event

	flushVisible := func() {
		if m.visible.Len() > 0 {
			events = append(events, Event{Content: m.visible.String()})
			m.visible.Reset()
		}
	}
	flushThinking := func() {
		if m.thinking.Len() > 0 {
			events = append(events, Event{Thinking: true, Content: m.thinking.String()})
			m.thinking.Reset()
		}
	}

	for i := 0; i < len(chunk); i++ {
		c := chunk[i]
		switch m.state {
		case Outside:
			if c == '<' {
				flushVisible()
				m.state = MaybeOpen
				m.acc = append(m.acc[:0], c)
			} else {
				m.visible.WriteByte(c)
			}

		case MaybeOpen:
			m.acc = append(m.acc, c)
			s := string(m.acc)
			switch {
			case s == openSentinel:
				m.state = Inside
				m.acc = m.acc[:0]
			case strings.HasPrefix(openSentinel, s):
				// still a candidate, keep accumulating
			default:
				m.visible.WriteString(s[:len(s)-1])
				m.acc = m.acc[:0]
				m.state = Outside
				i-- // reprocess c from Outside
			}

		case Inside:
			if c == '<' {
				flushThinking()
				m.state = MaybeClose
				m.acc = append(m.acc[:0], c)
			} else {
				m.thinking.WriteByte(c)
			}

		case MaybeClose:
			m.acc = append(m.acc, c)
			s := string(m.acc)
			switch {
			case s == closeSentinel:
				m.state = Outside
				m.acc = m.acc[:0]
			case strings.HasPrefix(closeSentinel, s):
				// still a candidate, keep accumulating
			default:
				m.thinking.WriteString(s[:len(s)-1])
				m.acc = m.acc[:0]
				m.state = Inside
				i-- // reprocess c from Inside
			}
		}
	}

	flushVisible()
	flushThinking()
	return events
}

// Close flushes any accumulator left dangling at stream end — a
// half-open tag is emitted as whichever segment it started from — and
// resets the machine to Outside.
func (m *Machine) Close() []Event {
	var events []Event

	if len(m.acc) > 0 {
		switch m.state {
		case MaybeOpen:
			m.visible.WriteString(string(m.acc))
		case MaybeClose:
			m.thinking.WriteString(string(m.acc))
		}
		m.acc = m.acc[:0]
	}

	if m.visible.Len() > 0 {
		events = append(events, Event{Content: m.visible.String()})
		m.visible.Reset()
	}
	if m.thinking.Len() > 0 {
		events = append(events, Event{Thinking: true, Content: m.thinking.String()})
		m.thinking.Reset()
	}

	m.state = Outside
	return events
}
