// Package frame incrementally decodes NDJSON-framed backend responses: one
// JSON object per newline-terminated line. It is restartable the same way
// tagmachine is — state survives across arbitrarily-sized reads, so a
// caller can feed it whatever byte counts an io.Reader happens to hand
// back without reassembling lines itself.
package frame

import (
	"bytes"
	"encoding/json"
	"fmt"
	"unicode/utf8"
)

// Parser holds the bytes of a not-yet-terminated line across Feed calls.
// A Parser is not safe for concurrent use.
type Parser struct {
	buf []byte
}

// NewParser returns an empty Parser.
func NewParser() *Parser {
	return &Parser{}
}

// Feed appends chunk to the pending buffer and returns every complete
// frame it now contains, in input order. A malformed frame — invalid
// UTF-8 or invalid JSON — aborts immediately with an error; frames
// already extracted before the bad one are still returned, so a caller
// can drain what arrived before failing the stream.
func (p *Parser) Feed(chunk []byte) ([]json.RawMessage, error) {
	p.buf = append(p.buf, chunk...)

	var frames []json.RawMessage
	for {
		idx := bytes.IndexByte(p.buf, '\n')
		if idx < 0 {
			break
		}
		line := p.buf[:idx]
		p.buf = p.buf[idx+1:]

		frame, ok, err := decodeLine(line)
		if err != nil {
			return frames, err
		}
		if ok {
			frames = append(frames, frame)
		}
	}
	return frames, nil
}

// Close flushes any trailing bytes left in the buffer at stream end —
// a backend is not required to terminate its last frame with a newline
// — and resets the Parser. It returns nil if nothing is pending.
func (p *Parser) Close() (json.RawMessage, error) {
	line := p.buf
	p.buf = nil

	frame, ok, err := decodeLine(line)
	if err != nil || !ok {
		return nil, err
	}
	return frame, nil
}

func decodeLine(line []byte) (json.RawMessage, bool, error) {
	line = bytes.TrimSpace(line)
	if len(line) == 0 {
		return nil, false, nil
	}
	if !utf8.Valid(line) {
		return nil, false, fmt.Errorf("frame: invalid UTF-8 in frame: %w", &malformedFrame{line: line, reason: "invalid UTF-8"})
	}
	if !json.Valid(line) {
		return nil, false, fmt.Errorf("frame: malformed JSON frame: %w", &malformedFrame{line: line, reason: "invalid JSON"})
	}

	cp := make([]byte, len(line))
	copy(cp, line)
	return json.RawMessage(cp), true, nil
}

// malformedFrame carries the offending bytes so a caller can wrap it
// into a provider.ProtocolError without re-parsing the error string.
type malformedFrame struct {
	line   []byte
	reason string
}

func (m *malformedFrame) Error() string {
	return fmt.Sprintf("%s: %s", m.reason, truncate(m.line, 200))
}

// Line returns the raw bytes of the frame that failed to decode.
func (m *malformedFrame) Line() []byte { return m.line }

// Reason returns a short human-readable cause, e.g. "invalid JSON".
func (m *malformedFrame) Reason() string { return m.reason }

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}
