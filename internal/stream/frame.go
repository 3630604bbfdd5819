// Package stream implements the line-framed answer stream. Each line is
// "<tag>:<json>", where tag is a decimal increment index, "e" for an error
// or "d" for the end of the answer. Only the first colon separates tag and
// payload, so payloads may contain colons, quotes and escaped newlines.
package stream

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
)

const (
	tagError = "e"
	tagDone  = "d"
)

var (
	ErrMalformedFrame = errors.New("malformed stream frame")
	// ErrTruncated means the stream ended without a done or error frame.
	ErrTruncated = errors.New("stream ended without done frame")
)

type FrameKind int

const (
	FrameText FrameKind = iota
	FrameError
	FrameDone
)

type Frame struct {
	Kind  FrameKind
	Index int
	Text  string
}

type donePayload struct {
	FinishReason string `json:"finish_reason"`
}

// EncodeText renders the index-th text increment.
func EncodeText(index int, text string) []byte {
	payload, _ := json.Marshal(text)
	return frameLine(strconv.Itoa(index), payload)
}

func EncodeError(message string) []byte {
	payload, _ := json.Marshal(message)
	return frameLine(tagError, payload)
}

func EncodeDone() []byte {
	payload, _ := json.Marshal(donePayload{FinishReason: "stop"})
	return frameLine(tagDone, payload)
}

func frameLine(tag string, payload []byte) []byte {
	line := make([]byte, 0, len(tag)+len(payload)+2)
	line = append(line, tag...)
	line = append(line, ':')
	line = append(line, payload...)
	return append(line, '\n')
}

// ParseFrame decodes a single line without its trailing newline.
func ParseFrame(line string) (Frame, error) {
	tag, payload, ok := strings.Cut(line, ":")
	if !ok || tag == "" {
		return Frame{}, fmt.Errorf("%w: %q", ErrMalformedFrame, line)
	}

	switch tag {
	case tagDone:
		var d donePayload
		if err := json.Unmarshal([]byte(payload), &d); err != nil {
			return Frame{}, fmt.Errorf("%w: done payload: %v", ErrMalformedFrame, err)
		}
		return Frame{Kind: FrameDone}, nil
	case tagError:
		var msg string
		if err := json.Unmarshal([]byte(payload), &msg); err != nil {
			return Frame{}, fmt.Errorf("%w: error payload: %v", ErrMalformedFrame, err)
		}
		return Frame{Kind: FrameError, Text: msg}, nil
	}

	index, err := strconv.Atoi(tag)
	if err != nil || index < 0 {
		return Frame{}, fmt.Errorf("%w: tag %q", ErrMalformedFrame, tag)
	}
	var text string
	if err := json.Unmarshal([]byte(payload), &text); err != nil {
		return Frame{}, fmt.Errorf("%w: text payload: %v", ErrMalformedFrame, err)
	}
	return Frame{Kind: FrameText, Index: index, Text: text}, nil
}

// Decoder reads frames from a stream one line at a time.
type Decoder struct {
	scanner *bufio.Scanner
	next    int
}

func NewDecoder(r io.Reader) *Decoder {
	s := bufio.NewScanner(r)
	s.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	return &Decoder{scanner: s}
}

// Next returns the next frame, or io.EOF once the input is exhausted.
// Text frames must arrive with consecutive indexes starting at 0.
func (d *Decoder) Next() (Frame, error) {
	for d.scanner.Scan() {
		line := strings.TrimRight(d.scanner.Text(), "\r")
		if line == "" {
			continue
		}
		f, err := ParseFrame(line)
		if err != nil {
			return Frame{}, err
		}
		if f.Kind == FrameText {
			if f.Index != d.next {
				return Frame{}, fmt.Errorf("%w: index %d, want %d", ErrMalformedFrame, f.Index, d.next)
			}
			d.next++
		}
		return f, nil
	}
	if err := d.scanner.Err(); err != nil {
		return Frame{}, err
	}
	return Frame{}, io.EOF
}

// StreamError is an error frame sent by the server.
type StreamError struct {
	Message string
}

func (e *StreamError) Error() string { return "stream aborted: " + e.Message }

// Accumulate reads the whole stream, calling onText with the running
// answer after every increment. It returns the full text once the done
// frame arrives.
func Accumulate(r io.Reader, onText func(full string)) (string, error) {
	dec := NewDecoder(r)
	var full strings.Builder
	for {
		f, err := dec.Next()
		if errors.Is(err, io.EOF) {
			return full.String(), ErrTruncated
		}
		if err != nil {
			return full.String(), err
		}
		switch f.Kind {
		case FrameText:
			full.WriteString(f.Text)
			if onText != nil {
				onText(full.String())
			}
		case FrameError:
			return full.String(), &StreamError{Message: f.Text}
		case FrameDone:
			return full.String(), nil
		}
	}
}
