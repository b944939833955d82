// Package sse writes the server-sent event stream consumed by the chat
// front end.
package sse

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"

	"github.com/pkg/errors"
)

// Envelope types.
const (
	TypeAction = "action"
	TypeResult = "result"
	TypeDelta  = "delta"
)

// Named events.
const (
	EventDelta         = "delta"
	EventDeltaEncoding = "delta_encoding"
	EventError         = "error"
)

// DeltaEncodingVersion is announced once at the start of every stream.
const DeltaEncodingVersion = "v1"

// Encoder serialises events onto w and flushes after each one. It is not
// safe for concurrent use.
type Encoder struct {
	w   io.Writer
	buf bytes.Buffer
}

func NewEncoder(w io.Writer) *Encoder {
	return &Encoder{w: w}
}

type envelope struct {
	Type     string `json:"type"`
	Text     any    `json:"text"`
	Metadata string `json:"metadata,omitempty"`
}

type delta struct {
	V        string `json:"v"`
	Metadata string `json:"metadata,omitempty"`
}

type errorPayload struct {
	Error       string `json:"error"`
	Description string `json:"description"`
}

// Preamble announces the delta encoding version.
func (e *Encoder) Preamble() error {
	return e.Named(EventDeltaEncoding, DeltaEncodingVersion)
}

// Envelope writes an unnamed event carrying {type, text, metadata}. text is
// either a string or any JSON-encodable value.
func (e *Encoder) Envelope(typ string, text any, metadata string) error {
	return e.write("", envelope{Type: typ, Text: text, Metadata: metadata})
}

// Delta writes one incremental text fragment.
func (e *Encoder) Delta(fragment, metadata string) error {
	return e.Named(EventDelta, delta{V: fragment, Metadata: metadata})
}

// Error reports a failure after the stream has started.
func (e *Encoder) Error(code, description string) error {
	return e.Named(EventError, errorPayload{Error: code, Description: description})
}

// Named writes "event: <name>" followed by the JSON payload.
func (e *Encoder) Named(event string, payload any) error {
	return e.write(event, payload)
}

func (e *Encoder) write(event string, payload any) error {
	e.buf.Reset()
	if event != "" {
		e.buf.WriteString("event: ")
		e.buf.WriteString(event)
		e.buf.WriteByte('\n')
	}
	e.buf.WriteString("data: ")
	enc := json.NewEncoder(&e.buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(payload); err != nil {
		return errors.Wrap(err, "sse: encode payload")
	}
	// Encode terminates with a newline; one more ends the event.
	e.buf.WriteByte('\n')

	if _, err := e.w.Write(e.buf.Bytes()); err != nil {
		return errors.Wrap(err, "sse: write event")
	}
	return e.flush()
}

func (e *Encoder) flush() error {
	switch f := e.w.(type) {
	case http.Flusher:
		f.Flush()
	case interface{ Flush() error }:
		if err := f.Flush(); err != nil {
			return errors.Wrap(err, "sse: flush")
		}
	}
	return nil
}
