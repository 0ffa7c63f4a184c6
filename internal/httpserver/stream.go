package httpserver

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"net/http"
)

// StreamEncoder writes a JSON document incrementally so that large result
// sets never sit in memory. Values are encoded one at a time and the
// response is flushed every flushEvery elements.
type StreamEncoder struct {
	w          io.Writer
	flusher    http.Flusher
	flushEvery int
	pending    int
	// one entry per open container: true until its first member is written
	first []bool
	err   error
}

// NewStreamEncoder wraps w. flushEvery <= 0 flushes only on Close.
func NewStreamEncoder(w io.Writer, flushEvery int) *StreamEncoder {
	e := &StreamEncoder{w: w, flushEvery: flushEvery}
	if f, ok := w.(http.Flusher); ok {
		e.flusher = f
	}
	return e
}

// Err returns the first write error.
func (e *StreamEncoder) Err() error {
	return e.err
}

func (e *StreamEncoder) write(p []byte) {
	if e.err != nil {
		return
	}
	_, e.err = e.w.Write(p)
}

func (e *StreamEncoder) separator() {
	if len(e.first) == 0 {
		return
	}
	top := len(e.first) - 1
	if e.first[top] {
		e.first[top] = false
		return
	}
	e.write([]byte{','})
}

// OpenArray starts a JSON array at top level or as the value of Key.
func (e *StreamEncoder) OpenArray() error {
	e.write([]byte{'['})
	e.first = append(e.first, true)
	return e.err
}

// OpenObject starts a JSON object at top level or as the value of Key.
func (e *StreamEncoder) OpenObject() error {
	e.write([]byte{'{'})
	e.first = append(e.first, true)
	return e.err
}

// Close ends the innermost open container and flushes when the document is complete.
func (e *StreamEncoder) Close(closing byte) error {
	if len(e.first) == 0 {
		return errors.New("stream: no open container")
	}
	e.first = e.first[:len(e.first)-1]
	e.write([]byte{closing})
	if len(e.first) == 0 {
		e.flush()
	}
	return e.err
}

// CloseArray ends the innermost array.
func (e *StreamEncoder) CloseArray() error {
	return e.Close(']')
}

// CloseObject ends the innermost object.
func (e *StreamEncoder) CloseObject() error {
	return e.Close('}')
}

// Element appends v to the innermost array.
func (e *StreamEncoder) Element(v any) error {
	data, err := marshal(v)
	if err != nil {
		if e.err == nil {
			e.err = err
		}
		return e.err
	}
	e.separator()
	e.write(data)
	e.pending++
	if e.flushEvery > 0 && e.pending >= e.flushEvery {
		e.flush()
	}
	return e.err
}

// Key writes an object key; the next Open*/value call supplies its value.
func (e *StreamEncoder) Key(name string) error {
	key, err := json.Marshal(name)
	if err != nil {
		return err
	}
	e.separator()
	e.write(key)
	e.write([]byte{':'})
	return e.err
}

// Field writes a complete key/value member of the innermost object.
func (e *StreamEncoder) Field(name string, v any) error {
	data, err := marshal(v)
	if err != nil {
		if e.err == nil {
			e.err = err
		}
		return e.err
	}
	if err := e.Key(name); err != nil {
		return err
	}
	e.write(data)
	return e.err
}

func (e *StreamEncoder) flush() {
	e.pending = 0
	if e.err == nil && e.flusher != nil {
		e.flusher.Flush()
	}
}

func marshal(v any) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	if err := enc.Encode(v); err != nil {
		return nil, err
	}
	return bytes.TrimRight(buf.Bytes(), "\n"), nil
}
