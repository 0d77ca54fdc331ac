package jsonrpc

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"sync"
)

// Decoder turns arbitrary chunks of a byte stream into classified messages.
// Incomplete lines are buffered until their newline arrives. A line that
// fails to parse goes to the parse-error callback and decoding continues.
type Decoder struct {
	onMessage    func(*Message)
	onParseError func(line []byte, err error)
	buf          []byte
}

// NewDecoder returns a Decoder. onParseError may be nil.
func NewDecoder(onMessage func(*Message), onParseError func(line []byte, err error)) *Decoder {
	return &Decoder{onMessage: onMessage, onParseError: onParseError}
}

// Write feeds a chunk. It never fails; it satisfies io.Writer so a Decoder
// can sit behind io.Copy.
func (d *Decoder) Write(chunk []byte) (int, error) {
	d.buf = append(d.buf, chunk...)
	for {
		i := bytes.IndexByte(d.buf, '\n')
		if i < 0 {
			break
		}
		line := d.buf[:i]
		d.buf = d.buf[i+1:]
		d.dispatch(line)
	}
	if len(d.buf) == 0 {
		d.buf = nil
	}
	return len(chunk), nil
}

// Flush treats whatever is buffered as a final line. Call it at EOF.
func (d *Decoder) Flush() {
	if len(d.buf) == 0 {
		return
	}
	line := d.buf
	d.buf = nil
	d.dispatch(line)
}

// Buffered reports how many bytes are waiting for a newline.
func (d *Decoder) Buffered() int {
	return len(d.buf)
}

func (d *Decoder) dispatch(line []byte) {
	line = bytes.TrimSpace(line)
	if len(line) == 0 {
		return
	}
	// The chunk buffer is reused, so hand out a private copy.
	owned := make([]byte, len(line))
	copy(owned, line)

	msg, err := Classify(owned)
	if err != nil {
		if d.onParseError != nil {
			d.onParseError(owned, err)
		}
		return
	}
	if d.onMessage != nil {
		d.onMessage(msg)
	}
}

// ReadFrom pumps r into the decoder until EOF or a read error. The final
// unterminated line, if any, is flushed. io.EOF is reported as nil.
func (d *Decoder) ReadFrom(r io.Reader) (int64, error) {
	var total int64
	chunk := make([]byte, 32*1024)
	for {
		n, err := r.Read(chunk)
		if n > 0 {
			total += int64(n)
			_, _ = d.Write(chunk[:n])
		}
		if err != nil {
			d.Flush()
			if errors.Is(err, io.EOF) {
				return total, nil
			}
			return total, err
		}
	}
}

// Encoder writes one compact JSON document per line. Each message is a
// single Write call under a mutex, so concurrent senders never interleave.
// Once a write fails the Encoder stops writing and drops later messages.
type Encoder struct {
	w      io.Writer
	mu     sync.Mutex
	broken bool
}

// NewEncoder returns an Encoder writing to w.
func NewEncoder(w io.Writer) *Encoder {
	return &Encoder{w: w}
}

// Encode serializes v and writes it with a trailing newline. A value that
// cannot be marshalled is an error; an unwritable stream is not.
func (e *Encoder) Encode(v interface{}) error {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return err
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.broken || e.w == nil {
		return nil
	}
	if _, err := e.w.Write(buf.Bytes()); err != nil {
		e.broken = true
	}
	return nil
}

// Writable reports whether the last write succeeded and Close was not called.
func (e *Encoder) Writable() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return !e.broken && e.w != nil
}

// Close marks the stream unwritable. Later messages are dropped.
func (e *Encoder) Close() {
	e.mu.Lock()
	e.broken = true
	e.mu.Unlock()
}
