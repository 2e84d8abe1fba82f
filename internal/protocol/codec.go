package protocol

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
)

// DefaultMaxLineSize bounds a single envelope when no limit is configured.
const DefaultMaxLineSize = 64 * 1024

var (
	// ErrLineTooLong is returned when an envelope exceeds the decoder limit.
	// The stream cannot be resynchronised afterwards.
	ErrLineTooLong = errors.New("protocol: line too long")

	// ErrMalformed wraps JSON errors for a single line. The stream is still
	// usable and the caller may read the next line.
	ErrMalformed = errors.New("protocol: malformed envelope")
)

// Decoder reads newline-delimited JSON envelopes.
type Decoder struct {
	sc *bufio.Scanner
}

// NewDecoder creates a Decoder reading from r. Lines longer than maxLine
// bytes fail with ErrLineTooLong; maxLine <= 0 selects DefaultMaxLineSize.
func NewDecoder(r io.Reader, maxLine int) *Decoder {
	if maxLine <= 0 {
		maxLine = DefaultMaxLineSize
	}
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, min(maxLine, 4096)), maxLine)
	return &Decoder{sc: sc}
}

// Decode reads the next line into v. It returns io.EOF at a clean end of
// stream.
func (d *Decoder) Decode(v any) error {
	if !d.sc.Scan() {
		err := d.sc.Err()
		switch {
		case err == nil:
			return io.EOF
		case errors.Is(err, bufio.ErrTooLong):
			return ErrLineTooLong
		default:
			return err
		}
	}

	line := bytes.TrimSpace(d.sc.Bytes())
	if err := json.Unmarshal(line, v); err != nil {
		return fmt.Errorf("%w: %w", ErrMalformed, err)
	}
	return nil
}

// Encoder writes newline-delimited JSON envelopes. It is not safe for
// concurrent use.
type Encoder struct {
	w io.Writer
}

// NewEncoder creates an Encoder writing to w.
func NewEncoder(w io.Writer) *Encoder {
	return &Encoder{w: w}
}

// Encode writes v followed by a newline in a single Write call.
func (e *Encoder) Encode(v any) error {
	data, err := Marshal(v)
	if err != nil {
		return err
	}
	_, err = e.w.Write(data)
	return err
}

// Marshal returns the wire form of v, including the trailing newline.
func Marshal(v any) ([]byte, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("marshal envelope: %w", err)
	}
	return append(data, '\n'), nil
}

// Unmarshal decodes a single envelope, tolerating surrounding whitespace.
func Unmarshal(data []byte, v any) error {
	if err := json.Unmarshal(bytes.TrimSpace(data), v); err != nil {
		return fmt.Errorf("%w: %w", ErrMalformed, err)
	}
	return nil
}
