package protocol

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
)

var (
	ErrUnknownEvent = errors.New("unknown event")
	ErrMissingField = errors.New("missing required field")
	ErrMalformed    = errors.New("malformed payload")
)

// Codec reads and writes Event frames as JSON.
type Codec struct{}

func NewCodec() *Codec {
	return &Codec{}
}

func (c *Codec) Encode(w io.Writer, ev Event) error {
	return json.NewEncoder(w).Encode(ev)
}

func (c *Codec) Decode(r io.Reader) (Event, error) {
	var ev Event
	if err := json.NewDecoder(r).Decode(&ev); err != nil {
		return Event{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if ev.Name == "" {
		return Event{}, fmt.Errorf("%w: event", ErrMissingField)
	}
	return ev, nil
}

func (c *Codec) EncodeToBytes(ev Event) ([]byte, error) {
	var buf bytes.Buffer
	if err := c.Encode(&buf, ev); err != nil {
		return nil, err
	}
	return bytes.TrimRight(buf.Bytes(), "\n"), nil
}

func (c *Codec) DecodeFromBytes(data []byte) (Event, error) {
	return c.Decode(bytes.NewReader(data))
}
