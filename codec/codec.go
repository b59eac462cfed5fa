// Package codec encodes message payloads and snapshot headers.
//
// Agents address engine commands as JSON message payloads; snapshots record
// the name of the codec that wrote their header so a reader can pick the
// matching one with ByName.
package codec

import (
	"bytes"
	"errors"
	"fmt"
)

// Codec encodes and decodes values. Implementations must be safe for
// concurrent use.
type Codec interface {
	Marshal(v any) ([]byte, error)
	Unmarshal(data []byte, v any) error
	Name() string
}

// Default is the codec used for command payloads unless configured otherwise.
var Default Codec = GoJSON{}

var builtin = []Codec{JSON{}, GoJSON{}}

// ByName returns a built-in codec by its stable name.
func ByName(name string) (Codec, bool) {
	for _, c := range builtin {
		if c.Name() == name {
			return c, true
		}
	}
	return nil, false
}

// ErrNotObject is returned by DecodeRow for payloads that are not objects.
var ErrNotObject = errors.New("codec: payload is not an object")

// DecodeRow decodes an agent row payload. An empty or null payload is an
// empty row.
func DecodeRow(c Codec, data []byte) (map[string]any, error) {
	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return map[string]any{}, nil
	}
	if data[0] != '{' && !bytes.Equal(data, []byte("null")) {
		return nil, ErrNotObject
	}
	var row map[string]any
	if err := c.Unmarshal(data, &row); err != nil {
		return nil, err
	}
	if row == nil {
		row = map[string]any{}
	}
	return row, nil
}

// MustMarshal marshals v with c, or Default when c is nil, and panics on
// error.
func MustMarshal(c Codec, v any) []byte {
	if c == nil {
		c = Default
	}
	b, err := c.Marshal(v)
	if err != nil {
		panic(fmt.Errorf("codec %s: %w", c.Name(), err))
	}
	return b
}
