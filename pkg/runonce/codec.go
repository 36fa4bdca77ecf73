package runonce

import "encoding/json"

// Codec converts values to and from the blob representation stored in the
// record's request and response columns.
type Codec[T any] interface {
	Encode(v T) (string, error)
	Decode(s string) (T, error)
}

// JSONCodec is the default codec. A nil value round-trips as the literal
// "null", so a persistent request whose preprocessed input is nil is stored
// and rehydrated as such.
type JSONCodec[T any] struct{}

func (JSONCodec[T]) Encode(v T) (string, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func (JSONCodec[T]) Decode(s string) (T, error) {
	var v T
	if err := json.Unmarshal([]byte(s), &v); err != nil {
		var zero T
		return zero, err
	}
	return v, nil
}
