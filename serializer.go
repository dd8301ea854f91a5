package stash

import "git.tcp.direct/tcp.direct/stash/escape"

// Serializer converts caller values to and from their stored form. Both
// directions receive and return JSON-shaped values; what lands in the
// document is whatever Serialize produced.
type Serializer interface {
	Serialize(v any) (any, error)
	Deserialize(v any) (any, error)
}

// SerializerFuncs adapts a pair of functions into a Serializer. A nil
// function passes values through untouched.
type SerializerFuncs struct {
	SerializeFunc   func(any) (any, error)
	DeserializeFunc func(any) (any, error)
}

// Serialize implements Serializer.
func (sf SerializerFuncs) Serialize(v any) (any, error) {
	if sf.SerializeFunc == nil {
		return v, nil
	}
	return sf.SerializeFunc(v)
}

// Deserialize implements Serializer.
func (sf SerializerFuncs) Deserialize(v any) (any, error) {
	if sf.DeserializeFunc == nil {
		return v, nil
	}
	return sf.DeserializeFunc(v)
}

type escapeSerializer struct{}

func (escapeSerializer) Serialize(v any) (any, error) {
	return escape.Escape(v), nil
}

func (escapeSerializer) Deserialize(v any) (any, error) {
	return escape.Unescape(v), nil
}

// DefaultSerializer returns the serializer applied when no WithSerializer
// option is given: the escape pair, which keeps arbitrary map keys legal
// for datastores that reject dots and dollar signs in field names.
func DefaultSerializer() Serializer {
	return escapeSerializer{}
}
