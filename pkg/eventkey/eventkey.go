// Package eventkey extracts the correlation key from a bus payload.
//
// Producers on the platform bus emit either a JSON document carrying a "key"
// field or the bare key as text. Each encoding is a named Strategy; an
// Extractor tries them in declared order and accepts the first that applies.
package eventkey

import (
	"encoding/json"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/downfa11-org/go-itest/pkg/common"
)

// Strategy interprets a payload in one encoding. ok=false with a nil error
// means the encoding does not apply and the next strategy should be tried.
type Strategy interface {
	Name() string
	Extract(payload []byte) (key string, ok bool, err error)
}

// StructuredField reads a string field from a JSON object payload.
type StructuredField struct {
	Field string
}

func (s StructuredField) Name() string { return "structured:" + s.field() }

func (s StructuredField) field() string {
	if s.Field == "" {
		return "key"
	}
	return s.Field
}

func (s StructuredField) Extract(payload []byte) (string, bool, error) {
	var doc any
	if err := json.Unmarshal(payload, &doc); err != nil {
		return "", false, nil
	}

	obj, isObj := doc.(map[string]any)
	if !isObj {
		return "", false, fmt.Errorf("%w: structured payload is %T, not an object", common.ErrMalformedEvent, doc)
	}
	raw, present := obj[s.field()]
	if !present {
		return "", false, fmt.Errorf("%w: structured payload has no %q field", common.ErrMalformedEvent, s.field())
	}
	key, isString := raw.(string)
	if !isString {
		return "", false, fmt.Errorf("%w: field %q is %T, not a string", common.ErrMalformedEvent, s.field(), raw)
	}
	return key, true, nil
}

// RawText treats the whole payload as the key when it is valid UTF-8.
type RawText struct{}

func (RawText) Name() string { return "raw-text" }

func (RawText) Extract(payload []byte) (string, bool, error) {
	if !utf8.Valid(payload) {
		return "", false, nil
	}
	return string(payload), true, nil
}

// Extractor applies strategies in order; exactly one interpretation wins.
type Extractor struct {
	Strategies []Strategy
}

// Default tries the structured "key" field first and falls back to raw text.
func Default() Extractor {
	return Extractor{Strategies: []Strategy{StructuredField{Field: "key"}, RawText{}}}
}

// Extract returns the key and the name of the strategy that produced it.
func (e Extractor) Extract(payload []byte) (string, string, error) {
	for _, s := range e.Strategies {
		key, ok, err := s.Extract(payload)
		if err != nil {
			return "", s.Name(), err
		}
		if ok {
			return key, s.Name(), nil
		}
	}
	return "", "", fmt.Errorf("%w: no strategy accepted %d bytes", common.ErrMalformedEvent, len(payload))
}

// Matches is the correlation test: the key must end with the id.
func Matches(key, id string) bool {
	return strings.HasSuffix(key, id)
}
