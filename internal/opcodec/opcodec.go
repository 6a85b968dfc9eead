// Package opcodec encodes and decodes closed tagged operation vocabularies.
// The wire shape is a flat JSON object whose "op" member names the variant:
//
//	{"op": "split_clip", "clip_id": "clip_1", "split_ms": 500}
package opcodec

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/heimdex/heimdex-editor/internal/issues"
)

const tagKey = "op"

// Op is one variant of a vocabulary.
type Op interface {
	Name() string
	Validate() error
}

// Registry maps variant names to constructors for a vocabulary.
type Registry[T Op] map[string]func() T

// Decode parses a single tagged operation. Unknown variants and unknown fields
// are rejected; Validate runs before returning.
func (r Registry[T]) Decode(raw json.RawMessage) (T, error) {
	var zero T

	var fields map[string]json.RawMessage
	if err := json.Unmarshal(raw, &fields); err != nil {
		return zero, fmt.Errorf("operation must be a JSON object: %w", err)
	}

	tagRaw, ok := fields[tagKey]
	if !ok {
		return zero, fmt.Errorf("missing %q", tagKey)
	}
	var name string
	if err := json.Unmarshal(tagRaw, &name); err != nil {
		return zero, fmt.Errorf("%q must be a string", tagKey)
	}

	ctor, ok := r[name]
	if !ok {
		return zero, fmt.Errorf("unknown operation %q", name)
	}

	delete(fields, tagKey)
	body, err := json.Marshal(fields)
	if err != nil {
		return zero, err
	}

	op := ctor()
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.DisallowUnknownFields()
	if err := dec.Decode(op); err != nil {
		return zero, fmt.Errorf("%s: %w", name, err)
	}
	if err := op.Validate(); err != nil {
		return zero, fmt.Errorf("%s: %w", name, err)
	}
	return op, nil
}

// DecodeBatch decodes every element; the first failure rejects the whole
// batch as SCHEMA_INVALID carrying the offending index.
func (r Registry[T]) DecodeBatch(raws []json.RawMessage) ([]T, error) {
	ops := make([]T, 0, len(raws))
	for i, raw := range raws {
		op, err := r.Decode(raw)
		if err != nil {
			return nil, &issues.Error{Code: issues.CodeSchemaInvalid, Index: i, Message: err.Error()}
		}
		ops = append(ops, op)
	}
	return ops, nil
}

// ParseBatch decodes a JSON array of operations.
func (r Registry[T]) ParseBatch(data []byte) ([]T, error) {
	var raws []json.RawMessage
	if err := json.Unmarshal(data, &raws); err != nil {
		return nil, &issues.Error{Code: issues.CodeSchemaInvalid, Index: -1, Message: "operations must be a JSON array"}
	}
	return r.DecodeBatch(raws)
}

// ValidateBatch re-runs shape validation on already constructed operations.
func ValidateBatch[T Op](ops []T) error {
	for i, op := range ops {
		if err := op.Validate(); err != nil {
			return &issues.Error{Code: issues.CodeSchemaInvalid, Index: i, Message: fmt.Sprintf("%s: %v", op.Name(), err)}
		}
	}
	return nil
}

// Encode renders an operation in its tagged wire form. Keys come out sorted,
// so identical operations always encode to identical bytes.
func Encode(op Op) (json.RawMessage, error) {
	body, err := json.Marshal(op)
	if err != nil {
		return nil, err
	}
	var fields map[string]any
	if err := json.Unmarshal(body, &fields); err != nil {
		return nil, err
	}
	if fields == nil {
		fields = map[string]any{}
	}
	fields[tagKey] = op.Name()
	return json.Marshal(fields)
}

// EncodeBatch renders operations as a JSON array.
func EncodeBatch[T Op](ops []T) (json.RawMessage, error) {
	raws := make([]json.RawMessage, 0, len(ops))
	for _, op := range ops {
		raw, err := Encode(op)
		if err != nil {
			return nil, err
		}
		raws = append(raws, raw)
	}
	return json.Marshal(raws)
}
