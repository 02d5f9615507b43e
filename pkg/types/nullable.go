package types

import (
	"bytes"
	"encoding/json"
)

// Nullable records whether a JSON field was present and whether it was null.
// Absent: Set=false. Explicit null: Set=true, Value=nil.
type Nullable[T any] struct {
	Set   bool
	Value *T
}

// UnmarshalJSON implements json.Unmarshaler. It only runs for present fields.
func (n *Nullable[T]) UnmarshalJSON(data []byte) error {
	n.Set = true
	trimmed := bytes.TrimSpace(data)
	if bytes.Equal(trimmed, []byte("null")) {
		n.Value = nil
		return nil
	}
	var v T
	if err := json.Unmarshal(trimmed, &v); err != nil {
		return err
	}
	n.Value = &v
	return nil
}

// IsNull reports an explicit null.
func (n Nullable[T]) IsNull() bool {
	return n.Set && n.Value == nil
}
