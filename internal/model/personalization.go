// internal/model/personalization.go
package model

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
)

// Personalization is the per-recipient key/value record consumed by the renderer.
type Personalization map[string]string

func (p Personalization) Value() (driver.Value, error) {
	if p == nil {
		return "{}", nil
	}
	b, err := json.Marshal(map[string]string(p))
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

func (p *Personalization) Scan(src any) error {
	var raw []byte
	switch v := src.(type) {
	case nil:
		*p = Personalization{}
		return nil
	case string:
		raw = []byte(v)
	case []byte:
		raw = v
	default:
		return fmt.Errorf("personalization: unsupported type %T", src)
	}
	if len(raw) == 0 {
		*p = Personalization{}
		return nil
	}
	out := Personalization{}
	if err := json.Unmarshal(raw, &out); err != nil {
		return fmt.Errorf("personalization: %w", err)
	}
	*p = out
	return nil
}

// Merge returns a copy of p overlaid with extra. Keys already in p win.
func (p Personalization) Merge(extra map[string]string) Personalization {
	out := Personalization{}
	for k, v := range extra {
		out[k] = v
	}
	for k, v := range p {
		out[k] = v
	}
	return out
}
