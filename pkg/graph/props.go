package graph

import (
	"bytes"
	"encoding/json"
	"fmt"
)

func marshalProps(props map[string]any) ([]byte, error) {
	if props == nil {
		props = map[string]any{}
	}
	b, err := json.Marshal(props)
	if err != nil {
		return nil, fmt.Errorf("marshal properties: %w", err)
	}
	return b, nil
}

// unmarshalProps keeps numbers as json.Number so epoch-millisecond
// timestamps round-trip without float conversion.
func unmarshalProps(b []byte) (map[string]any, error) {
	props := map[string]any{}
	if len(b) == 0 {
		return props, nil
	}
	dec := json.NewDecoder(bytes.NewReader(b))
	dec.UseNumber()
	if err := dec.Decode(&props); err != nil {
		return nil, fmt.Errorf("unmarshal properties: %w", err)
	}
	return props, nil
}

func mergeProps(current, updates map[string]any) map[string]any {
	merged := copyProps(current)
	for k, v := range updates {
		if v == nil {
			delete(merged, k)
			continue
		}
		merged[k] = v
	}
	return merged
}
