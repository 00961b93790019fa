package models

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
)

// UnmarshalJSON accepts a plain array or the legacy object form
// {"0": 0.12, "1": -0.03, ...} written by older trainers.
func (d *Descriptor) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) > 0 && data[0] == '{' {
		var obj map[string]float32
		if err := json.Unmarshal(data, &obj); err != nil {
			return fmt.Errorf("decode descriptor object: %w", err)
		}
		keys := make([]int, 0, len(obj))
		for k := range obj {
			i, err := strconv.Atoi(k)
			if err != nil {
				return fmt.Errorf("decode descriptor object: non-numeric key %q", k)
			}
			keys = append(keys, i)
		}
		sort.Ints(keys)
		out := make(Descriptor, len(keys))
		for i, k := range keys {
			if k != i {
				return fmt.Errorf("decode descriptor object: missing component %d", i)
			}
			out[i] = obj[strconv.Itoa(k)]
		}
		*d = out
		return nil
	}

	var arr []float32
	if err := json.Unmarshal(data, &arr); err != nil {
		return fmt.Errorf("decode descriptor: %w", err)
	}
	*d = arr
	return nil
}
