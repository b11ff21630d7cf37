package materializer

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/BurntSushi/toml"
)

// maxMergeDepth bounds recursion when layering overrides onto a template.
const maxMergeDepth = 30

func mergeTables(dst, src map[string]interface{}) error {
	return mergeRecurse(dst, src, 0)
}

func mergeRecurse(dst, src map[string]interface{}, depth int) error {
	if depth > maxMergeDepth {
		return fmt.Errorf("max recursive merge depth of %d exceeded", maxMergeDepth)
	}

	for key, srcValue := range src {
		dstTable, dstIsTable := dst[key].(map[string]interface{})
		srcTable, srcIsTable := srcValue.(map[string]interface{})
		if dstIsTable && srcIsTable {
			if err := mergeRecurse(dstTable, srcTable, depth+1); err != nil {
				return err
			}
			continue
		}
		dst[key] = cloneValue(srcValue)
	}
	return nil
}

func cloneTree(in map[string]interface{}) map[string]interface{} {
	out := make(map[string]interface{}, len(in))
	for key, value := range in {
		out[key] = cloneValue(value)
	}
	return out
}

func cloneValue(value interface{}) interface{} {
	switch v := value.(type) {
	case map[string]interface{}:
		return cloneTree(v)
	case []map[string]interface{}:
		out := make([]map[string]interface{}, len(v))
		for i, table := range v {
			out[i] = cloneTree(table)
		}
		return out
	case []interface{}:
		out := make([]interface{}, len(v))
		for i, item := range v {
			out[i] = cloneValue(item)
		}
		return out
	default:
		return v
	}
}

// parseOverride accepts a TOML document, falling back to a JSON object.
func parseOverride(raw string) (map[string]interface{}, error) {
	var tomlTable map[string]interface{}
	tomlErr := toml.Unmarshal([]byte(raw), &tomlTable)
	if tomlErr == nil {
		return tomlTable, nil
	}

	decoder := json.NewDecoder(bytes.NewReader([]byte(raw)))
	decoder.UseNumber()
	var jsonTable map[string]interface{}
	jsonErr := decoder.Decode(&jsonTable)
	if jsonErr == nil {
		return normalizeJSON(jsonTable).(map[string]interface{}), nil
	}

	return nil, fmt.Errorf("neither TOML (%v) nor JSON (%v)", tomlErr, jsonErr)
}

// normalizeJSON turns json.Number into int64 or float64 so the TOML encoder
// writes integers as integers.
func normalizeJSON(value interface{}) interface{} {
	switch v := value.(type) {
	case map[string]interface{}:
		for key, item := range v {
			v[key] = normalizeJSON(item)
		}
		return v
	case []interface{}:
		for i, item := range v {
			v[i] = normalizeJSON(item)
		}
		return v
	case json.Number:
		if i, err := v.Int64(); err == nil {
			return i
		}
		if f, err := v.Float64(); err == nil {
			return f
		}
		return v.String()
	default:
		return v
	}
}
