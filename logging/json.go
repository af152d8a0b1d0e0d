package logging

import "encoding/json"

// jsonCompact renders m as compact JSON for Debugw's writer-backed Logger.
// encoding/json sorts map keys, so output is deterministic across calls.
func jsonCompact(m map[string]interface{}) string {
	b, err := json.Marshal(m)
	if err != nil {
		return "{}"
	}

	return string(b)
}
