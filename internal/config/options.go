package config

import (
	"fmt"
	"time"
)

// OptString returns opts[key] when it is a string, otherwise "".
func OptString(opts map[string]any, key string) string {
	s, _ := opts[key].(string)
	return s
}

// OptFloat returns opts[key] as a float64. YAML integers and floats are both
// accepted. ok is false when the key is absent or not numeric.
func OptFloat(opts map[string]any, key string) (v float64, ok bool) {
	switch x := opts[key].(type) {
	case float64:
		return x, true
	case int:
		return float64(x), true
	case int64:
		return float64(x), true
	}
	return 0, false
}

// OptDuration returns opts[key] as a duration. Strings are parsed with
// [time.ParseDuration] ("120s", "1m30s"); bare numbers are seconds. ok is
// false when the key is absent. A malformed value is an error.
func OptDuration(opts map[string]any, key string) (d time.Duration, ok bool, err error) {
	v, present := opts[key]
	if !present || v == nil {
		return 0, false, nil
	}
	switch x := v.(type) {
	case string:
		d, err := time.ParseDuration(x)
		if err != nil {
			return 0, false, fmt.Errorf("config: option %s: %w", key, err)
		}
		return d, true, nil
	case int:
		return time.Duration(x) * time.Second, true, nil
	case int64:
		return time.Duration(x) * time.Second, true, nil
	case float64:
		return time.Duration(x * float64(time.Second)), true, nil
	}
	return 0, false, fmt.Errorf("config: option %s: unsupported duration value %v (%T)", key, v, v)
}
