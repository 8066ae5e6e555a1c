package datasource

import (
	"fmt"
	"strconv"
	"strings"
)

// Options is the generic connection map handed to adapter factories, as
// built by the process configuration or decoded from JSON or YAML.
type Options map[string]any

// String returns the non-empty string value of key.
func (o Options) String(key string) (string, bool) {
	s, ok := o[key].(string)
	return s, ok && s != ""
}

// RequireString returns the value of the first key present, or an error
// naming the first key.
func (o Options) RequireString(keys ...string) (string, error) {
	for _, k := range keys {
		if s, ok := o.String(k); ok {
			return s, nil
		}
	}
	return "", fmt.Errorf("%s is required", keys[0])
}

// Int accepts any integer type, JSON numbers and numeric strings.
func (o Options) Int(key string) (int, bool) {
	switch v := o[key].(type) {
	case int:
		return v, true
	case int32:
		return int(v), true
	case int64:
		return int(v), true
	case float64:
		return int(v), true
	case string:
		n, err := strconv.Atoi(strings.TrimSpace(v))
		return n, err == nil
	}
	return 0, false
}

// Bool accepts booleans and the strings "true", "false" and "strict";
// "strict" counts as true.
func (o Options) Bool(key string) (bool, bool) {
	switch v := o[key].(type) {
	case bool:
		return v, true
	case string:
		switch strings.ToLower(v) {
		case "true", "strict":
			return true, true
		case "false":
			return false, true
		}
	}
	return false, false
}
