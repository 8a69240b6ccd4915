package block

import "fmt"

// Config is a block instance's authored configuration, as decoded from
// the patch document. Typed getters apply defaults and normalize the
// numeric Go types CUE decoding produces.
type Config map[string]any

// Float returns the named config value as float64, or def when absent.
func (c Config) Float(key string, def float64) float64 {
	v, ok := c[key]
	if !ok {
		return def
	}
	switch n := v.(type) {
	case float64:
		return n
	case float32:
		return float64(n)
	case int:
		return float64(n)
	case int32:
		return float64(n)
	case int64:
		return float64(n)
	default:
		return def
	}
}

// Int returns the named config value as int, or def when absent or
// non-integral.
func (c Config) Int(key string, def int) int {
	v, ok := c[key]
	if !ok {
		return def
	}
	switch n := v.(type) {
	case int:
		return n
	case int32:
		return int(n)
	case int64:
		return int(n)
	case float64:
		if n == float64(int64(n)) {
			return int(n)
		}
	}
	return def
}

// String returns the named config value as string, or def when absent.
func (c Config) String(key, def string) string {
	if v, ok := c[key].(string); ok {
		return v
	}
	return def
}

// Bool returns the named config value as bool, or def when absent.
func (c Config) Bool(key string, def bool) bool {
	if v, ok := c[key].(bool); ok {
		return v
	}
	return def
}

// Require returns the raw value or an error naming the missing key.
// Lowering uses this for config a block cannot default.
func (c Config) Require(key string) (any, error) {
	v, ok := c[key]
	if !ok {
		return nil, fmt.Errorf("required config key %q missing", key)
	}
	return v, nil
}
