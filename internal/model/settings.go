package model

import "maps"

// Settings is the user's preference record: a flat map of setting name to
// JSON-compatible value.
type Settings map[string]any

// Clone returns a shallow copy. Values are treated as immutable.
func (s Settings) Clone() Settings {
	if s == nil {
		return Settings{}
	}
	return maps.Clone(s)
}
