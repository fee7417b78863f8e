package domain

import (
	"fmt"
	"strings"
)

// KeyMode selects how object keys are laid out.
type KeyMode string

const (
	// KeyModeFlat stores every document at the top level: <region>[-<sub>].json.
	KeyModeFlat KeyMode = "flat"
	// KeyModePartitioned stores under a Hive-style partition: type=<category>/<region>[-<sub>].json.
	KeyModePartitioned KeyMode = "partitioned"
	// KeyModeCategory stores under a plain category directory: <category>/<region>[-<sub>].json.
	KeyModeCategory KeyMode = "category"
)

// ParseKeyMode validates a key mode name.
func ParseKeyMode(s string) (KeyMode, error) {
	switch m := KeyMode(strings.ToLower(strings.TrimSpace(s))); m {
	case KeyModeFlat, KeyModePartitioned, KeyModeCategory:
		return m, nil
	default:
		return "", fmt.Errorf("unknown key mode %q", s)
	}
}

// KeyScheme derives deterministic object keys so that a re-run overwrites
// the previous run's documents.
type KeyScheme struct {
	Mode   KeyMode
	Prefix string // optional, without trailing slash
}

// Key returns the object key for a region document.
func (s KeyScheme) Key(category, region, subRegion string) string {
	name := region
	if subRegion != "" {
		name = region + "-" + subRegion
	}
	name += ".json"

	switch s.Mode {
	case KeyModePartitioned:
		name = "type=" + category + "/" + name
	case KeyModeCategory:
		name = category + "/" + name
	}

	if p := strings.Trim(s.Prefix, "/"); p != "" {
		return p + "/" + name
	}
	return name
}
