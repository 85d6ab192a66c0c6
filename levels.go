package kolog

import (
	"fmt"
	"strings"

	"github.com/goccy/go-yaml"
)

// Level represents the severity of a log event.
type Level int

// Log levels, ordered by severity. The numeric spacing leaves room for
// custom intermediate levels.
const (
	LevelNotset   Level = 0
	LevelDebug    Level = 10
	LevelInfo     Level = 20
	LevelWarning  Level = 30
	LevelError    Level = 40
	LevelCritical Level = 50
)

var levelNames = map[Level]string{
	LevelNotset:   "NOTSET",
	LevelDebug:    "DEBUG",
	LevelInfo:     "INFO",
	LevelWarning:  "WARNING",
	LevelError:    "ERROR",
	LevelCritical: "CRITICAL",
}

var nameLevels = map[string]Level{
	"NOTSET":   LevelNotset,
	"DEBUG":    LevelDebug,
	"INFO":     LevelInfo,
	"WARNING":  LevelWarning,
	"WARN":     LevelWarning,
	"ERROR":    LevelError,
	"CRITICAL": LevelCritical,
	"FATAL":    LevelCritical,
}

// String returns the canonical name of the level.
func (l Level) String() string {
	if name, ok := levelNames[l]; ok {
		return name
	}
	return "NOTSET"
}

// Valid reports whether l is one of the defined levels.
func (l Level) Valid() bool {
	_, ok := levelNames[l]
	return ok
}

// ParseLevel converts a level name into a Level. Aliases WARN and FATAL map
// to WARNING and CRITICAL.
func ParseLevel(name string) (Level, error) {
	lvl, ok := nameLevels[strings.ToUpper(strings.TrimSpace(name))]
	if !ok {
		return LevelNotset, NewConfigurationError("unknown log level `"+name+"`", "ParseLevel", nil)
	}
	return lvl, nil
}

// UnmarshalYAML accepts a level as a name ("DEBUG", case-insensitive, WARN
// and FATAL aliases included) or as a bare numeric value.
func (l *Level) UnmarshalYAML(data []byte) error {
	var v any
	if err := yaml.Unmarshal(data, &v); err != nil {
		return err
	}
	switch raw := v.(type) {
	case string:
		lvl, err := ParseLevel(raw)
		if err != nil {
			return err
		}
		*l = lvl
	case int:
		*l = Level(raw)
	case int64:
		*l = Level(raw)
	case uint64:
		*l = Level(raw)
	default:
		return NewConfigurationError(
			fmt.Sprintf("cannot decode `%v` as a log level", v), "Level", nil)
	}
	if !l.Valid() {
		return NewConfigurationError(
			fmt.Sprintf("cannot decode `%v` as a log level", v), "Level", nil)
	}
	return nil
}

// MarshalYAML renders the level by name.
func (l Level) MarshalYAML() ([]byte, error) {
	return []byte(l.String()), nil
}

// levelValue resolves the level recorded in a payload. Missing or malformed
// values resolve to NOTSET, which never filters anything out.
func levelValue(v any) Level {
	switch lv := v.(type) {
	case Level:
		return lv
	case string:
		if lvl, err := ParseLevel(lv); err == nil {
			return lvl
		}
	case int:
		if Level(lv).Valid() {
			return Level(lv)
		}
	}
	return LevelNotset
}
