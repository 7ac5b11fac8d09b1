package logging

import (
	"fmt"
	"strings"
)

// Level is a Datadog log status.
type Level int

const (
	LevelEmergency Level = iota
	LevelAlert
	LevelCritical
	LevelError
	LevelWarning
	LevelNotice
	LevelInfo
	LevelDebug
)

func (l Level) String() string {
	switch l {
	case LevelEmergency:
		return "emergency"
	case LevelAlert:
		return "alert"
	case LevelCritical:
		return "critical"
	case LevelError:
		return "error"
	case LevelWarning:
		return "warning"
	case LevelNotice:
		return "notice"
	case LevelInfo:
		return "info"
	case LevelDebug:
		return "debug"
	default:
		return "unknown"
	}
}

// ParseLevel maps a level name, or one of its usual aliases, to a Level.
func ParseLevel(s string) (Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "emergency", "emerg", "panic":
		return LevelEmergency, nil
	case "alert":
		return LevelAlert, nil
	case "critical", "crit", "fatal":
		return LevelCritical, nil
	case "error", "err":
		return LevelError, nil
	case "warning", "warn":
		return LevelWarning, nil
	case "notice":
		return LevelNotice, nil
	case "info", "information", "informational":
		return LevelInfo, nil
	case "debug", "trace":
		return LevelDebug, nil
	}
	return LevelInfo, fmt.Errorf("unknown log level %q", s)
}
