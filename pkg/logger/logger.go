package logger

import (
	"fmt"
	"os"
	"sort"
	"strings"
	"sync"
	"time"
)

type Level int

const (
	LevelDebug Level = iota
	LevelInfo
	LevelWarn
	LevelError
)

var (
	mu    sync.Mutex
	level = LevelInfo
	out   = os.Stderr
)

// SetLevel sets the minimum level from a config string ("debug", "info",
// "warn", "error"). Unknown values keep the default.
func SetLevel(name string) {
	mu.Lock()
	defer mu.Unlock()
	switch strings.ToLower(name) {
	case "debug":
		level = LevelDebug
	case "info":
		level = LevelInfo
	case "warn", "warning":
		level = LevelWarn
	case "error":
		level = LevelError
	}
}

func levelTag(l Level) string {
	switch l {
	case LevelDebug:
		return "DBG"
	case LevelInfo:
		return "INF"
	case LevelWarn:
		return "WRN"
	default:
		return "ERR"
	}
}

func logf(l Level, component, msg string, fields map[string]interface{}) {
	mu.Lock()
	defer mu.Unlock()
	if l < level {
		return
	}

	var b strings.Builder
	b.WriteString(time.Now().Format("2006-01-02 15:04:05"))
	b.WriteString(" ")
	b.WriteString(levelTag(l))
	b.WriteString(" [")
	b.WriteString(component)
	b.WriteString("] ")
	b.WriteString(msg)

	if len(fields) > 0 {
		keys := make([]string, 0, len(fields))
		for k := range fields {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			fmt.Fprintf(&b, " %s=%v", k, fields[k])
		}
	}

	fmt.Fprintln(out, b.String())
}

func DebugC(component, msg string) { logf(LevelDebug, component, msg, nil) }
func InfoC(component, msg string)  { logf(LevelInfo, component, msg, nil) }
func WarnC(component, msg string)  { logf(LevelWarn, component, msg, nil) }
func ErrorC(component, msg string) { logf(LevelError, component, msg, nil) }

func DebugCF(component, msg string, fields map[string]interface{}) {
	logf(LevelDebug, component, msg, fields)
}

func InfoCF(component, msg string, fields map[string]interface{}) {
	logf(LevelInfo, component, msg, fields)
}

func WarnCF(component, msg string, fields map[string]interface{}) {
	logf(LevelWarn, component, msg, fields)
}

func ErrorCF(component, msg string, fields map[string]interface{}) {
	logf(LevelError, component, msg, fields)
}
