// Package logger provides leveled logging for the whole binary.
package logger

import (
	"fmt"
	"log"
	"os"
	"strings"
)

// Level represents a logging level.
type Level int

const (
	DebugLevel Level = iota
	InfoLevel
	WarnLevel
	ErrorLevel
)

var (
	minLevel = InfoLevel
	out      = log.New(os.Stderr, "", log.LstdFlags|log.Lmicroseconds)
)

// ParseLevel maps a level name to a Level, defaulting to info.
func ParseLevel(s string) Level {
	switch strings.ToLower(s) {
	case "debug":
		return DebugLevel
	case "warn":
		return WarnLevel
	case "error":
		return ErrorLevel
	default:
		return InfoLevel
	}
}

// Init configures the default logger. A "text" format adds the caller's file
// and line to each record.
func Init(level string, format string) {
	minLevel = ParseLevel(level)
	flags := log.LstdFlags | log.Lmicroseconds
	if strings.ToLower(format) == "text" {
		flags |= log.Lshortfile
	}
	out = log.New(os.Stderr, "", flags)
}

func emit(l Level, tag, format string, args ...any) {
	if l < minLevel {
		return
	}
	_ = out.Output(3, fmt.Sprintf(tag+format, args...))
}

func Debug(format string, args ...any) { emit(DebugLevel, "[DEBUG] ", format, args...) }
func Info(format string, args ...any)  { emit(InfoLevel, "[INFO] ", format, args...) }
func Warn(format string, args ...any)  { emit(WarnLevel, "[WARN] ", format, args...) }
func Error(format string, args ...any) { emit(ErrorLevel, "[ERROR] ", format, args...) }

// Fatal logs at the highest severity and exits the process.
func Fatal(format string, args ...any) {
	_ = out.Output(3, fmt.Sprintf("[FATAL] "+format, args...))
	os.Exit(1)
}
