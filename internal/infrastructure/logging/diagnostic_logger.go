// Package logging adapts go-log structured loggers to the host's diagnostic
// sink.
package logging

import (
	"fmt"
	"sort"

	logging "github.com/ipfs/go-log/v2"
)

// SubsystemName is the go-log subsystem the host logs under
const SubsystemName = "pluginhost"

// EventLogger is the subset of go-log's sugared logger the sink writes to
type EventLogger interface {
	Errorw(msg string, keysAndValues ...interface{})
	Warnw(msg string, keysAndValues ...interface{})
	Infow(msg string, keysAndValues ...interface{})
	Debugw(msg string, keysAndValues ...interface{})
}

// DiagnosticLogger implements ports.DiagnosticSink on top of go-log
type DiagnosticLogger struct {
	log EventLogger
}

// NewDiagnosticLogger creates a sink writing to the pluginhost subsystem at
// the given level (debug, info, warn, error)
func NewDiagnosticLogger(level string) (*DiagnosticLogger, error) {
	log := logging.Logger(SubsystemName)
	if level != "" {
		if err := logging.SetLogLevel(SubsystemName, level); err != nil {
			return nil, fmt.Errorf("invalid log level %q: %w", level, err)
		}
	}
	return &DiagnosticLogger{log: log}, nil
}

// NewDiagnosticLoggerWith creates a sink writing to log
func NewDiagnosticLoggerWith(log EventLogger) *DiagnosticLogger {
	return &DiagnosticLogger{log: log}
}

// LogError logs err with message and the given fields
func (l *DiagnosticLogger) LogError(err error, message string, fields map[string]interface{}) {
	kv := keysAndValues(fields)
	if err != nil {
		kv = append(kv, "error", err.Error())
	}
	l.log.Errorw(message, kv...)
}

// LogWarning logs a warning
func (l *DiagnosticLogger) LogWarning(message string, fields map[string]interface{}) {
	l.log.Warnw(message, keysAndValues(fields)...)
}

// LogInfo logs an informational message
func (l *DiagnosticLogger) LogInfo(message string, fields map[string]interface{}) {
	l.log.Infow(message, keysAndValues(fields)...)
}

// LogDebug logs a debug message
func (l *DiagnosticLogger) LogDebug(message string, fields map[string]interface{}) {
	l.log.Debugw(message, keysAndValues(fields)...)
}

// keysAndValues flattens fields in key order
func keysAndValues(fields map[string]interface{}) []interface{} {
	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	kv := make([]interface{}, 0, len(keys)*2+2)
	for _, k := range keys {
		kv = append(kv, k, fields[k])
	}
	return kv
}
