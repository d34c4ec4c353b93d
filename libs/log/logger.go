package log

import (
	"fmt"
)

const (
	// LogFormatPlain defines console-oriented colored output.
	LogFormatPlain string = "plain"
	// LogFormatText is an alias of the plain format.
	LogFormatText string = "text"
	// LogFormatJSON defines structured JSON output.
	LogFormatJSON string = "json"

	LogLevelDebug string = "debug"
	LogLevelInfo  string = "info"
	LogLevelWarn  string = "warn"
	LogLevelError string = "error"
)

// Logger is what any component of this repo should take to log with.
type Logger interface {
	Debug(msg string, keyVals ...interface{})
	Info(msg string, keyVals ...interface{})
	Error(msg string, keyVals ...interface{})

	With(keyVals ...interface{}) Logger
}

// Hexadecimal converts a []byte to a value that renders as uppercase
// hexadecimal when logged.
type Hexadecimal struct {
	b []byte
}

// Hex wraps b for hexadecimal log output.
func Hex(b []byte) Hexadecimal { return Hexadecimal{b: b} }

// String fulfills fmt.Stringer.
func (s Hexadecimal) String() string {
	return fmt.Sprintf("%X", s.b)
}
