package logger

import "strings"

// BadgerLogger adapts the package logger to badger.Logger. Badger's info
// chatter (compactions, value log GC) is demoted to DEBUG.
type BadgerLogger struct{}

// Badger returns a logger suitable for badger.Options.WithLogger.
func Badger() BadgerLogger {
	return BadgerLogger{}
}

func (BadgerLogger) Errorf(format string, v ...any) {
	log(LevelError, "badger: "+trimNewline(format), v...)
}

func (BadgerLogger) Warningf(format string, v ...any) {
	log(LevelWarn, "badger: "+trimNewline(format), v...)
}

func (BadgerLogger) Infof(format string, v ...any) {
	log(LevelDebug, "badger: "+trimNewline(format), v...)
}

func (BadgerLogger) Debugf(format string, v ...any) {
	log(LevelDebug, "badger: "+trimNewline(format), v...)
}

func trimNewline(format string) string {
	return strings.TrimSuffix(format, "\n")
}
