package logging

// discardLogger is a no-op logger, useful for tests and benchmarks.
type discardLogger struct{}

// Discard is the singleton discard logger.
var Discard Logger = discardLogger{}

func (discardLogger) Errorf(format string, args ...any) {}
func (discardLogger) Warnf(format string, args ...any)  {}
func (discardLogger) Infof(format string, args ...any)  {}
func (discardLogger) Debugf(format string, args ...any) {}
