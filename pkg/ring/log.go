package ring

type Logger interface {
	Debug(int, string, ...interface{})
	Info(string, ...interface{})
	Error(string, ...interface{})
}

// DiscardLogger is a Logger ignoring every message.
type DiscardLogger struct{}

func (DiscardLogger) Debug(int, string, ...interface{}) {}
func (DiscardLogger) Info(string, ...interface{})       {}
func (DiscardLogger) Error(string, ...interface{})      {}
