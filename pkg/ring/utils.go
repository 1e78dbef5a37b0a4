package ring

import (
	"bytes"
	"fmt"
	"runtime"
)

func Panicf(format string, args ...interface{}) {
	panic(fmt.Sprintf(format, args...))
}

func RecoverValueString(value interface{}) (msg string) {
	switch v := value.(type) {
	case error:
		msg = v.Error()
	case string:
		msg = v
	default:
		msg = fmt.Sprintf("%#v", v)
	}

	return
}

// RecoverError converts a value returned by recover into an error carrying
// the stack trace of the panic.
func RecoverError(value interface{}) error {
	msg := RecoverValueString(value)
	trace := StackTrace(10)

	return fmt.Errorf("panic: %s\n%s", msg, trace)
}

func StackTrace(depth int) string {
	pc := make([]uintptr, depth)

	// Skip runtime.Callers, StackTrace and the recover helper
	nbFrames := runtime.Callers(3, pc)
	pc = pc[:nbFrames]

	var buf bytes.Buffer

	frames := runtime.CallersFrames(pc)
	for {
		frame, more := frames.Next()

		fmt.Fprintf(&buf, "%s\n", frame.Function)
		fmt.Fprintf(&buf, "  %s:%d\n", frame.File, frame.Line)

		if !more {
			break
		}
	}

	return buf.String()
}
