package observability

import (
	"fmt"
	"runtime/debug"
)

// RecoverPanic recovers from a panic, logs it with its stack trace and stores it in *errp.
//
// Usage in defer statements:
//
//	func fetch() (err error) {
//	    defer observability.RecoverPanic(logger, "fetch views", &err)
//	    // ... code that might panic
//	}
//
// errp may be nil, in which case the panic is only logged.
func RecoverPanic(logger *Logger, context string, errp *error) {
	if r := recover(); r != nil {
		logger.WithField("panic", fmt.Sprint(r)).
			WithField("stack", string(debug.Stack())).
			WithField("context", context).
			Error("PANIC recovered")
		if errp != nil {
			*errp = fmt.Errorf("panic in %s: %v", context, r)
		}
	}
}
