package observability

import (
	"fmt"
	"runtime/debug"
)

// RecoverPanic recovers from a panic and logs it with structured logging
//
// Usage in defer statements:
//
//	func deliverEvent() {
//	    defer observability.RecoverPanic(logger, "webhook delivery")
//	    // ... code that might panic
//	}
//
// If a panic occurs it is recovered and logged at Error level with the panic
// value, the full stack trace, and the supplied context string. The panic is
// NOT re-raised, so a panicking worker goroutine does not take the control
// plane down with it.
func RecoverPanic(logger *Logger, context string) {
	if r := recover(); r != nil {
		logger.WithField("panic", r).
			WithField("stack", string(debug.Stack())).
			WithField("context", context).
			Error("PANIC recovered")
	}
}

// RecoverPanicWithCallback recovers from a panic, logs it, and then executes
// the callback. The callback runs only when a panic was actually recovered,
// which makes it the place to close result channels, release locks, or mark
// a provisioning run failed so waiters do not block forever.
//
//	func runStep() {
//	    defer observability.RecoverPanicWithCallback(logger, "provisioning step", func() {
//	        close(resultCh)
//	    })
//	    // ... code that might panic
//	}
func RecoverPanicWithCallback(logger *Logger, context string, callback func()) {
	if r := recover(); r != nil {
		logger.WithField("panic", r).
			WithField("stack", string(debug.Stack())).
			WithField("context", context).
			Error("PANIC recovered")
		if callback != nil {
			callback()
		}
	}
}

// MustRecover converts a recovered panic value to an error
//
//	func mergePayloads() (result map[string]interface{}, err error) {
//	    defer func() {
//	        if rerr := observability.MustRecover(recover()); rerr != nil {
//	            err = rerr
//	        }
//	    }()
//	    // ... code that might panic
//	    return merged, nil
//	}
//
// Returns nil when r is nil. The stack trace is not included in the error;
// use RecoverPanic when the trace needs to reach the logs.
func MustRecover(r interface{}) error {
	if r != nil {
		return fmt.Errorf("panic: %v", r)
	}
	return nil
}
