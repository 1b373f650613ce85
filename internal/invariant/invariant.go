// Package invariant provides contract assertions for the verifier.
//
// Assertions here are a force multiplier for discovering bugs: use
// Precondition/Postcondition to express function contracts, and Invariant for
// internal consistency checks such as the path-condition/SMT-stack depth
// equality or the chunk permission bound. All functions panic on violation —
// these are programmer errors (spec.md §7's "Programmer error" class), never
// user-facing verification failures.
package invariant

import (
	"context"
	"fmt"
	"reflect"
	"runtime"
)

// Precondition checks an input contract at function entry.
//
// Example:
//
//	func (d *Decider) PopScope() {
//	    invariant.Precondition(d.depth() > 0, "pop with empty path-condition stack")
//	    ...
//	}
func Precondition(condition bool, format string, args ...interface{}) {
	if !condition {
		fail("PRECONDITION", format, args...)
	}
}

// Postcondition checks an output contract before function return.
//
// Example:
//
//	func (h Heap) Consolidated() Heap {
//	    merged := mergeChunks(h)
//	    invariant.Postcondition(len(merged) <= len(h), "consolidation must not grow the heap")
//	    return merged
//	}
func Postcondition(condition bool, format string, args ...interface{}) {
	if !condition {
		fail("POSTCONDITION", format, args...)
	}
}

// Invariant checks an internal invariant during function execution.
//
// Example:
//
//	invariant.Invariant(len(d.pathConditions) == d.smtPushDepth, "path-condition depth must track SMT push depth")
func Invariant(condition bool, format string, args ...interface{}) {
	if !condition {
		fail("INVARIANT", format, args...)
	}
}

// NotNil panics if value is nil, including a typed nil such as (*Chunk)(nil).
func NotNil(value interface{}, name string) {
	if value == nil {
		fail("PRECONDITION", "%s must not be nil", name)
	}
	if isNilValue(value) {
		fail("PRECONDITION", "%s must not be nil", name)
	}
}

func isNilValue(value interface{}) bool {
	if value == nil {
		return true
	}
	v := reflect.ValueOf(value)
	switch v.Kind() {
	case reflect.Ptr, reflect.Interface, reflect.Slice, reflect.Map, reflect.Chan, reflect.Func:
		return v.IsNil()
	default:
		return false
	}
}

// InRange panics if value is outside [min, max].
func InRange(value, minVal, maxVal int, name string) {
	if value < minVal || value > maxVal {
		fail("PRECONDITION", "%s must be in range [%d, %d], got %d", name, minVal, maxVal, value)
	}
}

// Positive panics if value <= 0. Typically used after minting a fresh symbol
// counter or scope depth.
func Positive(value int, name string) {
	if value <= 0 {
		fail("POSTCONDITION", "%s must be positive, got %d", name, value)
	}
}

// ExpectNoError panics if err is not nil. Reserved for operations the
// state machine guarantees cannot fail, e.g. popping a scope that was just
// pushed in the same call.
func ExpectNoError(err error, msg string) {
	if err != nil {
		fail("POSTCONDITION", "%s must not fail: %v", msg, err)
	}
}

// ContextNotBackground panics if ctx is context.Background(). The only
// legitimate root context in this codebase is the one created by the
// verifier's top-level Verify call; every blocking SMT round-trip below it
// must receive a cancellable/timeout-bearing descendant.
func ContextNotBackground(ctx context.Context, location string) {
	if ctx == nil {
		fail("PRECONDITION", "%s: context must not be nil", location)
	}
	if ctx == context.Background() {
		fail("PRECONDITION", "%s: context must not be Background() - parent context required for cancellation", location)
	}
}

func fail(kind, format string, args ...interface{}) {
	pc := make([]uintptr, 10)
	n := runtime.Callers(3, pc)
	frames := runtime.CallersFrames(pc[:n])

	msg := fmt.Sprintf("%s VIOLATION: "+format, append([]interface{}{kind}, args...)...)
	if frame, ok := frames.Next(); ok {
		msg += fmt.Sprintf("\n  at %s:%d", frame.File, frame.Line)
	}
	panic(msg)
}
