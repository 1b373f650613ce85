// Package obslog provides the per-subsystem structured loggers used across
// the verifier (SPEC_FULL.md §4.L). The teacher shells out and writes
// directly to stderr with no logging library of its own; this package is
// grounded instead on theRebelliousNerd-codenerd's cmd/nerd/main.go zap
// bootstrap, which builds a single *zap.Logger from zap.NewProductionConfig
// (or NewDevelopmentConfig under --verbose) and hands out named children.
package obslog

import (
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var (
	mu       sync.Mutex
	base     *zap.Logger
	verbose  bool
	inited   bool
	children = map[string]*zap.SugaredLogger{}
)

// Init builds the base logger. Must be called once before For is used;
// calling it again resets the cached per-category children so a later
// verbosity change takes effect.
func Init(verboseMode bool) error {
	mu.Lock()
	defer mu.Unlock()

	var cfg zap.Config
	if verboseMode {
		cfg = zap.NewDevelopmentConfig()
		cfg.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
	} else {
		cfg = zap.NewProductionConfig()
	}

	l, err := cfg.Build()
	if err != nil {
		return err
	}
	base = l
	verbose = verboseMode
	inited = true
	children = map[string]*zap.SugaredLogger{}
	return nil
}

// For returns the logger for category ("decider", "smt", "producer",
// "consumer", "qp", "verifier"), lazily falling back to a default
// zap.NewProduction logger (or a no-op logger if that cannot be built) if
// Init was never called (keeps package tests that exercise
// decider/qp/producer/consumer in isolation from needing to call Init).
func For(category string) *zap.SugaredLogger {
	mu.Lock()
	defer mu.Unlock()

	if !inited {
		l, err := zap.NewProduction()
		if err != nil {
			l = zap.NewNop()
		}
		base = l
		inited = true
	}
	if sl, ok := children[category]; ok {
		return sl
	}
	sl := base.Named(category).Sugar()
	children[category] = sl
	return sl
}

// Verbose reports whether Init was last called with verbose logging on.
func Verbose() bool {
	mu.Lock()
	defer mu.Unlock()
	return verbose
}

// Sync flushes any buffered log entries; call before process exit.
func Sync() error {
	mu.Lock()
	defer mu.Unlock()
	if base == nil {
		return nil
	}
	return base.Sync()
}
