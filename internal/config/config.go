// Package config loads the verifier's runtime configuration from CLI flags
// and environment overrides (SPEC_FULL.md §4.K). The teacher's CLI
// (cmd/devcmd/main.go) parses everything by hand off the standard flag
// package with no env-var layer; this package follows cobra/pflag instead,
// since cmd/symbex is a cobra command and pflag.FlagSet is what its
// Flags() exposes.
//
// ideModeAdvanced and enablePredicateTriggersOnInhale are intentionally not
// exposed here; SPEC_FULL.md's Non-goals section narrows both out (no
// IDE-facing API surface, no quantified-predicate support) so there is
// nothing in this module for either flag to control.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/pflag"
	"go.uber.org/multierr"
)

// Config is the full set of knobs spec.md §6 names for one verification run.
type Config struct {
	// Z3Exe is the solver executable to launch. Overridable by the Z3_EXE
	// environment variable even when a --z3-exe flag default was compiled in
	// (spec.md §6: "env override allowed").
	Z3Exe string

	// Z3Args are extra arguments appended to every solver invocation
	// (repeatable --z3-arg flag).
	Z3Args []string

	// Z3Timeout is read from --z3-timeout and stored here. Nothing passes it
	// on to the decider or the driver: routine check-sat queries use
	// decider.DefaultTimeout whatever this field holds.
	Z3Timeout time.Duration

	// SplitTimeout bounds the quantified-chunk supporter's in-loop
	// exact-mode depleted-check and injectivity query (spec.md §6: "ms for
	// the in-loop depleted check"). The final permission-sufficiency
	// must-check deliberately does not use this budget; an unresolved
	// in-loop check already falls through to that must-check rather than
	// being treated as success, so it runs against the decider's own
	// default timeout instead.
	SplitTimeout time.Duration

	// AssertionMode selects how the decider's Assert calls communicate the
	// negated goal to the driver: "push-pop" or "soft-constraint".
	AssertionMode string

	// DisableChunkOrderHeuristics turns off the heap's preference for
	// matching a receiver against the most recently added chunk first.
	DisableChunkOrderHeuristics bool

	// DisableISCTriggers drops the source assertion's triggers from the
	// axioms the quantified-chunk supporter emits, leaving those foralls
	// without triggers. No trigger is inferred in either setting.
	DisableISCTriggers bool

	// MaxParallelMethods bounds the verifier's errgroup concurrency across
	// independent methods (SPEC_FULL.md §4.J).
	MaxParallelMethods int

	// Verbose selects development-mode (debug-level, human-readable) logging
	// over the default production JSON encoder.
	Verbose bool
}

// Defaults returns the Config a bare `symbex verify` invocation should use.
func Defaults() *Config {
	return &Config{
		Z3Exe:         "z3",
		Z3Args:        []string{"-in", "-smt2"},
		Z3Timeout:     10 * time.Second,
		SplitTimeout:  30 * time.Second,
		AssertionMode: "push-pop",
		MaxParallelMethods: 4,
	}
}

// RegisterFlags binds every Config field to a flag on fs, seeded with
// Defaults().
func RegisterFlags(fs *pflag.FlagSet) {
	d := Defaults()
	fs.String("z3-exe", d.Z3Exe, "solver executable to launch")
	fs.StringArray("z3-arg", d.Z3Args, "extra argument passed to the solver (repeatable)")
	fs.Duration("z3-timeout", d.Z3Timeout, "per-query timeout (stored only; queries use a fixed 10s default)")
	fs.Duration("split-timeout", d.SplitTimeout, "timeout for quantified-chunk injectivity and in-loop depleted checks")
	fs.String("assertion-mode", d.AssertionMode, "push-pop or soft-constraint")
	fs.Bool("disable-chunk-order-heuristics", d.DisableChunkOrderHeuristics, "disable most-recent-chunk-first receiver matching")
	fs.Bool("disable-isc-triggers", d.DisableISCTriggers, "omit triggers from quantified-permission axioms")
	fs.Int("max-parallel-methods", d.MaxParallelMethods, "maximum number of methods verified concurrently")
	fs.BoolP("verbose", "v", d.Verbose, "enable development-mode debug logging")
}

// Load reads fs (already parsed by the caller) into a Config, applying the
// Z3_EXE environment variable over whatever --z3-exe resolved to. Every
// flag read is attempted even after an earlier one fails, so a caller who
// misconfigures several flags at once sees every resulting error in one
// report instead of just the first (multierr.Combine, as go.uber.org/zap's
// own sibling package is meant to be used: accumulate, then report once).
func Load(fs *pflag.FlagSet) (*Config, error) {
	cfg := &Config{}
	var errs error
	var err error

	if cfg.Z3Exe, err = fs.GetString("z3-exe"); err != nil {
		errs = multierr.Append(errs, fmt.Errorf("z3-exe: %w", err))
	}
	if cfg.Z3Args, err = fs.GetStringArray("z3-arg"); err != nil {
		errs = multierr.Append(errs, fmt.Errorf("z3-arg: %w", err))
	}
	if cfg.Z3Timeout, err = fs.GetDuration("z3-timeout"); err != nil {
		errs = multierr.Append(errs, fmt.Errorf("z3-timeout: %w", err))
	}
	if cfg.SplitTimeout, err = fs.GetDuration("split-timeout"); err != nil {
		errs = multierr.Append(errs, fmt.Errorf("split-timeout: %w", err))
	}
	if cfg.AssertionMode, err = fs.GetString("assertion-mode"); err != nil {
		errs = multierr.Append(errs, fmt.Errorf("assertion-mode: %w", err))
	}
	if cfg.DisableChunkOrderHeuristics, err = fs.GetBool("disable-chunk-order-heuristics"); err != nil {
		errs = multierr.Append(errs, fmt.Errorf("disable-chunk-order-heuristics: %w", err))
	}
	if cfg.DisableISCTriggers, err = fs.GetBool("disable-isc-triggers"); err != nil {
		errs = multierr.Append(errs, fmt.Errorf("disable-isc-triggers: %w", err))
	}
	if cfg.MaxParallelMethods, err = fs.GetInt("max-parallel-methods"); err != nil {
		errs = multierr.Append(errs, fmt.Errorf("max-parallel-methods: %w", err))
	}
	if cfg.Verbose, err = fs.GetBool("verbose"); err != nil {
		errs = multierr.Append(errs, fmt.Errorf("verbose: %w", err))
	}
	if errs != nil {
		return nil, fmt.Errorf("config: %w", errs)
	}

	if env := os.Getenv("Z3_EXE"); env != "" {
		cfg.Z3Exe = env
	}

	if cfg.AssertionMode != "push-pop" && cfg.AssertionMode != "soft-constraint" {
		return nil, fmt.Errorf("config: assertion-mode must be \"push-pop\" or \"soft-constraint\", got %q", cfg.AssertionMode)
	}

	return cfg, nil
}

// Z3LogFile returns the file name the driver for method id should write its
// .smt2 transcript to. The name embeds both the run ID and the method ID so
// concurrent methods never collide; it carries no directory component.
func Z3LogFile(runID, methodID string) string {
	return fmt.Sprintf("symbex-%s-%s.smt2", runID, methodID)
}
