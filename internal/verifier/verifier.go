// Package verifier is the top-level orchestration component (SPEC_FULL.md
// §4.J): it owns one Decider and SMT subprocess per method, drives
// produce(precondition) → execute body → consume(postcondition), and
// aggregates the resulting per-method outcomes into a Report. Grounded on
// the teacher-adjacent theRebelliousNerd-codenerd's errgroup-based parallel
// gatherer (internal/campaign/intelligence_gatherer.go): an errgroup.Group
// bounded by SetLimit, a mutex-guarded results slice, each unit of work
// wrapped so one failure doesn't cancel its siblings.
package verifier

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/aledsdavies/symbex/internal/ast"
	"github.com/aledsdavies/symbex/internal/config"
	"github.com/aledsdavies/symbex/internal/consumer"
	"github.com/aledsdavies/symbex/internal/decider"
	"github.com/aledsdavies/symbex/internal/obslog"
	"github.com/aledsdavies/symbex/internal/producer"
	"github.com/aledsdavies/symbex/internal/qp"
	"github.com/aledsdavies/symbex/internal/smt"
	"github.com/aledsdavies/symbex/internal/state"
	"github.com/aledsdavies/symbex/internal/term"
	"github.com/aledsdavies/symbex/internal/verror"
)

// Step is one statement of a method's trivial straight-line body: a variable
// assignment translated as a path condition assumption. The surface
// language's full statement set (loops, calls, branching statements) is an
// external collaborator's concern (spec.md §1 Non-goals); this is the
// minimal deterministic stand-in SPEC_FULL.md §6 calls for, sufficient to
// make the §8 scenarios concrete.
type Step struct {
	// Assign, if non-empty, binds Name to Value in the store.
	Assign string
	Value  term.Term

	// Assume, if non-nil, is asserted as a path condition unconditionally
	// (used to encode a straight-line if-branch's guard already resolved to
	// taken).
	Assume *term.Term
}

// Method is one method of the program under verification.
type Method struct {
	Name          string
	Formals       map[string]term.Term // formal name -> fresh symbolic value
	Precondition  ast.Assertion
	Body          []Step
	Postcondition ast.Assertion
}

// Program is the full input to Verify: every method of one source file.
type Program struct {
	Methods []Method
}

// Outcome classifies a method's overall result for reporting and exit-code
// purposes, independent of state.ResultKind's finer CPS-traversal semantics.
type Outcome int

const (
	OutcomeVerified Outcome = iota
	OutcomeFailed
	OutcomePartial // solver timeout/unknown was treated as assumed-success
	OutcomeError   // a programmer/dependency/prover-interaction error aborted the method
)

func (o Outcome) String() string {
	switch o {
	case OutcomeVerified:
		return "verified"
	case OutcomeFailed:
		return "failed"
	case OutcomePartial:
		return "partial"
	case OutcomeError:
		return "error"
	default:
		return "unknown"
	}
}

// MethodResult is the recorded outcome of verifying one method.
type MethodResult struct {
	Name     string
	Outcome  Outcome
	Result   state.VerificationResult
	Duration time.Duration
	Err      error
}

// Report is the aggregate result of a Verify call.
type Report struct {
	RunID   string
	Methods []MethodResult
}

// ExitCode implements spec.md §6's exit-code rule: 0 if no method failed or
// errored, 1 otherwise. A solver that cannot be started is recorded as that
// method's OutcomeError, so it also yields 1; no code path returns any other
// exit code.
func (r *Report) ExitCode() int {
	for _, m := range r.Methods {
		if m.Outcome == OutcomeFailed || m.Outcome == OutcomeError {
			return 1
		}
	}
	return 0
}

// Verify runs every method of program concurrently, bounded by
// cfg.MaxParallelMethods, and returns the aggregate Report. Its error return
// is always nil: every per-method problem, including a solver binary that
// cannot be started (a DEPENDENCY_MISSING error in MethodResult.Err), is
// recorded in the Report instead.
func Verify(ctx context.Context, program Program, cfg *config.Config) (*Report, error) {
	log := obslog.For("verifier")
	runID := uuid.NewString()[:8]
	log.Infow("starting verification run", "run_id", runID, "methods", len(program.Methods))

	report := &Report{RunID: runID, Methods: make([]MethodResult, len(program.Methods))}

	eg, egCtx := errgroup.WithContext(ctx)
	if cfg.MaxParallelMethods > 0 {
		eg.SetLimit(cfg.MaxParallelMethods)
	}

	var mu sync.Mutex
	for i, m := range program.Methods {
		i, m := i, m
		eg.Go(func() error {
			result := verifyMethod(egCtx, runID, m, cfg)
			mu.Lock()
			report.Methods[i] = result
			mu.Unlock()
			return nil
		})
	}
	// errgroup.Go's error return is unused here: a single method's failure
	// is data (a MethodResult), not a reason to cancel its siblings, so
	// verifyMethod never returns a non-nil error and eg.Wait never observes
	// one. It is still waited on to block until every goroutine completes.
	_ = eg.Wait()

	log.Infow("verification run complete", "run_id", runID, "exit_code", report.ExitCode())
	return report, nil
}

func verifyMethod(ctx context.Context, runID string, m Method, cfg *config.Config) MethodResult {
	log := obslog.For("verifier")
	start := time.Now()

	driver := smt.New(smt.Options{
		Executable: cfg.Z3Exe,
		Args:       cfg.Z3Args,
		Mode:       assertionModeFrom(cfg.AssertionMode),
		Logger:     obslog.For("smt"),
	})
	if err := driver.Start(ctx); err != nil {
		log.Errorw("solver failed to start", "method", m.Name, "error", err)
		return MethodResult{Name: m.Name, Outcome: OutcomeError, Err: err, Duration: time.Since(start)}
	}
	defer driver.Stop()

	dec := decider.New(driver)
	st := state.New()
	for name, val := range m.Formals {
		st.Store = st.Store.Bind(name, val)
	}

	opts := splitOptionsFrom(cfg)
	snapshotFn := producer.FreshSnapshotFn()

	result := producer.Produce(ctx, dec, st, m.Precondition, snapshotFn, opts, func(afterPre *state.State, _ term.Term) state.VerificationResult {
		afterBody := runBody(dec, afterPre, m.Body)
		return consumer.Consume(ctx, dec, afterBody, m.Postcondition, opts, func(_ *state.State, snap term.Term) state.VerificationResult {
			return state.Success(snap)
		})
	})

	outcome := OutcomeVerified
	switch {
	case result.Kind == state.ResultFailure && result.Cause != nil && result.Cause.GetType() == verror.ErrProgrammer:
		outcome = OutcomeError
	case result.IsFailure():
		outcome = OutcomeFailed
	case st.PartialVerification:
		outcome = OutcomePartial
	}

	log.Infow("method verified", "method", m.Name, "outcome", outcome.String())
	return MethodResult{Name: m.Name, Outcome: outcome, Result: result, Duration: time.Since(start)}
}

// runBody assumes each Step's binding/guard in sequence; it never fails on
// its own (a straight-line assumption is always inhaled into the path
// conditions, never checked), matching spec.md §6's "trivial straight-line
// executor" scope.
func runBody(dec *decider.Decider, st *state.State, body []Step) *state.State {
	cur := st
	for _, step := range body {
		next := cur.Copy()
		if step.Assign != "" {
			next.Store = next.Store.Bind(step.Assign, step.Value)
		}
		if step.Assume != nil {
			_ = dec.Assume(*step.Assume)
		}
		cur = next
	}
	return cur
}

// splitOptionsFrom translates the quantified-chunk supporter's share of cfg
// into the qp package's own option type, so qp never has to import config.
func splitOptionsFrom(cfg *config.Config) qp.SplitOptions {
	return qp.SplitOptions{
		PreferMostRecent: !cfg.DisableChunkOrderHeuristics,
		Triggers:         !cfg.DisableISCTriggers,
		SplitTimeout:     cfg.SplitTimeout,
	}
}

func assertionModeFrom(mode string) smt.AssertionMode {
	if mode == "soft-constraint" {
		return smt.SoftConstraintMode
	}
	return smt.PushPopMode
}
