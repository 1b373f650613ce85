// Package decider layers path-condition bookkeeping, a triviality cache, and
// the tryOrFail retry discipline over an SMT driver (spec.md §4.C). It is
// the only component that talks to internal/smt directly; every other
// component asks the Decider to assume or assert on its behalf.
package decider

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/aledsdavies/symbex/internal/invariant"
	"github.com/aledsdavies/symbex/internal/smt"
	"github.com/aledsdavies/symbex/internal/term"
)

// DefaultTimeout bounds a single check-sat query absent an explicit one.
const DefaultTimeout = 10 * time.Second

var arpSequence atomic.Uint64

// Decider maintains the path-condition stack in lock-step with the
// underlying solver's push/pop scopes (testable property: "push/pop depth
// parity"). Its path conditions mirror exactly what has been Assume'd onto
// the solver, so it can answer cheap structural questions (the triviality
// cache) without a round trip.
type Decider struct {
	driver *smt.Driver

	// pathConditions[i] holds the conjuncts assumed since PushScope was
	// called for the i-th open scope; pathConditions[0] holds conjuncts
	// assumed before any scope was opened.
	pathConditions [][]term.Term

	// trivialTrue and trivialFalse record terms already proven true/false at
	// the current path condition, avoiding a repeat SMT query for a formula
	// the decider has already resolved (spec.md §4.C "triviality cache").
	trivialTrue  map[string]bool
	trivialFalse map[string]bool
}

// New wraps an already-started SMT driver.
func New(driver *smt.Driver) *Decider {
	invariant.NotNil(driver, "smt driver")
	return &Decider{
		driver:         driver,
		pathConditions: [][]term.Term{{}},
		trivialTrue:    map[string]bool{},
		trivialFalse:   map[string]bool{},
	}
}

// Depth returns the number of currently open scopes.
func (d *Decider) Depth() int {
	return len(d.pathConditions) - 1
}

// PushScope opens a new path-condition scope and a matching solver scope.
func (d *Decider) PushScope() error {
	if err := d.driver.PushScope(); err != nil {
		return err
	}
	d.pathConditions = append(d.pathConditions, nil)
	invariant.Invariant(d.Depth() == d.driver.Depth(), "decider depth %d diverged from driver depth %d", d.Depth(), d.driver.Depth())
	return nil
}

// PopScope closes the most recent scope, discarding its path conditions and
// invalidating any triviality-cache entries established inside it (those
// entries are no longer sound once the scope's assumptions are gone).
func (d *Decider) PopScope() error {
	invariant.Precondition(d.Depth() > 0, "PopScope called at depth 0")

	if err := d.driver.PopScope(); err != nil {
		return err
	}
	d.pathConditions = d.pathConditions[:len(d.pathConditions)-1]
	d.trivialTrue = map[string]bool{}
	d.trivialFalse = map[string]bool{}
	invariant.Invariant(d.Depth() == d.driver.Depth(), "decider depth %d diverged from driver depth %d", d.Depth(), d.driver.Depth())
	return nil
}

// InScope runs fn inside a pushed/popped scope, always popping even if fn
// returns an error or panics.
func (d *Decider) InScope(fn func() error) (err error) {
	if err := d.PushScope(); err != nil {
		return err
	}
	defer func() {
		if popErr := d.PopScope(); popErr != nil && err == nil {
			err = popErr
		}
	}()
	return fn()
}

// Assume records t as a path condition and sends it to the solver; a literal
// true is dropped without being sent or recorded. Assume never checks
// satisfiability; a caller that needs
// to know whether the path became infeasible should follow with Check.
func (d *Decider) Assume(t term.Term) error {
	if isTrivialBoolLit(t, true) {
		return nil
	}
	if err := d.driver.Assume(t); err != nil {
		return err
	}
	top := len(d.pathConditions) - 1
	d.pathConditions[top] = append(d.pathConditions[top], t)
	d.trivialTrue[key(t)] = true
	d.trivialFalse[key(term.Not(t))] = true
	return nil
}

// PathConditions returns every conjunct assumed across all open scopes, most
// deeply nested scope last.
func (d *Decider) PathConditions() []term.Term {
	var all []term.Term
	for _, scope := range d.pathConditions {
		all = append(all, scope...)
	}
	return all
}

// Assert reports whether t is entailed by the current path conditions,
// consulting the triviality cache before issuing an SMT query (spec.md §4.C:
// "assert vs assume distinction" - Assert never mutates path conditions).
func (d *Decider) Assert(ctx context.Context, t term.Term) (bool, error) {
	if isTrivialBoolLit(t, true) {
		return true, nil
	}
	if isTrivialBoolLit(t, false) {
		return false, nil
	}
	k := key(t)
	if d.trivialTrue[k] {
		return true, nil
	}
	if d.trivialFalse[k] {
		return false, nil
	}

	result, err := d.driver.CheckSatWithAssumption(ctx, term.Not(t), DefaultTimeout)
	if err != nil {
		return false, err
	}
	holds := result == smt.Unsat
	if holds {
		d.trivialTrue[k] = true
	}
	return holds, nil
}

// AssertWithTimeout is Assert with a caller-supplied timeout in place of
// DefaultTimeout, for queries that need a longer (or shorter) budget than a
// routine path-condition check — the quantified-chunk supporter's
// injectivity check and in-loop depleted check use this with the configured
// split timeout (its final sufficiency check uses Assert). It deliberately bypasses the
// triviality cache: an authoritative split-check result is specific to the
// candidate chunks on hand, not a fact about the ambient path conditions, so
// caching it would be unsound across different consume calls that happen to
// share a syntactically identical goal.
func (d *Decider) AssertWithTimeout(ctx context.Context, t term.Term, timeout time.Duration) (bool, error) {
	if isTrivialBoolLit(t, true) {
		return true, nil
	}
	if isTrivialBoolLit(t, false) {
		return false, nil
	}
	result, err := d.driver.CheckSatWithAssumption(ctx, term.Not(t), timeout)
	if err != nil {
		return false, err
	}
	return result == smt.Unsat, nil
}

// Check reports whether the current path conditions are still satisfiable.
// A caller that discovers Check returns false has found an infeasible path
// and should treat the branch as Unreachable rather than reporting a
// verification failure.
func (d *Decider) Check(ctx context.Context) (bool, error) {
	result, err := d.driver.CheckSat(ctx, DefaultTimeout)
	if err != nil {
		return false, err
	}
	return result != smt.Unsat, nil
}

// Fresh mints a new symbol of the given sort, declaring it to the solver.
func (d *Decider) Fresh(prefix string, sort term.Sort) (term.Term, error) {
	return d.driver.Fresh(prefix, nil, sort)
}

// FreshFunction mints a fresh uninterpreted function symbol, used for
// inverse functions and field-value/predicate-snap functions (component F).
func (d *Decider) FreshFunction(prefix string, argSorts []term.Sort, result term.Sort) (term.Term, error) {
	return d.driver.Fresh(prefix, argSorts, result)
}

// FreshARP mints a fresh abstract read permission variable: an uninterpreted
// Perm-sorted constant the decider additionally constrains to be strictly
// between 0 and the full permission, representing "some unspecified but
// positive fraction" (spec.md glossary, "abstract read permission").
func (d *Decider) FreshARP() (term.Term, error) {
	n := arpSequence.Add(1)
	v, err := d.Fresh(fmt.Sprintf("$k@%d", n), term.Perm)
	if err != nil {
		return term.Term{}, err
	}
	if err := d.Assume(term.IsPositive(v)); err != nil {
		return term.Term{}, err
	}
	if err := d.Assume(term.PermLess(v, term.FullPerm())); err != nil {
		return term.Term{}, err
	}
	return v, nil
}

// HeapConsolidator recompresses a heap, returning a new, semantically
// equivalent heap with fewer chunks. tryOrFail calls this when a consume
// fails on the first attempt, since a fragmented heap can make a provable
// permission transfer look infeasible to the solver (spec.md §9 Open
// Question: "heap restoration vs. heap-compressor side effects" resolved by
// requiring the compressor to return a new heap value rather than mutate in
// place, so the caller can discard it cleanly on a second failure).
type HeapConsolidator[H any] func(H) H

// TryOrFail runs attempt once; if it fails, consolidates the heap with
// consolidate and retries exactly once more before giving up. This is the
// decider's sole retry policy (spec.md §4.C "tryOrFail retry-with-heap-
// consolidation wrapper"). In the consumer only basic field access goes
// through it; predicate, quantified and magic-wand consumes are not retried.
func TryOrFail[H any](heap H, consolidate HeapConsolidator[H], attempt func(H) (bool, error)) (bool, H, error) {
	ok, err := attempt(heap)
	if err != nil {
		return false, heap, err
	}
	if ok {
		return true, heap, nil
	}

	consolidated := consolidate(heap)
	ok, err = attempt(consolidated)
	if err != nil {
		return false, consolidated, err
	}
	return ok, consolidated, nil
}

func isTrivialBoolLit(t term.Term, v bool) bool {
	return t.Kind == term.KindBoolLit && t.Lit.(bool) == v
}

// key computes a cache key for the triviality cache. Structural identity
// (not semantic equivalence) is the cache's soundness boundary: a cache hit
// only ever replaces a query the decider already proved sound to skip
// (spec.md §9 Open Question on cache soundness under branch conditions,
// resolved by disabling cross-branch reuse: PopScope clears both maps, so no
// entry survives into a sibling branch).
func key(t term.Term) string {
	return smtKeyOf(t)
}
