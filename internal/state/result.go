package state

import (
	"github.com/aledsdavies/symbex/internal/term"
	"github.com/aledsdavies/symbex/internal/verror"
)

// ResultKind discriminates the three shapes a symbolic execution path can
// end in (spec.md §4.D "VerificationResult sum type").
type ResultKind int

const (
	// ResultSuccess means this path reached the end of the method body with
	// every exhale having found the permission it needed.
	ResultSuccess ResultKind = iota
	// ResultUnreachable means the decider proved this path's conditions
	// unsatisfiable before execution completed; it contributes no
	// obligation to the method's overall verdict.
	ResultUnreachable
	// ResultFailure means a consume failed, an assertion did not hold, or a
	// fatal prover-interaction error aborted the path.
	ResultFailure
)

// VerificationResult is the outcome of symbolically executing one path
// through a method body.
type VerificationResult struct {
	Kind ResultKind
	// Snapshot is the Snap-sorted witness term produce/consume built for
	// this path (spec.md §4.H: "the topmost consume returns the combined
	// snapshot used as the SMT witness"). Meaningful only when Kind ==
	// ResultSuccess.
	Snapshot term.Term
	Cause    *verror.VerificationError // set only when Kind == ResultFailure
}

// Success constructs a successful result carrying snap as its witness.
func Success(snap term.Term) VerificationResult {
	return VerificationResult{Kind: ResultSuccess, Snapshot: snap}
}

// Unreachable constructs a result for a path the decider proved infeasible.
func Unreachable() VerificationResult { return VerificationResult{Kind: ResultUnreachable} }

// Failure constructs a failed result carrying its cause.
func Failure(cause *verror.VerificationError) VerificationResult {
	return VerificationResult{Kind: ResultFailure, Cause: cause}
}

// IsFailure reports whether r represents a reportable verification failure.
func (r VerificationResult) IsFailure() bool {
	return r.Kind == ResultFailure
}

// Combine merges the outcomes of two sibling branches produced by a
// conditional: a failure on either side fails the whole; otherwise success
// dominates unreachable (one feasible successful path is enough), and two
// unreachable branches combine to unreachable. When both branches succeed,
// their snapshots are joined into a single Ite term guarded by cond, per
// spec.md §4.G/§4.H's branching invariant; when only one branch succeeds,
// that branch's own snapshot is the combined result's witness.
func Combine(cond term.Term, a, b VerificationResult) VerificationResult {
	if a.IsFailure() {
		return a
	}
	if b.IsFailure() {
		return b
	}
	switch {
	case a.Kind == ResultSuccess && b.Kind == ResultSuccess:
		return Success(term.Ite(cond, a.Snapshot, b.Snapshot))
	case a.Kind == ResultSuccess:
		return Success(a.Snapshot)
	case b.Kind == ResultSuccess:
		return Success(b.Snapshot)
	default:
		return Unreachable()
	}
}
