// Package producer implements inhale: adding the resources and facts an
// assertion describes to the symbolic state (spec.md §4.G). Produce reports
// no verification failure of its own: it returns Unreachable when the
// decider discovers a branch condition makes a sub-path infeasible, and a
// Failure only when talking to the prover fails.
package producer

import (
	"context"
	"fmt"
	"sync/atomic"

	"github.com/aledsdavies/symbex/internal/ast"
	"github.com/aledsdavies/symbex/internal/chunk"
	"github.com/aledsdavies/symbex/internal/decider"
	"github.com/aledsdavies/symbex/internal/invariant"
	"github.com/aledsdavies/symbex/internal/qp"
	"github.com/aledsdavies/symbex/internal/state"
	"github.com/aledsdavies/symbex/internal/term"
	"github.com/aledsdavies/symbex/internal/verror"
)

var snapshotSequence atomic.Uint64

// Continuation receives the state as it stands after everything before it in
// program order has been produced, plus the Snap-sorted witness the
// just-produced assertion built, and returns the outcome of everything still
// to come. The producer and consumer are both written in this
// continuation-passing style (spec.md §5 design notes) rather than as
// goroutine-based coroutines, matching the teacher codebase's preference for
// explicit closures over concurrency primitives when no actual parallelism
// is required.
type Continuation func(*state.State, term.Term) state.VerificationResult

// SnapshotFn mints a fresh Snap-sorted (or sort-specific) witness term for a
// leaf assertion being produced. spec.md §4.G's entry point takes this as an
// explicit argument rather than reaching for a package-level counter, so a
// caller controls exactly where fresh symbols are scoped.
type SnapshotFn func(sort term.Sort) term.Term

// FreshSnapshotFn returns a SnapshotFn backed by a process-wide atomic
// counter, suitable as the snapshotFn argument for a top-level Produce call.
func FreshSnapshotFn() SnapshotFn {
	return func(sort term.Sort) term.Term {
		n := snapshotSequence.Add(1)
		return term.Var(fmt.Sprintf("$t@%d", n), sort)
	}
}

// Produce recursively adds a to st and invokes cont with the result, per
// spec.md §4.G. snapshotFn mints the witness for any leaf that introduces
// one (field/predicate access, magic wand); quantified-permission and pure
// leaves always contribute Unit (spec.md §4.G "in the else-branch equate the
// snapshot to Unit and continue" generalises to every snapshot-free leaf).
func Produce(ctx context.Context, dec *decider.Decider, st *state.State, a ast.Assertion, snapshotFn SnapshotFn, opts qp.SplitOptions, cont Continuation) state.VerificationResult {
	switch a.Kind {
	case ast.KindAnd:
		return produceConjuncts(ctx, dec, st, a.Conjuncts, snapshotFn, opts, cont)

	case ast.KindImplies:
		return produceBranch(ctx, dec, st, a.Cond, a.Then, ast.Pure(term.True), snapshotFn, opts, cont)

	case ast.KindCondExp:
		return produceBranch(ctx, dec, st, a.If, a.Then, a.Else, snapshotFn, opts, cont)

	case ast.KindLet:
		next := st.Copy()
		next.Store = next.Store.Bind(a.LetName, a.LetValue)
		return Produce(ctx, dec, next, a.LetBody, snapshotFn, opts, cont)

	case ast.KindFieldAccessPredicate:
		return produceFieldAccess(ctx, dec, st, a, snapshotFn, cont)

	case ast.KindPredicateAccessPredicate:
		return producePredicateAccess(ctx, dec, st, a, snapshotFn, cont)

	case ast.KindQuantifiedPermission:
		return produceQuantified(ctx, dec, st, a, opts, cont)

	case ast.KindMagicWand:
		next := st.Copy()
		snap := snapshotFn(term.Snap)
		next.Heap = next.Heap.Plus(chunk.NewMagicWand(a.WandID, nil, snap))
		return cont(next, snap)

	case ast.KindInhaleExhale:
		return Produce(ctx, dec, st, ast.WhenInhaling(a), snapshotFn, opts, cont)

	case ast.KindPure:
		if err := dec.Assume(a.Pure); err != nil {
			return failProverError(err)
		}
		return cont(st, term.UnitLit())

	default:
		invariant.Invariant(false, "producer encountered unknown assertion kind %d", a.Kind)
		return state.Failure(nil)
	}
}

func produceConjuncts(ctx context.Context, dec *decider.Decider, st *state.State, conjuncts []ast.Assertion, snapshotFn SnapshotFn, opts qp.SplitOptions, cont Continuation) state.VerificationResult {
	if len(conjuncts) == 0 {
		return cont(st, term.UnitLit())
	}
	head, rest := conjuncts[0], conjuncts[1:]
	return Produce(ctx, dec, st, head, snapshotFn, opts, func(next *state.State, snap1 term.Term) state.VerificationResult {
		return produceConjuncts(ctx, dec, next, rest, snapshotFn, opts, func(final *state.State, snap2 term.Term) state.VerificationResult {
			return cont(final, term.Combine(snap1, snap2))
		})
	})
}

// produceBranch inhales a conditional assertion by forking the path twice:
// once assuming the condition and producing thenPart, once assuming its
// negation and producing elsePart (spec.md §4.G conditional inhale). Each
// branch must restore the heap state it started from before the fork (the
// branching invariant), which falls out here from each side calling
// Produce on its own st.Copy() rather than sharing mutation.
func produceBranch(ctx context.Context, dec *decider.Decider, st *state.State, cond term.Term, thenPart, elsePart ast.Assertion, snapshotFn SnapshotFn, opts qp.SplitOptions, cont Continuation) state.VerificationResult {
	var thenResult, elseResult state.VerificationResult

	err := dec.InScope(func() error {
		if err := dec.Assume(cond); err != nil {
			return err
		}
		feasible, err := dec.Check(ctx)
		if err != nil {
			return err
		}
		if !feasible {
			thenResult = state.Unreachable()
			return nil
		}
		thenResult = Produce(ctx, dec, st.Copy(), thenPart, snapshotFn, opts, cont)
		return nil
	})
	if err != nil {
		return failProverError(err)
	}

	err = dec.InScope(func() error {
		if err := dec.Assume(term.Not(cond)); err != nil {
			return err
		}
		feasible, err := dec.Check(ctx)
		if err != nil {
			return err
		}
		if !feasible {
			elseResult = state.Unreachable()
			return nil
		}
		elseResult = Produce(ctx, dec, st.Copy(), elsePart, snapshotFn, opts, cont)
		return nil
	})
	if err != nil {
		return failProverError(err)
	}

	return state.Combine(cond, thenResult, elseResult)
}

func produceFieldAccess(ctx context.Context, dec *decider.Decider, st *state.State, a ast.Assertion, snapshotFn SnapshotFn, cont Continuation) state.VerificationResult {
	next := st.Copy()
	scaledPerm := term.PermTimes(next.PermissionScaleFactor, a.Perm)

	if err := dec.Assume(term.IsPositive(scaledPerm)); err != nil {
		return failProverError(err)
	}

	value := snapshotFn(term.Int)
	c := chunk.NewBasicField(a.Receiver, a.Field, scaledPerm, value)
	next.Heap = next.Heap.Plus(c)
	return cont(next, value)
}

func producePredicateAccess(ctx context.Context, dec *decider.Decider, st *state.State, a ast.Assertion, snapshotFn SnapshotFn, cont Continuation) state.VerificationResult {
	next := st.Copy()
	scaledPerm := term.PermTimes(next.PermissionScaleFactor, a.Perm)

	if err := dec.Assume(term.IsPositive(scaledPerm)); err != nil {
		return failProverError(err)
	}

	value := snapshotFn(term.Snap)
	c := chunk.NewBasicPredicate(a.Pred, a.Args, scaledPerm, value)
	next.Heap = next.Heap.Plus(c)
	return cont(next, value)
}

func produceQuantified(ctx context.Context, dec *decider.Decider, st *state.State, a ast.Assertion, opts qp.SplitOptions, cont Continuation) state.VerificationResult {
	body := a.QBody
	if body.Kind != ast.KindFieldAccessPredicate {
		invariant.Invariant(false, "producer only supports quantified field-access predicates; predicate-access quantification is out of scope for this module")
	}

	next := st.Copy()
	snapshotName := fmt.Sprintf("qpval_%d", snapshotSequence.Add(1))
	spec := qp.FieldSpec{
		Field:        body.Field,
		QuantVarSort: a.BoundVar.Sort,
		QuantVarName: a.BoundVar.Name,
		Cond:         a.QCond,
		Receiver:     body.Receiver,
		Perm:         term.PermTimes(next.PermissionScaleFactor, body.Perm),
		Value:        term.Var(snapshotName, term.Int),
		Triggers:     a.Triggers,
		QID:          a.QID,
	}

	c, err := qp.Produce(ctx, dec, spec, opts)
	if err != nil {
		return failProverError(err)
	}
	next.QuantifiedFields[body.Field] = true
	next.Heap = next.Heap.Plus(c)
	// A quantified permission assertion contributes no single witness of
	// its own (spec.md §4.G: "in the else-branch equate the snapshot to
	// Unit and continue" generalises here too); its values live in the
	// chunk's field-value function instead.
	return cont(next, term.UnitLit())
}

func failProverError(err error) state.VerificationResult {
	if ve, ok := err.(*verror.VerificationError); ok {
		return state.Failure(ve)
	}
	return state.Failure(verror.NewProgrammerError("prover interaction failed", err))
}
