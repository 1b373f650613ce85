// Package consumer implements exhale: removing the resources an assertion
// describes from the symbolic state and reporting failure if the heap or
// path conditions cannot support the removal (spec.md §4.H).
package consumer

import (
	"context"

	"github.com/aledsdavies/symbex/internal/ast"
	"github.com/aledsdavies/symbex/internal/chunk"
	"github.com/aledsdavies/symbex/internal/decider"
	"github.com/aledsdavies/symbex/internal/invariant"
	"github.com/aledsdavies/symbex/internal/qp"
	"github.com/aledsdavies/symbex/internal/state"
	"github.com/aledsdavies/symbex/internal/term"
	"github.com/aledsdavies/symbex/internal/verror"
)

// Continuation receives the state after a has been consumed from it, plus
// the Snap-sorted witness the just-consumed assertion carried out of the
// heap. spec.md §4.H's entry point consume(state, assertion, error,
// v){Q(state, snapshot, v)} has no snapshotFn parameter of its own (unlike
// Produce): a consume's witness always comes from the chunk it removed, not
// from a freshly minted symbol.
type Continuation func(*state.State, term.Term) state.VerificationResult

// Consume recursively removes a from st, per spec.md §4.H. A basic
// field-access lookup that cannot find enough permission goes through
// decider.TryOrFail, so a single fragmented-heap failure is retried once
// against a consolidated heap before being reported; predicate-access,
// quantified and magic-wand consumes fail on the first attempt without a
// retry. Snapshots flow out:
// consuming a conjunction combines each conjunct's witness via
// term.Combine, and the topmost call's combined snapshot is the SMT witness
// for the whole assertion (spec.md §4.H).
func Consume(ctx context.Context, dec *decider.Decider, st *state.State, a ast.Assertion, opts qp.SplitOptions, cont Continuation) state.VerificationResult {
	switch a.Kind {
	case ast.KindAnd:
		return consumeConjuncts(ctx, dec, st, a.Conjuncts, opts, cont)

	case ast.KindImplies:
		return consumeBranch(ctx, dec, st, a.Cond, a.Then, ast.Pure(term.True), opts, cont)

	case ast.KindCondExp:
		return consumeBranch(ctx, dec, st, a.If, a.Then, a.Else, opts, cont)

	case ast.KindLet:
		next := st.Copy()
		next.Store = next.Store.Bind(a.LetName, a.LetValue)
		return Consume(ctx, dec, next, a.LetBody, opts, cont)

	case ast.KindFieldAccessPredicate:
		return consumeFieldAccess(ctx, dec, st, a, cont)

	case ast.KindPredicateAccessPredicate:
		return consumePredicateAccess(ctx, dec, st, a, cont)

	case ast.KindQuantifiedPermission:
		return consumeQuantified(ctx, dec, st, a, opts, cont)

	case ast.KindMagicWand:
		return consumeMagicWand(ctx, dec, st, a, cont)

	case ast.KindInhaleExhale:
		return Consume(ctx, dec, st, ast.WhenExhaling(a), opts, cont)

	case ast.KindPure:
		holds, err := dec.Assert(ctx, a.Pure)
		if err != nil {
			return failProverError(err)
		}
		if !holds {
			return state.Failure(verror.New(verror.ErrAssertionFalse, "assertion does not hold"))
		}
		return cont(st, term.UnitLit())

	default:
		invariant.Invariant(false, "consumer encountered unknown assertion kind %d", a.Kind)
		return state.Failure(nil)
	}
}

func consumeConjuncts(ctx context.Context, dec *decider.Decider, st *state.State, conjuncts []ast.Assertion, opts qp.SplitOptions, cont Continuation) state.VerificationResult {
	if len(conjuncts) == 0 {
		return cont(st, term.UnitLit())
	}
	head, rest := conjuncts[0], conjuncts[1:]
	return Consume(ctx, dec, st, head, opts, func(next *state.State, snap1 term.Term) state.VerificationResult {
		return consumeConjuncts(ctx, dec, next, rest, opts, func(final *state.State, snap2 term.Term) state.VerificationResult {
			return cont(final, term.Combine(snap1, snap2))
		})
	})
}

func consumeBranch(ctx context.Context, dec *decider.Decider, st *state.State, cond term.Term, thenPart, elsePart ast.Assertion, opts qp.SplitOptions, cont Continuation) state.VerificationResult {
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
		thenResult = Consume(ctx, dec, st, thenPart, opts, cont)
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
		elseResult = Consume(ctx, dec, st, elsePart, opts, cont)
		return nil
	})
	if err != nil {
		return failProverError(err)
	}

	return state.Combine(cond, thenResult, elseResult)
}

func consumeFieldAccess(ctx context.Context, dec *decider.Decider, st *state.State, a ast.Assertion, cont Continuation) state.VerificationResult {
	scaledPerm := term.PermTimes(st.PermissionScaleFactor, a.Perm)

	ok, err := dec.Assert(ctx, term.IsPositive(scaledPerm))
	if err != nil {
		return failProverError(err)
	}
	if !ok {
		isZero, zerr := dec.Assert(ctx, term.Equals(scaledPerm, term.NoPerm()))
		if zerr != nil {
			return failProverError(zerr)
		}
		if !isZero {
			return state.Failure(verror.NewNegativePermissionError(a.Field))
		}
	}

	found, finalHeap, err := decider.TryOrFail(st.Heap,
		func(h chunk.Heap) chunk.Heap { return h.Consolidate() },
		func(h chunk.Heap) (bool, error) { return canConsumeField(ctx, dec, h, a.Receiver, a.Field, scaledPerm) },
	)
	if err != nil {
		return failProverError(err)
	}
	if !found {
		return state.Failure(verror.NewInsufficientPermissionError(a.Field))
	}

	idx, err := findFieldChunk(ctx, dec, finalHeap, a.Receiver, a.Field)
	if err != nil {
		return failProverError(err)
	}
	invariant.Invariant(idx >= 0, "findFieldChunk could not re-locate a chunk canConsumeField already approved")
	witness := finalHeap.Chunks()[idx].Value

	next := st.Copy()
	next.Heap = removeOrShrinkField(finalHeap, a.Receiver, a.Field, scaledPerm)
	return cont(next, witness)
}

// canConsumeField reports whether h holds a basic field chunk for
// receiver.field with at least scaledPerm of permission, matching the
// receiver either structurally or, failing that, by asking the decider to
// prove equality (two syntactically different terms can still denote the
// same reference).
func canConsumeField(ctx context.Context, dec *decider.Decider, h chunk.Heap, receiver term.Term, field string, scaledPerm term.Term) (bool, error) {
	idx, err := findFieldChunk(ctx, dec, h, receiver, field)
	if err != nil {
		return false, err
	}
	if idx < 0 {
		return false, nil
	}
	c := h.Chunks()[idx]
	sufficient, err := dec.Assert(ctx, term.Not(term.PermLess(c.Perm, scaledPerm)))
	if err != nil {
		return false, err
	}
	return sufficient, nil
}

// removeOrShrinkField re-finds the chunk canConsumeField located (the heap
// may have been consolidated since) and returns a new heap with scaledPerm
// removed from it, dropping the chunk entirely if nothing is left.
func removeOrShrinkField(h chunk.Heap, receiver term.Term, field string, scaledPerm term.Term) chunk.Heap {
	for i, c := range h.Chunks() {
		if c.Kind != chunk.KindBasicField || c.FieldTag != field {
			continue
		}
		if !term.Identical(c.Receiver, receiver) {
			continue
		}
		remaining := term.PermMinus(c.Perm, scaledPerm)
		if remaining.Kind == term.KindNoPerm {
			return h.Without(i)
		}
		return h.Replace(i, c.WithPerm(remaining))
	}
	invariant.Invariant(false, "removeOrShrinkField could not re-locate a chunk canConsumeField already approved")
	return h
}

// findFieldChunk locates a basic field chunk for receiver.field, preferring
// a syntactic receiver match and falling back to an SMT equality query only
// when no syntactic match exists.
func findFieldChunk(ctx context.Context, dec *decider.Decider, h chunk.Heap, receiver term.Term, field string) (int, error) {
	for i, c := range h.Chunks() {
		if c.Kind == chunk.KindBasicField && c.FieldTag == field && term.Identical(c.Receiver, receiver) {
			return i, nil
		}
	}
	for i, c := range h.Chunks() {
		if c.Kind != chunk.KindBasicField || c.FieldTag != field {
			continue
		}
		equal, err := dec.Assert(ctx, term.Equals(c.Receiver, receiver))
		if err != nil {
			return -1, err
		}
		if equal {
			return i, nil
		}
	}
	return -1, nil
}

func consumePredicateAccess(ctx context.Context, dec *decider.Decider, st *state.State, a ast.Assertion, cont Continuation) state.VerificationResult {
	id := "pred:" + a.Pred
	idx := st.Heap.Find(id)
	if idx < 0 {
		return state.Failure(verror.NewInsufficientPermissionError(a.Pred))
	}
	c := st.Heap.Chunks()[idx]

	sufficient, err := dec.Assert(ctx, term.Not(term.PermLess(c.Perm, a.Perm)))
	if err != nil {
		return failProverError(err)
	}
	if !sufficient {
		return state.Failure(verror.NewInsufficientPermissionError(a.Pred))
	}

	next := st.Copy()
	remaining := term.PermMinus(c.Perm, a.Perm)
	if remaining.Kind == term.KindNoPerm {
		next.Heap = next.Heap.Without(idx)
	} else {
		next.Heap = next.Heap.Replace(idx, c.WithPerm(remaining))
	}
	return cont(next, c.Value)
}

func consumeQuantified(ctx context.Context, dec *decider.Decider, st *state.State, a ast.Assertion, opts qp.SplitOptions, cont Continuation) state.VerificationResult {
	body := a.QBody
	if body.Kind != ast.KindFieldAccessPredicate {
		invariant.Invariant(false, "consumer only supports quantified field-access predicates; predicate-access quantification is out of scope for this module")
	}

	spec := qp.FieldSpec{
		Field:        body.Field,
		QuantVarSort: a.BoundVar.Sort,
		QuantVarName: a.BoundVar.Name,
		Cond:         a.QCond,
		Receiver:     body.Receiver,
		Perm:         term.PermTimes(st.PermissionScaleFactor, body.Perm),
		Triggers:     a.Triggers,
		QID:          a.QID,
	}

	ok, updated, err := qp.Consume(ctx, dec, st.Heap, spec, opts)
	if err != nil {
		if ve, isVe := err.(*verror.VerificationError); isVe {
			return state.Failure(ve)
		}
		return failProverError(err)
	}
	if !ok {
		return state.Failure(verror.NewInsufficientPermissionError(body.Field))
	}

	next := st.Copy()
	next.Heap = updated
	// A quantified permission's own snapshot contribution is Unit; its
	// individual field values live in the FVF the heap split above
	// produced, reachable through later field accesses rather than this
	// call's return value.
	return cont(next, term.UnitLit())
}

func consumeMagicWand(ctx context.Context, dec *decider.Decider, st *state.State, a ast.Assertion, cont Continuation) state.VerificationResult {
	id := "wand:" + a.WandID

	if idx := st.Heap.Find(id); idx >= 0 {
		witness := st.Heap.Chunks()[idx].Value
		next := st.Copy()
		next.Heap = next.Heap.Without(idx)
		return cont(next, witness)
	}

	// Inside magic-wand packaging, a wand the left side needs may have
	// already been moved into a reserve heap by an earlier packaging step;
	// search those before giving up (spec.md §4.H exhale-ext).
	if st.ExhaleExt {
		for i := len(st.ReserveHeaps) - 1; i >= 0; i-- {
			if ridx := st.ReserveHeaps[i].Find(id); ridx >= 0 {
				witness := st.ReserveHeaps[i].Chunks()[ridx].Value
				next := st.Copy()
				next.ReserveHeaps[i] = next.ReserveHeaps[i].Without(ridx)
				return cont(next, witness)
			}
		}
	}

	return state.Failure(verror.NewMagicWandChunkNotFoundError(a.WandID))
}

func failProverError(err error) state.VerificationResult {
	if ve, ok := err.(*verror.VerificationError); ok {
		return state.Failure(ve)
	}
	return state.Failure(verror.NewProgrammerError("prover interaction failed", err))
}
