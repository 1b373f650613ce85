// Package qp implements the quantified-chunk supporter (spec.md §4.F): the
// heap-split algorithm that introduces field-value/predicate-snap functions
// and inverse functions when a quantified permission assertion is produced
// or consumed, along with the injectivity and non-null side conditions that
// make the resulting axioms sound.
package qp

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/aledsdavies/symbex/internal/chunk"
	"github.com/aledsdavies/symbex/internal/decider"
	"github.com/aledsdavies/symbex/internal/term"
	"github.com/aledsdavies/symbex/internal/verror"
)

var qpSequence atomic.Uint64

// receiverPlaceholder is the canonical free variable a quantified chunk's
// Perm term is phrased over once it's installed on the heap: instead of the
// assertion's own bound variable, Perm is rewritten to a function of a
// single receiver-sorted placeholder, so any candidate chunk's permission at
// a concrete receiver r is just Subst{"$r": r}.Apply(chunk.Perm), with no
// extra bookkeeping fields on Chunk itself. Only meaningful at receivers
// that are actually Receiver(v) for some v satisfying Cond; the chunk's own
// InvFunction is what lets a consumer recover that v.
var receiverPlaceholder = term.Var("$r", term.Ref)

// FieldSpec describes a produced or consumed quantified field-access
// predicate: forall v: QuantVarSort :: Cond ==> acc(Receiver(v).Field, Perm(v)).
type FieldSpec struct {
	Field        string
	QuantVarSort term.Sort
	QuantVarName string
	Cond         term.Term // may reference the quantified variable
	Receiver     term.Term // receiver expression, references the quantified variable
	Perm         term.Term // permission expression, references the quantified variable
	Value        term.Term // field-value expression, references the quantified variable (producer only)
	Triggers     [][]term.Term
	QID          string
}

// SplitOptions carries the configuration knobs spec.md §6 names for the
// supporter (DisableChunkOrderHeuristics, DisableISCTriggers, SplitTimeout),
// threaded down from internal/config by the producer/consumer without qp
// itself depending on the config package.
type SplitOptions struct {
	// PreferMostRecent orders split candidates most-recently-added first
	// (step 2's hint heuristic, simplified to "prefer the newest chunk"
	// absent the receiver/condition hint terms a full ISC port would need).
	// False when config.DisableChunkOrderHeuristics is set.
	PreferMostRecent bool

	// Triggers gates whether caller-supplied triggers are passed through to
	// the axioms this package assumes/asserts; false when
	// config.DisableISCTriggers is set, in which case those axioms carry no
	// triggers at all (the source assertion's triggers are dropped; only the
	// inverse-function axioms keep their fixed receiver trigger).
	Triggers bool

	// SplitTimeout bounds the injectivity check and the in-loop depleted
	// check. The final step-8 must-check does not use it and runs under the
	// decider's default timeout. Zero means "use the decider's default."
	SplitTimeout time.Duration
}

func triggersFor(opts SplitOptions, triggers [][]term.Term) [][]term.Term {
	if !opts.Triggers {
		return nil
	}
	return triggers
}

// assertAuthoritative runs the decider's must-check: AssertWithTimeout when
// a SplitTimeout is configured, the ordinary Assert otherwise.
func assertAuthoritative(ctx context.Context, dec *decider.Decider, opts SplitOptions, goal term.Term) (bool, error) {
	if opts.SplitTimeout > 0 {
		return dec.AssertWithTimeout(ctx, goal, opts.SplitTimeout)
	}
	return dec.Assert(ctx, goal)
}

// Produce introduces a fresh field-value function and inverse function for
// spec, assumes the definitional and inverse-function axioms, and returns
// the new quantified chunk to add to the heap. The returned chunk's Perm is
// rewritten over receiverPlaceholder so a later Consume can evaluate it at
// any concrete receiver without re-deriving the quantified variable.
//
// Singleton optimisation: when Cond is syntactically True and Receiver is
// exactly the quantified variable (the common "forall x: Ref :: acc(x.f, p)"
// shape is not a singleton, but "acc(x.f, p)" outside any quantifier is), the
// caller should use chunk.NewBasicField directly instead of calling into
// this package at all; Produce always builds the general quantified case.
func Produce(ctx context.Context, dec *decider.Decider, spec FieldSpec, opts SplitOptions) (chunk.Chunk, error) {
	n := qpSequence.Add(1)
	qv := term.Var(spec.QuantVarName, spec.QuantVarSort)
	triggers := triggersFor(opts, spec.Triggers)

	fvf, err := dec.FreshFunction(fmt.Sprintf("fvf_%s@%d", spec.Field, n), nil, term.FVFOf(spec.Value.Sort))
	if err != nil {
		return chunk.Chunk{}, err
	}
	invFunc, err := dec.FreshFunction(fmt.Sprintf("inv_%s@%d", spec.Field, n), []term.Sort{term.Ref}, spec.QuantVarSort)
	if err != nil {
		return chunk.Chunk{}, err
	}

	// Definitional axiom: for every v satisfying Cond, looking up the FVF at
	// Receiver(v) yields Value(v).
	defAxiom := term.Forall(
		[]term.BoundVar{{Name: spec.QuantVarName, Sort: spec.QuantVarSort}},
		term.Implies(spec.Cond, term.Equals(term.FvfLookup(fvf, spec.Receiver), spec.Value)),
		triggers,
		spec.QID+"-def",
	)
	if err := dec.Assume(defAxiom); err != nil {
		return chunk.Chunk{}, err
	}

	// Inverse-function axiom: the inverse function undoes Receiver on every
	// v satisfying Cond, which is what lets the consumer later recover the
	// witnessing v from a concrete receiver term.
	invAxiom := term.Forall(
		[]term.BoundVar{{Name: spec.QuantVarName, Sort: spec.QuantVarSort}},
		term.Implies(spec.Cond, term.Equals(term.App(nameOf(invFunc), spec.QuantVarSort, spec.Receiver), qv)),
		[][]term.Term{{spec.Receiver}},
		spec.QID+"-inv",
	)
	if err := dec.Assume(invAxiom); err != nil {
		return chunk.Chunk{}, err
	}

	// Non-null axiom: every receiver satisfying Cond is non-null, needed so
	// the consumer's lookup of a concrete receiver against this chunk never
	// has to consider the null receiver as a witness.
	nonNull := term.Forall(
		[]term.BoundVar{{Name: spec.QuantVarName, Sort: spec.QuantVarSort}},
		term.Implies(spec.Cond, term.Not(term.Equals(spec.Receiver, term.NullLit()))),
		triggers,
		spec.QID+"-nonnull",
	)
	if err := dec.Assume(nonNull); err != nil {
		return chunk.Chunk{}, err
	}

	permAtReceiver := permOverPlaceholder(spec, invFunc)
	return chunk.NewQuantifiedField(spec.Field, spec.QuantVarSort, permAtReceiver, fvf, invFunc), nil
}

// permOverPlaceholder rewrites spec.Perm (phrased over the quantified
// variable) into a term phrased over receiverPlaceholder, by substituting
// the quantified variable with invFunc applied to the placeholder. This is
// what lets Consume evaluate a chunk's permission at a concrete candidate
// receiver: Subst{"$r": r}.Apply(chunk.Perm).
func permOverPlaceholder(spec FieldSpec, invFunc term.Term) term.Term {
	sub := term.Subst{spec.QuantVarName: term.App(nameOf(invFunc), spec.QuantVarSort, receiverPlaceholder)}
	return sub.Apply(spec.Perm)
}

// permAt evaluates a quantified chunk's Perm (already phrased over
// receiverPlaceholder) at receiver r.
func permAt(c chunk.Chunk, r term.Term) term.Term {
	return term.Subst{"$r": r}.Apply(c.Perm)
}

// Consume runs the full split algorithm (spec.md §4.F) for spec against
// every quantified chunk matching spec.Field in heap, returning the updated
// heap. ok is false, heap unchanged, when the heap did not hold enough
// permission; a non-nil error additionally distinguishes
// ReceiverNotInjective from a prover-interaction failure.
//
// Injectivity is checked, not assumed: spec.md §9 Open Question notes the
// producer intentionally does not assert injectivity on inhale (a quantified
// permission assertion is allowed to describe an aliasing, over-specified
// receiver set as long as nothing is ever consumed through it); it is the
// consumer's heap-split that requires distinct quantified-variable instances
// to map to distinct receivers, since otherwise the permission amount taken
// from the heap would double-count.
func Consume(ctx context.Context, dec *decider.Decider, heap chunk.Heap, spec FieldSpec, opts SplitOptions) (ok bool, updated chunk.Heap, err error) {
	injective, err := checkInjective(ctx, dec, spec, opts)
	if err != nil {
		return false, heap, err
	}
	if !injective {
		return false, heap, verror.NewReceiverNotInjectiveError(spec.Field)
	}

	n := qpSequence.Add(1)
	id := "field:" + spec.Field
	candidates := heap.FindAll(id)
	if len(candidates) == 0 {
		return false, heap, nil
	}
	if opts.PreferMostRecent {
		candidates = reversed(candidates)
	}

	// consumeInv mirrors the produce-side inverse function: a fresh
	// uninterpreted function recovering the quantified variable from a
	// concrete receiver, scoped to this one consume so its defining axiom
	// only talks about the assertion being exhaled right now.
	consumeInv, err := dec.FreshFunction(fmt.Sprintf("cinv_%s@%d", spec.Field, n), []term.Sort{term.Ref}, spec.QuantVarSort)
	if err != nil {
		return false, heap, err
	}
	triggers := triggersFor(opts, spec.Triggers)
	qv := term.Var(spec.QuantVarName, spec.QuantVarSort)
	consumeInvAxiom := term.Forall(
		[]term.BoundVar{{Name: spec.QuantVarName, Sort: spec.QuantVarSort}},
		term.Implies(spec.Cond, term.Equals(term.App(nameOf(consumeInv), spec.QuantVarSort, spec.Receiver), qv)),
		[][]term.Term{{spec.Receiver}},
		spec.QID+"-cinv",
	)
	if err := dec.Assume(consumeInvAxiom); err != nil {
		return false, heap, err
	}

	r := term.Var(fmt.Sprintf("$r@%d", n), term.Ref)
	condAtR := term.Subst{spec.QuantVarName: term.App(nameOf(consumeInv), spec.QuantVarSort, r)}.Apply(spec.Cond)
	permAtR := term.Subst{spec.QuantVarName: term.App(nameOf(consumeInv), spec.QuantVarSort, r)}.Apply(spec.Perm)
	needed := term.Ite(condAtR, permAtR, term.NoPerm())

	// Fresh result FVF: the snapshot value consumers downstream of this
	// exhale should see at any receiver this split actually covered (step
	// 3, step 9's definition bundle).
	resultFVF, err := dec.FreshFunction(fmt.Sprintf("fvf_%s_result@%d", spec.Field, n), nil, term.FVFOf(candidateValueSort(heap, candidates)))
	if err != nil {
		return false, heap, err
	}

	type taken struct {
		idx     int
		perm    term.Term // amount taken from this candidate, as a function of r
		depleted bool
	}
	var takenFrom []taken
	survivors := map[int]chunk.Chunk{}

	for _, idx := range candidates {
		c := heap.Chunks()[idx]
		chunkPermAtR := permAt(c, r)

		pTaken := term.PermMin(chunkPermAtR, needed)
		needed = term.PermMinus(needed, pTaken)

		// Exact mode: check, bounded by the configured split timeout (spec.md
		// §6: "splitTimeout - ms for the in-loop depleted check"), whether
		// this candidate is now fully depleted at every receiver; an
		// unproven (timed-out/unknown) answer here is treated as "not
		// depleted" and simply falls through to the next candidate, never as
		// success.
		remainingPerm := term.PermMinus(chunkPermAtR, pTaken)
		depletedGoal := term.Forall(
			[]term.BoundVar{{Name: "$r", Sort: term.Ref}},
			term.Equals(remainingPerm, term.NoPerm()),
			triggers,
			fmt.Sprintf("%s-depleted@%d-%d", spec.QID, n, idx),
		)
		depleted, derr := assertAuthoritative(ctx, dec, opts, depletedGoal)
		if derr != nil {
			return false, heap, derr
		}

		takenFrom = append(takenFrom, taken{idx: idx, perm: pTaken, depleted: depleted})
		if !depleted {
			survivors[idx] = c.WithPerm(term.Subst{"$r": receiverPlaceholder}.Apply(remainingPerm))
		}

		// Step 7: early-success short-check, cheap/in-loop. "unknown" falls
		// through to the next candidate rather than being treated as
		// success.
		stillNeeded := term.Not(term.Equals(needed, term.NoPerm()))
		exhausted, eerr := dec.Assert(ctx, term.Not(stillNeeded))
		if eerr != nil {
			return false, heap, eerr
		}
		if exhausted {
			break
		}
	}

	// Step 8: mandatory final must-check. spec.md §5 runs this one without
	// the split timeout ("falls through to the final must-check without a
	// timeout"): an unknown answer in the loop above is never treated as
	// proof of sufficiency, so this query uses the decider's own default
	// budget rather than the (potentially much shorter) configured split
	// timeout, giving it the best remaining chance to resolve the query
	// outright. The TRUE sufficiency statement is passed directly (Assert
	// negates internally), not its negation.
	sufficientGoal := term.Forall(
		[]term.BoundVar{{Name: "$r", Sort: term.Ref}},
		term.Equals(needed, term.NoPerm()),
		triggers,
		spec.QID+"-suff-final",
	)
	holds, err := dec.Assert(ctx, sufficientGoal)
	if err != nil {
		return false, heap, err
	}
	if !holds {
		return false, heap, nil
	}

	// Step 9: FVF-definition bundle, tying the result FVF to every
	// candidate actually drawn from, depleted or surviving.
	next := heap
	for _, tk := range takenFrom {
		c := heap.Chunks()[tk.idx]
		bundleAxiom := term.Forall(
			[]term.BoundVar{{Name: "$r", Sort: term.Ref}},
			term.Implies(
				term.IsPositive(permAt(c, r)),
				term.Equals(term.FvfLookup(resultFVF, r), c.ValueAt(r)),
			),
			triggers,
			fmt.Sprintf("%s-fvfdef@%d-%d", spec.QID, n, tk.idx),
		)
		if err := dec.Assume(bundleAxiom); err != nil {
			return false, next, err
		}

		if survivor, ok := survivors[tk.idx]; ok {
			next = next.Replace(tk.idx, survivor)
		} else {
			next = next.Without(tk.idx)
		}
	}

	return true, next, nil
}

func candidateValueSort(heap chunk.Heap, candidates []int) term.Sort {
	first := heap.Chunks()[candidates[0]]
	return *first.ValueFunction.Sort.Elem
}

func reversed(in []int) []int {
	out := make([]int, len(in))
	for i, v := range in {
		out[len(in)-1-i] = v
	}
	return out
}

// checkInjective asks the decider to prove that Receiver is injective over
// the subdomain where Cond holds: for any two distinct witnesses satisfying
// Cond, their receivers differ.
func checkInjective(ctx context.Context, dec *decider.Decider, spec FieldSpec, opts SplitOptions) (bool, error) {
	v1, v2 := spec.QuantVarName+"$1", spec.QuantVarName+"$2"
	sub1 := term.Subst{spec.QuantVarName: term.Var(v1, spec.QuantVarSort)}
	sub2 := term.Subst{spec.QuantVarName: term.Var(v2, spec.QuantVarSort)}

	cond1 := sub1.Apply(spec.Cond)
	cond2 := sub2.Apply(spec.Cond)
	recv1 := sub1.Apply(spec.Receiver)
	recv2 := sub2.Apply(spec.Receiver)

	distinctWitnesses := term.Not(term.Equals(term.Var(v1, spec.QuantVarSort), term.Var(v2, spec.QuantVarSort)))
	sameReceiver := term.Equals(recv1, recv2)

	counterexampleExists := term.Exists(
		[]term.BoundVar{{Name: v1, Sort: spec.QuantVarSort}, {Name: v2, Sort: spec.QuantVarSort}},
		term.And(cond1, cond2, distinctWitnesses, sameReceiver),
		nil,
		spec.QID+"-injectivity-check",
	)

	holds, err := assertAuthoritative(ctx, dec, opts, term.Not(counterexampleExists))
	if err != nil {
		return false, err
	}
	return holds, nil
}

func nameOf(t term.Term) string {
	return t.Name
}
