// Package state defines the symbolic state threaded through the producer
// and consumer (spec.md §4.D): the variable store, the current and
// reserve heaps, permission-scaling, the magic-wand packaging flags, and the
// VerificationResult sum type symbolic execution ultimately reduces to.
package state

import (
	"github.com/aledsdavies/symbex/internal/chunk"
	"github.com/aledsdavies/symbex/internal/invariant"
	"github.com/aledsdavies/symbex/internal/term"
)

// Store maps program variables (formals, locals, quantified bound
// variables currently in scope) to the term that represents their current
// symbolic value.
type Store map[string]term.Term

// Get looks up a variable, panicking via invariant if it is not bound: by
// the time the producer/consumer reach a variable reference, the translator
// has already confirmed it is well-scoped.
func (s Store) Get(name string) term.Term {
	v, ok := s[name]
	invariant.Invariant(ok, "store has no binding for variable %q", name)
	return v
}

// Bind returns a new Store with name bound to value, leaving the receiver
// unmodified.
func (s Store) Bind(name string, value term.Term) Store {
	next := make(Store, len(s)+1)
	for k, v := range s {
		next[k] = v
	}
	next[name] = value
	return next
}

// FunctionRecorder accumulates (function-name, argument-snapshot,
// result-term) triples observed while producing or consuming a heap
// function's postcondition, so a later function-application axiom can be
// grounded on the exact instance seen during this execution rather than
// firing generically (spec.md §4.D "function recorder").
type FunctionRecorder struct {
	records []FunctionRecord
}

// FunctionRecord is one recorded function-application instance.
type FunctionRecord struct {
	Name   string
	Args   []term.Term
	Result term.Term
}

// Record appends a new instance.
func (r *FunctionRecorder) Record(rec FunctionRecord) {
	r.records = append(r.records, rec)
}

// Records returns every instance recorded so far.
func (r *FunctionRecorder) Records() []FunctionRecord {
	return r.records
}

// State is the full symbolic state threaded through a method's symbolic
// execution. The producer copies a State before recursing down each branch;
// the consumer hands the same *State to both branches and copies it only
// where a leaf changes it. The Heap and Store fields are themselves
// immutable, so copying a State is cheap and safe.
type State struct {
	Store Store
	Heap  chunk.Heap

	// ReserveHeaps holds the stack of heaps set aside while packaging a
	// magic wand (spec.md §4.D, §4.H): PushReserveHeap moves the whole
	// current Heap onto this stack and starts an empty one, PopReserveHeap
	// puts it back. No code moves individual chunks into a reserve heap.
	ReserveHeaps []chunk.Heap

	// ExhaleExt is true while the consumer is running inside a magic-wand
	// packaging exhale, which changes failure handling: a chunk not found
	// in Heap is additionally searched for in the reserve heaps before the
	// consume is allowed to fail.
	ExhaleExt bool

	// Retrying marks the second pass of a decider.TryOrFail attempt. Nothing
	// sets or reads it: TryOrFail works on a heap, not a State, and the
	// consumer does not consult this field.
	Retrying bool

	// PermissionScaleFactor multiplies every permission amount an inhale or
	// exhale would otherwise use, implementing predicate-unfolding with a
	// fractional amount (e.g. "unfold acc(P(x), 1/2)").
	PermissionScaleFactor term.Term

	// QuantifiedFields and QuantifiedPredicates record which field/predicate
	// names have at least one quantified chunk in the current heap. The
	// producer sets QuantifiedFields; the consumer does not read either map
	// and always matches a basic access predicate against basic chunks only.
	QuantifiedFields      map[string]bool
	QuantifiedPredicates  map[string]bool
	Functions             *FunctionRecorder

	// PartialVerification flags a method as only partially verified. No code
	// sets it: a timeout or solver "unknown" answer counts as "not proved",
	// and the verifier's check of this field on the method's initial state
	// therefore never reports OutcomePartial.
	PartialVerification bool
}

// New constructs an initial State with an empty heap and store.
func New() *State {
	return &State{
		Store:                 Store{},
		Heap:                  chunk.Empty,
		PermissionScaleFactor: term.FullPerm(),
		QuantifiedFields:      map[string]bool{},
		QuantifiedPredicates:  map[string]bool{},
		Functions:             &FunctionRecorder{},
	}
}

// Copy returns a shallow copy of s suitable for passing down one of two
// sibling branches; Store and Heap are immutable values so no deep copy is
// needed for them, but the mutable maps are cloned so a write on one branch
// is never observed on the other.
func (s *State) Copy() *State {
	next := *s
	next.QuantifiedFields = cloneBoolMap(s.QuantifiedFields)
	next.QuantifiedPredicates = cloneBoolMap(s.QuantifiedPredicates)
	next.ReserveHeaps = append([]chunk.Heap(nil), s.ReserveHeaps...)
	return &next
}

func cloneBoolMap(m map[string]bool) map[string]bool {
	out := make(map[string]bool, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

// PushReserveHeap moves the current heap aside and starts a fresh empty one,
// used when entering magic-wand packaging (spec.md §4.H).
func (s *State) PushReserveHeap() {
	s.ReserveHeaps = append(s.ReserveHeaps, s.Heap)
	s.Heap = chunk.Empty
}

// PopReserveHeap restores the most recently pushed reserve heap, discarding
// the packaging heap built up since the matching push.
func (s *State) PopReserveHeap() chunk.Heap {
	invariant.Precondition(len(s.ReserveHeaps) > 0, "PopReserveHeap called with no reserve heap pushed")
	top := s.ReserveHeaps[len(s.ReserveHeaps)-1]
	s.ReserveHeaps = s.ReserveHeaps[:len(s.ReserveHeaps)-1]
	restored := s.Heap
	s.Heap = top
	return restored
}
