// Package chunk defines the heap-chunk representation (spec.md §4.E): basic
// field and predicate chunks carrying a fractional permission and a value
// snapshot, quantified field/predicate chunks carrying a field-value or
// predicate-snap function instead of a single value, and magic-wand chunks.
// Chunks are immutable; every heap-mutating operation returns a new chunk
// rather than editing one in place, matching the copy-on-write discipline
// the decider's tryOrFail retry depends on.
package chunk

import (
	"github.com/aledsdavies/symbex/internal/invariant"
	"github.com/aledsdavies/symbex/internal/term"
)

// Kind distinguishes the chunk shapes the heap can hold.
type Kind int

const (
	KindBasicField Kind = iota
	KindBasicPredicate
	KindQuantifiedField
	KindQuantifiedPredicate
	KindMagicWand
)

// Chunk is a single resource-assertion fact in the symbolic heap.
type Chunk struct {
	Kind Kind

	// Basic field/predicate chunks.
	Receiver term.Term   // field receiver (Ref) or predicate argument tuple head
	Args     []term.Term // predicate arguments (len 0 for fields)
	FieldTag string      // field name, for KindBasicField / KindQuantifiedField
	PredTag  string      // predicate name, for KindBasicPredicate / KindQuantifiedPredicate
	Perm     term.Term   // fractional permission, sort Perm
	Value    term.Term   // snapshot value (field value or predicate snapshot)

	// Quantified field/predicate chunks additionally carry the FVF/PSF
	// function term in place of Value, plus the inverse function and the
	// quantified variable's sort used to reconstruct per-receiver facts.
	ValueFunction term.Term // FVF or PSF term
	InvFunction   term.Term // inverse function term, receiver -> quantifier witness
	QuantVarSort  term.Sort

	// Magic wand chunks identify their wand by a structural hash of the
	// left/right assertions (produced by the caller) rather than by syntax
	// equality, since two occurrences of the same wand in source text parse
	// to distinct AST nodes.
	WandID string
}

// ID returns a component the heap's chunk-matching routines compare chunks
// by: field/predicate tag or wand ID. Two chunks with different IDs can
// never be merged or have permission transferred between them.
func (c Chunk) ID() string {
	switch c.Kind {
	case KindBasicField, KindQuantifiedField:
		return "field:" + c.FieldTag
	case KindBasicPredicate, KindQuantifiedPredicate:
		return "pred:" + c.PredTag
	case KindMagicWand:
		return "wand:" + c.WandID
	default:
		invariant.Invariant(false, "unknown chunk kind %d", c.Kind)
		return ""
	}
}

// WithPerm returns a copy of c carrying a new permission amount, leaving
// every other field untouched.
func (c Chunk) WithPerm(p term.Term) Chunk {
	out := c
	out.Perm = p
	return out
}

// WithValue returns a copy of c carrying a new snapshot value.
func (c Chunk) WithValue(v term.Term) Chunk {
	out := c
	out.Value = v
	return out
}

// IsQuantified reports whether c is a quantified field or predicate chunk.
func (c Chunk) IsQuantified() bool {
	return c.Kind == KindQuantifiedField || c.Kind == KindQuantifiedPredicate
}

// NewBasicField constructs a basic field chunk.
func NewBasicField(receiver term.Term, field string, perm, value term.Term) Chunk {
	invariant.Precondition(receiver.Sort.Kind == term.SortRef, "field chunk receiver must be Ref-sorted")
	return Chunk{Kind: KindBasicField, Receiver: receiver, FieldTag: field, Perm: perm, Value: value}
}

// NewBasicPredicate constructs a basic predicate chunk.
func NewBasicPredicate(pred string, args []term.Term, perm, snapshot term.Term) Chunk {
	return Chunk{Kind: KindBasicPredicate, PredTag: pred, Args: args, Perm: perm, Value: snapshot}
}

// NewQuantifiedField constructs a quantified field chunk over an FVF.
func NewQuantifiedField(field string, quantVarSort term.Sort, perm, fvf, invFunc term.Term) Chunk {
	return Chunk{
		Kind:          KindQuantifiedField,
		FieldTag:      field,
		Perm:          perm,
		ValueFunction: fvf,
		InvFunction:   invFunc,
		QuantVarSort:  quantVarSort,
	}
}

// NewQuantifiedPredicate constructs a quantified predicate chunk over a PSF.
func NewQuantifiedPredicate(pred string, quantVarSort term.Sort, perm, psf, invFunc term.Term) Chunk {
	return Chunk{
		Kind:          KindQuantifiedPredicate,
		PredTag:       pred,
		Perm:          perm,
		ValueFunction: psf,
		InvFunction:   invFunc,
		QuantVarSort:  quantVarSort,
	}
}

// NewMagicWand constructs a magic-wand chunk.
func NewMagicWand(wandID string, args []term.Term, snapshot term.Term) Chunk {
	return Chunk{Kind: KindMagicWand, WandID: wandID, Args: args, Value: snapshot}
}

// ValueAt returns the term denoting this chunk's value at a specific
// receiver: the chunk's own Value for a basic chunk (the receiver is
// expected to already match), or an FVF/PSF lookup for a quantified chunk.
func (c Chunk) ValueAt(receiver term.Term) term.Term {
	if !c.IsQuantified() {
		return c.Value
	}
	if c.Kind == KindQuantifiedField {
		return term.FvfLookup(c.ValueFunction, receiver)
	}
	return term.App("$PSF.lookup", c.Value.Sort, c.ValueFunction, receiver)
}
