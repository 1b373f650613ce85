// Package ast defines the closed assertion AST the producer, consumer, and
// translator dispatch on (spec.md §4.G/§4.H/§4.I and §6 External
// Interfaces). This AST is a verified, already-typed representation: the
// surface parser and type-checker that build it are external collaborators
// out of scope for this module (spec.md §1 Non-goals); what is implemented
// here is only the shape these three components traverse.
package ast

import "github.com/aledsdavies/symbex/internal/term"

// Kind discriminates the node shapes the producer/consumer switch on.
type Kind int

const (
	KindAnd Kind = iota
	KindImplies
	KindCondExp
	KindLet
	KindFieldAccessPredicate
	KindPredicateAccessPredicate
	KindQuantifiedPermission
	KindMagicWand
	KindInhaleExhale
	KindPure
)

// Assertion is a node in the assertion language. Exactly one group of
// fields is meaningful for a given Kind, following this codebase's
// "Kind plus exactly one of these" convention.
type Assertion struct {
	Kind Kind

	// KindAnd
	Conjuncts []Assertion

	// KindImplies: Cond guards Then.
	Cond term.Term
	Then Assertion

	// KindCondExp: conditional assertion, If ? Then : Else.
	If   term.Term
	Else Assertion

	// KindLet
	LetName  string
	LetValue term.Term
	LetBody  Assertion

	// KindFieldAccessPredicate: acc(Receiver.Field, Perm)
	Receiver term.Term
	Field    string

	// KindPredicateAccessPredicate: acc(Pred(Args), Perm)
	Pred string
	Args []term.Term

	// Perm is shared by field and predicate access predicates.
	Perm term.Term

	// KindQuantifiedPermission: forall BoundVar :: QCond ==> QBody, where
	// QBody is itself a field or predicate access predicate (or a nested
	// conjunction of them).
	BoundVar term.BoundVar
	QCond    term.Term
	QBody    Assertion
	Triggers [][]term.Term
	QID      string

	// KindMagicWand: Left --* Right.
	Left  Assertion
	Right Assertion
	// WandID identifies this wand's chunk class; computed by the external
	// collaborator that builds this AST from a structural hash of Left/Right
	// so that two source occurrences of the same wand compare equal.
	WandID string

	// KindInhaleExhale: InhalePart is produced during inhale,
	// ExhalePart is consumed during exhale (spec.md §4.I "inhale-exhale
	// expressions", e.g. a function precondition written
	// "[inhaled, exhaled]").
	InhalePart Assertion
	ExhalePart Assertion

	// KindPure wraps a boolean-sorted Term with no permission content.
	Pure term.Term
}

// And constructs a conjunction node, flattening nested conjunctions so
// TopLevelConjuncts never has to recurse through And-of-And chains the
// translator might have produced.
func And(conjuncts ...Assertion) Assertion {
	var flat []Assertion
	for _, c := range conjuncts {
		if c.Kind == KindAnd {
			flat = append(flat, c.Conjuncts...)
			continue
		}
		flat = append(flat, c)
	}
	return Assertion{Kind: KindAnd, Conjuncts: flat}
}

func Implies(cond term.Term, then Assertion) Assertion {
	return Assertion{Kind: KindImplies, Cond: cond, Then: then}
}

func CondExp(ifCond term.Term, then, els Assertion) Assertion {
	return Assertion{Kind: KindCondExp, If: ifCond, Then: then, Else: els}
}

func Let(name string, value term.Term, body Assertion) Assertion {
	return Assertion{Kind: KindLet, LetName: name, LetValue: value, LetBody: body}
}

func FieldAccessPredicate(receiver term.Term, field string, perm term.Term) Assertion {
	return Assertion{Kind: KindFieldAccessPredicate, Receiver: receiver, Field: field, Perm: perm}
}

func PredicateAccessPredicate(pred string, args []term.Term, perm term.Term) Assertion {
	return Assertion{Kind: KindPredicateAccessPredicate, Pred: pred, Args: args, Perm: perm}
}

func QuantifiedPermission(bound term.BoundVar, cond term.Term, body Assertion, triggers [][]term.Term, qid string) Assertion {
	return Assertion{Kind: KindQuantifiedPermission, BoundVar: bound, QCond: cond, QBody: body, Triggers: triggers, QID: qid}
}

func MagicWand(wandID string, left, right Assertion) Assertion {
	return Assertion{Kind: KindMagicWand, WandID: wandID, Left: left, Right: right}
}

func InhaleExhale(inhalePart, exhalePart Assertion) Assertion {
	return Assertion{Kind: KindInhaleExhale, InhalePart: inhalePart, ExhalePart: exhalePart}
}

func Pure(t term.Term) Assertion {
	return Assertion{Kind: KindPure, Pure: t}
}

// TopLevelConjuncts flattens a's top-level And structure into a slice,
// leaving non-conjunction nodes as a singleton (spec.md §6: producer and
// consumer both process a method's precondition/postcondition conjunct by
// conjunct so a failure can be attributed to the specific conjunct that
// caused it).
func TopLevelConjuncts(a Assertion) []Assertion {
	if a.Kind == KindAnd {
		return a.Conjuncts
	}
	return []Assertion{a}
}

// WhenInhaling selects the branch of an inhale-exhale expression relevant to
// producing (spec.md §4.I).
func WhenInhaling(a Assertion) Assertion {
	if a.Kind == KindInhaleExhale {
		return a.InhalePart
	}
	return a
}

// WhenExhaling selects the branch of an inhale-exhale expression relevant to
// consuming.
func WhenExhaling(a Assertion) Assertion {
	if a.Kind == KindInhaleExhale {
		return a.ExhalePart
	}
	return a
}
