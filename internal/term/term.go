// Package term implements the term algebra and sort system described in
// spec.md §3.1 and §4.A: an immutable, structurally comparable representation
// of logical terms over a closed set of sorts, with capture-avoiding
// substitution and a small set of peephole smart constructors.
package term

import (
	"math/big"

	"github.com/aledsdavies/symbex/internal/invariant"
)

// Kind identifies the shape of a Term. Exactly one of the payload fields
// below is meaningful for a given Kind, mirroring the "Kind plus exactly one
// of these" discriminated-union style used throughout this codebase's IR
// types.
type Kind int

const (
	// Literals
	KindIntLit Kind = iota
	KindBoolLit
	KindPermLit
	KindNullLit
	KindUnit // distinguished nullary Snap literal

	// Variables and the quantified-chunk implicit codomain placeholder ?r
	KindVar
	KindCodomain

	// Arithmetic / boolean / relational combinators (n-ary via Args)
	KindPlus
	KindMinus
	KindTimes
	KindDiv
	KindMod
	KindNeg
	KindAnd
	KindOr
	KindNot
	KindImplies
	KindIff
	KindIte
	KindEquals
	KindLess
	KindLessEq
	KindGreater
	KindGreaterEq

	// Permission operations
	KindFullPerm
	KindNoPerm
	KindFractionPerm
	KindPermPlus
	KindPermMinus
	KindPermTimes
	KindPermMin
	KindPermLess
	KindIsPositive

	// Quantification
	KindForall
	KindExists

	// Function application (uninterpreted functions: inverse functions, FVF
	// lookups go through KindFvfLookup instead)
	KindApp

	// Sets / multisets / sequences
	KindSetLit
	KindSetUnion
	KindSetIntersection
	KindSetDifference
	KindSetIn
	KindSetCard
	KindMultisetLit
	KindMultisetCount
	KindSeqLit
	KindSeqIndex
	KindSeqLen
	KindSeqAppend
	KindSeqRange

	// Field-value / predicate-snap functions
	KindFvfLookup // lookup(fvf, receiver)
	KindFvfAfter  // fvf[receiver := value], used when defining an updated FVF

	// Snapshots
	KindCombine // Combine(left, right)

	// Let-binding
	KindLet
)

// BoundVar is a variable bound by a Forall/Exists/Let.
type BoundVar struct {
	Name string
	Sort Sort
}

// Term is an immutable node in the term algebra. Every well-formed Term has
// exactly one Sort (invariant 8.5); substitution and the smart constructors
// preserve it.
type Term struct {
	Kind Kind
	Sort Sort

	// Literal payload: int64 for KindIntLit, bool for KindBoolLit, *big.Rat
	// for KindPermLit. Unused otherwise.
	Lit interface{}

	// KindVar / KindApp: variable or function name. KindCodomain ignores
	// Name (there is exactly one implicit codomain variable per quantified
	// chunk evaluation, disambiguated positionally by the caller).
	Name string

	// Operands, meaning depends on Kind:
	//   unary (Neg, Not, SetCard, SeqLen, IsPositive): Args[0]
	//   binary (Plus, Equals, PermPlus, SeqIndex, ...): Args[0], Args[1]
	//   FvfLookup: Args[0]=fvf, Args[1]=receiver
	//   n-ary (And, Or, SetLit, SeqLit, MultisetLit, App's arguments): Args...
	//   Ite: Args[0]=cond, Args[1]=then, Args[2]=else
	//   FvfAfter: Args[0]=fvf, Args[1]=receiver, Args[2]=value
	//   Combine: Args[0]=left, Args[1]=right
	Args []Term

	// KindForall / KindExists
	Bound    []BoundVar
	Triggers [][]Term
	QID      string

	// KindLet
	LetName string // LetValue = Args[0], LetBody = Args[1]
}

// --- literal and variable constructors ---

func IntLit(v int64) Term   { return Term{Kind: KindIntLit, Sort: Int, Lit: v} }
func BoolLit(v bool) Term   { return Term{Kind: KindBoolLit, Sort: Bool, Lit: v} }
func PermLit(v *big.Rat) Term {
	return Term{Kind: KindPermLit, Sort: Perm, Lit: new(big.Rat).Set(v)}
}
func NullLit() Term { return Term{Kind: KindNullLit, Sort: Ref} }
func UnitLit() Term { return Term{Kind: KindUnit, Sort: Snap} }

var (
	True  = BoolLit(true)
	False = BoolLit(false)
)

// Var constructs a free variable reference.
func Var(name string, sort Sort) Term {
	invariant.Precondition(name != "", "variable name must not be empty")
	return Term{Kind: KindVar, Sort: sort, Name: name}
}

// Codomain constructs the distinguished implicit codomain placeholder used
// in a quantified chunk's permission term (spec.md §9, "?r as an implicit
// codomain variable"). Its sort is the receiver sort of the chunk it belongs
// to (Ref for fields, the predicate's argument tuple sort for predicates).
func Codomain(sort Sort) Term {
	return Term{Kind: KindCodomain, Sort: sort}
}

// --- arithmetic / boolean / relational smart constructors ---

// Plus builds a+b, folding the additive identity.
func Plus(a, b Term) Term {
	if isIntLit(a, 0) {
		return b
	}
	if isIntLit(b, 0) {
		return a
	}
	return Term{Kind: KindPlus, Sort: Int, Args: []Term{a, b}}
}

func Minus(a, b Term) Term {
	if isIntLit(b, 0) {
		return a
	}
	return Term{Kind: KindMinus, Sort: Int, Args: []Term{a, b}}
}

func Times(a, b Term) Term {
	if isIntLit(a, 1) {
		return b
	}
	if isIntLit(b, 1) {
		return a
	}
	return Term{Kind: KindTimes, Sort: Int, Args: []Term{a, b}}
}

func Div(a, b Term) Term { return Term{Kind: KindDiv, Sort: Int, Args: []Term{a, b}} }
func Mod(a, b Term) Term { return Term{Kind: KindMod, Sort: Int, Args: []Term{a, b}} }
func Neg(a Term) Term    { return Term{Kind: KindNeg, Sort: Int, Args: []Term{a}} }

// And builds a conjunction, flattening and dropping True operands, and
// collapsing to False if any operand is False (spec.md §4.A smart
// constructors).
func And(terms ...Term) Term {
	var flat []Term
	for _, t := range terms {
		if isBoolLit(t, false) {
			return False
		}
		if isBoolLit(t, true) {
			continue
		}
		if t.Kind == KindAnd {
			flat = append(flat, t.Args...)
			continue
		}
		flat = append(flat, t)
	}
	switch len(flat) {
	case 0:
		return True
	case 1:
		return flat[0]
	default:
		return Term{Kind: KindAnd, Sort: Bool, Args: flat}
	}
}

func Or(terms ...Term) Term {
	var flat []Term
	for _, t := range terms {
		if isBoolLit(t, true) {
			return True
		}
		if isBoolLit(t, false) {
			continue
		}
		if t.Kind == KindOr {
			flat = append(flat, t.Args...)
			continue
		}
		flat = append(flat, t)
	}
	switch len(flat) {
	case 0:
		return False
	case 1:
		return flat[0]
	default:
		return Term{Kind: KindOr, Sort: Bool, Args: flat}
	}
}

func Not(a Term) Term {
	if isBoolLit(a, true) {
		return False
	}
	if isBoolLit(a, false) {
		return True
	}
	if a.Kind == KindNot {
		return a.Args[0]
	}
	return Term{Kind: KindNot, Sort: Bool, Args: []Term{a}}
}

// Implies builds cond ==> a, short-circuiting a vacuously true antecedent.
func Implies(cond, a Term) Term {
	if isBoolLit(cond, false) || isBoolLit(a, true) {
		return True
	}
	if isBoolLit(cond, true) {
		return a
	}
	return Term{Kind: KindImplies, Sort: Bool, Args: []Term{cond, a}}
}

func Iff(a, b Term) Term { return Term{Kind: KindIff, Sort: Bool, Args: []Term{a, b}} }

// Ite builds an if-then-else, peepholing a literal condition away
// (spec.md §4.A: "Ite(True, a, b) -> a").
func Ite(cond, then, els Term) Term {
	if isBoolLit(cond, true) {
		return then
	}
	if isBoolLit(cond, false) {
		return els
	}
	return Term{Kind: KindIte, Sort: then.Sort, Args: []Term{cond, then, els}}
}

// Equals builds a=b, folding to True for structurally identical operands
// (spec.md §4.A: "Equals(t,t) -> True").
func Equals(a, b Term) Term {
	if Identical(a, b) {
		return True
	}
	return Term{Kind: KindEquals, Sort: Bool, Args: []Term{a, b}}
}

func Less(a, b Term) Term        { return Term{Kind: KindLess, Sort: Bool, Args: []Term{a, b}} }
func LessEq(a, b Term) Term      { return Term{Kind: KindLessEq, Sort: Bool, Args: []Term{a, b}} }
func Greater(a, b Term) Term     { return Term{Kind: KindGreater, Sort: Bool, Args: []Term{a, b}} }
func GreaterEq(a, b Term) Term   { return Term{Kind: KindGreaterEq, Sort: Bool, Args: []Term{a, b}} }

// --- permission operations ---

func FullPerm() Term { return Term{Kind: KindFullPerm, Sort: Perm} }
func NoPerm() Term   { return Term{Kind: KindNoPerm, Sort: Perm} }

func FractionPerm(numerator, denominator Term) Term {
	return Term{Kind: KindFractionPerm, Sort: Perm, Args: []Term{numerator, denominator}}
}

// PermPlus folds the additive identity NoPerm.
func PermPlus(a, b Term) Term {
	if a.Kind == KindNoPerm {
		return b
	}
	if b.Kind == KindNoPerm {
		return a
	}
	return Term{Kind: KindPermPlus, Sort: Perm, Args: []Term{a, b}}
}

func PermMinus(a, b Term) Term {
	if b.Kind == KindNoPerm {
		return a
	}
	return Term{Kind: KindPermMinus, Sort: Perm, Args: []Term{a, b}}
}

// PermTimes folds the multiplicative identity FullPerm.
func PermTimes(a, b Term) Term {
	if a.Kind == KindFullPerm {
		return b
	}
	if b.Kind == KindFullPerm {
		return a
	}
	return Term{Kind: KindPermTimes, Sort: Perm, Args: []Term{a, b}}
}

// PermMin folds min(p, p) -> p.
func PermMin(a, b Term) Term {
	if Identical(a, b) {
		return a
	}
	return Term{Kind: KindPermMin, Sort: Perm, Args: []Term{a, b}}
}

func PermLess(a, b Term) Term { return Term{Kind: KindPermLess, Sort: Bool, Args: []Term{a, b}} }

func IsPositive(a Term) Term {
	if a.Kind == KindFullPerm {
		return True
	}
	if a.Kind == KindNoPerm {
		return False
	}
	return Term{Kind: KindIsPositive, Sort: Bool, Args: []Term{a}}
}

// --- quantification ---

func Forall(bound []BoundVar, body Term, triggers [][]Term, qid string) Term {
	invariant.Precondition(len(bound) > 0, "forall must bind at least one variable")
	return Term{Kind: KindForall, Sort: Bool, Bound: bound, Args: []Term{body}, Triggers: triggers, QID: qid}
}

func Exists(bound []BoundVar, body Term, triggers [][]Term, qid string) Term {
	invariant.Precondition(len(bound) > 0, "exists must bind at least one variable")
	return Term{Kind: KindExists, Sort: Bool, Bound: bound, Args: []Term{body}, Triggers: triggers, QID: qid}
}

// Body returns the quantified formula's body.
func (t Term) Body() Term { return t.Args[0] }

// --- function application ---

func App(name string, resultSort Sort, args ...Term) Term {
	return Term{Kind: KindApp, Sort: resultSort, Name: name, Args: args}
}

// --- sets / multisets / sequences ---

func SetLit(elemSort Sort, elems ...Term) Term {
	return Term{Kind: KindSetLit, Sort: SetOf(elemSort), Args: elems}
}

func SetUnion(a, b Term) Term        { return Term{Kind: KindSetUnion, Sort: a.Sort, Args: []Term{a, b}} }
func SetIntersection(a, b Term) Term { return Term{Kind: KindSetIntersection, Sort: a.Sort, Args: []Term{a, b}} }
func SetDifference(a, b Term) Term   { return Term{Kind: KindSetDifference, Sort: a.Sort, Args: []Term{a, b}} }
func SetIn(elem, set Term) Term      { return Term{Kind: KindSetIn, Sort: Bool, Args: []Term{elem, set}} }
func SetCard(set Term) Term          { return Term{Kind: KindSetCard, Sort: Int, Args: []Term{set}} }

func MultisetLit(elemSort Sort, elems ...Term) Term {
	return Term{Kind: KindMultisetLit, Sort: MultisetOf(elemSort), Args: elems}
}
func MultisetCount(elem, ms Term) Term {
	return Term{Kind: KindMultisetCount, Sort: Int, Args: []Term{elem, ms}}
}

func SeqLit(elemSort Sort, elems ...Term) Term {
	return Term{Kind: KindSeqLit, Sort: SeqOf(elemSort), Args: elems}
}
func SeqIndex(seq, idx Term) Term {
	elem := *seq.Sort.Elem
	return Term{Kind: KindSeqIndex, Sort: elem, Args: []Term{seq, idx}}
}
func SeqLen(seq Term) Term { return Term{Kind: KindSeqLen, Sort: Int, Args: []Term{seq}} }
func SeqAppend(a, b Term) Term {
	return Term{Kind: KindSeqAppend, Sort: a.Sort, Args: []Term{a, b}}
}
func SeqRange(lo, hi Term) Term {
	return Term{Kind: KindSeqRange, Sort: SeqOf(Int), Args: []Term{lo, hi}}
}

// --- field-value / predicate-snap functions ---

// FvfLookup builds lookup(fvf, receiver): the value the field-value function
// fvf associates with receiver.
func FvfLookup(fvf, receiver Term) Term {
	valueSort := *fvf.Sort.Elem
	return Term{Kind: KindFvfLookup, Sort: valueSort, Args: []Term{fvf, receiver}}
}

// FvfAfter builds fvf[receiver := value], used only in definitional axioms,
// never as a heap chunk payload.
func FvfAfter(fvf, receiver, value Term) Term {
	return Term{Kind: KindFvfAfter, Sort: fvf.Sort, Args: []Term{fvf, receiver, value}}
}

// --- snapshots ---

// Combine pairs two snapshots, e.g. the result of consuming a conjunction of
// two assertions (spec.md §4.H).
func Combine(left, right Term) Term {
	if left.Kind == KindUnit {
		return right
	}
	if right.Kind == KindUnit {
		return left
	}
	return Term{Kind: KindCombine, Sort: Snap, Args: []Term{left, right}}
}

// --- let-binding ---

func Let(name string, value, body Term) Term {
	return Term{Kind: KindLet, Sort: body.Sort, LetName: name, Args: []Term{value, body}}
}

// --- helpers ---

func isIntLit(t Term, v int64) bool {
	return t.Kind == KindIntLit && t.Lit.(int64) == v
}

func isBoolLit(t Term, v bool) bool {
	return t.Kind == KindBoolLit && t.Lit.(bool) == v
}

// Identical reports structural (not semantic) equality, used by the
// triviality cache (spec.md §4.C) and by the Equals/PermMin smart
// constructors. Two quantifications are identical only if their bound
// variable lists, bodies, and QIDs match exactly; alpha-equivalence is not
// attempted.
func Identical(a, b Term) bool {
	if a.Kind != b.Kind || !a.Sort.Equal(b.Sort) {
		return false
	}
	switch a.Kind {
	case KindIntLit:
		return a.Lit.(int64) == b.Lit.(int64)
	case KindBoolLit:
		return a.Lit.(bool) == b.Lit.(bool)
	case KindPermLit:
		return a.Lit.(*big.Rat).Cmp(b.Lit.(*big.Rat)) == 0
	case KindVar, KindApp:
		if a.Name != b.Name || len(a.Args) != len(b.Args) {
			return false
		}
	case KindForall, KindExists:
		if a.QID != b.QID || len(a.Bound) != len(b.Bound) {
			return false
		}
		for i := range a.Bound {
			if a.Bound[i].Name != b.Bound[i].Name || !a.Bound[i].Sort.Equal(b.Bound[i].Sort) {
				return false
			}
		}
	case KindLet:
		if a.LetName != b.LetName {
			return false
		}
	case KindNullLit, KindUnit, KindFullPerm, KindNoPerm, KindCodomain:
		return true
	}
	if len(a.Args) != len(b.Args) {
		return false
	}
	for i := range a.Args {
		if !Identical(a.Args[i], b.Args[i]) {
			return false
		}
	}
	return true
}
