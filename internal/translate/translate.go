// Package translate implements the pure expression-to-term translator
// (spec.md §4.I): a total function from a typed, already-evaluated pure
// expression AST to a term.Term of the same sort, aborting as a programmer
// error on the one input shape that must never reach it: a bare field read
// (ExprField), which has to be resolved against a heap chunk by the producer
// or consumer instead. Resource assertions (access predicates, magic wands,
// quantified permissions) cannot be expressed in Expr at all.
package translate

import (
	"github.com/aledsdavies/symbex/internal/invariant"
	"github.com/aledsdavies/symbex/internal/state"
	"github.com/aledsdavies/symbex/internal/term"
	"github.com/aledsdavies/symbex/internal/verror"
)

// ExprKind discriminates the pure-expression node shapes this package
// accepts. The surface type-checker that produces expressions of this shape
// from source syntax is an external collaborator (spec.md §1 Non-goals); what
// is implemented here is the translation of its already-typed output.
type ExprKind int

const (
	ExprVar ExprKind = iota
	ExprIntLit
	ExprBoolLit
	ExprNullLit
	ExprBinOp
	ExprUnOp
	ExprCond
	ExprOld   // old(e): evaluates e against a previously-recorded heap snapshot
	ExprField // e.f, a pure field-read (only valid where permission is already held)
)

// BinOp identifies a binary pure-expression operator.
type BinOp int

const (
	OpAdd BinOp = iota
	OpSub
	OpMul
	OpDiv
	OpMod
	OpAnd
	OpOr
	OpEq
	OpNeq
	OpLt
	OpLe
	OpGt
	OpGe
	OpImplies
)

// UnOp identifies a unary pure-expression operator.
type UnOp int

const (
	OpNeg UnOp = iota
	OpNot
)

// Expr is the closed pure-expression AST this package translates.
type Expr struct {
	Kind ExprKind
	Sort term.Sort

	Name string // ExprVar

	IntVal  int64 // ExprIntLit
	BoolVal bool  // ExprBoolLit

	BinOp BinOp
	UnOp  UnOp
	Left  *Expr
	Right *Expr

	Cond *Expr // ExprCond
	Then *Expr
	Else *Expr

	Inner *Expr // ExprOld, ExprUnOp operand

	Receiver *Expr  // ExprField
	Field    string // ExprField
}

// Translate converts e into a term.Term using st's current store to resolve
// variable references. It never returns an error for a well-formed input;
// it panics via invariant on a forbidden expression shape, since by
// construction the type-checker never hands the translator one.
func Translate(st *state.State, e *Expr) term.Term {
	switch e.Kind {
	case ExprVar:
		return st.Store.Get(e.Name)
	case ExprIntLit:
		return term.IntLit(e.IntVal)
	case ExprBoolLit:
		return term.BoolLit(e.BoolVal)
	case ExprNullLit:
		return term.NullLit()
	case ExprBinOp:
		return translateBinOp(st, e)
	case ExprUnOp:
		return translateUnOp(st, e)
	case ExprCond:
		return term.Ite(Translate(st, e.Cond), Translate(st, e.Then), Translate(st, e.Else))
	case ExprOld:
		// A full old-state mechanism requires the heap snapshot the caller
		// took at method entry; this module accepts that snapshot already
		// baked into Inner by the external collaborator that builds this
		// AST (spec.md §1 Non-goals: "the expression evaluator" owns
		// deciding what old() resolves to), so translating ExprOld here is
		// simply translating its already-resolved Inner expression.
		return Translate(st, e.Inner)
	case ExprField:
		invariant.Invariant(false, "forbidden expression reached the translator: bare field read %q must be resolved by the producer/consumer against a heap chunk, not translated directly", e.Field)
		return term.Term{}
	default:
		panic(verror.NewProgrammerError("translator received an unrecognised expression kind", nil))
	}
}

func translateBinOp(st *state.State, e *Expr) term.Term {
	l := Translate(st, e.Left)
	r := Translate(st, e.Right)
	switch e.BinOp {
	case OpAdd:
		return term.Plus(l, r)
	case OpSub:
		return term.Minus(l, r)
	case OpMul:
		return term.Times(l, r)
	case OpDiv:
		return term.Div(l, r)
	case OpMod:
		return term.Mod(l, r)
	case OpAnd:
		return term.And(l, r)
	case OpOr:
		return term.Or(l, r)
	case OpEq:
		return term.Equals(l, r)
	case OpNeq:
		return term.Not(term.Equals(l, r))
	case OpLt:
		return term.Less(l, r)
	case OpLe:
		return term.LessEq(l, r)
	case OpGt:
		return term.Greater(l, r)
	case OpGe:
		return term.GreaterEq(l, r)
	case OpImplies:
		return term.Implies(l, r)
	default:
		invariant.Invariant(false, "unrecognised binary operator %d", e.BinOp)
		return term.Term{}
	}
}

func translateUnOp(st *state.State, e *Expr) term.Term {
	inner := Translate(st, e.Inner)
	switch e.UnOp {
	case OpNeg:
		return term.Neg(inner)
	case OpNot:
		return term.Not(inner)
	default:
		invariant.Invariant(false, "unrecognised unary operator %d", e.UnOp)
		return term.Term{}
	}
}
