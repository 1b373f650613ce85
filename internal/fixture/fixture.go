// Package fixture decodes the JSON AST fixture format cmd/symbex accepts in
// place of a real parser/type-checker (SPEC_FULL.md §4.O, spec.md §1
// Non-goals: the surface parser is an explicit external collaborator). A
// fixture is the closed assertion/expression tree a verified program would
// already have been type-checked into; decoding it exercises
// internal/translate for every pure sub-expression, since nothing else in
// this pipeline currently has a reason to call it.
package fixture

import (
	"encoding/json"
	"fmt"

	"github.com/aledsdavies/symbex/internal/ast"
	"github.com/aledsdavies/symbex/internal/state"
	"github.com/aledsdavies/symbex/internal/term"
	"github.com/aledsdavies/symbex/internal/translate"
	"github.com/aledsdavies/symbex/internal/verifier"
)

// Program is the top-level fixture document: every method of one source
// file, in the shape `{"methods": [...]}`.
type Program struct {
	Methods []Method `json:"methods"`
}

// Method mirrors verifier.Method before its formals and assertions have
// been resolved into term.Term/ast.Assertion values.
type Method struct {
	Name     string            `json:"name"`
	Formals  map[string]string `json:"formals"` // formal name -> sort keyword
	Requires *Expr             `json:"requires"`
	Body     []Step            `json:"body"`
	Ensures  *Expr             `json:"ensures"`
}

// Step mirrors verifier.Step.
type Step struct {
	Assign string `json:"assign,omitempty"`
	Value  *Expr  `json:"value,omitempty"`
	Assume *Expr  `json:"assume,omitempty"`
}

// Expr is a single tagged-union JSON node. It covers two languages at once:
// pure expressions (var, literals, arithmetic, old, conditional — decoded
// into internal/translate.Expr and resolved via translate.Translate) and
// assertion-level constructs (acc, predicate access, forall, wand,
// conjunction — decoded directly into internal/ast.Assertion). A single
// struct carries both because the fixture format has no separate grammar
// for the two; Kind says which fields are meaningful, following this
// codebase's "Kind plus exactly one of these" convention.
type Expr struct {
	Kind string `json:"kind"`

	// Pure-expression shapes.
	Name    string `json:"name,omitempty"`
	IntVal  *int64 `json:"int,omitempty"`
	BoolVal *bool  `json:"bool,omitempty"`
	Op      string `json:"op,omitempty"`
	Left    *Expr  `json:"left,omitempty"`
	Right   *Expr  `json:"right,omitempty"`
	Cond    *Expr  `json:"cond,omitempty"`
	Then    *Expr  `json:"then,omitempty"`
	Else    *Expr  `json:"else,omitempty"`
	Inner   *Expr  `json:"inner,omitempty"`

	// Assertion-level shapes.
	Receiver  *Expr   `json:"receiver,omitempty"`
	Field     string  `json:"field,omitempty"`
	Perm      *Expr   `json:"perm,omitempty"`
	Conjuncts []*Expr `json:"conjuncts,omitempty"`
	Pred      string  `json:"pred,omitempty"`
	Args      []*Expr `json:"args,omitempty"`
	BoundVar  string  `json:"boundVar,omitempty"`
	BoundSort string  `json:"boundSort,omitempty"`
	QID       string  `json:"qid,omitempty"`
	WandID    string  `json:"wandId,omitempty"`
}

// Decode parses raw JSON into a fixture Program.
func Decode(raw []byte) (*Program, error) {
	var p Program
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, fmt.Errorf("fixture: %w", err)
	}
	return &p, nil
}

// Build resolves a decoded fixture Program into the verifier.Program that
// Verify consumes.
func Build(p *Program) (verifier.Program, error) {
	methods := make([]verifier.Method, 0, len(p.Methods))
	for _, m := range p.Methods {
		vm, err := buildMethod(m)
		if err != nil {
			return verifier.Program{}, fmt.Errorf("fixture: method %q: %w", m.Name, err)
		}
		methods = append(methods, vm)
	}
	return verifier.Program{Methods: methods}, nil
}

func buildMethod(m Method) (verifier.Method, error) {
	formals := make(map[string]term.Term, len(m.Formals))
	store := make(state.Store, len(m.Formals))
	for name, sortName := range m.Formals {
		sort, err := sortFromName(sortName)
		if err != nil {
			return verifier.Method{}, err
		}
		v := term.Var(name, sort)
		formals[name] = v
		store = store.Bind(name, v)
	}
	// scope carries the formals' bindings so "var" expression nodes in the
	// pre/postcondition and body resolve through translate.Translate exactly
	// as a bound program variable would during symbolic execution, rather
	// than needing a separate formal-lookup path.
	scope := &state.State{Store: store}

	requires, err := buildAssertion(scope, m.Requires)
	if err != nil {
		return verifier.Method{}, fmt.Errorf("requires: %w", err)
	}
	ensures, err := buildAssertion(scope, m.Ensures)
	if err != nil {
		return verifier.Method{}, fmt.Errorf("ensures: %w", err)
	}

	body := make([]verifier.Step, 0, len(m.Body))
	for i, s := range m.Body {
		vs, err := buildStep(scope, s)
		if err != nil {
			return verifier.Method{}, fmt.Errorf("body[%d]: %w", i, err)
		}
		body = append(body, vs)
	}

	return verifier.Method{
		Name:          m.Name,
		Formals:       formals,
		Precondition:  requires,
		Body:          body,
		Postcondition: ensures,
	}, nil
}

func buildStep(scope *state.State, s Step) (verifier.Step, error) {
	var vs verifier.Step
	vs.Assign = s.Assign
	if s.Value != nil {
		t, err := buildPureTerm(scope, s.Value)
		if err != nil {
			return verifier.Step{}, err
		}
		vs.Value = t
	}
	if s.Assume != nil {
		t, err := buildPureTerm(scope, s.Assume)
		if err != nil {
			return verifier.Step{}, err
		}
		vs.Assume = &t
	}
	return vs, nil
}

// buildAssertion decodes the assertion-level grammar, delegating to
// buildPureTerm (and so to internal/translate) for every leaf boolean
// expression.
func buildAssertion(scope *state.State, e *Expr) (ast.Assertion, error) {
	if e == nil {
		return ast.Pure(term.True), nil
	}
	switch e.Kind {
	case "and":
		conjuncts := make([]ast.Assertion, 0, len(e.Conjuncts))
		for _, c := range e.Conjuncts {
			a, err := buildAssertion(scope, c)
			if err != nil {
				return ast.Assertion{}, err
			}
			conjuncts = append(conjuncts, a)
		}
		return ast.And(conjuncts...), nil

	case "implies":
		cond, err := buildPureTerm(scope, e.Cond)
		if err != nil {
			return ast.Assertion{}, err
		}
		then, err := buildAssertion(scope, e.Then)
		if err != nil {
			return ast.Assertion{}, err
		}
		return ast.Implies(cond, then), nil

	case "condAssert":
		ifCond, err := buildPureTerm(scope, e.Cond)
		if err != nil {
			return ast.Assertion{}, err
		}
		thenA, err := buildAssertion(scope, e.Then)
		if err != nil {
			return ast.Assertion{}, err
		}
		elseA, err := buildAssertion(scope, e.Else)
		if err != nil {
			return ast.Assertion{}, err
		}
		return ast.CondExp(ifCond, thenA, elseA), nil

	case "acc":
		receiver, err := buildPureTerm(scope, e.Receiver)
		if err != nil {
			return ast.Assertion{}, err
		}
		perm, err := buildPermTerm(scope, e.Perm)
		if err != nil {
			return ast.Assertion{}, err
		}
		return ast.FieldAccessPredicate(receiver, e.Field, perm), nil

	case "predAcc":
		args := make([]term.Term, 0, len(e.Args))
		for _, a := range e.Args {
			t, err := buildPureTerm(scope, a)
			if err != nil {
				return ast.Assertion{}, err
			}
			args = append(args, t)
		}
		perm, err := buildPermTerm(scope, e.Perm)
		if err != nil {
			return ast.Assertion{}, err
		}
		return ast.PredicateAccessPredicate(e.Pred, args, perm), nil

	case "forallAcc":
		sort, err := sortFromName(e.BoundSort)
		if err != nil {
			return ast.Assertion{}, err
		}
		bound := term.BoundVar{Name: e.BoundVar, Sort: sort}
		// The bound variable is visible inside Cond/Then only; it is added to
		// a child scope derived from the method-level one so sibling
		// assertions never see it leak.
		inner := &state.State{Store: scope.Store.Bind(e.BoundVar, term.Var(e.BoundVar, sort))}
		cond, err := buildPureTerm(inner, e.Cond)
		if err != nil {
			return ast.Assertion{}, err
		}
		body, err := buildAssertion(inner, e.Then)
		if err != nil {
			return ast.Assertion{}, err
		}
		return ast.QuantifiedPermission(bound, cond, body, nil, e.QID), nil

	case "wand":
		left, err := buildAssertion(scope, e.wandLeft())
		if err != nil {
			return ast.Assertion{}, err
		}
		right, err := buildAssertion(scope, e.wandRight())
		if err != nil {
			return ast.Assertion{}, err
		}
		return ast.MagicWand(e.WandID, left, right), nil

	default:
		// Not one of the resource-bearing assertion shapes: treat e as a
		// plain boolean-sorted pure expression (covers both the explicit
		// {"kind":"pure", ...} wrapper, via e.Inner, and a bare leaf like
		// {"kind":"bool","bool":true} used directly as an assertion).
		pureExpr := e
		if e.Kind == "pure" {
			pureExpr = e.Inner
		}
		t, err := buildPureTerm(scope, pureExpr)
		if err != nil {
			return ast.Assertion{}, fmt.Errorf("unknown assertion kind %q: %w", e.Kind, err)
		}
		return ast.Pure(t), nil
	}
}

// wandLeft/wandRight read the wand's two assertion operands, which the JSON
// format stores in the pure-expression Left/Right fields to avoid a third
// pair of field names for the one construct that needs it.
func (e *Expr) wandLeft() *Expr  { return e.Left }
func (e *Expr) wandRight() *Expr { return e.Right }

func buildPermTerm(scope *state.State, e *Expr) (term.Term, error) {
	if e == nil {
		return term.FullPerm(), nil
	}
	switch e.Kind {
	case "full", "write":
		return term.FullPerm(), nil
	case "none":
		return term.NoPerm(), nil
	case "frac":
		num, err := buildPureTerm(scope, e.Left)
		if err != nil {
			return term.Term{}, err
		}
		den, err := buildPureTerm(scope, e.Right)
		if err != nil {
			return term.Term{}, err
		}
		return term.FractionPerm(num, den), nil
	default:
		return buildPureTerm(scope, e)
	}
}

// buildPureTerm decodes e as a pure expression and resolves it into a
// term.Term via internal/translate, against scope's formal/bound-variable
// store — the same Store.Get path a producer/consumer-driven translation
// would use for a program variable reference.
func buildPureTerm(scope *state.State, e *Expr) (term.Term, error) {
	te, err := buildTranslateExpr(e)
	if err != nil {
		return term.Term{}, err
	}
	return translate.Translate(scope, te), nil
}

func buildTranslateExpr(e *Expr) (*translate.Expr, error) {
	if e == nil {
		return &translate.Expr{Kind: translate.ExprBoolLit, BoolVal: true}, nil
	}
	switch e.Kind {
	case "var":
		return &translate.Expr{Kind: translate.ExprVar, Name: e.Name}, nil
	case "int":
		if e.IntVal == nil {
			return nil, fmt.Errorf("int node missing \"int\" field")
		}
		return &translate.Expr{Kind: translate.ExprIntLit, IntVal: *e.IntVal}, nil
	case "bool":
		if e.BoolVal == nil {
			return nil, fmt.Errorf("bool node missing \"bool\" field")
		}
		return &translate.Expr{Kind: translate.ExprBoolLit, BoolVal: *e.BoolVal}, nil
	case "null":
		return &translate.Expr{Kind: translate.ExprNullLit}, nil
	case "binop":
		op, err := binOpFromName(e.Op)
		if err != nil {
			return nil, err
		}
		left, err := buildTranslateExpr(e.Left)
		if err != nil {
			return nil, err
		}
		right, err := buildTranslateExpr(e.Right)
		if err != nil {
			return nil, err
		}
		return &translate.Expr{Kind: translate.ExprBinOp, BinOp: op, Left: left, Right: right}, nil
	case "not":
		inner, err := buildTranslateExpr(e.Inner)
		if err != nil {
			return nil, err
		}
		return &translate.Expr{Kind: translate.ExprUnOp, UnOp: translate.OpNot, Inner: inner}, nil
	case "neg":
		inner, err := buildTranslateExpr(e.Inner)
		if err != nil {
			return nil, err
		}
		return &translate.Expr{Kind: translate.ExprUnOp, UnOp: translate.OpNeg, Inner: inner}, nil
	case "cond":
		cond, err := buildTranslateExpr(e.Cond)
		if err != nil {
			return nil, err
		}
		then, err := buildTranslateExpr(e.Then)
		if err != nil {
			return nil, err
		}
		els, err := buildTranslateExpr(e.Else)
		if err != nil {
			return nil, err
		}
		return &translate.Expr{Kind: translate.ExprCond, Cond: cond, Then: then, Else: els}, nil
	case "old":
		inner, err := buildTranslateExpr(e.Inner)
		if err != nil {
			return nil, err
		}
		return &translate.Expr{Kind: translate.ExprOld, Inner: inner}, nil
	default:
		return nil, fmt.Errorf("unknown pure expression kind %q", e.Kind)
	}
}

func binOpFromName(name string) (translate.BinOp, error) {
	switch name {
	case "+":
		return translate.OpAdd, nil
	case "-":
		return translate.OpSub, nil
	case "*":
		return translate.OpMul, nil
	case "/":
		return translate.OpDiv, nil
	case "%":
		return translate.OpMod, nil
	case "&&":
		return translate.OpAnd, nil
	case "||":
		return translate.OpOr, nil
	case "==":
		return translate.OpEq, nil
	case "!=":
		return translate.OpNeq, nil
	case "<":
		return translate.OpLt, nil
	case "<=":
		return translate.OpLe, nil
	case ">":
		return translate.OpGt, nil
	case ">=":
		return translate.OpGe, nil
	case "==>":
		return translate.OpImplies, nil
	default:
		return 0, fmt.Errorf("unknown binary operator %q", name)
	}
}

func sortFromName(name string) (term.Sort, error) {
	switch name {
	case "Bool":
		return term.Bool, nil
	case "Int":
		return term.Int, nil
	case "Perm":
		return term.Perm, nil
	case "Ref":
		return term.Ref, nil
	case "Snap":
		return term.Snap, nil
	case "Set[Ref]":
		return term.SetOf(term.Ref), nil
	case "Seq[Ref]":
		return term.SeqOf(term.Ref), nil
	case "Multiset[Ref]":
		return term.MultisetOf(term.Ref), nil
	default:
		return term.Sort{}, fmt.Errorf("unknown sort %q", name)
	}
}
