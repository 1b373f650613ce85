package translate_test

import (
	"testing"

	"github.com/aledsdavies/symbex/internal/state"
	"github.com/aledsdavies/symbex/internal/term"
	"github.com/aledsdavies/symbex/internal/translate"
)

func TestTranslateVarResolvesFromStore(t *testing.T) {
	st := state.New()
	st.Store = st.Store.Bind("x", term.IntLit(5))

	got := translate.Translate(st, &translate.Expr{Kind: translate.ExprVar, Name: "x"})
	want := term.IntLit(5)
	if !term.Identical(got, want) {
		t.Errorf("Translate(x) = %v, want %v", got, want)
	}
}

func TestTranslateBinOpBuildsArithmetic(t *testing.T) {
	st := state.New()
	e := &translate.Expr{
		Kind:  translate.ExprBinOp,
		BinOp: translate.OpAdd,
		Left:  &translate.Expr{Kind: translate.ExprIntLit, IntVal: 2},
		Right: &translate.Expr{Kind: translate.ExprIntLit, IntVal: 3},
	}
	got := translate.Translate(st, e)
	want := term.Plus(term.IntLit(2), term.IntLit(3))
	if !term.Identical(got, want) {
		t.Errorf("Translate(2+3) = %v, want %v", got, want)
	}
}

func TestTranslateCondBuildsIte(t *testing.T) {
	st := state.New()
	e := &translate.Expr{
		Kind: translate.ExprCond,
		Cond: &translate.Expr{Kind: translate.ExprBoolLit, BoolVal: true},
		Then: &translate.Expr{Kind: translate.ExprIntLit, IntVal: 1},
		Else: &translate.Expr{Kind: translate.ExprIntLit, IntVal: 2},
	}
	got := translate.Translate(st, e)
	// Peephole folding on Ite(True, a, b) collapses it to a.
	want := term.IntLit(1)
	if !term.Identical(got, want) {
		t.Errorf("Translate(true ? 1 : 2) = %v, want %v (peephole fold)", got, want)
	}
}

func TestTranslateUnOpNot(t *testing.T) {
	st := state.New()
	e := &translate.Expr{
		Kind:  translate.ExprUnOp,
		UnOp:  translate.OpNot,
		Inner: &translate.Expr{Kind: translate.ExprBoolLit, BoolVal: false},
	}
	got := translate.Translate(st, e)
	if !term.Identical(got, term.True) {
		t.Errorf("Translate(!false) = %v, want true", got)
	}
}

func TestTranslateOldDelegatesToInner(t *testing.T) {
	st := state.New()
	e := &translate.Expr{
		Kind:  translate.ExprOld,
		Inner: &translate.Expr{Kind: translate.ExprIntLit, IntVal: 7},
	}
	got := translate.Translate(st, e)
	if !term.Identical(got, term.IntLit(7)) {
		t.Errorf("Translate(old(7)) = %v, want 7", got)
	}
}

func TestTranslateFieldAccessPanics(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Fatal("expected panic translating a bare field-access expression")
		}
	}()
	st := state.New()
	translate.Translate(st, &translate.Expr{Kind: translate.ExprField, Field: "f"})
}

func TestTranslateNeq(t *testing.T) {
	st := state.New()
	e := &translate.Expr{
		Kind:  translate.ExprBinOp,
		BinOp: translate.OpNeq,
		Left:  &translate.Expr{Kind: translate.ExprIntLit, IntVal: 1},
		Right: &translate.Expr{Kind: translate.ExprIntLit, IntVal: 1},
	}
	got := translate.Translate(st, e)
	if !term.Identical(got, term.False) {
		t.Errorf("Translate(1 != 1) = %v, want false", got)
	}
}
