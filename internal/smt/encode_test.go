package smt_test

import (
	"math/big"
	"testing"

	"github.com/aledsdavies/symbex/internal/smt"
	"github.com/aledsdavies/symbex/internal/term"
)

func TestExprLiterals(t *testing.T) {
	cases := []struct {
		t    term.Term
		want string
	}{
		{term.IntLit(42), "42"},
		{term.True, "true"},
		{term.False, "false"},
		{term.NullLit(), "$Ref.null"},
		{term.UnitLit(), "$Snap.unit"},
		{term.PermLit(big.NewRat(1, 2)), "(/ 1 2)"},
		{term.FullPerm(), "1.0"},
		{term.NoPerm(), "0.0"},
	}
	for _, tc := range cases {
		if got := smt.Expr(tc.t); got != tc.want {
			t.Errorf("Expr(%+v) = %q, want %q", tc.t, got, tc.want)
		}
	}
}

func TestExprBinary(t *testing.T) {
	x := term.Var("x", term.Int)
	y := term.Var("y", term.Int)
	got := smt.Expr(term.Equals(x, y))
	want := "(= x y)"
	if got != want {
		t.Errorf("Expr(x=y) = %q, want %q", got, want)
	}
}

func TestExprForallWithTrigger(t *testing.T) {
	x := term.Var("x", term.Ref)
	trigger := term.App("f", term.Int, x)
	forall := term.Forall(
		[]term.BoundVar{{Name: "x", Sort: term.Ref}},
		term.GreaterEq(trigger, term.IntLit(0)),
		[][]term.Term{{trigger}},
		"qid-f-nonneg",
	)
	got := smt.Expr(forall)
	want := "(forall ((x $Ref)) (! (>= (f x) 0) :pattern ((f x)) :qid qid-f-nonneg))"
	if got != want {
		t.Errorf("Expr(forall) = %q, want %q", got, want)
	}
}

func TestSortStringParameterized(t *testing.T) {
	cases := []struct {
		s    term.Sort
		want string
	}{
		{term.Int, "Int"},
		{term.Bool, "Bool"},
		{term.Perm, "Real"},
		{term.Ref, "$Ref"},
		{term.Snap, "$Snap"},
		{term.SeqOf(term.Int), "(Seq Int)"},
		{term.SetOf(term.Ref), "(Set $Ref)"},
		{term.FVFOf(term.Int), "($FVF<Int> $Ref)"},
	}
	for _, tc := range cases {
		if got := smt.SortString(tc.s); got != tc.want {
			t.Errorf("SortString(%v) = %q, want %q", tc.s, got, tc.want)
		}
	}
}

func TestDeclareFunAndConst(t *testing.T) {
	got := smt.DeclareFun("inv_f", []term.Sort{term.Int}, term.Ref)
	want := "(declare-fun inv_f (Int) $Ref)"
	if got != want {
		t.Errorf("DeclareFun = %q, want %q", got, want)
	}

	gotConst := smt.DeclareConst("x", term.Int)
	wantConst := "(declare-const x Int)"
	if gotConst != wantConst {
		t.Errorf("DeclareConst = %q, want %q", gotConst, wantConst)
	}
}

func TestAssertCommand(t *testing.T) {
	got := smt.AssertCommand(term.IsPositive(term.Var("p", term.Perm)))
	want := "(assert (> p 0.0))"
	if got != want {
		t.Errorf("AssertCommand = %q, want %q", got, want)
	}
}
