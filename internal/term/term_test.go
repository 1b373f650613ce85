package term_test

import (
	"math/big"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/aledsdavies/symbex/internal/term"
)

func TestAndPeephole(t *testing.T) {
	x := term.Var("x", term.Bool)

	if got := term.And(term.True, x); !cmp.Equal(got, x) {
		t.Errorf("And(True, x) = %+v, want x", got)
	}
	if got := term.And(x, term.False); !cmp.Equal(got, term.False) {
		t.Errorf("And(x, False) = %+v, want False", got)
	}
	if got := term.And(); !cmp.Equal(got, term.True) {
		t.Errorf("And() = %+v, want True", got)
	}
	// flattening
	got := term.And(term.And(x, term.True), x)
	want := term.And(x, x)
	if !cmp.Equal(got, want) {
		t.Errorf("And flattening = %+v, want %+v", got, want)
	}
}

func TestItePeephole(t *testing.T) {
	a := term.IntLit(1)
	b := term.IntLit(2)

	if got := term.Ite(term.True, a, b); !cmp.Equal(got, a) {
		t.Errorf("Ite(True, a, b) = %+v, want a", got)
	}
	if got := term.Ite(term.False, a, b); !cmp.Equal(got, b) {
		t.Errorf("Ite(False, a, b) = %+v, want b", got)
	}
}

func TestEqualsPeephole(t *testing.T) {
	x := term.Var("x", term.Int)
	if got := term.Equals(x, x); !cmp.Equal(got, term.True) {
		t.Errorf("Equals(x, x) = %+v, want True", got)
	}
	y := term.Var("y", term.Int)
	got := term.Equals(x, y)
	if got.Kind != term.KindEquals {
		t.Errorf("Equals(x, y) folded unexpectedly: %+v", got)
	}
}

func TestPermArithmeticIdentities(t *testing.T) {
	half := term.FractionPerm(term.IntLit(1), term.IntLit(2))

	if got := term.PermPlus(term.NoPerm(), half); !cmp.Equal(got, half) {
		t.Errorf("PermPlus(NoPerm, p) = %+v, want p", got)
	}
	if got := term.PermPlus(half, term.NoPerm()); !cmp.Equal(got, half) {
		t.Errorf("PermPlus(p, NoPerm) = %+v, want p", got)
	}
	if got := term.PermTimes(term.FullPerm(), half); !cmp.Equal(got, half) {
		t.Errorf("PermTimes(FullPerm, p) = %+v, want p", got)
	}
	if got := term.PermMin(half, half); !cmp.Equal(got, half) {
		t.Errorf("PermMin(p, p) = %+v, want p", got)
	}
	if got := term.IsPositive(term.FullPerm()); !cmp.Equal(got, term.True) {
		t.Errorf("IsPositive(FullPerm) = %+v, want True", got)
	}
	if got := term.IsPositive(term.NoPerm()); !cmp.Equal(got, term.False) {
		t.Errorf("IsPositive(NoPerm) = %+v, want False", got)
	}
}

// TestSubstitutionPreservesSort exercises testable property 5: substituting
// into any well-formed term yields a term with the same sort.
func TestSubstitutionPreservesSort(t *testing.T) {
	x := term.Var("x", term.Ref)
	f := term.App("f", term.Int, x)
	body := term.Equals(f, term.IntLit(0))

	cases := []term.Term{
		x,
		f,
		body,
		term.Ite(term.SetIn(x, term.SetLit(term.Ref, x)), term.IntLit(1), term.IntLit(2)),
		term.Forall([]term.BoundVar{{Name: "y", Sort: term.Ref}}, term.Equals(x, term.Var("y", term.Ref)), nil, "qid"),
	}

	replacement := term.Var("z", term.Ref)
	sub := term.Subst{"x": replacement}

	for i, c := range cases {
		before := c.Sort
		after := sub.Apply(c)
		if !after.Sort.Equal(before) {
			t.Errorf("case %d: substitution changed sort from %s to %s", i, before, after.Sort)
		}
	}
}

func TestSubstitutionAvoidsCapture(t *testing.T) {
	// forall y :: x == y, substituting x -> y should rename the bound y.
	x := term.Var("x", term.Int)
	y := term.Var("y", term.Int)
	forall := term.Forall([]term.BoundVar{{Name: "y", Sort: term.Int}}, term.Equals(x, y), nil, "qid")

	sub := term.Subst{"x": y}
	result := sub.Apply(forall)

	if len(result.Bound) != 1 || result.Bound[0].Name == "y" {
		t.Fatalf("expected bound variable to be renamed away from y, got %+v", result.Bound)
	}
	free := term.FreeVars(result)
	if !free["y"] {
		t.Errorf("expected free variable y to survive substitution, free=%v", free)
	}
}

func TestSubstitutionLeavesBoundShadowedNameAlone(t *testing.T) {
	// forall x :: x == 0, substituting x -> 5 must not touch the bound x.
	forall := term.Forall([]term.BoundVar{{Name: "x", Sort: term.Int}},
		term.Equals(term.Var("x", term.Int), term.IntLit(0)), nil, "qid")

	sub := term.Subst{"x": term.IntLit(5)}
	result := sub.Apply(forall)

	if !cmp.Equal(result, forall) {
		t.Errorf("substitution under shadowing binder changed term: got %+v, want unchanged %+v", result, forall)
	}
}

func TestIdenticalStructural(t *testing.T) {
	a := term.Plus(term.IntLit(1), term.Var("x", term.Int))
	b := term.Plus(term.IntLit(1), term.Var("x", term.Int))
	c := term.Plus(term.IntLit(1), term.Var("y", term.Int))

	if !term.Identical(a, b) {
		t.Errorf("expected structurally identical terms to compare equal")
	}
	if term.Identical(a, c) {
		t.Errorf("expected terms with different variable names to differ")
	}
}

func TestSortEqual(t *testing.T) {
	if !term.SeqOf(term.Int).Equal(term.SeqOf(term.Int)) {
		t.Errorf("Seq(Int) should equal Seq(Int)")
	}
	if term.SeqOf(term.Int).Equal(term.SeqOf(term.Bool)) {
		t.Errorf("Seq(Int) should not equal Seq(Bool)")
	}
	psf1 := term.PSFOf([]term.Sort{term.Int, term.Ref})
	psf2 := term.PSFOf([]term.Sort{term.Int, term.Ref})
	if !psf1.Equal(psf2) {
		t.Errorf("identical PSF argument sorts should compare equal")
	}
}

func TestPermLitPreservesValue(t *testing.T) {
	r := big.NewRat(1, 3)
	lit := term.PermLit(r)
	got := lit.Lit.(*big.Rat)
	if got.Cmp(r) != 0 {
		t.Errorf("PermLit value = %v, want %v", got, r)
	}
	// Mutating the caller's Rat must not affect the stored literal (PermLit
	// copies defensively).
	r.SetFrac64(9, 9)
	if got.Cmp(big.NewRat(1, 3)) != 0 {
		t.Errorf("PermLit aliased caller's *big.Rat")
	}
}

func TestVisitCountsQuantifierTriggers(t *testing.T) {
	trigger := term.App("f", term.Int, term.Var("y", term.Int))
	forall := term.Forall([]term.BoundVar{{Name: "y", Sort: term.Int}},
		term.Equals(trigger, term.IntLit(0)), [][]term.Term{{trigger}}, "qid")

	count := 0
	term.Visit(forall, func(term.Term) { count++ })
	// forall + equals + trigger-app(equals side) + intlit + trigger-app(triggers side) + var(y) x2
	if count == 0 {
		t.Fatalf("Visit did not traverse any nodes")
	}
}
