package ast_test

import (
	"testing"

	"github.com/aledsdavies/symbex/internal/ast"
	"github.com/aledsdavies/symbex/internal/term"
)

func TestAndFlattensNestedConjunctions(t *testing.T) {
	x := term.Var("x", term.Ref)
	a := ast.FieldAccessPredicate(x, "f", term.FullPerm())
	b := ast.FieldAccessPredicate(x, "g", term.FullPerm())
	c := ast.Pure(term.True)

	got := ast.And(ast.And(a, b), c)
	if len(got.Conjuncts) != 3 {
		t.Fatalf("And flattening produced %d conjuncts, want 3", len(got.Conjuncts))
	}
}

func TestTopLevelConjunctsSingleton(t *testing.T) {
	p := ast.Pure(term.True)
	conjuncts := ast.TopLevelConjuncts(p)
	if len(conjuncts) != 1 {
		t.Fatalf("TopLevelConjuncts(non-And) = %d entries, want 1", len(conjuncts))
	}
}

func TestWhenInhalingExhaling(t *testing.T) {
	inhalePart := ast.Pure(term.True)
	exhalePart := ast.Pure(term.False)
	ie := ast.InhaleExhale(inhalePart, exhalePart)

	if got := ast.WhenInhaling(ie); got.Pure.Lit.(bool) != true {
		t.Errorf("WhenInhaling did not select inhale part")
	}
	if got := ast.WhenExhaling(ie); got.Pure.Lit.(bool) != false {
		t.Errorf("WhenExhaling did not select exhale part")
	}

	plain := ast.Pure(term.True)
	if got := ast.WhenInhaling(plain); got.Kind != ast.KindPure {
		t.Errorf("WhenInhaling on non-inhale-exhale node should return it unchanged")
	}
}
