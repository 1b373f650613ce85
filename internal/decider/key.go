package decider

import (
	"github.com/aledsdavies/symbex/internal/smt"
	"github.com/aledsdavies/symbex/internal/term"
)

// smtKeyOf derives a triviality-cache key from a term's rendered SMT-LIB2
// text. Two structurally identical terms render identically, which is all
// the cache needs: it only ever records conjuncts this Decider itself has
// Assume'd or proven, never terms from another process.
func smtKeyOf(t term.Term) string {
	return smt.Expr(t)
}
