package term

// Visit calls fn on t and recursively on every subterm, including quantifier
// bodies and trigger terms. Traversal order is pre-order. Contains is built
// on it.
func Visit(t Term, fn func(Term)) {
	fn(t)
	for _, a := range t.Args {
		Visit(a, fn)
	}
	for _, group := range t.Triggers {
		for _, trig := range group {
			Visit(trig, fn)
		}
	}
}

// Fold reduces t and all its subterms to a single accumulator value,
// folding children before their parent (post-order).
func Fold[A any](t Term, acc A, combine func(A, Term) A) A {
	for _, a := range t.Args {
		acc = Fold(a, acc, combine)
	}
	for _, group := range t.Triggers {
		for _, trig := range group {
			acc = Fold(trig, acc, combine)
		}
	}
	return combine(acc, t)
}

// Transform rebuilds t by applying fn to every subterm bottom-up, allowing
// rewrite passes (e.g. a future trigger generator) to replace nodes without
// hand-rolling recursion at each call site.
func Transform(t Term, fn func(Term) Term) Term {
	switch t.Kind {
	case KindForall, KindExists:
		body := Transform(t.Args[0], fn)
		triggers := make([][]Term, len(t.Triggers))
		for i, group := range t.Triggers {
			newGroup := make([]Term, len(group))
			for j, trig := range group {
				newGroup[j] = Transform(trig, fn)
			}
			triggers[i] = newGroup
		}
		return fn(Term{Kind: t.Kind, Sort: t.Sort, Bound: t.Bound, Args: []Term{body}, Triggers: triggers, QID: t.QID})
	default:
		if len(t.Args) == 0 {
			return fn(t)
		}
		newArgs := make([]Term, len(t.Args))
		for i, a := range t.Args {
			newArgs[i] = Transform(a, fn)
		}
		out := t
		out.Args = newArgs
		return fn(out)
	}
}

// Contains reports whether t or any subterm satisfies pred.
func Contains(t Term, pred func(Term) bool) bool {
	found := false
	Visit(t, func(sub Term) {
		if pred(sub) {
			found = true
		}
	})
	return found
}
