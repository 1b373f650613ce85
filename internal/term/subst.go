package term

// Subst is a capture-avoiding substitution from variable names to terms,
// applied by the quantified-chunk supporter (internal/qp) to instantiate a
// chunk's permission at a receiver and to rename a quantified variable
// (spec.md §4.A, testable property 5: "substitution preserves sort").
type Subst map[string]Term

// Apply substitutes free occurrences of variables in t according to s,
// renaming bound variables that would otherwise capture a substituted term's
// free variables.
func (s Subst) Apply(t Term) Term {
	if len(s) == 0 {
		return t
	}
	switch t.Kind {
	case KindVar:
		if replacement, ok := s[t.Name]; ok {
			return replacement
		}
		return t
	case KindForall, KindExists:
		return s.applyQuantifier(t)
	case KindLet:
		value := s.Apply(t.Args[0])
		inner := s.withoutBinding(t.LetName)
		body := inner.Apply(t.Args[1])
		return Term{Kind: t.Kind, Sort: t.Sort, LetName: t.LetName, Args: []Term{value, body}}
	default:
		if len(t.Args) == 0 {
			return t
		}
		newArgs := make([]Term, len(t.Args))
		for i, a := range t.Args {
			newArgs[i] = s.Apply(a)
		}
		out := t
		out.Args = newArgs
		return out
	}
}

// withoutBinding returns a copy of s with name removed, used when descending
// under a binder for that name.
func (s Subst) withoutBinding(name string) Subst {
	if _, shadowed := s[name]; !shadowed {
		return s
	}
	inner := make(Subst, len(s)-1)
	for k, v := range s {
		if k != name {
			inner[k] = v
		}
	}
	return inner
}

// applyQuantifier substitutes under a Forall/Exists, renaming any bound
// variable whose name collides with a free variable introduced by the
// substitution's range, avoiding capture.
func (s Subst) applyQuantifier(t Term) Term {
	inner := s
	renamed := make([]BoundVar, len(t.Bound))
	renaming := Subst{}
	for i, bv := range t.Bound {
		if _, shadowed := s[bv.Name]; shadowed {
			inner = inner.withoutBinding(bv.Name)
		}
		if capturesFreeVar(s, bv.Name) {
			fresh := bv.Name + "$"
			renaming[bv.Name] = Var(fresh, bv.Sort)
			renamed[i] = BoundVar{Name: fresh, Sort: bv.Sort}
		} else {
			renamed[i] = bv
		}
	}
	body := t.Args[0]
	if len(renaming) > 0 {
		body = renaming.Apply(body)
	}
	body = inner.Apply(body)

	var triggers [][]Term
	if t.Triggers != nil {
		triggers = make([][]Term, len(t.Triggers))
	}
	for i, group := range t.Triggers {
		newGroup := make([]Term, len(group))
		for j, trig := range group {
			if len(renaming) > 0 {
				trig = renaming.Apply(trig)
			}
			newGroup[j] = inner.Apply(trig)
		}
		triggers[i] = newGroup
	}

	return Term{Kind: t.Kind, Sort: t.Sort, Bound: renamed, Args: []Term{body}, Triggers: triggers, QID: t.QID}
}

// capturesFreeVar reports whether substituting s's range terms into a scope
// binding boundName would capture a free occurrence of boundName introduced
// by one of s's replacement terms.
func capturesFreeVar(s Subst, boundName string) bool {
	for k, v := range s {
		if k == boundName {
			continue
		}
		if FreeVars(v)[boundName] {
			return true
		}
	}
	return false
}

// FreeVars returns the set of free variable names occurring in t.
func FreeVars(t Term) map[string]bool {
	free := map[string]bool{}
	collectFreeVars(t, map[string]bool{}, free)
	return free
}

func collectFreeVars(t Term, bound map[string]bool, out map[string]bool) {
	switch t.Kind {
	case KindVar:
		if !bound[t.Name] {
			out[t.Name] = true
		}
	case KindForall, KindExists:
		inner := make(map[string]bool, len(bound)+len(t.Bound))
		for k := range bound {
			inner[k] = true
		}
		for _, bv := range t.Bound {
			inner[bv.Name] = true
		}
		collectFreeVars(t.Args[0], inner, out)
		for _, group := range t.Triggers {
			for _, trig := range group {
				collectFreeVars(trig, inner, out)
			}
		}
	case KindLet:
		collectFreeVars(t.Args[0], bound, out)
		inner := make(map[string]bool, len(bound)+1)
		for k := range bound {
			inner[k] = true
		}
		inner[t.LetName] = true
		collectFreeVars(t.Args[1], inner, out)
	default:
		for _, a := range t.Args {
			collectFreeVars(a, bound, out)
		}
	}
}
