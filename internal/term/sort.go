package term

import "fmt"

// SortKind identifies one of the closed set of sorts every Term carries
// (spec.md §3.1). Substitution and the smart constructors in term.go rely on
// every well-formed term having exactly one sort.
type SortKind int

const (
	SortBool SortKind = iota
	SortInt
	SortPerm
	SortRef
	SortSnap
	SortSeq
	SortSet
	SortMultiset
	SortFVF  // field-value function: Ref -> Elem
	SortPSF  // predicate-snap function: tuple of Args -> Snap
	SortUser // uninterpreted user/domain sort, identified by Name
)

// Sort is a term's type. Seq/Set/Multiset/FVF carry an element sort; PSF
// carries the argument sorts of the predicate it snapshots.
type Sort struct {
	Kind SortKind
	Elem *Sort  // element sort for Seq/Set/Multiset/FVF
	Args []Sort // predicate argument sorts for PSF
	Name string // uninterpreted sort name, for SortUser
}

// Common ground sorts, safe to share since Sort is a plain value type.
var (
	Bool = Sort{Kind: SortBool}
	Int  = Sort{Kind: SortInt}
	Perm = Sort{Kind: SortPerm}
	Ref  = Sort{Kind: SortRef}
	Snap = Sort{Kind: SortSnap}
)

// SeqOf, SetOf, MultisetOf, and FVFOf construct a parameterised sort.
func SeqOf(elem Sort) Sort      { return Sort{Kind: SortSeq, Elem: &elem} }
func SetOf(elem Sort) Sort      { return Sort{Kind: SortSet, Elem: &elem} }
func MultisetOf(elem Sort) Sort { return Sort{Kind: SortMultiset, Elem: &elem} }
func FVFOf(elem Sort) Sort      { return Sort{Kind: SortFVF, Elem: &elem} }
func PSFOf(args []Sort) Sort    { return Sort{Kind: SortPSF, Args: args} }
func UserSort(name string) Sort { return Sort{Kind: SortUser, Name: name} }

// Equal reports whether two sorts are structurally identical.
func (s Sort) Equal(other Sort) bool {
	if s.Kind != other.Kind {
		return false
	}
	switch s.Kind {
	case SortSeq, SortSet, SortMultiset, SortFVF:
		if (s.Elem == nil) != (other.Elem == nil) {
			return false
		}
		return s.Elem == nil || s.Elem.Equal(*other.Elem)
	case SortPSF:
		if len(s.Args) != len(other.Args) {
			return false
		}
		for i := range s.Args {
			if !s.Args[i].Equal(other.Args[i]) {
				return false
			}
		}
		return true
	case SortUser:
		return s.Name == other.Name
	default:
		return true
	}
}

func (s Sort) String() string {
	switch s.Kind {
	case SortBool:
		return "Bool"
	case SortInt:
		return "Int"
	case SortPerm:
		return "Perm"
	case SortRef:
		return "Ref"
	case SortSnap:
		return "Snap"
	case SortSeq:
		return fmt.Sprintf("Seq(%s)", s.Elem)
	case SortSet:
		return fmt.Sprintf("Set(%s)", s.Elem)
	case SortMultiset:
		return fmt.Sprintf("Multiset(%s)", s.Elem)
	case SortFVF:
		return fmt.Sprintf("FieldValueFunction(%s)", s.Elem)
	case SortPSF:
		return fmt.Sprintf("PredicateSnapFunction(%v)", s.Args)
	case SortUser:
		return s.Name
	default:
		return "<unknown sort>"
	}
}
