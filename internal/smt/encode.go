package smt

import (
	"fmt"
	"math/big"
	"strings"

	"github.com/aledsdavies/symbex/internal/invariant"
	"github.com/aledsdavies/symbex/internal/term"
)

// SortString renders a Sort as an SMT-LIB2 sort expression. Seq/Set/Multiset
// always render as (Seq T)/(Set T)/(Multiset T); there is no fallback to an
// uninterpreted sort for a backend that lacks one of those theories.
func SortString(s term.Sort) string {
	switch s.Kind {
	case term.SortBool:
		return "Bool"
	case term.SortInt:
		return "Int"
	case term.SortPerm:
		return "Real"
	case term.SortRef:
		return "$Ref"
	case term.SortSnap:
		return "$Snap"
	case term.SortSeq:
		return fmt.Sprintf("(Seq %s)", SortString(*s.Elem))
	case term.SortSet:
		return fmt.Sprintf("(Set %s)", SortString(*s.Elem))
	case term.SortMultiset:
		return fmt.Sprintf("(Multiset %s)", SortString(*s.Elem))
	case term.SortFVF:
		return fmt.Sprintf("($FVF<%s> $Ref)", SortString(*s.Elem))
	case term.SortPSF:
		args := make([]string, len(s.Args))
		for i, a := range s.Args {
			args[i] = SortString(a)
		}
		return fmt.Sprintf("($PSF<%s>)", strings.Join(args, " "))
	case term.SortUser:
		return s.Name
	default:
		invariant.Invariant(false, "unrenderable sort kind %d", s.Kind)
		return ""
	}
}

// Expr renders a Term as an SMT-LIB2 s-expression. This is a pure, total
// function: it never rejects a well-formed term, but panics via invariant on
// a malformed one, since by the time a term reaches the solver it has
// already passed through the producer/consumer/translator.
func Expr(t term.Term) string {
	var b strings.Builder
	writeExpr(&b, t)
	return b.String()
}

func writeExpr(b *strings.Builder, t term.Term) {
	switch t.Kind {
	case term.KindIntLit:
		fmt.Fprintf(b, "%d", t.Lit.(int64))
	case term.KindBoolLit:
		if t.Lit.(bool) {
			b.WriteString("true")
		} else {
			b.WriteString("false")
		}
	case term.KindPermLit:
		r := t.Lit.(*big.Rat)
		fmt.Fprintf(b, "(/ %s %s)", r.Num().String(), r.Denom().String())
	case term.KindNullLit:
		b.WriteString("$Ref.null")
	case term.KindUnit:
		b.WriteString("$Snap.unit")
	case term.KindVar, term.KindCodomain:
		if t.Kind == term.KindCodomain {
			b.WriteString("?r")
			return
		}
		b.WriteString(t.Name)
	case term.KindNot:
		writeApp(b, "not", t.Args)
	case term.KindAnd:
		writeApp(b, "and", t.Args)
	case term.KindOr:
		writeApp(b, "or", t.Args)
	case term.KindImplies:
		writeApp(b, "=>", t.Args)
	case term.KindIff:
		writeApp(b, "=", t.Args)
	case term.KindIte:
		writeApp(b, "ite", t.Args)
	case term.KindEquals:
		writeApp(b, "=", t.Args)
	case term.KindLess, term.KindPermLess:
		writeApp(b, "<", t.Args)
	case term.KindLessEq:
		writeApp(b, "<=", t.Args)
	case term.KindGreater:
		writeApp(b, ">", t.Args)
	case term.KindGreaterEq:
		writeApp(b, ">=", t.Args)
	case term.KindPlus, term.KindPermPlus:
		writeApp(b, "+", t.Args)
	case term.KindMinus, term.KindPermMinus:
		writeApp(b, "-", t.Args)
	case term.KindTimes, term.KindPermTimes:
		writeApp(b, "*", t.Args)
	case term.KindDiv:
		writeApp(b, "div", t.Args)
	case term.KindMod:
		writeApp(b, "mod", t.Args)
	case term.KindNeg:
		writeApp(b, "-", t.Args)
	case term.KindFullPerm:
		b.WriteString("1.0")
	case term.KindNoPerm:
		b.WriteString("0.0")
	case term.KindFractionPerm:
		writeApp(b, "/", t.Args)
	case term.KindPermMin:
		writeApp(b, "min", t.Args)
	case term.KindIsPositive:
		fmt.Fprintf(b, "(> %s 0.0)", Expr(t.Args[0]))
	case term.KindApp:
		if len(t.Args) == 0 {
			b.WriteString(t.Name)
			return
		}
		writeApp(b, t.Name, t.Args)
	case term.KindSetLit:
		writeCollectionLit(b, "$Set.empty", "$Set.insert", t)
	case term.KindSetUnion:
		writeApp(b, "$Set.union", t.Args)
	case term.KindSetIntersection:
		writeApp(b, "$Set.intersection", t.Args)
	case term.KindSetDifference:
		writeApp(b, "$Set.difference", t.Args)
	case term.KindSetIn:
		writeApp(b, "$Set.in", t.Args)
	case term.KindSetCard:
		writeApp(b, "$Set.card", t.Args)
	case term.KindMultisetLit:
		writeCollectionLit(b, "$Multiset.empty", "$Multiset.insert", t)
	case term.KindMultisetCount:
		writeApp(b, "$Multiset.count", t.Args)
	case term.KindSeqLit:
		writeCollectionLit(b, "$Seq.empty", "$Seq.append1", t)
	case term.KindSeqIndex:
		writeApp(b, "$Seq.index", t.Args)
	case term.KindSeqLen:
		writeApp(b, "$Seq.len", t.Args)
	case term.KindSeqAppend:
		writeApp(b, "$Seq.append", t.Args)
	case term.KindSeqRange:
		writeApp(b, "$Seq.range", t.Args)
	case term.KindFvfLookup:
		writeApp(b, "$FVF.lookup", t.Args)
	case term.KindFvfAfter:
		writeApp(b, "$FVF.after", t.Args)
	case term.KindCombine:
		writeApp(b, "$Snap.combine", t.Args)
	case term.KindLet:
		fmt.Fprintf(b, "(let ((%s %s)) %s)", t.LetName, Expr(t.Args[0]), Expr(t.Args[1]))
	case term.KindForall, term.KindExists:
		writeQuantifier(b, t)
	default:
		invariant.Invariant(false, "unrenderable term kind %d", t.Kind)
	}
}

func writeApp(b *strings.Builder, op string, args []term.Term) {
	b.WriteByte('(')
	b.WriteString(op)
	for _, a := range args {
		b.WriteByte(' ')
		writeExpr(b, a)
	}
	b.WriteByte(')')
}

func writeCollectionLit(b *strings.Builder, empty, insert string, t term.Term) {
	if len(t.Args) == 0 {
		b.WriteString(empty)
		return
	}
	for range t.Args {
		b.WriteByte('(')
		b.WriteString(insert)
		b.WriteByte(' ')
	}
	b.WriteString(empty)
	for _, a := range t.Args {
		b.WriteByte(' ')
		writeExpr(b, a)
		b.WriteByte(')')
	}
}

func writeQuantifier(b *strings.Builder, t term.Term) {
	quant := "forall"
	if t.Kind == term.KindExists {
		quant = "exists"
	}
	fmt.Fprintf(b, "(%s (", quant)
	for i, bv := range t.Bound {
		if i > 0 {
			b.WriteByte(' ')
		}
		fmt.Fprintf(b, "(%s %s)", bv.Name, SortString(bv.Sort))
	}
	b.WriteString(") ")

	body := t.Args[0]
	if len(t.Triggers) > 0 || t.QID != "" {
		b.WriteString("(! ")
		writeExpr(b, body)
		for _, group := range t.Triggers {
			b.WriteString(" :pattern (")
			for i, trig := range group {
				if i > 0 {
					b.WriteByte(' ')
				}
				writeExpr(b, trig)
			}
			b.WriteByte(')')
		}
		if t.QID != "" {
			fmt.Fprintf(b, " :qid %s", t.QID)
		}
		b.WriteByte(')')
	} else {
		writeExpr(b, body)
	}
	b.WriteByte(')')
}

// DeclareFun renders a (declare-fun ...) command for an uninterpreted
// function of the given name, argument sorts, and result sort.
func DeclareFun(name string, argSorts []term.Sort, result term.Sort) string {
	parts := make([]string, len(argSorts))
	for i, s := range argSorts {
		parts[i] = SortString(s)
	}
	return fmt.Sprintf("(declare-fun %s (%s) %s)", name, strings.Join(parts, " "), SortString(result))
}

// DeclareConst renders a (declare-const ...) command, used for fresh
// zero-arity symbols (spec.md §4.C "fresh symbol minting").
func DeclareConst(name string, sort term.Sort) string {
	return fmt.Sprintf("(declare-const %s %s)", name, SortString(sort))
}

// AssertCommand renders a (assert ...) command.
func AssertCommand(t term.Term) string {
	return fmt.Sprintf("(assert %s)", Expr(t))
}
