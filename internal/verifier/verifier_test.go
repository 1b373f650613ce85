package verifier_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/aledsdavies/symbex/internal/ast"
	"github.com/aledsdavies/symbex/internal/config"
	"github.com/aledsdavies/symbex/internal/consumer"
	"github.com/aledsdavies/symbex/internal/decider"
	"github.com/aledsdavies/symbex/internal/producer"
	"github.com/aledsdavies/symbex/internal/qp"
	"github.com/aledsdavies/symbex/internal/smt"
	"github.com/aledsdavies/symbex/internal/state"
	"github.com/aledsdavies/symbex/internal/term"
	"github.com/aledsdavies/symbex/internal/verifier"
	"github.com/aledsdavies/symbex/internal/verror"
)

// fakeSolver writes a bash-script stand-in solver that answers every
// check-sat query with answer. Grounded on the same fake-subprocess pattern used throughout
// internal/decider, internal/qp, internal/producer, internal/consumer.
func fakeSolver(t *testing.T, answer string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "fake-solver.sh")
	script := `#!/bin/bash
while IFS= read -r line; do
  case "$line" in
    "(check-sat)"|"(check-sat-assuming"*) echo "` + answer + `" ;;
    "(exit)") exit 0 ;;
    *) echo "success" ;;
  esac
done
`
	if err := os.WriteFile(path, []byte(script), 0o755); err != nil {
		t.Fatalf("write fake solver: %v", err)
	}
	return path
}

func testConfig(t *testing.T, answer string) *config.Config {
	t.Helper()
	cfg := config.Defaults()
	cfg.Z3Exe = "bash"
	cfg.Z3Args = []string{fakeSolver(t, answer)}
	cfg.MaxParallelMethods = 2
	return cfg
}

// TestScenario1BasicFieldTransfer is spec.md §8 scenario 1.
func TestScenario1BasicFieldTransfer(t *testing.T) {
	x := term.Var("x", term.Ref)
	program := verifier.Program{Methods: []verifier.Method{{
		Name:          "m",
		Formals:       map[string]term.Term{"x": x},
		Precondition:  ast.FieldAccessPredicate(x, "f", term.FullPerm()),
		Postcondition: ast.FieldAccessPredicate(x, "f", term.FullPerm()),
	}}}

	report, err := verifier.Verify(context.Background(), program, testConfig(t, "unsat"))
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if report.ExitCode() != 0 {
		t.Fatalf("ExitCode() = %d, want 0; methods = %+v", report.ExitCode(), report.Methods)
	}
	if report.Methods[0].Outcome != verifier.OutcomeVerified {
		t.Errorf("Outcome = %v, want verified", report.Methods[0].Outcome)
	}
}

// TestScenario2InsufficientPermission is spec.md §8 scenario 2.
func TestScenario2InsufficientPermission(t *testing.T) {
	x := term.Var("x", term.Ref)
	half := term.FractionPerm(term.IntLit(1), term.IntLit(2))
	program := verifier.Program{Methods: []verifier.Method{{
		Name:          "m",
		Formals:       map[string]term.Term{"x": x},
		Precondition:  ast.FieldAccessPredicate(x, "f", half),
		Postcondition: ast.FieldAccessPredicate(x, "f", term.FullPerm()),
	}}}

	report, err := verifier.Verify(context.Background(), program, testConfig(t, "sat"))
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if report.ExitCode() != 1 {
		t.Fatalf("ExitCode() = %d, want 1", report.ExitCode())
	}
	mr := report.Methods[0]
	if mr.Outcome != verifier.OutcomeFailed {
		t.Fatalf("Outcome = %v, want failed", mr.Outcome)
	}
	if mr.Result.Cause.GetType() != verror.ErrInsufficientPermission {
		t.Errorf("Cause.GetType() = %q, want %q", mr.Result.Cause.GetType(), verror.ErrInsufficientPermission)
	}
}

// TestScenario3QuantifiedPermissionRange is spec.md §8 scenario 3.
func TestScenario3QuantifiedPermissionRange(t *testing.T) {
	r := term.Var("r", term.Ref)
	s := term.Var("s", term.SetOf(term.Ref))
	inS := term.SetIn(r, s)

	quantified := func() ast.Assertion {
		return ast.QuantifiedPermission(
			term.BoundVar{Name: "r", Sort: term.Ref},
			inS,
			ast.FieldAccessPredicate(r, "f", term.FullPerm()),
			[][]term.Term{{r}},
			"scenario3",
		)
	}

	program := verifier.Program{Methods: []verifier.Method{{
		Name:          "m",
		Formals:       map[string]term.Term{"s": s},
		Precondition:  quantified(),
		Postcondition: quantified(),
	}}}

	report, err := verifier.Verify(context.Background(), program, testConfig(t, "unsat"))
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if report.Methods[0].Outcome != verifier.OutcomeVerified {
		t.Fatalf("Outcome = %v, want verified; result = %+v", report.Methods[0].Outcome, report.Methods[0].Result)
	}
}

// TestScenario4InjectivityViolation is spec.md §8 scenario 4: a forall whose
// receiver expression (a[0], constant in the bound variable i) can never be
// proven injective.
func TestScenario4InjectivityViolation(t *testing.T) {
	a := term.Var("a", term.SeqOf(term.Ref))
	i := term.Var("i", term.Int)
	cond := term.And(term.LessEq(term.IntLit(0), i), term.Less(i, term.SeqLen(a)))
	nonInjectiveReceiver := term.SeqIndex(a, term.IntLit(0)) // constant regardless of i

	quantified := ast.QuantifiedPermission(
		term.BoundVar{Name: "i", Sort: term.Int},
		cond,
		ast.FieldAccessPredicate(nonInjectiveReceiver, "f", term.FullPerm()),
		nil,
		"scenario4",
	)

	// The precondition inhales the same quantified permission: per spec.md §9
	// design note (c) the producer never checks injectivity on inhale, so
	// this succeeds and leaves a quantified chunk in the heap. Only the
	// postcondition's exhale of that chunk runs the injectivity check, which
	// is where spec.md §8 scenario 4 expects the failure to surface.
	program := verifier.Program{Methods: []verifier.Method{{
		Name:          "m",
		Formals:       map[string]term.Term{"a": a},
		Precondition:  quantified,
		Postcondition: quantified,
	}}}

	// "sat" here means a counterexample to injectivity is found (the receiver
	// genuinely doesn't depend on i), so the injectivity check must fail.
	report, err := verifier.Verify(context.Background(), program, testConfig(t, "sat"))
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	mr := report.Methods[0]
	if mr.Outcome != verifier.OutcomeFailed {
		t.Fatalf("Outcome = %v, want failed", mr.Outcome)
	}
	if mr.Result.Cause.GetType() != verror.ErrReceiverNotInjective {
		t.Errorf("Cause.GetType() = %q, want %q", mr.Result.Cause.GetType(), verror.ErrReceiverNotInjective)
	}
}

// TestScenario5NegativePermission is spec.md §8 scenario 5.
func TestScenario5NegativePermission(t *testing.T) {
	x := term.Var("x", term.Ref)
	negHalf := term.FractionPerm(term.IntLit(-1), term.IntLit(2))
	program := verifier.Program{Methods: []verifier.Method{{
		Name:          "m",
		Formals:       map[string]term.Term{"x": x},
		Precondition:  ast.Pure(term.True),
		Postcondition: ast.FieldAccessPredicate(x, "f", negHalf),
	}}}

	// Neither "is positive" nor "is exactly zero" can be proven, so the
	// consumer must report NegativePermission rather than silently accepting.
	report, err := verifier.Verify(context.Background(), program, testConfig(t, "sat"))
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	mr := report.Methods[0]
	if mr.Outcome != verifier.OutcomeFailed {
		t.Fatalf("Outcome = %v, want failed", mr.Outcome)
	}
	if mr.Result.Cause.GetType() != verror.ErrNegativePermission {
		t.Errorf("Cause.GetType() = %q, want %q", mr.Result.Cause.GetType(), verror.ErrNegativePermission)
	}
}

// TestScenario6BranchingSnapshot is spec.md §8 scenario 6: b ==> acc(x.f,
// write) on both sides, verified by forking on b in both produce and
// consume and joining the two branch outcomes.
func TestScenario6BranchingSnapshot(t *testing.T) {
	x := term.Var("x", term.Ref)
	b := term.Var("b", term.Bool)
	assertion := func() ast.Assertion {
		return ast.Implies(b, ast.FieldAccessPredicate(x, "f", term.FullPerm()))
	}

	program := verifier.Program{Methods: []verifier.Method{{
		Name:          "m",
		Formals:       map[string]term.Term{"x": x, "b": b},
		Precondition:  assertion(),
		Postcondition: assertion(),
	}}}

	// Both branches must be feasible ("sat" to dec.Check) and, on the true
	// branch, sufficiently permissioned ("unsat" to the PermLess negation
	// query) for the method to verify; a solver that always answers "sat" so
	// dec.Check never prunes a branch, combined with the true-branch
	// transfer needing proof of sufficiency, means we need a solver that
	// answers differently per query shape. The feasibility checks are plain
	// check-sat; in soft-constraint mode the permission-sufficiency check is
	// check-sat-assuming (in the default push-pop mode it is a plain
	// check-sat inside its own scope). A single fixed answer can neither
	// distinguish them nor prune the contradictory b / !b branch, so this scenario is
	// exercised at the producer/consumer unit level instead (see
	// TestScenario6ViaDirectProduceConsume) and here only smoke-tests that a
	// conditional assertion round-trips without a programmer-error abort
	// when every query answers "unsat" (both branches then look infeasible
	// except the path-condition-free root, which still must not panic).
	report, err := verifier.Verify(context.Background(), program, testConfig(t, "unsat"))
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if report.Methods[0].Outcome == verifier.OutcomeError {
		t.Fatalf("Outcome = error (programmer error), result = %+v", report.Methods[0].Result)
	}
}

// differentiatingSolver answers a check-sat-assuming sufficiency query with
// "unsat" (every permission-sufficiency check holds) and a plain feasibility
// check-sat with "sat", except that it answers "unsat" when the open scopes
// assert both some formula and its negation, pruning the contradictory
// branch. That lets both the true and false branches of a conditional
// assertion verify in the same run when the driver is in soft-constraint mode.
func differentiatingSolver(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "fake-solver.sh")
	script := `#!/bin/bash
scopes=("")
while IFS= read -r line; do
  case "$line" in
    "(check-sat-assuming"*) echo "unsat" ;;
    "(check-sat)")
      all="${scopes[*]}"; answer=sat
      IFS='|' read -ra lits <<< "$all"
      for l in "${lits[@]}"; do
        if [[ -n "$l" && "$all" == *"|(not $l)|"* ]]; then answer=unsat; fi
      done
      echo "$answer" ;;
    "(push 1)") scopes+=(""); echo "success" ;;
    "(pop 1)") unset 'scopes[${#scopes[@]}-1]'; echo "success" ;;
    "(assert "*) scopes[${#scopes[@]}-1]+="|${line:8:${#line}-9}|"; echo "success" ;;
    "(exit)") exit 0 ;;
    *) echo "success" ;;
  esac
done
`
	if err := os.WriteFile(path, []byte(script), 0o755); err != nil {
		t.Fatalf("write fake solver: %v", err)
	}
	return path
}

// TestScenario6ViaDirectProduceConsume is the real exercise of scenario 6
// (b ==> acc(x.f, write) on both sides) that TestScenario6BranchingSnapshot's
// comment promises: a solver that can tell a feasibility query from a
// sufficiency query, so both the true and false branches of the implication
// actually produce and consume successfully and their snapshots join.
func TestScenario6ViaDirectProduceConsume(t *testing.T) {
	exe := differentiatingSolver(t)
	driver := smt.New(smt.Options{Executable: "bash", Args: []string{exe}, Mode: smt.SoftConstraintMode})
	if err := driver.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	t.Cleanup(func() { _ = driver.Stop() })
	dec := decider.New(driver)

	x := term.Var("x", term.Ref)
	b := term.Var("b", term.Bool)
	assertion := ast.Implies(b, ast.FieldAccessPredicate(x, "f", term.FullPerm()))

	opts := qp.SplitOptions{}
	st := state.New()
	result := producer.Produce(context.Background(), dec, st, assertion, producer.FreshSnapshotFn(), opts, func(afterProduce *state.State, _ term.Term) state.VerificationResult {
		return consumer.Consume(context.Background(), dec, afterProduce, assertion, opts, func(_ *state.State, snap term.Term) state.VerificationResult {
			return state.Success(snap)
		})
	})

	if result.Kind != state.ResultSuccess {
		t.Fatalf("result = %+v, want Success", result)
	}
	// The else branch contributes Unit as its snapshot, the then branch the
	// field chunk's value; state.Combine joins them into an Ite guarded by b.
	if result.Snapshot.Kind != term.KindIte {
		t.Errorf("Snapshot = %+v, want an Ite joining the then/else branch snapshots", result.Snapshot)
	}
}

func TestExitCodeZeroWhenAllMethodsVerify(t *testing.T) {
	x := term.Var("x", term.Ref)
	method := func(name string) verifier.Method {
		return verifier.Method{
			Name:          name,
			Formals:       map[string]term.Term{"x": x},
			Precondition:  ast.FieldAccessPredicate(x, "f", term.FullPerm()),
			Postcondition: ast.FieldAccessPredicate(x, "f", term.FullPerm()),
		}
	}
	program := verifier.Program{Methods: []verifier.Method{method("a"), method("b"), method("c")}}

	report, err := verifier.Verify(context.Background(), program, testConfig(t, "unsat"))
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if report.ExitCode() != 0 {
		t.Fatalf("ExitCode() = %d, want 0", report.ExitCode())
	}
	if len(report.Methods) != 3 {
		t.Fatalf("len(Methods) = %d, want 3", len(report.Methods))
	}
}
