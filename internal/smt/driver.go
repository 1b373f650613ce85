// Package smt drives an SMT-LIB2 solver subprocess over a line-oriented
// stdin/stdout dialog (spec.md §4.B): push/pop scope discipline, assert,
// check-sat, model retrieval, and fresh-symbol declaration.
package smt

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os/exec"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/aledsdavies/symbex/internal/invariant"
	"github.com/aledsdavies/symbex/internal/term"
	"github.com/aledsdavies/symbex/internal/verror"
)

// State is the driver's lifecycle state machine (spec.md §4.B).
type State int

const (
	Created State = iota
	Initialised
	Running
	Stopped
	Erroneous
)

func (s State) String() string {
	switch s {
	case Created:
		return "Created"
	case Initialised:
		return "Initialised"
	case Running:
		return "Running"
	case Stopped:
		return "Stopped"
	case Erroneous:
		return "Erroneous"
	default:
		return "Unknown"
	}
}

// CheckSatResult is the solver's answer to a check-sat query.
type CheckSatResult int

const (
	Sat CheckSatResult = iota
	Unsat
	Unknown
)

func (r CheckSatResult) String() string {
	switch r {
	case Sat:
		return "sat"
	case Unsat:
		return "unsat"
	default:
		return "unknown"
	}
}

// AssertionMode selects how Assert communicates a formula to the solver:
// via genuine push/pop scopes, or as a soft constraint tagged with a tracking
// literal (needed by solvers whose push/pop stacks are too slow to use per
// branch, spec.md §4.B design notes).
type AssertionMode int

const (
	PushPopMode AssertionMode = iota
	SoftConstraintMode
)

var driverSequence atomic.Uint64

// Driver manages one solver subprocess and its line-oriented SMT-LIB2
// dialog. A Driver is not safe for concurrent use by multiple goroutines;
// spec.md §5 gives each concurrently verified method its own Driver.
type Driver struct {
	mu sync.Mutex

	exe  string
	args []string
	log  *zap.SugaredLogger

	cmd    *exec.Cmd
	stdin  io.WriteCloser
	stdout *bufio.Reader

	state State
	mode  AssertionMode

	pushPopDepth int
	lastTimeout  time.Duration
	freshCounter atomic.Uint64
	driverID     uint64

	commandLog []string // verbatim command echo, for diagnostics on failure
}

// Options configures a new Driver.
type Options struct {
	Executable string
	Args       []string
	Mode       AssertionMode
	Logger     *zap.SugaredLogger
}

// New constructs a Driver in the Created state. The subprocess is not
// started until Start is called.
func New(opts Options) *Driver {
	invariant.Precondition(opts.Executable != "", "solver executable must not be empty")
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &Driver{
		exe:      opts.Executable,
		args:     opts.Args,
		log:      logger,
		state:    Created,
		mode:     opts.Mode,
		driverID: driverSequence.Add(1),
	}
}

// startOptions are the three set-options spec.md §6 requires every solver
// dialog to open with, sent in order before the driver is considered
// Running.
var startOptions = []string{
	"(set-option :print-success true)",
	"(set-option :global-declarations true)",
	"(set-option :smtlib2_compliant true)",
}

// Start spawns the solver subprocess and sends the standard SMT-LIB2 preamble
// (spec.md §6's three required set-options). It transitions Created ->
// Initialised -> Running.
func (d *Driver) Start(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	invariant.Precondition(d.state == Created, "Start called in state %s, want Created", d.state)

	cmd := exec.CommandContext(ctx, d.exe, d.args...)
	stdin, err := cmd.StdinPipe()
	if err != nil {
		d.state = Erroneous
		return verror.NewDependencyError(d.exe, err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		d.state = Erroneous
		return verror.NewDependencyError(d.exe, err)
	}
	if err := cmd.Start(); err != nil {
		d.state = Erroneous
		return verror.NewDependencyError(d.exe, err)
	}

	d.cmd = cmd
	d.stdin = stdin
	d.stdout = bufio.NewReader(stdout)
	d.state = Initialised

	for _, opt := range startOptions {
		// sendRawLocked, not sendRaw: Start already holds d.mu, and sendRaw
		// re-acquires it.
		if err := d.sendRawLocked(opt); err != nil {
			d.state = Erroneous
			return err
		}
		if err := d.readSuccess(); err != nil {
			d.state = Erroneous
			return err
		}
	}

	d.state = Running
	d.log.Debugw("smt driver started", "driver", d.driverID, "exe", d.exe)
	return nil
}

// Stop sends an exit command and waits up to 10 seconds for the subprocess to
// terminate on its own, killing it if it does not.
func (d *Driver) Stop() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.state == Stopped {
		return nil
	}
	_ = d.sendRawLocked("(exit)")
	_ = d.stdin.Close()

	done := make(chan error, 1)
	go func() { done <- d.cmd.Wait() }()

	select {
	case <-done:
	case <-time.After(10 * time.Second):
		if d.cmd.Process != nil {
			_ = d.cmd.Process.Kill()
		}
		<-done
	}

	d.state = Stopped
	d.log.Debugw("smt driver stopped", "driver", d.driverID)
	return nil
}

// PushScope pushes a new SMT-LIB2 scope, incrementing the driver's depth
// counter in lock-step with the solver's own stack (spec.md invariant
// "push/pop depth parity").
func (d *Driver) PushScope() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	invariant.Precondition(d.state == Running, "PushScope called in state %s", d.state)

	if err := d.sendLocked("(push 1)"); err != nil {
		return err
	}
	if err := d.readSuccess(); err != nil {
		return err
	}
	d.pushPopDepth++
	return nil
}

// PopScope pops the most recent scope.
func (d *Driver) PopScope() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	invariant.Precondition(d.state == Running, "PopScope called in state %s", d.state)
	invariant.Precondition(d.pushPopDepth > 0, "PopScope called at depth 0")

	if err := d.sendLocked("(pop 1)"); err != nil {
		return err
	}
	if err := d.readSuccess(); err != nil {
		return err
	}
	d.pushPopDepth--
	return nil
}

// Depth reports the current push/pop scope depth.
func (d *Driver) Depth() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.pushPopDepth
}

// Assume sends a formula to the solver as an unconditional assertion, used
// for path conditions the decider has already established (no satisfiability
// check follows).
func (d *Driver) Assume(t term.Term) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	invariant.Precondition(d.state == Running, "Assume called in state %s", d.state)

	if err := d.sendLocked(AssertCommand(t)); err != nil {
		return err
	}
	return d.readSuccess()
}

// Declare sends a (declare-fun ...) command for a fresh or named
// uninterpreted function symbol.
func (d *Driver) Declare(name string, argSorts []term.Sort, result term.Sort) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	invariant.Precondition(d.state == Running, "Declare called in state %s", d.state)

	cmd := DeclareFun(name, argSorts, result)
	if len(argSorts) == 0 {
		cmd = DeclareConst(name, result)
	}
	if err := d.sendLocked(cmd); err != nil {
		return err
	}
	return d.readSuccess()
}

// Fresh mints a new uninterpreted symbol with a unique name derived from
// prefix, declares it to the solver, and returns a Term referencing it.
func (d *Driver) Fresh(prefix string, argSorts []term.Sort, result term.Sort) (term.Term, error) {
	n := d.freshCounter.Add(1)
	name := fmt.Sprintf("%s@%d@%d", prefix, d.driverID, n)
	if err := d.Declare(name, argSorts, result); err != nil {
		return term.Term{}, err
	}
	if len(argSorts) == 0 {
		return term.Var(name, result), nil
	}
	return term.Term{Kind: term.KindApp, Sort: result, Name: name}, nil
}

// CheckSatWithAssumption asserts goal under a fresh push/pop scope (or, in
// SoftConstraintMode, as a soft constraint with a tracking literal) and
// returns the solver's verdict. In PushPopMode the scope is popped before
// returning; in SoftConstraintMode the guarded assertion stays on the stack
// but has no effect on later queries, whose check-sat never assumes its label.
func (d *Driver) CheckSatWithAssumption(ctx context.Context, goal term.Term, timeout time.Duration) (CheckSatResult, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	invariant.Precondition(d.state == Running, "CheckSatWithAssumption called in state %s", d.state)

	if err := d.applyTimeoutLocked(timeout); err != nil {
		return Unknown, err
	}

	switch d.mode {
	case PushPopMode:
		if err := d.sendLocked("(push 1)"); err != nil {
			return Unknown, err
		}
		if err := d.readSuccess(); err != nil {
			return Unknown, err
		}
		defer func() {
			_ = d.sendLocked("(pop 1)")
			_ = d.readSuccess()
		}()
		if err := d.sendLocked(AssertCommand(goal)); err != nil {
			return Unknown, err
		}
		if err := d.readSuccess(); err != nil {
			return Unknown, err
		}
		return d.checkSatLocked(ctx)

	case SoftConstraintMode:
		label := fmt.Sprintf("$softassert@%d", d.freshCounter.Add(1))
		if err := d.sendLocked(DeclareConst(label, term.Bool)); err != nil {
			return Unknown, err
		}
		if err := d.readSuccess(); err != nil {
			return Unknown, err
		}
		tracked := term.Implies(term.Var(label, term.Bool), goal)
		if err := d.sendLocked(AssertCommand(tracked)); err != nil {
			return Unknown, err
		}
		if err := d.readSuccess(); err != nil {
			return Unknown, err
		}
		return d.checkSatAssumingLocked(ctx, label)

	default:
		invariant.Invariant(false, "unknown assertion mode %d", d.mode)
		return Unknown, nil
	}
}

// CheckSat checks satisfiability of the accumulated assertion stack with no
// additional goal, used by the decider's Check to test path feasibility.
func (d *Driver) CheckSat(ctx context.Context, timeout time.Duration) (CheckSatResult, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	invariant.Precondition(d.state == Running, "CheckSat called in state %s", d.state)

	if err := d.applyTimeoutLocked(timeout); err != nil {
		return Unknown, err
	}
	return d.checkSatLocked(ctx)
}

func (d *Driver) checkSatLocked(ctx context.Context) (CheckSatResult, error) {
	if err := d.sendLocked("(check-sat)"); err != nil {
		return Unknown, err
	}
	line, err := d.readLineLocked(ctx)
	if err != nil {
		return Unknown, err
	}
	return parseCheckSatResult(line)
}

func (d *Driver) checkSatAssumingLocked(ctx context.Context, label string) (CheckSatResult, error) {
	if err := d.sendLocked(fmt.Sprintf("(check-sat-assuming (%s))", label)); err != nil {
		return Unknown, err
	}
	line, err := d.readLineLocked(ctx)
	if err != nil {
		return Unknown, err
	}
	return parseCheckSatResult(line)
}

func parseCheckSatResult(line string) (CheckSatResult, error) {
	switch strings.TrimSpace(line) {
	case "sat":
		return Sat, nil
	case "unsat":
		return Unsat, nil
	case "unknown":
		return Unknown, nil
	default:
		return Unknown, verror.NewProverInteractionError("sat|unsat|unknown", line)
	}
}

// applyTimeoutLocked sends a (set-option :timeout ...) command only when the
// requested timeout differs from the last one sent, avoiding a redundant
// round trip on every query (spec.md §4.B "lastTimeout caching").
func (d *Driver) applyTimeoutLocked(timeout time.Duration) error {
	if timeout == d.lastTimeout {
		return nil
	}
	ms := timeout.Milliseconds()
	if err := d.sendLocked(fmt.Sprintf("(set-option :timeout %d)", ms)); err != nil {
		return err
	}
	if err := d.readSuccess(); err != nil {
		return err
	}
	d.lastTimeout = timeout
	return nil
}

// GetModel retrieves the solver's model for the last sat result, returning
// the raw verbatim solver response for diagnostic display; interpreting the
// model into a concrete Go value is the decider's responsibility.
func (d *Driver) GetModel(ctx context.Context) (string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	invariant.Precondition(d.state == Running, "GetModel called in state %s", d.state)

	if err := d.sendLocked("(get-model)"); err != nil {
		return "", err
	}
	return d.readSExprLocked(ctx)
}

// Comment writes a comment line to the command log only; it is never sent to
// the solver and exists purely to annotate the diagnostic transcript.
func (d *Driver) Comment(format string, args ...interface{}) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.commandLog = append(d.commandLog, "; "+fmt.Sprintf(format, args...))
}

// GetInfo issues a (get-info keyword) query and returns the solver's raw
// s-expression reply, e.g. GetInfo(ctx, ":version") or GetInfo(ctx,
// ":all-statistics") (spec.md §6's required supported-command list).
func (d *Driver) GetInfo(ctx context.Context, keyword string) (string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	invariant.Precondition(d.state == Running, "GetInfo called in state %s", d.state)

	if err := d.sendLocked(fmt.Sprintf("(get-info %s)", keyword)); err != nil {
		return "", err
	}
	return d.readSExprLocked(ctx)
}

// Statistics returns the solver's own reported statistics via
// (get-info :all-statistics), the mechanism spec.md §6 names for this. It
// falls back to the verbatim command-log echo when the driver isn't Running
// to ask the solver directly (e.g. after Stop, inspecting a failed run).
func (d *Driver) Statistics(ctx context.Context) (string, error) {
	d.mu.Lock()
	running := d.state == Running
	d.mu.Unlock()
	if !running {
		return strings.Join(d.CommandLog(), "\n"), nil
	}
	return d.GetInfo(ctx, ":all-statistics")
}

// CommandLog returns the verbatim outgoing-command echo, for diagnostics
// after a prover-interaction failure.
func (d *Driver) CommandLog() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]string, len(d.commandLog))
	copy(out, d.commandLog)
	return out
}

func (d *Driver) sendLocked(cmd string) error {
	return d.sendRawLocked(cmd)
}

func (d *Driver) sendRaw(cmd string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.sendRawLocked(cmd)
}

func (d *Driver) sendRawLocked(cmd string) error {
	d.commandLog = append(d.commandLog, cmd)
	d.log.Debugw("smt>", "driver", d.driverID, "cmd", cmd)
	if _, err := io.WriteString(d.stdin, cmd+"\n"); err != nil {
		d.state = Erroneous
		return verror.Wrap(verror.ErrProverInteraction, "writing command to solver", err)
	}
	return nil
}

// readSuccess consumes a single response line, tolerating WARNING lines by
// skipping them, and fails unless the line is exactly "success" (spec.md §4.B
// "success-token consumption discipline").
func (d *Driver) readSuccess() error {
	line, err := d.readLineLocked(context.Background())
	if err != nil {
		return err
	}
	if strings.TrimSpace(line) != "success" {
		d.state = Erroneous
		return verror.NewProverInteractionError("success", line)
	}
	return nil
}

func (d *Driver) readLineLocked(ctx context.Context) (string, error) {
	for {
		line, err := d.readRawLine(ctx)
		if err != nil {
			return "", err
		}
		trimmed := strings.TrimSpace(line)
		if trimmed == "" || strings.HasPrefix(trimmed, "WARNING") {
			continue
		}
		d.log.Debugw("smt<", "driver", d.driverID, "line", trimmed)
		return trimmed, nil
	}
}

// readSExprLocked reads a single, possibly multi-line, balanced s-expression
// response such as a (get-model) reply.
func (d *Driver) readSExprLocked(ctx context.Context) (string, error) {
	var b strings.Builder
	depth := 0
	started := false
	for {
		line, err := d.readRawLine(ctx)
		if err != nil {
			return "", err
		}
		b.WriteString(line)
		b.WriteByte('\n')
		for _, ch := range line {
			switch ch {
			case '(':
				depth++
				started = true
			case ')':
				depth--
			}
		}
		if started && depth <= 0 {
			return b.String(), nil
		}
	}
}

func (d *Driver) readRawLine(ctx context.Context) (string, error) {
	type result struct {
		line string
		err  error
	}
	ch := make(chan result, 1)
	go func() {
		line, err := d.stdout.ReadString('\n')
		ch <- result{line, err}
	}()

	select {
	case <-ctx.Done():
		return "", ctx.Err()
	case r := <-ch:
		if r.err != nil {
			d.state = Erroneous
			return "", verror.Wrap(verror.ErrProverInteraction, "reading solver response", r.err)
		}
		return r.line, nil
	}
}
