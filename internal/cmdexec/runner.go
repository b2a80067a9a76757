// Package cmdexec runs the external CLIs (ip, bridge, ovs-vsctl, vtysh)
// the reconciliation engine drives the host through. It never talks
// netlink directly — per spec, every mutation is a subprocess invocation.
package cmdexec

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strings"

	"github.com/redpill-linpro/evpn-agent/pkg/util"
)

// CommandError reports a non-zero exit from an external command.
type CommandError struct {
	Args   []string
	Exit   int
	Stderr string
}

func (e *CommandError) Error() string {
	return fmt.Sprintf("command failed (exit %d): %s: %s", e.Exit, strings.Join(e.Args, " "), strings.TrimSpace(e.Stderr))
}

func (e *CommandError) Unwrap() error { return util.ErrCommandFailed }

// Options configures a single Run call.
type Options struct {
	Stdin   string
	Capture bool
	// Check, when true (the default), turns a non-zero exit into a
	// *CommandError. Callers that want to inspect a failing exit code
	// themselves (none in this codebase today) can set Check to false.
	Check bool
}

// DefaultOptions is what every manager call site uses unless it needs to
// pipe stdin or suppress exit-code checking.
func DefaultOptions() Options { return Options{Check: true} }

// Runner executes external commands. Production code uses OSRunner;
// tests use a fake that records invocations and returns canned output —
// see FakeRunner in fake.go for the shared test helper.
type Runner interface {
	Run(ctx context.Context, args []string, opts Options) (stdout string, err error)
}

// OSRunner runs commands as real subprocesses via os/exec, grounded on the
// timeout-wrapped exec.CommandContext pattern used for shelling out to
// system tools elsewhere in this codebase's lineage.
type OSRunner struct{}

func NewOSRunner() *OSRunner { return &OSRunner{} }

func (OSRunner) Run(ctx context.Context, args []string, opts Options) (string, error) {
	if len(args) == 0 {
		return "", fmt.Errorf("cmdexec: empty argument list")
	}
	util.WithField("args", args).Debug("executing command")

	cmd := exec.CommandContext(ctx, args[0], args[1:]...)
	if opts.Stdin != "" {
		cmd.Stdin = strings.NewReader(opts.Stdin)
	}

	var stdout, stderr bytes.Buffer
	cmd.Stderr = &stderr
	if opts.Capture {
		cmd.Stdout = &stdout
	}

	err := cmd.Run()
	if err != nil {
		exitCode := -1
		if ee, ok := err.(*exec.ExitError); ok {
			exitCode = ee.ExitCode()
		}
		if opts.Check {
			return stdout.String(), &CommandError{Args: args, Exit: exitCode, Stderr: stderr.String()}
		}
	}
	return stdout.String(), nil
}

// Run is the package-level convenience matching the spec's
// run(args, {stdin?, capture?, check=true}) signature. It simply delegates
// to the given runner; it does not pick a runner of its own.
func Run(ctx context.Context, runner Runner, args []string, opts Options) (string, error) {
	return runner.Run(ctx, args, opts)
}
