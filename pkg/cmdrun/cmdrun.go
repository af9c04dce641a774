package cmdrun

import (
	"bytes"
	"fmt"
	"os/exec"
	"strings"
)

// Runner executes external commands. It abstracts os/exec so that components
// shelling out to system tools (ss, iptables-save, iptables-restore) can be
// tested with scripted output.
type Runner interface {
	// Run executes the command and returns its stdout.
	Run(name string, args ...string) ([]byte, error)

	// RunWithInput executes the command with the given bytes on stdin.
	RunWithInput(input []byte, name string, args ...string) ([]byte, error)

	// LookPath reports whether the named binary is available.
	LookPath(name string) bool
}

// ExecRunner runs commands on the local host.
type ExecRunner struct{}

// NewExecRunner creates a Runner backed by os/exec.
func NewExecRunner() *ExecRunner {
	return &ExecRunner{}
}

func (r *ExecRunner) Run(name string, args ...string) ([]byte, error) {
	return r.RunWithInput(nil, name, args...)
}

func (r *ExecRunner) RunWithInput(input []byte, name string, args ...string) ([]byte, error) {
	var stdout, stderr bytes.Buffer
	cmd := exec.Command(name, args...)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if input != nil {
		cmd.Stdin = bytes.NewReader(input)
	}
	if err := cmd.Run(); err != nil {
		msg := strings.TrimSpace(stderr.String())
		if msg != "" {
			return stdout.Bytes(), fmt.Errorf("%s %s: %w: %s", name, strings.Join(args, " "), err, msg)
		}
		return stdout.Bytes(), fmt.Errorf("%s %s: %w", name, strings.Join(args, " "), err)
	}
	return stdout.Bytes(), nil
}

func (r *ExecRunner) LookPath(name string) bool {
	_, err := exec.LookPath(name)
	return err == nil
}
