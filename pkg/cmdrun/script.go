package cmdrun

import (
	"fmt"
	"strings"
	"sync"
)

// Call records a single invocation made through a ScriptRunner.
type Call struct {
	Name  string
	Args  []string
	Input []byte
}

// Response is the canned result for a command line.
type Response struct {
	Output []byte
	Err    error
}

// ScriptRunner replays canned responses keyed by the full command line
// ("ss -Htln"). Unknown commands fail as if the binary were missing.
type ScriptRunner struct {
	mu        sync.Mutex
	responses map[string]Response
	missing   map[string]bool
	calls     []Call
}

// NewScriptRunner creates an empty ScriptRunner.
func NewScriptRunner() *ScriptRunner {
	return &ScriptRunner{
		responses: make(map[string]Response),
		missing:   make(map[string]bool),
	}
}

// On registers the response returned for the given command line.
func (r *ScriptRunner) On(commandLine string, output string, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.responses[commandLine] = Response{Output: []byte(output), Err: err}
}

// Missing marks a binary as not installed for LookPath.
func (r *ScriptRunner) Missing(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.missing[name] = true
}

// Calls returns a copy of the recorded invocations.
func (r *ScriptRunner) Calls() []Call {
	r.mu.Lock()
	defer r.mu.Unlock()
	result := make([]Call, len(r.calls))
	copy(result, r.calls)
	return result
}

func (r *ScriptRunner) Run(name string, args ...string) ([]byte, error) {
	return r.RunWithInput(nil, name, args...)
}

func (r *ScriptRunner) RunWithInput(input []byte, name string, args ...string) ([]byte, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.calls = append(r.calls, Call{Name: name, Args: args, Input: input})
	key := strings.TrimSpace(name + " " + strings.Join(args, " "))
	resp, ok := r.responses[key]
	if !ok {
		return nil, fmt.Errorf("%s: executable file not found", name)
	}
	return resp.Output, resp.Err
}

func (r *ScriptRunner) LookPath(name string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return !r.missing[name]
}
