package main

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/easzlab/ezfwd/pkg/forward"
	"github.com/easzlab/ezfwd/pkg/ruletable"
	"go.uber.org/zap/zapcore"
)

func TestRootCommand_RegistersCommands(t *testing.T) {
	root := newRootCommand()
	for _, name := range []string{
		"add", "auto", "map", "modify", "edit", "remove", "range",
		"list", "status", "test", "check", "find-free",
		"cleanup", "save", "restore", "backup", "info", "config", "version",
	} {
		cmd, _, err := root.Find([]string{name})
		if err != nil || cmd == root {
			t.Errorf("command %q not registered", name)
		}
	}

	cmd, _, err := root.Find([]string{"rm"})
	if err != nil || cmd.Name() != "remove" {
		t.Errorf("expected rm alias for remove, got %v (err %v)", cmd.Name(), err)
	}
}

func TestParseAddArgs(t *testing.T) {
	req, err := parseAddArgs([]string{"3389"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if req.TargetPort != 3389 || req.RelayPort != 0 {
		t.Errorf("unexpected request %+v", req)
	}

	req, err = parseAddArgs([]string{"22", "2222"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if req.TargetPort != 22 || req.RelayPort != 2222 {
		t.Errorf("unexpected request %+v", req)
	}

	for _, args := range [][]string{{"0"}, {"abc"}, {"22", "70000"}} {
		if _, err := parseAddArgs(args); !errors.Is(err, forward.ErrInvalidInput) {
			t.Errorf("args %v: expected ErrInvalidInput, got %v", args, err)
		}
	}
}

func TestApplyLogLevel_Precedence(t *testing.T) {
	defer func() {
		logLevel, verbose = "", false
		level.SetLevel(zapcore.WarnLevel)
	}()

	applyLogLevel("error")
	if level.Level() != zapcore.ErrorLevel {
		t.Errorf("expected config level error, got %s", level.Level())
	}

	logLevel = "info"
	applyLogLevel("error")
	if level.Level() != zapcore.InfoLevel {
		t.Errorf("expected --log-level to win, got %s", level.Level())
	}

	verbose = true
	applyLogLevel("error")
	if level.Level() != zapcore.DebugLevel {
		t.Errorf("expected --verbose to win, got %s", level.Level())
	}

	verbose = false
	logLevel = "bogus"
	applyLogLevel("")
	if level.Level() != zapcore.DebugLevel {
		t.Errorf("expected unparsable level to be ignored, got %s", level.Level())
	}
}

func TestPrintResult(t *testing.T) {
	prev := ruletable.ForwardRule{RelayPort: 3389, TargetHost: "10.0.0.5", TargetPort: 3389}
	next := ruletable.ForwardRule{RelayPort: 13389, TargetHost: "10.0.0.5", TargetPort: 3389}

	var buf bytes.Buffer
	err := printResult(&buf, "modify", forward.Result{
		Kind:     forward.Success,
		Rule:     next,
		Previous: prev,
		Warnings: []string{"old accept rule already absent"},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	out := buf.String()
	if !strings.Contains(out, "old accept rule already absent") {
		t.Errorf("warning missing from output: %q", out)
	}
	if !strings.Contains(out, prev.String()+" => "+next.String()) {
		t.Errorf("expected transition in output: %q", out)
	}

	buf.Reset()
	failure := errors.New("insert failed")
	err = printResult(&buf, "modify", forward.Result{
		Kind:           forward.PartialFailure,
		CompletedSteps: []string{"delete old redirect"},
		Compensated:    true,
		Err:            failure,
	})
	if !errors.Is(err, failure) {
		t.Errorf("expected result error to be returned, got %v", err)
	}
	if !strings.Contains(buf.String(), "rolled back") {
		t.Errorf("expected rollback notice: %q", buf.String())
	}
}

func TestPrintSettings_FlattensSorted(t *testing.T) {
	var buf bytes.Buffer
	printSettings(&buf, "", map[string]any{
		"relay":  map[string]any{"target_host": "10.0.0.5", "protocol": "tcp"},
		"global": map[string]any{"log_level": "info"},
	})

	want := "global.log_level = info\nrelay.protocol = tcp\nrelay.target_host = 10.0.0.5\n"
	if buf.String() != want {
		t.Errorf("unexpected output:\n%s\nwant:\n%s", buf.String(), want)
	}
}

func TestConfigCommands(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ezfwd.yaml")
	defer func() { configPath = "" }()

	run := func(args ...string) (string, error) {
		root := newRootCommand()
		var out bytes.Buffer
		root.SetOut(&out)
		root.SetErr(&out)
		root.SetArgs(append(args, "-c", path))
		err := root.Execute()
		return out.String(), err
	}

	if _, err := run("config", "init"); err != nil {
		t.Fatalf("config init failed: %v", err)
	}
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("expected config file to be written: %v", err)
	}

	// The default file has no target host yet.
	out, err := run("config", "show")
	if err == nil {
		t.Fatal("expected validation error for missing target host")
	}
	if !strings.Contains(out, "allocator.default_start = 10000") {
		t.Errorf("expected flattened defaults in output:\n%s", out)
	}

	if err := os.WriteFile(path, []byte("relay:\n  target_host: 10.0.0.5\n"), 0o600); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}
	out, err = run("config", "show")
	if err != nil {
		t.Fatalf("config show failed: %v", err)
	}
	if !strings.Contains(out, "relay.target_host = 10.0.0.5") {
		t.Errorf("expected target host in output:\n%s", out)
	}
}

func TestVersionCommand(t *testing.T) {
	root := newRootCommand()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetArgs([]string{"version"})
	if err := root.Execute(); err != nil {
		t.Fatalf("version failed: %v", err)
	}
	if !strings.Contains(out.String(), "ezfwd version "+version) {
		t.Errorf("unexpected output %q", out.String())
	}
}
