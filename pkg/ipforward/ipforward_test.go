package ipforward

import (
	"errors"
	"strings"
	"testing"

	"github.com/spf13/afero"
	"go.uber.org/zap"
)

const (
	procPath = "/proc/sys/net/ipv4/ip_forward"
	confPath = "/etc/sysctl.conf"
)

func newTestSwitch(t *testing.T, procValue, conf string) (afero.Fs, *Switch) {
	t.Helper()
	fs := afero.NewMemMapFs()
	if err := afero.WriteFile(fs, procPath, []byte(procValue), 0o644); err != nil {
		t.Fatalf("failed to seed proc file: %v", err)
	}
	if conf != "" {
		if err := afero.WriteFile(fs, confPath, []byte(conf), 0o644); err != nil {
			t.Fatalf("failed to seed sysctl.conf: %v", err)
		}
	}
	return fs, NewSwitch(fs, procPath, confPath, zap.NewNop())
}

func TestSwitch_EnsureAlreadyEnabled(t *testing.T) {
	fs, sw := newTestSwitch(t, "1\n", "")

	if err := sw.Ensure(); err != nil {
		t.Fatalf("Ensure failed: %v", err)
	}
	if exists, _ := afero.Exists(fs, confPath); exists {
		t.Fatal("expected sysctl.conf untouched when forwarding is already on")
	}
}

func TestSwitch_EnsureEnablesAndPersists(t *testing.T) {
	fs, sw := newTestSwitch(t, "0\n", "")

	if err := sw.Ensure(); err != nil {
		t.Fatalf("Ensure failed: %v", err)
	}

	enabled, err := sw.Enabled()
	if err != nil || !enabled {
		t.Fatalf("expected forwarding enabled, got enabled=%v err=%v", enabled, err)
	}
	conf, _ := afero.ReadFile(fs, confPath)
	if strings.TrimSpace(string(conf)) != "net.ipv4.ip_forward=1" {
		t.Errorf("unexpected sysctl.conf content: %q", conf)
	}
}

func TestSwitch_PersistReplacesCommentedAssignment(t *testing.T) {
	existing := "kernel.panic=10\n#net.ipv4.ip_forward=1\nnet.ipv4.ip_forward = 0\nvm.swappiness=10\n"
	fs, sw := newTestSwitch(t, "0", existing)

	if err := sw.Ensure(); err != nil {
		t.Fatalf("Ensure failed: %v", err)
	}

	conf, _ := afero.ReadFile(fs, confPath)
	text := string(conf)
	if strings.Count(text, "ip_forward") != 1 {
		t.Errorf("expected exactly one ip_forward line, got:\n%s", text)
	}
	if !strings.Contains(text, "kernel.panic=10") || !strings.Contains(text, "vm.swappiness=10") {
		t.Errorf("expected unrelated settings preserved, got:\n%s", text)
	}
	if !strings.Contains(text, "net.ipv4.ip_forward=1") {
		t.Errorf("expected forwarding assignment, got:\n%s", text)
	}
}

func TestSwitch_EnabledMissingProcFile(t *testing.T) {
	sw := NewSwitch(afero.NewMemMapFs(), procPath, confPath, zap.NewNop())
	if _, err := sw.Enabled(); err == nil {
		t.Fatal("expected error when proc file is missing")
	}
	if err := sw.Ensure(); err == nil {
		t.Fatal("expected Ensure to fail when proc file is missing")
	}
}

func TestSwitch_EnsurePersistFailure(t *testing.T) {
	fs := afero.NewMemMapFs()
	if err := afero.WriteFile(fs, procPath, []byte("0\n"), 0o644); err != nil {
		t.Fatalf("failed to seed proc file: %v", err)
	}
	sw := NewSwitch(afero.NewReadOnlyFs(fs), procPath, confPath, zap.NewNop())

	err := sw.Ensure()
	if err == nil {
		t.Fatal("expected error on read-only filesystem")
	}
	if errors.Is(err, ErrNotPersisted) {
		t.Fatal("expected the proc write failure, not a persistence failure")
	}
}
