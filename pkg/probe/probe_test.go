package probe

import (
	"errors"
	"net"
	"strconv"
	"testing"

	"github.com/easzlab/ezfwd/pkg/cmdrun"
	gnet "github.com/shirou/gopsutil/v3/net"
	"go.uber.org/zap"
)

const ssOutput = `LISTEN 0      128          0.0.0.0:22        0.0.0.0:*    users:(("sshd",pid=812,fd=3))
LISTEN 0      4096            [::]:22           [::]:*    users:(("sshd",pid=812,fd=4))
LISTEN 0      511        127.0.0.1:6379      0.0.0.0:*
LISTEN 0      4096   127.0.0.53%lo:53        0.0.0.0:*    users:(("systemd-resolve",pid=501,fd=14))
ESTAB  0      0        10.0.0.2:22      10.0.0.9:51514
garbage line
`

func TestParseSS(t *testing.T) {
	listeners := ParseSS(ssOutput)
	if len(listeners) != 4 {
		t.Fatalf("expected 4 listeners, got %d: %+v", len(listeners), listeners)
	}

	ssh := listeners[0]
	if ssh.Port != 22 || ssh.Address != "0.0.0.0" || ssh.Process != "sshd" || ssh.PID != 812 {
		t.Errorf("unexpected sshd listener: %+v", ssh)
	}
	if listeners[1].Address != "::" {
		t.Errorf("expected IPv6 wildcard address, got %q", listeners[1].Address)
	}
	if listeners[2].Process != "" {
		t.Errorf("expected no process for redis line, got %q", listeners[2].Process)
	}
	if listeners[3].Address != "127.0.0.53" || listeners[3].Port != 53 {
		t.Errorf("expected scoped address to be trimmed, got %+v", listeners[3])
	}
}

func newTestSystemProber(runner cmdrun.Runner) *SystemProber {
	prober := NewSystemProber(runner, zap.NewNop())
	prober.processName = func(pid int32) string { return "proc-" + strconv.Itoa(int(pid)) }
	return prober
}

func TestSystemProber_UsesSS(t *testing.T) {
	runner := cmdrun.NewScriptRunner()
	runner.On("ss -Htlnp", ssOutput, nil)
	prober := newTestSystemProber(runner)
	prober.connections = func() ([]gnet.ConnectionStat, error) {
		t.Fatal("socket table must not be consulted when ss succeeds")
		return nil, nil
	}

	if !prober.IsPortBound(22) {
		t.Error("expected port 22 to be bound")
	}
	if prober.IsPortBound(3389) {
		t.Error("expected port 3389 to be unbound")
	}
	if got := len(prober.Listeners(22)); got != 2 {
		t.Errorf("expected 2 listeners on port 22, got %d", got)
	}
}

func TestSystemProber_FallsBackToSocketTable(t *testing.T) {
	runner := cmdrun.NewScriptRunner()
	prober := newTestSystemProber(runner)
	prober.connections = func() ([]gnet.ConnectionStat, error) {
		return []gnet.ConnectionStat{
			{Status: "LISTEN", Laddr: gnet.Addr{IP: "0.0.0.0", Port: 8080}, Pid: 42},
			{Status: "ESTABLISHED", Laddr: gnet.Addr{IP: "10.0.0.2", Port: 9090}, Pid: 43},
		}, nil
	}

	listeners := prober.Listeners(8080)
	if len(listeners) != 1 {
		t.Fatalf("expected 1 listener from socket table, got %d", len(listeners))
	}
	if listeners[0].Process != "proc-42" || listeners[0].Source != "socket-table" {
		t.Errorf("unexpected listener: %+v", listeners[0])
	}
	if prober.IsPortBound(9090) {
		t.Error("established connection must not count as bound")
	}
}

func TestSystemProber_BothMechanismsFail(t *testing.T) {
	runner := cmdrun.NewScriptRunner()
	prober := newTestSystemProber(runner)
	prober.connections = func() ([]gnet.ConnectionStat, error) {
		return nil, errors.New("permission denied")
	}

	if prober.IsPortBound(22) {
		t.Error("expected port to be reported unbound when enumeration is unavailable")
	}
}

func TestSystemProber_RealListener(t *testing.T) {
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("failed to start TCP listener: %v", err)
	}
	defer listener.Close()
	port := uint16(listener.Addr().(*net.TCPAddr).Port)

	// ss is scripted as missing so the gopsutil socket table is exercised.
	prober := NewSystemProber(cmdrun.NewScriptRunner(), zap.NewNop())
	if _, err := gnet.Connections("tcp"); err != nil {
		t.Skipf("socket table unavailable on this platform: %v", err)
	}
	if !prober.IsPortBound(port) {
		t.Fatalf("expected port %d with a live listener to be bound", port)
	}
}

func TestStatic(t *testing.T) {
	prober := NewStatic()
	prober.Bind(22, "sshd")

	if !prober.IsPortBound(22) {
		t.Error("expected port 22 to be bound")
	}
	prober.Unbind(22)
	if prober.IsPortBound(22) {
		t.Error("expected port 22 to be unbound")
	}
	if prober.Probes() != 2 {
		t.Errorf("expected 2 probes, got %d", prober.Probes())
	}
}

func TestListener_String(t *testing.T) {
	l := Listener{Address: "0.0.0.0", Port: 22, PID: 812, Process: "sshd"}
	if got := l.String(); got != "0.0.0.0:22 (sshd, pid 812)" {
		t.Errorf("unexpected String(): %q", got)
	}
	if got := (Listener{Address: "::", Port: 80}).String(); got != "[::]:80" {
		t.Errorf("unexpected String(): %q", got)
	}
}
