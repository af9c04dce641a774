package availability

import (
	"errors"
	"testing"

	"github.com/easzlab/ezfwd/pkg/probe"
	"github.com/easzlab/ezfwd/pkg/ruletable"
	"go.uber.org/zap"
)

const testTarget = "203.0.113.9"

type testEnv struct {
	backend  *ruletable.MemoryBackend
	adapter  *ruletable.Adapter
	prober   *probe.Static
	resolver *Resolver
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	backend := ruletable.NewMemoryBackend()
	adapter := ruletable.NewAdapter(backend, testTarget, zap.NewNop())
	prober := probe.NewStatic()
	return &testEnv{
		backend:  backend,
		adapter:  adapter,
		prober:   prober,
		resolver: NewResolver(prober, adapter, zap.NewNop()),
	}
}

func TestCheckAvailability(t *testing.T) {
	env := newTestEnv(t)
	env.prober.Bind(22, "sshd")
	env.prober.Bind(80, "nginx")
	if err := env.adapter.InsertRedirectRule(80, testTarget, 8080); err != nil {
		t.Fatalf("InsertRedirectRule failed: %v", err)
	}
	if err := env.adapter.InsertRedirectRule(3389, testTarget, 3389); err != nil {
		t.Fatalf("InsertRedirectRule failed: %v", err)
	}

	tests := []struct {
		port uint16
		want PortConflict
	}{
		{22, SystemBound},
		{80, Both},
		{3389, ForwardBound},
		{40000, Available},
	}
	for _, tt := range tests {
		got, err := env.resolver.CheckAvailability(tt.port)
		if err != nil {
			t.Fatalf("CheckAvailability(%d) failed: %v", tt.port, err)
		}
		if got != tt.want {
			t.Errorf("port %d: expected %s, got %s", tt.port, tt.want, got)
		}
	}
}

func TestCheckAvailability_RunsLiveEachCall(t *testing.T) {
	env := newTestEnv(t)

	first, _ := env.resolver.CheckAvailability(5000)
	if first != Available {
		t.Fatalf("expected available, got %s", first)
	}

	env.prober.Bind(5000, "late-starter")
	second, _ := env.resolver.CheckAvailability(5000)
	if second != SystemBound {
		t.Fatalf("expected system-bound after bind, got %s", second)
	}
}

func TestCheckAvailability_RedirectToOtherHost(t *testing.T) {
	env := newTestEnv(t)
	env.backend.Seed(ruletable.TableNat, ruletable.ChainPrerouting,
		"-p", "tcp", "-m", "tcp", "--dport", "8080", "-j", "DNAT", "--to-destination", "198.51.100.7:80")

	got, err := env.resolver.CheckAvailability(8080)
	if err != nil {
		t.Fatalf("CheckAvailability failed: %v", err)
	}
	if got != ForwardBound {
		t.Fatalf("expected forward-bound, got %s", got)
	}

	detail, err := env.resolver.Detail(8080)
	if err != nil {
		t.Fatalf("Detail failed: %v", err)
	}
	if detail.Conflict != ForwardBound || len(detail.Rules) != 1 {
		t.Errorf("expected the foreign redirect in detail, got %+v", detail)
	}
	if len(detail.TargetedBy) != 0 {
		t.Errorf("expected no target-host rules targeting 8080, got %+v", detail.TargetedBy)
	}
}

func TestCheckAvailability_QueryError(t *testing.T) {
	env := newTestEnv(t)
	env.backend.FailNext(ruletable.OpList, "nat/PREROUTING", errors.New("permission denied"))

	if _, err := env.resolver.CheckAvailability(22); err == nil {
		t.Fatal("expected rule table failure to propagate")
	}
}

func TestDetail(t *testing.T) {
	env := newTestEnv(t)
	env.prober.Bind(3389, "xrdp")
	_ = env.adapter.InsertRedirectRule(3389, testTarget, 3389)
	_ = env.adapter.InsertRedirectRule(13389, testTarget, 3389)

	detail, err := env.resolver.Detail(3389)
	if err != nil {
		t.Fatalf("Detail failed: %v", err)
	}
	if detail.Conflict != Both {
		t.Errorf("expected both, got %s", detail.Conflict)
	}
	if len(detail.Listeners) != 1 || detail.Listeners[0].Process != "xrdp" {
		t.Errorf("unexpected listeners: %+v", detail.Listeners)
	}
	if len(detail.Rules) != 1 {
		t.Errorf("expected 1 rule on relay port, got %d", len(detail.Rules))
	}
	if len(detail.TargetedBy) != 2 {
		t.Errorf("expected 2 rules targeting the port, got %d", len(detail.TargetedBy))
	}
}

func TestPortConflict_String(t *testing.T) {
	if Available.String() != "available" || Both.String() != "both" {
		t.Error("unexpected PortConflict names")
	}
	if Available.Conflicted() || !SystemBound.Conflicted() {
		t.Error("unexpected Conflicted results")
	}
}

// --- Allocator ---

func TestFindAvailablePort_SkipsConflicts(t *testing.T) {
	env := newTestEnv(t)
	env.prober.Bind(40000, "svc")
	_ = env.adapter.InsertRedirectRule(40001, testTarget, 22)

	allocator := NewAllocator(env.resolver, 100, zap.NewNop())
	port, err := allocator.FindAvailablePort(40000, 10)
	if err != nil {
		t.Fatalf("FindAvailablePort failed: %v", err)
	}
	if port != 40002 {
		t.Fatalf("expected 40002, got %d", port)
	}

	conflict, _ := env.resolver.CheckAvailability(port)
	if conflict != Available {
		t.Errorf("returned port classified %s at return time", conflict)
	}
}

func TestFindAvailablePort_NeverBelowStartOrAboveMax(t *testing.T) {
	env := newTestEnv(t)
	for p := 65530; p <= 65535; p++ {
		env.prober.Bind(uint16(p), "svc")
	}

	allocator := NewAllocator(env.resolver, 100, zap.NewNop())
	_, err := allocator.FindAvailablePort(65530, 100)
	if !errors.Is(err, ErrNoFreePort) {
		t.Fatalf("expected ErrNoFreePort at the top of the range, got %v", err)
	}
	if env.prober.Probes() != 6 {
		t.Errorf("expected scan capped at 65535 (6 probes), got %d", env.prober.Probes())
	}
}

func TestFindAvailablePort_BudgetExhausted(t *testing.T) {
	env := newTestEnv(t)
	for p := 40000; p < 40250; p++ {
		env.prober.Bind(uint16(p), "svc")
	}

	allocator := NewAllocator(env.resolver, 100, zap.NewNop())
	var progress []int
	allocator.OnProgress(func(probed int, _ uint16) {
		progress = append(progress, probed)
	})

	_, err := allocator.FindAvailablePort(40000, 250)
	if !errors.Is(err, ErrNoFreePort) {
		t.Fatalf("expected ErrNoFreePort, got %v", err)
	}
	if env.prober.Probes() != 250 {
		t.Errorf("expected 250 probes, got %d", env.prober.Probes())
	}
	if len(progress) != 2 || progress[0] != 100 || progress[1] != 200 {
		t.Errorf("expected progress at 100 and 200, got %v", progress)
	}
}

func TestFindAvailablePort_Deterministic(t *testing.T) {
	env := newTestEnv(t)
	env.prober.Bind(50000, "svc")
	allocator := NewAllocator(env.resolver, 100, zap.NewNop())

	first, err := allocator.FindAvailablePort(50000, 5)
	if err != nil {
		t.Fatalf("FindAvailablePort failed: %v", err)
	}
	second, _ := allocator.FindAvailablePort(50000, 5)
	if first != second {
		t.Errorf("expected identical results for identical state, got %d and %d", first, second)
	}
}

func TestFindAvailablePort_InvalidInput(t *testing.T) {
	env := newTestEnv(t)
	allocator := NewAllocator(env.resolver, 100, zap.NewNop())

	if _, err := allocator.FindAvailablePort(0, 10); err == nil {
		t.Error("expected error for start port 0")
	}
	if _, err := allocator.FindAvailablePort(1000, 0); err == nil {
		t.Error("expected error for zero attempts")
	}
}
