package probe

import (
	"fmt"
	"net"
	"regexp"
	"strconv"
	"strings"

	"github.com/easzlab/ezfwd/pkg/cmdrun"
	gnet "github.com/shirou/gopsutil/v3/net"
	"github.com/shirou/gopsutil/v3/process"
	"go.uber.org/zap"
)

// Listener describes a process accepting TCP connections on a local port.
type Listener struct {
	Address string
	Port    uint16
	PID     int32
	Process string
	Source  string // enumeration mechanism that reported it
}

// String returns a human-readable representation of the Listener.
func (l Listener) String() string {
	addr := net.JoinHostPort(l.Address, strconv.Itoa(int(l.Port)))
	if l.Process == "" {
		return addr
	}
	return fmt.Sprintf("%s (%s, pid %d)", addr, l.Process, l.PID)
}

// Prober reports the OS listening-socket state for TCP ports.
type Prober interface {
	// IsPortBound reports whether any process listens on port on any interface.
	IsPortBound(port uint16) bool
	// Listeners returns the listeners on port; empty when unbound or unknown.
	Listeners(port uint16) []Listener
}

// SystemProber enumerates listeners with ss, falling back to the kernel
// socket table via gopsutil. If both mechanisms fail the port is reported
// unbound: a known false-negative, logged but not fatal.
type SystemProber struct {
	runner      cmdrun.Runner
	connections func() ([]gnet.ConnectionStat, error)
	processName func(pid int32) string
	logger      *zap.Logger
}

// NewSystemProber creates a Prober using the given command runner.
func NewSystemProber(runner cmdrun.Runner, logger *zap.Logger) *SystemProber {
	return &SystemProber{
		runner: runner,
		connections: func() ([]gnet.ConnectionStat, error) {
			return gnet.Connections("tcp")
		},
		processName: lookupProcessName,
		logger:      logger,
	}
}

func lookupProcessName(pid int32) string {
	if pid <= 0 {
		return ""
	}
	proc, err := process.NewProcess(pid)
	if err != nil {
		return ""
	}
	name, err := proc.Name()
	if err != nil {
		return ""
	}
	return name
}

func (p *SystemProber) IsPortBound(port uint16) bool {
	return len(p.Listeners(port)) > 0
}

func (p *SystemProber) Listeners(port uint16) []Listener {
	listeners, err := p.listenersFromSS(port)
	if err == nil {
		return listeners
	}
	p.logger.Debug("ss enumeration failed, falling back to socket table", zap.Error(err))

	listeners, fallbackErr := p.listenersFromSocketTable(port)
	if fallbackErr == nil {
		return listeners
	}

	p.logger.Warn("listener enumeration unavailable, treating port as unbound",
		zap.Uint16("port", port),
		zap.NamedError("ss_error", err),
		zap.NamedError("socket_table_error", fallbackErr),
	)
	return nil
}

func (p *SystemProber) listenersFromSS(port uint16) ([]Listener, error) {
	out, err := p.runner.Run("ss", "-Htlnp")
	if err != nil {
		return nil, err
	}

	var result []Listener
	for _, listener := range ParseSS(string(out)) {
		if listener.Port == port {
			result = append(result, listener)
		}
	}
	return result, nil
}

func (p *SystemProber) listenersFromSocketTable(port uint16) ([]Listener, error) {
	conns, err := p.connections()
	if err != nil {
		return nil, fmt.Errorf("failed to read socket table: %w", err)
	}

	var result []Listener
	for _, conn := range conns {
		if conn.Status != "LISTEN" || conn.Laddr.Port != uint32(port) {
			continue
		}
		result = append(result, Listener{
			Address: conn.Laddr.IP,
			Port:    port,
			PID:     conn.Pid,
			Process: p.processName(conn.Pid),
			Source:  "socket-table",
		})
	}
	return result, nil
}

var ssProcessPattern = regexp.MustCompile(`\("([^"]+)",pid=(\d+)`)

// ParseSS parses `ss -Htlnp` output into listeners. Lines that are not in
// LISTEN state or carry an unparsable local address are skipped.
func ParseSS(output string) []Listener {
	var result []Listener
	for _, line := range strings.Split(output, "\n") {
		fields := strings.Fields(line)
		if len(fields) < 5 || fields[0] != "LISTEN" {
			continue
		}

		host, portStr, err := net.SplitHostPort(fields[3])
		if err != nil {
			continue
		}
		port, err := strconv.Atoi(portStr)
		if err != nil || port < 1 || port > 65535 {
			continue
		}
		// ss prints interface-scoped addresses as 0.0.0.0%lo
		if idx := strings.Index(host, "%"); idx >= 0 {
			host = host[:idx]
		}

		listener := Listener{
			Address: host,
			Port:    uint16(port),
			Source:  "ss",
		}
		if match := ssProcessPattern.FindStringSubmatch(line); match != nil {
			listener.Process = match[1]
			if pid, err := strconv.Atoi(match[2]); err == nil {
				listener.PID = int32(pid)
			}
		}
		result = append(result, listener)
	}
	return result
}
