package availability

import (
	"fmt"

	"github.com/easzlab/ezfwd/pkg/probe"
	"github.com/easzlab/ezfwd/pkg/ruletable"
	"go.uber.org/zap"
)

// PortConflict classifies a candidate relay port.
type PortConflict int

const (
	Available PortConflict = iota
	SystemBound
	ForwardBound
	Both
)

// String returns the classification name.
func (c PortConflict) String() string {
	switch c {
	case Available:
		return "available"
	case SystemBound:
		return "system-bound"
	case ForwardBound:
		return "forward-bound"
	case Both:
		return "both"
	default:
		return fmt.Sprintf("unknown(%d)", int(c))
	}
}

// Conflicted reports whether the port is claimed by anything.
func (c PortConflict) Conflicted() bool {
	return c != Available
}

// classify combines the two independent observations.
func classify(systemBound, forwardBound bool) PortConflict {
	switch {
	case systemBound && forwardBound:
		return Both
	case systemBound:
		return SystemBound
	case forwardBound:
		return ForwardBound
	default:
		return Available
	}
}

// RuleLookup is the subset of the rule table adapter the resolver reads.
type RuleLookup interface {
	TargetHost() string
	RelayClaimed(relayPort uint16) (bool, error)
	ListAllRedirects() ([]ruletable.ForwardRule, error)
}

// PortUsageDetail is a diagnostic snapshot of everything using a port.
type PortUsageDetail struct {
	Port      uint16
	Conflict  PortConflict
	Listeners []probe.Listener
	// Rules holds redirects to any host whose relay port is Port.
	Rules []ruletable.ForwardRule
	// TargetedBy holds forwarding rules to the target host whose target port is Port.
	TargetedBy []ruletable.ForwardRule
}

// Resolver classifies ports by consulting the OS listeners and the rule
// table on every call. Results are never memoized.
type Resolver struct {
	prober probe.Prober
	rules  RuleLookup
	logger *zap.Logger
}

// NewResolver creates a Resolver.
func NewResolver(prober probe.Prober, rules RuleLookup, logger *zap.Logger) *Resolver {
	return &Resolver{
		prober: prober,
		rules:  rules,
		logger: logger,
	}
}

// CheckAvailability returns Available only if no process listens on port
// and no redirect claims it, including redirects to other hosts.
func (r *Resolver) CheckAvailability(port uint16) (PortConflict, error) {
	systemBound := r.prober.IsPortBound(port)

	forwardBound, err := r.rules.RelayClaimed(port)
	if err != nil {
		return Available, fmt.Errorf("failed to query forwarding rules for port %d: %w", port, err)
	}

	conflict := classify(systemBound, forwardBound)
	r.logger.Debug("checked port availability",
		zap.Uint16("port", port),
		zap.String("result", conflict.String()),
	)
	return conflict, nil
}

// Detail returns the listeners and forwarding rules involving port.
func (r *Resolver) Detail(port uint16) (PortUsageDetail, error) {
	listeners := r.prober.Listeners(port)

	rules, err := r.rules.ListAllRedirects()
	if err != nil {
		return PortUsageDetail{}, fmt.Errorf("failed to list redirects: %w", err)
	}

	detail := PortUsageDetail{
		Port:      port,
		Listeners: listeners,
	}
	for _, rule := range rules {
		if rule.RelayPort == port {
			detail.Rules = append(detail.Rules, rule)
		}
		if rule.TargetPort == port && rule.TargetHost == r.rules.TargetHost() {
			detail.TargetedBy = append(detail.TargetedBy, rule)
		}
	}
	detail.Conflict = classify(len(listeners) > 0, len(detail.Rules) > 0)
	return detail, nil
}
