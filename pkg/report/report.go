package report

import (
	"fmt"
	"sort"

	"github.com/easzlab/ezfwd/pkg/availability"
	"github.com/easzlab/ezfwd/pkg/probe"
	"github.com/easzlab/ezfwd/pkg/ruletable"
	"github.com/hashicorp/go-multierror"
	"go.uber.org/zap"
)

// RuleState is the live status of a forwarding rule.
type RuleState string

const (
	// StateActive means the rule is the only claim on its relay port.
	StateActive RuleState = "active"
	// StateShadowing means a local process also listens on the relay port
	// and never sees the redirected traffic.
	StateShadowing RuleState = "shadows-listener"
	// StateDuplicate means another redirect claims the same relay port.
	StateDuplicate RuleState = "duplicate"
)

// ForwardingState reports the kernel IP forwarding flag.
type ForwardingState interface {
	Enabled() (bool, error)
}

// Entry is one row of the rule listing.
type Entry struct {
	Rule      ruletable.ForwardRule
	State     RuleState
	Listeners []probe.Listener
}

// Listing is a capped view of the rule table.
type Listing struct {
	Entries []Entry
	Total   int
	// Remaining counts rules beyond the display cap.
	Remaining int
}

// Description is the diagnostic view of a single port.
type Description struct {
	Usage   availability.PortUsageDetail
	Entries []Entry
}

// PortSnapshot is the availability of one well-known port.
type PortSnapshot struct {
	Port     uint16
	Conflict availability.PortConflict
}

// Status summarizes the relay host.
type Status struct {
	TargetHost        string
	Backend           string
	ForwardingEnabled bool
	RuleCount         int
	MasqueradePresent bool
	WellKnown         []PortSnapshot
}

// Duplicate lists the redirects claiming one relay port.
type Duplicate struct {
	RelayPort uint16
	Rules     []ruletable.ForwardRule
}

// CleanupReport lists table anomalies. Nothing is resolved automatically.
type CleanupReport struct {
	Duplicates []Duplicate
	// MissingAccept holds rules without a FORWARD accept for their target port.
	MissingAccept []ruletable.ForwardRule
}

// Clean reports whether no anomaly was found.
func (c CleanupReport) Clean() bool {
	return len(c.Duplicates) == 0 && len(c.MissingAccept) == 0
}

// Views builds read-only reports with a fresh scan of the rule table on
// every call.
type Views struct {
	rules      *ruletable.Adapter
	resolver   *availability.Resolver
	prober     probe.Prober
	forwarding ForwardingState
	wellKnown  []uint16
	logger     *zap.Logger
}

// NewViews creates a new Views.
func NewViews(
	rules *ruletable.Adapter,
	resolver *availability.Resolver,
	prober probe.Prober,
	forwarding ForwardingState,
	wellKnown []uint16,
	logger *zap.Logger,
) *Views {
	return &Views{
		rules:      rules,
		resolver:   resolver,
		prober:     prober,
		forwarding: forwarding,
		wellKnown:  wellKnown,
		logger:     logger,
	}
}

// ListAll returns the forwarding rules oldest first, at most limit of
// them. A non-positive limit means no cap.
func (v *Views) ListAll(limit int) (Listing, error) {
	rules, err := v.rules.ListForwardingRules()
	if err != nil {
		return Listing{}, err
	}
	claims, err := v.relayClaims()
	if err != nil {
		return Listing{}, err
	}

	listing := Listing{Total: len(rules)}
	shown := rules
	if limit > 0 && len(rules) > limit {
		shown = rules[:limit]
		listing.Remaining = len(rules) - limit
	}
	for _, rule := range shown {
		listing.Entries = append(listing.Entries, v.entry(rule, claims))
	}
	return listing, nil
}

// Describe returns the rules and listeners involving port.
func (v *Views) Describe(port uint16) (Description, error) {
	usage, err := v.resolver.Detail(port)
	if err != nil {
		return Description{}, err
	}
	claims, err := v.relayClaims()
	if err != nil {
		return Description{}, err
	}

	desc := Description{Usage: usage}
	for _, rule := range usage.Rules {
		desc.Entries = append(desc.Entries, v.entry(rule, claims))
	}
	return desc, nil
}

// Status gathers the host summary. Failures of individual probes are
// collected into the returned error while the rest of Status is still
// filled in.
func (v *Views) Status() (Status, error) {
	status := Status{
		TargetHost: v.rules.TargetHost(),
		Backend:    v.rules.BackendKind(),
	}
	var errs *multierror.Error

	enabled, err := v.forwarding.Enabled()
	if err != nil {
		errs = multierror.Append(errs, fmt.Errorf("ip forwarding: %w", err))
	}
	status.ForwardingEnabled = enabled

	rules, err := v.rules.ListForwardingRules()
	if err != nil {
		errs = multierror.Append(errs, err)
	}
	status.RuleCount = len(rules)

	masquerade, err := v.rules.MasqueradeExists()
	if err != nil {
		errs = multierror.Append(errs, err)
	}
	status.MasqueradePresent = masquerade

	for _, port := range v.wellKnown {
		conflict, err := v.resolver.CheckAvailability(port)
		if err != nil {
			errs = multierror.Append(errs, err)
			continue
		}
		status.WellKnown = append(status.WellKnown, PortSnapshot{Port: port, Conflict: conflict})
	}

	if errs != nil {
		v.logger.Warn("status collected with errors", zap.Int("error_count", len(errs.Errors)))
	}
	return status, errs.ErrorOrNil()
}

// Cleanup scans every redirect for relay ports claimed more than once and
// rules lacking their accept rule.
func (v *Views) Cleanup() (CleanupReport, error) {
	all, err := v.rules.ListAllRedirects()
	if err != nil {
		return CleanupReport{}, err
	}

	var report CleanupReport
	byPort := make(map[uint16][]ruletable.ForwardRule)
	for _, rule := range all {
		byPort[rule.RelayPort] = append(byPort[rule.RelayPort], rule)
	}
	for port, rules := range byPort {
		if len(rules) > 1 {
			report.Duplicates = append(report.Duplicates, Duplicate{RelayPort: port, Rules: rules})
		}
	}
	sort.Slice(report.Duplicates, func(i, j int) bool {
		return report.Duplicates[i].RelayPort < report.Duplicates[j].RelayPort
	})

	for _, rule := range all {
		if rule.TargetHost != v.rules.TargetHost() {
			continue
		}
		exists, err := v.rules.AcceptRuleExists(rule.TargetPort)
		if err != nil {
			return CleanupReport{}, err
		}
		if !exists {
			report.MissingAccept = append(report.MissingAccept, rule)
		}
	}

	v.logger.Info("consistency scan completed",
		zap.Int("redirects", len(all)),
		zap.Int("duplicates", len(report.Duplicates)),
		zap.Int("missing_accept", len(report.MissingAccept)),
	)
	return report, nil
}

// relayClaims counts redirects per relay port across all target hosts.
func (v *Views) relayClaims() (map[uint16]int, error) {
	all, err := v.rules.ListAllRedirects()
	if err != nil {
		return nil, err
	}
	claims := make(map[uint16]int, len(all))
	for _, rule := range all {
		claims[rule.RelayPort]++
	}
	return claims, nil
}

func (v *Views) entry(rule ruletable.ForwardRule, claims map[uint16]int) Entry {
	entry := Entry{
		Rule:      rule,
		State:     StateActive,
		Listeners: v.prober.Listeners(rule.RelayPort),
	}
	switch {
	case claims[rule.RelayPort] > 1:
		entry.State = StateDuplicate
	case len(entry.Listeners) > 0:
		entry.State = StateShadowing
	}
	return entry
}
