package ruletable

import (
	"fmt"
	"strconv"
	"strings"

	"go.uber.org/zap"
)

// Adapter wraps a Backend and exposes the relay rule operations with logging.
// Every query re-reads the table; nothing is cached between calls. Each
// insert or delete is a single Backend call with no automatic rollback.
type Adapter struct {
	backend    Backend
	targetHost string
	logger     *zap.Logger
}

// NewAdapter creates an Adapter managing rules that forward to targetHost.
func NewAdapter(backend Backend, targetHost string, logger *zap.Logger) *Adapter {
	return &Adapter{
		backend:    backend,
		targetHost: targetHost,
		logger:     logger,
	}
}

// TargetHost returns the configured forwarding target.
func (a *Adapter) TargetHost() string {
	return a.targetHost
}

// BackendKind names the underlying Backend implementation.
func (a *Adapter) BackendKind() string {
	return a.backend.Kind()
}

// redirectSpec builds the nat/PREROUTING DNAT rule for a mapping.
func redirectSpec(relayPort uint16, targetHost string, targetPort uint16) []string {
	return []string{
		"-p", "tcp",
		"-m", "tcp",
		"--dport", strconv.Itoa(int(relayPort)),
		"-j", "DNAT",
		"--to-destination", fmt.Sprintf("%s:%d", targetHost, targetPort),
	}
}

// acceptSpec builds the filter/FORWARD rule admitting traffic to the target port.
func (a *Adapter) acceptSpec(targetPort uint16) []string {
	return []string{
		"-d", a.targetHost + "/32",
		"-p", "tcp",
		"-m", "tcp",
		"--dport", strconv.Itoa(int(targetPort)),
		"-j", "ACCEPT",
	}
}

// masqueradeSpec builds the nat/POSTROUTING rule rewriting the source of forwarded traffic.
func (a *Adapter) masqueradeSpec() []string {
	return []string{
		"-d", a.targetHost + "/32",
		"-p", "tcp",
		"-j", "MASQUERADE",
	}
}

// ListAllRedirects returns every TCP DNAT redirect in the table regardless of
// target host, in table order.
func (a *Adapter) ListAllRedirects() ([]ForwardRule, error) {
	lines, err := a.backend.List(TableNat, ChainPrerouting)
	if err != nil {
		return nil, fmt.Errorf("failed to list %s/%s: %w", TableNat, ChainPrerouting, err)
	}

	return ParseDump(strings.Join(lines, "\n")), nil
}

// ListForwardingRules returns the redirects to the configured target host,
// oldest first.
func (a *Adapter) ListForwardingRules() ([]ForwardRule, error) {
	all, err := a.ListAllRedirects()
	if err != nil {
		return nil, err
	}

	var rules []ForwardRule
	for _, rule := range all {
		if rule.TargetHost == a.targetHost {
			rules = append(rules, rule)
		}
	}
	return rules, nil
}

// FindRules returns every forwarding rule claiming relayPort. More than one
// result means the table holds duplicates.
func (a *Adapter) FindRules(relayPort uint16) ([]ForwardRule, error) {
	rules, err := a.ListForwardingRules()
	if err != nil {
		return nil, err
	}

	var matches []ForwardRule
	for _, rule := range rules {
		if rule.RelayPort == relayPort {
			matches = append(matches, rule)
		}
	}
	return matches, nil
}

// FindRule returns the first (oldest) forwarding rule at relayPort.
func (a *Adapter) FindRule(relayPort uint16) (ForwardRule, bool, error) {
	matches, err := a.FindRules(relayPort)
	if err != nil {
		return ForwardRule{}, false, err
	}
	if len(matches) == 0 {
		return ForwardRule{}, false, nil
	}
	return matches[0], true, nil
}

// RuleExists reports whether a forwarding rule claims relayPort.
func (a *Adapter) RuleExists(relayPort uint16) (bool, error) {
	_, found, err := a.FindRule(relayPort)
	return found, err
}

// RelayClaimed reports whether any redirect, whatever its target host,
// claims relayPort. PREROUTING applies the first match, so a rule added
// behind it would never see traffic.
func (a *Adapter) RelayClaimed(relayPort uint16) (bool, error) {
	all, err := a.ListAllRedirects()
	if err != nil {
		return false, err
	}
	for _, rule := range all {
		if rule.RelayPort == relayPort {
			return true, nil
		}
	}
	return false, nil
}

// InsertRedirectRule appends the DNAT rule for relayPort -> targetHost:targetPort.
func (a *Adapter) InsertRedirectRule(relayPort uint16, targetHost string, targetPort uint16) error {
	spec := redirectSpec(relayPort, targetHost, targetPort)
	if err := a.backend.Append(TableNat, ChainPrerouting, spec...); err != nil {
		return fmt.Errorf("failed to insert redirect rule %d -> %s:%d: %w", relayPort, targetHost, targetPort, err)
	}
	a.logger.Info("inserted redirect rule",
		zap.Uint16("relay_port", relayPort),
		zap.String("target", fmt.Sprintf("%s:%d", targetHost, targetPort)),
	)
	return nil
}

// DeleteRedirectRule deletes the DNAT rule for relayPort -> targetHost:targetPort.
func (a *Adapter) DeleteRedirectRule(relayPort uint16, targetHost string, targetPort uint16) error {
	spec := redirectSpec(relayPort, targetHost, targetPort)
	if err := a.backend.Delete(TableNat, ChainPrerouting, spec...); err != nil {
		return fmt.Errorf("failed to delete redirect rule %d -> %s:%d: %w", relayPort, targetHost, targetPort, err)
	}
	a.logger.Info("deleted redirect rule",
		zap.Uint16("relay_port", relayPort),
		zap.String("target", fmt.Sprintf("%s:%d", targetHost, targetPort)),
	)
	return nil
}

// InsertAcceptRule appends the FORWARD accept rule for targetPort.
func (a *Adapter) InsertAcceptRule(targetPort uint16) error {
	if err := a.backend.Append(TableFilter, ChainForward, a.acceptSpec(targetPort)...); err != nil {
		return fmt.Errorf("failed to insert accept rule for port %d: %w", targetPort, err)
	}
	a.logger.Info("inserted accept rule", zap.Uint16("target_port", targetPort))
	return nil
}

// DeleteAcceptRule deletes one FORWARD accept rule for targetPort.
func (a *Adapter) DeleteAcceptRule(targetPort uint16) error {
	if err := a.backend.Delete(TableFilter, ChainForward, a.acceptSpec(targetPort)...); err != nil {
		return fmt.Errorf("failed to delete accept rule for port %d: %w", targetPort, err)
	}
	a.logger.Info("deleted accept rule", zap.Uint16("target_port", targetPort))
	return nil
}

// AcceptRuleExists reports whether a FORWARD accept rule exists for targetPort.
func (a *Adapter) AcceptRuleExists(targetPort uint16) (bool, error) {
	exists, err := a.backend.Exists(TableFilter, ChainForward, a.acceptSpec(targetPort)...)
	if err != nil {
		return false, fmt.Errorf("failed to check accept rule for port %d: %w", targetPort, err)
	}
	return exists, nil
}

// MasqueradeExists reports whether the return-traffic masquerade rule exists.
func (a *Adapter) MasqueradeExists() (bool, error) {
	exists, err := a.backend.Exists(TableNat, ChainPostrouting, a.masqueradeSpec()...)
	if err != nil {
		return false, fmt.Errorf("failed to check masquerade rule: %w", err)
	}
	return exists, nil
}

// EnsureMasqueradeRule appends the masquerade rule unless it already exists.
func (a *Adapter) EnsureMasqueradeRule() error {
	exists, err := a.MasqueradeExists()
	if err != nil {
		return err
	}
	if exists {
		return nil
	}
	if err := a.backend.Append(TableNat, ChainPostrouting, a.masqueradeSpec()...); err != nil {
		return fmt.Errorf("failed to insert masquerade rule: %w", err)
	}
	a.logger.Info("inserted masquerade rule", zap.String("target_host", a.targetHost))
	return nil
}
