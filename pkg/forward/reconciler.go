package forward

import (
	"errors"
	"fmt"

	"github.com/easzlab/ezfwd/pkg/availability"
	"github.com/easzlab/ezfwd/pkg/ipforward"
	"github.com/easzlab/ezfwd/pkg/ruletable"
	"github.com/hashicorp/go-multierror"
	"go.uber.org/zap"
)

// ForwardingSwitch turns on kernel IP forwarding when it is off.
// This decouples the forward package from the sysctl file layout.
type ForwardingSwitch interface {
	Ensure() error
}

// Options tunes the Reconciler.
type Options struct {
	// MaxAttempts bounds the port search used by auto-assignment.
	MaxAttempts int
	// MaxRangeSpan bounds the number of ports AddRange accepts.
	MaxRangeSpan int
}

// Reconciler applies add, modify and remove intents to the rule table as
// ordered steps with compensating actions. It keeps no state between calls;
// every operation re-reads the table.
type Reconciler struct {
	rules      *ruletable.Adapter
	resolver   *availability.Resolver
	allocator  *availability.Allocator
	forwarding ForwardingSwitch
	opts       Options
	logger     *zap.Logger
}

// NewReconciler creates a new Reconciler.
func NewReconciler(
	rules *ruletable.Adapter,
	resolver *availability.Resolver,
	allocator *availability.Allocator,
	forwarding ForwardingSwitch,
	opts Options,
	logger *zap.Logger,
) *Reconciler {
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = 1000
	}
	if opts.MaxRangeSpan <= 0 {
		opts.MaxRangeSpan = 1000
	}
	return &Reconciler{
		rules:      rules,
		resolver:   resolver,
		allocator:  allocator,
		forwarding: forwarding,
		opts:       opts,
		logger:     logger,
	}
}

// AddRequest describes a new mapping. A zero RelayPort means "same as
// TargetPort".
type AddRequest struct {
	TargetPort uint16
	RelayPort  uint16
	// AutoAssign searches for a free relay port upward from RelayPort when
	// the requested one is taken.
	AutoAssign bool
}

// Add creates a forwarding rule. A conflicted relay port without
// AutoAssign fails before anything is mutated.
func (r *Reconciler) Add(req AddRequest) Result {
	if req.TargetPort == 0 {
		return failed(fmt.Errorf("%w: target port must be in 1-65535", ErrInvalidInput))
	}
	relayPort := req.RelayPort
	if relayPort == 0 {
		relayPort = req.TargetPort
	}

	conflict, err := r.resolver.CheckAvailability(relayPort)
	if err != nil {
		return failed(adapterFailure(err))
	}

	var warnings []string
	if conflict.Conflicted() {
		conflictErr := &ConflictError{Port: relayPort, Conflict: conflict}
		if !req.AutoAssign {
			r.logger.Warn("relay port unavailable",
				zap.Uint16("relay_port", relayPort),
				zap.String("conflict", conflict.String()),
			)
			return failed(conflictErr)
		}

		found, err := r.allocator.FindAvailablePort(relayPort, r.opts.MaxAttempts)
		if err != nil {
			return failed(fmt.Errorf("%w: %w", conflictErr, err))
		}
		warnings = append(warnings, fmt.Sprintf("relay port %d is %s, using %d", relayPort, conflict, found))
		r.logger.Info("auto-assigned relay port",
			zap.Uint16("requested", relayPort),
			zap.Uint16("relay_port", found),
		)
		relayPort = found
	}

	if err := r.forwarding.Ensure(); err != nil {
		if !errors.Is(err, ipforward.ErrNotPersisted) {
			return failed(fmt.Errorf("failed to enable IP forwarding: %w", err))
		}
		r.logger.Warn("IP forwarding setting not persisted", zap.Error(err))
		warnings = append(warnings, err.Error())
	}

	rule := ruletable.ForwardRule{
		RelayPort:  relayPort,
		TargetHost: r.rules.TargetHost(),
		TargetPort: req.TargetPort,
	}

	tx := &transaction{
		op: "add",
		steps: []step{
			r.insertRedirectStep("insert redirect", rule),
			r.insertAcceptStep("insert accept", rule.TargetPort),
		},
		logger: r.logger,
	}
	result := tx.execute()
	result.Rule = rule
	result.Warnings = append(warnings, result.Warnings...)
	if result.Kind != Success {
		return result
	}

	if err := r.rules.EnsureMasqueradeRule(); err != nil {
		r.logger.Warn("failed to ensure masquerade rule", zap.Error(err))
		result.Warnings = append(result.Warnings, err.Error())
	}

	if err := r.verifyPresent(rule); err != nil {
		result.Kind = Failure
		result.Err = err
		return result
	}

	r.logger.Info("forwarding rule added", zap.String("rule", rule.String()))
	return result
}

// ModifyRequest changes the mapping at RelayPort. Zero fields keep their
// current values.
type ModifyRequest struct {
	RelayPort     uint16
	NewTargetPort uint16
	NewRelayPort  uint16
	// Force proceeds even when the new relay port is in use.
	Force bool
}

// Modify proposes and applies a modify in one call.
func (r *Reconciler) Modify(req ModifyRequest) Result {
	desc, err := r.ProposeModify(req)
	if err != nil {
		return failed(err)
	}
	return r.Apply(desc, true)
}

// Remove proposes and applies a remove in one call.
func (r *Reconciler) Remove(relayPort uint16) Result {
	desc, err := r.ProposeRemove(relayPort)
	if err != nil {
		return failed(err)
	}
	return r.Apply(desc, true)
}

func (r *Reconciler) applyModify(desc ChangeDescription) Result {
	current, next := desc.Current, desc.Proposed

	tx := &transaction{
		op: "modify",
		steps: []step{
			r.deleteRedirectStep("delete old redirect", current),
			r.deleteAcceptStep("delete old accept", current.TargetPort, true),
			r.insertRedirectStep("insert new redirect", next),
			r.insertAcceptStep("insert new accept", next.TargetPort),
		},
		escalate: true,
		logger:   r.logger,
	}
	result := tx.execute()
	result.Rule = next
	result.Previous = current
	if result.Kind != Success {
		return result
	}

	if err := r.verifyPresent(next); err != nil {
		result.Kind = Failure
		result.Err = err
		return result
	}

	r.logger.Info("forwarding rule modified",
		zap.String("from", current.String()),
		zap.String("to", next.String()),
	)
	return result
}

func (r *Reconciler) applyRemove(desc ChangeDescription) Result {
	rule := desc.Current
	result := Result{Rule: rule, Previous: rule}

	// Both deletions are attempted; neither failure blocks the other.
	var errs *multierror.Error
	if err := r.rules.DeleteRedirectRule(rule.RelayPort, rule.TargetHost, rule.TargetPort); err != nil {
		errs = multierror.Append(errs, err)
	} else {
		result.CompletedSteps = append(result.CompletedSteps, "delete redirect")
	}
	if err := r.rules.DeleteAcceptRule(rule.TargetPort); err != nil {
		errs = multierror.Append(errs, err)
	} else {
		result.CompletedSteps = append(result.CompletedSteps, "delete accept")
	}

	present, err := r.rulePresent(rule)
	if err != nil {
		result.Kind = Failure
		result.Err = errors.Join(adapterFailure(err), errs.ErrorOrNil())
		return result
	}
	if present {
		result.Kind = Failure
		if len(result.CompletedSteps) > 0 {
			result.Kind = PartialFailure
		}
		result.Err = errors.Join(
			fmt.Errorf("%w: relay port %d still forwards to %s", ErrRemovalFailed, rule.RelayPort, rule.Target()),
			errs.ErrorOrNil(),
		)
		return result
	}

	result.Kind = Success
	if errs != nil {
		r.logger.Warn("forwarding rule removed with errors", zap.Error(errs))
		for _, err := range errs.Errors {
			result.Warnings = append(result.Warnings, err.Error())
		}
	}
	r.logger.Info("forwarding rule removed", zap.String("rule", rule.String()))
	return result
}

func (r *Reconciler) insertRedirectStep(name string, rule ruletable.ForwardRule) step {
	return step{
		name: name,
		run: func() error {
			return r.rules.InsertRedirectRule(rule.RelayPort, rule.TargetHost, rule.TargetPort)
		},
		undo: func() error {
			return r.rules.DeleteRedirectRule(rule.RelayPort, rule.TargetHost, rule.TargetPort)
		},
	}
}

func (r *Reconciler) deleteRedirectStep(name string, rule ruletable.ForwardRule) step {
	return step{
		name: name,
		run: func() error {
			return r.rules.DeleteRedirectRule(rule.RelayPort, rule.TargetHost, rule.TargetPort)
		},
		undo: func() error {
			return r.rules.InsertRedirectRule(rule.RelayPort, rule.TargetHost, rule.TargetPort)
		},
	}
}

func (r *Reconciler) insertAcceptStep(name string, targetPort uint16) step {
	return step{
		name: name,
		run:  func() error { return r.rules.InsertAcceptRule(targetPort) },
		undo: func() error { return r.rules.DeleteAcceptRule(targetPort) },
	}
}

// deleteAcceptStep is optional in modify: the accept rule may be shared
// with another mapping to the same target port.
func (r *Reconciler) deleteAcceptStep(name string, targetPort uint16, optional bool) step {
	return step{
		name:     name,
		run:      func() error { return r.rules.DeleteAcceptRule(targetPort) },
		undo:     func() error { return r.rules.InsertAcceptRule(targetPort) },
		optional: optional,
	}
}

// rulePresent re-reads the table and reports whether rule is in it.
func (r *Reconciler) rulePresent(rule ruletable.ForwardRule) (bool, error) {
	rules, err := r.rules.FindRules(rule.RelayPort)
	if err != nil {
		return false, err
	}
	for _, existing := range rules {
		if existing == rule {
			return true, nil
		}
	}
	return false, nil
}

// verifyPresent confirms a mutation is visible in the table.
func (r *Reconciler) verifyPresent(rule ruletable.ForwardRule) error {
	present, err := r.rulePresent(rule)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrVerificationFailed, adapterFailure(err))
	}
	if !present {
		r.logger.Error("rule not visible after insert", zap.String("rule", rule.String()))
		return fmt.Errorf("%w: %s not found in rule table", ErrVerificationFailed, rule)
	}
	return nil
}
