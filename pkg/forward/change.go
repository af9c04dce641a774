package forward

import (
	"fmt"

	"github.com/easzlab/ezfwd/pkg/availability"
	"github.com/easzlab/ezfwd/pkg/ruletable"
	"go.uber.org/zap"
)

// Action is the kind of change a ChangeDescription proposes.
type Action int

const (
	ActionModify Action = iota + 1
	ActionRemove
)

func (a Action) String() string {
	switch a {
	case ActionModify:
		return "modify"
	case ActionRemove:
		return "remove"
	default:
		return fmt.Sprintf("unknown(%d)", int(a))
	}
}

// ChangeDescription is a proposed mutation built from the current table.
// It is shown to the operator and passed back to Apply with the decision.
type ChangeDescription struct {
	Action  Action
	Current ruletable.ForwardRule
	// Proposed is the mapping after a modify. Empty for remove.
	Proposed ruletable.ForwardRule
	// Conflict classifies the new relay port when a modify moves it.
	Conflict availability.PortConflict
	Force    bool
}

// Unchanged reports whether a modify would leave the mapping as it is.
func (d ChangeDescription) Unchanged() bool {
	return d.Action == ActionModify && d.Current == d.Proposed
}

func (d ChangeDescription) String() string {
	switch d.Action {
	case ActionModify:
		if d.Unchanged() {
			return fmt.Sprintf("keep %s (no change)", d.Current)
		}
		s := fmt.Sprintf("modify %s => %s", d.Current, d.Proposed)
		if d.Conflict.Conflicted() {
			s += fmt.Sprintf(" (relay port %d is %s, forced)", d.Proposed.RelayPort, d.Conflict)
		}
		return s
	case ActionRemove:
		return fmt.Sprintf("remove %s", d.Current)
	default:
		return "unknown change"
	}
}

// ProposeModify describes the modify req would perform without mutating
// anything. A conflicted new relay port fails unless req.Force is set.
func (r *Reconciler) ProposeModify(req ModifyRequest) (ChangeDescription, error) {
	current, err := r.lookup(req.RelayPort)
	if err != nil {
		return ChangeDescription{}, err
	}

	proposed := current
	if req.NewTargetPort != 0 {
		proposed.TargetPort = req.NewTargetPort
	}
	if req.NewRelayPort != 0 {
		proposed.RelayPort = req.NewRelayPort
	}

	desc := ChangeDescription{
		Action:   ActionModify,
		Current:  current,
		Proposed: proposed,
		Force:    req.Force,
	}
	if proposed.RelayPort == current.RelayPort {
		return desc, nil
	}

	conflict, err := r.resolver.CheckAvailability(proposed.RelayPort)
	if err != nil {
		return ChangeDescription{}, adapterFailure(err)
	}
	desc.Conflict = conflict
	if conflict.Conflicted() {
		if !req.Force {
			return ChangeDescription{}, &ConflictError{Port: proposed.RelayPort, Conflict: conflict}
		}
		r.logger.Warn("forcing modify onto a port in use",
			zap.Uint16("relay_port", proposed.RelayPort),
			zap.String("conflict", conflict.String()),
		)
	}
	return desc, nil
}

// ProposeRemove describes the removal of the rule at relayPort.
func (r *Reconciler) ProposeRemove(relayPort uint16) (ChangeDescription, error) {
	current, err := r.lookup(relayPort)
	if err != nil {
		return ChangeDescription{}, err
	}
	return ChangeDescription{
		Action:  ActionRemove,
		Current: current,
	}, nil
}

// Apply carries out a proposal. A declined proposal is a successful no-op.
// The rule the proposal was built from must still be in the table.
func (r *Reconciler) Apply(desc ChangeDescription, confirmed bool) Result {
	if desc.Unchanged() {
		return Result{Kind: NoChange, Rule: desc.Current, Previous: desc.Current}
	}
	if !confirmed {
		r.logger.Info("change declined", zap.String("change", desc.String()))
		return Result{Kind: Declined, Rule: desc.Current, Previous: desc.Current}
	}

	present, err := r.rulePresent(desc.Current)
	if err != nil {
		return failed(adapterFailure(err))
	}
	if !present {
		return failed(fmt.Errorf("%w: %s changed since the proposal", ErrVerificationFailed, desc.Current))
	}

	switch desc.Action {
	case ActionModify:
		return r.applyModify(desc)
	case ActionRemove:
		return r.applyRemove(desc)
	default:
		return failed(fmt.Errorf("%w: unknown action %s", ErrInvalidInput, desc.Action))
	}
}

// lookup re-parses the table for the oldest rule at relayPort.
func (r *Reconciler) lookup(relayPort uint16) (ruletable.ForwardRule, error) {
	if relayPort == 0 {
		return ruletable.ForwardRule{}, fmt.Errorf("%w: relay port must be in 1-65535", ErrInvalidInput)
	}
	rule, found, err := r.rules.FindRule(relayPort)
	if err != nil {
		return ruletable.ForwardRule{}, adapterFailure(err)
	}
	if !found {
		return ruletable.ForwardRule{}, fmt.Errorf("%w: no forwarding rule on relay port %d", ErrNotFound, relayPort)
	}
	return rule, nil
}
