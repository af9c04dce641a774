package forward

import (
	"errors"
	"fmt"

	"github.com/easzlab/ezfwd/pkg/ruletable"
	"github.com/hashicorp/go-multierror"
	"go.uber.org/zap"
)

// Kind tags the outcome of a reconciliation.
type Kind int

const (
	// Success means every step completed and the table was verified.
	Success Kind = iota
	// PartialFailure means some steps completed before one failed.
	// Result.Compensated tells whether they were all rolled back.
	PartialFailure
	// Failure means nothing was changed, or verification failed.
	Failure
	// NoChange means the request matched the current state.
	NoChange
	// Declined means the operator rejected the proposed change.
	Declined
)

func (k Kind) String() string {
	switch k {
	case Success:
		return "success"
	case PartialFailure:
		return "partial-failure"
	case Failure:
		return "failure"
	case NoChange:
		return "no-change"
	case Declined:
		return "declined"
	default:
		return fmt.Sprintf("unknown(%d)", int(k))
	}
}

// Result describes what a reconciliation did to the rule table.
type Result struct {
	Kind Kind
	// Rule is the mapping the operation produced or targeted.
	Rule ruletable.ForwardRule
	// Previous is the mapping before a modify or remove.
	Previous       ruletable.ForwardRule
	CompletedSteps []string
	Compensated    bool
	Warnings       []string
	Err            error
}

// OK reports whether the operation left the table in the intended state.
func (r Result) OK() bool {
	return r.Err == nil
}

func failed(err error) Result {
	return Result{Kind: Failure, Err: err}
}

// step is one external call plus the call that reverses it.
type step struct {
	name string
	run  func() error
	undo func() error
	// optional steps log a warning on failure and the transaction continues.
	optional bool
}

// transaction runs steps in order and, when a required step fails, undoes
// the completed ones in reverse order.
type transaction struct {
	op    string
	steps []step
	// escalate reports a failed rollback as ErrCompensationFailed instead
	// of a warning.
	escalate bool
	logger   *zap.Logger
}

func (t *transaction) execute() Result {
	var result Result
	var done []step

	for _, s := range t.steps {
		if err := s.run(); err != nil {
			if s.optional {
				t.logger.Warn("step failed, continuing",
					zap.String("op", t.op),
					zap.String("step", s.name),
					zap.Error(err),
				)
				result.Warnings = append(result.Warnings, fmt.Sprintf("%s: %v", s.name, err))
				continue
			}
			t.logger.Error("step failed",
				zap.String("op", t.op),
				zap.String("step", s.name),
				zap.Error(err),
			)
			return t.rollback(result, done, s.name, err)
		}
		done = append(done, s)
		result.CompletedSteps = append(result.CompletedSteps, s.name)
	}

	result.Kind = Success
	return result
}

func (t *transaction) rollback(result Result, done []step, failedStep string, cause error) Result {
	result.Err = adapterFailure(fmt.Errorf("%s: %w", failedStep, cause))
	if len(done) == 0 {
		result.Kind = Failure
		return result
	}
	result.Kind = PartialFailure

	var undoErrs *multierror.Error
	for i := len(done) - 1; i >= 0; i-- {
		s := done[i]
		if s.undo == nil {
			continue
		}
		if err := s.undo(); err != nil {
			t.logger.Error("compensation failed",
				zap.String("op", t.op),
				zap.String("step", s.name),
				zap.Error(err),
			)
			undoErrs = multierror.Append(undoErrs, fmt.Errorf("undo %s: %w", s.name, err))
			continue
		}
		t.logger.Info("compensated step", zap.String("op", t.op), zap.String("step", s.name))
	}

	if undoErrs.ErrorOrNil() == nil {
		result.Compensated = true
		return result
	}
	if t.escalate {
		result.Err = errors.Join(result.Err, fmt.Errorf("%w: %w", ErrCompensationFailed, undoErrs))
	} else {
		for _, err := range undoErrs.Errors {
			result.Warnings = append(result.Warnings, err.Error())
		}
	}
	return result
}
