package connectivity

import (
	"errors"
	"fmt"
	"net"
	"strconv"
	"time"

	"github.com/easzlab/ezfwd/pkg/ruletable"
	"go.uber.org/zap"
)

// ErrNoRule is returned when no forwarding rule exists at the relay port.
var ErrNoRule = errors.New("no forwarding rule on relay port")

// Report is the outcome of testing one mapping.
type Report struct {
	Rule      ruletable.ForwardRule
	Address   string
	Reachable bool
	Elapsed   time.Duration
	// Reason explains an unreachable target.
	Reason string
}

// Tester checks that the target behind a relay port accepts connections.
// Each check is a single TCP connect bounded by the configured timeout.
type Tester struct {
	rules  *ruletable.Adapter
	dialer net.Dialer
	logger *zap.Logger
}

// NewTester creates a Tester whose connects give up after timeout.
func NewTester(rules *ruletable.Adapter, timeout time.Duration, logger *zap.Logger) *Tester {
	return &Tester{
		rules:  rules,
		dialer: net.Dialer{Timeout: timeout},
		logger: logger,
	}
}

func (t *Tester) connect(address string) error {
	conn, err := t.dialer.Dial("tcp", address)
	if err != nil {
		return err
	}
	return conn.Close()
}

// Test dials the target of the rule at relayPort. An unreachable target,
// including a timeout, is reported in Report and is not an error.
func (t *Tester) Test(relayPort uint16) (Report, error) {
	rule, found, err := t.rules.FindRule(relayPort)
	if err != nil {
		return Report{}, err
	}
	if !found {
		return Report{}, fmt.Errorf("%w %d", ErrNoRule, relayPort)
	}

	report := Report{
		Rule:    rule,
		Address: net.JoinHostPort(rule.TargetHost, strconv.Itoa(int(rule.TargetPort))),
	}

	start := time.Now()
	checkErr := t.connect(report.Address)
	report.Elapsed = time.Since(start)

	if checkErr != nil {
		report.Reason = checkErr.Error()
		t.logger.Info("target unreachable",
			zap.String("rule", rule.String()),
			zap.Error(checkErr),
		)
		return report, nil
	}

	report.Reachable = true
	t.logger.Debug("target reachable",
		zap.String("rule", rule.String()),
		zap.Duration("elapsed", report.Elapsed),
	)
	return report, nil
}
