//go:build linux

package ruletable

import (
	"fmt"

	"github.com/coreos/go-iptables/iptables"
	"go.uber.org/zap"
)

// IPTablesBackend manages rules through the iptables binary using coreos/go-iptables.
type IPTablesBackend struct {
	ipt    *iptables.IPTables
	logger *zap.Logger
}

// NewBackend creates a Backend backed by real iptables operations.
func NewBackend(logger *zap.Logger) (Backend, error) {
	ipt, err := iptables.NewWithProtocol(iptables.ProtocolIPv4)
	if err != nil {
		return nil, fmt.Errorf("failed to create iptables handle: %w", err)
	}
	major, minor, patch := ipt.GetIptablesVersion()
	logger.Debug("iptables backend initialized",
		zap.String("version", fmt.Sprintf("%d.%d.%d", major, minor, patch)),
	)
	return &IPTablesBackend{ipt: ipt, logger: logger}, nil
}

func (b *IPTablesBackend) List(table, chain string) ([]string, error) {
	return b.ipt.List(table, chain)
}

func (b *IPTablesBackend) Exists(table, chain string, rulespec ...string) (bool, error) {
	return b.ipt.Exists(table, chain, rulespec...)
}

func (b *IPTablesBackend) Append(table, chain string, rulespec ...string) error {
	return b.ipt.Append(table, chain, rulespec...)
}

func (b *IPTablesBackend) Delete(table, chain string, rulespec ...string) error {
	return b.ipt.Delete(table, chain, rulespec...)
}

func (b *IPTablesBackend) Kind() string {
	return "iptables"
}
