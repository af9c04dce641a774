package ruletable

import (
	"fmt"
	"strings"
	"sync"
)

// Operation names a Backend primitive for failure injection.
type Operation string

const (
	OpList   Operation = "list"
	OpExists Operation = "exists"
	OpAppend Operation = "append"
	OpDelete Operation = "delete"
)

// fault describes an injected failure on the MemoryBackend.
type fault struct {
	op     Operation
	match  string
	err    error
	once   bool
	silent bool
}

// MemoryBackend provides an in-memory rule table emulating iptables.
// Chains keep insertion order and List renders iptables -S lines, so the
// adapter parses the same text it would read from the kernel.
type MemoryBackend struct {
	mu     sync.Mutex
	chains map[string][]string // key: table/chain, value: joined rule specs
	faults []*fault
}

// NewMemoryBackend creates an empty in-memory rule table.
func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{
		chains: make(map[string][]string),
	}
}

func chainKey(table, chain string) string {
	return table + "/" + chain
}

// FailNext makes the next op whose rule spec contains match return err.
func (b *MemoryBackend) FailNext(op Operation, match string, err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.faults = append(b.faults, &fault{op: op, match: match, err: err, once: true})
}

// FailAlways makes every op whose rule spec contains match return err.
func (b *MemoryBackend) FailAlways(op Operation, match string, err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.faults = append(b.faults, &fault{op: op, match: match, err: err})
}

// DropAppends makes appends matching match report success without storing
// the rule, emulating a table that silently diverges from its callers.
func (b *MemoryBackend) DropAppends(match string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.faults = append(b.faults, &fault{op: OpAppend, match: match, silent: true})
}

// ClearFaults removes all injected failures.
func (b *MemoryBackend) ClearFaults() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.faults = nil
}

// Seed appends a raw rule spec without fault checks, for preparing fixtures.
func (b *MemoryBackend) Seed(table, chain string, rulespec ...string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	key := chainKey(table, chain)
	b.chains[key] = append(b.chains[key], strings.Join(rulespec, " "))
}

// Count returns the number of rules in a chain.
func (b *MemoryBackend) Count(table, chain string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.chains[chainKey(table, chain)])
}

// Snapshot returns a copy of every chain, for comparing before/after states.
func (b *MemoryBackend) Snapshot() map[string][]string {
	b.mu.Lock()
	defer b.mu.Unlock()
	result := make(map[string][]string, len(b.chains))
	for key, rules := range b.chains {
		if len(rules) == 0 {
			continue
		}
		result[key] = append([]string(nil), rules...)
	}
	return result
}

// checkFault returns the injected fault for op/spec, consuming one-shot faults.
func (b *MemoryBackend) checkFault(op Operation, spec string) *fault {
	for i, f := range b.faults {
		if f.op != op || !strings.Contains(spec, f.match) {
			continue
		}
		if f.once {
			b.faults = append(b.faults[:i], b.faults[i+1:]...)
		}
		return f
	}
	return nil
}

func (b *MemoryBackend) List(table, chain string) ([]string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if f := b.checkFault(OpList, chainKey(table, chain)); f != nil && f.err != nil {
		return nil, f.err
	}

	rules := b.chains[chainKey(table, chain)]
	result := make([]string, 0, len(rules)+1)
	result = append(result, fmt.Sprintf("-P %s ACCEPT", chain))
	for _, spec := range rules {
		result = append(result, fmt.Sprintf("-A %s %s", chain, spec))
	}
	return result, nil
}

func (b *MemoryBackend) Exists(table, chain string, rulespec ...string) (bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	spec := strings.Join(rulespec, " ")
	if f := b.checkFault(OpExists, spec); f != nil && f.err != nil {
		return false, f.err
	}

	for _, existing := range b.chains[chainKey(table, chain)] {
		if existing == spec {
			return true, nil
		}
	}
	return false, nil
}

func (b *MemoryBackend) Append(table, chain string, rulespec ...string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	spec := strings.Join(rulespec, " ")
	if f := b.checkFault(OpAppend, spec); f != nil {
		if f.silent {
			return nil
		}
		return f.err
	}

	key := chainKey(table, chain)
	b.chains[key] = append(b.chains[key], spec)
	return nil
}

func (b *MemoryBackend) Delete(table, chain string, rulespec ...string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	spec := strings.Join(rulespec, " ")
	if f := b.checkFault(OpDelete, spec); f != nil && f.err != nil {
		return f.err
	}

	key := chainKey(table, chain)
	rules := b.chains[key]
	for i, existing := range rules {
		if existing == spec {
			b.chains[key] = append(rules[:i:i], rules[i+1:]...)
			return nil
		}
	}
	return fmt.Errorf("rule %q not found in %s/%s: bad rule (does a matching rule exist in that chain?)", spec, table, chain)
}

func (b *MemoryBackend) Kind() string {
	return "memory"
}
