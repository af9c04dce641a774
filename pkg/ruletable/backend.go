package ruletable

// Table and chain names used by the relay rules.
const (
	TableNat    = "nat"
	TableFilter = "filter"

	ChainPrerouting  = "PREROUTING"
	ChainPostrouting = "POSTROUTING"
	ChainForward     = "FORWARD"
)

// Backend abstracts the external NAT rule table primitives, allowing
// platform-specific implementations.
// On Linux, it wraps coreos/go-iptables.
// The in-memory MemoryBackend emulates the same text dumps for development
// on other systems and for tests.
type Backend interface {
	// List returns the chain dump in iptables -S format, in table order.
	List(table, chain string) ([]string, error)
	Exists(table, chain string, rulespec ...string) (bool, error)
	Append(table, chain string, rulespec ...string) error
	Delete(table, chain string, rulespec ...string) error
	// Kind names the implementation for diagnostics.
	Kind() string
}
