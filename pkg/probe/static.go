package probe

import "sync"

// Static is an in-memory Prober with a fixed set of bound ports.
type Static struct {
	mu     sync.Mutex
	bound  map[uint16][]Listener
	probes int
}

// NewStatic creates a Static prober with no bound ports.
func NewStatic() *Static {
	return &Static{bound: make(map[uint16][]Listener)}
}

// Bind marks port as listened on by the named process.
func (s *Static) Bind(port uint16, processName string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.bound[port] = append(s.bound[port], Listener{
		Address: "0.0.0.0",
		Port:    port,
		Process: processName,
		Source:  "static",
	})
}

// Unbind removes every listener on port.
func (s *Static) Unbind(port uint16) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.bound, port)
}

// Probes returns how many lookups have been made.
func (s *Static) Probes() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.probes
}

func (s *Static) IsPortBound(port uint16) bool {
	return len(s.Listeners(port)) > 0
}

func (s *Static) Listeners(port uint16) []Listener {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.probes++
	return append([]Listener(nil), s.bound[port]...)
}
