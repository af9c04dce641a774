//go:build !linux

package ruletable

import "go.uber.org/zap"

// NewBackend creates an in-memory Backend on non-Linux systems, where
// netfilter is unavailable. Rules do not outlive the process.
func NewBackend(logger *zap.Logger) (Backend, error) {
	logger.Warn("iptables is not available on this platform, using in-memory rule table")
	return NewMemoryBackend(), nil
}
