package availability

import (
	"errors"
	"fmt"

	"go.uber.org/zap"
)

// MaxPort is the highest TCP port.
const MaxPort = 65535

// ErrNoFreePort is returned when the attempt budget runs out before a free
// port is found. It is a normal outcome, not a fault.
var ErrNoFreePort = errors.New("no available port found")

// Checker classifies a single port.
type Checker interface {
	CheckAvailability(port uint16) (PortConflict, error)
}

// Allocator searches upward for a free relay port.
type Allocator struct {
	checker       Checker
	progressEvery int
	onProgress    func(probed int, current uint16)
	logger        *zap.Logger
}

// NewAllocator creates an Allocator that reports progress every
// progressEvery probes.
func NewAllocator(checker Checker, progressEvery int, logger *zap.Logger) *Allocator {
	if progressEvery <= 0 {
		progressEvery = 100
	}
	return &Allocator{
		checker:       checker,
		progressEvery: progressEvery,
		logger:        logger,
	}
}

// OnProgress registers a callback invoked at each progress interval.
func (a *Allocator) OnProgress(fn func(probed int, current uint16)) {
	a.onProgress = fn
}

// FindAvailablePort scans from start upward, bounded by 65535 and by
// maxAttempts probes, and returns the first Available port.
func (a *Allocator) FindAvailablePort(start uint16, maxAttempts int) (uint16, error) {
	if start == 0 {
		return 0, fmt.Errorf("invalid start port 0")
	}
	if maxAttempts <= 0 {
		return 0, fmt.Errorf("invalid attempt budget %d", maxAttempts)
	}

	probed := 0
	for port := int(start); port <= MaxPort && probed < maxAttempts; port++ {
		conflict, err := a.checker.CheckAvailability(uint16(port))
		if err != nil {
			return 0, fmt.Errorf("failed to check port %d: %w", port, err)
		}
		probed++

		if conflict == Available {
			a.logger.Info("found available port",
				zap.Uint16("port", uint16(port)),
				zap.Int("probed", probed),
			)
			return uint16(port), nil
		}

		if probed%a.progressEvery == 0 {
			a.logger.Info("searching for available port",
				zap.Int("probed", probed),
				zap.Int("current", port),
			)
			if a.onProgress != nil {
				a.onProgress(probed, uint16(port))
			}
		}
	}

	return 0, fmt.Errorf("%w: %d ports probed from %d", ErrNoFreePort, probed, start)
}
