package forward

import (
	"fmt"

	"go.uber.org/zap"
)

// RangeReport summarizes an AddRange call. Succeeded + Failed always equals
// the number of ports in the range.
type RangeReport struct {
	Start     uint16
	End       uint16
	Succeeded int
	Failed    int
	Results   []Result
}

// AddRange adds identical-port mappings for every port in [start, end].
// A port that fails does not stop the rest.
func (r *Reconciler) AddRange(start, end uint16) (RangeReport, error) {
	if start == 0 || end == 0 {
		return RangeReport{}, fmt.Errorf("%w: ports must be in 1-65535", ErrInvalidInput)
	}
	if start > end {
		return RangeReport{}, fmt.Errorf("%w: range start %d is greater than end %d", ErrInvalidInput, start, end)
	}
	span := int(end) - int(start) + 1
	if span > r.opts.MaxRangeSpan {
		return RangeReport{}, fmt.Errorf("%w: range of %d ports exceeds the limit of %d", ErrInvalidInput, span, r.opts.MaxRangeSpan)
	}

	r.logger.Info("adding port range", zap.Uint16("start", start), zap.Uint16("end", end))

	report := RangeReport{Start: start, End: end}
	for port := int(start); port <= int(end); port++ {
		result := r.Add(AddRequest{TargetPort: uint16(port)})
		report.Results = append(report.Results, result)
		if result.OK() {
			report.Succeeded++
		} else {
			report.Failed++
			r.logger.Warn("port in range failed", zap.Int("port", port), zap.Error(result.Err))
		}
	}

	r.logger.Info("port range completed",
		zap.Int("succeeded", report.Succeeded),
		zap.Int("failed", report.Failed),
	)
	return report, nil
}
