package conflict

import (
	"time"

	"github.com/kimhsiao/carelog/backend/internal/logging"
	"github.com/kimhsiao/carelog/backend/internal/models"
)

// Detection is the classification of a (local, server) pair at sync time.
type Detection struct {
	HasConflict  bool
	ConflictType models.ConflictType
}

// Detector classifies divergence between a local snapshot and the server's
// current state. Pure except for reading the clock.
type Detector struct {
	policy Policy
	now    func() time.Time
}

// NewDetector creates a Detector with the given policy.
func NewDetector(policy Policy) *Detector {
	return &Detector{
		policy: policy,
		now:    time.Now,
	}
}

// Detect classifies the divergence for one record.
// localTimestamp is the epoch-ms time of the local edit. A nil server record
// means the server copy was deleted.
func (d *Detector) Detect(local, server models.Record, localTimestamp int64) Detection {
	if server == nil {
		logging.Warn("Server copy deleted while local edit pending",
			map[string]interface{}{
				"local_timestamp": localTimestamp,
			})
		return Detection{HasConflict: true, ConflictType: models.ConflictTypeDelete}
	}

	if serverMillis, ok := server.LastWriteMillis(); ok && serverMillis > localTimestamp {
		logging.Info("Server record newer than local edit",
			map[string]interface{}{
				"local_timestamp":  localTimestamp,
				"server_timestamp": serverMillis,
			})
		return Detection{HasConflict: true, ConflictType: models.ConflictTypeUpdate}
	}

	age := d.now().UnixMilli() - localTimestamp
	if age > d.policy.StalenessThreshold.Milliseconds() {
		logging.Info("Local edit exceeds staleness threshold",
			map[string]interface{}{
				"local_timestamp": localTimestamp,
				"age_ms":          age,
			})
		return Detection{HasConflict: true, ConflictType: models.ConflictTypeStale}
	}

	return Detection{}
}
