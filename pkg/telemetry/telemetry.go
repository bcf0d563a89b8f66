// Package telemetry reports client-side metrics in batches. Records are
// buffered and shipped when the batch fills, on an interval, and at
// teardown. Delivery failures are retried with backoff, then the batch is
// parked until an explicit online signal; failures never surface to the
// caller and never block the recording path.
package telemetry

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Record is a single metric sample.
type Record struct {
	Name      string            `json:"name"`
	Value     float64           `json:"value"`
	Tags      map[string]string `json:"tags,omitempty"`
	Timestamp int64             `json:"timestamp"` // unix milliseconds
}

// DeviceInfo describes the reporting client. Attached to every batch.
type DeviceInfo struct {
	Platform   string `json:"platform,omitempty"`
	AppVersion string `json:"appVersion,omitempty"`
	InstanceID string `json:"instanceId,omitempty"`
}

// Batch is an immutable delivery unit. A batch keeps its id across
// retries so the ingest side can deduplicate replays.
type Batch struct {
	BatchID    string            `json:"batchId"`
	Metrics    []Record          `json:"metrics"`
	DeviceInfo DeviceInfo        `json:"deviceInfo"`
	Tags       map[string]string `json:"tags,omitempty"`
}

// newBatch seals the given records into a batch.
func newBatch(records []Record, info DeviceInfo, tags map[string]string) *Batch {
	return &Batch{
		BatchID:    uuid.NewString(),
		Metrics:    records,
		DeviceInfo: info,
		Tags:       tags,
	}
}

// Encode marshals the batch for the ingest endpoint.
func (b *Batch) Encode() ([]byte, error) {
	return json.Marshal(b)
}

// now returns the current time in unix milliseconds, the record timestamp
// resolution.
func now() int64 {
	return time.Now().UnixMilli()
}
