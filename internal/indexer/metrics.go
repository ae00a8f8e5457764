package indexer

import (
	"encoding/json"
	"time"
)

// Metrics is a point-in-time copy of the pipeline counters.
// Processed + Dropped + Pending always equals Submitted.
type Metrics struct {
	Submitted      uint64        `json:"submitted"`
	Processed      uint64        `json:"processed"`
	Dropped        uint64        `json:"dropped"`
	Pending        uint64        `json:"pending"`
	BufferCapacity int           `json:"buffer_capacity"`
	BatchThreshold int           `json:"batch_threshold"`
	FlushInterval  time.Duration `json:"-"`
}

func (m Metrics) MarshalJSON() ([]byte, error) {
	type alias Metrics
	return json.Marshal(struct {
		alias
		FlushInterval string `json:"flush_interval"`
	}{alias(m), m.FlushInterval.String()})
}
