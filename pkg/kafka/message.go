package kafka

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/Ramsey-B/sage/pkg/models"
)

const (
	HeaderEventType     = "event_type"
	HeaderDatasetKey    = "dataset_key"
	HeaderSchemaVersion = "schema_version"
	HeaderTraceParent   = "traceparent"
	HeaderSourceID      = "source_id"
)

// EntityEvent is the wire form of one canonical entity change. MemberSourceIDs lets source
// systems write the entity id back onto their own records.
type EntityEvent struct {
	EventType       string            `json:"event_type"`
	SchemaVersion   string            `json:"schema_version"`
	DatasetKey      string            `json:"dataset_key"`
	RunID           string            `json:"run_id"`
	EntityID        string            `json:"entity_id"`
	Version         int               `json:"version"`
	Fields          map[string]any    `json:"fields,omitempty"`
	MemberSourceIDs []models.RecordID `json:"member_source_ids"`
	Removed         []models.RecordID `json:"removed_source_ids,omitempty"`
	Absorbed        []string          `json:"absorbed_entity_ids,omitempty"`
	SplitFrom       string            `json:"split_from,omitempty"`
	ForwardedTo     string            `json:"forwarded_to,omitempty"`
	Timestamp       time.Time         `json:"timestamp"`
}

// IncomingMessage wraps a raw source-record message with parsed headers
type IncomingMessage struct {
	Key       string
	Value     []byte
	Headers   map[string]string
	Partition int
	Offset    int64
	Timestamp time.Time
	Topic     string
}

// SourceRecord decodes the message value. A source id header fills in a missing source_id,
// and the broker timestamp stands in for a missing ingestion time.
func (m *IncomingMessage) SourceRecord() (models.SourceRecord, error) {
	var rec models.SourceRecord
	if err := json.Unmarshal(m.Value, &rec); err != nil {
		return rec, fmt.Errorf("decode source record at %s/%d/%d: %w", m.Topic, m.Partition, m.Offset, err)
	}
	if rec.SourceID == "" {
		rec.SourceID = m.Headers[HeaderSourceID]
	}
	if rec.SourceRecordID == "" {
		rec.SourceRecordID = m.Key
	}
	if rec.IngestedAt.IsZero() {
		rec.IngestedAt = m.Timestamp.UTC()
	}
	return rec, nil
}
