package events

import "github.com/Ramsey-B/sage/pkg/models"

// SchemaVersion is the current event schema version
const SchemaVersion = "1.0"

// EventType defines the type of event
type EventType string

const (
	EventTypeEntityCreated    EventType = "entity.created"
	EventTypeEntityUpdated    EventType = "entity.updated"
	EventTypeEntityMerged     EventType = "entity.merged"
	EventTypeEntitySplit      EventType = "entity.split"
	EventTypeEntityTombstoned EventType = "entity.tombstoned"
)

// EventTypeFor maps a run's entity change to its event type
func EventTypeFor(kind models.EntityChangeKind) EventType {
	switch kind {
	case models.ChangeUpdated:
		return EventTypeEntityUpdated
	case models.ChangeMerged:
		return EventTypeEntityMerged
	case models.ChangeSplit:
		return EventTypeEntitySplit
	case models.ChangeTombstoned:
		return EventTypeEntityTombstoned
	default:
		return EventTypeEntityCreated
	}
}
