// Package events publishes entity lifecycle events for committed resolution runs
package events

import (
	"context"

	"github.com/Gobusters/ectologger"

	"github.com/Ramsey-B/sage/pkg/kafka"
	"github.com/Ramsey-B/sage/pkg/reconcile"
	"github.com/Ramsey-B/sage/pkg/tracing"
)

// Publisher delivers entity events; *kafka.Producer implements it
type Publisher interface {
	PublishEntityEvents(ctx context.Context, events []*kafka.EntityEvent) error
}

// Emitter turns the entity changes of a committed run into events
type Emitter struct {
	publisher Publisher
	logger    ectologger.Logger
}

// NewEmitter creates a new event emitter
func NewEmitter(publisher Publisher, logger ectologger.Logger) *Emitter {
	return &Emitter{
		publisher: publisher,
		logger:    logger,
	}
}

// Name implements reconcile.Sink
func (e *Emitter) Name() string {
	return "entity-events"
}

// Publish emits one event per entity change. Runs that did not commit emit nothing.
func (e *Emitter) Publish(ctx context.Context, result *reconcile.RunResult) error {
	ctx, span := tracing.StartSpan(ctx, "events.Emitter.Publish")
	defer span.End()

	if !result.Committed || len(result.Changes) == 0 {
		return nil
	}

	events := Build(result)
	if err := e.publisher.PublishEntityEvents(ctx, events); err != nil {
		e.logger.WithContext(ctx).WithError(err).WithField("run_id", result.Run.RunID).Error("Failed to emit entity events")
		return err
	}

	e.logger.WithContext(ctx).WithFields(map[string]any{
		"run_id": result.Run.RunID,
		"events": len(events),
	}).Info("Emitted entity events")
	return nil
}

// Build converts a run's changes into wire events, in change order
func Build(result *reconcile.RunResult) []*kafka.EntityEvent {
	out := make([]*kafka.EntityEvent, 0, len(result.Changes))
	for _, change := range result.Changes {
		entity := change.Entity
		event := &kafka.EntityEvent{
			EventType:       string(EventTypeFor(change.Kind)),
			SchemaVersion:   SchemaVersion,
			DatasetKey:      result.Run.DatasetKey,
			RunID:           result.Run.RunID,
			EntityID:        entity.EntityID,
			Version:         entity.Version,
			MemberSourceIDs: entity.MemberSourceIDs,
			Removed:         change.Removed,
			Absorbed:        change.Absorbed,
			SplitFrom:       change.SplitFrom,
			ForwardedTo:     entity.ForwardedTo,
			Timestamp:       entity.LastResolvedAt,
		}
		if entity.IsActive() {
			event.Fields = entity.Fields
		}
		out = append(out, event)
	}
	return out
}
