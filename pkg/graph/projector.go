package graph

import (
	"context"
	"encoding/json"
	"fmt"
	"slices"

	"github.com/Gobusters/ectologger"

	"github.com/Ramsey-B/sage/pkg/models"
	"github.com/Ramsey-B/sage/pkg/reconcile"
	"github.com/Ramsey-B/sage/pkg/tracing"
)

// Statement is one parameterized Cypher statement
type Statement struct {
	Cypher string
	Params map[string]any
}

// Writer runs statements in one transaction; *Client implements it
type Writer interface {
	ExecuteWrite(ctx context.Context, statements []Statement) error
}

const (
	upsertDonor = `
		MERGE (d:Donor {entity_id: $entity_id})
		SET d = $props`

	// a record belongs to exactly one donor, so edges from any other donor are dropped first
	linkMembers = `
		MATCH (d:Donor {entity_id: $entity_id})
		UNWIND $members AS member
		MERGE (s:SourceRecord {record_id: member.record_id})
		SET s.source_id = member.source_id, s.source_record_id = member.source_record_id
		WITH d, s
		OPTIONAL MATCH (other:Donor)-[old:RESOLVED_FROM]->(s)
		WHERE other.entity_id <> d.entity_id
		DELETE old
		MERGE (d)-[:RESOLVED_FROM]->(s)`

	unlinkMembers = `
		MATCH (d:Donor {entity_id: $entity_id})-[r:RESOLVED_FROM]->(s:SourceRecord)
		WHERE s.record_id IN $removed
		DELETE r`

	forward = `
		MATCH (d:Donor {entity_id: $entity_id})
		OPTIONAL MATCH (d)-[r:RESOLVED_FROM]->()
		DELETE r
		WITH DISTINCT d
		OPTIONAL MATCH (d)-[f:FORWARDED_TO]->()
		DELETE f
		WITH DISTINCT d
		MERGE (t:Donor {entity_id: $forwarded_to})
		MERGE (d)-[:FORWARDED_TO]->(t)`
)

// Projector mirrors committed runs into the graph:
// (:Donor {entity_id})-[:RESOLVED_FROM]->(:SourceRecord) and (:Donor)-[:FORWARDED_TO]->(:Donor)
type Projector struct {
	writer Writer
	logger ectologger.Logger
}

// NewProjector creates a graph projector
func NewProjector(writer Writer, logger ectologger.Logger) *Projector {
	return &Projector{writer: writer, logger: logger}
}

// Name implements reconcile.Sink
func (p *Projector) Name() string {
	return "graph-projection"
}

// Publish writes the run's entity changes in one transaction
func (p *Projector) Publish(ctx context.Context, result *reconcile.RunResult) error {
	ctx, span := tracing.StartSpan(ctx, "graph.Projector.Publish")
	defer span.End()

	if !result.Committed || len(result.Changes) == 0 {
		return nil
	}

	statements := Statements(result.Changes)
	if err := p.writer.ExecuteWrite(ctx, statements); err != nil {
		p.logger.WithContext(ctx).WithError(err).WithField("run_id", result.Run.RunID).Error("Failed to project run into graph")
		return fmt.Errorf("failed to project run %s: %w", result.Run.RunID, err)
	}

	p.logger.WithContext(ctx).WithFields(map[string]any{
		"run_id":     result.Run.RunID,
		"statements": len(statements),
	}).Debug("Projected run into graph")
	return nil
}

// Statements builds the Cypher for a list of entity changes
func Statements(changes []models.EntityChange) []Statement {
	var out []Statement
	for _, change := range changes {
		entity := change.Entity
		out = append(out, Statement{
			Cypher: upsertDonor,
			Params: map[string]any{"entity_id": entity.EntityID, "props": nodeProperties(entity)},
		})

		if !entity.IsActive() {
			if entity.ForwardedTo != "" {
				out = append(out, Statement{
					Cypher: forward,
					Params: map[string]any{"entity_id": entity.EntityID, "forwarded_to": entity.ForwardedTo},
				})
			}
			continue
		}

		if len(change.Removed) > 0 {
			removed := make([]string, len(change.Removed))
			for i, id := range change.Removed {
				removed[i] = string(id)
			}
			out = append(out, Statement{
				Cypher: unlinkMembers,
				Params: map[string]any{"entity_id": entity.EntityID, "removed": removed},
			})
		}

		members := make([]map[string]any, 0, len(entity.MemberSourceIDs))
		for _, id := range entity.MemberSourceIDs {
			source, record := id.Split()
			members = append(members, map[string]any{
				"record_id":        string(id),
				"source_id":        source,
				"source_record_id": record,
			})
		}
		out = append(out, Statement{
			Cypher: linkMembers,
			Params: map[string]any{"entity_id": entity.EntityID, "members": members},
		})
	}
	return out
}

// nodeProperties flattens an entity into Bolt-storable properties. Nested maps become prefixed
// keys and values Bolt cannot store become JSON strings.
func nodeProperties(entity *models.CanonicalEntity) map[string]any {
	props := map[string]any{
		"entity_id":        entity.EntityID,
		"status":           string(entity.Status),
		"version":          int64(entity.Version),
		"member_count":     int64(len(entity.MemberSourceIDs)),
		"created_at":       entity.CreatedAt.UTC(),
		"last_resolved_at": entity.LastResolvedAt.UTC(),
	}
	if entity.TombstonedAt != nil {
		props["tombstoned_at"] = entity.TombstonedAt.UTC()
	}
	if !entity.IsActive() {
		return props
	}
	keys := make([]string, 0, len(entity.Fields))
	for k := range entity.Fields {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	for _, k := range keys {
		flatten(props, k, entity.Fields[k])
	}
	return props
}

func flatten(props map[string]any, key string, value any) {
	switch v := value.(type) {
	case nil:
	case string, bool, int64, float64:
		props[key] = v
	case int:
		props[key] = int64(v)
	case map[string]any:
		for k, inner := range v {
			flatten(props, key+"_"+k, inner)
		}
	case []any:
		list := make([]string, 0, len(v))
		for _, item := range v {
			if s, ok := item.(string); ok {
				list = append(list, s)
				continue
			}
			b, _ := json.Marshal(item)
			list = append(list, string(b))
		}
		props[key] = list
	default:
		b, err := json.Marshal(v)
		if err == nil {
			props[key] = string(b)
		}
	}
}
