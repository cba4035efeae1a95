package identity

import (
	"context"
	"errors"
	"fmt"

	"github.com/Gobusters/ectologger"

	"github.com/Ramsey-B/sage/pkg/models"
	"github.com/Ramsey-B/sage/pkg/tracing"
)

// maxForwardHops bounds forwarding chains; commits re-point chains so real data stays at one hop
const maxForwardHops = 32

// Cache is an optional record -> entity id cache in front of a Reader
type Cache interface {
	GetEntityID(ctx context.Context, recordID models.RecordID) (string, bool, error)
	SetEntityIDs(ctx context.Context, assignments map[models.RecordID]string) error
}

// Lookup answers entity queries against committed state
type Lookup struct {
	logger ectologger.Logger
	reader Reader
	cache  Cache
}

// NewLookup creates a lookup. cache may be nil.
func NewLookup(logger ectologger.Logger, reader Reader, cache Cache) *Lookup {
	return &Lookup{logger: logger, reader: reader, cache: cache}
}

// EntityByID returns the active entity for an id, following forwarding references left by merges
func (l *Lookup) EntityByID(ctx context.Context, entityID string) (*models.CanonicalEntity, error) {
	ctx, span := tracing.StartSpan(ctx, "identity.Lookup.EntityByID")
	defer span.End()

	id := entityID
	for hop := 0; hop < maxForwardHops; hop++ {
		entity, err := l.reader.GetEntity(ctx, id)
		if err != nil {
			return nil, err
		}
		if entity.IsActive() || entity.ForwardedTo == "" {
			return entity, nil
		}
		id = entity.ForwardedTo
	}
	return nil, fmt.Errorf("entity %s: forwarding chain longer than %d hops", entityID, maxForwardHops)
}

// EntityForRecord returns the active entity a source record belongs to
func (l *Lookup) EntityForRecord(ctx context.Context, sourceID, sourceRecordID string) (*models.CanonicalEntity, error) {
	ctx, span := tracing.StartSpan(ctx, "identity.Lookup.EntityForRecord")
	defer span.End()

	recordID := models.NewRecordID(sourceID, sourceRecordID)
	log := l.logger.WithContext(ctx).WithField("record_id", recordID)

	if l.cache != nil {
		entityID, ok, err := l.cache.GetEntityID(ctx, recordID)
		if err != nil {
			log.WithError(err).Warn("Entity cache read failed, falling back to store")
		} else if ok {
			entity, err := l.EntityByID(ctx, entityID)
			if err == nil {
				return entity, nil
			}
			if !errors.Is(err, ErrNotFound) {
				return nil, err
			}
		}
	}

	entityID, err := l.reader.GetAssignment(ctx, recordID)
	if err != nil {
		return nil, err
	}
	if l.cache != nil {
		if err := l.cache.SetEntityIDs(ctx, map[models.RecordID]string{recordID: entityID}); err != nil {
			log.WithError(err).Warn("Failed to populate entity cache")
		}
	}
	return l.EntityByID(ctx, entityID)
}
