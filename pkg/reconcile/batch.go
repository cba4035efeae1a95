package reconcile

import (
	"context"
	"slices"

	"golang.org/x/sync/errgroup"

	"github.com/Ramsey-B/sage/pkg/fingerprint"
	"github.com/Ramsey-B/sage/pkg/models"
	"github.com/Ramsey-B/sage/pkg/normalizers"
)

// incomingRecord is a new or changed record version that passed normalization
type incomingRecord struct {
	stored     models.StoredRecord
	normalized models.NormalizedRecord
}

// prepare collapses the batch to one version per key, drops resubmissions whose content is already
// stored and normalizes the rest. Records that fail validation or normalization are added to the
// run's quarantine list and their stored version, if any, stays in place.
func (r *Reconciler) prepare(ctx context.Context, batch []models.SourceRecord, state *models.IdentityState, run *models.ResolutionRun) ([]incomingRecord, error) {
	latest := make(map[models.RecordID]models.SourceRecord, len(batch))
	for _, rec := range batch {
		if rec.IngestedAt.IsZero() {
			rec.IngestedAt = run.StartedAt
		}
		key := rec.Key()
		if prev, ok := latest[key]; ok && rec.IngestedAt.Before(prev.IngestedAt) {
			continue
		}
		latest[key] = rec
	}
	keys := make([]models.RecordID, 0, len(latest))
	for key := range latest {
		keys = append(keys, key)
	}
	slices.Sort(keys)

	candidates := make([]models.StoredRecord, 0, len(keys))
	for _, key := range keys {
		rec := latest[key]
		if err := r.validate.Struct(rec); err != nil {
			malformed := &models.MalformedRecordError{RecordID: key, Cause: err}
			run.Quarantined = append(run.Quarantined, models.QuarantinedRecord{RecordID: key, Error: malformed.Error()})
			continue
		}
		fp := fingerprint.Generate(rec.FingerprintData())
		firstSeen := rec.IngestedAt
		if prev, ok := state.Records[key]; ok {
			if prev.Fingerprint == fp {
				continue
			}
			if !prev.FirstSeenAt.IsZero() {
				firstSeen = prev.FirstSeenAt
			}
		}
		candidates = append(candidates, models.StoredRecord{Record: rec, Fingerprint: fp, FirstSeenAt: firstSeen})
	}

	normalized, err := r.normalize(ctx, candidates)
	if err != nil {
		return nil, err
	}

	out := make([]incomingRecord, 0, len(candidates))
	for i, stored := range candidates {
		norm := normalized[i]
		if norm.Malformed() {
			malformed := &models.MalformedRecordError{RecordID: norm.ID, Issues: norm.Issues}
			run.Quarantined = append(run.Quarantined, models.QuarantinedRecord{
				RecordID: norm.ID,
				Error:    malformed.Error(),
				Issues:   norm.Issues,
			})
			continue
		}
		out = append(out, incomingRecord{stored: stored, normalized: norm})
	}
	slices.SortFunc(run.Quarantined, func(a, b models.QuarantinedRecord) int {
		switch {
		case a.RecordID < b.RecordID:
			return -1
		case a.RecordID > b.RecordID:
			return 1
		}
		return 0
	})
	return out, nil
}

// normalize runs the normalizer over records in parallel; output order follows input order
func (r *Reconciler) normalize(ctx context.Context, records []models.StoredRecord) ([]models.NormalizedRecord, error) {
	out := make([]models.NormalizedRecord, len(records))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.workers)
	for i := range records {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			out[i] = normalizers.NormalizeRecord(records[i].Record)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}
