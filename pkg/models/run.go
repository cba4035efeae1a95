package models

import "time"

// RunStatus is the outcome of a resolution run
type RunStatus string

const (
	RunSucceeded RunStatus = "succeeded"
	// RunPartial means the run committed but quarantined records or held out ambiguous clusters
	RunPartial RunStatus = "partial"
	RunFailed  RunStatus = "failed"
	// RunRejected means another writer held the dataset
	RunRejected RunStatus = "rejected"
)

// QuarantinedRecord is a record excluded from clustering because it could not be normalized
type QuarantinedRecord struct {
	RecordID RecordID     `json:"record_id"`
	Error    string       `json:"error"`
	Issues   []FieldIssue `json:"issues,omitempty"`
}

// AmbiguousCluster is a cluster held out of automatic resolution for manual review
type AmbiguousCluster struct {
	Members  []RecordID `json:"members"`
	Entities []string   `json:"entities"`
	Reason   string     `json:"reason"`
}

// RunPolicy is the slice of the resolution policy recorded with each run
type RunPolicy struct {
	Fingerprint          string  `json:"fingerprint"`
	MatchThreshold       float64 `json:"match_threshold"`
	StrongThreshold      float64 `json:"strong_threshold"`
	EngagementWindowDays int     `json:"engagement_window_days"`
}

// ResolutionRun is the append-only audit record of one execution
type ResolutionRun struct {
	RunID             string              `json:"run_id" db:"run_id"`
	DatasetKey        string              `json:"dataset_key" db:"dataset_key"`
	Status            RunStatus           `json:"status" db:"status"`
	StartedAt         time.Time           `json:"started_at" db:"started_at"`
	FinishedAt        time.Time           `json:"finished_at" db:"finished_at"`
	InputRecords      int                 `json:"input_records"`
	ScopeRecords      int                 `json:"scope_records"`
	Comparisons       int                 `json:"comparisons"`
	CandidateMatches  int                 `json:"candidate_matches"`
	ClustersFormed    int                 `json:"clusters_formed"`
	EntitiesCreated   int                 `json:"entities_created"`
	EntitiesUpdated   int                 `json:"entities_updated"`
	EntitiesMerged    int                 `json:"entities_merged"`
	EntitiesSplit     int                 `json:"entities_split"`
	EntitiesUnchanged int                 `json:"entities_unchanged"`
	Quarantined       []QuarantinedRecord `json:"quarantined"`
	Ambiguous         []AmbiguousCluster  `json:"ambiguous"`
	NearMisses        []CandidatePair     `json:"near_misses,omitempty"`
	Policy            RunPolicy           `json:"policy"`
	StateVersion      int64               `json:"state_version"`
	Error             string              `json:"error,omitempty"`
}

// Duration is the wall time of the run
func (r *ResolutionRun) Duration() time.Duration {
	if r.FinishedAt.IsZero() {
		return 0
	}
	return r.FinishedAt.Sub(r.StartedAt)
}
