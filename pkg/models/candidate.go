package models

// CandidatePair is an unordered pair of records with the score that links them.
// A is always the smaller id.
type CandidatePair struct {
	A         RecordID           `json:"a"`
	B         RecordID           `json:"b"`
	Score     float64            `json:"score"`
	SubScores map[string]float64 `json:"sub_scores,omitempty"`
	Strong    bool               `json:"strong"`
	// Bypass names the authoritative identifier namespace that matched, when scoring was skipped
	Bypass string `json:"bypass,omitempty"`
	Block  string `json:"block,omitempty"`
}

// NewCandidatePair orders the ids canonically
func NewCandidatePair(a, b RecordID) CandidatePair {
	if b < a {
		a, b = b, a
	}
	return CandidatePair{A: a, B: b}
}

// Less orders pairs by (A, B)
func (p CandidatePair) Less(o CandidatePair) bool {
	if p.A != o.A {
		return p.A < o.A
	}
	return p.B < o.B
}

// EntityCluster is a set of records believed to be one donor
type EntityCluster struct {
	Members        []RecordID      `json:"members"`
	Representative RecordID        `json:"representative"`
	Edges          []CandidatePair `json:"edges,omitempty"`
	StrongEdges    int             `json:"strong_edges"`
}

// Contains reports whether the record is a member
func (c *EntityCluster) Contains(id RecordID) bool {
	for _, m := range c.Members {
		if m == id {
			return true
		}
	}
	return false
}
