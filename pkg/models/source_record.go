package models

import (
	"strings"
	"time"
)

// RecordID identifies a source record across all sources: "<source_id>:<source_record_id>"
type RecordID string

// NewRecordID builds the run-wide id of a source record
func NewRecordID(sourceID, sourceRecordID string) RecordID {
	return RecordID(sourceID + ":" + sourceRecordID)
}

// Split returns the source id and source record id
func (id RecordID) Split() (string, string) {
	source, record, _ := strings.Cut(string(id), ":")
	return source, record
}

// RawAddress is an address as delivered by a source system
type RawAddress struct {
	Line1      string   `json:"line1,omitempty"`
	Line2      string   `json:"line2,omitempty"`
	City       string   `json:"city,omitempty"`
	State      string   `json:"state,omitempty"`
	PostalCode string   `json:"postal_code,omitempty"`
	Country    string   `json:"country,omitempty"`
	Latitude   *float64 `json:"latitude,omitempty" validate:"omitempty,latitude"`
	Longitude  *float64 `json:"longitude,omitempty" validate:"omitempty,longitude"`
}

// IsEmpty reports whether no address component was supplied
func (a RawAddress) IsEmpty() bool {
	return strings.TrimSpace(a.Line1+a.Line2+a.City+a.State+a.PostalCode+a.Country) == "" &&
		a.Latitude == nil && a.Longitude == nil
}

// SourceRecord is one donor row from one source system. Records are immutable once ingested;
// a resubmitted key with different content replaces the prior version as a whole.
type SourceRecord struct {
	SourceID       string            `json:"source_id" validate:"required,max=128"`
	SourceRecordID string            `json:"source_record_id" validate:"required,max=256"`
	GivenName      string            `json:"given_name,omitempty"`
	MiddleName     string            `json:"middle_name,omitempty"`
	FamilyName     string            `json:"family_name,omitempty"`
	Suffix         string            `json:"suffix,omitempty"`
	FullName       string            `json:"full_name,omitempty"`
	Email          string            `json:"email,omitempty"`
	Phone          string            `json:"phone,omitempty"`
	Address        RawAddress        `json:"address"`
	Organization   string            `json:"organization,omitempty"`
	BirthYear      int               `json:"birth_year,omitempty" validate:"omitempty,gte=1900,lte=2100"`
	Identifiers    map[string]string `json:"identifiers,omitempty"`
	GiftHistoryRef string            `json:"gift_history_ref,omitempty"`

	GiftCount       int        `json:"gift_count,omitempty" validate:"gte=0"`
	GiftTotal       float64    `json:"gift_total,omitempty" validate:"gte=0"`
	EngagementCount int        `json:"engagement_count,omitempty" validate:"gte=0"`
	LastGiftAt      *time.Time `json:"last_gift_at,omitempty"`
	JoinedAt        *time.Time `json:"joined_at,omitempty"`
	WealthIndex     *float64   `json:"wealth_index,omitempty"`

	UpdatedAt  time.Time `json:"updated_at"`
	IngestedAt time.Time `json:"ingested_at"`
}

// Key returns the run-wide record id
func (r *SourceRecord) Key() RecordID {
	return NewRecordID(r.SourceID, r.SourceRecordID)
}

// LastTouched is the recency timestamp used by survivorship: source update time, or ingestion time
func (r *SourceRecord) LastTouched() time.Time {
	if !r.UpdatedAt.IsZero() {
		return r.UpdatedAt
	}
	return r.IngestedAt
}

// FingerprintData returns the content that identifies a record version. Ingestion time is excluded
// so that an identical resubmission is recognized as unchanged.
func (r *SourceRecord) FingerprintData() map[string]any {
	data := map[string]any{
		"source_id":        r.SourceID,
		"source_record_id": r.SourceRecordID,
		"given_name":       r.GivenName,
		"middle_name":      r.MiddleName,
		"family_name":      r.FamilyName,
		"suffix":           r.Suffix,
		"full_name":        r.FullName,
		"email":            r.Email,
		"phone":            r.Phone,
		"organization":     r.Organization,
		"birth_year":       r.BirthYear,
		"gift_history_ref": r.GiftHistoryRef,
		"gift_count":       r.GiftCount,
		"gift_total":       r.GiftTotal,
		"engagement_count": r.EngagementCount,
		"address": map[string]any{
			"line1":       r.Address.Line1,
			"line2":       r.Address.Line2,
			"city":        r.Address.City,
			"state":       r.Address.State,
			"postal_code": r.Address.PostalCode,
			"country":     r.Address.Country,
			"latitude":    r.Address.Latitude,
			"longitude":   r.Address.Longitude,
		},
		"wealth_index": r.WealthIndex,
	}
	if !r.UpdatedAt.IsZero() {
		data["updated_at"] = r.UpdatedAt.UTC().Format(time.RFC3339Nano)
	}
	if r.LastGiftAt != nil {
		data["last_gift_at"] = r.LastGiftAt.UTC().Format(time.RFC3339Nano)
	}
	if r.JoinedAt != nil {
		data["joined_at"] = r.JoinedAt.UTC().Format(time.RFC3339Nano)
	}
	if len(r.Identifiers) > 0 {
		ids := make(map[string]any, len(r.Identifiers))
		for k, v := range r.Identifiers {
			ids[k] = v
		}
		data["identifiers"] = ids
	}
	return data
}

// StoredRecord is a persisted source record version
type StoredRecord struct {
	Record      SourceRecord `json:"record"`
	Fingerprint string       `json:"fingerprint"`
	// FirstSeenAt is the ingestion time of the first version of the record
	FirstSeenAt time.Time `json:"first_seen_at"`
}
