package models

import (
	"errors"
	"fmt"
	"strings"
)

// MalformedRecordError is raised when a single source record cannot be normalized.
// The record is quarantined; the run continues.
type MalformedRecordError struct {
	RecordID RecordID
	Issues   []FieldIssue
	Cause    error
}

func (e *MalformedRecordError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("malformed record %s: %v", e.RecordID, e.Cause)
	}
	msgs := make([]string, 0, len(e.Issues))
	for _, issue := range e.Issues {
		msgs = append(msgs, fmt.Sprintf("%s: %s", issue.Field, issue.Message))
	}
	return fmt.Sprintf("malformed record %s: %s", e.RecordID, strings.Join(msgs, "; "))
}

func (e *MalformedRecordError) Unwrap() error {
	return e.Cause
}

// AmbiguousMergeError describes a cluster whose merge survivor cannot be chosen deterministically
type AmbiguousMergeError struct {
	Entities []string
	Members  []RecordID
	Reason   string
}

func (e *AmbiguousMergeError) Error() string {
	return fmt.Sprintf("ambiguous merge of entities %s: %s", strings.Join(e.Entities, ", "), e.Reason)
}

// ConfigurationError is a fatal policy or mapping problem detected before any record is processed
type ConfigurationError struct {
	Problems []string
}

func (e *ConfigurationError) Error() string {
	return "invalid configuration: " + strings.Join(e.Problems, "; ")
}

// PersistenceConflictError is returned when another writer holds, or has moved, the dataset
type PersistenceConflictError struct {
	DatasetKey string
	Reason     string
}

func (e *PersistenceConflictError) Error() string {
	return fmt.Sprintf("persistence conflict on dataset %q: %s", e.DatasetKey, e.Reason)
}

// IsConfigurationError reports whether err carries a ConfigurationError
func IsConfigurationError(err error) bool {
	var target *ConfigurationError
	return errors.As(err, &target)
}

// IsPersistenceConflict reports whether err carries a PersistenceConflictError
func IsPersistenceConflict(err error) bool {
	var target *PersistenceConflictError
	return errors.As(err, &target)
}

// IsMalformedRecord reports whether err carries a MalformedRecordError
func IsMalformedRecord(err error) bool {
	var target *MalformedRecordError
	return errors.As(err, &target)
}
