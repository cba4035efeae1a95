package normalizers

import (
	"fmt"
	"strings"

	"github.com/Ramsey-B/sage/pkg/models"
)

// NormalizeRecord builds the comparable form of a source record. It never fails: values that cannot
// be parsed are marked invalid and listed in Issues, and a panic inside a field parser is reported
// the same way.
func NormalizeRecord(rec models.SourceRecord) (out models.NormalizedRecord) {
	out = models.NormalizedRecord{
		ID:       rec.Key(),
		SourceID: rec.SourceID,
	}
	defer func() {
		if r := recover(); r != nil {
			out.Issues = append(out.Issues, models.FieldIssue{
				Field:   "record",
				Message: fmt.Sprintf("normalization panicked: %v", r),
			})
		}
	}()

	var issue *models.FieldIssue
	out.Name, issue = ParseName(rec.GivenName, rec.MiddleName, rec.FamilyName, rec.Suffix, rec.FullName)
	out.AddIssue(issue)
	out.Email, issue = ParseEmail(rec.Email)
	out.AddIssue(issue)
	out.Phone, issue = ParsePhone(rec.Phone)
	out.AddIssue(issue)
	out.Address, issue = ParseAddress(rec.Address)
	out.AddIssue(issue)

	out.Organization = NormalizeOrganization(rec.Organization)

	if rec.BirthYear != 0 {
		if rec.BirthYear < 1900 || rec.BirthYear > 2100 {
			out.Issues = append(out.Issues, models.FieldIssue{
				Field:   models.FieldBirthYear,
				Value:   fmt.Sprint(rec.BirthYear),
				Message: "birth year out of range",
			})
		} else {
			out.BirthYear = rec.BirthYear
		}
	}

	if len(rec.Identifiers) > 0 {
		out.Identifiers = make(map[string]string, len(rec.Identifiers))
		for ns, value := range rec.Identifiers {
			ns = strings.ToLower(strings.TrimSpace(ns))
			value = strings.ToLower(strings.TrimSpace(value))
			if ns != "" && value != "" {
				out.Identifiers[ns] = value
			}
		}
	}

	return out
}
