package models

// FieldStatus marks whether a normalized field can take part in comparisons
type FieldStatus string

const (
	FieldPresent FieldStatus = "present"
	FieldAbsent  FieldStatus = "absent"
	// FieldInvalid means a raw value was supplied but could not be parsed
	FieldInvalid FieldStatus = "invalid"
)

// Comparable field names. These are also the keys accepted in field_weights.
const (
	FieldName         = "name"
	FieldEmail        = "email"
	FieldPhone        = "phone"
	FieldAddress      = "address"
	FieldOrganization = "organization"
	FieldBirthYear    = "birth_year"
)

// ComparableFields lists every field the pairwise scorer knows how to compare
var ComparableFields = []string{FieldName, FieldEmail, FieldPhone, FieldAddress, FieldOrganization, FieldBirthYear}

// FieldIssue describes a raw value that could not be normalized
type FieldIssue struct {
	Field   string `json:"field"`
	Value   string `json:"value"`
	Message string `json:"message"`
}

// NormalizedName is a parsed person name
type NormalizedName struct {
	Status     FieldStatus `json:"status"`
	Given      string      `json:"given,omitempty"`
	Middle     string      `json:"middle,omitempty"`
	Family     string      `json:"family,omitempty"`
	Suffix     string      `json:"suffix,omitempty"`
	GivenGroup string      `json:"given_group,omitempty"`
	Tokens     []string    `json:"tokens,omitempty"`
	Soundex    string      `json:"soundex,omitempty"`
	Metaphone  string      `json:"metaphone,omitempty"`
}

// NormalizedEmail is a canonical mailbox address
type NormalizedEmail struct {
	Status  FieldStatus `json:"status"`
	Address string      `json:"address,omitempty"`
	Local   string      `json:"local,omitempty"`
	Domain  string      `json:"domain,omitempty"`
}

// NormalizedPhone is a digit-only E.164 number without the leading '+'
type NormalizedPhone struct {
	Status      FieldStatus `json:"status"`
	Digits      string      `json:"digits,omitempty"`
	CountryCode string      `json:"country_code,omitempty"`
	National    string      `json:"national,omitempty"`
}

// NormalizedAddress is a component-parsed postal address
type NormalizedAddress struct {
	Status     FieldStatus `json:"status"`
	Number     string      `json:"number,omitempty"`
	Street     string      `json:"street,omitempty"`
	Unit       string      `json:"unit,omitempty"`
	City       string      `json:"city,omitempty"`
	State      string      `json:"state,omitempty"`
	PostalCode string      `json:"postal_code,omitempty"`
	Country    string      `json:"country,omitempty"`
	Latitude   *float64    `json:"latitude,omitempty"`
	Longitude  *float64    `json:"longitude,omitempty"`
}

// HasCoordinates reports whether both latitude and longitude are known
func (a NormalizedAddress) HasCoordinates() bool {
	return a.Latitude != nil && a.Longitude != nil
}

// NormalizedRecord is the comparable form of a SourceRecord. It is recomputed on every run
// and never persisted.
type NormalizedRecord struct {
	ID           RecordID          `json:"id"`
	SourceID     string            `json:"source_id"`
	Name         NormalizedName    `json:"name"`
	Email        NormalizedEmail   `json:"email"`
	Phone        NormalizedPhone   `json:"phone"`
	Address      NormalizedAddress `json:"address"`
	Organization string            `json:"organization,omitempty"`
	BirthYear    int               `json:"birth_year,omitempty"`
	Identifiers  map[string]string `json:"identifiers,omitempty"`
	Issues       []FieldIssue      `json:"issues,omitempty"`
}

// Has reports whether a comparable field is present
func (r *NormalizedRecord) Has(field string) bool {
	switch field {
	case FieldName:
		return r.Name.Status == FieldPresent
	case FieldEmail:
		return r.Email.Status == FieldPresent
	case FieldPhone:
		return r.Phone.Status == FieldPresent
	case FieldAddress:
		return r.Address.Status == FieldPresent
	case FieldOrganization:
		return r.Organization != ""
	case FieldBirthYear:
		return r.BirthYear > 0
	}
	return false
}

// Malformed reports whether any supplied value failed to normalize
func (r *NormalizedRecord) Malformed() bool {
	return len(r.Issues) > 0
}

// AddIssue records a field issue; nil is ignored
func (r *NormalizedRecord) AddIssue(issue *FieldIssue) {
	if issue != nil {
		r.Issues = append(r.Issues, *issue)
	}
}
