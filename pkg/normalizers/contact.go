package normalizers

import (
	"strings"
	"unicode"

	"github.com/Ramsey-B/sage/pkg/models"
)

// providers that ignore dots in the local part
var dotInsensitiveDomains = map[string]bool{
	"gmail.com":      true,
	"googlemail.com": true,
}

var domainAliases = map[string]string{
	"googlemail.com": "gmail.com",
}

// NormalizeEmail lower-cases an address, strips "+tag" aliases and ignores dots for providers
// that do. Returns "" for values that are not an address.
func NormalizeEmail(s string) string {
	email, issue := ParseEmail(s)
	if issue != nil || email.Status != models.FieldPresent {
		return ""
	}
	return email.Address
}

// ParseEmail normalizes one email address
func ParseEmail(raw string) (models.NormalizedEmail, *models.FieldIssue) {
	s := strings.ToLower(strings.TrimSpace(raw))
	s = strings.TrimPrefix(s, "mailto:")
	s = strings.Trim(s, "<>")
	if s == "" {
		return models.NormalizedEmail{Status: models.FieldAbsent}, nil
	}

	invalid := func(msg string) (models.NormalizedEmail, *models.FieldIssue) {
		return models.NormalizedEmail{Status: models.FieldInvalid}, &models.FieldIssue{Field: models.FieldEmail, Value: raw, Message: msg}
	}

	if strings.IndexFunc(s, unicode.IsSpace) >= 0 {
		return invalid("email contains whitespace")
	}
	local, domain, ok := strings.Cut(s, "@")
	if !ok || local == "" || domain == "" || strings.Contains(domain, "@") {
		return invalid("email is not local@domain")
	}
	if !strings.Contains(domain, ".") || strings.HasPrefix(domain, ".") || strings.HasSuffix(domain, ".") {
		return invalid("email domain has no top-level domain")
	}

	if alias, ok := domainAliases[domain]; ok {
		domain = alias
	}
	if tagged, _, ok := strings.Cut(local, "+"); ok {
		local = tagged
	}
	if dotInsensitiveDomains[domain] {
		local = strings.ReplaceAll(local, ".", "")
	}
	if local == "" {
		return invalid("email local part is empty")
	}

	return models.NormalizedEmail{
		Status:  models.FieldPresent,
		Address: local + "@" + domain,
		Local:   local,
		Domain:  domain,
	}, nil
}

// DefaultCountryCode is assumed for ten digit numbers without a country prefix
const DefaultCountryCode = "1"

// known calling codes, longest first within each length bucket
var callingCodes = map[int][]string{
	3: {"353", "354", "351", "352", "358", "370", "371", "372", "972", "971", "966", "234", "254", "880"},
	2: {"44", "61", "64", "33", "49", "39", "34", "31", "32", "41", "43", "45", "46", "47", "48", "52", "55", "54", "56", "57", "81", "82", "86", "91", "65", "60", "63", "66", "27", "90", "20"},
	1: {"1", "7"},
}

// NormalizePhone returns the canonical digit form of a phone number, or "" when unusable
func NormalizePhone(s string) string {
	phone, issue := ParsePhone(s)
	if issue != nil || phone.Status != models.FieldPresent {
		return ""
	}
	return phone.Digits
}

// ParsePhone normalizes a phone number to E.164 digits with country-code inference.
// Extensions ("x12", "ext. 12") are dropped.
func ParsePhone(raw string) (models.NormalizedPhone, *models.FieldIssue) {
	s := strings.ToLower(strings.TrimSpace(raw))
	if s == "" {
		return models.NormalizedPhone{Status: models.FieldAbsent}, nil
	}
	for _, marker := range []string{"ext", "x", "#"} {
		if i := strings.Index(s, marker); i > 0 {
			s = s[:i]
		}
	}

	international := strings.HasPrefix(strings.TrimSpace(s), "+")
	digits := DigitsOnly(s)
	if !international && strings.HasPrefix(digits, "00") {
		international = true
		digits = digits[2:]
	}

	if len(digits) < 7 || len(digits) > 15 {
		return models.NormalizedPhone{Status: models.FieldInvalid}, &models.FieldIssue{
			Field:   models.FieldPhone,
			Value:   raw,
			Message: "phone number must have 7 to 15 digits",
		}
	}

	phone := models.NormalizedPhone{Status: models.FieldPresent}
	switch {
	case international:
		phone.CountryCode = callingCode(digits)
		phone.National = digits[len(phone.CountryCode):]
	case len(digits) == 10:
		phone.CountryCode = DefaultCountryCode
		phone.National = digits
	case len(digits) == 11 && digits[0] == '1':
		phone.CountryCode = "1"
		phone.National = digits[1:]
	default:
		phone.National = digits
	}
	phone.Digits = phone.CountryCode + phone.National
	return phone, nil
}

func callingCode(digits string) string {
	for _, size := range []int{1, 2, 3} {
		if len(digits) <= size {
			continue
		}
		for _, code := range callingCodes[size] {
			if strings.HasPrefix(digits, code) {
				return code
			}
		}
	}
	return ""
}

var legalSuffixes = map[string]bool{
	"inc": true, "incorporated": true, "llc": true, "llp": true, "ltd": true, "limited": true,
	"co": true, "corp": true, "corporation": true, "plc": true, "gmbh": true, "company": true,
}

// NormalizeOrganization folds an organization name and drops legal suffixes and a leading "the"
func NormalizeOrganization(s string) string {
	tokens := strings.Fields(clean(strings.ReplaceAll(s, "&", " and ")))
	if len(tokens) > 1 && tokens[0] == "the" {
		tokens = tokens[1:]
	}
	for len(tokens) > 1 && legalSuffixes[tokens[len(tokens)-1]] {
		tokens = tokens[:len(tokens)-1]
	}
	return strings.Join(tokens, " ")
}
