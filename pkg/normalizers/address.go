package normalizers

import (
	"regexp"
	"strings"

	"github.com/Ramsey-B/sage/pkg/models"
)

var streetSuffixes = map[string]string{
	"st": "street", "str": "street", "ave": "avenue", "av": "avenue", "rd": "road",
	"dr": "drive", "ln": "lane", "blvd": "boulevard", "ct": "court", "pl": "place",
	"sq": "square", "ter": "terrace", "pkwy": "parkway", "hwy": "highway", "cir": "circle",
	"trl": "trail", "way": "way", "cres": "crescent", "aly": "alley", "expy": "expressway",
}

var directionals = map[string]string{
	"n": "north", "s": "south", "e": "east", "w": "west",
	"ne": "northeast", "nw": "northwest", "se": "southeast", "sw": "southwest",
}

var unitDesignators = map[string]bool{
	"apt": true, "apartment": true, "unit": true, "suite": true, "ste": true,
	"fl": true, "floor": true, "rm": true, "room": true, "bldg": true,
}

var countryAliases = map[string]string{
	"us": "us", "usa": "us", "united states": "us", "united states of america": "us", "america": "us",
	"ca": "ca", "can": "ca", "canada": "ca",
	"gb": "gb", "uk": "gb", "united kingdom": "gb", "great britain": "gb", "england": "gb", "scotland": "gb", "wales": "gb",
}

var (
	usZIP      = regexp.MustCompile(`^(\d{5})(?:-?\d{4})?$`)
	caPostal   = regexp.MustCompile(`^([a-z]\d[a-z])\s?(\d[a-z]\d)$`)
	ukPostcode = regexp.MustCompile(`^([a-z]{1,2}\d[a-z\d]?)\s?(\d[a-z]{2})$`)
	anyPostal  = regexp.MustCompile(`^[a-z0-9][a-z0-9 -]{1,8}[a-z0-9]$`)
)

// NormalizeCountry maps common spellings to an ISO alpha-2 code; unknown values are folded only
func NormalizeCountry(s string) string {
	c := clean(s)
	if code, ok := countryAliases[c]; ok {
		return code
	}
	return c
}

// NormalizePostalCode returns the canonical form of a postal code, or "" when it matches no
// known shape
func NormalizePostalCode(s string) string {
	code, ok := parsePostalCode(s, "")
	if !ok {
		return ""
	}
	return code
}

func parsePostalCode(raw, country string) (string, bool) {
	s := strings.ToLower(strings.TrimSpace(raw))
	if s == "" {
		return "", true
	}
	// leading zeros dropped by spreadsheet exports
	if country == "us" || country == "" {
		if digits := DigitsOnly(s); digits == s && len(digits) >= 3 && len(digits) < 5 {
			s = strings.Repeat("0", 5-len(digits)) + digits
		}
	}
	if m := usZIP.FindStringSubmatch(s); m != nil && (country == "" || country == "us") {
		return m[1], true
	}
	if m := caPostal.FindStringSubmatch(s); m != nil && (country == "" || country == "ca") {
		return m[1] + " " + m[2], true
	}
	if m := ukPostcode.FindStringSubmatch(s); m != nil && (country == "" || country == "gb") {
		return m[1] + " " + m[2], true
	}
	switch country {
	case "us", "ca", "gb":
		return "", false
	}
	if anyPostal.MatchString(s) {
		return strings.Join(strings.Fields(s), " "), true
	}
	return "", false
}

// NormalizeStreet expands suffixes and directionals of a street line ("12 N Main St." ->
// "12 north main street")
func NormalizeStreet(s string) string {
	number, street, unit := parseStreetLine(s)
	return strings.Join(nonEmpty([]string{number, street, unit}), " ")
}

// parseStreetLine splits a street line into house number, street name and unit
func parseStreetLine(line string) (number, street, unit string) {
	tokens := strings.Fields(clean(strings.ReplaceAll(line, "#", " unit ")))
	if len(tokens) == 0 {
		return "", "", ""
	}

	if len(tokens) >= 3 && tokens[0] == "po" && tokens[1] == "box" {
		return "", "po box " + strings.Join(tokens[2:], " "), ""
	}

	if isHouseNumber(tokens[0]) {
		number = tokens[0]
		tokens = tokens[1:]
	}

	var streetTokens []string
	for i := 0; i < len(tokens); i++ {
		tok := tokens[i]
		if unitDesignators[tok] {
			var rest []string
			for _, t := range tokens[i+1:] {
				if !unitDesignators[t] {
					rest = append(rest, t)
				}
			}
			unit = strings.Join(rest, " ")
			break
		}
		if full, ok := directionals[tok]; ok {
			tok = full
		} else if full, ok := streetSuffixes[tok]; ok && i > 0 {
			tok = full
		}
		streetTokens = append(streetTokens, tok)
	}
	return number, strings.Join(streetTokens, " "), unit
}

func isHouseNumber(tok string) bool {
	if tok == "" || tok[0] < '0' || tok[0] > '9' {
		return false
	}
	// "12b" and "12-14" are house numbers, "3rd" is a street
	return !strings.HasSuffix(tok, "st") && !strings.HasSuffix(tok, "nd") &&
		!strings.HasSuffix(tok, "rd") && !strings.HasSuffix(tok, "th")
}

// ParseAddress normalizes an address into components. A street line without any letters or digits,
// a postal code of no known shape and out-of-range coordinates make the address invalid.
func ParseAddress(raw models.RawAddress) (models.NormalizedAddress, *models.FieldIssue) {
	if raw.IsEmpty() {
		return models.NormalizedAddress{Status: models.FieldAbsent}, nil
	}

	invalid := func(value, msg string) (models.NormalizedAddress, *models.FieldIssue) {
		return models.NormalizedAddress{Status: models.FieldInvalid}, &models.FieldIssue{Field: models.FieldAddress, Value: value, Message: msg}
	}

	if strings.TrimSpace(raw.Line1) != "" && !hasAlphanumeric(raw.Line1) {
		return invalid(raw.Line1, "street line has no letters or digits")
	}

	addr := models.NormalizedAddress{
		Status:  models.FieldPresent,
		City:    clean(raw.City),
		State:   clean(raw.State),
		Country: NormalizeCountry(raw.Country),
	}
	addr.Number, addr.Street, addr.Unit = parseStreetLine(raw.Line1)
	if line2 := strings.TrimSpace(raw.Line2); line2 != "" && addr.Unit == "" {
		_, street2, unit2 := parseStreetLine(line2)
		if unit2 != "" {
			addr.Unit = unit2
		} else {
			addr.Unit = street2
		}
	}

	postal, ok := parsePostalCode(raw.PostalCode, addr.Country)
	if !ok {
		return invalid(raw.PostalCode, "postal code matches no known format")
	}
	addr.PostalCode = postal

	if raw.Latitude != nil || raw.Longitude != nil {
		if raw.Latitude == nil || raw.Longitude == nil {
			return invalid("", "latitude and longitude must be supplied together")
		}
		if *raw.Latitude < -90 || *raw.Latitude > 90 || *raw.Longitude < -180 || *raw.Longitude > 180 {
			return invalid("", "coordinates out of range")
		}
		lat, lon := *raw.Latitude, *raw.Longitude
		addr.Latitude, addr.Longitude = &lat, &lon
	}

	if addr.Street == "" && addr.City == "" && addr.PostalCode == "" && !addr.HasCoordinates() {
		if strings.TrimSpace(raw.Line1) != "" {
			return invalid(raw.Line1, "address has no usable components")
		}
		// a country alone cannot be compared
		return models.NormalizedAddress{Status: models.FieldAbsent}, nil
	}
	return addr, nil
}
