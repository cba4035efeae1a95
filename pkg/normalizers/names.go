package normalizers

import (
	"slices"
	"strings"

	"github.com/Ramsey-B/sage/pkg/models"
)

var honorifics = map[string]bool{
	"mr": true, "mrs": true, "ms": true, "miss": true, "mx": true, "dr": true,
	"rev": true, "prof": true, "sir": true, "dame": true, "hon": true, "fr": true,
}

var nameSuffixes = map[string]string{
	"jr": "jr", "junior": "jr", "sr": "sr", "senior": "sr",
	"ii": "ii", "iii": "iii", "iv": "iv", "v": "v",
	"md": "md", "phd": "phd", "dds": "dds", "esq": "esq", "cpa": "cpa",
}

// nicknameGroups maps a formal given name to the short forms that refer to it
var nicknameGroups = map[string][]string{
	"robert":      {"bob", "bobby", "rob", "robbie", "bert"},
	"william":     {"bill", "billy", "will", "willy", "liam"},
	"richard":     {"rick", "ricky", "dick", "rich", "richie"},
	"james":       {"jim", "jimmy", "jamie"},
	"john":        {"jack", "johnny"},
	"margaret":    {"maggie", "meg", "peggy", "marge", "margie"},
	"elizabeth":   {"liz", "beth", "betty", "eliza", "lizzie", "libby"},
	"katherine":   {"kate", "kathy", "katie", "kat", "catherine", "kathryn", "kathleen"},
	"michael":     {"mike", "mikey", "mick"},
	"thomas":      {"tom", "tommy"},
	"joseph":      {"joe", "joey"},
	"charles":     {"charlie", "chuck"},
	"edward":      {"ed", "eddie", "ted", "ned"},
	"anthony":     {"tony"},
	"christopher": {"chris", "kit"},
	"daniel":      {"dan", "danny"},
	"david":       {"dave", "davey"},
	"jennifer":    {"jen", "jenny"},
	"patricia":    {"pat", "patty", "trish"},
	"susan":       {"sue", "susie"},
	"deborah":     {"deb", "debbie", "debra"},
	"rebecca":     {"becky", "becca"},
	"alexander":   {"alex", "xander"},
	"steven":      {"steve", "stephen"},
	"andrew":      {"andy", "drew"},
	"benjamin":    {"ben", "benny"},
	"samuel":      {"sam", "sammy"},
	"nicholas":    {"nick", "nicky"},
	"matthew":     {"matt"},
	"timothy":     {"tim", "timmy"},
	"gregory":     {"greg"},
	"frederick":   {"fred", "freddie"},
	"lawrence":    {"larry"},
	"raymond":     {"ray"},
	"ronald":      {"ron", "ronnie"},
	"donald":      {"don", "donnie"},
	"kenneth":     {"ken", "kenny"},
	"gerald":      {"jerry", "gerry"},
	"henry":       {"hank", "harry"},
	"dorothy":     {"dot", "dottie"},
	"barbara":     {"barb", "barbie"},
	"eleanor":     {"ellie", "nora"},
	"abigail":     {"abby"},
	"victoria":    {"vicky", "tori"},
}

var nicknameIndex = func() map[string]string {
	index := make(map[string]string)
	for formal, nicks := range nicknameGroups {
		index[formal] = formal
		for _, nick := range nicks {
			index[nick] = formal
		}
	}
	return index
}()

// GivenNameGroup returns the formal name a given name or nickname belongs to ("Bob" -> "robert")
func GivenNameGroup(given string) string {
	given = clean(given)
	if given == "" {
		return ""
	}
	first, _, _ := strings.Cut(given, " ")
	if formal, ok := nicknameIndex[first]; ok {
		return formal
	}
	return first
}

// NormalizeName normalizes a full name for simple comparisons: folded, lower-cased,
// punctuation and honorifics dropped, trailing suffixes removed
func NormalizeName(s string) string {
	tokens := strings.Fields(clean(s))
	for len(tokens) > 1 && honorifics[tokens[0]] {
		tokens = tokens[1:]
	}
	for len(tokens) > 1 {
		if _, ok := nameSuffixes[tokens[len(tokens)-1]]; !ok {
			break
		}
		tokens = tokens[:len(tokens)-1]
	}
	return strings.Join(tokens, " ")
}

// ParseName builds a NormalizedName from name parts, falling back to a full name when given or
// family name is missing. "Family, Given Middle" and "Given Middle Family Suffix" are understood.
func ParseName(given, middle, family, suffix, full string) (models.NormalizedName, *models.FieldIssue) {
	raw := strings.TrimSpace(given + " " + middle + " " + family + " " + suffix + " " + full)
	if raw == "" {
		return models.NormalizedName{Status: models.FieldAbsent}, nil
	}

	name := models.NormalizedName{
		Given:  strings.Join(stripHonorifics(strings.Fields(clean(given))), " "),
		Middle: clean(middle),
		Family: clean(family),
		Suffix: canonicalSuffix(clean(suffix)),
	}

	if (name.Given == "" || name.Family == "") && strings.TrimSpace(full) != "" {
		parsed := splitFullName(full)
		if name.Given == "" {
			name.Given = parsed.Given
		}
		if name.Middle == "" {
			name.Middle = parsed.Middle
		}
		if name.Family == "" {
			name.Family = parsed.Family
		}
		if name.Suffix == "" {
			name.Suffix = parsed.Suffix
		}
	}

	// A given name field carrying "Bob J." spills the remainder into middle
	if g, rest, ok := strings.Cut(name.Given, " "); ok {
		name.Given = g
		if name.Middle == "" {
			name.Middle = rest
		}
	}

	if !hasLetter(name.Given + name.Family) {
		return models.NormalizedName{Status: models.FieldInvalid}, &models.FieldIssue{
			Field:   models.FieldName,
			Value:   raw,
			Message: "name has no letters",
		}
	}

	name.Status = models.FieldPresent
	name.GivenGroup = GivenNameGroup(name.Given)
	compact := strings.ReplaceAll(name.Family, " ", "")
	name.Soundex = Soundex(compact)
	name.Metaphone = Metaphone(compact)

	var tokens []string
	for _, part := range []string{name.Given, name.Middle, name.Family} {
		tokens = append(tokens, strings.Fields(part)...)
	}
	slices.Sort(tokens)
	name.Tokens = slices.Compact(tokens)

	return name, nil
}

func splitFullName(full string) models.NormalizedName {
	var out models.NormalizedName

	if before, after, ok := strings.Cut(full, ","); ok {
		rest := strings.Fields(clean(after))
		// "Smith, Jr" carries a suffix after the comma, not a given name
		if len(rest) == 1 {
			if s, isSuffix := nameSuffixes[rest[0]]; isSuffix {
				out = splitNaturalOrder(before)
				out.Suffix = s
				return out
			}
		}
		rest = stripHonorifics(rest)
		rest, out.Suffix = stripSuffix(rest)
		out.Family = clean(before)
		if len(rest) > 0 {
			out.Given = rest[0]
			out.Middle = strings.Join(rest[1:], " ")
		}
		return out
	}

	return splitNaturalOrder(full)
}

func splitNaturalOrder(full string) models.NormalizedName {
	var out models.NormalizedName
	tokens := stripHonorifics(strings.Fields(clean(full)))
	tokens, out.Suffix = stripSuffix(tokens)
	switch len(tokens) {
	case 0:
	case 1:
		out.Family = tokens[0]
	default:
		out.Given = tokens[0]
		out.Family = tokens[len(tokens)-1]
		out.Middle = strings.Join(tokens[1:len(tokens)-1], " ")
	}
	return out
}

func stripHonorifics(tokens []string) []string {
	for len(tokens) > 1 && honorifics[tokens[0]] {
		tokens = tokens[1:]
	}
	return tokens
}

func stripSuffix(tokens []string) ([]string, string) {
	if len(tokens) > 1 {
		if s, ok := nameSuffixes[tokens[len(tokens)-1]]; ok {
			return tokens[:len(tokens)-1], s
		}
	}
	return tokens, ""
}

func canonicalSuffix(s string) string {
	if s == "" {
		return ""
	}
	if canonical, ok := nameSuffixes[s]; ok {
		return canonical
	}
	return s
}
