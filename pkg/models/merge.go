package models

// RuleKind tags a survivorship rule
type RuleKind string

const (
	// RuleNonEmpty drops candidates without a value; a value always beats no value
	RuleNonEmpty RuleKind = "non_empty_wins"
	// RuleSourcePriority keeps candidates from the highest ranked source system
	RuleSourcePriority RuleKind = "source_priority"
	// RuleRecency keeps the most recently updated candidates
	RuleRecency RuleKind = "most_recent"
	// RuleAggregate combines every member's value instead of picking one
	RuleAggregate RuleKind = "aggregate"
	// RuleCanonicalOrder picks the smallest record id; always applied last
	RuleCanonicalOrder RuleKind = "canonical_order"
)

// AggregateFunc names how an aggregate rule combines values
type AggregateFunc string

const (
	AggregateSum   AggregateFunc = "sum"
	AggregateMax   AggregateFunc = "max"
	AggregateMin   AggregateFunc = "min"
	AggregateUnion AggregateFunc = "union"
)

// Survivorship groups. A group survives as a unit from one record.
const (
	SurvivorName            = "name"
	SurvivorEmail           = "email"
	SurvivorPhone           = "phone"
	SurvivorAddress         = "address"
	SurvivorOrganization    = "organization"
	SurvivorBirthYear       = "birth_year"
	SurvivorWealthIndex     = "wealth_index"
	SurvivorGiftCount       = "gift_count"
	SurvivorGiftTotal       = "gift_total"
	SurvivorEngagementCount = "engagement_count"
	SurvivorLastGiftAt      = "last_gift_at"
	SurvivorJoinedAt        = "joined_at"
	SurvivorIdentifiers     = "identifiers"
	SurvivorGiftHistory     = "gift_history_refs"
)

// FieldRule is the ordered rule list for one survivorship group
type FieldRule struct {
	Rules     []RuleKind    `json:"rules" yaml:"rules"`
	Aggregate AggregateFunc `json:"aggregate,omitempty" yaml:"aggregate,omitempty"`
}

// Canonical field keys written into CanonicalEntity.Fields
const (
	KeyGivenName       = "given_name"
	KeyMiddleName      = "middle_name"
	KeyFamilyName      = "family_name"
	KeyNameSuffix      = "name_suffix"
	KeyEmail           = "email"
	KeyPhone           = "phone"
	KeyAddressLine1    = "address_line1"
	KeyAddressLine2    = "address_line2"
	KeyCity            = "city"
	KeyState           = "state"
	KeyPostalCode      = "postal_code"
	KeyCountry         = "country"
	KeyLatitude        = "latitude"
	KeyLongitude       = "longitude"
	KeyOrganization    = "organization"
	KeyBirthYear       = "birth_year"
	KeyWealthIndex     = "wealth_index"
	KeyGiftCount       = "gift_count"
	KeyGiftTotal       = "gift_total"
	KeyEngagementCount = "engagement_count"
	KeyLastGiftAt      = "last_gift_at"
	KeyJoinedAt        = "joined_at"
	KeyIdentifiers     = "identifiers"
	KeyGiftHistoryRefs = "gift_history_refs"
)
