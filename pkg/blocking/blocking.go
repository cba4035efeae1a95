// Package blocking groups normalized records into candidate blocks so that only records sharing a
// blocking key are ever compared.
package blocking

import (
	"fmt"
	"slices"
	"strings"

	"github.com/Ramsey-B/sage/pkg/models"
)

// Blocking strategies. Keys produced by a strategy are prefixed with its name.
const (
	StrategyFamilySoundexPostal = "family_soundex_postal"
	StrategyEmailLocalPrefix    = "email_local_prefix"
	StrategyPhoneSuffix         = "phone_suffix"
	StrategyNameMetaphoneCity   = "name_metaphone_city"
	// StrategyIdentifier is added automatically when authoritative identifiers are configured
	StrategyIdentifier = "identifier"

	singletonPrefix = "singleton"
)

const (
	emailPrefixLength = 6
	phoneSuffixLength = 7
)

// KeyFunc returns the blocking keys of one record, without the strategy prefix
type KeyFunc func(r *models.NormalizedRecord) []string

var strategies = map[string]KeyFunc{
	StrategyFamilySoundexPostal: familySoundexPostal,
	StrategyEmailLocalPrefix:    emailLocalPrefix,
	StrategyPhoneSuffix:         phoneSuffix,
	StrategyNameMetaphoneCity:   nameMetaphoneCity,
}

// IsKnownStrategy reports whether a strategy name can be configured
func IsKnownStrategy(name string) bool {
	_, ok := strategies[name]
	return ok || name == StrategyIdentifier
}

// Blocker computes blocking keys with a fixed set of strategies
type Blocker struct {
	names       []string
	identifiers []string
}

// New creates a blocker for the given strategies. identifierNamespaces enables the identifier
// strategy for those namespaces.
func New(strategyNames []string, identifierNamespaces []string) (*Blocker, error) {
	b := &Blocker{}
	for _, name := range strategyNames {
		if name == StrategyIdentifier {
			continue
		}
		if _, ok := strategies[name]; !ok {
			return nil, fmt.Errorf("unknown blocking strategy %q", name)
		}
		if !slices.Contains(b.names, name) {
			b.names = append(b.names, name)
		}
	}
	for _, ns := range identifierNamespaces {
		ns = strings.ToLower(strings.TrimSpace(ns))
		if ns != "" && !slices.Contains(b.identifiers, ns) {
			b.identifiers = append(b.identifiers, ns)
		}
	}
	if len(b.names)+min(len(b.identifiers), 1) == 0 {
		return nil, fmt.Errorf("no blocking strategies configured")
	}
	return b, nil
}

// Keys returns the sorted, de-duplicated blocking keys of a record. A record no strategy can key
// gets an empty result.
func (b *Blocker) Keys(r *models.NormalizedRecord) []string {
	var keys []string
	for _, name := range b.names {
		for _, k := range strategies[name](r) {
			keys = append(keys, name+":"+k)
		}
	}
	for _, ns := range b.identifiers {
		if v := r.Identifiers[ns]; v != "" {
			keys = append(keys, StrategyIdentifier+":"+ns+"="+v)
		}
	}
	slices.Sort(keys)
	return slices.Compact(keys)
}

// Block groups records by key. Every record appears in at least one block; records without any key
// get a singleton block of their own.
func (b *Blocker) Block(records []models.NormalizedRecord) *Blocks {
	blocks := &Blocks{
		byKey:    make(map[string][]models.RecordID),
		byRecord: make(map[models.RecordID][]string, len(records)),
	}
	for i := range records {
		rec := &records[i]
		keys := b.Keys(rec)
		if len(keys) == 0 {
			keys = []string{singletonPrefix + ":" + string(rec.ID)}
		}
		blocks.byRecord[rec.ID] = keys
		for _, k := range keys {
			blocks.byKey[k] = append(blocks.byKey[k], rec.ID)
		}
	}
	for k, members := range blocks.byKey {
		slices.Sort(members)
		blocks.byKey[k] = slices.Compact(members)
		blocks.keys = append(blocks.keys, k)
	}
	slices.Sort(blocks.keys)
	return blocks
}

// Block is one group of records that share a key
type Block struct {
	Key     string
	Members []models.RecordID
}

// Blocks is the union of all strategy blocks over one set of records
type Blocks struct {
	keys     []string
	byKey    map[string][]models.RecordID
	byRecord map[models.RecordID][]string
}

// All returns every block ordered by key
func (bs *Blocks) All() []Block {
	out := make([]Block, 0, len(bs.keys))
	for _, k := range bs.keys {
		out = append(out, Block{Key: k, Members: bs.byKey[k]})
	}
	return out
}

// Len returns the number of blocks
func (bs *Blocks) Len() int {
	return len(bs.keys)
}

// KeysFor returns the block keys of a record
func (bs *Blocks) KeysFor(id models.RecordID) []string {
	return bs.byRecord[id]
}

// Owner returns the block that owns a pair: the first key, in sorted order, both records share.
// ok is false when the records share no block.
func (bs *Blocks) Owner(a, b models.RecordID) (string, bool) {
	ka, kb := bs.byRecord[a], bs.byRecord[b]
	i, j := 0, 0
	for i < len(ka) && j < len(kb) {
		switch {
		case ka[i] == kb[j]:
			return ka[i], true
		case ka[i] < kb[j]:
			i++
		default:
			j++
		}
	}
	return "", false
}

// Pairs returns the pairs a block owns, in canonical order. Across all blocks every pair of
// records sharing at least one key is returned exactly once.
func (bs *Blocks) Pairs(block Block) [][2]models.RecordID {
	var pairs [][2]models.RecordID
	for i := 0; i < len(block.Members); i++ {
		for j := i + 1; j < len(block.Members); j++ {
			a, b := block.Members[i], block.Members[j]
			if owner, ok := bs.Owner(a, b); ok && owner == block.Key {
				pairs = append(pairs, [2]models.RecordID{a, b})
			}
		}
	}
	return pairs
}

// PairCount returns the number of distinct pairs over all blocks
func (bs *Blocks) PairCount() int {
	n := 0
	for _, b := range bs.All() {
		n += len(bs.Pairs(b))
	}
	return n
}

// Sizes returns the member count of every block, for metrics
func (bs *Blocks) Sizes() []int {
	sizes := make([]int, 0, len(bs.keys))
	for _, k := range bs.keys {
		sizes = append(sizes, len(bs.byKey[k]))
	}
	return sizes
}

func familySoundexPostal(r *models.NormalizedRecord) []string {
	if r.Name.Soundex == "" || r.Address.PostalCode == "" {
		return nil
	}
	return []string{r.Name.Soundex + "|" + strings.ReplaceAll(r.Address.PostalCode, " ", "")}
}

func emailLocalPrefix(r *models.NormalizedRecord) []string {
	if r.Email.Status != models.FieldPresent || r.Email.Local == "" {
		return nil
	}
	local := r.Email.Local
	if len(local) > emailPrefixLength {
		local = local[:emailPrefixLength]
	}
	return []string{local}
}

func phoneSuffix(r *models.NormalizedRecord) []string {
	if r.Phone.Status != models.FieldPresent || len(r.Phone.Digits) < phoneSuffixLength {
		return nil
	}
	return []string{r.Phone.Digits[len(r.Phone.Digits)-phoneSuffixLength:]}
}

func nameMetaphoneCity(r *models.NormalizedRecord) []string {
	if r.Name.Metaphone == "" || r.Address.City == "" {
		return nil
	}
	return []string{r.Name.Metaphone + "|" + r.Address.City}
}
