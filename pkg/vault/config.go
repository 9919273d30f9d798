package vault

import (
	"strconv"
	"strings"
	"time"

	"github.com/canopy-network/perpindexer/pkg/db/models/indexer"
	"github.com/canopy-network/perpindexer/pkg/errdefs"
	"github.com/canopy-network/perpindexer/pkg/utils"
	"github.com/google/uuid"
)

const (
	DefaultPnlHistoryDays = 90
)

// MappingEntry assigns one vault subaccount to the clob pair it trades.
type MappingEntry struct {
	SubaccountID string
	ClobPairID   string
}

// Mapping is the static set of vault subaccounts, in configuration order.
type Mapping struct {
	entries []MappingEntry
	index   map[string]string
}

// ParseMapping zips the comma-separated subaccount and clob pair lists. A subaccount is
// either its UUID or "address/number", which is resolved to the derived UUID.
// Lists of different lengths, empty elements, malformed subaccounts and duplicate
// subaccounts are configuration errors.
func ParseMapping(subaccounts, clobPairs string) (Mapping, error) {
	ids := utils.SplitList(subaccounts)
	markets := utils.SplitList(clobPairs)
	if len(ids) != len(markets) {
		return Mapping{}, errdefs.Configuration(
			"EXPERIMENT_VAULTS has %d entries but EXPERIMENT_VAULT_MARKETS has %d", len(ids), len(markets),
		)
	}

	m := Mapping{
		entries: make([]MappingEntry, 0, len(ids)),
		index:   make(map[string]string, len(ids)),
	}
	for i, id := range ids {
		if id == "" || markets[i] == "" {
			return Mapping{}, errdefs.Configuration("vault mapping entry %d is empty", i)
		}
		id, err := parseSubaccount(id)
		if err != nil {
			return Mapping{}, err
		}
		if _, dup := m.index[id]; dup {
			return Mapping{}, errdefs.Configuration("vault subaccount %s is listed twice", id)
		}
		m.index[id] = markets[i]
		m.entries = append(m.entries, MappingEntry{SubaccountID: id, ClobPairID: markets[i]})
	}
	return m, nil
}

func parseSubaccount(raw string) (string, error) {
	if address, number, ok := strings.Cut(raw, "/"); ok {
		n, err := strconv.ParseUint(number, 10, 32)
		if address == "" || err != nil {
			return "", errdefs.Configuration("vault subaccount %q is not address/number", raw)
		}
		return indexer.SubaccountUUID(address, uint32(n)), nil
	}
	parsed, err := uuid.Parse(raw)
	if err != nil {
		return "", errdefs.Configuration("vault subaccount %q is not a UUID: %v", raw, err)
	}
	return parsed.String(), nil
}

// LoadMappingFromEnv reads EXPERIMENT_VAULTS and EXPERIMENT_VAULT_MARKETS.
func LoadMappingFromEnv() (Mapping, error) {
	return ParseMapping(utils.Env("EXPERIMENT_VAULTS", ""), utils.Env("EXPERIMENT_VAULT_MARKETS", ""))
}

// PnlHistoryWindowFromEnv reads VAULT_PNL_HISTORY_DAYS.
func PnlHistoryWindowFromEnv() time.Duration {
	return time.Duration(utils.EnvInt("VAULT_PNL_HISTORY_DAYS", DefaultPnlHistoryDays)) * 24 * time.Hour
}

func (m Mapping) Len() int { return len(m.entries) }

func (m Mapping) Entries() []MappingEntry {
	return append([]MappingEntry(nil), m.entries...)
}

func (m Mapping) SubaccountIDs() []string {
	ids := make([]string, len(m.entries))
	for i, e := range m.entries {
		ids[i] = e.SubaccountID
	}
	return ids
}

// ClobPairID returns the clob pair a vault subaccount is mapped to.
func (m Mapping) ClobPairID(subaccountID string) (string, bool) {
	id, ok := m.index[subaccountID]
	return id, ok
}
