package indexer

import (
	"strconv"
	"time"

	"github.com/google/uuid"
)

const SubaccountsTableName = "subaccounts"

// subaccountNamespace is the UUIDv5 namespace subaccount ids are derived under.
var subaccountNamespace = uuid.MustParse("0f9da948-a6fb-4c45-9edc-4685c3f3317d")

// Subaccount is one numbered trading account of an owner address.
type Subaccount struct {
	ID               string    `json:"id"`
	Address          string    `json:"address"`
	SubaccountNumber uint32    `json:"subaccountNumber"`
	UpdatedAt        time.Time `json:"updatedAt"`
	UpdatedAtHeight  uint64    `json:"updatedAtHeight"`
}

// SubaccountUUID derives the stable subaccount id of (address, number).
func SubaccountUUID(address string, subaccountNumber uint32) string {
	name := address + "-" + strconv.FormatUint(uint64(subaccountNumber), 10)
	return uuid.NewSHA1(subaccountNamespace, []byte(name)).String()
}
