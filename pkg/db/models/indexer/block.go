package indexer

import "time"

const BlocksTableName = "blocks"

type Block struct {
	BlockHeight uint64    `json:"blockHeight"`
	Time        time.Time `json:"time"`
}
