package models

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// SpinResult is a decoded SpinResult contract event
type SpinResult struct {
	Player      common.Address `json:"player"`
	Reels       [3]uint8       `json:"reels"`
	Prize       *big.Int       `json:"prize"` // base units
	TxHash      common.Hash    `json:"tx_hash"`
	LogIndex    uint           `json:"log_index"`
	BlockNumber uint64         `json:"block_number"`
}

// SlotResult renders the reels in A-B-C form
func (s *SpinResult) SlotResult() string {
	return fmt.Sprintf("%d-%d-%d", s.Reels[0], s.Reels[1], s.Reels[2])
}

// Key returns the idempotency key of the source log
func (s *SpinResult) Key() IdempotencyKey {
	return IdempotencyKey{TxHash: s.TxHash.Hex(), LogIndex: s.LogIndex}
}
