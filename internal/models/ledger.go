package models

import (
	"fmt"
	"regexp"
	"time"

	"github.com/shopspring/decimal"
)

// TransactionType classifies a ledger row
type TransactionType string

const (
	TransactionTypeUnknown  TransactionType = "UNKNOWN"
	TransactionTypeSpin     TransactionType = "SPIN"
	TransactionTypeWithdraw TransactionType = "WITHDRAW"
	TransactionTypeDeposit  TransactionType = "DEPOSIT"
)

// ParseTransactionType maps stored text back to a TransactionType; unrecognized values become UNKNOWN
func ParseTransactionType(s string) TransactionType {
	switch TransactionType(s) {
	case TransactionTypeSpin, TransactionTypeWithdraw, TransactionTypeDeposit:
		return TransactionType(s)
	default:
		return TransactionTypeUnknown
	}
}

var slotResultPattern = regexp.MustCompile(`^\d+-\d+-\d+$`)

// LedgerEntry is a persisted ledger row. Rows are insert-only.
type LedgerEntry struct {
	ID              int64            `json:"id" db:"id"`
	PlayerAddress   string           `json:"playerAddress" db:"player_address"`
	TransactionType TransactionType  `json:"transactionType" db:"transaction_type"`
	Amount          decimal.Decimal  `json:"amount" db:"amount"`
	WinAmount       *decimal.Decimal `json:"winAmount" db:"win_amount"`
	SlotResult      *string          `json:"slotResult" db:"slot_result"`
	TxHash          *string          `json:"txHash" db:"tx_hash"`
	LogIndex        *uint            `json:"logIndex,omitempty" db:"log_index"`
	Timestamp       time.Time        `json:"timestamp" db:"timestamp"`
}

// Validate checks the per-kind shape of an entry before it is written
func (e *LedgerEntry) Validate() error {
	if e.PlayerAddress == "" {
		return fmt.Errorf("player address is required")
	}
	if e.Amount.IsNegative() {
		return fmt.Errorf("amount must not be negative")
	}

	switch e.TransactionType {
	case TransactionTypeSpin:
		if e.WinAmount == nil || e.SlotResult == nil {
			return fmt.Errorf("spin entries require win amount and slot result")
		}
		if e.WinAmount.IsNegative() {
			return fmt.Errorf("win amount must not be negative")
		}
		if !slotResultPattern.MatchString(*e.SlotResult) {
			return fmt.Errorf("slot result %q is not in A-B-C form", *e.SlotResult)
		}
	case TransactionTypeWithdraw, TransactionTypeDeposit, TransactionTypeUnknown:
		if e.WinAmount != nil || e.SlotResult != nil {
			return fmt.Errorf("%s entries must not carry win amount or slot result", e.TransactionType)
		}
	default:
		return fmt.Errorf("unsupported transaction type %q", e.TransactionType)
	}
	return nil
}

// IdempotencyKey identifies a source event: the emitting transaction and the log's position in its block
type IdempotencyKey struct {
	TxHash   string `json:"tx_hash"`
	LogIndex uint   `json:"log_index"`
}

func (k IdempotencyKey) String() string {
	return fmt.Sprintf("%s#%d", k.TxHash, k.LogIndex)
}

// Page is one page of ledger entries, newest first
type Page struct {
	Content       []*LedgerEntry `json:"content"`
	TotalPages    int            `json:"totalPages"`
	TotalElements int64          `json:"totalElements"`
	Number        int            `json:"number"`
	Size          int            `json:"size"`
}

// NewPage computes pagination metadata for a page of the given size over total rows
func NewPage(content []*LedgerEntry, total int64, number, size int) *Page {
	if content == nil {
		content = []*LedgerEntry{}
	}
	totalPages := 0
	if size > 0 {
		totalPages = int((total + int64(size) - 1) / int64(size))
	}
	return &Page{
		Content:       content,
		TotalPages:    totalPages,
		TotalElements: total,
		Number:        number,
		Size:          size,
	}
}
