// File: internal/processor/transformer.go
package processor

import (
	"github.com/shopspring/decimal"

	"github.com/smartdevs17/casino-ledger/internal/models"
	"github.com/smartdevs17/casino-ledger/internal/units"
	"github.com/smartdevs17/casino-ledger/pkg/utils"
)

// SpinToEntry maps a decoded spin onto a ledger row.
// The event carries no wager, so Amount is zero; the prize becomes WinAmount.
func SpinToEntry(spin *models.SpinResult) *models.LedgerEntry {
	win := units.ToDecimal(spin.Prize)
	slot := spin.SlotResult()
	txHash := spin.TxHash.Hex()
	logIndex := spin.LogIndex

	return &models.LedgerEntry{
		PlayerAddress:   utils.NormalizeAddress(spin.Player.Hex()),
		TransactionType: models.TransactionTypeSpin,
		Amount:          decimal.Zero,
		WinAmount:       &win,
		SlotResult:      &slot,
		TxHash:          &txHash,
		LogIndex:        &logIndex,
	}
}
