// File: internal/monitor/parser.go
package monitor

import (
	"bytes"
	"errors"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	"github.com/smartdevs17/casino-ledger/internal/models"
	"github.com/smartdevs17/casino-ledger/pkg/utils"
)

// SpinResultSignature is the canonical signature of the slot machine result event
const SpinResultSignature = "SpinResult(address,uint8,uint8,uint8,uint256)"

// MaxReelValue is the highest symbol the deployed contract emits
const MaxReelValue = 5

const spinResultABI = `[{
	"type": "event",
	"name": "SpinResult",
	"anonymous": false,
	"inputs": [
		{"name": "player", "type": "address", "indexed": true},
		{"name": "r1", "type": "uint8", "indexed": false},
		{"name": "r2", "type": "uint8", "indexed": false},
		{"name": "r3", "type": "uint8", "indexed": false},
		{"name": "prizeWei", "type": "uint256", "indexed": false}
	]
}]`

// spinPayloadSize is four 32-byte ABI words: three reels and the prize
const spinPayloadSize = 4 * 32

var (
	// ErrUnsupportedSignature marks logs that are not SpinResult events; they are skipped
	ErrUnsupportedSignature = errors.New("unsupported event signature")
	// ErrMalformedTopics marks a SpinResult log whose topics cannot carry the player
	ErrMalformedTopics = errors.New("malformed event topics")
	// ErrMalformedPayload marks a SpinResult log whose data cannot be decoded
	ErrMalformedPayload = errors.New("malformed event payload")
)

var (
	spinEvent     abi.Event
	spinArguments abi.Arguments
	// SpinResultTopic is topic[0] of every SpinResult log
	SpinResultTopic common.Hash
)

func init() {
	parsed, err := abi.JSON(strings.NewReader(spinResultABI))
	if err != nil {
		panic(fmt.Sprintf("invalid SpinResult ABI: %v", err))
	}
	spinEvent = parsed.Events["SpinResult"]
	spinArguments = spinEvent.Inputs.NonIndexed()
	SpinResultTopic = spinEvent.ID

	if spinEvent.Sig != SpinResultSignature || SpinResultTopic != utils.GetEventSignature(SpinResultSignature) {
		panic("SpinResult ABI does not match its signature")
	}
}

// DecodeError carries the source position of a log that failed to decode
type DecodeError struct {
	TxHash   common.Hash
	LogIndex uint
	Reason   string
	Err      error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("decode log %s#%d: %s: %v", e.TxHash.Hex(), e.LogIndex, e.Reason, e.Err)
}

func (e *DecodeError) Unwrap() error {
	return e.Err
}

// Reason labels, also used for metrics
const (
	ReasonUnsupportedSignature = "unsupported_signature"
	ReasonMalformedTopics      = "malformed_topics"
	ReasonMalformedPayload     = "malformed_payload"
	ReasonReelOutOfRange       = "reel_out_of_range"
)

// SpinParser decodes raw contract logs into SpinResult events
type SpinParser struct {
	strictReels bool
}

// NewSpinParser creates a parser. With strictReels set, reels above MaxReelValue are rejected.
func NewSpinParser(strictReels bool) *SpinParser {
	return &SpinParser{strictReels: strictReels}
}

// Parse decodes a log. It does not look at log.Removed.
func (p *SpinParser) Parse(log types.Log) (*models.SpinResult, error) {
	fail := func(reason string, err error) error {
		return &DecodeError{TxHash: log.TxHash, LogIndex: log.Index, Reason: reason, Err: err}
	}

	if len(log.Topics) == 0 || log.Topics[0] != SpinResultTopic {
		return nil, fail(ReasonUnsupportedSignature, ErrUnsupportedSignature)
	}
	if len(log.Topics) != 2 {
		return nil, fail(ReasonMalformedTopics,
			fmt.Errorf("%w: expected 2 topics, got %d", ErrMalformedTopics, len(log.Topics)))
	}

	playerTopic := log.Topics[1]
	if !bytes.Equal(playerTopic[:common.HashLength-common.AddressLength], make([]byte, common.HashLength-common.AddressLength)) {
		return nil, fail(ReasonMalformedTopics,
			fmt.Errorf("%w: player topic %s is not a padded address", ErrMalformedTopics, playerTopic.Hex()))
	}

	if len(log.Data) < spinPayloadSize {
		return nil, fail(ReasonMalformedPayload,
			fmt.Errorf("%w: need %d bytes, got %d", ErrMalformedPayload, spinPayloadSize, len(log.Data)))
	}

	values, err := spinArguments.Unpack(log.Data[:spinPayloadSize])
	if err != nil {
		return nil, fail(ReasonMalformedPayload, fmt.Errorf("%w: %v", ErrMalformedPayload, err))
	}

	result := &models.SpinResult{
		Player:      common.BytesToAddress(playerTopic.Bytes()),
		TxHash:      log.TxHash,
		LogIndex:    log.Index,
		BlockNumber: log.BlockNumber,
	}
	for i := 0; i < 3; i++ {
		reel, ok := values[i].(uint8)
		if !ok {
			return nil, fail(ReasonMalformedPayload,
				fmt.Errorf("%w: reel %d has type %T", ErrMalformedPayload, i+1, values[i]))
		}
		if p.strictReels && reel > MaxReelValue {
			return nil, fail(ReasonReelOutOfRange,
				fmt.Errorf("%w: reel %d value %d exceeds %d", ErrMalformedPayload, i+1, reel, MaxReelValue))
		}
		result.Reels[i] = reel
	}

	prize, ok := values[3].(*big.Int)
	if !ok {
		return nil, fail(ReasonMalformedPayload,
			fmt.Errorf("%w: prize has type %T", ErrMalformedPayload, values[3]))
	}
	result.Prize = prize

	return result, nil
}

// decodeReason returns the reason label of a decode error, or "unknown"
func decodeReason(err error) string {
	var decodeErr *DecodeError
	if errors.As(err, &decodeErr) {
		return decodeErr.Reason
	}
	return "unknown"
}
