package monitor

import (
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/smartdevs17/casino-ledger/internal/units"
)

var (
	testContract = common.HexToAddress("0x5FbDB2315678afecb367f032d93F642f64180aa3")
	testPlayer   = common.HexToAddress("0x70997970C51812dc3A010C7d01b50e0d17dc79C8")
)

func packSpin(t *testing.T, r1, r2, r3 uint8, prize *big.Int) []byte {
	t.Helper()
	data, err := spinArguments.Pack(r1, r2, r3, prize)
	require.NoError(t, err)
	return data
}

func spinLog(t *testing.T, txByte byte, index uint, r1, r2, r3 uint8, prize *big.Int) types.Log {
	return types.Log{
		Address:     testContract,
		Topics:      []common.Hash{SpinResultTopic, common.BytesToHash(testPlayer.Bytes())},
		Data:        packSpin(t, r1, r2, r3, prize),
		BlockNumber: 100,
		TxHash:      common.BytesToHash([]byte{txByte}),
		Index:       index,
	}
}

func TestSpinResultTopic(t *testing.T) {
	assert.Equal(t, crypto.Keccak256Hash([]byte(SpinResultSignature)), SpinResultTopic)
}

func TestParseSpinResult(t *testing.T) {
	prize, _ := new(big.Int).SetString("2500000000000000000", 10)
	log := spinLog(t, 0x01, 4, 3, 1, 5, prize)

	result, err := NewSpinParser(false).Parse(log)
	require.NoError(t, err)

	assert.Equal(t, testPlayer, result.Player)
	assert.Equal(t, [3]uint8{3, 1, 5}, result.Reels)
	assert.Equal(t, "3-1-5", result.SlotResult())
	assert.Equal(t, 0, prize.Cmp(result.Prize))
	assert.Equal(t, "2.5", units.ToDecimal(result.Prize).String())
	assert.Equal(t, log.TxHash, result.TxHash)
	assert.Equal(t, uint(4), result.LogIndex)
	assert.Equal(t, uint64(100), result.BlockNumber)
}

func TestParseZeroPrize(t *testing.T) {
	result, err := NewSpinParser(false).Parse(spinLog(t, 0x02, 0, 1, 2, 3, big.NewInt(0)))
	require.NoError(t, err)
	assert.Equal(t, "0", units.ToDecimal(result.Prize).String())
}

func TestParseIgnoresTrailingBytes(t *testing.T) {
	log := spinLog(t, 0x03, 0, 2, 2, 2, big.NewInt(7))
	log.Data = append(log.Data, 0xff, 0xff, 0xff)

	result, err := NewSpinParser(false).Parse(log)
	require.NoError(t, err)
	assert.Equal(t, int64(7), result.Prize.Int64())
}

func TestParseErrors(t *testing.T) {
	valid := spinLog(t, 0x04, 9, 1, 1, 1, big.NewInt(1))

	otherTopic := valid
	otherTopic.Topics = []common.Hash{crypto.Keccak256Hash([]byte("Transfer(address,address,uint256)")), valid.Topics[1]}

	noTopics := valid
	noTopics.Topics = nil

	missingPlayer := valid
	missingPlayer.Topics = []common.Hash{SpinResultTopic}

	extraTopic := valid
	extraTopic.Topics = []common.Hash{SpinResultTopic, valid.Topics[1], valid.Topics[1]}

	dirtyPadding := valid
	dirty := valid.Topics[1]
	dirty[0] = 0x01
	dirtyPadding.Topics = []common.Hash{SpinResultTopic, dirty}

	shortData := valid
	shortData.Data = valid.Data[:spinPayloadSize-1]

	badReel := valid
	badReel.Data = append([]byte(nil), valid.Data...)
	badReel.Data[31] = 0x2c
	badReel.Data[30] = 0x01 // 300 does not fit in uint8

	tests := []struct {
		name   string
		log    types.Log
		target error
		reason string
	}{
		{"signature mismatch", otherTopic, ErrUnsupportedSignature, ReasonUnsupportedSignature},
		{"no topics", noTopics, ErrUnsupportedSignature, ReasonUnsupportedSignature},
		{"missing player topic", missingPlayer, ErrMalformedTopics, ReasonMalformedTopics},
		{"extra topic", extraTopic, ErrMalformedTopics, ReasonMalformedTopics},
		{"non-zero address padding", dirtyPadding, ErrMalformedTopics, ReasonMalformedTopics},
		{"short payload", shortData, ErrMalformedPayload, ReasonMalformedPayload},
		{"reel overflows uint8", badReel, ErrMalformedPayload, ReasonMalformedPayload},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result, err := NewSpinParser(false).Parse(tt.log)
			require.Error(t, err)
			assert.Nil(t, result)
			assert.ErrorIs(t, err, tt.target)

			var decodeErr *DecodeError
			require.ErrorAs(t, err, &decodeErr)
			assert.Equal(t, valid.TxHash, decodeErr.TxHash)
			assert.Equal(t, uint(9), decodeErr.LogIndex)
			assert.Equal(t, tt.reason, decodeReason(err))
		})
	}
}

func TestParseStrictReels(t *testing.T) {
	log := spinLog(t, 0x05, 0, 1, 6, 1, big.NewInt(0))

	_, err := NewSpinParser(false).Parse(log)
	require.NoError(t, err)

	_, err = NewSpinParser(true).Parse(log)
	require.ErrorIs(t, err, ErrMalformedPayload)
	assert.Equal(t, ReasonReelOutOfRange, decodeReason(err))
}
