// File: internal/monitor/filter.go
package monitor

import (
	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

// EventFilter selects the logs the ledger listens to: one contract, one event
type EventFilter struct {
	addresses []common.Address
	topics    [][]common.Hash
}

// NewEventFilter creates a filter for SpinResult logs of the given contract
func NewEventFilter(contract common.Address) *EventFilter {
	return &EventFilter{
		addresses: []common.Address{contract},
		topics:    [][]common.Hash{{SpinResultTopic}},
	}
}

// Query returns the node-side filter. FromBlock is left unset so a
// subscription starts at the latest block.
func (ef *EventFilter) Query() ethereum.FilterQuery {
	return ethereum.FilterQuery{
		Addresses: ef.addresses,
		Topics:    ef.topics,
	}
}

// Matches reports whether a delivered log comes from a watched contract.
// Topic selection is left to the parser so foreign events are counted as skipped.
func (ef *EventFilter) Matches(log types.Log) bool {
	for _, addr := range ef.addresses {
		if log.Address == addr {
			return true
		}
	}
	return false
}
