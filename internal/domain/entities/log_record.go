package entities

import (
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

// LogRecord is the output shape of a fetched event log
type LogRecord struct {
	BlockNumber uint64   `json:"block_number" db:"block_number"`
	TxHash      string   `json:"tx_hash" db:"tx_hash"`
	LogIndex    uint     `json:"log_index" db:"log_index"`
	Address     string   `json:"address" db:"address"`
	Topics      []string `json:"topics"`
	Data        string   `json:"data" db:"data"`
	Removed     bool     `json:"removed,omitempty" db:"removed"`

	// Decoded fields, populated when a decoder is supplied
	EventName string            `json:"event_name,omitempty" db:"event_name"`
	Params    map[string]string `json:"params,omitempty"`
}

// DecodedLog carries the decoded view of a raw log. Decoding itself is an
// external collaborator: a pure function from types.Log to DecodedLog.
type DecodedLog struct {
	EventName string
	Params    map[string]string
}

// LogRecordFromRaw converts a go-ethereum log into the output shape
func LogRecordFromRaw(log types.Log) LogRecord {
	topics := make([]string, len(log.Topics))
	for i, t := range log.Topics {
		topics[i] = t.Hex()
	}

	return LogRecord{
		BlockNumber: log.BlockNumber,
		TxHash:      log.TxHash.Hex(),
		LogIndex:    log.Index,
		Address:     strings.ToLower(log.Address.Hex()),
		Topics:      topics,
		Data:        "0x" + common.Bytes2Hex(log.Data),
		Removed:     log.Removed,
	}
}

// WithDecoded returns a copy of the record with decoded fields attached
func (r LogRecord) WithDecoded(d DecodedLog) LogRecord {
	r.EventName = d.EventName
	r.Params = d.Params
	return r
}
