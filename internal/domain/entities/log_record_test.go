package entities

import (
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

func TestLogRecordFromRaw(t *testing.T) {
	raw := types.Log{
		Address:     common.HexToAddress("0xDAC17F958D2EE523A2206206994597C13D831EC7"),
		Topics:      []common.Hash{common.HexToHash("0x01"), common.HexToHash("0x02")},
		Data:        []byte{0xde, 0xad},
		BlockNumber: 123456,
		TxHash:      common.HexToHash("0xabc"),
		Index:       7,
		Removed:     true,
	}

	rec := LogRecordFromRaw(raw)

	if rec.BlockNumber != 123456 {
		t.Errorf("block = %d", rec.BlockNumber)
	}
	if rec.LogIndex != 7 {
		t.Errorf("index = %d", rec.LogIndex)
	}
	if rec.Address != "0xdac17f958d2ee523a2206206994597c13d831ec7" {
		t.Errorf("address not lowercased: %s", rec.Address)
	}
	if len(rec.Topics) != 2 {
		t.Fatalf("topics = %v", rec.Topics)
	}
	if rec.Data != "0xdead" {
		t.Errorf("data = %s", rec.Data)
	}
	if !rec.Removed {
		t.Error("removed flag lost")
	}
	if rec.EventName != "" || rec.Params != nil {
		t.Error("undecoded record should have no decoded fields")
	}
}

func TestLogRecord_WithDecoded(t *testing.T) {
	rec := LogRecord{BlockNumber: 1}
	decorated := rec.WithDecoded(DecodedLog{
		EventName: "Transfer",
		Params:    map[string]string{"value": "10"},
	})

	if decorated.EventName != "Transfer" || decorated.Params["value"] != "10" {
		t.Errorf("decoded fields missing: %+v", decorated)
	}
	// value receiver: original untouched
	if rec.EventName != "" {
		t.Error("original record mutated")
	}
}
