package ethereum

import (
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

func TestTransferEventSignature(t *testing.T) {
	// The keccak256 hash of "Transfer(address,address,uint256)"
	expected := common.HexToHash("0xddf252ad1be2c89b69c2b068fc378daa952ba7f163c4a11628f55a4df523b3ef")
	if TransferEventSignature != expected {
		t.Errorf("TransferEventSignature mismatch: expected %s, got %s", expected.Hex(), TransferEventSignature.Hex())
	}
}

func makeTransferLog(from, to common.Address, value *big.Int) types.Log {
	return types.Log{
		Address: common.HexToAddress("0xdAC17F958D2ee523a2206206994597C13D831ec7"),
		Topics: []common.Hash{
			TransferEventSignature,
			common.BytesToHash(from.Bytes()),
			common.BytesToHash(to.Bytes()),
		},
		Data:        common.LeftPadBytes(value.Bytes(), 32),
		BlockNumber: 12345678,
		TxHash:      common.HexToHash("0x1111111111111111111111111111111111111111111111111111111111111111"),
		Index:       5,
	}
}

func TestDecodeTransfer_Success(t *testing.T) {
	fromAddr := common.HexToAddress("0x1234567890123456789012345678901234567890")
	toAddr := common.HexToAddress("0xabcdefabcdefabcdefabcdefabcdefabcdefabcd")

	// Value: 1000000 (1 USDT with 6 decimals)
	log := makeTransferLog(fromAddr, toAddr, big.NewInt(1000000))

	decoded, err := DecodeTransfer(log)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if decoded.EventName != "Transfer" {
		t.Errorf("EventName mismatch: expected Transfer, got %s", decoded.EventName)
	}
	if decoded.Params["from"] != "0x1234567890123456789012345678901234567890" {
		t.Errorf("from mismatch: got %s", decoded.Params["from"])
	}
	if decoded.Params["to"] != "0xabcdefabcdefabcdefabcdefabcdefabcdefabcd" {
		t.Errorf("to mismatch: got %s", decoded.Params["to"])
	}
	if decoded.Params["value"] != "1000000" {
		t.Errorf("value mismatch: expected 1000000, got %s", decoded.Params["value"])
	}
}

func TestDecodeTransfer_InvalidTopicCount(t *testing.T) {
	log := types.Log{
		Topics: []common.Hash{TransferEventSignature},
		Data:   make([]byte, 32),
	}

	if _, err := DecodeTransfer(log); err == nil {
		t.Fatal("expected error for missing indexed topics")
	}
}

func TestDecodeTransfer_WrongSignature(t *testing.T) {
	log := makeTransferLog(
		common.HexToAddress("0x1"),
		common.HexToAddress("0x2"),
		big.NewInt(1),
	)
	log.Topics[0] = common.HexToHash("0xdeadbeef")

	if _, err := DecodeTransfer(log); err == nil {
		t.Fatal("expected error for non-Transfer signature")
	}
}

func TestDecodeTransfer_InvalidDataLength(t *testing.T) {
	log := makeTransferLog(
		common.HexToAddress("0x1"),
		common.HexToAddress("0x2"),
		big.NewInt(1),
	)
	log.Data = []byte{0x01, 0x02}

	if _, err := DecodeTransfer(log); err == nil {
		t.Fatal("expected error for short data")
	}
}

func TestIsTransferEvent(t *testing.T) {
	transfer := makeTransferLog(
		common.HexToAddress("0x1"),
		common.HexToAddress("0x2"),
		big.NewInt(1),
	)
	if !IsTransferEvent(transfer) {
		t.Error("expected Transfer log to match")
	}

	other := transfer
	other.Topics = transfer.Topics[:2]
	if IsTransferEvent(other) {
		t.Error("two-topic log should not match")
	}
}

func TestDecodeKnown_UnknownEventPassesThrough(t *testing.T) {
	log := types.Log{
		Topics: []common.Hash{common.HexToHash("0xabcdef")},
	}

	decoded, err := DecodeKnown(log)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if decoded != nil {
		t.Errorf("expected nil for unknown event, got %+v", decoded)
	}
}
