package ethereum

import (
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	"github.com/bimakw/log-harvester/internal/domain/entities"
)

// TransferEventSignature is the keccak256 hash of Transfer(address,address,uint256)
var TransferEventSignature = common.HexToHash("0xddf252ad1be2c89b69c2b068fc378daa952ba7f163c4a11628f55a4df523b3ef")

// Decoder turns a raw log into its decoded view, or reports that it cannot
type Decoder func(log types.Log) (*entities.DecodedLog, error)

// IsTransferEvent checks whether a log matches the ERC-20 Transfer shape
func IsTransferEvent(log types.Log) bool {
	return len(log.Topics) == 3 && log.Topics[0] == TransferEventSignature
}

// DecodeTransfer decodes an ERC-20 Transfer log into named parameters.
// Topics carry the indexed from/to addresses; data carries the value.
func DecodeTransfer(log types.Log) (*entities.DecodedLog, error) {
	if len(log.Topics) != 3 {
		return nil, fmt.Errorf("invalid number of topics: expected 3, got %d", len(log.Topics))
	}
	if log.Topics[0] != TransferEventSignature {
		return nil, fmt.Errorf("not a Transfer event")
	}
	if len(log.Data) != 32 {
		return nil, fmt.Errorf("invalid data length: expected 32, got %d", len(log.Data))
	}

	from := common.BytesToAddress(log.Topics[1].Bytes())
	to := common.BytesToAddress(log.Topics[2].Bytes())
	value := new(big.Int).SetBytes(log.Data)

	return &entities.DecodedLog{
		EventName: "Transfer",
		Params: map[string]string{
			"from":  strings.ToLower(from.Hex()),
			"to":    strings.ToLower(to.Hex()),
			"value": value.String(),
		},
	}, nil
}

// DecodeKnown decodes the events the harvester understands, leaving
// everything else undecoded without error
func DecodeKnown(log types.Log) (*entities.DecodedLog, error) {
	if IsTransferEvent(log) {
		return DecodeTransfer(log)
	}
	return nil, nil
}
