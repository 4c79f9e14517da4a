package rpc

import (
	"context"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
)

// Multicall3 is deployed at the same address on every major EVM chain
var Multicall3Address = common.HexToAddress("0xcA11bde05977b3631167028862bE2a173976CA11")

const multicall3ABI = `[{"inputs":[{"components":[{"internalType":"address","name":"target","type":"address"},{"internalType":"bool","name":"allowFailure","type":"bool"},{"internalType":"bytes","name":"callData","type":"bytes"}],"internalType":"struct Multicall3.Call3[]","name":"calls","type":"tuple[]"}],"name":"aggregate3","outputs":[{"components":[{"internalType":"bool","name":"success","type":"bool"},{"internalType":"bytes","name":"returnData","type":"bytes"}],"internalType":"struct Multicall3.Result[]","name":"returnData","type":"tuple[]"}],"stateMutability":"payable","type":"function"}]`

// Call3 is one sub-call in an aggregate3 batch
type Call3 struct {
	Target       common.Address
	AllowFailure bool
	CallData     []byte
}

// Call3Result is the outcome of one sub-call. When the sub-call reverted
// and AllowFailure was set, Success is false and ReturnData holds the
// revert payload.
type Call3Result struct {
	Success    bool
	ReturnData []byte
}

// Multicall batches read-only contract calls through the Multicall3
// aggregator, collapsing N eth_calls into one
type Multicall struct {
	parsedABI abi.ABI
	address   common.Address
}

// NewMulticall prepares the aggregate3 codec
func NewMulticall() (*Multicall, error) {
	parsed, err := abi.JSON(strings.NewReader(multicall3ABI))
	if err != nil {
		return nil, fmt.Errorf("failed to parse multicall3 abi: %w", err)
	}
	return &Multicall{parsedABI: parsed, address: Multicall3Address}, nil
}

// Pack encodes a batch into aggregate3 calldata
func (m *Multicall) Pack(calls []Call3) ([]byte, error) {
	type call3Arg struct {
		Target       common.Address `abi:"target"`
		AllowFailure bool           `abi:"allowFailure"`
		CallData     []byte         `abi:"callData"`
	}
	args := make([]call3Arg, len(calls))
	for i, c := range calls {
		args[i] = call3Arg(c)
	}

	data, err := m.parsedABI.Pack("aggregate3", args)
	if err != nil {
		return nil, fmt.Errorf("failed to pack aggregate3 call: %w", err)
	}
	return data, nil
}

// Unpack decodes an aggregate3 response into per-call results
func (m *Multicall) Unpack(output []byte) ([]Call3Result, error) {
	values, err := m.parsedABI.Unpack("aggregate3", output)
	if err != nil {
		return nil, fmt.Errorf("failed to unpack aggregate3 result: %w", err)
	}
	if len(values) != 1 {
		return nil, fmt.Errorf("unexpected aggregate3 output arity: %d", len(values))
	}

	raw, ok := values[0].([]struct {
		Success    bool   `json:"success"`
		ReturnData []byte `json:"returnData"`
	})
	if !ok {
		return nil, fmt.Errorf("unexpected aggregate3 output type %T", values[0])
	}

	results := make([]Call3Result, len(raw))
	for i, r := range raw {
		results[i] = Call3Result{Success: r.Success, ReturnData: r.ReturnData}
	}
	return results, nil
}

// Execute runs a batch against the given client. Sub-calls with
// AllowFailure unset cause the whole batch to revert when they fail.
func (m *Multicall) Execute(ctx context.Context, client *Client, calls []Call3) ([]Call3Result, error) {
	if len(calls) == 0 {
		return nil, nil
	}

	data, err := m.Pack(calls)
	if err != nil {
		return nil, err
	}

	msg := ethereum.CallMsg{To: &m.address, Data: data}
	output, err := client.CallContract(ctx, msg, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to execute multicall: %w", err)
	}

	return m.Unpack(output)
}
