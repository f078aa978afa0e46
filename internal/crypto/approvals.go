package crypto

import (
	"encoding/binary"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
)

// Operation is the Safe-style call type of a batched transaction.
type Operation uint8

const (
	OperationCall         Operation = 0
	OperationDelegateCall Operation = 1
)

var (
	erc20ABI     abi.ABI
	erc1155ABI   abi.ABI
	multiSendABI abi.ABI

	// abi.encode(address to, uint256 value, bytes32 dataHash, uint8 operation, uint256 nonce)
	structHashArgs abi.Arguments

	maxUint256 = new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), 256), big.NewInt(1))
)

func init() {
	erc20ABI = mustABI(`[{"name":"approve","type":"function","inputs":[
		{"name":"spender","type":"address"},
		{"name":"amount","type":"uint256"}],
		"outputs":[{"name":"","type":"bool"}]}]`)
	erc1155ABI = mustABI(`[{"name":"setApprovalForAll","type":"function","inputs":[
		{"name":"operator","type":"address"},
		{"name":"approved","type":"bool"}],
		"outputs":[]}]`)
	multiSendABI = mustABI(`[{"name":"multiSend","type":"function","inputs":[
		{"name":"transactions","type":"bytes"}],
		"outputs":[]}]`)

	addressT, _ := abi.NewType("address", "", nil)
	uint256T, _ := abi.NewType("uint256", "", nil)
	bytes32T, _ := abi.NewType("bytes32", "", nil)
	uint8T, _ := abi.NewType("uint8", "", nil)
	structHashArgs = abi.Arguments{
		{Name: "to", Type: addressT},
		{Name: "value", Type: uint256T},
		{Name: "dataHash", Type: bytes32T},
		{Name: "operation", Type: uint8T},
		{Name: "nonce", Type: uint256T},
	}
}

func mustABI(def string) abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(def))
	if err != nil {
		panic("crypto: abi parse: " + err.Error())
	}
	return parsed
}

// ApprovalContracts names the contracts touched by the approval batch.
type ApprovalContracts struct {
	Collateral        common.Address
	ConditionalTokens common.Address
	Exchange          common.Address
	NegRiskExchange   common.Address
	MultiSend         common.Address
}

// Call is one inner transaction of a batch.
type Call struct {
	To    common.Address
	Value *big.Int
	Data  []byte
}

// ApprovalBatch is the aggregated approval transaction executed by the proxy
// wallet through MultiSend.
type ApprovalBatch struct {
	To        common.Address
	Value     *big.Int
	Data      []byte
	Operation Operation
	Calls     []Call
}

// NewApprovalBatch encodes the three approvals needed before trading:
// collateral approve(conditionalTokens, max) and conditional-token
// setApprovalForAll for both exchanges.
func NewApprovalBatch(c ApprovalContracts) (ApprovalBatch, error) {
	approve, err := erc20ABI.Pack("approve", c.ConditionalTokens, maxUint256)
	if err != nil {
		return ApprovalBatch{}, fmt.Errorf("crypto/approvals: pack approve: %w", err)
	}
	calls := []Call{{To: c.Collateral, Value: big.NewInt(0), Data: approve}}

	for _, operator := range []common.Address{c.Exchange, c.NegRiskExchange} {
		data, err := erc1155ABI.Pack("setApprovalForAll", operator, true)
		if err != nil {
			return ApprovalBatch{}, fmt.Errorf("crypto/approvals: pack setApprovalForAll: %w", err)
		}
		calls = append(calls, Call{To: c.ConditionalTokens, Value: big.NewInt(0), Data: data})
	}

	data, err := multiSendABI.Pack("multiSend", PackMultiSend(calls))
	if err != nil {
		return ApprovalBatch{}, fmt.Errorf("crypto/approvals: pack multiSend: %w", err)
	}

	return ApprovalBatch{
		To:        c.MultiSend,
		Value:     big.NewInt(0),
		Data:      data,
		Operation: OperationDelegateCall,
		Calls:     calls,
	}, nil
}

// PackMultiSend concatenates calls in the MultiSend wire format:
// operation (1) | to (20) | value (32) | data length (32) | data.
func PackMultiSend(calls []Call) []byte {
	var out []byte
	for _, c := range calls {
		out = append(out, byte(OperationCall))
		out = append(out, c.To.Bytes()...)
		value := c.Value
		if value == nil {
			value = big.NewInt(0)
		}
		out = append(out, common.LeftPadBytes(value.Bytes(), 32)...)
		var length [32]byte
		binary.BigEndian.PutUint64(length[24:], uint64(len(c.Data)))
		out = append(out, length[:]...)
		out = append(out, c.Data...)
	}
	return out
}

// StructHash binds the batch to a replay-protection nonce. The hash is what
// the wallet signs as a raw message.
func (b ApprovalBatch) StructHash(nonce *big.Int) (common.Hash, error) {
	if nonce == nil {
		return common.Hash{}, fmt.Errorf("crypto/approvals: nonce is required")
	}
	value := b.Value
	if value == nil {
		value = big.NewInt(0)
	}
	var dataHash [32]byte
	copy(dataHash[:], ethcrypto.Keccak256(b.Data))
	encoded, err := structHashArgs.Pack(
		b.To,
		value,
		dataHash,
		uint8(b.Operation),
		nonce,
	)
	if err != nil {
		return common.Hash{}, fmt.Errorf("crypto/approvals: encode struct: %w", err)
	}
	return common.BytesToHash(ethcrypto.Keccak256(encoded)), nil
}
