package crypto

import (
	"math/big"
	"strconv"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/math"
	"github.com/ethereum/go-ethereum/signer/core/apitypes"
)

// ClobAuthMessage is the fixed attestation embedded in every trading-auth
// signature.
const ClobAuthMessage = "This message attests that I control the given wallet"

const (
	proxyFactoryDomainName = "Polymarket Contract Proxy Factory"
	clobAuthDomainName     = "ClobAuthDomain"
	clobAuthDomainVersion  = "1"
)

// CreateProxyTypedData builds the fixed "create proxy" message that
// authorizes the proxy factory to deploy a wallet for the signer. Payment
// fields are zero because the relayer sponsors deployment.
func CreateProxyTypedData(chainID int64, factory common.Address) apitypes.TypedData {
	return apitypes.TypedData{
		Types: apitypes.Types{
			"EIP712Domain": []apitypes.Type{
				{Name: "name", Type: "string"},
				{Name: "chainId", Type: "uint256"},
				{Name: "verifyingContract", Type: "address"},
			},
			"CreateProxy": []apitypes.Type{
				{Name: "paymentToken", Type: "address"},
				{Name: "payment", Type: "uint256"},
				{Name: "paymentReceiver", Type: "address"},
			},
		},
		PrimaryType: "CreateProxy",
		Domain: apitypes.TypedDataDomain{
			Name:              proxyFactoryDomainName,
			ChainId:           math.NewHexOrDecimal256(chainID),
			VerifyingContract: factory.Hex(),
		},
		Message: apitypes.TypedDataMessage{
			"paymentToken":    common.Address{}.Hex(),
			"payment":         big.NewInt(0),
			"paymentReceiver": common.Address{}.Hex(),
		},
	}
}

// ClobAuthTypedData builds the trading-auth attestation for address at the
// given Unix timestamp.
func ClobAuthTypedData(chainID int64, address common.Address, timestamp, nonce int64) apitypes.TypedData {
	return apitypes.TypedData{
		Types: apitypes.Types{
			"EIP712Domain": []apitypes.Type{
				{Name: "name", Type: "string"},
				{Name: "version", Type: "string"},
				{Name: "chainId", Type: "uint256"},
			},
			"ClobAuth": []apitypes.Type{
				{Name: "address", Type: "address"},
				{Name: "timestamp", Type: "string"},
				{Name: "nonce", Type: "uint256"},
				{Name: "message", Type: "string"},
			},
		},
		PrimaryType: "ClobAuth",
		Domain: apitypes.TypedDataDomain{
			Name:    clobAuthDomainName,
			Version: clobAuthDomainVersion,
			ChainId: math.NewHexOrDecimal256(chainID),
		},
		Message: apitypes.TypedDataMessage{
			"address":   address.Hex(),
			"timestamp": strconv.FormatInt(timestamp, 10),
			"nonce":     big.NewInt(nonce),
			"message":   ClobAuthMessage,
		},
	}
}
