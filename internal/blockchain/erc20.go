package blockchain

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"net/http"
	"strings"
	"unicode"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/rpc"

	"github.com/matrixise/hotwallet-tracker/internal/retry"
)

const erc20ABI = `[
	{"constant":true,"inputs":[],"name":"name","outputs":[{"name":"","type":"string"}],"payable":false,"stateMutability":"view","type":"function"},
	{"constant":true,"inputs":[],"name":"symbol","outputs":[{"name":"","type":"string"}],"payable":false,"stateMutability":"view","type":"function"},
	{"constant":true,"inputs":[],"name":"decimals","outputs":[{"name":"","type":"uint8"}],"payable":false,"stateMutability":"view","type":"function"},
	{"constant":true,"inputs":[{"name":"_owner","type":"address"}],"name":"balanceOf","outputs":[{"name":"balance","type":"uint256"}],"payable":false,"stateMutability":"view","type":"function"}
]`

// Older tokens (MKR, SAI) return name and symbol as bytes32
const erc20Bytes32ABI = `[
	{"constant":true,"inputs":[],"name":"name","outputs":[{"name":"","type":"bytes32"}],"payable":false,"stateMutability":"view","type":"function"},
	{"constant":true,"inputs":[],"name":"symbol","outputs":[{"name":"","type":"bytes32"}],"payable":false,"stateMutability":"view","type":"function"}
]`

// JSON-RPC "limit exceeded", used by several public providers for throttling
const rpcLimitExceeded = -32005

var (
	stringABI  = mustParseABI(erc20ABI)
	bytes32ABI = mustParseABI(erc20Bytes32ABI)
)

func mustParseABI(def string) abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(def))
	if err != nil {
		panic(fmt.Sprintf("failed to parse ABI: %v", err))
	}
	return parsed
}

func call(ctx context.Context, caller ContractCaller, parsed abi.ABI, token common.Address, method string, args ...any) ([]any, error) {
	data, err := parsed.Pack(method, args...)
	if err != nil {
		return nil, retry.New(retry.Fatal, method, fmt.Errorf("pack: %w", err))
	}

	out, err := caller.CallContract(ctx, ethereum.CallMsg{To: &token, Data: data}, nil)
	if err != nil {
		return nil, classifyRPCError(method, err)
	}

	values, err := parsed.Unpack(method, out)
	if err != nil {
		return nil, retry.New(retry.Fatal, method, fmt.Errorf("unpack: %w", err))
	}
	if len(values) == 0 {
		return nil, retry.New(retry.Fatal, method, errors.New("empty result"))
	}
	return values, nil
}

// readText calls a string-returning method. The bytes32 variant is only tried
// when the string call fails to decode.
func readText(ctx context.Context, caller ContractCaller, token common.Address, method string) (string, error) {
	values, err := call(ctx, caller, stringABI, token, method)
	if err == nil {
		s, ok := values[0].(string)
		if !ok {
			return "", retry.New(retry.Fatal, method, fmt.Errorf("unexpected type %T", values[0]))
		}
		return cleanText(method, s)
	}

	values, fallbackErr := call(ctx, caller, bytes32ABI, token, method)
	if fallbackErr != nil {
		return "", err
	}
	raw, ok := values[0].([32]byte)
	if !ok {
		return "", retry.New(retry.Fatal, method, fmt.Errorf("unexpected type %T", values[0]))
	}
	return cleanText(method, string(raw[:]))
}

// cleanText trims NUL and space padding and rejects empty or non-printable values
func cleanText(method, s string) (string, error) {
	s = strings.Trim(strings.ToValidUTF8(s, ""), "\x00 ")
	if s == "" {
		return "", retry.New(retry.Fatal, method, errors.New("empty value"))
	}
	if strings.IndexFunc(s, unicode.IsControl) >= 0 {
		return "", retry.New(retry.Fatal, method, fmt.Errorf("control characters in %q", s))
	}
	return s, nil
}

func readDecimals(ctx context.Context, caller ContractCaller, token common.Address) (uint8, error) {
	values, err := call(ctx, caller, stringABI, token, "decimals")
	if err != nil {
		return 0, err
	}
	d, ok := values[0].(uint8)
	if !ok {
		return 0, retry.New(retry.Fatal, "decimals", fmt.Errorf("unexpected type %T", values[0]))
	}
	return d, nil
}

// BalanceOf reads the raw token balance of holder
func BalanceOf(ctx context.Context, caller ContractCaller, token, holder string) (*big.Int, error) {
	values, err := call(ctx, caller, stringABI, common.HexToAddress(token), "balanceOf", common.HexToAddress(holder))
	if err != nil {
		return nil, err
	}
	raw, ok := values[0].(*big.Int)
	if !ok {
		return nil, retry.New(retry.Fatal, "balanceOf", fmt.Errorf("unexpected type %T", values[0]))
	}
	return raw, nil
}

// classifyRPCError maps endpoint failures onto retry classes
func classifyRPCError(op string, err error) error {
	var httpErr rpc.HTTPError
	if errors.As(err, &httpErr) && httpErr.StatusCode == http.StatusTooManyRequests {
		return retry.New(retry.RateLimited, op, err)
	}

	var rpcErr rpc.Error
	if errors.As(err, &rpcErr) && rpcErr.ErrorCode() == rpcLimitExceeded {
		return retry.New(retry.RateLimited, op, err)
	}

	return retry.New(retry.Transient, op, err)
}
