// Package wallet signs Permit2 documents and broadcasts swap transactions with a local key.
package wallet

import (
	"context"
	"crypto/ecdsa"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"os"
	"strconv"
	"strings"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"

	"github.com/swapgate/swapgate/internal/core"
	"github.com/swapgate/swapgate/internal/core/permit2"
)

// Backend is the subset of the RPC client the wallet needs. *ethclient.Client satisfies it.
type Backend interface {
	PendingNonceAt(ctx context.Context, account common.Address) (uint64, error)
	SuggestGasPrice(ctx context.Context) (*big.Int, error)
	EstimateGas(ctx context.Context, msg ethereum.CallMsg) (uint64, error)
	SendTransaction(ctx context.Context, tx *types.Transaction) error
	TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error)
}

var _ Backend = (*ethclient.Client)(nil)

// KeyWallet holds a private key and submits legacy EIP-155 transactions.
type KeyWallet struct {
	backend Backend
	key     *ecdsa.PrivateKey
	address common.Address
}

// Dial connects to an RPC endpoint.
func Dial(ctx context.Context, rpcURL string) (*ethclient.Client, error) {
	if strings.TrimSpace(rpcURL) == "" {
		return nil, errors.New("rpc url is required")
	}
	client, err := ethclient.DialContext(ctx, rpcURL)
	if err != nil {
		return nil, fmt.Errorf("dial rpc: %w", err)
	}
	return client, nil
}

// New builds a wallet from a hex private key, with or without 0x.
func New(hexKey string, backend Backend) (*KeyWallet, error) {
	key, err := crypto.HexToECDSA(strings.TrimPrefix(strings.TrimSpace(hexKey), "0x"))
	if err != nil {
		return nil, fmt.Errorf("parse private key: %w", err)
	}
	return &KeyWallet{
		backend: backend,
		key:     key,
		address: crypto.PubkeyToAddress(key.PublicKey),
	}, nil
}

// FromEnv reads the private key from the named environment variable.
func FromEnv(name string, backend Backend) (*KeyWallet, error) {
	value := os.Getenv(name)
	if strings.TrimSpace(value) == "" {
		return nil, fmt.Errorf("environment variable %s is not set", name)
	}
	return New(value, backend)
}

// Address is the account the wallet signs for.
func (w *KeyWallet) Address() common.Address {
	return w.address
}

// SignTypedData returns a 65-byte r‖s‖v signature with v in {27, 28}.
func (w *KeyWallet) SignTypedData(ctx context.Context, typedData json.RawMessage) ([]byte, error) {
	hash, err := permit2.HashTypedData(typedData)
	if err != nil {
		return nil, err
	}
	sig, err := crypto.Sign(hash, w.key)
	if err != nil {
		return nil, fmt.Errorf("sign typed data: %w", err)
	}
	sig[crypto.RecoveryIDOffset] += 27
	return sig, nil
}

// SendTransaction signs and broadcasts tx, returning its hash.
func (w *KeyWallet) SendTransaction(ctx context.Context, req core.TxRequest) (string, error) {
	if w.backend == nil {
		return "", errors.New("wallet has no rpc backend")
	}
	if !common.IsHexAddress(req.To) {
		return "", fmt.Errorf("invalid transaction target %q", req.To)
	}
	to := common.HexToAddress(req.To)

	data, err := hexutil.Decode(req.Data)
	if err != nil {
		return "", fmt.Errorf("decode calldata: %w", err)
	}
	value, err := parseWei(req.Value)
	if err != nil {
		return "", err
	}

	nonce, err := w.backend.PendingNonceAt(ctx, w.address)
	if err != nil {
		return "", fmt.Errorf("get nonce: %w", err)
	}
	gasPrice, err := w.backend.SuggestGasPrice(ctx)
	if err != nil {
		return "", fmt.Errorf("suggest gas price: %w", err)
	}

	gas, err := w.gasLimit(ctx, req.Gas, ethereum.CallMsg{
		From:  w.address,
		To:    &to,
		Value: value,
		Data:  data,
	})
	if err != nil {
		return "", err
	}

	tx := types.NewTx(&types.LegacyTx{
		Nonce:    nonce,
		To:       &to,
		Value:    value,
		Gas:      gas,
		GasPrice: gasPrice,
		Data:     data,
	})
	signed, err := types.SignTx(tx, types.NewEIP155Signer(big.NewInt(req.ChainID)), w.key)
	if err != nil {
		return "", fmt.Errorf("sign transaction: %w", err)
	}
	if err := w.backend.SendTransaction(ctx, signed); err != nil {
		return "", err
	}
	return signed.Hash().Hex(), nil
}

func (w *KeyWallet) gasLimit(ctx context.Context, quoted string, msg ethereum.CallMsg) (uint64, error) {
	if quoted = strings.TrimSpace(quoted); quoted != "" {
		gas, err := strconv.ParseUint(quoted, 10, 64)
		if err != nil {
			return 0, fmt.Errorf("invalid gas limit %q", quoted)
		}
		return gas, nil
	}
	gas, err := w.backend.EstimateGas(ctx, msg)
	if err != nil {
		return 0, fmt.Errorf("estimate gas: %w", err)
	}
	return gas, nil
}

func parseWei(value string) (*big.Int, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return new(big.Int), nil
	}
	out, ok := new(big.Int).SetString(value, 10)
	if !ok || out.Sign() < 0 {
		return nil, fmt.Errorf("invalid transaction value %q", value)
	}
	return out, nil
}
