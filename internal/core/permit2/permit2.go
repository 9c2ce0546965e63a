// Package permit2 obtains the Permit2 signature for a quote and splices it into the calldata.
package permit2

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/signer/core/apitypes"

	"github.com/swapgate/swapgate/internal/core"
	"github.com/swapgate/swapgate/internal/core/retry"
)

// SignatureLengthBytes is the width of the big-endian length prefix written before the signature.
const SignatureLengthBytes = 32

// TypedDataSigner signs an EIP-712 document. Wallet prompts cannot be withdrawn once sent,
// so implementations may ignore ctx after the request is dispatched.
type TypedDataSigner interface {
	SignTypedData(ctx context.Context, typedData json.RawMessage) ([]byte, error)
}

// Assembler requests Permit2 signatures and appends them to quote calldata.
type Assembler struct {
	Signer  TypedDataSigner
	Timeout time.Duration
}

// Required reports whether quote carries a Permit2 document that must be signed.
func Required(quote *core.SwapResponse) bool {
	return quote != nil && quote.Permit2.HasTypedData()
}

// Assemble signs the quote's Permit2 document and returns a copy with the signature appended.
// Quotes without a Permit2 document are returned unchanged and the wallet is not prompted.
func (a *Assembler) Assemble(ctx context.Context, quote *core.SwapResponse) (*core.SwapResponse, error) {
	if !Required(quote) {
		return quote, nil
	}
	sig, err := a.Sign(ctx, quote)
	if err != nil {
		return nil, err
	}
	return Splice(quote, sig)
}

// Sign asks the wallet to sign the quote's Permit2 document. Calldata is checked first so the
// wallet is never prompted for a quote that cannot be submitted.
func (a *Assembler) Sign(ctx context.Context, quote *core.SwapResponse) ([]byte, error) {
	if !Required(quote) {
		return nil, errors.New("quote has no permit2 document to sign")
	}
	if !hasCalldata(quote) {
		return nil, core.ErrMissingCalldata
	}
	if a == nil || a.Signer == nil {
		return nil, &core.SignatureRejectedError{Cause: errors.New("no wallet connected")}
	}

	sig, err := retry.WithTimeout(ctx, func(ctx context.Context) ([]byte, error) {
		return a.Signer.SignTypedData(ctx, quote.Permit2.EIP712)
	}, "signature", a.Timeout, retry.NonRetryable())
	if err != nil {
		var (
			timeout   *core.TimeoutError
			cancelled *core.CancelledError
		)
		if errors.As(err, &timeout) || errors.As(err, &cancelled) {
			return nil, err
		}
		return nil, &core.SignatureRejectedError{Cause: err}
	}
	if len(sig) == 0 {
		return nil, &core.SignatureRejectedError{Cause: errors.New("wallet returned an empty signature")}
	}
	return sig, nil
}

// Splice returns a copy of quote whose transaction data carries sig. quote is not modified.
func Splice(quote *core.SwapResponse, sig []byte) (*core.SwapResponse, error) {
	if !hasCalldata(quote) {
		return nil, core.ErrMissingCalldata
	}
	if len(sig) == 0 {
		return nil, &core.SignatureRejectedError{Cause: errors.New("empty signature")}
	}
	out := quote.Clone()
	out.Transaction.Data = AppendSignature(quote.Transaction.Data, sig)
	return out, nil
}

// AppendSignature returns data ‖ uint256_be(len(sig)) ‖ sig, hex encoded without separators.
func AppendSignature(data string, sig []byte) string {
	length := common.LeftPadBytes(big.NewInt(int64(len(sig))).Bytes(), SignatureLengthBytes)
	var b strings.Builder
	b.Grow(len(data) + 2*(len(length)+len(sig)))
	b.WriteString(data)
	b.WriteString(hex.EncodeToString(length))
	b.WriteString(hex.EncodeToString(sig))
	return b.String()
}

// ParseTypedData decodes an EIP-712 document as sent by the aggregator.
func ParseTypedData(raw json.RawMessage) (apitypes.TypedData, error) {
	var typed apitypes.TypedData
	if err := json.Unmarshal(raw, &typed); err != nil {
		return apitypes.TypedData{}, fmt.Errorf("decode eip712 document: %w", err)
	}
	if typed.PrimaryType == "" {
		return apitypes.TypedData{}, errors.New("eip712 document has no primaryType")
	}
	return typed, nil
}

// HashTypedData returns the EIP-712 digest that wallets sign.
func HashTypedData(raw json.RawMessage) ([]byte, error) {
	typed, err := ParseTypedData(raw)
	if err != nil {
		return nil, err
	}
	hash, _, err := apitypes.TypedDataAndHash(typed)
	if err != nil {
		return nil, fmt.Errorf("hash eip712 document: %w", err)
	}
	return hash, nil
}

func hasCalldata(quote *core.SwapResponse) bool {
	if quote == nil || quote.Transaction == nil {
		return false
	}
	data := strings.TrimSpace(quote.Transaction.Data)
	return data != "" && data != "0x"
}
