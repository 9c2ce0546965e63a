package wallet

import (
	"context"
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	"github.com/swapgate/swapgate/internal/core"
)

// ReceiptWatcher looks up transaction receipts over RPC.
type ReceiptWatcher struct {
	Backend Backend
}

// Receipt returns core.ErrReceiptPending until the transaction is mined.
func (r *ReceiptWatcher) Receipt(ctx context.Context, txHash string) (*core.Receipt, error) {
	if r == nil || r.Backend == nil {
		return nil, errors.New("receipt watcher has no rpc backend")
	}
	receipt, err := r.Backend.TransactionReceipt(ctx, common.HexToHash(txHash))
	if err != nil {
		if errors.Is(err, ethereum.NotFound) {
			return nil, core.ErrReceiptPending
		}
		return nil, fmt.Errorf("get receipt: %w", err)
	}

	out := &core.Receipt{
		TxHash:  receipt.TxHash.Hex(),
		Success: receipt.Status == types.ReceiptStatusSuccessful,
		GasUsed: receipt.GasUsed,
	}
	if receipt.BlockNumber != nil {
		out.BlockNumber = receipt.BlockNumber.Uint64()
	}
	return out, nil
}
