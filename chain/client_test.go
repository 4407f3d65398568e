package chain

import (
	"context"
	"errors"
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

// pendingBackend never reports a receipt, like a node that stopped mining.
type pendingBackend struct{}

func (pendingBackend) TransactionReceipt(context.Context, common.Hash) (*types.Receipt, error) {
	return nil, ethereum.NotFound
}

func (pendingBackend) CodeAt(context.Context, common.Address, *big.Int) ([]byte, error) {
	return []byte{0x01}, nil
}

func TestConfirmMinedIsBounded(t *testing.T) {
	c := &Client{timeout: 10 * time.Millisecond}
	tx := types.NewTx(&types.LegacyTx{})

	start := time.Now()
	err := c.confirmMined(context.Background(), pendingBackend{}, tx)
	if err == nil {
		t.Fatal("expected error waiting on a never-mined transaction")
	}
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("err = %v, want deadline exceeded", err)
	}
	if elapsed := time.Since(start); elapsed > 2*time.Second {
		t.Fatalf("confirmation wait not bounded: %v", elapsed)
	}
}
