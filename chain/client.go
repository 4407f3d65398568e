// Package chain wraps the go-ethereum client for the two roles this service
// plays against the game contract: reading event logs and submitting signed
// settlement and oracle transactions.
package chain

import (
	"context"
	"crypto/ecdsa"
	"fmt"
	"log/slog"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/holiman/uint256"
)

// Config carries the connection and signing parameters for one contract
// binding.
type Config struct {
	// RPCURL is the JSON-RPC endpoint of the node.
	RPCURL string
	// ContractAddress is the deployed game contract.
	ContractAddress string
	// SignerKeyHex is the private key used to sign outbound transactions.
	// Empty means read-only: any transacting method fails.
	SignerKeyHex string
	// CallTimeout bounds every outbound RPC call.
	CallTimeout time.Duration
	// ConfirmReceipts waits for each transaction to be mined and checks
	// its receipt status before returning.
	ConfirmReceipts bool
}

// Client is the contract binding. Safe for use by a single writer; nonce
// assignment relies on the node's pending count.
type Client struct {
	eth      *ethclient.Client
	contract common.Address
	chainID  *big.Int
	key      *ecdsa.PrivateKey
	from     common.Address
	timeout  time.Duration
	confirm  bool
	log      *slog.Logger
}

// Dial connects to the node, resolves the chain id and prepares the signer.
func Dial(ctx context.Context, cfg Config, logger *slog.Logger) (*Client, error) {
	if !common.IsHexAddress(cfg.ContractAddress) {
		return nil, fmt.Errorf("chain: invalid contract address %q", cfg.ContractAddress)
	}
	eth, err := ethclient.DialContext(ctx, cfg.RPCURL)
	if err != nil {
		return nil, fmt.Errorf("chain: dial %s: %w", cfg.RPCURL, err)
	}
	chainID, err := eth.ChainID(ctx)
	if err != nil {
		eth.Close()
		return nil, fmt.Errorf("chain: resolve chain id: %w", err)
	}
	client := &Client{
		eth:      eth,
		contract: common.HexToAddress(cfg.ContractAddress),
		chainID:  chainID,
		timeout:  cfg.CallTimeout,
		confirm:  cfg.ConfirmReceipts,
		log:      logger,
	}
	if client.timeout <= 0 {
		client.timeout = 30 * time.Second
	}
	if client.log == nil {
		client.log = slog.Default()
	}
	if trimmed := strings.TrimPrefix(strings.TrimSpace(cfg.SignerKeyHex), "0x"); trimmed != "" {
		key, err := crypto.HexToECDSA(trimmed)
		if err != nil {
			eth.Close()
			return nil, fmt.Errorf("chain: parse signer key: %w", err)
		}
		client.key = key
		client.from = crypto.PubkeyToAddress(key.PublicKey)
	}
	return client, nil
}

// Close releases the RPC connection.
func (c *Client) Close() { c.eth.Close() }

// Signer reports the transacting address, or the zero address when the
// client is read-only.
func (c *Client) Signer() common.Address { return c.from }

// BlockNumber returns the node's latest block height.
func (c *Client) BlockNumber(ctx context.Context) (uint64, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	return c.eth.BlockNumber(ctx)
}

// Logs fetches the contract's logs in the closed block range [from, to].
func (c *Client) Logs(ctx context.Context, from, to uint64) ([]types.Log, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	logs, err := c.eth.FilterLogs(ctx, ethereum.FilterQuery{
		FromBlock: new(big.Int).SetUint64(from),
		ToBlock:   new(big.Int).SetUint64(to),
		Addresses: []common.Address{c.contract},
	})
	if err != nil {
		return nil, fmt.Errorf("chain: filter logs [%d,%d]: %w", from, to, err)
	}
	return logs, nil
}

// invoke packs, signs and submits one contract call and optionally waits for
// its receipt.
func (c *Client) invoke(ctx context.Context, method string, args ...any) (common.Hash, error) {
	if c.key == nil {
		return common.Hash{}, fmt.Errorf("chain: %s: no signer key configured", method)
	}
	calldata, err := ContractABI().Pack(method, args...)
	if err != nil {
		return common.Hash{}, fmt.Errorf("chain: pack %s: %w", method, err)
	}

	callCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	nonce, err := c.eth.PendingNonceAt(callCtx, c.from)
	if err != nil {
		return common.Hash{}, fmt.Errorf("chain: %s: nonce: %w", method, err)
	}
	gasPrice, err := c.eth.SuggestGasPrice(callCtx)
	if err != nil {
		return common.Hash{}, fmt.Errorf("chain: %s: gas price: %w", method, err)
	}
	gasLimit, err := c.eth.EstimateGas(callCtx, ethereum.CallMsg{
		From: c.from,
		To:   &c.contract,
		Data: calldata,
	})
	if err != nil {
		return common.Hash{}, fmt.Errorf("chain: %s: estimate gas: %w", method, err)
	}

	tx := types.NewTx(&types.LegacyTx{
		Nonce:    nonce,
		To:       &c.contract,
		Gas:      gasLimit + gasLimit/5,
		GasPrice: gasPrice,
		Data:     calldata,
	})
	signed, err := types.SignTx(tx, types.LatestSignerForChainID(c.chainID), c.key)
	if err != nil {
		return common.Hash{}, fmt.Errorf("chain: %s: sign: %w", method, err)
	}
	if err := c.eth.SendTransaction(callCtx, signed); err != nil {
		return common.Hash{}, fmt.Errorf("chain: %s: send: %w", method, err)
	}
	c.log.Info("transaction submitted", "method", method, "tx", signed.Hash().Hex(), "nonce", nonce)

	if c.confirm {
		if err := c.confirmMined(ctx, c.eth, signed); err != nil {
			return signed.Hash(), fmt.Errorf("chain: %s: %w", method, err)
		}
	}
	return signed.Hash(), nil
}

// confirmMined waits for the transaction to be mined and checks its receipt
// status. The wait carries its own deadline of a few block intervals so a
// stalled node surfaces as a handler error instead of hanging the dispatcher.
func (c *Client) confirmMined(ctx context.Context, backend bind.DeployBackend, tx *types.Transaction) error {
	waitCtx, cancel := context.WithTimeout(ctx, 4*c.timeout)
	defer cancel()
	receipt, err := bind.WaitMined(waitCtx, backend, tx)
	if err != nil {
		return fmt.Errorf("wait mined %s: %w", tx.Hash().Hex(), err)
	}
	if receipt.Status != types.ReceiptStatusSuccessful {
		return fmt.Errorf("transaction %s reverted", tx.Hash().Hex())
	}
	return nil
}

// TransferPacket settles a packet sale on chain.
func (c *Client) TransferPacket(ctx context.Context, buyer, seller common.Address, id uint32, value *big.Int) error {
	_, err := c.invoke(ctx, "transferPacket", buyer, seller, id, value)
	return err
}

// TransferPrompt settles a prompt sale on chain.
func (c *Client) TransferPrompt(ctx context.Context, buyer, seller common.Address, id uint32, value *big.Int) error {
	_, err := c.invoke(ctx, "transferPrompt", buyer, seller, id, value)
	return err
}

// TransferCard settles a card sale on chain.
func (c *Client) TransferCard(ctx context.Context, buyer, seller common.Address, id *uint256.Int, value *big.Int) error {
	_, err := c.invoke(ctx, "transferCard", buyer, seller, id.ToBig(), value)
	return err
}

// Refund returns escrowed funds to a buyer whose purchase cannot settle.
func (c *Client) Refund(ctx context.Context, buyer common.Address, value *big.Int) error {
	_, err := c.invoke(ctx, "refund", buyer, value)
	return err
}

// PromptMinted reports a published prompt document back to the contract.
func (c *Client) PromptMinted(ctx context.Context, contentCid *uint256.Int, promptID uint32, to common.Address) error {
	_, err := c.invoke(ctx, "promptMinted", contentCid.ToBig(), promptID, to)
	return err
}

// ImageMinted reports a published card image back to the contract.
func (c *Client) ImageMinted(ctx context.Context, contentCid, imageID *uint256.Int, to common.Address) error {
	_, err := c.invoke(ctx, "imageMinted", contentCid.ToBig(), imageID.ToBig(), to)
	return err
}
