// Package events defines the closed set of contract events the tracker
// consumes and the handler for each one. Handlers are written to tolerate
// redelivery: the dispatcher may replay a block range after a restart, and
// every handler must leave the replica correct when it sees the same event
// twice.
package events

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/holiman/uint256"
	"github.com/ipfs/go-cid"

	"metafusion/chain"
	"metafusion/observability"
	"metafusion/state"
)

// ErrUnknownEvent marks a log whose topic does not belong to the consumed
// event set. The dispatcher logs the topic and skips the log.
var ErrUnknownEvent = errors.New("events: unknown event")

// Marketplace is the transacting surface the settlement handlers need.
// Implemented by chain.Client; tests substitute a recorder.
type Marketplace interface {
	TransferPacket(ctx context.Context, buyer, seller common.Address, id uint32, value *big.Int) error
	TransferPrompt(ctx context.Context, buyer, seller common.Address, id uint32, value *big.Int) error
	TransferCard(ctx context.Context, buyer, seller common.Address, id *uint256.Int, value *big.Int) error
	Refund(ctx context.Context, buyer common.Address, value *big.Int) error
}

// ContentStore resolves published documents. Implemented by content.Client.
type ContentStore interface {
	FetchJSON(ctx context.Context, id cid.Cid, v any) error
}

// Pipeline is the optional oracle role: it reacts to mint requests by
// generating and publishing content. Nil when this instance only replicates.
type Pipeline interface {
	PromptsOpened(ctx context.Context, opener common.Address, prompts []uint32) error
	ImageRequested(ctx context.Context, creator common.Address, imageID *uint256.Int) error
}

// Env carries the dependencies handlers run against.
type Env struct {
	Store    *state.Store
	Market   Marketplace
	Content  ContentStore
	Pipeline Pipeline
	Log      *slog.Logger
	Metrics  *observability.TrackerMetrics
}

func (e *Env) logger() *slog.Logger {
	if e.Log != nil {
		return e.Log
	}
	return slog.Default()
}

// Event is one decoded contract event. Handle applies it to the replica and
// performs any chain side effects it demands.
type Event interface {
	Name() string
	Handle(ctx context.Context, env *Env) error
}

// PacketForged announces a freshly minted packet.
type PacketForged struct {
	Minter   common.Address
	PacketID uint32 `abi:"packetId"`
}

// PacketOpened announces a packet burned into its prompts.
type PacketOpened struct {
	Opener  common.Address
	Prompts []uint32
}

// PromptContentPublished attaches the generated document to a prompt.
type PromptContentPublished struct {
	To         common.Address
	PromptID   uint32   `abi:"promptId"`
	ContentCid *big.Int `abi:"contentCid"`
	Rarity     uint8
}

// ImageRequested announces a card mint awaiting generated content.
type ImageRequested struct {
	Creator common.Address
	ImageID *big.Int `abi:"imageId"`
}

// ImageContentPublished attaches the generated image to a card.
type ImageContentPublished struct {
	Creator    common.Address
	ImageID    *big.Int `abi:"imageId"`
	ContentCid *big.Int `abi:"contentCid"`
}

// ImageDestroyed announces a card burned back into its prompts.
type ImageDestroyed struct {
	ImageID *big.Int `abi:"imageId"`
	Owner   common.Address
}

// PacketTransferred records a settled packet sale.
type PacketTransferred struct {
	Buyer    common.Address
	Seller   common.Address
	PacketID uint32 `abi:"packetId"`
	Value    *big.Int
}

// PromptTransferred records a settled prompt sale.
type PromptTransferred struct {
	Buyer    common.Address
	Seller   common.Address
	PromptID uint32 `abi:"promptId"`
	Value    *big.Int
}

// CardTransferred records a settled card sale.
type CardTransferred struct {
	Buyer   common.Address
	Seller  common.Address
	ImageID *big.Int `abi:"imageId"`
	Value   *big.Int
}

// UpdateListingPacket toggles a packet's marketplace listing.
type UpdateListingPacket struct {
	PacketID   uint32 `abi:"packetId"`
	IsListed   bool   `abi:"isListed"`
	Price      *big.Int
	TokenOwner common.Address `abi:"tokenOwner"`
}

// UpdateListingPrompt toggles a prompt's marketplace listing.
type UpdateListingPrompt struct {
	PromptID   uint32 `abi:"promptId"`
	IsListed   bool   `abi:"isListed"`
	Price      *big.Int
	TokenOwner common.Address `abi:"tokenOwner"`
}

// UpdateListingImage toggles a card's marketplace listing.
type UpdateListingImage struct {
	ImageID    *big.Int `abi:"imageId"`
	IsListed   bool     `abi:"isListed"`
	Price      *big.Int
	TokenOwner common.Address `abi:"tokenOwner"`
}

// WillToBuyPacket is a buyer's escrowed offer for a packet.
type WillToBuyPacket struct {
	Buyer    common.Address
	Seller   common.Address
	PacketID uint32 `abi:"packetId"`
	Value    *big.Int
}

// WillToBuyPrompt is a buyer's escrowed offer for a prompt.
type WillToBuyPrompt struct {
	Buyer    common.Address
	Seller   common.Address
	PromptID uint32 `abi:"promptId"`
	Value    *big.Int
}

// WillToBuyImage is a buyer's escrowed offer for a card.
type WillToBuyImage struct {
	Buyer   common.Address
	Seller  common.Address
	ImageID *big.Int `abi:"imageId"`
	Value   *big.Int
}

func (*PacketForged) Name() string           { return "PacketForged" }
func (*PacketOpened) Name() string           { return "PacketOpened" }
func (*PromptContentPublished) Name() string { return "PromptContentPublished" }
func (*ImageRequested) Name() string         { return "ImageRequested" }
func (*ImageContentPublished) Name() string  { return "ImageContentPublished" }
func (*ImageDestroyed) Name() string         { return "ImageDestroyed" }
func (*PacketTransferred) Name() string      { return "PacketTransferred" }
func (*PromptTransferred) Name() string      { return "PromptTransferred" }
func (*CardTransferred) Name() string        { return "CardTransferred" }
func (*UpdateListingPacket) Name() string    { return "UpdateListingPacket" }
func (*UpdateListingPrompt) Name() string    { return "UpdateListingPrompt" }
func (*UpdateListingImage) Name() string     { return "UpdateListingImage" }
func (*WillToBuyPacket) Name() string        { return "WillToBuyPacket" }
func (*WillToBuyPrompt) Name() string        { return "WillToBuyPrompt" }
func (*WillToBuyImage) Name() string         { return "WillToBuyImage" }

// Decode maps a raw log to its typed event. Logs from other contracts or
// newer contract versions yield ErrUnknownEvent.
func Decode(lg types.Log) (Event, error) {
	if len(lg.Topics) == 0 {
		return nil, ErrUnknownEvent
	}
	contractABI := chain.ContractABI()
	def, err := contractABI.EventByID(lg.Topics[0])
	if err != nil {
		return nil, fmt.Errorf("%w: topic %s", ErrUnknownEvent, lg.Topics[0].Hex())
	}

	var ev Event
	switch def.Name {
	case "PacketForged":
		ev = new(PacketForged)
	case "PacketOpened":
		ev = new(PacketOpened)
	case "PromptContentPublished":
		ev = new(PromptContentPublished)
	case "ImageRequested":
		ev = new(ImageRequested)
	case "ImageContentPublished":
		ev = new(ImageContentPublished)
	case "ImageDestroyed":
		ev = new(ImageDestroyed)
	case "PacketTransferred":
		ev = new(PacketTransferred)
	case "PromptTransferred":
		ev = new(PromptTransferred)
	case "CardTransferred":
		ev = new(CardTransferred)
	case "UpdateListingPacket":
		ev = new(UpdateListingPacket)
	case "UpdateListingPrompt":
		ev = new(UpdateListingPrompt)
	case "UpdateListingImage":
		ev = new(UpdateListingImage)
	case "WillToBuyPacket":
		ev = new(WillToBuyPacket)
	case "WillToBuyPrompt":
		ev = new(WillToBuyPrompt)
	case "WillToBuyImage":
		ev = new(WillToBuyImage)
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnknownEvent, def.Name)
	}
	if err := contractABI.UnpackIntoInterface(ev, def.Name, lg.Data); err != nil {
		return nil, fmt.Errorf("events: decode %s: %w", def.Name, err)
	}
	return ev, nil
}

func addr(a common.Address) string {
	return state.NormalizeOwner(a.Hex())
}

func asUint256(v *big.Int) *uint256.Int {
	out, _ := uint256.FromBig(v)
	return out
}
