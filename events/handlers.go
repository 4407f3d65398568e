package events

import (
	"context"
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"metafusion/content"
	"metafusion/ids"
	"metafusion/state"
)

// Handle registers the freshly forged packet under its minter.
func (e *PacketForged) Handle(ctx context.Context, env *Env) error {
	return env.Store.PutPacket(ctx, &state.Packet{ID: e.PacketID, Owner: addr(e.Minter)})
}

// Handle burns the source packet and registers each forged prompt under the
// opener. When this instance carries the oracle role it also kicks off
// prompt generation.
func (e *PacketOpened) Handle(ctx context.Context, env *Env) error {
	if len(e.Prompts) == 0 {
		return nil
	}
	packetID := ids.PromptPacketID(e.Prompts[0])
	if err := env.Store.DeletePacket(ctx, packetID, addr(e.Opener)); err != nil {
		if !errors.Is(err, state.ErrGuardMiss) {
			return err
		}
		// The packet may have been opened by a previous run of the
		// same block range, or never replicated at all.
		env.logger().Warn("opened packet not in replica", "event", e.Name(), "packet", packetID, "opener", addr(e.Opener))
	}
	for _, promptID := range e.Prompts {
		if err := env.Store.PutPrompt(ctx, &state.Prompt{ID: promptID, Owner: addr(e.Opener)}); err != nil {
			return err
		}
	}
	if env.Pipeline != nil {
		return env.Pipeline.PromptsOpened(ctx, e.Opener, e.Prompts)
	}
	return nil
}

type promptDocument struct {
	Name   string `json:"name"`
	ID     uint32 `json:"id"`
	Rarity uint8  `json:"rarity"`
}

// Handle attaches the published document to the prompt. The display name is
// resolved from the document itself; a fetch failure degrades to an unnamed
// prompt rather than blocking replication.
func (e *PromptContentPublished) Handle(ctx context.Context, env *Env) error {
	docCID, err := content.Uint256ToCID(asUint256(e.ContentCid))
	if err != nil {
		return fmt.Errorf("prompt %d content reference: %w", e.PromptID, err)
	}
	var name string
	if env.Content != nil {
		var doc promptDocument
		if err := env.Content.FetchJSON(ctx, docCID, &doc); err != nil {
			env.logger().Warn("prompt document unavailable", "event", e.Name(), "prompt", e.PromptID, "cid", docCID.String(), "error", err)
		} else {
			name = doc.Name
		}
	}
	err = env.Store.SetPromptContent(ctx, e.PromptID, docCID.String(), name, e.Rarity)
	if errors.Is(err, state.ErrNotFound) {
		// Content can outrun replication when resyncing from an old
		// watermark. Create the prompt from what the event carries.
		return env.Store.PutPrompt(ctx, &state.Prompt{
			ID:         e.PromptID,
			Owner:      addr(e.To),
			Name:       name,
			Rarity:     e.Rarity,
			ContentCID: docCID.String(),
		})
	}
	return err
}

// Handle registers the pending card and freezes its constituent prompts.
// Freezing overrides any active listing. With the oracle role enabled it
// also kicks off image generation.
func (e *ImageRequested) Handle(ctx context.Context, env *Env) error {
	imageID := asUint256(e.ImageID)
	if err := env.Store.PutImage(ctx, &state.Image{
		ID:    state.ImageIDHex(imageID),
		Owner: addr(e.Creator),
	}); err != nil {
		return err
	}
	for _, promptID := range ids.ImagePrompts(imageID) {
		if err := env.Store.FreezePrompt(ctx, promptID); err != nil {
			if !errors.Is(err, state.ErrNotFound) {
				return err
			}
			env.logger().Warn("constituent prompt not in replica", "event", e.Name(), "prompt", promptID)
		}
	}
	if env.Pipeline != nil {
		return env.Pipeline.ImageRequested(ctx, e.Creator, imageID)
	}
	return nil
}

// Handle attaches the published image to the card.
func (e *ImageContentPublished) Handle(ctx context.Context, env *Env) error {
	imageID := state.ImageIDHex(asUint256(e.ImageID))
	imgCID, err := content.Uint256ToCID(asUint256(e.ContentCid))
	if err != nil {
		return fmt.Errorf("image %s content reference: %w", imageID, err)
	}
	err = env.Store.SetImageContent(ctx, imageID, imgCID.String())
	if errors.Is(err, state.ErrNotFound) {
		return env.Store.PutImage(ctx, &state.Image{
			ID:         imageID,
			Owner:      addr(e.Creator),
			ContentCID: imgCID.String(),
		})
	}
	return err
}

// Handle removes the burned card and releases its prompts.
func (e *ImageDestroyed) Handle(ctx context.Context, env *Env) error {
	imageID := state.ImageIDHex(asUint256(e.ImageID))
	err := env.Store.DestroyImage(ctx, imageID, addr(e.Owner))
	if errors.Is(err, state.ErrNotFound) || errors.Is(err, state.ErrGuardMiss) {
		env.logger().Warn("destroyed card not in replica", "event", e.Name(), "image", imageID)
		return nil
	}
	return err
}

// Handle applies a settled packet sale to the replica.
func (e *PacketTransferred) Handle(ctx context.Context, env *Env) error {
	err := env.Store.TransferPacket(ctx, e.PacketID, addr(e.Seller), addr(e.Buyer))
	if errors.Is(err, state.ErrNotFound) {
		env.logger().Warn("transferred packet not in replica", "event", e.Name(), "packet", e.PacketID)
		return nil
	}
	return err
}

// Handle applies a settled prompt sale to the replica.
func (e *PromptTransferred) Handle(ctx context.Context, env *Env) error {
	err := env.Store.TransferPrompt(ctx, e.PromptID, addr(e.Seller), addr(e.Buyer))
	if errors.Is(err, state.ErrNotFound) {
		env.logger().Warn("transferred prompt not in replica", "event", e.Name(), "prompt", e.PromptID)
		return nil
	}
	return err
}

// Handle applies a settled card sale to the replica.
func (e *CardTransferred) Handle(ctx context.Context, env *Env) error {
	imageID := state.ImageIDHex(asUint256(e.ImageID))
	err := env.Store.TransferImage(ctx, imageID, addr(e.Seller), addr(e.Buyer))
	if errors.Is(err, state.ErrNotFound) {
		env.logger().Warn("transferred card not in replica", "event", e.Name(), "image", imageID)
		return nil
	}
	return err
}

func applyListing(env *Env, name string, listed bool, err error) error {
	if errors.Is(err, state.ErrGuardMiss) {
		// Either the claimed owner is stale or the entity is frozen or
		// missing. The chain already validated the caller, so this only
		// happens on replay gaps; skip without failing the block.
		env.logger().Warn("listing update skipped", "event", name, "listed", listed)
		return nil
	}
	return err
}

// Handle toggles the packet listing, guarded by the claimed owner.
func (e *UpdateListingPacket) Handle(ctx context.Context, env *Env) error {
	if e.IsListed {
		return applyListing(env, e.Name(), true, env.Store.ListPacket(ctx, e.PacketID, e.Price.String(), addr(e.TokenOwner)))
	}
	return applyListing(env, e.Name(), false, env.Store.UnlistPacket(ctx, e.PacketID, addr(e.TokenOwner)))
}

// Handle toggles the prompt listing, guarded by the claimed owner and the
// frozen flag.
func (e *UpdateListingPrompt) Handle(ctx context.Context, env *Env) error {
	if e.IsListed {
		return applyListing(env, e.Name(), true, env.Store.ListPrompt(ctx, e.PromptID, e.Price.String(), addr(e.TokenOwner)))
	}
	return applyListing(env, e.Name(), false, env.Store.UnlistPrompt(ctx, e.PromptID, addr(e.TokenOwner)))
}

// Handle toggles the card listing, guarded by the claimed owner.
func (e *UpdateListingImage) Handle(ctx context.Context, env *Env) error {
	imageID := state.ImageIDHex(asUint256(e.ImageID))
	if e.IsListed {
		return applyListing(env, e.Name(), true, env.Store.ListImage(ctx, imageID, e.Price.String(), addr(e.TokenOwner)))
	}
	return applyListing(env, e.Name(), false, env.Store.UnlistImage(ctx, imageID, addr(e.TokenOwner)))
}

// listingView is the slice of replica state settlement decisions read.
type listingView struct {
	found  bool
	listed bool
	owner  string
	price  string
}

// settle decides a purchase offer: either exactly one transfer at the stored
// price or exactly one refund of the escrowed value. The decision reads only
// the replica; the chain re-validates the transfer when the signed call
// lands.
func settle(ctx context.Context, env *Env, kind string, view listingView, buyer, seller common.Address, value *big.Int, transfer func(price *big.Int) error) error {
	log := env.logger().With("kind", kind, "buyer", addr(buyer), "seller", addr(seller), "value", value.String())

	refund := func(outcome string) error {
		log.Warn("refunding offer", "outcome", outcome)
		if err := env.Market.Refund(ctx, buyer, value); err != nil {
			env.Metrics.RecordSettlement(kind, "refund_failed")
			return fmt.Errorf("refund %s to %s: %w", value, addr(buyer), err)
		}
		env.Metrics.RecordSettlement(kind, outcome)
		return nil
	}

	if !view.found {
		return refund("refunded_missing")
	}
	if view.owner != addr(seller) {
		// Listing is stale: the entity changed hands after the buyer
		// submitted the offer.
		return refund("refunded_stale")
	}
	if !view.listed {
		return refund("refunded_unlisted")
	}
	price, ok := new(big.Int).SetString(view.price, 10)
	if !ok {
		return fmt.Errorf("stored price %q is not a decimal integer", view.price)
	}
	if value.Cmp(price) < 0 {
		return refund("refunded_underpaid")
	}
	if err := transfer(price); err != nil {
		env.Metrics.RecordSettlement(kind, "transfer_failed")
		return fmt.Errorf("settle transfer: %w", err)
	}
	log.Info("offer settled", "price", price.String())
	env.Metrics.RecordSettlement(kind, "settled")
	return nil
}

// Handle settles an escrowed packet offer with a transfer or a refund.
func (e *WillToBuyPacket) Handle(ctx context.Context, env *Env) error {
	view := listingView{}
	if p, err := env.Store.GetPacket(ctx, e.PacketID); err == nil {
		view = listingView{found: true, listed: p.Listed, owner: p.Owner, price: p.Price}
	} else if !errors.Is(err, state.ErrNotFound) {
		return err
	}
	return settle(ctx, env, string(state.KindPacket), view, e.Buyer, e.Seller, e.Value, func(price *big.Int) error {
		return env.Market.TransferPacket(ctx, e.Buyer, e.Seller, e.PacketID, price)
	})
}

// Handle settles an escrowed prompt offer with a transfer or a refund.
func (e *WillToBuyPrompt) Handle(ctx context.Context, env *Env) error {
	view := listingView{}
	if p, err := env.Store.GetPrompt(ctx, e.PromptID); err == nil {
		view = listingView{found: true, listed: p.Listed, owner: p.Owner, price: p.Price}
	} else if !errors.Is(err, state.ErrNotFound) {
		return err
	}
	return settle(ctx, env, string(state.KindPrompt), view, e.Buyer, e.Seller, e.Value, func(price *big.Int) error {
		return env.Market.TransferPrompt(ctx, e.Buyer, e.Seller, e.PromptID, price)
	})
}

// Handle settles an escrowed card offer with a transfer or a refund.
func (e *WillToBuyImage) Handle(ctx context.Context, env *Env) error {
	imageID := asUint256(e.ImageID)
	view := listingView{}
	if img, err := env.Store.GetImage(ctx, state.ImageIDHex(imageID)); err == nil {
		view = listingView{found: true, listed: img.Listed, owner: img.Owner, price: img.Price}
	} else if !errors.Is(err, state.ErrNotFound) {
		return err
	}
	return settle(ctx, env, string(state.KindImage), view, e.Buyer, e.Seller, e.Value, func(price *big.Int) error {
		return env.Market.TransferCard(ctx, e.Buyer, e.Seller, imageID, price)
	})
}
