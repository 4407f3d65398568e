// Package pipeline is the oracle role: it answers mint requests by
// generating content, publishing it to IPFS and reporting the resulting
// references back to the contract. Only one instance per contract should
// carry this role.
package pipeline

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/ipfs/go-cid"

	"metafusion/content"
	"metafusion/ids"
	"metafusion/state"
	"metafusion/wordgen"
)

// Reporter is the transacting surface the oracle uses to publish mint
// results. Implemented by chain.Client.
type Reporter interface {
	PromptMinted(ctx context.Context, contentCid *uint256.Int, promptID uint32, to common.Address) error
	ImageMinted(ctx context.Context, contentCid, imageID *uint256.Int, to common.Address) error
}

// Publisher is the content-store surface the oracle writes through.
// Implemented by content.Client.
type Publisher interface {
	Publish(ctx context.Context, name string, data []byte) (cid.Cid, error)
	PublishJSON(ctx context.Context, name string, v any) (cid.Cid, error)
}

// Generator renders an image for a text prompt and seed.
type Generator interface {
	Generate(ctx context.Context, prompt string, seed uint64) ([]byte, error)
}

// Oracle reacts to PacketOpened and ImageRequested events.
type Oracle struct {
	store     *state.Store
	publisher Publisher
	reporter  Reporter
	words     *wordgen.Extractor
	generator Generator
	log       *slog.Logger
}

// New assembles the oracle role.
func New(store *state.Store, publisher Publisher, reporter Reporter, generator Generator, logger *slog.Logger) *Oracle {
	if logger == nil {
		logger = slog.Default()
	}
	return &Oracle{
		store:     store,
		publisher: publisher,
		reporter:  reporter,
		words:     wordgen.NewExtractor(),
		generator: generator,
		log:       logger,
	}
}

// promptDocument is the JSON document published to IPFS for each prompt.
type promptDocument struct {
	Name       string `json:"name"`
	ID         uint32 `json:"id"`
	Collection uint32 `json:"collection"`
	Type       uint32 `json:"type"`
	Rarity     uint8  `json:"rarity"`
}

// PromptsOpened draws a word for every prompt in the opened packet,
// publishes its document and reports the content reference on chain. A
// failing prompt aborts the batch so the dispatcher retries the event whole;
// the contract ignores duplicate promptMinted calls.
func (o *Oracle) PromptsOpened(ctx context.Context, opener common.Address, prompts []uint32) error {
	for _, promptID := range prompts {
		_, collection, typ, _ := ids.DecodePromptID(promptID)
		name, rarity, err := o.words.Draw(collection, typ, promptID)
		if err != nil {
			return fmt.Errorf("pipeline: draw prompt %d: %w", promptID, err)
		}
		doc := promptDocument{
			Name:       name,
			ID:         promptID,
			Collection: collection,
			Type:       typ,
			Rarity:     rarity,
		}
		docCID, err := o.publisher.PublishJSON(ctx, fmt.Sprintf("prompt-%d.json", promptID), doc)
		if err != nil {
			return fmt.Errorf("pipeline: publish prompt %d: %w", promptID, err)
		}
		digest, err := content.CIDToUint256(docCID)
		if err != nil {
			return fmt.Errorf("pipeline: prompt %d cid: %w", promptID, err)
		}
		if err := o.reporter.PromptMinted(ctx, digest, promptID, opener); err != nil {
			return fmt.Errorf("pipeline: report prompt %d: %w", promptID, err)
		}
		o.log.Info("prompt minted", "prompt", promptID, "name", name, "rarity", rarity, "cid", docCID.String())
	}
	return nil
}

// ImageRequested assembles the text prompt from the card's constituent
// prompts, renders the image, publishes it and reports the content
// reference on chain. Prompt names come from the replica, so the tracker
// must have applied the constituent PromptContentPublished events first.
func (o *Oracle) ImageRequested(ctx context.Context, creator common.Address, imageID *uint256.Int) error {
	seed, _ := ids.DecodeImageID(imageID)

	builder := wordgen.NewPromptBuilder()
	for _, promptID := range ids.ImagePrompts(imageID) {
		prompt, err := o.store.GetPrompt(ctx, promptID)
		if err != nil {
			return fmt.Errorf("pipeline: constituent prompt %d: %w", promptID, err)
		}
		_, _, typ, _ := ids.DecodePromptID(promptID)
		builder.Trait(typ, prompt.Name)
	}
	text := builder.Build()

	rendered, err := o.generator.Generate(ctx, text, seed)
	if err != nil {
		return fmt.Errorf("pipeline: generate image: %w", err)
	}
	imageHex := state.ImageIDHex(imageID)
	imgCID, err := o.publisher.Publish(ctx, imageHex+".png", rendered)
	if err != nil {
		return fmt.Errorf("pipeline: publish image %s: %w", imageHex, err)
	}
	digest, err := content.CIDToUint256(imgCID)
	if err != nil {
		return fmt.Errorf("pipeline: image %s cid: %w", imageHex, err)
	}
	if err := o.reporter.ImageMinted(ctx, digest, imageID, creator); err != nil {
		return fmt.Errorf("pipeline: report image %s: %w", imageHex, err)
	}
	o.log.Info("image minted", "image", imageHex, "prompt", text, "cid", imgCID.String())
	return nil
}
