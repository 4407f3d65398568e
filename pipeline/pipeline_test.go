package pipeline

import (
	"context"
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"strings"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"github.com/holiman/uint256"
	"github.com/ipfs/go-cid"
	"github.com/multiformats/go-multihash"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"metafusion/content"
	"metafusion/ids"
	"metafusion/state"
)

var creator = common.HexToAddress("0x4444444444444444444444444444444444444444")

func newTestStore(t *testing.T) *state.Store {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	if err := state.AutoMigrate(db); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return state.New(db)
}

// fakePublisher derives CIDs from the published bytes so tests can verify
// the digest reported on chain matches the published document.
type fakePublisher struct {
	published map[string][]byte
}

func (p *fakePublisher) cidFor(data []byte) cid.Cid {
	digest := sha256.Sum256(data)
	mh, _ := multihash.Encode(digest[:], multihash.SHA2_256)
	return cid.NewCidV0(mh)
}

func (p *fakePublisher) Publish(_ context.Context, name string, data []byte) (cid.Cid, error) {
	if p.published == nil {
		p.published = map[string][]byte{}
	}
	p.published[name] = data
	return p.cidFor(data), nil
}

func (p *fakePublisher) PublishJSON(ctx context.Context, name string, v any) (cid.Cid, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return cid.Undef, err
	}
	return p.Publish(ctx, name, raw)
}

type mintRecord struct {
	method   string
	digest   *uint256.Int
	promptID uint32
	imageID  *uint256.Int
	to       common.Address
}

type fakeReporter struct {
	mints []mintRecord
}

func (r *fakeReporter) PromptMinted(_ context.Context, digest *uint256.Int, promptID uint32, to common.Address) error {
	r.mints = append(r.mints, mintRecord{method: "promptMinted", digest: digest, promptID: promptID, to: to})
	return nil
}

func (r *fakeReporter) ImageMinted(_ context.Context, digest, imageID *uint256.Int, to common.Address) error {
	r.mints = append(r.mints, mintRecord{method: "imageMinted", digest: digest, imageID: imageID, to: to})
	return nil
}

type fakeGenerator struct {
	lastPrompt string
	lastSeed   uint64
}

func (g *fakeGenerator) Generate(_ context.Context, prompt string, seed uint64) ([]byte, error) {
	g.lastPrompt = prompt
	g.lastSeed = seed
	return []byte("png:" + prompt), nil
}

func TestPromptsOpenedPublishesAndReports(t *testing.T) {
	publisher := &fakePublisher{}
	reporter := &fakeReporter{}
	oracle := New(newTestStore(t), publisher, reporter, &fakeGenerator{}, nil)

	prompts := []uint32{
		ids.EncodePromptID(0, 5, 0, 1),
		ids.EncodePromptID(1, 5, 3, 1),
	}
	if err := oracle.PromptsOpened(context.Background(), creator, prompts); err != nil {
		t.Fatalf("prompts opened: %v", err)
	}

	if len(reporter.mints) != len(prompts) {
		t.Fatalf("mints = %d, want %d", len(reporter.mints), len(prompts))
	}
	for i, mint := range reporter.mints {
		if mint.method != "promptMinted" || mint.promptID != prompts[i] || mint.to != creator {
			t.Fatalf("mint %d: %+v", i, mint)
		}
		doc := publisher.published[fmt.Sprintf("prompt-%d.json", prompts[i])]
		if doc == nil {
			t.Fatalf("prompt %d document not published", prompts[i])
		}
		wantDigest, err := content.CIDToUint256(publisher.cidFor(doc))
		if err != nil {
			t.Fatalf("digest: %v", err)
		}
		if !mint.digest.Eq(wantDigest) {
			t.Fatalf("mint %d digest does not match published document", i)
		}
	}
}

func TestImageRequestedBuildsPromptFromReplica(t *testing.T) {
	store := newTestStore(t)
	publisher := &fakePublisher{}
	reporter := &fakeReporter{}
	generator := &fakeGenerator{}
	oracle := New(store, publisher, reporter, generator, nil)
	ctx := context.Background()

	characterID := ids.EncodePromptID(0, 5, 0, 1)
	styleID := ids.EncodePromptID(1, 5, 5, 1)
	for id, name := range map[uint32]string{characterID: "cat", styleID: "samurai"} {
		if err := store.PutPrompt(ctx, &state.Prompt{ID: id, Owner: "0xaaaa", Name: name}); err != nil {
			t.Fatalf("seed prompt: %v", err)
		}
	}

	var slots [ids.ImagePromptSlots]uint32
	slots[0] = characterID
	slots[1] = styleID
	imageID := ids.EncodeImageID(777, slots)

	if err := oracle.ImageRequested(ctx, creator, imageID); err != nil {
		t.Fatalf("image requested: %v", err)
	}

	if generator.lastSeed != 777 {
		t.Fatalf("seed = %d, want 777", generator.lastSeed)
	}
	if !strings.HasPrefix(generator.lastPrompt, "a cat") || !strings.Contains(generator.lastPrompt, "samurai style") {
		t.Fatalf("prompt = %q", generator.lastPrompt)
	}

	if len(reporter.mints) != 1 {
		t.Fatalf("mints = %d, want 1", len(reporter.mints))
	}
	mint := reporter.mints[0]
	if mint.method != "imageMinted" || !mint.imageID.Eq(imageID) || mint.to != creator {
		t.Fatalf("mint %+v", mint)
	}
}

func TestImageRequestedFailsOnMissingConstituent(t *testing.T) {
	oracle := New(newTestStore(t), &fakePublisher{}, &fakeReporter{}, &fakeGenerator{}, nil)

	var slots [ids.ImagePromptSlots]uint32
	slots[0] = ids.EncodePromptID(0, 5, 0, 1)
	if err := oracle.ImageRequested(context.Background(), creator, ids.EncodeImageID(1, slots)); err == nil {
		t.Fatal("expected error when constituent prompt is missing")
	}
}
