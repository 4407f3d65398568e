package tracker

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"math/big"
	"strings"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"github.com/holiman/uint256"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"metafusion/chain"
	"metafusion/events"
	"metafusion/ids"
	"metafusion/state"
)

var minter = common.HexToAddress("0x5555555555555555555555555555555555555555")

type fakeSource struct {
	head    uint64
	logs    []types.Log
	queries [][2]uint64
}

func (f *fakeSource) BlockNumber(context.Context) (uint64, error) {
	return f.head, nil
}

func (f *fakeSource) Logs(_ context.Context, from, to uint64) ([]types.Log, error) {
	f.queries = append(f.queries, [2]uint64{from, to})
	var out []types.Log
	for _, lg := range f.logs {
		if lg.BlockNumber >= from && lg.BlockNumber <= to {
			out = append(out, lg)
		}
	}
	return out, nil
}

type failingMarket struct {
	refunds int
}

func (m *failingMarket) TransferPacket(context.Context, common.Address, common.Address, uint32, *big.Int) error {
	return nil
}

func (m *failingMarket) TransferPrompt(context.Context, common.Address, common.Address, uint32, *big.Int) error {
	return nil
}

func (m *failingMarket) TransferCard(context.Context, common.Address, common.Address, *uint256.Int, *big.Int) error {
	return nil
}

func (m *failingMarket) Refund(context.Context, common.Address, *big.Int) error {
	m.refunds++
	return fmt.Errorf("node unavailable")
}

func newEnv(t *testing.T) *events.Env {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	if err := state.AutoMigrate(db); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return &events.Env{Store: state.New(db), Market: &failingMarket{}}
}

func contractLog(t *testing.T, block uint64, name string, args ...any) types.Log {
	t.Helper()
	def, ok := chain.ContractABI().Events[name]
	if !ok {
		t.Fatalf("no such event %q", name)
	}
	data, err := def.Inputs.Pack(args...)
	if err != nil {
		t.Fatalf("pack %s: %v", name, err)
	}
	return types.Log{
		Topics:      []common.Hash{def.ID},
		Data:        data,
		BlockNumber: block,
	}
}

func TestPollAppliesConfirmedLogs(t *testing.T) {
	env := newEnv(t)
	packetID := ids.EncodePacketID(2, 1)
	source := &fakeSource{
		head: 10,
		logs: []types.Log{
			contractLog(t, 4, "PacketForged", minter, packetID),
			contractLog(t, 6, "UpdateListingPacket", packetID, true, big.NewInt(40), minter),
		},
	}
	d := NewDispatcher(source, env, Options{StartBlock: 0, Confirmations: 2, PollInterval: time.Millisecond})

	if err := d.drain(context.Background()); err != nil {
		t.Fatalf("drain: %v", err)
	}

	p, err := env.Store.GetPacket(context.Background(), packetID)
	if err != nil {
		t.Fatalf("get packet: %v", err)
	}
	if !p.Listed || p.Price != "40" {
		t.Fatalf("packet after replay: %+v", p)
	}
	// Confirmed head is 8, so the next scan starts at 9.
	if d.Next() != 9 {
		t.Fatalf("watermark = %d, want 9", d.Next())
	}
	if len(source.queries) == 0 || source.queries[len(source.queries)-1][1] != 8 {
		t.Fatalf("queries = %v, want last range to stop at confirmed head 8", source.queries)
	}
}

func TestPollHoldsBackUnconfirmedHead(t *testing.T) {
	env := newEnv(t)
	source := &fakeSource{head: 3}
	d := NewDispatcher(source, env, Options{Confirmations: 6})

	caughtUp, err := d.poll(context.Background())
	if err != nil {
		t.Fatalf("poll: %v", err)
	}
	if !caughtUp {
		t.Fatal("expected caught-up with head below confirmation depth")
	}
	if len(source.queries) != 0 {
		t.Fatalf("unexpected log queries %v", source.queries)
	}
}

func TestDrainSplitsIntoBatches(t *testing.T) {
	env := newEnv(t)
	source := &fakeSource{head: 100}
	d := NewDispatcher(source, env, Options{StartBlock: 0, BatchSize: 30})

	if err := d.drain(context.Background()); err != nil {
		t.Fatalf("drain: %v", err)
	}
	want := [][2]uint64{{0, 29}, {30, 59}, {60, 89}, {90, 100}}
	if len(source.queries) != len(want) {
		t.Fatalf("queries = %v, want %v", source.queries, want)
	}
	for i, q := range want {
		if source.queries[i] != q {
			t.Fatalf("query %d = %v, want %v", i, source.queries[i], q)
		}
	}
	if d.Next() != 101 {
		t.Fatalf("watermark = %d, want 101", d.Next())
	}
}

func TestFailingEventDoesNotStallReplication(t *testing.T) {
	env := newEnv(t)
	ctx := context.Background()
	seller := state.NormalizeOwner(minter.Hex())

	// An unlisted prompt forces the settlement path into a refund, and the
	// failing market makes that refund error.
	promptID := ids.EncodePromptID(1, 1, 1, 2)
	if err := env.Store.PutPrompt(ctx, &state.Prompt{ID: promptID, Owner: seller}); err != nil {
		t.Fatalf("seed prompt: %v", err)
	}
	packetID := ids.EncodePacketID(2, 9)
	source := &fakeSource{
		head: 5,
		logs: []types.Log{
			contractLog(t, 1, "WillToBuyPrompt", minter, minter, promptID, big.NewInt(5)),
			contractLog(t, 2, "PacketForged", minter, packetID),
		},
	}
	d := NewDispatcher(source, env, Options{})

	if err := d.drain(ctx); err != nil {
		t.Fatalf("drain: %v", err)
	}
	if _, err := env.Store.GetPacket(ctx, packetID); err != nil {
		t.Fatalf("event after failing handler was not applied: %v", err)
	}
	if d.Next() != 6 {
		t.Fatalf("watermark = %d, want 6", d.Next())
	}
}

func TestUnknownLogsAreLoggedAndSkipped(t *testing.T) {
	env := newEnv(t)
	var logged bytes.Buffer
	env.Log = slog.New(slog.NewTextHandler(&logged, &slog.HandlerOptions{Level: slog.LevelWarn}))
	source := &fakeSource{
		head: 2,
		logs: []types.Log{
			{Topics: []common.Hash{common.HexToHash("0xabcdef")}, BlockNumber: 1},
		},
	}
	d := NewDispatcher(source, env, Options{})
	if err := d.drain(context.Background()); err != nil {
		t.Fatalf("drain: %v", err)
	}
	if d.Next() != 3 {
		t.Fatalf("watermark = %d, want 3", d.Next())
	}
	if !strings.Contains(logged.String(), "unknown event skipped") {
		t.Fatalf("unknown topic was dropped without a log line: %q", logged.String())
	}
}
