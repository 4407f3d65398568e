package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"metafusion/ids"
	"metafusion/state"
)

const ownerA = "0xaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa"

func newTestServer(t *testing.T) (*Server, *state.Store) {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	if err := state.AutoMigrate(db); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	store := state.New(db)
	return NewServer(store, nil), store
}

func doRequest(t *testing.T, srv *Server, method, target string, body []byte) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body != nil {
		req = httptest.NewRequest(method, target, bytes.NewReader(body))
	} else {
		req = httptest.NewRequest(method, target, nil)
	}
	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder, v any) {
	t.Helper()
	if err := json.Unmarshal(rec.Body.Bytes(), v); err != nil {
		t.Fatalf("decode response %q: %v", rec.Body.String(), err)
	}
}

func TestHealthz(t *testing.T) {
	srv, _ := newTestServer(t)
	rec := doRequest(t, srv, http.MethodGet, "/healthz", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
}

func TestUserBundle(t *testing.T) {
	srv, store := newTestServer(t)
	ctx := context.Background()

	packetID := ids.EncodePacketID(1, 1)
	promptID := ids.EncodePromptID(0, 1, 2, 1)
	if err := store.PutPacket(ctx, &state.Packet{ID: packetID, Owner: ownerA}); err != nil {
		t.Fatalf("seed packet: %v", err)
	}
	if err := store.PutPrompt(ctx, &state.Prompt{ID: promptID, Owner: ownerA, Name: "cat"}); err != nil {
		t.Fatalf("seed prompt: %v", err)
	}
	if err := store.SetUsername(ctx, ownerA, "alice"); err != nil {
		t.Fatalf("seed username: %v", err)
	}

	rec := doRequest(t, srv, http.MethodGet, "/users/"+ownerA, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d body=%s", rec.Code, rec.Body.String())
	}
	var bundle userBundle
	decodeBody(t, rec, &bundle)
	if bundle.Username != "alice" {
		t.Fatalf("username = %q", bundle.Username)
	}
	if len(bundle.Packets) != 1 || bundle.Packets[0].ID != packetID {
		t.Fatalf("packets = %+v", bundle.Packets)
	}
	if len(bundle.Prompts) != 1 || bundle.Prompts[0].Name != "cat" {
		t.Fatalf("prompts = %+v", bundle.Prompts)
	}
	if len(bundle.Images) != 0 {
		t.Fatalf("images = %+v", bundle.Images)
	}
}

func TestUserBundleRejectsBadAddress(t *testing.T) {
	srv, _ := newTestServer(t)
	rec := doRequest(t, srv, http.MethodGet, "/users/not-an-address", nil)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d", rec.Code)
	}
}

func TestGetPacketWithHistory(t *testing.T) {
	srv, store := newTestServer(t)
	ctx := context.Background()

	packetID := ids.EncodePacketID(2, 5)
	if err := store.PutPacket(ctx, &state.Packet{ID: packetID, Owner: ownerA}); err != nil {
		t.Fatalf("seed: %v", err)
	}
	if err := store.ListPacket(ctx, packetID, "77", ownerA); err != nil {
		t.Fatalf("list: %v", err)
	}
	if err := store.TransferPacket(ctx, packetID, ownerA, "0xbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbb"); err != nil {
		t.Fatalf("transfer: %v", err)
	}

	rec := doRequest(t, srv, http.MethodGet, fmt.Sprintf("/packets/%d", packetID), nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d body=%s", rec.Code, rec.Body.String())
	}
	var resp struct {
		Packet       packetView     `json:"packet"`
		Transactions []transferView `json:"transactions"`
	}
	decodeBody(t, rec, &resp)
	if resp.Packet.ID != packetID || resp.Packet.Listed {
		t.Fatalf("packet = %+v", resp.Packet)
	}
	if len(resp.Transactions) != 1 || resp.Transactions[0].Price != "77" {
		t.Fatalf("transactions = %+v", resp.Transactions)
	}
}

func TestGetPacketNotFound(t *testing.T) {
	srv, _ := newTestServer(t)
	rec := doRequest(t, srv, http.MethodGet, "/packets/12345", nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d", rec.Code)
	}
}

func TestGetImageAcceptsShortHexID(t *testing.T) {
	srv, store := newTestServer(t)
	ctx := context.Background()

	var prompts [ids.ImagePromptSlots]uint32
	prompts[0] = ids.EncodePromptID(0, 1, 0, 1)
	imageID := ids.EncodeImageID(5, prompts)
	canonical := state.ImageIDHex(imageID)
	if err := store.PutImage(ctx, &state.Image{ID: canonical, Owner: ownerA}); err != nil {
		t.Fatalf("seed: %v", err)
	}

	// The canonical form and a non-padded form resolve to the same card.
	short := "0x" + canonical[2:]
	for short[2] == '0' && len(short) > 3 {
		short = "0x" + short[3:]
	}
	for _, target := range []string{"/images/" + canonical, "/images/" + short} {
		rec := doRequest(t, srv, http.MethodGet, target, nil)
		if rec.Code != http.StatusOK {
			t.Fatalf("GET %s status = %d body=%s", target, rec.Code, rec.Body.String())
		}
	}
}

func TestMarketplaceListsOnlyListed(t *testing.T) {
	srv, store := newTestServer(t)
	ctx := context.Background()

	listed := ids.EncodePromptID(0, 1, 1, 1)
	unlisted := ids.EncodePromptID(1, 1, 1, 1)
	for _, id := range []uint32{listed, unlisted} {
		if err := store.PutPrompt(ctx, &state.Prompt{ID: id, Owner: ownerA}); err != nil {
			t.Fatalf("seed: %v", err)
		}
	}
	if err := store.ListPrompt(ctx, listed, "9", ownerA); err != nil {
		t.Fatalf("list: %v", err)
	}

	rec := doRequest(t, srv, http.MethodGet, "/marketplace/prompts", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var prompts []promptView
	decodeBody(t, rec, &prompts)
	if len(prompts) != 1 || prompts[0].ID != listed {
		t.Fatalf("catalogue = %+v", prompts)
	}
}

func TestUsernameLifecycle(t *testing.T) {
	srv, _ := newTestServer(t)

	body, _ := json.Marshal(setUsernameRequest{Name: "bob"})
	rec := doRequest(t, srv, http.MethodPut, "/users/"+ownerA+"/username", body)
	if rec.Code != http.StatusOK {
		t.Fatalf("put status = %d body=%s", rec.Code, rec.Body.String())
	}

	rec = doRequest(t, srv, http.MethodGet, "/users/"+ownerA+"/username", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("get status = %d", rec.Code)
	}
	var resp map[string]string
	decodeBody(t, rec, &resp)
	if resp["username"] != "bob" {
		t.Fatalf("username = %q", resp["username"])
	}

	rec = doRequest(t, srv, http.MethodPut, "/users/"+ownerA+"/username", []byte(`{"name":""}`))
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("empty name status = %d", rec.Code)
	}
}

func TestRemainingPackets(t *testing.T) {
	srv, store := newTestServer(t)
	ctx := context.Background()

	for seq := uint32(1); seq <= 2; seq++ {
		if err := store.PutPacket(ctx, &state.Packet{ID: ids.EncodePacketID(4, seq), Owner: ownerA}); err != nil {
			t.Fatalf("seed: %v", err)
		}
	}

	rec := doRequest(t, srv, http.MethodGet, "/collections/4/remaining", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var resp struct {
		Minted    int64 `json:"minted"`
		Remaining int64 `json:"remaining"`
	}
	decodeBody(t, rec, &resp)
	if resp.Minted != 2 || resp.Remaining != (1<<16)-2 {
		t.Fatalf("resp = %+v", resp)
	}
}
