package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/go-chi/chi/v5"

	"metafusion/state"
)

// packetsPerCollection is the capacity of the 16-bit sequence space.
const packetsPerCollection = 1 << 16

// maxUsernameLength bounds stored display names.
const maxUsernameLength = 64

type userBundle struct {
	Address  string       `json:"address"`
	Username string       `json:"username,omitempty"`
	Packets  []packetView `json:"packets"`
	Prompts  []promptView `json:"prompts"`
	Images   []imageView  `json:"images"`
}

type packetView struct {
	ID         uint32 `json:"id"`
	Collection uint32 `json:"collection"`
	Owner      string `json:"owner"`
	Listed     bool   `json:"isListed"`
	Price      string `json:"price"`
}

type promptView struct {
	ID         uint32 `json:"id"`
	PacketID   uint32 `json:"packetId"`
	Collection uint32 `json:"collection"`
	Type       uint8  `json:"type"`
	Name       string `json:"name"`
	Rarity     uint8  `json:"rarity"`
	ContentCID string `json:"contentCid,omitempty"`
	Owner      string `json:"owner"`
	Listed     bool   `json:"isListed"`
	Frozen     bool   `json:"isFrozen"`
	Price      string `json:"price"`
}

type imageView struct {
	ID         string `json:"id"`
	Owner      string `json:"owner"`
	ContentCID string `json:"contentCid,omitempty"`
	Listed     bool   `json:"isListed"`
	Price      string `json:"price"`
}

type transferView struct {
	ObjectID string `json:"objectId"`
	Kind     string `json:"kind"`
	From     string `json:"from"`
	To       string `json:"to"`
	Price    string `json:"price"`
}

func packetViews(packets []state.Packet) []packetView {
	out := make([]packetView, 0, len(packets))
	for _, p := range packets {
		out = append(out, packetView{ID: p.ID, Collection: p.Collection, Owner: p.Owner, Listed: p.Listed, Price: p.Price})
	}
	return out
}

func promptViews(prompts []state.Prompt) []promptView {
	out := make([]promptView, 0, len(prompts))
	for _, p := range prompts {
		out = append(out, promptView{
			ID: p.ID, PacketID: p.PacketID, Collection: p.Collection, Type: p.Type,
			Name: p.Name, Rarity: p.Rarity, ContentCID: p.ContentCID,
			Owner: p.Owner, Listed: p.Listed, Frozen: p.Frozen, Price: p.Price,
		})
	}
	return out
}

func imageViews(images []state.Image) []imageView {
	out := make([]imageView, 0, len(images))
	for _, img := range images {
		out = append(out, imageView{ID: img.ID, Owner: img.Owner, ContentCID: img.ContentCID, Listed: img.Listed, Price: img.Price})
	}
	return out
}

func transferViews(transfers []state.Transfer) []transferView {
	out := make([]transferView, 0, len(transfers))
	for _, tr := range transfers {
		out = append(out, transferView{ObjectID: tr.ObjectID, Kind: string(tr.Kind), From: tr.FromOwner, To: tr.ToOwner, Price: tr.Price})
	}
	return out
}

func (s *Server) requestAddress(w http.ResponseWriter, r *http.Request) (string, bool) {
	raw := chi.URLParam(r, "address")
	if !common.IsHexAddress(raw) {
		s.writeError(w, http.StatusBadRequest, "invalid address")
		return "", false
	}
	return state.NormalizeOwner(raw), true
}

func (s *Server) requestTokenID(w http.ResponseWriter, r *http.Request) (uint32, bool) {
	raw := chi.URLParam(r, "id")
	id, err := strconv.ParseUint(raw, 10, 32)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid token id")
		return 0, false
	}
	return uint32(id), true
}

func (s *Server) handleUserBundle(w http.ResponseWriter, r *http.Request) {
	owner, ok := s.requestAddress(w, r)
	if !ok {
		return
	}
	ctx := r.Context()

	username, err := s.store.GetUsername(ctx, owner)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, "lookup failed")
		return
	}
	packets, err := s.store.PacketsOwnedBy(ctx, owner)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, "lookup failed")
		return
	}
	prompts, err := s.store.PromptsOwnedBy(ctx, owner)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, "lookup failed")
		return
	}
	images, err := s.store.ImagesOwnedBy(ctx, owner)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, "lookup failed")
		return
	}

	s.writeJSON(w, http.StatusOK, userBundle{
		Address:  owner,
		Username: username,
		Packets:  packetViews(packets),
		Prompts:  promptViews(prompts),
		Images:   imageViews(images),
	})
}

func (s *Server) handleUserTransactions(w http.ResponseWriter, r *http.Request) {
	owner, ok := s.requestAddress(w, r)
	if !ok {
		return
	}
	transfers, err := s.store.TransfersForOwner(r.Context(), owner)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, "lookup failed")
		return
	}
	s.writeJSON(w, http.StatusOK, transferViews(transfers))
}

func (s *Server) handleGetUsername(w http.ResponseWriter, r *http.Request) {
	owner, ok := s.requestAddress(w, r)
	if !ok {
		return
	}
	username, err := s.store.GetUsername(r.Context(), owner)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, "lookup failed")
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"address": owner, "username": username})
}

type setUsernameRequest struct {
	Name string `json:"name"`
}

func (s *Server) handleSetUsername(w http.ResponseWriter, r *http.Request) {
	owner, ok := s.requestAddress(w, r)
	if !ok {
		return
	}
	var req setUsernameRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid body")
		return
	}
	name := strings.TrimSpace(req.Name)
	if name == "" || len(name) > maxUsernameLength {
		s.writeError(w, http.StatusBadRequest, fmt.Sprintf("username must be 1-%d characters", maxUsernameLength))
		return
	}
	if err := s.store.SetUsername(r.Context(), owner, name); err != nil {
		s.writeError(w, http.StatusInternalServerError, "store failed")
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"address": owner, "username": name})
}

func (s *Server) handleGetPacket(w http.ResponseWriter, r *http.Request) {
	id, ok := s.requestTokenID(w, r)
	if !ok {
		return
	}
	packet, err := s.store.GetPacket(r.Context(), id)
	if errors.Is(err, state.ErrNotFound) {
		s.writeError(w, http.StatusNotFound, "packet not found")
		return
	}
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, "lookup failed")
		return
	}
	transfers, err := s.store.TransfersForObject(r.Context(), strconv.FormatUint(uint64(id), 10), state.KindPacket)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, "lookup failed")
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{
		"packet":       packetViews([]state.Packet{*packet})[0],
		"transactions": transferViews(transfers),
	})
}

func (s *Server) handleGetPrompt(w http.ResponseWriter, r *http.Request) {
	id, ok := s.requestTokenID(w, r)
	if !ok {
		return
	}
	prompt, err := s.store.GetPrompt(r.Context(), id)
	if errors.Is(err, state.ErrNotFound) {
		s.writeError(w, http.StatusNotFound, "prompt not found")
		return
	}
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, "lookup failed")
		return
	}
	transfers, err := s.store.TransfersForObject(r.Context(), strconv.FormatUint(uint64(id), 10), state.KindPrompt)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, "lookup failed")
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{
		"prompt":       promptViews([]state.Prompt{*prompt})[0],
		"transactions": transferViews(transfers),
	})
}

func (s *Server) handleGetImage(w http.ResponseWriter, r *http.Request) {
	raw := chi.URLParam(r, "id")
	parsed, err := state.ParseImageID(raw)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid image id")
		return
	}
	id := state.ImageIDHex(parsed)
	image, err := s.store.GetImage(r.Context(), id)
	if errors.Is(err, state.ErrNotFound) {
		s.writeError(w, http.StatusNotFound, "image not found")
		return
	}
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, "lookup failed")
		return
	}
	transfers, err := s.store.TransfersForObject(r.Context(), id, state.KindImage)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, "lookup failed")
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{
		"image":        imageViews([]state.Image{*image})[0],
		"transactions": transferViews(transfers),
	})
}

func (s *Server) handleListedPackets(w http.ResponseWriter, r *http.Request) {
	packets, err := s.store.ListedPackets(r.Context())
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, "lookup failed")
		return
	}
	s.writeJSON(w, http.StatusOK, packetViews(packets))
}

func (s *Server) handleListedPrompts(w http.ResponseWriter, r *http.Request) {
	prompts, err := s.store.ListedPrompts(r.Context())
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, "lookup failed")
		return
	}
	s.writeJSON(w, http.StatusOK, promptViews(prompts))
}

func (s *Server) handleListedImages(w http.ResponseWriter, r *http.Request) {
	images, err := s.store.ListedImages(r.Context())
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, "lookup failed")
		return
	}
	s.writeJSON(w, http.StatusOK, imageViews(images))
}

func (s *Server) handleRemainingPackets(w http.ResponseWriter, r *http.Request) {
	raw := chi.URLParam(r, "id")
	collection, err := strconv.ParseUint(raw, 10, 16)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid collection id")
		return
	}
	count, err := s.store.CountPackets(r.Context(), uint32(collection))
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, "lookup failed")
		return
	}
	remaining := int64(packetsPerCollection) - count
	if remaining < 0 {
		remaining = 0
	}
	s.writeJSON(w, http.StatusOK, map[string]any{
		"collection": collection,
		"minted":     count,
		"remaining":  remaining,
	})
}
