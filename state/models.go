package state

import (
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"github.com/holiman/uint256"
	"gorm.io/gorm"
)

// Kind discriminates ledger rows by entity type.
type Kind string

// Entity kinds recorded in the transfer ledger.
const (
	KindPacket Kind = "packet"
	KindPrompt Kind = "prompt"
	KindImage  Kind = "image"
)

// Packet mirrors an unopened on-chain prompt bundle.
type Packet struct {
	ID         uint32 `gorm:"primaryKey"`
	Collection uint32 `gorm:"index"`
	Owner      string `gorm:"size:42;index"`
	Listed     bool
	Price      string `gorm:"size:80"`
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// Prompt mirrors a single trait asset. Content fields stay empty until the
// generation pipeline publishes the prompt document.
type Prompt struct {
	ID         uint32 `gorm:"primaryKey"`
	PacketID   uint32 `gorm:"index"`
	Collection uint32 `gorm:"index"`
	Type       uint8
	Index      uint8
	Name       string `gorm:"size:128"`
	Rarity     uint8
	ContentCID string `gorm:"size:64"`
	Owner      string `gorm:"size:42;index"`
	Listed     bool
	Frozen     bool
	Price      string `gorm:"size:80"`
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// Image mirrors a composite card. The primary key is the 256-bit card id in
// 0x-prefixed hex; the seed and constituent prompt ids are recoverable from
// it via the ids package.
type Image struct {
	ID         string `gorm:"primaryKey;size:66"`
	Owner      string `gorm:"size:42;index"`
	ContentCID string `gorm:"size:64"`
	Listed     bool
	Price      string `gorm:"size:80"`
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// Transfer is an append-only ledger row. Rows are never updated or deleted;
// insertion order is the event history order.
type Transfer struct {
	ID        uint64 `gorm:"primaryKey;autoIncrement"`
	ObjectID  string `gorm:"size:66;index:idx_transfers_object"`
	Kind      Kind   `gorm:"size:8;index:idx_transfers_object"`
	FromOwner string `gorm:"size:42;index"`
	ToOwner   string `gorm:"size:42;index"`
	Price     string `gorm:"size:80"`
	CreatedAt time.Time
}

// Username stores the display name chosen through the web API.
type Username struct {
	Owner     string `gorm:"primaryKey;size:42"`
	Name      string `gorm:"size:64"`
	UpdatedAt time.Time
}

// AutoMigrate performs all schema migrations for the replica store.
func AutoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&Packet{},
		&Prompt{},
		&Image{},
		&Transfer{},
		&Username{},
	)
}

// ImageIDHex renders a 256-bit card id as the canonical primary-key form:
// 0x followed by 64 hex digits, zero padded.
func ImageIDHex(id *uint256.Int) string {
	raw := id.Bytes32()
	return "0x" + hex.EncodeToString(raw[:])
}

// ParseImageID parses a card id back into its 256-bit form. Leading zeros
// are accepted since the canonical form is fixed width.
func ParseImageID(s string) (*uint256.Int, error) {
	trimmed := strings.TrimPrefix(strings.TrimSpace(s), "0x")
	if trimmed == "" || len(trimmed) > 64 {
		return nil, fmt.Errorf("parse image id %q: invalid length", s)
	}
	if len(trimmed)%2 == 1 {
		trimmed = "0" + trimmed
	}
	raw, err := hex.DecodeString(trimmed)
	if err != nil {
		return nil, fmt.Errorf("parse image id %q: %w", s, err)
	}
	return new(uint256.Int).SetBytes(raw), nil
}
