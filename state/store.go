// Package state is the replica store: a gorm-backed mirror of on-chain
// packet, prompt and card ownership plus an append-only transfer ledger.
//
// The chain, not this store, is authoritative. Every write is either an
// upsert (safe to re-apply on event redelivery) or an owner-guarded
// conditional update, so the dispatcher can replay events from an earlier
// block height without corrupting the replica.
package state

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/glebarez/sqlite"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	gormlogger "gorm.io/gorm/logger"

	"metafusion/ids"
)

var (
	// ErrNotFound indicates the referenced entity is absent from the replica.
	ErrNotFound = errors.New("state: entity not found")
	// ErrGuardMiss indicates an owner-guarded update matched zero rows: the
	// stored owner differs from the claimed one, or the row is frozen or
	// missing. The caller treats this as a no-op, not a failure.
	ErrGuardMiss = errors.New("state: ownership guard missed")
)

// Store wraps the replica database. All mutations go through it; the
// dispatcher is the only writer.
type Store struct {
	db  *gorm.DB
	now func() time.Time
}

// Open initialises the store for the configured driver. Supported drivers
// are "sqlite" and "postgres".
func Open(driver, dsn string) (*Store, error) {
	dsn = strings.TrimSpace(dsn)
	if dsn == "" {
		return nil, fmt.Errorf("state: database DSN required")
	}
	var dialector gorm.Dialector
	switch strings.ToLower(strings.TrimSpace(driver)) {
	case "", "sqlite":
		dialector = sqlite.Open(dsn)
	case "postgres":
		dialector = postgres.Open(dsn)
	default:
		return nil, fmt.Errorf("state: unsupported database driver %q", driver)
	}
	db, err := gorm.Open(dialector, &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("state: open database: %w", err)
	}
	if err := AutoMigrate(db); err != nil {
		return nil, fmt.Errorf("state: migrate: %w", err)
	}
	return New(db), nil
}

// New wraps an already-open gorm handle. Used by tests.
func New(db *gorm.DB) *Store {
	return &Store{db: db, now: time.Now}
}

// DB exposes the underlying handle for read-only consumers.
func (s *Store) DB() *gorm.DB { return s.db }

// Close releases the underlying connection pool.
func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// NormalizeOwner canonicalises an account address for storage and lookups.
func NormalizeOwner(owner string) string {
	return strings.ToLower(strings.TrimSpace(owner))
}

// PutPacket upserts a packet row keyed by id.
func (s *Store) PutPacket(ctx context.Context, p *Packet) error {
	p.Owner = NormalizeOwner(p.Owner)
	p.Collection, _ = ids.DecodePacketID(p.ID)
	if p.Price == "" {
		p.Price = "0"
	}
	p.UpdatedAt = s.now()
	if p.CreatedAt.IsZero() {
		p.CreatedAt = p.UpdatedAt
	}
	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{UpdateAll: true}).Create(p).Error
	if err != nil {
		return fmt.Errorf("state: put packet %d: %w", p.ID, err)
	}
	return nil
}

// PutPrompt upserts a prompt row keyed by id, deriving the structural fields
// from the id layout.
func (s *Store) PutPrompt(ctx context.Context, p *Prompt) error {
	p.Owner = NormalizeOwner(p.Owner)
	index, collection, typ, _ := ids.DecodePromptID(p.ID)
	p.Index = uint8(index)
	p.Collection = collection
	p.Type = uint8(typ)
	p.PacketID = ids.PromptPacketID(p.ID)
	if p.Price == "" {
		p.Price = "0"
	}
	p.UpdatedAt = s.now()
	if p.CreatedAt.IsZero() {
		p.CreatedAt = p.UpdatedAt
	}
	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{UpdateAll: true}).Create(p).Error
	if err != nil {
		return fmt.Errorf("state: put prompt %d: %w", p.ID, err)
	}
	return nil
}

// PutImage upserts a card row keyed by its hex id.
func (s *Store) PutImage(ctx context.Context, img *Image) error {
	img.Owner = NormalizeOwner(img.Owner)
	if img.Price == "" {
		img.Price = "0"
	}
	img.UpdatedAt = s.now()
	if img.CreatedAt.IsZero() {
		img.CreatedAt = img.UpdatedAt
	}
	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{UpdateAll: true}).Create(img).Error
	if err != nil {
		return fmt.Errorf("state: put image %s: %w", img.ID, err)
	}
	return nil
}

// GetPacket loads a packet by id.
func (s *Store) GetPacket(ctx context.Context, id uint32) (*Packet, error) {
	var p Packet
	if err := s.db.WithContext(ctx).First(&p, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("state: get packet %d: %w", id, err)
	}
	return &p, nil
}

// GetPrompt loads a prompt by id.
func (s *Store) GetPrompt(ctx context.Context, id uint32) (*Prompt, error) {
	var p Prompt
	if err := s.db.WithContext(ctx).First(&p, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("state: get prompt %d: %w", id, err)
	}
	return &p, nil
}

// GetImage loads a card by its hex id.
func (s *Store) GetImage(ctx context.Context, id string) (*Image, error) {
	var img Image
	if err := s.db.WithContext(ctx).First(&img, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("state: get image %s: %w", id, err)
	}
	return &img, nil
}

// guarded runs an owner-conditioned update and maps a zero-row result to
// ErrGuardMiss. This conditional update is the sole concurrency guard for
// listing state; there are no locks.
func guarded(tx *gorm.DB) error {
	if tx.Error != nil {
		return tx.Error
	}
	if tx.RowsAffected == 0 {
		return ErrGuardMiss
	}
	return nil
}

// ListPacket marks a packet for sale at the given price, provided the stored
// owner matches.
func (s *Store) ListPacket(ctx context.Context, id uint32, price, owner string) error {
	return guarded(s.db.WithContext(ctx).Model(&Packet{}).
		Where("id = ? AND owner = ?", id, NormalizeOwner(owner)).
		Updates(map[string]any{"listed": true, "price": price, "updated_at": s.now()}))
}

// UnlistPacket removes a packet from sale, provided the stored owner matches.
func (s *Store) UnlistPacket(ctx context.Context, id uint32, owner string) error {
	return guarded(s.db.WithContext(ctx).Model(&Packet{}).
		Where("id = ? AND owner = ?", id, NormalizeOwner(owner)).
		Updates(map[string]any{"listed": false, "updated_at": s.now()}))
}

// ListPrompt marks a prompt for sale. Frozen prompts never match the guard:
// a prompt bound into a card cannot be listed.
func (s *Store) ListPrompt(ctx context.Context, id uint32, price, owner string) error {
	return guarded(s.db.WithContext(ctx).Model(&Prompt{}).
		Where("id = ? AND owner = ? AND frozen = ?", id, NormalizeOwner(owner), false).
		Updates(map[string]any{"listed": true, "price": price, "updated_at": s.now()}))
}

// UnlistPrompt removes a prompt from sale, provided the stored owner matches.
func (s *Store) UnlistPrompt(ctx context.Context, id uint32, owner string) error {
	return guarded(s.db.WithContext(ctx).Model(&Prompt{}).
		Where("id = ? AND owner = ?", id, NormalizeOwner(owner)).
		Updates(map[string]any{"listed": false, "updated_at": s.now()}))
}

// ListImage marks a card for sale at the given price, provided the stored
// owner matches.
func (s *Store) ListImage(ctx context.Context, id string, price, owner string) error {
	return guarded(s.db.WithContext(ctx).Model(&Image{}).
		Where("id = ? AND owner = ?", id, NormalizeOwner(owner)).
		Updates(map[string]any{"listed": true, "price": price, "updated_at": s.now()}))
}

// UnlistImage removes a card from sale, provided the stored owner matches.
func (s *Store) UnlistImage(ctx context.Context, id string, owner string) error {
	return guarded(s.db.WithContext(ctx).Model(&Image{}).
		Where("id = ? AND owner = ?", id, NormalizeOwner(owner)).
		Updates(map[string]any{"listed": false, "updated_at": s.now()}))
}

// FreezePrompt binds a prompt into a card: it leaves circulation and any
// active listing is dropped.
func (s *Store) FreezePrompt(ctx context.Context, id uint32) error {
	tx := s.db.WithContext(ctx).Model(&Prompt{}).Where("id = ?", id).
		Updates(map[string]any{"frozen": true, "listed": false, "updated_at": s.now()})
	if tx.Error != nil {
		return fmt.Errorf("state: freeze prompt %d: %w", id, tx.Error)
	}
	if tx.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// UnfreezePrompt releases a prompt after its card is destroyed.
func (s *Store) UnfreezePrompt(ctx context.Context, id uint32) error {
	tx := s.db.WithContext(ctx).Model(&Prompt{}).Where("id = ?", id).
		Updates(map[string]any{"frozen": false, "updated_at": s.now()})
	if tx.Error != nil {
		return fmt.Errorf("state: unfreeze prompt %d: %w", id, tx.Error)
	}
	if tx.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// SetPromptContent attaches the published content reference, display name
// and rarity to a prompt.
func (s *Store) SetPromptContent(ctx context.Context, id uint32, contentCID, name string, rarity uint8) error {
	tx := s.db.WithContext(ctx).Model(&Prompt{}).Where("id = ?", id).
		Updates(map[string]any{"content_cid": contentCID, "name": name, "rarity": rarity, "updated_at": s.now()})
	if tx.Error != nil {
		return fmt.Errorf("state: set prompt content %d: %w", id, tx.Error)
	}
	if tx.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// SetImageContent attaches the published content reference to a card.
func (s *Store) SetImageContent(ctx context.Context, id, contentCID string) error {
	tx := s.db.WithContext(ctx).Model(&Image{}).Where("id = ?", id).
		Updates(map[string]any{"content_cid": contentCID, "updated_at": s.now()})
	if tx.Error != nil {
		return fmt.Errorf("state: set image content %s: %w", id, tx.Error)
	}
	if tx.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// DeletePacket removes an opened packet. The owner condition keeps a stale
// redelivery from deleting a packet that changed hands in between.
func (s *Store) DeletePacket(ctx context.Context, id uint32, owner string) error {
	tx := s.db.WithContext(ctx).Where("id = ? AND owner = ?", id, NormalizeOwner(owner)).Delete(&Packet{})
	if tx.Error != nil {
		return fmt.Errorf("state: delete packet %d: %w", id, tx.Error)
	}
	if tx.RowsAffected == 0 {
		return ErrGuardMiss
	}
	return nil
}

// transferRecord applies the shared transfer semantics inside tx: reassign
// the owner, drop any listing, and append a ledger row priced at the
// entity's stored price. Entity update and ledger append commit together or
// not at all. idValue is the primary-key value, objectID its ledger form.
func (s *Store) transferRecord(tx *gorm.DB, model any, idValue any, objectID string, kind Kind, price, from, to string) error {
	res := tx.Model(model).Where("id = ?", idValue).
		Updates(map[string]any{"owner": NormalizeOwner(to), "listed": false, "updated_at": s.now()})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	entry := Transfer{
		ObjectID:  objectID,
		Kind:      kind,
		FromOwner: NormalizeOwner(from),
		ToOwner:   NormalizeOwner(to),
		Price:     price,
		CreatedAt: s.now(),
	}
	return tx.Create(&entry).Error
}

// TransferPacket reassigns packet ownership and appends the ledger entry.
func (s *Store) TransferPacket(ctx context.Context, id uint32, from, to string) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var p Packet
		if err := tx.First(&p, "id = ?", id).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrNotFound
			}
			return err
		}
		return s.transferRecord(tx, &Packet{}, id, fmt.Sprintf("%d", id), KindPacket, p.Price, from, to)
	})
}

// TransferPrompt reassigns prompt ownership and appends the ledger entry.
func (s *Store) TransferPrompt(ctx context.Context, id uint32, from, to string) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var p Prompt
		if err := tx.First(&p, "id = ?", id).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrNotFound
			}
			return err
		}
		return s.transferRecord(tx, &Prompt{}, id, fmt.Sprintf("%d", id), KindPrompt, p.Price, from, to)
	})
}

// TransferImage reassigns card ownership and appends the ledger entry.
func (s *Store) TransferImage(ctx context.Context, id, from, to string) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var img Image
		if err := tx.First(&img, "id = ?", id).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrNotFound
			}
			return err
		}
		return s.transferRecord(tx, &Image{}, id, id, KindImage, img.Price, from, to)
	})
}

// DestroyImage deletes a card and releases its constituent prompts in one
// transaction.
func (s *Store) DestroyImage(ctx context.Context, id string, owner string) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var img Image
		if err := tx.First(&img, "id = ?", id).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrNotFound
			}
			return err
		}
		parsed, err := ParseImageID(id)
		if err != nil {
			return err
		}
		for _, promptID := range ids.ImagePrompts(parsed) {
			res := tx.Model(&Prompt{}).Where("id = ?", promptID).
				Updates(map[string]any{"frozen": false, "updated_at": s.now()})
			if res.Error != nil {
				return res.Error
			}
		}
		res := tx.Where("id = ?", id)
		if trimmed := NormalizeOwner(owner); trimmed != "" {
			res = res.Where("owner = ?", trimmed)
		}
		del := res.Delete(&Image{})
		if del.Error != nil {
			return del.Error
		}
		if del.RowsAffected == 0 {
			return ErrGuardMiss
		}
		return nil
	})
}

// PacketsOwnedBy returns every packet held by the owner.
func (s *Store) PacketsOwnedBy(ctx context.Context, owner string) ([]Packet, error) {
	var out []Packet
	err := s.db.WithContext(ctx).Where("owner = ?", NormalizeOwner(owner)).Order("id").Find(&out).Error
	return out, err
}

// PromptsOwnedBy returns every prompt held by the owner.
func (s *Store) PromptsOwnedBy(ctx context.Context, owner string) ([]Prompt, error) {
	var out []Prompt
	err := s.db.WithContext(ctx).Where("owner = ?", NormalizeOwner(owner)).Order("id").Find(&out).Error
	return out, err
}

// ImagesOwnedBy returns every card held by the owner.
func (s *Store) ImagesOwnedBy(ctx context.Context, owner string) ([]Image, error) {
	var out []Image
	err := s.db.WithContext(ctx).Where("owner = ?", NormalizeOwner(owner)).Order("id").Find(&out).Error
	return out, err
}

// ListedPackets returns the packets currently for sale.
func (s *Store) ListedPackets(ctx context.Context) ([]Packet, error) {
	var out []Packet
	err := s.db.WithContext(ctx).Where("listed = ?", true).Order("id").Find(&out).Error
	return out, err
}

// ListedPrompts returns the prompts currently for sale.
func (s *Store) ListedPrompts(ctx context.Context) ([]Prompt, error) {
	var out []Prompt
	err := s.db.WithContext(ctx).Where("listed = ?", true).Order("id").Find(&out).Error
	return out, err
}

// ListedImages returns the cards currently for sale.
func (s *Store) ListedImages(ctx context.Context) ([]Image, error) {
	var out []Image
	err := s.db.WithContext(ctx).Where("listed = ?", true).Order("id").Find(&out).Error
	return out, err
}

// TransfersForObject returns the ledger rows for one entity, oldest first.
func (s *Store) TransfersForObject(ctx context.Context, objectID string, kind Kind) ([]Transfer, error) {
	var out []Transfer
	err := s.db.WithContext(ctx).Where("object_id = ? AND kind = ?", objectID, kind).Order("id").Find(&out).Error
	return out, err
}

// TransfersForOwner returns every ledger row where the owner appears on
// either side, oldest first.
func (s *Store) TransfersForOwner(ctx context.Context, owner string) ([]Transfer, error) {
	normalized := NormalizeOwner(owner)
	var out []Transfer
	err := s.db.WithContext(ctx).
		Where("from_owner = ? OR to_owner = ?", normalized, normalized).
		Order("id").Find(&out).Error
	return out, err
}

// CountPackets reports how many packets of a collection exist in the replica.
func (s *Store) CountPackets(ctx context.Context, collection uint32) (int64, error) {
	var n int64
	err := s.db.WithContext(ctx).Model(&Packet{}).Where("collection = ?", collection).Count(&n).Error
	return n, err
}

// SetUsername stores the display name for an account.
func (s *Store) SetUsername(ctx context.Context, owner, name string) error {
	record := Username{Owner: NormalizeOwner(owner), Name: strings.TrimSpace(name), UpdatedAt: s.now()}
	return s.db.WithContext(ctx).Clauses(clause.OnConflict{UpdateAll: true}).Create(&record).Error
}

// GetUsername returns the display name for an account, or empty when unset.
func (s *Store) GetUsername(ctx context.Context, owner string) (string, error) {
	var record Username
	err := s.db.WithContext(ctx).First(&record, "owner = ?", NormalizeOwner(owner)).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return "", nil
		}
		return "", err
	}
	return record.Name, nil
}
