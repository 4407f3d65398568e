// Package wordgen draws the trait words that make up a prompt. Draws are
// deterministic in the prompt id so every oracle replica generating the same
// prompt produces the same word, while per-word stock depletes so a
// collection stays finite.
package wordgen

import (
	"crypto/sha256"
	"fmt"
	"math/big"
	"strconv"
	"sync"
)

// Trait type slots inside a packet.
const (
	TypeCharacter uint32 = iota
	TypeHat
	TypeTool
	TypeColor
	TypeEyes
	TypeStyle

	TypeCount = 6
)

// Word is one drawable trait with its remaining stock. Rarity is fixed at
// table construction; lower stock means rarer.
type Word struct {
	Text   string
	Stock  int
	Rarity uint8
}

// Extractor holds the trait tables per collection. Word order matters: the
// draw index is taken modulo the live table length, so two extractors seeded
// with the same tables and fed the same ids stay in lockstep.
type Extractor struct {
	mu          sync.Mutex
	collections map[uint32]map[uint32][]Word
}

func defaultTraits() map[uint32][]Word {
	return map[uint32][]Word{
		TypeCharacter: {
			{Text: "dog", Stock: 100, Rarity: 3},
			{Text: "cat", Stock: 200, Rarity: 2},
			{Text: "fish", Stock: 300, Rarity: 1},
			{Text: "bird", Stock: 400, Rarity: 0},
		},
		TypeHat: {
			{Text: "hat", Stock: 100, Rarity: 3},
			{Text: "cap", Stock: 200, Rarity: 2},
			{Text: "helmet", Stock: 300, Rarity: 1},
			{Text: "busby hat", Stock: 400, Rarity: 0},
		},
		TypeTool: {
			{Text: "sword", Stock: 100, Rarity: 3},
			{Text: "magic wand", Stock: 200, Rarity: 2},
			{Text: "shuriken", Stock: 300, Rarity: 1},
			{Text: "baseball glove", Stock: 400, Rarity: 0},
		},
		TypeColor: {
			{Text: "blue and gold", Stock: 100, Rarity: 3},
			{Text: "red and black", Stock: 200, Rarity: 2},
			{Text: "purple and black", Stock: 300, Rarity: 1},
			{Text: "green and red", Stock: 400, Rarity: 0},
		},
		TypeEyes: {
			{Text: "sun glasses", Stock: 100, Rarity: 3},
			{Text: "red eyes", Stock: 200, Rarity: 2},
			{Text: "purple eyes", Stock: 300, Rarity: 1},
			{Text: "blindfold", Stock: 400, Rarity: 0},
		},
		TypeStyle: {
			{Text: "futuristic", Stock: 100, Rarity: 3},
			{Text: "samurai", Stock: 200, Rarity: 2},
			{Text: "anime", Stock: 300, Rarity: 1},
			{Text: "steampunk", Stock: 400, Rarity: 0},
		},
	}
}

// NewExtractor builds an extractor seeded with the launch collections.
func NewExtractor() *Extractor {
	e := &Extractor{collections: make(map[uint32]map[uint32][]Word)}
	e.AddCollection(1, defaultTraits())
	e.AddCollection(2, defaultTraits())
	return e
}

// AddCollection installs or replaces the trait tables for a collection.
func (e *Extractor) AddCollection(collection uint32, traits map[uint32][]Word) {
	e.mu.Lock()
	defer e.mu.Unlock()
	copied := make(map[uint32][]Word, len(traits))
	for typ, words := range traits {
		copied[typ] = append([]Word(nil), words...)
	}
	e.collections[collection] = copied
}

// Draw picks the trait word for a prompt id, consuming one unit of its
// stock. The pick is the prompt id hashed onto the live table, so the same
// id always lands on the same word until stock depletion changes the table.
func (e *Extractor) Draw(collection, typ, promptID uint32) (string, uint8, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	traits, ok := e.collections[collection]
	if !ok {
		return "", 0, fmt.Errorf("wordgen: unknown collection %d", collection)
	}
	words := traits[typ]
	if len(words) == 0 {
		return "", 0, fmt.Errorf("wordgen: collection %d has no stock for type %d", collection, typ)
	}

	idx := drawIndex(promptID, len(words))
	picked := words[idx]

	words[idx].Stock--
	if words[idx].Stock <= 0 {
		traits[typ] = append(words[:idx], words[idx+1:]...)
	}
	return picked.Text, picked.Rarity, nil
}

// drawIndex hashes the decimal form of the prompt id and reduces it onto the
// table length.
func drawIndex(promptID uint32, length int) int {
	digest := sha256.Sum256([]byte(strconv.FormatUint(uint64(promptID), 10)))
	n := new(big.Int).SetBytes(digest[:])
	return int(n.Mod(n, big.NewInt(int64(length))).Int64())
}
