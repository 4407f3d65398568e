package wordgen

import (
	"strings"
	"testing"
)

func TestDrawIsDeterministicAcrossExtractors(t *testing.T) {
	a := NewExtractor()
	b := NewExtractor()

	ids := []uint32{1, 77, 4096, 0xFFFFFFFF}
	for _, id := range ids {
		for typ := uint32(0); typ < TypeCount; typ++ {
			wordA, rarityA, errA := a.Draw(1, typ, id)
			wordB, rarityB, errB := b.Draw(1, typ, id)
			if errA != nil || errB != nil {
				t.Fatalf("draw errors: %v / %v", errA, errB)
			}
			if wordA != wordB || rarityA != rarityB {
				t.Fatalf("divergent draw for id %d type %d: %q/%d vs %q/%d", id, typ, wordA, rarityA, wordB, rarityB)
			}
		}
	}
}

func TestDrawDepletesStock(t *testing.T) {
	e := &Extractor{collections: map[uint32]map[uint32][]Word{}}
	e.AddCollection(9, map[uint32][]Word{
		TypeCharacter: {
			{Text: "dragon", Stock: 2, Rarity: 3},
		},
	})

	for i := 0; i < 2; i++ {
		word, rarity, err := e.Draw(9, TypeCharacter, uint32(i))
		if err != nil {
			t.Fatalf("draw %d: %v", i, err)
		}
		if word != "dragon" || rarity != 3 {
			t.Fatalf("draw %d: %q/%d", i, word, rarity)
		}
	}
	if _, _, err := e.Draw(9, TypeCharacter, 3); err == nil {
		t.Fatal("expected error after stock depleted")
	}
}

func TestDrawUnknownCollection(t *testing.T) {
	if _, _, err := NewExtractor().Draw(99, TypeCharacter, 1); err == nil {
		t.Fatal("expected error for unknown collection")
	}
}

func TestAddCollectionCopiesTables(t *testing.T) {
	seed := map[uint32][]Word{
		TypeCharacter: {{Text: "wolf", Stock: 5, Rarity: 1}},
	}
	e := &Extractor{collections: map[uint32]map[uint32][]Word{}}
	e.AddCollection(3, seed)
	seed[TypeCharacter][0].Stock = 0

	if _, _, err := e.Draw(3, TypeCharacter, 1); err != nil {
		t.Fatalf("draw after caller mutation: %v", err)
	}
}

func TestPromptBuilderFullSentence(t *testing.T) {
	got := NewPromptBuilder().
		Character("cat").
		Hat("helmet").
		Color("red and black").
		Tool("sword").
		Eyes("blindfold").
		Style("samurai").
		Build()

	want := "a cat, wearing a helmet on the head, red and black, with sword in his hand, blindfold, samurai style, " + defaultTrailer
	if got != want {
		t.Fatalf("prompt = %q\nwant   = %q", got, want)
	}
}

func TestPromptBuilderSkipsEmptyTraits(t *testing.T) {
	got := NewPromptBuilder().Character("dog").Build()
	if strings.Contains(got, "wearing") || strings.Contains(got, "in his hand") {
		t.Fatalf("empty traits leaked into prompt: %q", got)
	}
	if !strings.HasPrefix(got, "a dog, ") {
		t.Fatalf("prompt = %q", got)
	}
}

func TestTraitRoutesByType(t *testing.T) {
	b := NewPromptBuilder()
	b.Trait(TypeStyle, "anime").Trait(TypeCharacter, "fish").Trait(42, "ignored")
	got := b.Build()
	if !strings.Contains(got, "anime style") || !strings.HasPrefix(got, "a fish") {
		t.Fatalf("prompt = %q", got)
	}
	if strings.Contains(got, "ignored") {
		t.Fatalf("unknown trait type applied: %q", got)
	}
}
