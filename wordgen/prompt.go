package wordgen

import "strings"

const (
	defaultStarter = "a"
	defaultTrailer = "with clothes, dressed, upper bust, ultra realistic, 4k, frontal view"
)

// PromptBuilder assembles the text prompt handed to the image generator.
// Every trait is optional; missing traits simply drop out of the sentence.
type PromptBuilder struct {
	starter   string
	trailer   string
	character string
	hat       string
	tool      string
	color     string
	eyes      string
	style     string
}

// NewPromptBuilder returns a builder with the stock opening and closing
// phrases.
func NewPromptBuilder() *PromptBuilder {
	return &PromptBuilder{starter: defaultStarter, trailer: defaultTrailer}
}

// Character sets the subject of the image.
func (b *PromptBuilder) Character(name string) *PromptBuilder {
	b.character = name
	return b
}

// Hat sets the headwear trait.
func (b *PromptBuilder) Hat(name string) *PromptBuilder {
	b.hat = name
	return b
}

// Tool sets the held-item trait.
func (b *PromptBuilder) Tool(name string) *PromptBuilder {
	b.tool = name
	return b
}

// Color sets the palette trait.
func (b *PromptBuilder) Color(name string) *PromptBuilder {
	b.color = name
	return b
}

// Eyes sets the eye trait.
func (b *PromptBuilder) Eyes(name string) *PromptBuilder {
	b.eyes = name
	return b
}

// Style sets the art style trait.
func (b *PromptBuilder) Style(name string) *PromptBuilder {
	b.style = name
	return b
}

// Trait routes a drawn word to its slot by trait type. Unknown types are
// ignored so newer collections cannot break older oracles.
func (b *PromptBuilder) Trait(typ uint32, name string) *PromptBuilder {
	switch typ {
	case TypeCharacter:
		return b.Character(name)
	case TypeHat:
		return b.Hat(name)
	case TypeTool:
		return b.Tool(name)
	case TypeColor:
		return b.Color(name)
	case TypeEyes:
		return b.Eyes(name)
	case TypeStyle:
		return b.Style(name)
	}
	return b
}

// Build renders the final prompt string.
func (b *PromptBuilder) Build() string {
	parts := make([]string, 0, 7)
	subject := b.starter
	if b.character != "" {
		subject += " " + b.character
	}
	parts = append(parts, subject)
	if b.hat != "" {
		parts = append(parts, "wearing a "+b.hat+" on the head")
	}
	if b.color != "" {
		parts = append(parts, b.color)
	}
	if b.tool != "" {
		parts = append(parts, "with "+b.tool+" in his hand")
	}
	if b.eyes != "" {
		parts = append(parts, b.eyes)
	}
	if b.style != "" {
		parts = append(parts, b.style+" style")
	}
	parts = append(parts, b.trailer)
	return strings.Join(parts, ", ")
}
