package room

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// DefaultScale is the deck new rooms start with.
const DefaultScale = "fibonacci"

// builtinDecks covers the common estimation decks. A YAML deck file can
// add to or override these.
var builtinDecks = map[string][]string{
	"fibonacci": {"0", "1", "2", "3", "5", "8", "13", "21", "34", "?", "☕"},
	"tshirt":    {"XS", "S", "M", "L", "XL", "XXL", "?"},
	"powers":    {"1", "2", "4", "8", "16", "32", "?"},
}

var decks = cloneDecks(builtinDecks)

func cloneDecks(src map[string][]string) map[string][]string {
	out := make(map[string][]string, len(src))
	for name, cards := range src {
		out[name] = append([]string(nil), cards...)
	}
	return out
}

// KnownScale reports whether a deck by that name exists.
func KnownScale(name string) bool {
	_, ok := decks[name]
	return ok
}

// DeckCards returns the card faces of a deck, nil if unknown.
func DeckCards(name string) []string {
	return decks[name]
}

// deckFile is the YAML shape of a custom deck definition file.
type deckFile struct {
	Decks map[string][]string `yaml:"decks"`
}

// LoadDecks merges deck definitions from a YAML file over the builtins.
func LoadDecks(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read deck file: %w", err)
	}
	var f deckFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return fmt.Errorf("parse deck file: %w", err)
	}
	merged := cloneDecks(builtinDecks)
	for name, cards := range f.Decks {
		if len(cards) == 0 {
			return fmt.Errorf("deck %q has no cards", name)
		}
		merged[name] = append([]string(nil), cards...)
	}
	decks = merged
	return nil
}
