package room

import (
	"os"
	"path/filepath"
	"testing"
)

func TestBuiltinDecks(t *testing.T) {
	if !KnownScale(DefaultScale) {
		t.Fatalf("default scale %q unknown", DefaultScale)
	}
	if cards := DeckCards("tshirt"); len(cards) == 0 {
		t.Error("tshirt deck empty")
	}
	if KnownScale("nope") {
		t.Error("unknown deck reported as known")
	}
}

func TestLoadDecksMergesOverBuiltins(t *testing.T) {
	t.Cleanup(func() { decks = cloneDecks(builtinDecks) })

	path := filepath.Join(t.TempDir(), "decks.yaml")
	content := "decks:\n  hours: [\"1\", \"2\", \"4\", \"8\"]\n  tshirt: [\"S\", \"M\", \"L\"]\n"
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	if err := LoadDecks(path); err != nil {
		t.Fatalf("LoadDecks: %v", err)
	}
	if !KnownScale("hours") {
		t.Error("custom deck not loaded")
	}
	if got := len(DeckCards("tshirt")); got != 3 {
		t.Errorf("overridden tshirt deck has %d cards, want 3", got)
	}
	if !KnownScale("fibonacci") {
		t.Error("builtin deck lost in merge")
	}
}

func TestLoadDecksRejectsEmptyDeck(t *testing.T) {
	path := filepath.Join(t.TempDir(), "decks.yaml")
	if err := os.WriteFile(path, []byte("decks:\n  empty: []\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := LoadDecks(path); err == nil {
		t.Error("empty deck accepted")
	}
}
