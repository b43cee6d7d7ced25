package advisor

import "testing"

func TestExtractSymbolsSingleMention(t *testing.T) {
	got := ExtractSymbols("What about IBEX today?")
	if len(got) != 1 || got[0] != "^IBEX" {
		t.Fatalf("expected [^IBEX], got %v", got)
	}
}

func TestExtractSymbolsMultipleMentions(t *testing.T) {
	got := ExtractSymbols("Compare GSPC and N225")
	if len(got) != 2 {
		t.Fatalf("expected 2 symbols, got %v", got)
	}
	symbols := map[string]bool{}
	for _, s := range got {
		symbols[s] = true
	}
	if !symbols["^GSPC"] || !symbols["^N225"] {
		t.Fatalf("expected ^GSPC and ^N225, got %v", got)
	}
}

func TestExtractSymbolsCaretForm(t *testing.T) {
	got := ExtractSymbols("Is ^IBEX still a buy?")
	if len(got) != 1 || got[0] != "^IBEX" {
		t.Fatalf("expected [^IBEX], got %v", got)
	}
}

func TestExtractSymbolsNoMention(t *testing.T) {
	got := ExtractSymbols("What looks good right now?")
	if len(got) != 0 {
		t.Fatalf("expected empty, got %v", got)
	}
}

func TestExtractSymbolsCaseInsensitive(t *testing.T) {
	got := ExtractSymbols("how's ibex doing?")
	if len(got) != 1 || got[0] != "^IBEX" {
		t.Fatalf("expected [^IBEX], got %v", got)
	}
}

func TestExtractSymbolsDeduplication(t *testing.T) {
	got := ExtractSymbols("IBEX IBEX IBEX never sleeps IBEX")
	if len(got) != 1 || got[0] != "^IBEX" {
		t.Fatalf("expected [^IBEX], got %v", got)
	}
}
