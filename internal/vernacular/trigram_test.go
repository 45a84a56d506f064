package vernacular

import "testing"

func TestTrigramSimilarity_IdenticalStringsScoreOne(t *testing.T) {
	if sim := TrigramSimilarity("Inventory Processor", "Inventory Processor"); sim != 1.0 {
		t.Fatalf("got %f, want 1.0", sim)
	}
}

func TestTrigramSimilarity_CloseVariantsScoreHigh(t *testing.T) {
	sim := TrigramSimilarity("Inventory Processor", "inventory processr")
	if sim < similarityThreshold {
		t.Fatalf("got %f, want >= %f", sim, similarityThreshold)
	}
}

func TestTrigramSimilarity_UnrelatedStringsScoreLow(t *testing.T) {
	sim := TrigramSimilarity("Inventory Processor", "Shipment Label Printer")
	if sim >= similarityThreshold {
		t.Fatalf("got %f, want < %f", sim, similarityThreshold)
	}
}

func TestTrigramSimilarity_EmptyStringScoresZero(t *testing.T) {
	if sim := TrigramSimilarity("", "anything"); sim != 0 {
		t.Fatalf("got %f, want 0", sim)
	}
}
