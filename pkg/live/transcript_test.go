package live

import (
	"strings"
	"testing"
)

func TestTranscript_FinalizeTurnAppendsBothSpeakers(t *testing.T) {
	tr := NewTranscript()
	tr.AppendInput("hello")
	tr.AppendOutput("hi")

	entries := tr.FinalizeTurn(nil)
	if len(entries) != 2 {
		t.Fatalf("Expected 2 entries, got %d", len(entries))
	}
	if entries[0].Speaker != SpeakerUser || entries[0].Text != "hello" {
		t.Errorf("Expected user entry first, got %+v", entries[0])
	}
	if entries[1].Speaker != SpeakerModel || entries[1].Text != "hi" {
		t.Errorf("Expected model entry second, got %+v", entries[1])
	}

	user, model := tr.Interim()
	if user != "" || model != "" {
		t.Errorf("Expected empty interim after finalize, got user=%q model=%q", user, model)
	}
	if tr.Len() != 2 {
		t.Errorf("Expected 2 finalized entries, got %d", tr.Len())
	}
}

func TestTranscript_FinalizeTurnEmptyAppendsNothing(t *testing.T) {
	tr := NewTranscript()

	if entries := tr.FinalizeTurn(nil); len(entries) != 0 {
		t.Fatalf("Expected no entries for an empty turn, got %d", len(entries))
	}
	if tr.Len() != 0 {
		t.Errorf("Expected empty transcript, got %d entries", tr.Len())
	}
}

func TestTranscript_FinalizeTurnWhitespaceOnlyIgnored(t *testing.T) {
	tr := NewTranscript()
	tr.AppendInput("   ")
	tr.AppendOutput("\n\t")

	if entries := tr.FinalizeTurn(nil); len(entries) != 0 {
		t.Fatalf("Expected whitespace-only interim to append nothing, got %d entries", len(entries))
	}
}

func TestTranscript_FinalizeTurnModelOnly(t *testing.T) {
	tr := NewTranscript()
	tr.AppendOutput("Good morning!")

	entries := tr.FinalizeTurn(nil)
	if len(entries) != 1 {
		t.Fatalf("Expected 1 entry, got %d", len(entries))
	}
	if entries[0].Speaker != SpeakerModel {
		t.Errorf("Expected model speaker, got %q", entries[0].Speaker)
	}
}

func TestTranscript_CitationsAttachToModelEntry(t *testing.T) {
	tr := NewTranscript()
	tr.AppendInput("what is the tallest mountain")
	tr.AppendOutput("Mount Everest, at 8849 meters.")

	cits := []Citation{{URI: "https://example.com/everest", Title: "Everest"}}
	entries := tr.FinalizeTurn(cits)
	if len(entries) != 2 {
		t.Fatalf("Expected 2 entries, got %d", len(entries))
	}
	if len(entries[0].Citations) != 0 {
		t.Errorf("Expected no citations on the user entry, got %d", len(entries[0].Citations))
	}
	if len(entries[1].Citations) != 1 || entries[1].Citations[0].URI != "https://example.com/everest" {
		t.Errorf("Expected citation on the model entry, got %+v", entries[1].Citations)
	}
}

func TestTranscript_AppendAccumulates(t *testing.T) {
	tr := NewTranscript()

	if got := tr.AppendInput("hel"); got != "hel" {
		t.Errorf("Expected accumulated %q, got %q", "hel", got)
	}
	if got := tr.AppendInput("lo"); got != "hello" {
		t.Errorf("Expected accumulated %q, got %q", "hello", got)
	}

	user, _ := tr.Interim()
	if user != "hello" {
		t.Errorf("Expected interim user %q, got %q", "hello", user)
	}
	if !tr.HasInput() {
		t.Error("Expected HasInput=true with accumulated text")
	}
}

func TestTranscript_HasInputIgnoresWhitespace(t *testing.T) {
	tr := NewTranscript()
	if tr.HasInput() {
		t.Error("Expected HasInput=false on a fresh transcript")
	}
	tr.AppendInput("  ")
	if tr.HasInput() {
		t.Error("Expected HasInput=false for whitespace-only interim")
	}
}

func TestTranscript_ClearDropsEverything(t *testing.T) {
	tr := NewTranscript()
	tr.AppendInput("hello")
	tr.AppendOutput("hi")
	tr.FinalizeTurn(nil)
	tr.AppendInput("partial")

	tr.Clear()

	if tr.Len() != 0 {
		t.Errorf("Expected no entries after clear, got %d", tr.Len())
	}
	user, model := tr.Interim()
	if user != "" || model != "" {
		t.Errorf("Expected empty interim after clear, got user=%q model=%q", user, model)
	}
}

func TestTranscript_EntryIDs(t *testing.T) {
	tr := NewTranscript()
	tr.AppendInput("one")
	tr.AppendOutput("two")
	entries := tr.FinalizeTurn(nil)

	seen := map[string]bool{}
	for _, e := range entries {
		if !strings.HasPrefix(e.ID, "ent_") {
			t.Errorf("Expected ent_ id prefix, got %q", e.ID)
		}
		if seen[e.ID] {
			t.Errorf("Expected unique entry ids, %q repeated", e.ID)
		}
		seen[e.ID] = true
		if e.CreatedAt.IsZero() {
			t.Error("Expected entry timestamp to be set")
		}
	}
}
