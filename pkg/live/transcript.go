package live

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Speaker identifies which side of the conversation produced an entry.
type Speaker string

const (
	SpeakerUser  Speaker = "user"
	SpeakerModel Speaker = "model"
)

// Citation is a grounding source reference attached to a model entry when
// search augmentation was used.
type Citation struct {
	URI   string `json:"uri"`
	Title string `json:"title"`
}

// TranscriptEntry is one finalized side of a completed turn. Immutable once
// appended.
type TranscriptEntry struct {
	ID        string     `json:"id"`
	Speaker   Speaker    `json:"speaker"`
	Text      string     `json:"text"`
	Citations []Citation `json:"citations,omitempty"`
	CreatedAt time.Time  `json:"created_at"`
}

// Transcript projects the conversation state observers render: the finalized
// entry sequence plus the mutable interim accumulator for the in-progress
// turn. Entries are created only at turn completion.
type Transcript struct {
	mu           sync.RWMutex
	entries      []TranscriptEntry
	interimUser  strings.Builder
	interimModel strings.Builder
	now          func() time.Time
}

// NewTranscript creates an empty transcript.
func NewTranscript() *Transcript {
	return &Transcript{now: time.Now}
}

// AppendInput accumulates a user transcription delta and returns the interim
// user text so far.
func (t *Transcript) AppendInput(delta string) string {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.interimUser.WriteString(delta)
	return t.interimUser.String()
}

// AppendOutput accumulates a model transcription delta and returns the
// interim model text so far.
func (t *Transcript) AppendOutput(delta string) string {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.interimModel.WriteString(delta)
	return t.interimModel.String()
}

// Interim returns the in-progress user and model text.
func (t *Transcript) Interim() (user, model string) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.interimUser.String(), t.interimModel.String()
}

// HasInput reports whether the current turn accumulated any user text.
func (t *Transcript) HasInput() bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return strings.TrimSpace(t.interimUser.String()) != ""
}

// FinalizeTurn converts the interim accumulator into finalized entries, one
// per non-empty side, user first. Citations attach to the model entry. The
// interim accumulator is cleared; appended entries are returned. A turn with
// no accumulated text on either side appends nothing.
func (t *Transcript) FinalizeTurn(citations []Citation) []TranscriptEntry {
	t.mu.Lock()
	defer t.mu.Unlock()

	var appended []TranscriptEntry
	created := t.now()

	if user := t.interimUser.String(); strings.TrimSpace(user) != "" {
		appended = append(appended, TranscriptEntry{
			ID:        newEntryID(created),
			Speaker:   SpeakerUser,
			Text:      user,
			CreatedAt: created,
		})
	}
	if model := t.interimModel.String(); strings.TrimSpace(model) != "" {
		appended = append(appended, TranscriptEntry{
			ID:        newEntryID(created),
			Speaker:   SpeakerModel,
			Text:      model,
			Citations: citations,
			CreatedAt: created,
		})
	}

	t.entries = append(t.entries, appended...)
	t.interimUser.Reset()
	t.interimModel.Reset()

	out := make([]TranscriptEntry, len(appended))
	copy(out, appended)
	return out
}

// Entries returns a copy of the finalized transcript.
func (t *Transcript) Entries() []TranscriptEntry {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]TranscriptEntry, len(t.entries))
	copy(out, t.entries)
	return out
}

// Len returns the number of finalized entries.
func (t *Transcript) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.entries)
}

// Clear drops all finalized entries and the interim accumulator. Called on
// session (re)start and new-conversation resets.
func (t *Transcript) Clear() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.entries = nil
	t.interimUser.Reset()
	t.interimModel.Reset()
}

func newEntryID(created time.Time) string {
	return fmt.Sprintf("ent_%d_%s", created.UnixMilli(), uuid.NewString()[:8])
}
