package live

import (
	"fmt"
	"sync"
)

// PlaybackItem is one queued clip of synthesized speech. The queue owns the
// underlying buffer: it is released exactly once, by FinishHead or Clear,
// after which PCM returns nil.
type PlaybackItem struct {
	ID         string
	SampleRate int

	mu       sync.Mutex
	pcm      []byte
	released bool
}

// PCM returns the clip's audio, or nil once the item has been released.
func (it *PlaybackItem) PCM() []byte {
	it.mu.Lock()
	defer it.mu.Unlock()
	return it.pcm
}

// DurationMS returns the clip length in milliseconds.
func (it *PlaybackItem) DurationMS() int {
	it.mu.Lock()
	defer it.mu.Unlock()
	if it.SampleRate <= 0 {
		return 0
	}
	return len(it.pcm) * 1000 / (it.SampleRate * 2)
}

// release frees the clip's buffer. Returns false if already released.
func (it *PlaybackItem) release() bool {
	it.mu.Lock()
	defer it.mu.Unlock()
	if it.released {
		return false
	}
	it.released = true
	it.pcm = nil
	return true
}

// PlaybackQueue serializes synthesized speech strictly FIFO so clips never
// overlap. One player at a time drains it: StartNext marks the head playing,
// FinishHead releases it after natural end or a start failure. Clear
// releases everything at once on interruption or teardown; the epoch token
// lets a player detect that its in-flight head was cleared underneath it.
type PlaybackQueue struct {
	mu      sync.Mutex
	items   []*PlaybackItem
	playing bool
	epoch   uint64
	seq     uint64

	enqueued int
	released int
	playedMS int

	wake chan struct{}
}

// NewPlaybackQueue creates an empty queue.
func NewPlaybackQueue() *PlaybackQueue {
	return &PlaybackQueue{wake: make(chan struct{}, 1)}
}

// Enqueue appends a clip and wakes the player. The queue takes ownership of
// pcm; callers must not reuse the slice.
func (q *PlaybackQueue) Enqueue(pcm []byte, sampleRate int) *PlaybackItem {
	q.mu.Lock()
	q.seq++
	item := &PlaybackItem{
		ID:         fmt.Sprintf("clip_%d", q.seq),
		SampleRate: sampleRate,
		pcm:        pcm,
	}
	q.items = append(q.items, item)
	q.enqueued++
	q.mu.Unlock()

	select {
	case q.wake <- struct{}{}:
	default:
	}
	return item
}

// Wake signals whenever a clip is enqueued. The player selects on it.
func (q *PlaybackQueue) Wake() <-chan struct{} {
	return q.wake
}

// StartNext marks the head clip as playing and returns it together with the
// queue epoch the player must present to FinishHead. It returns false while
// another clip is playing or the queue is empty.
func (q *PlaybackQueue) StartNext() (*PlaybackItem, uint64, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.playing || len(q.items) == 0 {
		return nil, 0, false
	}
	q.playing = true
	return q.items[0], q.epoch, true
}

// FinishHead removes and releases the head clip started under epoch. A stale
// epoch means Clear already released everything; the call is then a no-op.
// Playback failures land here too so the queue advances instead of stalling.
func (q *PlaybackQueue) FinishHead(epoch uint64) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	if epoch != q.epoch || !q.playing || len(q.items) == 0 {
		return false
	}
	head := q.items[0]
	q.items = q.items[1:]
	q.playing = false
	q.playedMS += head.DurationMS()
	if head.release() {
		q.released++
	}
	return true
}

// Clear releases every queued clip, including a currently playing head, and
// bumps the epoch. Returns the number of clips released. Called on the
// interruption signal and on session teardown.
func (q *PlaybackQueue) Clear() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	n := 0
	for _, item := range q.items {
		if item.release() {
			q.released++
			n++
		}
	}
	q.items = nil
	q.playing = false
	q.epoch++
	return n
}

// Len returns the number of queued clips, including one mid-playback.
func (q *PlaybackQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Playing reports whether a clip is currently marked playing.
func (q *PlaybackQueue) Playing() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.playing
}

// PlayedMS returns the total duration of clips drained through FinishHead.
// Clips discarded by Clear were interrupted, not played, and do not count.
func (q *PlaybackQueue) PlayedMS() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.playedMS
}

// BufferedMS returns the total duration of queued, unreleased audio.
func (q *PlaybackQueue) BufferedMS() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	total := 0
	for _, item := range q.items {
		total += item.DurationMS()
	}
	return total
}

// Counts returns how many clips were ever enqueued and released. Every
// enqueued clip must eventually be released exactly once.
func (q *PlaybackQueue) Counts() (enqueued, released int) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.enqueued, q.released
}
