package server

import (
	"sync"

	"github.com/teonet-go/teoweb/pkg/protocol"
)

// PatchHistory is a ring of patch frames indexed by sequence.
// Sequences are added in strictly increasing order without gaps, so the
// ring always holds the contiguous range [MinSeq, MaxSeq].
type PatchHistory struct {
	mu     sync.RWMutex
	frames []*protocol.Frame
	count  int
	maxSeq uint64
}

// NewPatchHistory creates a history keeping the last capacity frames.
func NewPatchHistory(capacity int) *PatchHistory {
	if capacity <= 0 {
		capacity = 64
	}
	return &PatchHistory{frames: make([]*protocol.Frame, capacity)}
}

// Add stores the frame for seq. A seq that does not follow MaxSeq starts a
// new range and drops everything older.
func (h *PatchHistory) Add(seq uint64, frame *protocol.Frame) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.count > 0 && seq != h.maxSeq+1 {
		h.count = 0
	}
	h.frames[seq%uint64(len(h.frames))] = frame
	h.maxSeq = seq
	if h.count < len(h.frames) {
		h.count++
	}
}

// After returns the frames with sequences in (lastSeq, MaxSeq] in order.
// ok is false when some of them are no longer kept or lastSeq is ahead of
// the history.
func (h *PatchHistory) After(lastSeq uint64) (frames []*protocol.Frame, ok bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	if lastSeq == h.maxSeq {
		return nil, true
	}
	if lastSeq > h.maxSeq || h.count == 0 || lastSeq+1 < h.minSeq() {
		return nil, false
	}
	for seq := lastSeq + 1; seq <= h.maxSeq; seq++ {
		frames = append(frames, h.frames[seq%uint64(len(h.frames))])
	}
	return frames, true
}

func (h *PatchHistory) minSeq() uint64 {
	return h.maxSeq - uint64(h.count) + 1
}

// Reset drops all frames and makes seq the current sequence.
func (h *PatchHistory) Reset(seq uint64) {
	h.mu.Lock()
	defer h.mu.Unlock()
	clear(h.frames)
	h.count = 0
	h.maxSeq = seq
}

// MinSeq returns the oldest sequence kept, or 0 when empty.
func (h *PatchHistory) MinSeq() uint64 {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if h.count == 0 {
		return 0
	}
	return h.minSeq()
}

// MaxSeq returns the newest sequence added.
func (h *PatchHistory) MaxSeq() uint64 {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.maxSeq
}

// Len returns the number of frames kept.
func (h *PatchHistory) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.count
}
