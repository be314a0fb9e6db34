package worker

import (
	"sync"

	"github.com/kobaltstream/dubrelay/internal/domain"
)

// pendingAudioMap holds audio segments sent to STS, keyed by fragment id
// string, until their dubbed result or a fallback decision arrives.
type pendingAudioMap struct {
	mu   sync.Mutex
	segs map[string]domain.Segment
}

func newPendingAudioMap() *pendingAudioMap {
	return &pendingAudioMap{segs: make(map[string]domain.Segment)}
}

func (p *pendingAudioMap) store(seg domain.Segment) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.segs[seg.FragmentID.String()] = seg
}

func (p *pendingAudioMap) take(fragmentID string) (domain.Segment, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	seg, ok := p.segs[fragmentID]
	if ok {
		delete(p.segs, fragmentID)
	}
	return seg, ok
}
