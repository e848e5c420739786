package playlist

import "github.com/osa030/pomobox/internal/domain/media"

// Positions maps a media ref to the millisecond offset where its playback
// resumes.
type Positions map[media.Ref]int64

// NewPositions copies src into a new map. A nil src yields an empty map.
func NewPositions(src map[string]int64) Positions {
	p := make(Positions, len(src))
	for k, v := range src {
		p[k] = v
	}
	return p
}

// Get returns the stored offset for ref, 0 when none is stored.
func (p Positions) Get(ref media.Ref) int64 {
	return p[ref]
}

// Set records the offset for ref.
func (p Positions) Set(ref media.Ref, offsetMs int64) {
	if offsetMs < 0 {
		offsetMs = 0
	}
	p[ref] = offsetMs
}

// Forget drops the stored offset for ref so the next play starts at 0.
func (p Positions) Forget(ref media.Ref) {
	delete(p, ref)
}

// Clear drops every stored offset.
func (p Positions) Clear() {
	for k := range p {
		delete(p, k)
	}
}

// Map returns a plain copy suitable for persistence.
func (p Positions) Map() map[string]int64 {
	out := make(map[string]int64, len(p))
	for k, v := range p {
		out[k] = v
	}
	return out
}
