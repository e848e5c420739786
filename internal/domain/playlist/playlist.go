// Package playlist provides the Playlist domain entity and resume positions.
package playlist

import (
	"math/rand/v2"

	"github.com/osa030/pomobox/internal/domain/media"
)

// Playlist is an ordered list of media refs for one timer phase.
// Items are located by value; there is no stored cursor.
type Playlist struct {
	items []media.Ref
}

// New creates a playlist holding the given refs.
func New(refs ...media.Ref) *Playlist {
	p := &Playlist{items: make([]media.Ref, 0, len(refs))}
	p.items = append(p.items, refs...)
	return p
}

// Len returns the number of entries.
func (p *Playlist) Len() int {
	return len(p.items)
}

// Items returns a copy of the entries.
func (p *Playlist) Items() []media.Ref {
	out := make([]media.Ref, len(p.items))
	copy(out, p.items)
	return out
}

// Append adds refs to the end of the playlist.
func (p *Playlist) Append(refs ...media.Ref) {
	p.items = append(p.items, refs...)
}

// First returns the first entry.
func (p *Playlist) First() (media.Ref, bool) {
	if len(p.items) == 0 {
		return "", false
	}
	return p.items[0], true
}

// IndexOf returns the index of the first entry equal to ref, or -1.
func (p *Playlist) IndexOf(ref media.Ref) int {
	for i, item := range p.items {
		if item == ref {
			return i
		}
	}
	return -1
}

// Contains reports whether ref is in the playlist.
func (p *Playlist) Contains(ref media.Ref) bool {
	return p.IndexOf(ref) >= 0
}

// Next returns the entry following ref.
// ok is false when ref is the last entry or absent.
func (p *Playlist) Next(ref media.Ref) (media.Ref, bool) {
	i := p.IndexOf(ref)
	if i < 0 || i+1 >= len(p.items) {
		return "", false
	}
	return p.items[i+1], true
}

// Previous returns the entry preceding ref.
// ok is false when ref is the first entry or absent.
func (p *Playlist) Previous(ref media.Ref) (media.Ref, bool) {
	i := p.IndexOf(ref)
	if i <= 0 {
		return "", false
	}
	return p.items[i-1], true
}

// Replace rewrites the first entry equal to old with ref.
// Returns false when old is not present.
func (p *Playlist) Replace(old, ref media.Ref) bool {
	i := p.IndexOf(old)
	if i < 0 {
		return false
	}
	p.items[i] = ref
	return true
}

// Shuffle permutes the entries in place.
func (p *Playlist) Shuffle(r *rand.Rand) {
	r.Shuffle(len(p.items), func(i, j int) {
		p.items[i], p.items[j] = p.items[j], p.items[i]
	})
}

// Clear removes all entries.
func (p *Playlist) Clear() {
	p.items = p.items[:0]
}
