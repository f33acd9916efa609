package optistore

import (
	"sort"
	"sync"
	"time"

	"github.com/optistore/optistore/cache"
)

// Profile is a named bundle of tuning knobs together with its observed
// outcome counters. Profiles capture "what worked": the registry tracks how
// often passes under each profile succeeded so a caller can switch to the
// best-scoring one.
type Profile struct {
	Name string

	CacheMaxEntries  int
	CachePolicy      cache.Policy
	CacheTTL         time.Duration
	QuantizationBits int
	EfSearch         int

	uses      int64
	successes int64
}

// Uses returns how many optimization passes ran under this profile.
func (p *Profile) Uses() int64 { return p.uses }

// Score returns the success ratio, 0 for an unused profile.
func (p *Profile) Score() float64 {
	if p.uses == 0 {
		return 0
	}
	return float64(p.successes) / float64(p.uses)
}

// defaultProfile derives the initial profile from the construction options.
func defaultProfile(o options) *Profile {
	p := &Profile{
		Name:             "default",
		QuantizationBits: o.quantizationBits,
	}

	copts := cache.DefaultOptions
	for _, fn := range o.cacheOptions {
		fn(&copts)
	}
	p.CacheMaxEntries = copts.MaxEntries
	p.CachePolicy = copts.Policy
	p.CacheTTL = copts.DefaultTTL

	return p
}

// ProfileRegistry holds the known profiles and the active one. All methods
// are safe for concurrent use.
type ProfileRegistry struct {
	mu       sync.RWMutex
	profiles map[string]*Profile
	active   string
}

// NewProfileRegistry creates a registry seeded with the given profile, which
// becomes active.
func NewProfileRegistry(initial *Profile) *ProfileRegistry {
	r := &ProfileRegistry{
		profiles: make(map[string]*Profile),
	}
	r.profiles[initial.Name] = initial
	r.active = initial.Name
	return r
}

// Register adds or replaces a profile. Outcome counters of a replaced
// profile are discarded.
func (r *ProfileRegistry) Register(p *Profile) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.profiles[p.Name] = p
}

// Get returns a copy of the named profile.
func (r *ProfileRegistry) Get(name string) (Profile, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	p, ok := r.profiles[name]
	if !ok {
		return Profile{}, false
	}
	return *p, true
}

// Names returns the registered profile names, sorted.
func (r *ProfileRegistry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.profiles))
	for name := range r.profiles {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// ActiveName returns the name of the active profile.
func (r *ProfileRegistry) ActiveName() string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.active
}

// SetActive switches the active profile. Unknown names are ignored.
func (r *ProfileRegistry) SetActive(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.profiles[name]; ok {
		r.active = name
	}
}

// RecordOutcome accumulates one pass outcome for the named profile.
func (r *ProfileRegistry) RecordOutcome(name string, success bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	p, ok := r.profiles[name]
	if !ok {
		return
	}
	p.uses++
	if success {
		p.successes++
	}
}

// SelectBest returns the name of the highest-scoring profile among those
// with at least minUses observations. Ties keep the active profile if it is
// among the best; otherwise the lexically first wins, for determinism.
func (r *ProfileRegistry) SelectBest(minUses int64) string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	best := r.active
	bestScore := -1.0
	if p, ok := r.profiles[r.active]; ok {
		bestScore = p.Score()
	}

	names := make([]string, 0, len(r.profiles))
	for name := range r.profiles {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		p := r.profiles[name]
		if p.uses < minUses || name == r.active {
			continue
		}
		if p.Score() > bestScore {
			best = name
			bestScore = p.Score()
		}
	}
	return best
}
