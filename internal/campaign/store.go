package campaign

import (
	"errors"
	"fmt"
	"sync"

	"rtb-bidder/internal/cache"
)

var ErrDuplicate = errors.New("duplicate campaign")

// Origin records which source installed a campaign. See Store.Sync.
type Origin string

const (
	// OriginLocal covers the campaign file and inline bus commands.
	OriginLocal    Origin = "local"
	OriginDatabase Origin = "database"
)

// Snapshot is the set of active campaigns at one point in time. It is
// never modified after it has been published.
type Snapshot struct {
	campaigns []*Campaign
	origins   []Origin
	index     map[Key]int
}

func newSnapshot(cs []*Campaign, origins []Origin) (*Snapshot, error) {
	s := &Snapshot{campaigns: cs, origins: origins, index: make(map[Key]int, len(cs))}
	for i, c := range cs {
		if _, dup := s.index[c.Key()]; dup {
			return nil, fmt.Errorf("%w: %s", ErrDuplicate, c.Key())
		}
		s.index[c.Key()] = i
	}
	return s, nil
}

// Origin reports where the campaign with the given key came from.
func (s *Snapshot) Origin(owner, id string) (Origin, bool) {
	i, ok := s.index[Key{Owner: owner, ID: id}]
	if !ok {
		return "", false
	}
	return s.origins[i], true
}

func (s *Snapshot) Len() int { return len(s.campaigns) }

// Campaigns returns the snapshot's backing slice. Callers must not modify it.
func (s *Snapshot) Campaigns() []*Campaign { return s.campaigns }

func (s *Snapshot) Lookup(owner, id string) (*Campaign, bool) {
	i, ok := s.index[Key{Owner: owner, ID: id}]
	if !ok {
		return nil, false
	}
	return s.campaigns[i], true
}

// Store publishes campaign snapshots. Reads are lock-free; writers are
// serialized and always install a fresh snapshot.
type Store struct {
	mu   sync.Mutex
	snap cache.Snapshot[Snapshot]
}

func NewStore() *Store {
	s := &Store{}
	s.snap.Store(&Snapshot{index: map[Key]int{}})
	return s
}

// Current returns the latest published snapshot.
func (s *Store) Current() *Snapshot { return s.snap.Load() }

// Publish replaces the whole campaign set. Every campaign is tagged
// OriginLocal.
func (s *Store) Publish(cs []*Campaign) error {
	owned := make([]*Campaign, len(cs))
	copy(owned, cs)
	origins := make([]Origin, len(cs))
	for i := range origins {
		origins[i] = OriginLocal
	}
	next, err := newSnapshot(owned, origins)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.snap.Store(next)
	return nil
}

// Sync makes cs the complete set of campaigns tagged with origin. Campaigns
// from other origins stay unless cs carries the same key, in which case the
// entry from cs wins and takes over the origin. On error nothing changes.
func (s *Store) Sync(origin Origin, cs []*Campaign) error {
	incoming := make(map[Key]struct{}, len(cs))
	for _, c := range cs {
		if _, dup := incoming[c.Key()]; dup {
			return fmt.Errorf("%w: %s", ErrDuplicate, c.Key())
		}
		incoming[c.Key()] = struct{}{}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	cur := s.snap.Load()
	campaigns := make([]*Campaign, 0, len(cur.campaigns)+len(cs))
	origins := make([]Origin, 0, len(cur.campaigns)+len(cs))
	for i, c := range cur.campaigns {
		if cur.origins[i] == origin {
			continue
		}
		if _, replaced := incoming[c.Key()]; replaced {
			continue
		}
		campaigns = append(campaigns, c)
		origins = append(origins, cur.origins[i])
	}
	for _, c := range cs {
		campaigns = append(campaigns, c)
		origins = append(origins, origin)
	}

	next, err := newSnapshot(campaigns, origins)
	if err != nil {
		return err
	}
	s.snap.Store(next)
	return nil
}

// Upsert replaces the campaign with the same key, or appends it, tagged
// OriginLocal.
func (s *Store) Upsert(c *Campaign) { s.UpsertFrom(OriginLocal, c) }

// UpsertFrom is Upsert with an explicit origin.
func (s *Store) UpsertFrom(origin Origin, c *Campaign) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cur := s.snap.Load()
	next := &Snapshot{
		campaigns: make([]*Campaign, len(cur.campaigns), len(cur.campaigns)+1),
		origins:   make([]Origin, len(cur.origins), len(cur.origins)+1),
		index:     make(map[Key]int, len(cur.campaigns)+1),
	}
	copy(next.campaigns, cur.campaigns)
	copy(next.origins, cur.origins)
	for k, i := range cur.index {
		next.index[k] = i
	}

	if i, ok := next.index[c.Key()]; ok {
		next.campaigns[i] = c
		next.origins[i] = origin
	} else {
		next.index[c.Key()] = len(next.campaigns)
		next.campaigns = append(next.campaigns, c)
		next.origins = append(next.origins, origin)
	}
	s.snap.Store(next)
}

// Remove deletes the campaign and reports whether it existed.
func (s *Store) Remove(owner, id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	cur := s.snap.Load()
	at, ok := cur.index[Key{Owner: owner, ID: id}]
	if !ok {
		return false
	}

	next := &Snapshot{
		campaigns: make([]*Campaign, 0, len(cur.campaigns)-1),
		origins:   make([]Origin, 0, len(cur.campaigns)-1),
		index:     make(map[Key]int, len(cur.campaigns)-1),
	}
	for i, c := range cur.campaigns {
		if i == at {
			continue
		}
		next.index[c.Key()] = len(next.campaigns)
		next.campaigns = append(next.campaigns, c)
		next.origins = append(next.origins, cur.origins[i])
	}
	s.snap.Store(next)
	return true
}

func (s *Store) Size() int { return s.Current().Len() }

// List returns a copy of the current campaign list.
func (s *Store) List() []*Campaign {
	cur := s.Current().campaigns
	out := make([]*Campaign, len(cur))
	copy(out, cur)
	return out
}
