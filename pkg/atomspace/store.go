package atomspace

import (
	"sort"
	"sync"

	"github.com/google/uuid"
)

// Store is the in-memory atom container. It is safe for concurrent use;
// reads take a shared lock so the read-mostly reasoning engines do not
// serialize against each other.
type Store struct {
	mu    sync.RWMutex
	atoms map[string]Atom
}

// NewStore creates an empty atom store.
func NewStore() *Store {
	return &Store{
		atoms: make(map[string]Atom),
	}
}

// AddAtom inserts or replaces an atom and returns its ID. An atom with an
// empty ID is assigned a fresh UUID. Truth values are clamped to [0,1] on
// the way in.
func (s *Store) AddAtom(a Atom) string {
	if a.ID == "" {
		a.ID = uuid.New().String()
	}
	if a.Truth != nil {
		tv := a.Truth.Clamp()
		a.Truth = &tv
	}
	stored := a.Clone()

	s.mu.Lock()
	s.atoms[stored.ID] = stored
	s.mu.Unlock()

	return stored.ID
}

// GetAtom returns a copy of the atom with the given ID.
func (s *Store) GetAtom(id string) (Atom, bool) {
	s.mu.RLock()
	a, ok := s.atoms[id]
	s.mu.RUnlock()
	if !ok {
		return Atom{}, false
	}
	return a.Clone(), true
}

// QueryAtoms returns copies of all atoms matching the pattern, sorted by
// ID so results are deterministic across calls.
func (s *Store) QueryAtoms(p Pattern) []Atom {
	s.mu.RLock()
	var out []Atom
	for _, a := range s.atoms {
		if p.Matches(&a) {
			out = append(out, a.Clone())
		}
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// RemoveAtom deletes the atom with the given ID. Returns false if the ID
// is unknown; unknown IDs are not an error.
func (s *Store) RemoveAtom(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.atoms[id]; !ok {
		return false
	}
	delete(s.atoms, id)
	return true
}

// UpdateAtom applies a merge-style patch to an existing atom, preserving
// its ID. Nil patch fields leave the stored value unchanged; metadata
// entries are merged key by key. Returns false if the ID is unknown.
func (s *Store) UpdateAtom(id string, patch AtomPatch) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	a, ok := s.atoms[id]
	if !ok {
		return false
	}

	if patch.Type != nil {
		a.Type = *patch.Type
	}
	if patch.Name != nil {
		a.Name = *patch.Name
	}
	if patch.Truth != nil {
		tv := patch.Truth.Clamp()
		a.Truth = &tv
	}
	if patch.Outgoing != nil {
		a.Outgoing = append([]string(nil), (*patch.Outgoing)...)
	}
	if len(patch.Metadata) > 0 {
		if a.Metadata == nil {
			a.Metadata = make(map[string]string, len(patch.Metadata))
		}
		for k, v := range patch.Metadata {
			a.Metadata[k] = v
		}
	}

	s.atoms[id] = a
	return true
}

// Len returns the number of atoms currently held.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.atoms)
}

// Lookup returns a lookup function suitable for Fingerprint, resolving
// child IDs against this store.
func (s *Store) Lookup() func(id string) (*Atom, bool) {
	return func(id string) (*Atom, bool) {
		a, ok := s.GetAtom(id)
		if !ok {
			return nil, false
		}
		return &a, true
	}
}
