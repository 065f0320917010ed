// Package atomspace provides the in-memory knowledge store shared by the
// reasoning engines. Knowledge is held as typed atoms: immutable value
// records with an optional probabilistic truth value and ordered child
// links. Atoms are owned exclusively by the Store and replaced wholesale
// on update.
//
// The store is local to a single process. Remote reasoning nodes each hold
// their own atomspace; nothing in this package replicates state across
// nodes.
package atomspace

import (
	"fmt"
	"sort"
	"strings"

	"github.com/google/uuid"
)

// TruthValue expresses probabilistic belief in an atom as a
// strength/confidence pair. Both components are kept in [0,1].
type TruthValue struct {
	Strength   float64 `json:"strength"`
	Confidence float64 `json:"confidence"`
}

// Clamp returns a copy of the truth value with both components forced
// into [0,1]. The store applies this on every write so stored atoms never
// carry out-of-range belief values.
func (tv TruthValue) Clamp() TruthValue {
	return TruthValue{
		Strength:   clamp01(tv.Strength),
		Confidence: clamp01(tv.Confidence),
	}
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

// Atom is a typed knowledge record. Identity is the ID; the remaining
// fields form an immutable value that is replaced wholesale on update.
// Outgoing holds the IDs of child atoms in order, forming link structure.
type Atom struct {
	ID       string            `json:"id"`
	Type     string            `json:"type"`
	Name     string            `json:"name,omitempty"`
	Truth    *TruthValue       `json:"truth,omitempty"`
	Outgoing []string          `json:"outgoing,omitempty"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

// Validate checks that the atom carries the fields the store requires.
// An empty ID is allowed (the store assigns one); a non-empty ID must be a
// valid UUID.
func (a *Atom) Validate() error {
	if a.Type == "" {
		return fmt.Errorf("atom type cannot be empty")
	}
	if a.ID != "" {
		if _, err := uuid.Parse(a.ID); err != nil {
			return fmt.Errorf("invalid atom ID: not a valid UUID")
		}
	}
	return nil
}

// Clone returns a deep copy of the atom so callers can never mutate
// store-owned state through shared slices or maps.
func (a Atom) Clone() Atom {
	out := a
	if a.Truth != nil {
		tv := *a.Truth
		out.Truth = &tv
	}
	if a.Outgoing != nil {
		out.Outgoing = append([]string(nil), a.Outgoing...)
	}
	if a.Metadata != nil {
		out.Metadata = make(map[string]string, len(a.Metadata))
		for k, v := range a.Metadata {
			out.Metadata[k] = v
		}
	}
	return out
}

// Pattern describes a predicate match over atoms. Zero-value fields match
// anything: an empty Type matches all types, an empty Name matches all
// names, and a nil Arity matches any outgoing shape. Matching is exact;
// there is no partial or fuzzy matching.
type Pattern struct {
	Type  string
	Name  string
	Arity *int
}

// Matches reports whether the atom satisfies the pattern.
func (p Pattern) Matches(a *Atom) bool {
	if p.Type != "" && a.Type != p.Type {
		return false
	}
	if p.Name != "" && a.Name != p.Name {
		return false
	}
	if p.Arity != nil && len(a.Outgoing) != *p.Arity {
		return false
	}
	return true
}

// AtomPatch carries the mutable portion of an atom for merge-style
// updates. Nil fields are left unchanged; non-nil fields replace the
// stored value.
type AtomPatch struct {
	Type     *string
	Name     *string
	Truth    *TruthValue
	Outgoing *[]string
	Metadata map[string]string
}

// Fingerprint computes a canonical structural serialization of an atom:
// its type, name, and the recursive fingerprints of its outgoing children
// as resolved against the given lookup. Atom IDs are deliberately excluded
// so that structurally identical conclusions produced by different nodes
// fingerprint identically. Unresolvable children fall back to their raw ID.
func Fingerprint(a *Atom, lookup func(id string) (*Atom, bool)) string {
	return fingerprint(a, lookup, make(map[string]bool))
}

func fingerprint(a *Atom, lookup func(id string) (*Atom, bool), seen map[string]bool) string {
	var b strings.Builder
	b.WriteString(a.Type)
	b.WriteByte('|')
	b.WriteString(a.Name)
	if len(a.Outgoing) > 0 {
		b.WriteByte('(')
		for i, childID := range a.Outgoing {
			if i > 0 {
				b.WriteByte(',')
			}
			if seen[childID] {
				// Cycle guard: refer to the child by ID rather than recursing.
				b.WriteString(childID)
				continue
			}
			child, ok := (*Atom)(nil), false
			if lookup != nil {
				child, ok = lookup(childID)
			}
			if !ok || child == nil {
				b.WriteString(childID)
				continue
			}
			seen[childID] = true
			b.WriteString(fingerprint(child, lookup, seen))
			delete(seen, childID)
		}
		b.WriteByte(')')
	}
	return b.String()
}

// FingerprintSet computes the canonical serialization of a set of atoms:
// individual fingerprints sorted and joined. Order of the input slice does
// not affect the output, so two conclusion sets compare equal exactly when
// they are structurally equal.
func FingerprintSet(atoms []Atom, lookup func(id string) (*Atom, bool)) string {
	fps := make([]string, 0, len(atoms))
	for i := range atoms {
		fps = append(fps, Fingerprint(&atoms[i], lookup))
	}
	sort.Strings(fps)
	return strings.Join(fps, ";")
}
