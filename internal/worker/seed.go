package worker

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/noesislabs/noesis/pkg/atomspace"
)

// seedFile is the yaml shape of a knowledge seed file.
type seedFile struct {
	Atoms []seedAtom `yaml:"atoms"`
}

// seedAtom describes one atom to load. Links reference earlier atoms by
// their ref label rather than by store ID, since IDs are assigned at load
// time.
type seedAtom struct {
	Ref      string                `yaml:"ref,omitempty"`
	Type     string                `yaml:"type"`
	Name     string                `yaml:"name,omitempty"`
	Truth    *atomspace.TruthValue `yaml:"truth,omitempty"`
	Outgoing []string              `yaml:"outgoing,omitempty"`
	Metadata map[string]string     `yaml:"metadata,omitempty"`
}

// SeedStore loads atoms from a yaml seed file into the store. Atoms are
// loaded in file order; an outgoing entry must name the ref of an atom
// that appears earlier in the file.
func SeedStore(store *atomspace.Store, path string) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, fmt.Errorf("failed to read seed file: %w", err)
	}

	var seed seedFile
	if err := yaml.Unmarshal(data, &seed); err != nil {
		return 0, fmt.Errorf("failed to parse seed file: %w", err)
	}

	idByRef := make(map[string]string)
	for i, sa := range seed.Atoms {
		if sa.Type == "" {
			return 0, fmt.Errorf("seed atom %d: type is required", i)
		}

		outgoing := make([]string, 0, len(sa.Outgoing))
		for _, ref := range sa.Outgoing {
			id, ok := idByRef[ref]
			if !ok {
				return 0, fmt.Errorf("seed atom %d: outgoing ref %q does not name an earlier atom", i, ref)
			}
			outgoing = append(outgoing, id)
		}

		atom := atomspace.Atom{
			Type:     sa.Type,
			Name:     sa.Name,
			Truth:    sa.Truth,
			Outgoing: outgoing,
			Metadata: sa.Metadata,
		}
		id := store.AddAtom(atom)
		if sa.Ref != "" {
			if _, dup := idByRef[sa.Ref]; dup {
				return 0, fmt.Errorf("seed atom %d: duplicate ref %q", i, sa.Ref)
			}
			idByRef[sa.Ref] = id
		}
	}

	return len(seed.Atoms), nil
}
