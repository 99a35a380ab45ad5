package device

import (
	"fmt"
	"io/fs"
	"path/filepath"
	"strings"
	"sync"

	"github.com/OpenTraceLab/bitfault/pkg/far"
)

// Repository knows how to look up the layout of a part.
type Repository interface {
	Lookup(part string) (*Layout, error)
}

// MemoryRepository keeps parsed layouts keyed by part name. Lookups accept
// full part names with package and speed grade suffixes.
type MemoryRepository struct {
	mu      sync.RWMutex
	layouts map[string]*Layout
}

// NewMemoryRepository creates an empty repository.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{layouts: make(map[string]*Layout)}
}

// Add registers a layout under its part name.
func (r *MemoryRepository) Add(l *Layout) error {
	if l == nil || l.Part == "" {
		return fmt.Errorf("device: layout without part name")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.layouts[normalizePart(l.Part)] = l
	return nil
}

// Lookup implements the Repository interface. The longest registered part
// name that prefixes the request wins.
func (r *MemoryRepository) Lookup(part string) (*Layout, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	n := normalizePart(part)
	if l, ok := r.layouts[n]; ok {
		return l, nil
	}
	var best string
	for key := range r.layouts {
		if strings.HasPrefix(n, key) && len(key) > len(best) {
			best = key
		}
	}
	if best != "" {
		return r.layouts[best], nil
	}
	// A bare die name ("xc7a35t", as resolved from an IDCODE) matches a
	// layout stored under its full part name when only one does.
	var found []string
	for key := range r.layouts {
		if strings.HasPrefix(key, n) {
			found = append(found, r.layouts[key].Part)
		}
	}
	switch len(found) {
	case 0:
		return nil, fmt.Errorf("device: no layout for part %q", part)
	case 1:
		return r.layouts[normalizePart(found[0])], nil
	}
	return nil, fmt.Errorf("device: part %q is ambiguous: %s", part, strings.Join(found, ", "))
}

// Parts lists the registered part names.
func (r *MemoryRepository) Parts() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.layouts))
	for _, l := range r.layouts {
		out = append(out, l.Part)
	}
	return out
}

// LoadDir recursively loads all LAYOUT*.xml files below root.
func (r *MemoryRepository) LoadDir(root string) error {
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		if d.IsDir() || !isLayoutFile(path) {
			return nil
		}
		l, err := LoadLayoutFile(path, far.SeriesUnknown)
		if err != nil {
			return err
		}
		if err := r.Add(l); err != nil {
			return fmt.Errorf("device: add %s: %w", path, err)
		}
		return nil
	})
}

func isLayoutFile(path string) bool {
	base := strings.ToUpper(filepath.Base(path))
	return strings.HasPrefix(base, "LAYOUT") && strings.HasSuffix(base, ".XML")
}
