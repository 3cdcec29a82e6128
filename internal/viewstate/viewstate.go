// Package viewstate tracks which categories the user currently shows.
// It is an explicit value owned by the caller, never a package global.
package viewstate

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"sync"

	"github.com/karthikpasupathy/yearview/internal/model"
)

// Visible is the set of category ids shown in the year view.
// The zero value is an empty, uninitialised set. Safe for concurrent use.
type Visible struct {
	mu          sync.RWMutex
	ids         map[string]struct{}
	initialised bool
}

// New returns an empty set.
func New() *Visible { return &Visible{ids: map[string]struct{}{}} }

// Init fills an uninitialised set with every category except the reserved
// import category. It does nothing once the set has been initialised.
func (v *Visible) Init(categories []model.Category, reservedName string) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.initialised {
		return
	}
	if v.ids == nil {
		v.ids = map[string]struct{}{}
	}
	for _, c := range categories {
		if c.Name != reservedName {
			v.ids[c.ID] = struct{}{}
		}
	}
	v.initialised = true
}

// Initialised reports whether Init or Load has populated the set.
func (v *Visible) Initialised() bool {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.initialised
}

// Show adds id.
func (v *Visible) Show(id string) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.ids == nil {
		v.ids = map[string]struct{}{}
	}
	v.ids[id] = struct{}{}
}

// Hide removes id.
func (v *Visible) Hide(id string) {
	v.mu.Lock()
	defer v.mu.Unlock()
	delete(v.ids, id)
}

// Toggle flips id and returns whether it is now visible.
func (v *Visible) Toggle(id string) bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.ids == nil {
		v.ids = map[string]struct{}{}
	}
	if _, ok := v.ids[id]; ok {
		delete(v.ids, id)
		return false
	}
	v.ids[id] = struct{}{}
	return true
}

// Has reports whether id is visible.
func (v *Visible) Has(id string) bool {
	v.mu.RLock()
	defer v.mu.RUnlock()
	_, ok := v.ids[id]
	return ok
}

// IDs returns the visible ids sorted.
func (v *Visible) IDs() []string {
	v.mu.RLock()
	defer v.mu.RUnlock()
	out := make([]string, 0, len(v.ids))
	for id := range v.ids {
		out = append(out, id)
	}
	slices.Sort(out)
	return out
}

// Prune drops ids that no longer name an existing category.
func (v *Visible) Prune(categories []model.Category) {
	live := make(map[string]struct{}, len(categories))
	for _, c := range categories {
		live[c.ID] = struct{}{}
	}
	v.mu.Lock()
	defer v.mu.Unlock()
	for id := range v.ids {
		if _, ok := live[id]; !ok {
			delete(v.ids, id)
		}
	}
}

type fileState struct {
	Visible []string `json:"visible"`
}

// Load reads a set saved by Save. A missing file yields an uninitialised set.
func Load(path string) (*Visible, error) {
	b, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return New(), nil
	}
	if err != nil {
		return nil, err
	}
	var st fileState
	if err := json.Unmarshal(b, &st); err != nil {
		return nil, fmt.Errorf("decode view state: %w", err)
	}
	v := New()
	for _, id := range st.Visible {
		v.ids[id] = struct{}{}
	}
	v.initialised = true
	return v, nil
}

// Save writes the set atomically with 0600 permissions.
func (v *Visible) Save(path string) error {
	b, err := json.MarshalIndent(fileState{Visible: v.IDs()}, "", "  ")
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return err
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, b, 0o600); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}
