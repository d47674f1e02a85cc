package setstore

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"
)

// Named sets of strings (eg, word lists) which classification rules check tokens against.
type SetStore interface {
	InSet(ctx context.Context, name, val string) (bool, error)
}

type MemSetStore struct {
	lk   sync.RWMutex
	Sets map[string]map[string]bool
}

var _ SetStore = (*MemSetStore)(nil)

func NewMemSetStore() *MemSetStore {
	return &MemSetStore{
		Sets: make(map[string]map[string]bool),
	}
}

func (s *MemSetStore) InSet(ctx context.Context, name, val string) (bool, error) {
	s.lk.RLock()
	defer s.lk.RUnlock()
	set, ok := s.Sets[name]
	if !ok {
		// NOTE: returns false when entire set isn't found
		return false, nil
	}
	return set[val], nil
}

// Replaces (or creates) the named set. Values are lower-cased.
func (s *MemSetStore) AddSet(name string, vals []string) {
	m := make(map[string]bool, len(vals))
	for _, v := range vals {
		m[strings.ToLower(strings.TrimSpace(v))] = true
	}
	s.lk.Lock()
	defer s.lk.Unlock()
	s.Sets[name] = m
}

// Loads sets from a file containing a mapping of set name to list of values. Files ending in ".yaml" or ".yml" are parsed as YAML, everything else as JSON.
func (s *MemSetStore) LoadFromFile(p string) error {
	raw, err := os.ReadFile(p)
	if err != nil {
		return err
	}

	var sets map[string][]string
	switch strings.ToLower(filepath.Ext(p)) {
	case ".yaml", ".yml":
		err = yaml.Unmarshal(raw, &sets)
	default:
		err = json.Unmarshal(raw, &sets)
	}
	if err != nil {
		return fmt.Errorf("parsing set file %s: %w", p, err)
	}

	for name, l := range sets {
		s.AddSet(name, l)
	}
	return nil
}
