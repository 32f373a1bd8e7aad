// Package tunebank stores tilings found by offline tuning and serves them
// to the tiler as a repository.
package tunebank

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"

	"github.com/goccy/go-json"
	"gopkg.in/yaml.v3"

	"github.com/samcharles93/cubetile/internal/cubetiling"
)

var ErrInvalidEntry = errors.New("tunebank: invalid entry")

// Key identifies a tuned problem: the op type, the SoC and the canonical
// shape the family derived from the request.
type Key struct {
	OpType     cubetiling.OpType      `json:"op_type" yaml:"op_type"`
	SocVersion string                 `json:"soc_version" yaml:"soc_version"`
	Shape      cubetiling.TilingShape `json:"shape" yaml:"shape"`
}

// Entry is one stored tiling.
type Entry struct {
	Key    `yaml:",inline"`
	Tiling cubetiling.CubeTiling `json:"tiling" yaml:"tiling"`
}

type document struct {
	Entries []Entry `json:"entries" yaml:"entries"`
}

// Bank is an in-memory tuning repository. It is safe for concurrent use.
type Bank struct {
	mu      sync.RWMutex
	entries map[Key]cubetiling.CubeTiling
	hits    int
}

func New() *Bank {
	return &Bank{entries: make(map[Key]cubetiling.CubeTiling)}
}

func normalize(k Key) Key {
	k.SocVersion = strings.ToLower(strings.TrimSpace(k.SocVersion))
	return k
}

// Add stores t under k, replacing any earlier entry. Tilings that fail
// their own validity check are rejected.
func (b *Bank) Add(k Key, t cubetiling.CubeTiling) error {
	if k.OpType == "" {
		return fmt.Errorf("%w: missing op type", ErrInvalidEntry)
	}
	if err := t.Validate(); err != nil {
		return fmt.Errorf("%w: %s %+v: %w", ErrInvalidEntry, k.OpType, k.Shape, err)
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.entries[normalize(k)] = t
	return nil
}

// Lookup implements cubetiling.Repository.
func (b *Bank) Lookup(params *cubetiling.CubeTilingParam, shape cubetiling.TilingShape) (cubetiling.CubeTiling, bool) {
	k := normalize(Key{OpType: params.OpType, SocVersion: params.Platform.SocVersion, Shape: shape})
	b.mu.Lock()
	defer b.mu.Unlock()
	t, ok := b.entries[k]
	if ok {
		b.hits++
	}
	return t, ok
}

func (b *Bank) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.entries)
}

// Hits is the number of successful lookups.
func (b *Bank) Hits() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.hits
}

// Entries returns every entry in a stable order.
func (b *Bank) Entries() []Entry {
	b.mu.RLock()
	out := make([]Entry, 0, len(b.entries))
	for k, t := range b.entries {
		out = append(out, Entry{Key: k, Tiling: t})
	}
	b.mu.RUnlock()
	slices.SortFunc(out, func(x, y Entry) int {
		if c := strings.Compare(string(x.OpType), string(y.OpType)); c != 0 {
			return c
		}
		if c := strings.Compare(x.SocVersion, y.SocVersion); c != 0 {
			return c
		}
		return compareShape(x.Shape, y.Shape)
	})
	return out
}

func compareShape(a, b cubetiling.TilingShape) int {
	av := []int64{a.Batch, a.M, a.K, a.N, a.Group, a.H, a.W, a.Din, a.Dk, a.Dout}
	bv := []int64{b.Batch, b.M, b.K, b.N, b.Group, b.H, b.W, b.Din, b.Dk, b.Dout}
	return slices.Compare(av, bv)
}

func isJSON(path string) bool {
	return strings.EqualFold(filepath.Ext(path), ".json")
}

// Load merges a YAML or JSON document into the bank. The whole document
// is rejected if any entry is invalid.
func (b *Bank) Load(data []byte, asJSON bool) (int, error) {
	var doc document
	if asJSON {
		if err := json.Unmarshal(data, &doc); err != nil {
			return 0, fmt.Errorf("tunebank: decode json: %w", err)
		}
	} else {
		dec := yaml.NewDecoder(bytes.NewReader(data))
		dec.KnownFields(true)
		if err := dec.Decode(&doc); err != nil && len(bytes.TrimSpace(data)) > 0 {
			return 0, fmt.Errorf("tunebank: decode yaml: %w", err)
		}
	}
	for i, e := range doc.Entries {
		if e.OpType == "" {
			return 0, fmt.Errorf("%w: entry %d has no op type", ErrInvalidEntry, i)
		}
		if err := e.Tiling.Validate(); err != nil {
			return 0, fmt.Errorf("%w: entry %d: %w", ErrInvalidEntry, i, err)
		}
	}
	for _, e := range doc.Entries {
		if err := b.Add(e.Key, e.Tiling); err != nil {
			return 0, err
		}
	}
	return len(doc.Entries), nil
}

// LoadFile loads path, choosing JSON for a .json extension and YAML otherwise.
func (b *Bank) LoadFile(path string) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, err
	}
	return b.Load(data, isJSON(path))
}

// WriteFile stores every entry to path in the encoding its extension names.
func (b *Bank) WriteFile(path string) error {
	doc := document{Entries: b.Entries()}
	var (
		data []byte
		err  error
	)
	if isJSON(path) {
		data, err = json.MarshalIndent(doc, "", "  ")
	} else {
		data, err = yaml.Marshal(doc)
	}
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}
