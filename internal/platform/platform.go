// Package platform holds the SoC profiles a tiling can target.
package platform

import (
	"errors"
	"fmt"
	"io"
	"os"
	"slices"
	"strings"
	"sync"

	"github.com/samber/lo"
	"gopkg.in/yaml.v3"

	"github.com/samcharles93/cubetile/internal/cubetiling"
)

var ErrUnknownPlatform = errors.New("unknown platform")

// Profile is one SoC. Sizes are bytes.
type Profile struct {
	Name        string `yaml:"name" json:"name"`
	Description string `yaml:"description,omitempty" json:"description,omitempty"`
	CoreNum     int64  `yaml:"core_num" json:"core_num"`
	L0ASize     int64  `yaml:"l0a_size" json:"l0a_size"`
	L0BSize     int64  `yaml:"l0b_size" json:"l0b_size"`
	L0CSize     int64  `yaml:"l0c_size" json:"l0c_size"`
	L1Size      int64  `yaml:"l1_size" json:"l1_size"`
	UBSize      int64  `yaml:"ub_size" json:"ub_size"`
}

// Info converts the profile into the platform block of a tiling request.
func (p Profile) Info() cubetiling.PlatformInfo {
	return cubetiling.PlatformInfo{
		SocVersion: p.Name,
		CoreNum:    p.CoreNum,
		L0ASize:    p.L0ASize,
		L0BSize:    p.L0BSize,
		L0CSize:    p.L0CSize,
		L1Size:     p.L1Size,
		UBSize:     p.UBSize,
	}
}

func (p Profile) validate() error {
	if strings.TrimSpace(p.Name) == "" {
		return errors.New("platform: profile without a name")
	}
	sizes := map[string]int64{
		"core_num": p.CoreNum,
		"l0a_size": p.L0ASize,
		"l0b_size": p.L0BSize,
		"l0c_size": p.L0CSize,
		"l1_size":  p.L1Size,
		"ub_size":  p.UBSize,
	}
	for _, k := range slices.Sorted(lo.Keys(sizes)) {
		if sizes[k] <= 0 {
			return fmt.Errorf("platform %q: %s must be positive, got %d", p.Name, k, sizes[k])
		}
	}
	return nil
}

const (
	kib = 1 << 10
	mib = 1 << 20
)

// Builtin lists the profiles compiled into the binary.
func Builtin() []Profile {
	return []Profile{
		{
			Name:        "ascend910",
			Description: "training SoC, 32 AI cores",
			CoreNum:     32,
			L0ASize:     64 * kib,
			L0BSize:     64 * kib,
			L0CSize:     256 * kib,
			L1Size:      1 * mib,
			UBSize:      256 * kib,
		},
		{
			Name:        "ascend910b",
			Description: "training SoC, 24 AI cores",
			CoreNum:     24,
			L0ASize:     64 * kib,
			L0BSize:     64 * kib,
			L0CSize:     128 * kib,
			L1Size:      512 * kib,
			UBSize:      192 * kib,
		},
		{
			Name:        "ascend310p",
			Description: "inference SoC, 8 AI cores",
			CoreNum:     8,
			L0ASize:     64 * kib,
			L0BSize:     64 * kib,
			L0CSize:     256 * kib,
			L1Size:      1 * mib,
			UBSize:      256 * kib,
		},
		{
			Name:        "reference",
			Description: "small reference core used by the examples",
			CoreNum:     24,
			L0ASize:     64 * kib,
			L0BSize:     64 * kib,
			L0CSize:     64 * kib,
			L1Size:      512 * kib,
			UBSize:      256 * kib,
		},
	}
}

// Registry maps lower-cased profile names to profiles.
type Registry struct {
	mu       sync.RWMutex
	profiles map[string]Profile
}

// NewRegistry returns a registry seeded with the builtin profiles.
func NewRegistry() *Registry {
	r := &Registry{profiles: make(map[string]Profile)}
	for _, p := range Builtin() {
		r.profiles[key(p.Name)] = p
	}
	return r
}

func key(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}

// Add registers or replaces a profile.
func (r *Registry) Add(p Profile) error {
	if err := p.validate(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.profiles[key(p.Name)] = p
	return nil
}

// Lookup finds a profile by name, ignoring case.
func (r *Registry) Lookup(name string) (Profile, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.profiles[key(name)]
	if !ok {
		return Profile{}, fmt.Errorf("%w: %q (known: %s)", ErrUnknownPlatform, name, strings.Join(r.namesLocked(), ", "))
	}
	return p, nil
}

// Names returns the registered profile names in sorted order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.namesLocked()
}

func (r *Registry) namesLocked() []string {
	names := lo.Map(lo.Values(r.profiles), func(p Profile, _ int) string { return p.Name })
	slices.Sort(names)
	return names
}

// Profiles returns every profile sorted by name.
func (r *Registry) Profiles() []Profile {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := lo.Values(r.profiles)
	slices.SortFunc(out, func(a, b Profile) int { return strings.Compare(a.Name, b.Name) })
	return out
}

type profileFile struct {
	Platforms []Profile `yaml:"platforms"`
}

// Load reads a YAML document with a top-level "platforms" list and
// registers every entry.
func (r *Registry) Load(rd io.Reader) (int, error) {
	var pf profileFile
	dec := yaml.NewDecoder(rd)
	dec.KnownFields(true)
	if err := dec.Decode(&pf); err != nil {
		if errors.Is(err, io.EOF) {
			return 0, nil
		}
		return 0, fmt.Errorf("platform: decode profiles: %w", err)
	}
	dups := lo.FindDuplicatesBy(pf.Platforms, func(p Profile) string { return key(p.Name) })
	if len(dups) > 0 {
		return 0, fmt.Errorf("platform: duplicate profile %q", dups[0].Name)
	}
	for _, p := range pf.Platforms {
		if err := p.validate(); err != nil {
			return 0, err
		}
	}
	for _, p := range pf.Platforms {
		if err := r.Add(p); err != nil {
			return 0, err
		}
	}
	return len(pf.Platforms), nil
}

// LoadFile is Load on the named file.
func (r *Registry) LoadFile(path string) (int, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, err
	}
	defer func() { _ = f.Close() }()
	return r.Load(f)
}
