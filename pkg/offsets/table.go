// Package offsets holds the code offsets at which breakpoints are planted,
// one set per build of the game.
package offsets

import (
	_ "embed"
	"errors"
	"fmt"
	"os"
	"sort"

	"github.com/hitzhangjie/bs3mem/pkg/memory"
	"gopkg.in/yaml.v2"
)

// ErrUnknownBuild is returned for a build missing from the table.
var ErrUnknownBuild = errors.New("unknown build")

// site names
const (
	SiteBBPercent      = "bb-percent"
	SiteConveyorSize   = "conveyor-size"
	SiteConveyorAdd    = "conveyor-add"
	SiteConveyorRemove = "conveyor-remove"
	SiteCustomer       = "customer"
)

//go:embed builds.yaml
var builtin []byte

// Site 断点位置
type Site struct {
	Name    string `yaml:"name"`
	Offset  uint32 `yaml:"offset"`  // relative to the module base
	Pattern string `yaml:"pattern"` // code around the breakpoint
	Index   int    `yaml:"index"`   // position of the breakpoint in Pattern
}

// Address returns the absolute address of the site.
func (s Site) Address(base memory.Address) memory.Address {
	return base.Add(int64(s.Offset))
}

// Build 某个游戏版本的所有断点位置
type Build struct {
	ID     string `yaml:"build"`
	Module string `yaml:"module"`
	Sites  []Site `yaml:"sites"`
}

// Site looks a site up by name.
func (b Build) Site(name string) (Site, bool) {
	for _, s := range b.Sites {
		if s.Name == name {
			return s, true
		}
	}
	return Site{}, false
}

// Table is the versioned offset table.
type Table struct {
	Builds []Build `yaml:"builds"`
}

// Builtin returns the table shipped with the binary.
func Builtin() (*Table, error) {
	return Load(builtin)
}

// LoadFile reads a table from a YAML file.
func LoadFile(path string) (*Table, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("unable to read offset table: %w", err)
	}
	return Load(data)
}

// Load parses and validates a YAML table.
func Load(data []byte) (*Table, error) {
	var t Table
	if err := yaml.UnmarshalStrict(data, &t); err != nil {
		return nil, fmt.Errorf("unable to decode offset table: %w", err)
	}
	if err := t.validate(); err != nil {
		return nil, err
	}
	return &t, nil
}

func (t *Table) validate() error {
	builds := map[string]bool{}
	for _, b := range t.Builds {
		if b.ID == "" {
			return errors.New("build without id")
		}
		if builds[b.ID] {
			return fmt.Errorf("build %s listed twice", b.ID)
		}
		builds[b.ID] = true

		names := map[string]bool{}
		for _, s := range b.Sites {
			if names[s.Name] {
				return fmt.Errorf("build %s: site %s listed twice", b.ID, s.Name)
			}
			names[s.Name] = true

			p, err := ParsePattern(s.Pattern)
			if err != nil {
				return fmt.Errorf("build %s: site %s: %w", b.ID, s.Name, err)
			}
			if s.Index < 0 || s.Index >= p.Len() || p.Wildcard(s.Index) {
				return fmt.Errorf("build %s: site %s: index %d does not name a fixed byte", b.ID, s.Name, s.Index)
			}
		}
	}
	return nil
}

// Build returns the sites of build id.
func (t *Table) Build(id string) (Build, error) {
	for _, b := range t.Builds {
		if b.ID == id {
			return b, nil
		}
	}
	return Build{}, fmt.Errorf("%s: %w", id, ErrUnknownBuild)
}

// IDs lists the known builds.
func (t *Table) IDs() []string {
	ids := make([]string, 0, len(t.Builds))
	for _, b := range t.Builds {
		ids = append(ids, b.ID)
	}
	sort.Strings(ids)
	return ids
}
