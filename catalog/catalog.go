// Package catalog discovers workspace members and applies the policy
// table's build exclusions. Discovery is a read-only filesystem walk.
package catalog

import (
	"fmt"
	"io/fs"
	"path/filepath"
	"sort"

	"github.com/BurntSushi/toml"
	"github.com/ethereum/go-ethereum/log"

	"github.com/crucible-ci/crucible/policy"
	"github.com/crucible-ci/crucible/target"
)

// Crate identifies one workspace member directory holding a Cargo.toml.
type Crate struct {
	Name string
	Path string
}

// Catalog walks a workspace for crates eligible to be built.
type Catalog struct {
	root       string // workspace root
	commonRoot string // auxiliary shared-library crates, may be empty
	table      *policy.Table
	log        log.Logger
}

// Config holds catalog construction parameters.
type Config struct {
	Root       string
	CommonRoot string
	Policy     *policy.Table
	Log        log.Logger
}

func New(cfg Config) (*Catalog, error) {
	if cfg.Root == "" {
		return nil, fmt.Errorf("workspace root is required")
	}
	if cfg.Policy == nil {
		return nil, fmt.Errorf("policy table is required")
	}
	if cfg.Log == nil {
		cfg.Log = log.Root()
	}
	return &Catalog{
		root:       cfg.Root,
		commonRoot: cfg.CommonRoot,
		table:      cfg.Policy,
		log:        cfg.Log,
	}, nil
}

// WorkspaceExcludes returns the names of crates the build must skip for
// the given triple, sorted for stable cargo invocations.
func (c *Catalog) WorkspaceExcludes(triple target.Triple) []string {
	var excludes []string
	for crate := range c.table.Crates {
		if c.table.ExcludedFromBuild(crate, triple) {
			excludes = append(excludes, crate)
		}
	}
	sort.Strings(excludes)
	return excludes
}

// CommonCrates discovers the auxiliary crates below the common root,
// dropping any that the policy excludes for the triple.
func (c *Catalog) CommonCrates(triple target.Triple) ([]Crate, error) {
	if c.commonRoot == "" {
		return nil, nil
	}
	var crates []Crate
	err := filepath.WalkDir(c.commonRoot, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || d.Name() != "Cargo.toml" {
			return nil
		}
		dir := filepath.Dir(path)
		name, err := crateName(path)
		if err != nil {
			c.log.Warn("Skipping unreadable manifest", "path", path, "err", err)
			return nil
		}
		if c.table.ExcludedFromBuild(name, triple) {
			c.log.Debug("Excluding common crate", "crate", name, "triple", triple.String())
			return nil
		}
		crates = append(crates, Crate{Name: name, Path: dir})
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walking common crates under %s: %w", c.commonRoot, err)
	}
	sort.Slice(crates, func(i, j int) bool { return crates[i].Name < crates[j].Name })
	return crates, nil
}

// crateName reads the package name from a Cargo.toml, falling back to
// the directory name for virtual manifests.
func crateName(manifestPath string) (string, error) {
	var manifest struct {
		Package struct {
			Name string `toml:"name"`
		} `toml:"package"`
	}
	if _, err := toml.DecodeFile(manifestPath, &manifest); err != nil {
		return "", err
	}
	if manifest.Package.Name == "" {
		return filepath.Base(filepath.Dir(manifestPath)), nil
	}
	return manifest.Package.Name, nil
}
