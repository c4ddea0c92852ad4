// Package manifest implements catalogs backed by local YAML files, and the
// installed-package inventory read the same way.
package manifest

import (
	"context"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/EikeiDev/apkupdateross/internal/catalog"
)

// LinkSpec is the YAML form of a catalog.Link.
type LinkSpec struct {
	Type  string     `yaml:"type"` // none, direct, archive, multi
	URL   string     `yaml:"url,omitempty"`
	Size  int64      `yaml:"size,omitempty"`
	Parts []PartSpec `yaml:"parts,omitempty"`
}

type PartSpec struct {
	URL  string `yaml:"url"`
	Size int64  `yaml:"size,omitempty"`
}

// Entry is one application version listed by a manifest.
type Entry struct {
	Name        string   `yaml:"name"`
	PackageName string   `yaml:"package"`
	Version     string   `yaml:"version"`
	VersionCode int64    `yaml:"version_code"`
	IconURL     string   `yaml:"icon,omitempty"`
	Changelog   string   `yaml:"changelog,omitempty"`
	Signatures  []string `yaml:"signatures,omitempty"`
	PreRelease  bool     `yaml:"prerelease,omitempty"`
	Link        LinkSpec `yaml:"link"`
}

// File is the on-disk layout of a catalog manifest.
type File struct {
	ID   string  `yaml:"id"`
	Name string  `yaml:"name"`
	Apps []Entry `yaml:"apps"`
}

// Catalog serves search and update queries from a manifest file. The file is
// re-read on every query so edits are picked up without a restart.
type Catalog struct {
	id   string
	path string
}

// Open validates the manifest at path and returns a catalog for it.
func Open(path string) (*Catalog, error) {
	f, err := readFile(path)
	if err != nil {
		return nil, err
	}
	if f.ID == "" {
		return nil, fmt.Errorf("manifest %s: missing id", path)
	}
	return &Catalog{id: f.ID, path: path}, nil
}

func (c *Catalog) ID() string { return c.id }

func (c *Catalog) Search(ctx context.Context, query string) ([]catalog.Candidate, error) {
	f, err := readFile(c.path)
	if err != nil {
		return nil, err
	}

	q := strings.ToLower(strings.TrimSpace(query))
	var out []catalog.Candidate
	for _, e := range f.Apps {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if q != "" &&
			!strings.Contains(strings.ToLower(e.Name), q) &&
			!strings.Contains(strings.ToLower(e.PackageName), q) {
			continue
		}
		cand, err := e.candidate()
		if err != nil {
			return nil, fmt.Errorf("manifest %s: %w", c.path, err)
		}
		out = append(out, cand)
	}
	return out, nil
}

// Updates returns the highest listed version of each installed package when
// it is newer than the installed version code.
func (c *Catalog) Updates(ctx context.Context, installed []catalog.InstalledApp) ([]catalog.Candidate, error) {
	f, err := readFile(c.path)
	if err != nil {
		return nil, err
	}

	best := make(map[string]Entry)
	for _, e := range f.Apps {
		if cur, ok := best[e.PackageName]; !ok || e.VersionCode > cur.VersionCode {
			best[e.PackageName] = e
		}
	}

	var out []catalog.Candidate
	for _, app := range installed {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		e, ok := best[app.PackageName]
		if !ok || e.VersionCode <= app.VersionCode {
			continue
		}
		cand, err := e.candidate()
		if err != nil {
			return nil, fmt.Errorf("manifest %s: %w", c.path, err)
		}
		cand.OldVersion = app.Version
		cand.OldVersionCode = app.VersionCode
		if cand.Name == "" {
			cand.Name = app.Name
		}
		out = append(out, cand)
	}
	return out, nil
}

func (e Entry) candidate() (catalog.Candidate, error) {
	link, err := e.Link.Link()
	if err != nil {
		return catalog.Candidate{}, fmt.Errorf("%s: %w", e.PackageName, err)
	}
	return catalog.Candidate{
		Name:        e.Name,
		PackageName: e.PackageName,
		Version:     e.Version,
		VersionCode: e.VersionCode,
		IconURL:     e.IconURL,
		Changelog:   e.Changelog,
		Signatures:  e.Signatures,
		PreRelease:  e.PreRelease,
		Link:        link,
	}, nil
}

// Link converts the YAML form into a catalog.Link.
func (s LinkSpec) Link() (catalog.Link, error) {
	switch strings.ToLower(s.Type) {
	case "", "none":
		return catalog.NoLink{}, nil
	case "direct", "apk":
		if s.URL == "" {
			return nil, fmt.Errorf("direct link without url")
		}
		return catalog.DirectLink{URL: s.URL, Size: s.Size}, nil
	case "archive", "xapk", "apks":
		if s.URL == "" {
			return nil, fmt.Errorf("archive link without url")
		}
		return catalog.SplitArchiveLink{URL: s.URL}, nil
	case "multi", "split":
		if len(s.Parts) == 0 {
			return nil, fmt.Errorf("multi-part link without parts")
		}
		parts := make([]catalog.PartLink, len(s.Parts))
		for i, p := range s.Parts {
			parts[i] = catalog.PartLink{URL: p.URL, Size: p.Size}
		}
		return catalog.MultiPartLink{Parts: parts}, nil
	default:
		return nil, fmt.Errorf("unknown link type %q", s.Type)
	}
}

func readFile(path string) (*File, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read manifest: %w", err)
	}
	var f File
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse manifest %s: %w", path, err)
	}
	return &f, nil
}
