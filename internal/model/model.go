// Package model holds the registry's data model: packages, their published
// versions, and root requirements.
package model

import (
	"slices"
	"time"

	"github.com/frederic-klein/llamapkg/internal/version"
)

// PackageVersion is one published, immutable release of a package.
type PackageVersion struct {
	Version      version.Version   `json:"version" yaml:"version"`
	UploadedAt   time.Time         `json:"upload_date" yaml:"upload_date"`
	Metadata     map[string]any    `json:"metadata,omitempty" yaml:"metadata,omitempty"`
	Dependencies map[string]string `json:"dependencies,omitempty" yaml:"dependencies,omitempty"` // name -> constraint
	DownloadURL  string            `json:"download_url,omitempty" yaml:"download_url,omitempty"`
	SHA256       string            `json:"sha256,omitempty" yaml:"sha256,omitempty"`
}

// Package is a named package together with every version published under it.
type Package struct {
	Name        string                     `json:"name" yaml:"name"`
	Versions    map[string]*PackageVersion `json:"versions" yaml:"versions"` // keyed by Version.String()
	Description string                     `json:"description,omitempty" yaml:"description,omitempty"`
	Author      string                     `json:"author,omitempty" yaml:"author,omitempty"`
	AuthorEmail string                     `json:"author_email,omitempty" yaml:"author_email,omitempty"`
	Homepage    string                     `json:"homepage,omitempty" yaml:"homepage,omitempty"`
	Repository  string                     `json:"repository,omitempty" yaml:"repository,omitempty"`
	License     string                     `json:"license,omitempty" yaml:"license,omitempty"`
	Keywords    []string                   `json:"keywords,omitempty" yaml:"keywords,omitempty"`
	Classifiers []string                   `json:"classifiers,omitempty" yaml:"classifiers,omitempty"`
}

// NewPackage creates an empty package record.
func NewPackage(name string) *Package {
	return &Package{
		Name:     name,
		Versions: make(map[string]*PackageVersion),
	}
}

// AddVersion stores pv keyed by its canonical version string.
func (p *Package) AddVersion(pv *PackageVersion) {
	if p.Versions == nil {
		p.Versions = make(map[string]*PackageVersion)
	}
	p.Versions[pv.Version.String()] = pv
}

// Get returns the record for v, if published.
func (p *Package) Get(v version.Version) (*PackageVersion, bool) {
	pv, ok := p.Versions[v.String()]
	return pv, ok
}

// HasVersion reports whether v has been published.
func (p *Package) HasVersion(v version.Version) bool {
	_, ok := p.Versions[v.String()]
	return ok
}

// SortedVersions returns every published version in ascending order.
func (p *Package) SortedVersions() []version.Version {
	vs := make([]version.Version, 0, len(p.Versions))
	for _, pv := range p.Versions {
		vs = append(vs, pv.Version)
	}
	slices.SortFunc(vs, version.Compare)
	return vs
}

// Latest returns the greatest published version. It is derived on every call.
func (p *Package) Latest() (*PackageVersion, bool) {
	var latest *PackageVersion
	for _, pv := range p.Versions {
		if latest == nil || latest.Version.Less(pv.Version) {
			latest = pv
		}
	}
	return latest, latest != nil
}

// Clone returns a deep copy of the version map so callers can stage
// mutations without touching the shared record.
func (p *Package) Clone() *Package {
	c := *p
	c.Versions = make(map[string]*PackageVersion, len(p.Versions))
	for k, v := range p.Versions {
		c.Versions[k] = v
	}
	c.Keywords = slices.Clone(p.Keywords)
	c.Classifiers = slices.Clone(p.Classifiers)
	return &c
}

// Requirement is a root request: a package name and a constraint string.
type Requirement struct {
	Name       string
	Constraint string // e.g. ">=1.0.0", "~=0.2.3", "" for any
}
