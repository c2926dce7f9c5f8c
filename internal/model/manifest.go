package model

import (
	"fmt"
	"regexp"

	"github.com/go-playground/validator/v10"

	"github.com/frederic-klein/llamapkg/internal/version"
)

// Manifest is the metadata a package archive declares about itself.
type Manifest struct {
	Name         string            `json:"name" yaml:"name" validate:"required,pkgname"`
	Version      string            `json:"version" yaml:"version" validate:"required,semver3"`
	Description  string            `json:"description,omitempty" yaml:"description,omitempty" validate:"max=512"`
	Author       string            `json:"author,omitempty" yaml:"author,omitempty"`
	AuthorEmail  string            `json:"author_email,omitempty" yaml:"author_email,omitempty" validate:"omitempty,email"`
	Homepage     string            `json:"homepage,omitempty" yaml:"homepage,omitempty" validate:"omitempty,url"`
	Repository   string            `json:"repository,omitempty" yaml:"repository,omitempty" validate:"omitempty,url"`
	License      string            `json:"license,omitempty" yaml:"license,omitempty"`
	Keywords     []string          `json:"keywords,omitempty" yaml:"keywords,omitempty" validate:"dive,required"`
	Classifiers  []string          `json:"classifiers,omitempty" yaml:"classifiers,omitempty"`
	Dependencies map[string]string `json:"dependencies,omitempty" yaml:"dependencies,omitempty" validate:"dive,keys,pkgname,endkeys"`
}

var packageNameRe = regexp.MustCompile(`^[a-z][a-z0-9_-]*[a-z0-9]$`)

// manifestValidate is shared by every Validate call; validator caches
// struct metadata internally.
var manifestValidate *validator.Validate

func init() {
	manifestValidate = validator.New()
	_ = manifestValidate.RegisterValidation("pkgname", func(fl validator.FieldLevel) bool {
		return ValidName(fl.Field().String())
	})
	_ = manifestValidate.RegisterValidation("semver3", func(fl validator.FieldLevel) bool {
		_, err := version.Parse(fl.Field().String())
		return err == nil
	})
}

// ValidName reports whether name is an acceptable package name.
func ValidName(name string) bool {
	return packageNameRe.MatchString(name)
}

// Validate checks the manifest's fields and every dependency constraint.
func (m *Manifest) Validate() error {
	if err := manifestValidate.Struct(m); err != nil {
		return fmt.Errorf("invalid manifest: %w", err)
	}
	for dep, c := range m.Dependencies {
		if _, err := version.ParseConstraint(c); err != nil {
			return fmt.Errorf("invalid manifest: dependency %s: %w", dep, err)
		}
	}
	return nil
}

// Metadata flattens the manifest into the free-form metadata map stored on
// a PackageVersion.
func (m *Manifest) Metadata() map[string]any {
	md := map[string]any{
		"name":    m.Name,
		"version": m.Version,
	}
	set := func(k, v string) {
		if v != "" {
			md[k] = v
		}
	}
	set("summary", m.Description)
	set("author", m.Author)
	set("author_email", m.AuthorEmail)
	set("license", m.License)
	set("homepage", m.Homepage)
	set("repository", m.Repository)
	if len(m.Dependencies) > 0 {
		deps := make(map[string]any, len(m.Dependencies))
		for k, v := range m.Dependencies {
			deps[k] = v
		}
		md["dependencies"] = deps
	}
	return md
}

// ApplyTo copies descriptive fields onto pkg, leaving unset fields untouched.
func (m *Manifest) ApplyTo(pkg *Package) {
	if m.Description != "" {
		pkg.Description = m.Description
	}
	if m.Author != "" {
		pkg.Author = m.Author
	}
	if m.AuthorEmail != "" {
		pkg.AuthorEmail = m.AuthorEmail
	}
	if m.Homepage != "" {
		pkg.Homepage = m.Homepage
	}
	if m.Repository != "" {
		pkg.Repository = m.Repository
	}
	if m.License != "" {
		pkg.License = m.License
	}
	if len(m.Keywords) > 0 {
		pkg.Keywords = append([]string(nil), m.Keywords...)
	}
	if len(m.Classifiers) > 0 {
		pkg.Classifiers = append([]string(nil), m.Classifiers...)
	}
}
