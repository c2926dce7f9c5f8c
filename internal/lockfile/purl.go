package lockfile

import (
	"fmt"

	packageurl "github.com/package-url/packageurl-go"
)

// PURLType is the package-url type used for llamapkg packages.
const PURLType = "llamapkg"

// PURL returns the package URL for name at version. A non-empty
// registryURL is recorded as the repository_url qualifier.
func PURL(name, version, registryURL string) string {
	var qualifiers packageurl.Qualifiers
	if registryURL != "" {
		qualifiers = packageurl.QualifiersFromMap(map[string]string{"repository_url": registryURL})
	}
	return packageurl.NewPackageURL(PURLType, "", name, version, qualifiers, "").ToString()
}

// ParsePURL returns the name, version and repository_url of a llamapkg
// package URL.
func ParsePURL(s string) (name, version, registryURL string, err error) {
	p, err := packageurl.FromString(s)
	if err != nil {
		return "", "", "", err
	}
	if p.Type != PURLType {
		return "", "", "", fmt.Errorf("purl %s: type %q is not %q", s, p.Type, PURLType)
	}
	return p.Name, p.Version, p.Qualifiers.Map()["repository_url"], nil
}
