package lockfile

import (
	"bufio"
	"fmt"
	"io"
	"regexp"
	"strings"
)

var (
	entryRe       = regexp.MustCompile(`^  (\S+) (\S+)$`)
	fieldRe       = regexp.MustCompile(`^    (purl|locator|sha256|path): (.+)$`)
	requiresRe    = regexp.MustCompile(`^    requirements:$`)
	requirementRe = regexp.MustCompile(`^      (\S+) (.+)$`)
)

// Parser reads lock files.
type Parser struct {
	r io.Reader
}

// NewParser creates a new lock file parser.
func NewParser(r io.Reader) *Parser {
	return &Parser{r: r}
}

// Parse reads every entry. A purl that does not name the entry's package
// and version is an error.
func (p *Parser) Parse() ([]*Entry, error) {
	var entries []*Entry
	var current *Entry
	var inRequirements bool
	lineNo := 0

	scanner := bufio.NewScanner(p.r)
	for scanner.Scan() {
		lineNo++
		line := scanner.Text()

		if strings.HasPrefix(line, "#") || line == "PACKAGES" || line == "" {
			continue
		}

		if matches := entryRe.FindStringSubmatch(line); matches != nil {
			if current != nil {
				entries = append(entries, current)
			}
			current = &Entry{
				Name:         matches[1],
				Version:      matches[2],
				Requirements: make(map[string]string),
			}
			inRequirements = false
			continue
		}

		if current == nil {
			return nil, fmt.Errorf("line %d: %q outside of a package entry", lineNo, line)
		}

		if matches := fieldRe.FindStringSubmatch(line); matches != nil {
			inRequirements = false
			switch matches[1] {
			case "purl":
				if err := checkPURL(current, matches[2]); err != nil {
					return nil, fmt.Errorf("line %d: %w", lineNo, err)
				}
				current.PURL = matches[2]
			case "locator":
				current.Locator = matches[2]
			case "sha256":
				current.SHA256 = matches[2]
			case "path":
				current.Path = matches[2]
			}
			continue
		}

		if requiresRe.MatchString(line) {
			inRequirements = true
			continue
		}

		if matches := requirementRe.FindStringSubmatch(line); matches != nil && inRequirements {
			current.Requirements[matches[1]] = matches[2]
			continue
		}

		return nil, fmt.Errorf("line %d: unrecognized line %q", lineNo, line)
	}

	if current != nil {
		entries = append(entries, current)
	}

	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("reading lock file: %w", err)
	}
	return entries, nil
}

func checkPURL(entry *Entry, purl string) error {
	name, version, _, err := ParsePURL(purl)
	if err != nil {
		return err
	}
	if name != entry.Name || version != entry.Version {
		return fmt.Errorf("purl %s does not match %s %s", purl, entry.Name, entry.Version)
	}
	return nil
}
