// Package requirements reads root requirements for install and resolve.
package requirements

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"regexp"
	"strings"

	"github.com/frederic-klein/llamapkg/internal/model"
	"github.com/frederic-klein/llamapkg/internal/version"
)

// DefaultFile is read by install when no file or arguments are given.
const DefaultFile = "llamapkg.requires"

// AnyVersion is recorded when a requirement names no constraint.
const AnyVersion = ">=0.0.0"

var (
	requiresRe = regexp.MustCompile(`^\s*requires\s+['"]([^'"]+)['"](?:\s*,\s*['"]([^'"]*)['"])?\s*;?\s*$`)
	argRe      = regexp.MustCompile(`^([a-z][a-z0-9_-]*[a-z0-9])\s*((?:==|>=|<=|~=|>|<).*)?$`)
)

// Parser parses requirements files.
type Parser struct{}

// NewParser creates a new requirements parser.
func NewParser() *Parser {
	return &Parser{}
}

// ParseFile parses the requirements file at path.
func (p *Parser) ParseFile(path string) ([]model.Requirement, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening requirements file: %w", err)
	}
	defer file.Close()

	reqs, err := p.Parse(file)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return reqs, nil
}

// Parse reads requirements in file order. A package listed twice keeps
// its first position and its last constraint.
func (p *Parser) Parse(r io.Reader) ([]model.Requirement, error) {
	var reqs []model.Requirement
	index := make(map[string]int)
	lineNo := 0

	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		lineNo++
		trimmed := strings.TrimSpace(scanner.Text())
		if trimmed == "" || strings.HasPrefix(trimmed, "#") {
			continue
		}

		matches := requiresRe.FindStringSubmatch(trimmed)
		if matches == nil {
			return nil, fmt.Errorf("line %d: expected requires \"name\", \"constraint\": %q", lineNo, trimmed)
		}

		req, err := newRequirement(matches[1], matches[2])
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", lineNo, err)
		}
		if i, ok := index[req.Name]; ok {
			reqs[i] = req
			continue
		}
		index[req.Name] = len(reqs)
		reqs = append(reqs, req)
	}

	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("reading requirements file: %w", err)
	}
	return reqs, nil
}

// ParseArg parses a command-line requirement such as "llamatext",
// "llamatext>=1.0.0" or "llamatext~=1.2.0".
func ParseArg(arg string) (model.Requirement, error) {
	matches := argRe.FindStringSubmatch(strings.TrimSpace(arg))
	if matches == nil {
		return model.Requirement{}, fmt.Errorf("invalid requirement %q", arg)
	}
	return newRequirement(matches[1], matches[2])
}

// ParseArgs parses every argument with ParseArg.
func ParseArgs(args []string) ([]model.Requirement, error) {
	reqs := make([]model.Requirement, 0, len(args))
	for _, arg := range args {
		req, err := ParseArg(arg)
		if err != nil {
			return nil, err
		}
		reqs = append(reqs, req)
	}
	return reqs, nil
}

func newRequirement(name, constraint string) (model.Requirement, error) {
	if !model.ValidName(name) {
		return model.Requirement{}, fmt.Errorf("invalid package name %q", name)
	}
	constraint = strings.TrimSpace(constraint)
	if constraint == "" {
		constraint = AnyVersion
	}
	if _, err := version.ParseConstraint(constraint); err != nil {
		return model.Requirement{}, err
	}
	return model.Requirement{Name: name, Constraint: constraint}, nil
}
