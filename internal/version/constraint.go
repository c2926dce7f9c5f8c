package version

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
)

// Op is a constraint operator.
type Op int

const (
	OpExact      Op = iota // ==
	OpGreaterEq            // >=
	OpGreater              // >
	OpLessEq               // <=
	OpLess                 // <
	OpCompatible           // ~=
)

var opSymbols = map[Op]string{
	OpExact:      "==",
	OpGreaterEq:  ">=",
	OpGreater:    ">",
	OpLessEq:     "<=",
	OpLess:       "<",
	OpCompatible: "~=",
}

func (o Op) String() string {
	return opSymbols[o]
}

// prefixes is ordered so two-character operators match before their
// one-character prefixes.
var prefixes = []struct {
	text string
	op   Op
}{
	{"==", OpExact},
	{">=", OpGreaterEq},
	{"<=", OpLessEq},
	{"~=", OpCompatible},
	{">", OpGreater},
	{"<", OpLess},
}

// Constraint is a predicate over versions: an operator and a reference.
type Constraint struct {
	Op  Op
	Ref Version
}

// refRe is the whole reference part of a constraint. Anything beyond the
// numeric components, such as a second clause or a suffix, is rejected.
var refRe = regexp.MustCompile(`^v?\d+(?:\.\d+){0,2}$`)

// Any matches every version. An empty constraint string parses to it.
var Any = Constraint{Op: OpGreaterEq, Ref: Version{}}

// ParseConstraint parses text such as ">=1.2.0", "~= 0.3" or "2.0.0".
// A missing or unrecognized operator prefix means exact match. Reference
// versions are padded, so "1.2" is read as "1.2.0"; trailing text after
// the numeric part is an error.
func ParseConstraint(text string) (Constraint, error) {
	s := strings.TrimSpace(text)
	if s == "" || s == "*" {
		return Any, nil
	}

	op := OpExact
	for _, p := range prefixes {
		if strings.HasPrefix(s, p.text) {
			op = p.op
			s = strings.TrimSpace(s[len(p.text):])
			break
		}
	}

	if s == "" {
		return Constraint{}, &ParseError{Input: text, Kind: ErrInvalidConstraint, Err: errors.New("missing version")}
	}
	if !refRe.MatchString(s) {
		return Constraint{}, &ParseError{Input: text, Kind: ErrInvalidConstraint, Err: fmt.Errorf("bad reference version %q", s)}
	}
	ref, err := Coerce(s)
	if err != nil {
		return Constraint{}, &ParseError{Input: text, Kind: ErrInvalidConstraint, Err: err}
	}
	return Constraint{Op: op, Ref: ref}, nil
}

// Allows reports whether v satisfies the constraint.
func (c Constraint) Allows(v Version) bool {
	cmp := v.Compare(c.Ref)
	switch c.Op {
	case OpExact:
		return cmp == 0
	case OpGreaterEq:
		return cmp >= 0
	case OpGreater:
		return cmp > 0
	case OpLessEq:
		return cmp <= 0
	case OpLess:
		return cmp < 0
	case OpCompatible:
		// Compatible releases stay on the reference's minor line for both
		// 0.x and >=1.x references.
		return cmp >= 0 && v.Major == c.Ref.Major && v.Minor == c.Ref.Minor
	}
	return false
}

func (c Constraint) String() string {
	return c.Op.String() + c.Ref.String()
}

// Satisfies parses constraintText and evaluates it against v. A malformed
// constraint is reported as an error, never as a false result.
func Satisfies(v Version, constraintText string) (bool, error) {
	c, err := ParseConstraint(constraintText)
	if err != nil {
		return false, err
	}
	return c.Allows(v), nil
}
