package lockfile

import (
	"fmt"
	"io"
	"sort"
	"strings"
)

const header = "# llamapkg lock format: version 1\n"

// Emitter writes lock files.
type Emitter struct {
	w io.Writer
}

// NewEmitter creates a new lock file emitter.
func NewEmitter(w io.Writer) *Emitter {
	return &Emitter{w: w}
}

// Emit writes entries sorted by package name.
func (e *Emitter) Emit(entries []*Entry) error {
	sorted := make([]*Entry, len(entries))
	copy(sorted, entries)
	sort.Slice(sorted, func(i, j int) bool {
		return sorted[i].Name < sorted[j].Name
	})

	if _, err := fmt.Fprint(e.w, header); err != nil {
		return err
	}
	if _, err := fmt.Fprint(e.w, "PACKAGES\n"); err != nil {
		return err
	}

	for _, entry := range sorted {
		if err := e.emitEntry(entry); err != nil {
			return err
		}
	}
	return nil
}

func (e *Emitter) emitEntry(entry *Entry) error {
	if _, err := fmt.Fprintf(e.w, "  %s %s\n", entry.Name, entry.Version); err != nil {
		return err
	}

	fields := []struct{ key, value string }{
		{"purl", entry.PURL},
		{"locator", entry.Locator},
		{"sha256", entry.SHA256},
		{"path", entry.Path},
	}
	for _, f := range fields {
		if f.value == "" {
			continue
		}
		if _, err := fmt.Fprintf(e.w, "    %s: %s\n", f.key, f.value); err != nil {
			return err
		}
	}

	if len(entry.Requirements) > 0 {
		if _, err := fmt.Fprint(e.w, "    requirements:\n"); err != nil {
			return err
		}
		for _, name := range sortedKeys(entry.Requirements) {
			c := strings.TrimSpace(entry.Requirements[name])
			if c == "" {
				c = "*"
			}
			if _, err := fmt.Fprintf(e.w, "      %s %s\n", name, c); err != nil {
				return err
			}
		}
	}
	return nil
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
