// Package mapping holds the static phpIPAM section → NetBox site table.
package mapping

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Resolution describes how a section name was looked up.
type Resolution int

const (
	// Mapped means the section resolves to a site name.
	Mapped Resolution = iota
	// NoSite means the table maps the section to null on purpose.
	NoSite
	// Missing means the table is non-empty and has no entry for the section.
	Missing
)

func (r Resolution) String() string {
	switch r {
	case Mapped:
		return "mapped"
	case NoSite:
		return "no site"
	case Missing:
		return "missing"
	}
	return fmt.Sprintf("Resolution(%d)", int(r))
}

// Table maps section names to site names. A nil value is the explicit
// "no site" marker. The zero Table is empty and maps every name to itself.
// A Table is never modified after it is built.
type Table struct {
	entries map[string]*string
}

// Empty returns the identity table.
func Empty() Table {
	return Table{}
}

// New builds a table from a name → site map. Keys and values are trimmed.
func New(entries map[string]*string) Table {
	t := Table{entries: make(map[string]*string, len(entries))}
	for k, v := range entries {
		if v != nil {
			s := strings.TrimSpace(*v)
			v = &s
		}
		t.entries[strings.TrimSpace(k)] = v
	}
	return t
}

// Load reads a flat YAML (or JSON) document of `section: site` pairs, where
// `section: null` means the section has no site. An empty path yields the
// identity table.
func Load(path string) (Table, error) {
	if path == "" {
		return Empty(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return Table{}, fmt.Errorf("reading mapping file: %w", err)
	}
	var raw map[string]*string
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return Table{}, fmt.Errorf("parsing mapping file %s: %w", path, err)
	}
	return New(raw), nil
}

// Len returns the number of entries.
func (t Table) Len() int {
	return len(t.entries)
}

// Lookup resolves a section name. An empty table maps every name to itself.
func (t Table) Lookup(section string) (string, Resolution) {
	section = strings.TrimSpace(section)
	if len(t.entries) == 0 {
		return section, Mapped
	}
	site, ok := t.entries[section]
	switch {
	case !ok:
		return "", Missing
	case site == nil || *site == "":
		return "", NoSite
	}
	return *site, Mapped
}
