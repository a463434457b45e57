package admin

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/queeriouslabs/secbot/internal/authorizer"
)

// aclFilePermissions keeps badge identifiers away from other users.
const aclFilePermissions = 0600

// Table is an editable copy of the ACL file. Changes stay in memory until
// Save.
type Table struct {
	file  *authorizer.File
	dirty bool
}

// LoadTable reads the access table at path, YAML or CSV, for editing. The file must already
// be valid, so a broken table is never silently rewritten.
func LoadTable(path string) (*Table, error) {
	f, err := authorizer.ReadFile(path)
	if err != nil {
		return nil, err
	}
	if _, err := f.Compile(); err != nil {
		return nil, err
	}
	if f.RFIDs == nil {
		f.RFIDs = make(map[string][]authorizer.Enrollment)
	}
	return &Table{file: f}, nil
}

// Dirty reports whether the table has unsaved changes.
func (t *Table) Dirty() bool { return t.dirty }

// Levels returns the defined access levels sorted by name.
func (t *Table) Levels() []authorizer.Level {
	levels := make([]authorizer.Level, 0, len(t.file.Levels))
	for name, spec := range t.file.Levels {
		l := authorizer.Level{Name: name}
		if len(spec.Hours) == 2 {
			l.Start, l.End = spec.Hours[0], spec.Hours[1]
		}
		levels = append(levels, l)
	}
	slices.SortFunc(levels, func(a, b authorizer.Level) int { return strings.Compare(a.Name, b.Name) })
	return levels
}

// Sponsors returns the sponsors with at least one badge, sorted.
func (t *Table) Sponsors() []string {
	var out []string
	for sponsor, entries := range t.file.RFIDs {
		if len(entries) > 0 {
			out = append(out, sponsor)
		}
	}
	slices.Sort(out)
	return out
}

// Badges returns every enrollment sorted by sponsor, then identifier.
func (t *Table) Badges() []authorizer.Badge {
	var out []authorizer.Badge
	for sponsor, entries := range t.file.RFIDs {
		for _, e := range entries {
			out = append(out, authorizer.Badge{ID: e.ID, Level: e.Level, Sponsor: sponsor})
		}
	}
	slices.SortFunc(out, func(a, b authorizer.Badge) int {
		if c := strings.Compare(a.Sponsor, b.Sponsor); c != 0 {
			return c
		}
		return strings.Compare(a.ID, b.ID)
	})
	return out
}

// Lookup returns the enrollment for id.
func (t *Table) Lookup(id string) (authorizer.Badge, bool) {
	for sponsor, entries := range t.file.RFIDs {
		for _, e := range entries {
			if e.ID == id {
				return authorizer.Badge{ID: e.ID, Level: e.Level, Sponsor: sponsor}, true
			}
		}
	}
	return authorizer.Badge{}, false
}

// Add enrolls id at level under sponsor.
func (t *Table) Add(id, level, sponsor string) error {
	id = strings.TrimSpace(id)
	if id == "" || sponsor == "" {
		return errors.New("badge id and sponsor are required")
	}
	if _, ok := t.Lookup(id); ok {
		return fmt.Errorf("%w: %s", ErrBadgeExists, id)
	}
	if _, ok := t.file.Levels[level]; !ok {
		return fmt.Errorf("%w: %q", ErrUnknownLevel, level)
	}
	t.file.RFIDs[sponsor] = append(t.file.RFIDs[sponsor], authorizer.Enrollment{ID: id, Level: level})
	t.dirty = true
	return nil
}

// Modify changes the level of id and, when sponsor is not empty, moves it
// to that sponsor.
func (t *Table) Modify(id, level, sponsor string) error {
	cur, ok := t.Lookup(id)
	if !ok {
		return fmt.Errorf("%w: %s", ErrBadgeNotFound, id)
	}
	if _, ok := t.file.Levels[level]; !ok {
		return fmt.Errorf("%w: %q", ErrUnknownLevel, level)
	}
	if sponsor == "" {
		sponsor = cur.Sponsor
	}
	if cur.Level == level && cur.Sponsor == sponsor {
		return nil
	}
	t.remove(id)
	t.file.RFIDs[sponsor] = append(t.file.RFIDs[sponsor], authorizer.Enrollment{ID: id, Level: level})
	t.dirty = true
	return nil
}

// Remove revokes id.
func (t *Table) Remove(id string) error {
	if !t.remove(id) {
		return fmt.Errorf("%w: %s", ErrBadgeNotFound, id)
	}
	t.dirty = true
	return nil
}

func (t *Table) remove(id string) bool {
	for sponsor, entries := range t.file.RFIDs {
		i := slices.IndexFunc(entries, func(e authorizer.Enrollment) bool { return e.ID == id })
		if i < 0 {
			continue
		}
		entries = slices.Delete(entries, i, i+1)
		if len(entries) == 0 {
			delete(t.file.RFIDs, sponsor)
		} else {
			t.file.RFIDs[sponsor] = entries
		}
		return true
	}
	return false
}

// Save validates the table and replaces the file at path. A CSV table
// rewrites rfids.csv only, since levels are not edited here. Each file is
// written next to the old one and renamed over it, so the authorizer never
// reads a partial table.
func (t *Table) Save(path string) error {
	if _, err := t.file.Compile(); err != nil {
		return err
	}

	if authorizer.IsCSV(path) {
		data, err := t.file.MarshalRFIDsCSV()
		if err != nil {
			return fmt.Errorf("encoding ACL: %w", err)
		}
		if err := replaceFile(filepath.Join(authorizer.CSVDir(path), authorizer.RFIDsFile), data); err != nil {
			return err
		}
	} else {
		data, err := t.file.Marshal()
		if err != nil {
			return fmt.Errorf("encoding ACL: %w", err)
		}
		if err := replaceFile(path, data); err != nil {
			return err
		}
	}

	t.dirty = false
	return nil
}

func replaceFile(path string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), ".acl-*"+filepath.Ext(path))
	if err != nil {
		return fmt.Errorf("creating temp file: %w", err)
	}
	defer os.Remove(tmp.Name()) //nolint:errcheck // gone after a successful rename

	if _, err := tmp.Write(data); err != nil {
		tmp.Close() //nolint:errcheck // write error takes precedence
		return fmt.Errorf("writing ACL: %w", err)
	}
	if err := tmp.Chmod(aclFilePermissions); err != nil {
		tmp.Close() //nolint:errcheck // chmod error takes precedence
		return fmt.Errorf("setting ACL permissions: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("closing ACL: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("replacing ACL: %w", err)
	}
	return nil
}
