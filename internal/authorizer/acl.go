package authorizer

import (
	"fmt"
	"os"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

// Decision reasons, stored in the audit trail.
const (
	ReasonGranted         = "granted"
	ReasonUnknownIdentity = "unknown identity"
	ReasonOutsideHours    = "outside hours"
	ReasonMissingIdentity = "missing identity"
	ReasonNotAuthority    = "not an authority"
)

// Level is a named access window. A badge at this level is granted when
// Start <= hour < End, in the authorizer's time zone.
type Level struct {
	Name  string
	Start int
	End   int
}

// Allows reports whether hour falls inside the window.
func (l Level) Allows(hour int) bool {
	return l.Start <= hour && hour < l.End
}

// Badge is one enrolled RFID identifier.
type Badge struct {
	ID      string
	Level   string
	Sponsor string
}

// ACL is an immutable access table. Reloading replaces the whole value.
type ACL struct {
	levels map[string]Level
	badges map[string]Badge
}

// Decision is the outcome of checking one identity.
type Decision struct {
	Granted bool
	Level   string
	Reason  string
}

// File is the access table as stored. The YAML layout is:
//
//	levels:
//	  member:
//	    hours: [0, 24]
//	rfids:
//	  <sponsor>:
//	    - id: "0001234567"
//	      level: member
//
// The same table can be kept as hours.csv and rfids.csv, see ReadCSV.
// secbotctl edits a File and writes it back; the authorizer compiles it
// into an ACL.
type File struct {
	Levels map[string]LevelSpec    `yaml:"levels"`
	RFIDs  map[string][]Enrollment `yaml:"rfids"`
}

// LevelSpec is one access window as written in the file.
type LevelSpec struct {
	Hours []int `yaml:"hours,flow"`
}

// Enrollment is one badge under its sponsor.
type Enrollment struct {
	ID    string `yaml:"id"`
	Level string `yaml:"level"`
}

// ReadFile reads the access table at path without validating it. A
// directory or .csv path is read with ReadCSV; anything else is YAML.
func ReadFile(path string) (*File, error) {
	if IsCSV(path) {
		return ReadCSV(CSVDir(path))
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading ACL file: %w", err)
	}
	return ParseFile(data)
}

// ParseFile parses ACL YAML without validating it.
func ParseFile(data []byte) (*File, error) {
	var f File
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidACL, err)
	}
	return &f, nil
}

// Marshal encodes f as YAML.
func (f *File) Marshal() ([]byte, error) {
	return yaml.Marshal(f)
}

// LoadACL reads and validates the access table at path, YAML or CSV.
//
// Returns:
//   - *ACL: The parsed table
//   - error: A read error, or ErrInvalidACL describing every problem found
func LoadACL(path string) (*ACL, error) {
	f, err := ReadFile(path)
	if err != nil {
		return nil, err
	}
	return f.Compile()
}

// ParseACL parses and validates ACL YAML.
func ParseACL(data []byte) (*ACL, error) {
	f, err := ParseFile(data)
	if err != nil {
		return nil, err
	}
	return f.Compile()
}

// Compile validates f and builds the lookup table.
//
// Returns:
//   - *ACL: The table
//   - error: ErrInvalidACL listing every problem, sorted
func (f *File) Compile() (*ACL, error) {
	acl := &ACL{
		levels: make(map[string]Level, len(f.Levels)),
		badges: make(map[string]Badge),
	}
	var errs []string

	for name, lv := range f.Levels {
		if len(lv.Hours) != 2 {
			errs = append(errs, fmt.Sprintf("level %q: hours must be [start, end]", name))
			continue
		}
		start, end := lv.Hours[0], lv.Hours[1]
		if start < 0 || end > 24 || start >= end {
			errs = append(errs, fmt.Sprintf("level %q: hours %d-%d out of range", name, start, end))
			continue
		}
		acl.levels[name] = Level{Name: name, Start: start, End: end}
	}

	for sponsor, entries := range f.RFIDs {
		for _, e := range entries {
			id := strings.TrimSpace(e.ID)
			switch {
			case id == "":
				errs = append(errs, fmt.Sprintf("sponsor %q: badge without id", sponsor))
			case acl.badges[id].ID != "":
				errs = append(errs, fmt.Sprintf("badge %s listed twice", id))
			default:
				if _, ok := f.Levels[e.Level]; !ok {
					errs = append(errs, fmt.Sprintf("badge %s: unknown level %q", id, e.Level))
					continue
				}
				acl.badges[id] = Badge{ID: id, Level: e.Level, Sponsor: sponsor}
			}
		}
	}

	if len(errs) > 0 {
		sort.Strings(errs)
		return nil, fmt.Errorf("%w: %s", ErrInvalidACL, strings.Join(errs, "; "))
	}
	return acl, nil
}

// Level returns the named access window.
func (a *ACL) Level(name string) (Level, bool) {
	l, ok := a.levels[name]
	return l, ok
}

// Badge returns the enrollment for identity.
func (a *ACL) Badge(identity string) (Badge, bool) {
	b, ok := a.badges[identity]
	return b, ok
}

// Check decides whether identity may enter at the given local hour.
func (a *ACL) Check(identity string, hour int) Decision {
	if identity == "" {
		return Decision{Reason: ReasonMissingIdentity}
	}
	badge, ok := a.badges[identity]
	if !ok {
		return Decision{Reason: ReasonUnknownIdentity}
	}
	level := a.levels[badge.Level]
	if !level.Allows(hour) {
		return Decision{Level: level.Name, Reason: ReasonOutsideHours}
	}
	return Decision{Granted: true, Level: level.Name, Reason: ReasonGranted}
}

// Badges returns the number of enrolled identifiers.
func (a *ACL) Badges() int { return len(a.badges) }

// Levels returns the number of access levels.
func (a *ACL) Levels() int { return len(a.levels) }
