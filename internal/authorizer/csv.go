package authorizer

import (
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"strings"
)

// File names of the CSV access table. Both live in one data directory.
const (
	HoursFile = "hours.csv"
	RFIDsFile = "rfids.csv"
)

var (
	hoursHeader = []string{"name", "start_hour", "end_hour"}
	rfidsHeader = []string{"rfid", "access_times", "sponsor"}
)

// IsCSV reports whether path names a CSV access table: a data directory
// holding hours.csv and rfids.csv, or either of those files.
func IsCSV(path string) bool {
	if strings.EqualFold(filepath.Ext(path), ".csv") {
		return true
	}
	info, err := os.Stat(path)
	return err == nil && info.IsDir()
}

// CSVDir returns the data directory for a CSV table path.
func CSVDir(path string) string {
	if strings.EqualFold(filepath.Ext(path), ".csv") {
		return filepath.Dir(path)
	}
	return path
}

// ReadCSV reads hours.csv and rfids.csv from dir without validating the
// result. Columns are matched by header name.
func ReadCSV(dir string) (*File, error) {
	f := &File{
		Levels: make(map[string]LevelSpec),
		RFIDs:  make(map[string][]Enrollment),
	}

	hours, err := readCSVFile(filepath.Join(dir, HoursFile), hoursHeader)
	if err != nil {
		return nil, err
	}
	for _, row := range hours {
		start, err1 := strconv.Atoi(row[1])
		end, err2 := strconv.Atoi(row[2])
		if err := errors.Join(err1, err2); err != nil {
			return nil, fmt.Errorf("%w: %s: level %q: %w", ErrInvalidACL, HoursFile, row[0], err)
		}
		f.Levels[row[0]] = LevelSpec{Hours: []int{start, end}}
	}

	rfids, err := readCSVFile(filepath.Join(dir, RFIDsFile), rfidsHeader)
	if err != nil {
		return nil, err
	}
	for _, row := range rfids {
		sponsor := row[2]
		f.RFIDs[sponsor] = append(f.RFIDs[sponsor], Enrollment{ID: row[0], Level: row[1]})
	}
	return f, nil
}

// readCSVFile returns the rows of path with their columns reordered to
// match want. Blank lines are skipped.
func readCSVFile(path string, want []string) ([][]string, error) {
	fh, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("reading ACL file: %w", err)
	}
	defer fh.Close() //nolint:errcheck // read-only

	r := csv.NewReader(fh)
	r.FieldsPerRecord = -1
	r.TrimLeadingSpace = true

	header, err := r.Read()
	if err != nil {
		return nil, fmt.Errorf("%w: %s: header: %w", ErrInvalidACL, filepath.Base(path), err)
	}
	cols := make([]int, len(want))
	for i, name := range want {
		cols[i] = slices.IndexFunc(header, func(h string) bool { return strings.TrimSpace(h) == name })
		if cols[i] < 0 {
			return nil, fmt.Errorf("%w: %s: missing column %q", ErrInvalidACL, filepath.Base(path), name)
		}
	}

	var rows [][]string
	for {
		rec, err := r.Read()
		if errors.Is(err, io.EOF) {
			return rows, nil
		}
		if err != nil {
			return nil, fmt.Errorf("%w: %s: %w", ErrInvalidACL, filepath.Base(path), err)
		}
		row := make([]string, len(want))
		for i, c := range cols {
			if c < len(rec) {
				row[i] = strings.TrimSpace(rec[c])
			}
		}
		rows = append(rows, row)
	}
}

// MarshalHoursCSV encodes the levels as hours.csv, sorted by name.
func (f *File) MarshalHoursCSV() ([]byte, error) {
	names := make([]string, 0, len(f.Levels))
	for name := range f.Levels {
		names = append(names, name)
	}
	slices.Sort(names)

	rows := make([][]string, 0, len(names))
	for _, name := range names {
		hours := f.Levels[name].Hours
		if len(hours) != 2 {
			return nil, fmt.Errorf("%w: level %q: hours must be [start, end]", ErrInvalidACL, name)
		}
		rows = append(rows, []string{name, strconv.Itoa(hours[0]), strconv.Itoa(hours[1])})
	}
	return writeCSV(hoursHeader, rows)
}

// MarshalRFIDsCSV encodes the enrollments as rfids.csv, sorted by sponsor
// and then identifier.
func (f *File) MarshalRFIDsCSV() ([]byte, error) {
	var rows [][]string
	for sponsor, entries := range f.RFIDs {
		for _, e := range entries {
			rows = append(rows, []string{e.ID, e.Level, sponsor})
		}
	}
	slices.SortFunc(rows, func(a, b []string) int {
		if c := strings.Compare(a[2], b[2]); c != 0 {
			return c
		}
		return strings.Compare(a[0], b[0])
	})
	return writeCSV(rfidsHeader, rows)
}

func writeCSV(header []string, rows [][]string) ([]byte, error) {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	if err := w.Write(header); err != nil {
		return nil, err
	}
	if err := w.WriteAll(rows); err != nil {
		return nil, fmt.Errorf("encoding CSV: %w", err)
	}
	return buf.Bytes(), nil
}
