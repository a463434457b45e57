package admin

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/queeriouslabs/secbot/internal/audit"
	"github.com/queeriouslabs/secbot/internal/authorizer"
	"github.com/queeriouslabs/secbot/internal/schema"
)

type sent struct {
	address string
	msg     schema.Message
}

type fakeRequester struct {
	mu   sync.Mutex
	sent []sent
	resp func(schema.Message) (schema.Message, error)
}

func (f *fakeRequester) Request(_ context.Context, address string, msg schema.Message) (schema.Message, error) {
	f.mu.Lock()
	f.sent = append(f.sent, sent{address, msg})
	f.mu.Unlock()
	if f.resp != nil {
		return f.resp(msg)
	}
	return schema.NewResponse(msg, schema.CodeOK, "OK"), nil
}

type fakeRecorder struct {
	actions []audit.Action
}

func (r *fakeRecorder) RecordAction(_ context.Context, a *audit.Action) error {
	r.actions = append(r.actions, *a)
	return nil
}

func copyACL(t *testing.T) string {
	t.Helper()
	data, err := os.ReadFile("testdata/acl.yaml")
	if err != nil {
		t.Fatal(err)
	}
	path := filepath.Join(t.TempDir(), "acl.yaml")
	if err := os.WriteFile(path, data, 0600); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestTable_Edit(t *testing.T) {
	path := copyACL(t)
	table, err := LoadTable(path)
	if err != nil {
		t.Fatalf("LoadTable() error = %v", err)
	}

	if got := table.Sponsors(); len(got) != 2 || got[0] != "alex" || got[1] != "board" {
		t.Errorf("Sponsors() = %v", got)
	}
	if got := table.Levels(); len(got) != 2 || got[0].Name != "daytime" || got[0].Start != 9 {
		t.Errorf("Levels() = %v", got)
	}

	if err := table.Add("0001234567", "member", "board"); !errors.Is(err, ErrBadgeExists) {
		t.Errorf("Add(duplicate) error = %v", err)
	}
	if err := table.Add("5555555555", "night", "board"); !errors.Is(err, ErrUnknownLevel) {
		t.Errorf("Add(unknown level) error = %v", err)
	}
	if table.Dirty() {
		t.Fatal("failed edits marked the table dirty")
	}

	if err := table.Add("5555555555", "member", "sam"); err != nil {
		t.Fatalf("Add() error = %v", err)
	}
	if err := table.Modify("0007654321", "member", "board"); err != nil {
		t.Fatalf("Modify() error = %v", err)
	}
	if err := table.Remove("42"); err != nil {
		t.Fatalf("Remove() error = %v", err)
	}
	if err := table.Remove("42"); !errors.Is(err, ErrBadgeNotFound) {
		t.Errorf("Remove(twice) error = %v", err)
	}

	if err := table.Save(path); err != nil {
		t.Fatalf("Save() error = %v", err)
	}
	if table.Dirty() {
		t.Error("table dirty after Save")
	}

	acl, err := authorizer.LoadACL(path)
	if err != nil {
		t.Fatalf("saved table does not load: %v", err)
	}
	if acl.Badges() != 3 {
		t.Errorf("Badges() = %d, want 3", acl.Badges())
	}
	if b, ok := acl.Badge("0007654321"); !ok || b.Level != "member" || b.Sponsor != "board" {
		t.Errorf("modified badge = %+v", b)
	}
	if _, ok := acl.Badge("42"); ok {
		t.Error("removed badge still enrolled")
	}
	if got := acl.Check("0001234567", 3); !got.Granted {
		t.Error("leading zeros lost on save")
	}

	info, err := os.Stat(path)
	if err != nil {
		t.Fatal(err)
	}
	if info.Mode().Perm() != aclFilePermissions {
		t.Errorf("mode = %v", info.Mode().Perm())
	}
	if leftovers, _ := filepath.Glob(filepath.Join(filepath.Dir(path), ".acl-*")); len(leftovers) != 0 {
		t.Errorf("temp files left behind: %v", leftovers)
	}
}

func copyCSVTable(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	for _, name := range []string{authorizer.HoursFile, authorizer.RFIDsFile} {
		data, err := os.ReadFile(filepath.Join("testdata/csv", name))
		if err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(filepath.Join(dir, name), data, 0600); err != nil {
			t.Fatal(err)
		}
	}
	return dir
}

func TestTable_EditCSV(t *testing.T) {
	dir := copyCSVTable(t)
	hoursBefore, err := os.ReadFile(filepath.Join(dir, authorizer.HoursFile))
	if err != nil {
		t.Fatal(err)
	}

	table, err := LoadTable(dir)
	if err != nil {
		t.Fatalf("LoadTable() error = %v", err)
	}
	if got := table.Badges(); len(got) != 3 {
		t.Fatalf("Badges() = %v", got)
	}
	if err := table.Add("5555555555", "member", "sam"); err != nil {
		t.Fatalf("Add() error = %v", err)
	}
	if err := table.Remove("42"); err != nil {
		t.Fatalf("Remove() error = %v", err)
	}
	if err := table.Save(dir); err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	rfids, err := os.ReadFile(filepath.Join(dir, authorizer.RFIDsFile))
	if err != nil {
		t.Fatal(err)
	}
	want := "rfid,access_times,sponsor\n" +
		"0007654321,daytime,alex\n" +
		"0001234567,member,board\n" +
		"5555555555,member,sam\n"
	if string(rfids) != want {
		t.Errorf("rfids.csv =\n%s\nwant\n%s", rfids, want)
	}
	hoursAfter, err := os.ReadFile(filepath.Join(dir, authorizer.HoursFile))
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(hoursBefore, hoursAfter) {
		t.Error("hours.csv rewritten")
	}

	acl, err := authorizer.LoadACL(filepath.Join(dir, authorizer.RFIDsFile))
	if err != nil {
		t.Fatalf("saved table does not load: %v", err)
	}
	if !acl.Check("5555555555", 3).Granted {
		t.Error("added badge not granted")
	}
	if leftovers, _ := filepath.Glob(filepath.Join(dir, ".acl-*")); len(leftovers) != 0 {
		t.Errorf("temp files left behind: %v", leftovers)
	}
}

func TestLoadTable_RejectsInvalid(t *testing.T) {
	path := filepath.Join(t.TempDir(), "acl.yaml")
	if err := os.WriteFile(path, []byte("levels:\n  x:\n    hours: [5, 1]\n"), 0600); err != nil {
		t.Fatal(err)
	}
	if _, err := LoadTable(path); !errors.Is(err, authorizer.ErrInvalidACL) {
		t.Errorf("LoadTable() error = %v, want ErrInvalidACL", err)
	}
}

func TestClient_Reload(t *testing.T) {
	req := &fakeRequester{}
	c := NewClient(req, "secbotctl", "authorizer", nil)

	if err := c.Reload(context.Background()); err != nil {
		t.Fatalf("Reload() error = %v", err)
	}
	got := req.sent[0]
	if got.address != "authorizer" || got.msg.TargetID() != "authorizer" || got.msg.SourceID() != "secbotctl" {
		t.Errorf("sent %v to %q", got.msg, got.address)
	}
	if err := schema.Validate(schema.KindRequest, got.msg); err != nil {
		t.Errorf("reload request invalid: %v", err)
	}
	if got.msg.Permissions()[0].Perm() != "/reload" {
		t.Errorf("perm = %q", got.msg.Permissions()[0].Perm())
	}
}

func TestClient_Unlock(t *testing.T) {
	req := &fakeRequester{}
	rec := &fakeRecorder{}
	c := NewClient(req, "secbotctl", "authorizer", rec)
	c.now = func() time.Time { return time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC) }

	if err := c.Unlock(context.Background(), "front_door_latch", "operator"); err != nil {
		t.Fatalf("Unlock() error = %v", err)
	}
	got := req.sent[0]
	if got.address != "front_door_latch" {
		t.Errorf("sent to %q", got.address)
	}
	p := got.msg.Permissions()[0]
	if p.Perm() != "/open" || !p.Granted() {
		t.Errorf("permission = %v", p)
	}
	if len(rec.actions) != 1 || rec.actions[0].Action != "unlock" || rec.actions[0].Outcome != "ok" {
		t.Errorf("actions = %+v", rec.actions)
	}
}

func TestClient_Errors(t *testing.T) {
	tests := []struct {
		name string
		resp func(schema.Message) (schema.Message, error)
		want error
	}{
		{"transport", func(schema.Message) (schema.Message, error) { return nil, context.DeadlineExceeded }, context.DeadlineExceeded},
		{"closed", func(schema.Message) (schema.Message, error) { return schema.Message{}, nil }, ErrNotAcknowledged},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := &fakeRecorder{}
			c := NewClient(&fakeRequester{resp: tt.resp}, "secbotctl", "authorizer", rec)
			if err := c.Unlock(context.Background(), "front_door_latch", "operator"); !errors.Is(err, tt.want) {
				t.Errorf("Unlock() error = %v, want %v", err, tt.want)
			}
			if len(rec.actions) != 1 || rec.actions[0].Outcome != "error" {
				t.Errorf("actions = %+v", rec.actions)
			}
		})
	}

	refused := func(m schema.Message) (schema.Message, error) { return schema.NewResponse(m, 1, "busy"), nil }
	c := NewClient(&fakeRequester{resp: refused}, "secbotctl", "authorizer", nil)
	if err := c.Reload(context.Background()); err == nil || !strings.Contains(err.Error(), "busy") {
		t.Errorf("Reload() error = %v, want refusal", err)
	}
}

func TestWriteDecisions(t *testing.T) {
	at := time.Date(2026, 3, 1, 12, 30, 0, 0, time.UTC)
	res := &audit.ListResult{
		Decisions: []audit.Decision{
			{OccurredAt: at, SourceID: "front_door_rfid", Identity: "0001234567", Perm: "/open", Granted: true, Level: "member"},
			{OccurredAt: at, SourceID: "front_door_rfid", Perm: "/open", Reason: "unknown identity"},
		},
		Total: 7,
	}

	var buf bytes.Buffer
	if err := WriteDecisions(&buf, res, time.UTC); err != nil {
		t.Fatal(err)
	}
	out := buf.String()
	for _, want := range []string{"2026-03-01 12:30:00", "granted", "denied (unknown identity)", "2 of 7 decisions"} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
}
