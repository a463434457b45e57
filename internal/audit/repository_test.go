package audit

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/queeriouslabs/secbot/internal/infrastructure/config"
	"github.com/queeriouslabs/secbot/internal/infrastructure/database"
	_ "github.com/queeriouslabs/secbot/migrations"
)

func newTestRepo(t *testing.T) *SQLiteRepository {
	t.Helper()

	ctx := context.Background()
	db, err := database.Open(ctx, config.DatabaseConfig{
		Enabled:     true,
		Path:        filepath.Join(t.TempDir(), "audit.db"),
		WALMode:     true,
		BusyTimeout: 5,
	})
	if err != nil {
		t.Fatalf("database.Open() error = %v", err)
	}
	t.Cleanup(func() { db.Close() }) //nolint:errcheck // Test cleanup

	if err := db.Migrate(ctx); err != nil {
		t.Fatalf("Migrate() error = %v", err)
	}
	return NewSQLiteRepository(db.DB)
}

func TestRecordDecision_GeneratesIDAndTime(t *testing.T) {
	repo := newTestRepo(t)

	d := &Decision{
		SourceID: "front_door_rfid",
		TargetID: "front_door_latch",
		Identity: "0001234567",
		Perm:     "/open",
		Granted:  true,
		Level:    "member",
	}
	if err := repo.RecordDecision(context.Background(), d); err != nil {
		t.Fatalf("RecordDecision() error = %v", err)
	}
	if len(d.ID) != len("acc-")+8 {
		t.Errorf("ID = %q, want acc- prefix and 8 chars", d.ID)
	}
	if d.OccurredAt.IsZero() {
		t.Error("OccurredAt was not set")
	}

	res, err := repo.List(context.Background(), Filter{})
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if res.Total != 1 || len(res.Decisions) != 1 {
		t.Fatalf("List() total=%d len=%d, want 1/1", res.Total, len(res.Decisions))
	}
	got := res.Decisions[0]
	if got.ID != d.ID || got.Identity != "0001234567" || !got.Granted || got.Level != "member" {
		t.Errorf("List()[0] = %+v, want %+v", got, *d)
	}
}

func TestList_FiltersAndOrder(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()
	base := time.Date(2026, 3, 1, 18, 0, 0, 0, time.UTC)

	seed := []Decision{
		{Identity: "111", Perm: "/open", Granted: true, OccurredAt: base},
		{Identity: "222", Perm: "/open", Granted: false, Reason: "unknown identity", OccurredAt: base.Add(time.Second)},
		{Identity: "111", Perm: "/open", Granted: false, Reason: "outside hours", OccurredAt: base.Add(2 * time.Second)},
		{Identity: "111", Perm: "/open", Granted: true, OccurredAt: base.Add(2*time.Second + 500*time.Millisecond)},
	}
	for i := range seed {
		seed[i].SourceID = "front_door_rfid"
		seed[i].TargetID = "front_door_latch"
		if err := repo.RecordDecision(ctx, &seed[i]); err != nil {
			t.Fatalf("RecordDecision(%d) error = %v", i, err)
		}
	}

	denied := false
	tests := []struct {
		name      string
		filter    Filter
		wantTotal int
		wantFirst string
	}{
		{name: "all, newest first", filter: Filter{}, wantTotal: 4, wantFirst: seed[3].ID},
		{name: "by identity", filter: Filter{Identity: "222"}, wantTotal: 1, wantFirst: seed[1].ID},
		{name: "denials", filter: Filter{Granted: &denied}, wantTotal: 2, wantFirst: seed[2].ID},
		{name: "since", filter: Filter{Since: base.Add(2 * time.Second)}, wantTotal: 2, wantFirst: seed[3].ID},
		{name: "offset", filter: Filter{Limit: 1, Offset: 1}, wantTotal: 4, wantFirst: seed[2].ID},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, err := repo.List(ctx, tt.filter)
			if err != nil {
				t.Fatalf("List() error = %v", err)
			}
			if res.Total != tt.wantTotal {
				t.Errorf("Total = %d, want %d", res.Total, tt.wantTotal)
			}
			if len(res.Decisions) == 0 || res.Decisions[0].ID != tt.wantFirst {
				t.Errorf("first = %+v, want ID %s", res.Decisions, tt.wantFirst)
			}
		})
	}
}

func TestList_ClampsLimit(t *testing.T) {
	repo := newTestRepo(t)

	res, err := repo.List(context.Background(), Filter{Limit: 10000, Offset: -3})
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if res.Limit != maxLimit || res.Offset != 0 {
		t.Errorf("Limit=%d Offset=%d, want %d and 0", res.Limit, res.Offset, maxLimit)
	}
	if res.Decisions == nil {
		t.Error("Decisions should be an empty slice, not nil")
	}
}

func TestRecordAction(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	a := &Action{
		SourceID: "secbotctl",
		Action:   "/reload",
		Outcome:  "ok",
		Details:  map[string]any{"rfids": 12},
	}
	if err := repo.RecordAction(ctx, a); err != nil {
		t.Fatalf("RecordAction() error = %v", err)
	}
	if a.ID == "" {
		t.Fatal("ID was not generated")
	}

	var details string
	if err := repo.db.QueryRowContext(ctx,
		"SELECT details FROM admin_actions WHERE id = ?", a.ID,
	).Scan(&details); err != nil {
		t.Fatalf("reading action back: %v", err)
	}
	if details != `{"rfids":12}` {
		t.Errorf("details = %s, want {\"rfids\":12}", details)
	}
}
