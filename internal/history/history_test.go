package history

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	logx "catpanel/pkg/logx"
)

func TestOpenDisabled(t *testing.T) {
	for _, drv := range []string{"", "none", " None "} {
		st, err := Open(Config{Driver: drv}, logx.Nop())
		if err != nil {
			t.Fatalf("Open(%q): %v", drv, err)
		}
		if st != nil {
			t.Fatalf("Open(%q) = %v, want nil store", drv, st)
		}
	}
}

func TestOpenUnknownDriver(t *testing.T) {
	if _, err := Open(Config{Driver: "postgres", Path: "x"}, logx.Nop()); err == nil {
		t.Fatal("expected error for unknown driver")
	}
}

func TestSQLiteAppendRecent(t *testing.T) {
	st, err := Open(Config{
		Driver: "sqlite",
		Path:   filepath.Join(t.TempDir(), "history.db"),
	}, logx.Nop())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer st.Close()

	ctx := context.Background()
	base := time.Date(2025, 3, 14, 9, 31, 0, 0, time.UTC)
	for i, kind := range []string{"MISSED", "REMINDER", "REMINDER"} {
		e := Entry{Kind: kind, Slot: "09:00", At: base.Add(time.Duration(i) * time.Hour)}
		if i == 0 {
			e.Note = "first"
		}
		if err := st.Append(ctx, e); err != nil {
			t.Fatalf("Append %d: %v", i, err)
		}
	}

	got, err := st.Recent(ctx, 2)
	if err != nil {
		t.Fatalf("Recent: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("got %d entries, want 2", len(got))
	}
	// Newest first.
	if got[0].Kind != "REMINDER" || !got[0].At.Equal(base.Add(2*time.Hour)) {
		t.Fatalf("got[0] = %+v", got[0])
	}

	all, err := st.Recent(ctx, 50)
	if err != nil {
		t.Fatalf("Recent all: %v", err)
	}
	if len(all) != 3 {
		t.Fatalf("got %d entries, want 3", len(all))
	}
	if all[2].Kind != "MISSED" || all[2].Note != "first" || all[2].Slot != "09:00" {
		t.Fatalf("oldest = %+v", all[2])
	}
}
