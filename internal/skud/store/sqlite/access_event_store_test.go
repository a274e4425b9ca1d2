package sqlite_test

import (
	"context"
	"testing"
	"time"

	"github.com/BrandonDHaskell/Portunus/skud/internal/skud/store"
	sqlitestore "github.com/BrandonDHaskell/Portunus/skud/internal/skud/store/sqlite"
	"github.com/BrandonDHaskell/Portunus/skud/internal/skud/types"
)

func passage(logID int64, personID *int64) types.AccessEvent {
	return types.AccessEvent{
		Source:     types.EventSourceHardware,
		EventType:  types.EventTypePassage,
		LogID:      types.Int64Ptr(logID),
		PersonID:   personID,
		Allow:      true,
		EventTime:  time.Date(2026, 3, 1, 9, 0, int(logID), 0, time.UTC),
		RawPayload: []byte(`{"logId":1}`),
	}
}

func TestAccessEventStore_AppendBatch_SkipsReplayedLogIDs(t *testing.T) {
	conn := openTestDB(t)
	s := sqlitestore.NewAccessEventStore(conn, newTestWriter(t, conn))
	ctx := context.Background()

	n, err := s.AppendBatch(ctx, []types.AccessEvent{passage(1, nil), passage(2, types.Int64Ptr(7)), passage(2, nil)})
	if err != nil {
		t.Fatalf("AppendBatch: %v", err)
	}
	if n != 2 {
		t.Errorf("expected 2 inserted, got %d", n)
	}

	n, err = s.AppendBatch(ctx, []types.AccessEvent{passage(2, nil), passage(3, nil)})
	if err != nil {
		t.Fatalf("AppendBatch replay: %v", err)
	}
	if n != 1 {
		t.Errorf("expected 1 inserted on replay, got %d", n)
	}

	var count int
	if err := conn.QueryRowContext(ctx, `SELECT COUNT(*) FROM skud_access_events`).Scan(&count); err != nil {
		t.Fatalf("count: %v", err)
	}
	if count != 3 {
		t.Errorf("expected 3 rows, got %d", count)
	}
}

func TestAccessEventStore_Append_NullLogIDNeverConflicts(t *testing.T) {
	conn := openTestDB(t)
	s := sqlitestore.NewAccessEventStore(conn, newTestWriter(t, conn))
	ctx := context.Background()

	ev := types.AccessEvent{Source: types.EventSourceWebdel, EventType: types.EventTypeDelegate, ReasonCode: "state_missing"}
	for i := 0; i < 3; i++ {
		if err := s.Append(ctx, ev, nil); err != nil {
			t.Fatalf("Append: %v", err)
		}
	}

	items, total, err := s.List(ctx, store.ListFilter{Source: types.EventSourceWebdel})
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if total != 3 || len(items) != 3 {
		t.Fatalf("expected 3 events, got total=%d len=%d", total, len(items))
	}
	if items[0].Allow || items[0].ReasonCode != "state_missing" || items[0].LogID != nil {
		t.Errorf("unexpected event: %+v", items[0])
	}
}

func TestAccessEventStore_List_ByPerson(t *testing.T) {
	conn := openTestDB(t)
	s := sqlitestore.NewAccessEventStore(conn, newTestWriter(t, conn))
	ctx := context.Background()

	if _, err := s.AppendBatch(ctx, []types.AccessEvent{
		passage(1, types.Int64Ptr(7)), passage(2, types.Int64Ptr(8)), passage(3, types.Int64Ptr(7)),
	}); err != nil {
		t.Fatalf("AppendBatch: %v", err)
	}

	items, total, err := s.List(ctx, store.ListFilter{PersonID: types.Int64Ptr(7)})
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if total != 2 {
		t.Errorf("expected 2, got %d", total)
	}
	if len(items) != 2 || *items[0].LogID != 3 {
		t.Errorf("expected newest first, got %+v", items)
	}
	if string(items[0].RawPayload) != `{"logId":1}` {
		t.Errorf("raw payload not preserved: %q", items[0].RawPayload)
	}
}
