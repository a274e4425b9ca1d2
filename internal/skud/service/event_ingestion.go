package service

import (
	"context"
	"strings"
	"time"

	"github.com/BrandonDHaskell/Portunus/skud/internal/skud/store"
	"github.com/BrandonDHaskell/Portunus/skud/internal/skud/types"
)

// EventIngestor turns hardware passage logs into access events. Re-delivery
// of a batch is harmless: logs are de-duplicated by logId.
type EventIngestor struct {
	d Deps
}

func NewEventIngestor(d Deps) *EventIngestor {
	return &EventIngestor{d: d.withDefaults()}
}

func (p *EventIngestor) Ingest(ctx context.Context, logs []types.PassageLog) (types.EventsResponse, error) {
	var resp types.EventsResponse
	if len(logs) == 0 {
		return resp, nil
	}

	// Collect distinct identifiers so each map costs one lookup.
	empSet := map[string]struct{}{}
	keySet := map[string]struct{}{}
	for _, l := range logs {
		if e := strings.TrimSpace(l.EmpID.String()); e != "" {
			empSet[e] = struct{}{}
		}
		if e := strings.TrimSpace(l.InternalEmpID.String()); e != "" {
			empSet[e] = struct{}{}
		}
		if k := types.NormalizeCardNumber(l.KeyHex.String()); k != "" {
			keySet[k] = struct{}{}
		}
	}

	byEmp, err := p.d.Bindings.ResolveExternalIDs(ctx, p.d.ExternalSystem, setKeys(empSet))
	if err != nil {
		return resp, err
	}
	byKey, err := p.d.Cards.ResolveActiveNumbers(ctx, p.d.ExternalSystem, setKeys(keySet))
	if err != nil {
		return resp, err
	}

	now := p.d.Clock.Now()
	events := make([]types.AccessEvent, 0, len(logs))
	var seenKeys []string
	var maxLogID int64
	skipped := 0
	for _, l := range logs {
		if !l.LogID.Valid || l.LogID.Value <= 0 {
			skipped++
			continue
		}
		maxLogID = max(maxLogID, l.LogID.Value)

		empID := strings.TrimSpace(l.EmpID.String())
		internal := strings.TrimSpace(l.InternalEmpID.String())
		key := types.NormalizeCardNumber(l.KeyHex.String())

		var personID *int64
		if pid, ok := byEmp[empID]; ok && empID != "" {
			personID = types.Int64Ptr(pid)
		} else if pid, ok := byEmp[internal]; ok && internal != "" {
			personID = types.Int64Ptr(pid)
		} else if pid, ok := byKey[key]; ok && key != "" {
			personID = types.Int64Ptr(pid)
			seenKeys = append(seenKeys, key)
		}

		eventTime := now
		if l.Time.Valid && l.Time.Value > 0 {
			eventTime = time.Unix(l.Time.Value, 0).UTC()
		}
		ev := types.AccessEvent{
			Source:        types.EventSourceHardware,
			EventType:     types.EventTypePassage,
			LogID:         types.Int64Ptr(l.LogID.Value),
			PersonID:      personID,
			ExternalEmpID: empID,
			AccessPoint:   strings.TrimSpace(l.AccessPoint.String()),
			KeyHex:        strings.TrimSpace(l.KeyHex.String()),
			Allow:         true,
			EventTime:     eventTime,
			ReceivedAt:    now,
			RawPayload:    l.Raw,
		}
		if ev.ExternalEmpID == "" {
			ev.ExternalEmpID = internal
		}
		if l.Direction.Valid {
			ev.Direction = int(l.Direction.Value)
		}
		events = append(events, ev)
	}
	if skipped > 0 {
		p.d.Logger.Printf("events ingest skipped=%d reason=missing_log_id", skipped)
	}

	inserted, err := p.d.Events.AppendBatch(ctx, events)
	if err != nil {
		return resp, err
	}
	if dup := len(events) - inserted; dup > 0 {
		p.d.Logger.Printf("events ingest inserted=%d duplicates=%d", inserted, dup)
	}

	if len(seenKeys) > 0 {
		if err := p.d.Cards.TouchLastSeen(ctx, p.d.ExternalSystem, seenKeys, now); err != nil {
			p.d.Logger.Printf("card last seen update failed err=%v", err)
		}
	}

	if maxLogID > 0 {
		resp.ConfirmedLogID = types.Int64Ptr(maxLogID)
	}
	return resp, nil
}

func setKeys(m map[string]struct{}) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	return out
}

func (p *EventIngestor) List(ctx context.Context, f store.ListFilter) ([]types.AccessEvent, int, error) {
	return p.d.Events.List(ctx, f)
}
