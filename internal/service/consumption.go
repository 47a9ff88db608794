package service

import (
	"context"
	"fmt"
	"time"

	"github.com/ANIKETSHETTY47/panel-telemetry/internal/clock"
	"github.com/ANIKETSHETTY47/panel-telemetry/internal/domain"
	"github.com/ANIKETSHETTY47/panel-telemetry/internal/repository"
)

type ConsumptionStore interface {
	FlowConsumptions(ctx context.Context, panelIDs []int64, w repository.ConsumptionWindows) (map[int64]domain.FlowConsumption, error)
}

// ConsumptionService answers rolling-window consumption questions. Results
// are derived on every call and never cached.
type ConsumptionService struct {
	store ConsumptionStore
	loc   *time.Location
	clock clock.Clock
}

func NewConsumptionService(store ConsumptionStore, loc *time.Location, clk clock.Clock) *ConsumptionService {
	if loc == nil {
		loc = time.Local
	}
	if clk == nil {
		clk = clock.Real{}
	}
	return &ConsumptionService{store: store, loc: loc, clock: clk}
}

// WindowsAt computes the calendar windows for now in loc. Weeks start on
// Sunday.
func WindowsAt(now time.Time, loc *time.Location) repository.ConsumptionWindows {
	local := now.In(loc)
	y, m, d := local.Date()
	day := time.Date(y, m, d, 0, 0, 0, 0, loc)
	month := time.Date(y, m, 1, 0, 0, 0, 0, loc)
	return repository.ConsumptionWindows{
		Day:       day,
		Week:      day.AddDate(0, 0, -int(local.Weekday())),
		Month:     month,
		LastMonth: month.AddDate(0, -1, 0),
		LastHour:  local.Add(-time.Hour),
	}
}

// FlowConsumptions returns one entry per distinct requested panel. Panels
// with no readings in range come back zero-filled.
func (s *ConsumptionService) FlowConsumptions(ctx context.Context, panelIDs []int64) (map[int64]domain.FlowConsumption, error) {
	ids := uniqueIDs(panelIDs)
	out := make(map[int64]domain.FlowConsumption, len(ids))
	if len(ids) == 0 {
		return out, nil
	}

	found, err := s.store.FlowConsumptions(ctx, ids, WindowsAt(s.clock.Now(), s.loc))
	if err != nil {
		return nil, fmt.Errorf("flow consumptions: %w", err)
	}
	for _, id := range ids {
		fc, ok := found[id]
		if !ok {
			fc = domain.FlowConsumption{PanelID: id}
		}
		if fc.ReadingsLastHour == nil {
			fc.ReadingsLastHour = []domain.PanelReading{}
		}
		out[id] = fc
	}
	return out, nil
}

func uniqueIDs(ids []int64) []int64 {
	seen := make(map[int64]struct{}, len(ids))
	out := make([]int64, 0, len(ids))
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}
