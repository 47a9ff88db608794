package service

import (
	"context"
	"errors"
	"time"

	"github.com/ANIKETSHETTY47/panel-telemetry/internal/clock"
	"github.com/ANIKETSHETTY47/panel-telemetry/internal/domain"
)

var (
	ErrNoPanels     = errors.New("no panel ids given")
	ErrInvalidRange = errors.New("start is after end")
)

type ReadingStore interface {
	ReadingsByPanel(ctx context.Context, panelID int64, start, end time.Time) ([]domain.PanelReading, error)
	ReadingsByPanels(ctx context.Context, panelIDs []int64, start, end time.Time) (map[int64][]domain.PanelReading, error)
}

type ReadingService struct {
	store         ReadingStore
	defaultWindow time.Duration
	clock         clock.Clock
}

func NewReadingService(store ReadingStore, defaultWindow time.Duration, clk clock.Clock) *ReadingService {
	if defaultWindow <= 0 {
		defaultWindow = 24 * time.Hour
	}
	if clk == nil {
		clk = clock.Real{}
	}
	return &ReadingService{store: store, defaultWindow: defaultWindow, clock: clk}
}

// rangeOrDefault fills a missing end with now and a missing start with
// end minus the default window.
func (s *ReadingService) rangeOrDefault(start, end time.Time) (time.Time, time.Time, error) {
	if end.IsZero() {
		end = s.clock.Now()
	}
	if start.IsZero() {
		start = end.Add(-s.defaultWindow)
	}
	if start.After(end) {
		return time.Time{}, time.Time{}, ErrInvalidRange
	}
	return start, end, nil
}

func (s *ReadingService) PanelReadings(ctx context.Context, panelID int64, start, end time.Time) ([]domain.PanelReading, error) {
	start, end, err := s.rangeOrDefault(start, end)
	if err != nil {
		return nil, err
	}
	return s.store.ReadingsByPanel(ctx, panelID, start, end)
}

func (s *ReadingService) MultiplePanelReadings(ctx context.Context, panelIDs []int64, start, end time.Time) (map[int64][]domain.PanelReading, error) {
	ids := uniqueIDs(panelIDs)
	if len(ids) == 0 {
		return nil, ErrNoPanels
	}
	start, end, err := s.rangeOrDefault(start, end)
	if err != nil {
		return nil, err
	}
	return s.store.ReadingsByPanels(ctx, ids, start, end)
}
