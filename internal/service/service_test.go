package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ANIKETSHETTY47/panel-telemetry/internal/clock"
	"github.com/ANIKETSHETTY47/panel-telemetry/internal/domain"
	"github.com/ANIKETSHETTY47/panel-telemetry/internal/repository"
)

type fakeConsumptionStore struct {
	calls   int
	gotIDs  []int64
	windows repository.ConsumptionWindows
	result  map[int64]domain.FlowConsumption
	err     error
}

func (f *fakeConsumptionStore) FlowConsumptions(_ context.Context, ids []int64, w repository.ConsumptionWindows) (map[int64]domain.FlowConsumption, error) {
	f.calls++
	f.gotIDs = ids
	f.windows = w
	return f.result, f.err
}

type fakeReadingStore struct {
	start, end time.Time
	ids        []int64
}

func (f *fakeReadingStore) ReadingsByPanel(_ context.Context, _ int64, start, end time.Time) ([]domain.PanelReading, error) {
	f.start, f.end = start, end
	return []domain.PanelReading{}, nil
}

func (f *fakeReadingStore) ReadingsByPanels(_ context.Context, ids []int64, start, end time.Time) (map[int64][]domain.PanelReading, error) {
	f.ids, f.start, f.end = ids, start, end
	return map[int64][]domain.PanelReading{}, nil
}

func TestWindowsAt_Midweek(t *testing.T) {
	now := time.Date(2024, 5, 15, 10, 30, 0, 0, time.UTC) // Wednesday
	w := WindowsAt(now, time.UTC)

	assert.Equal(t, time.Date(2024, 5, 15, 0, 0, 0, 0, time.UTC), w.Day)
	assert.Equal(t, time.Date(2024, 5, 12, 0, 0, 0, 0, time.UTC), w.Week)
	assert.Equal(t, time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC), w.Month)
	assert.Equal(t, time.Date(2024, 4, 1, 0, 0, 0, 0, time.UTC), w.LastMonth)
	assert.Equal(t, time.Date(2024, 5, 15, 9, 30, 0, 0, time.UTC), w.LastHour)
}

func TestWindowsAt_SundayAndJanuary(t *testing.T) {
	sunday := WindowsAt(time.Date(2024, 5, 12, 8, 0, 0, 0, time.UTC), time.UTC)
	assert.Equal(t, sunday.Day, sunday.Week)

	jan := WindowsAt(time.Date(2024, 1, 3, 8, 0, 0, 0, time.UTC), time.UTC)
	assert.Equal(t, time.Date(2023, 12, 1, 0, 0, 0, 0, time.UTC), jan.LastMonth)
	assert.Equal(t, time.Date(2023, 12, 31, 0, 0, 0, 0, time.UTC), jan.Week)
}

func TestWindowsAt_UsesConfiguredLocation(t *testing.T) {
	loc := time.FixedZone("UTC-5", -5*60*60)
	w := WindowsAt(time.Date(2024, 5, 1, 2, 0, 0, 0, time.UTC), loc)

	assert.Equal(t, time.Date(2024, 4, 30, 0, 0, 0, 0, loc), w.Day)
	assert.Equal(t, time.Date(2024, 4, 1, 0, 0, 0, 0, loc), w.Month)
	assert.Equal(t, time.Date(2024, 3, 1, 0, 0, 0, 0, loc), w.LastMonth)
}

func TestFlowConsumptions_EmptyInputQueriesNothing(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	svc := NewConsumptionService(repository.New(sqlx.NewDb(db, "pgx")), time.UTC, nil)
	got, err := svc.FlowConsumptions(context.Background(), nil)
	require.NoError(t, err)
	assert.NotNil(t, got)
	assert.Empty(t, got)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestFlowConsumptions_ZeroFillsMissingPanels(t *testing.T) {
	store := &fakeConsumptionStore{result: map[int64]domain.FlowConsumption{
		1: {PanelID: 1, DayConsumption: 4, ReadingsLastHour: []domain.PanelReading{{PanelID: 1, Value: 4}}},
	}}
	now := time.Date(2024, 5, 15, 10, 30, 0, 0, time.UTC)
	svc := NewConsumptionService(store, time.UTC, clock.NewFakeClock(now))

	got, err := svc.FlowConsumptions(context.Background(), []int64{1, 2, 2})
	require.NoError(t, err)

	assert.Equal(t, 1, store.calls)
	assert.Equal(t, []int64{1, 2}, store.gotIDs)
	assert.Equal(t, WindowsAt(now, time.UTC), store.windows)

	require.Len(t, got, 2)
	assert.Equal(t, 4.0, got[1].DayConsumption)
	assert.Equal(t, domain.FlowConsumption{PanelID: 2, ReadingsLastHour: []domain.PanelReading{}}, got[2])
}

func TestFlowConsumptions_StoreError(t *testing.T) {
	store := &fakeConsumptionStore{err: errors.New("timeout")}
	svc := NewConsumptionService(store, time.UTC, nil)

	_, err := svc.FlowConsumptions(context.Background(), []int64{1})
	assert.Error(t, err)
}

func TestReadings_DefaultRange(t *testing.T) {
	now := time.Date(2024, 5, 15, 10, 0, 0, 0, time.UTC)
	store := &fakeReadingStore{}
	svc := NewReadingService(store, 6*time.Hour, clock.NewFakeClock(now))

	_, err := svc.PanelReadings(context.Background(), 1, time.Time{}, time.Time{})
	require.NoError(t, err)
	assert.Equal(t, now, store.end)
	assert.Equal(t, now.Add(-6*time.Hour), store.start)
}

func TestReadings_Validation(t *testing.T) {
	svc := NewReadingService(&fakeReadingStore{}, 0, nil)
	now := time.Now()

	_, err := svc.MultiplePanelReadings(context.Background(), nil, time.Time{}, time.Time{})
	assert.ErrorIs(t, err, ErrNoPanels)

	_, err = svc.PanelReadings(context.Background(), 1, now, now.Add(-time.Hour))
	assert.ErrorIs(t, err, ErrInvalidRange)
}

func TestReadings_MultipleDeduplicatesIDs(t *testing.T) {
	store := &fakeReadingStore{}
	svc := NewReadingService(store, time.Hour, nil)

	_, err := svc.MultiplePanelReadings(context.Background(), []int64{3, 3, 4}, time.Time{}, time.Time{})
	require.NoError(t, err)
	assert.Equal(t, []int64{3, 4}, store.ids)
}
