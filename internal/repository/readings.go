package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/lib/pq"

	"github.com/ANIKETSHETTY47/panel-telemetry/internal/domain"
)

// maxRowsPerStatement keeps bulk inserts under the Postgres parameter cap.
var maxRowsPerStatement = 5000

// InsertReadings writes readings in one logical bulk operation. Rows that
// already exist for the same (panel_id, reading_time) are skipped.
func (r *Repos) InsertReadings(ctx context.Context, readings []domain.PanelReading) error {
	if len(readings) == 0 {
		return nil
	}
	if len(readings) <= maxRowsPerStatement {
		if _, err := r.db.ExecContext(ctx, r.insertReadingsQuery(len(readings)), readingArgs(readings)...); err != nil {
			return fmt.Errorf("insert readings: %w", err)
		}
		return nil
	}

	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("insert readings: begin: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	for start := 0; start < len(readings); start += maxRowsPerStatement {
		end := min(start+maxRowsPerStatement, len(readings))
		chunk := readings[start:end]
		if _, err := tx.ExecContext(ctx, r.insertReadingsQuery(len(chunk)), readingArgs(chunk)...); err != nil {
			return fmt.Errorf("insert readings: %w", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("insert readings: commit: %w", err)
	}
	return nil
}

func (r *Repos) insertReadingsQuery(rows int) string {
	var b strings.Builder
	b.WriteString("INSERT INTO panel_readings (panel_id, reading_time, value) VALUES ")
	for i := 0; i < rows; i++ {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString("(?, ?, ?)")
	}
	b.WriteString(" ON CONFLICT (panel_id, reading_time) DO NOTHING")
	return r.db.Rebind(b.String())
}

func readingArgs(readings []domain.PanelReading) []any {
	args := make([]any, 0, len(readings)*3)
	for _, rd := range readings {
		args = append(args, rd.PanelID, rd.ReadingTime, rd.Value)
	}
	return args
}

// ReadingsByPanel returns one panel's readings within [start, end].
func (r *Repos) ReadingsByPanel(ctx context.Context, panelID int64, start, end time.Time) ([]domain.PanelReading, error) {
	out := []domain.PanelReading{}
	err := r.db.SelectContext(ctx, &out, `
		SELECT panel_id, reading_time, value
		FROM panel_readings
		WHERE panel_id = $1 AND reading_time >= $2 AND reading_time <= $3
		ORDER BY reading_time`, panelID, start, end)
	if err != nil {
		return nil, fmt.Errorf("readings for panel %d: %w", panelID, err)
	}
	return out, nil
}

// ReadingsByPanels groups the readings of several panels by panel id.
func (r *Repos) ReadingsByPanels(ctx context.Context, panelIDs []int64, start, end time.Time) (map[int64][]domain.PanelReading, error) {
	out := make(map[int64][]domain.PanelReading)
	if len(panelIDs) == 0 {
		return out, nil
	}

	var rows []domain.PanelReading
	err := r.db.SelectContext(ctx, &rows, `
		SELECT panel_id, reading_time, value
		FROM panel_readings
		WHERE panel_id = ANY($1) AND reading_time >= $2 AND reading_time <= $3
		ORDER BY panel_id, reading_time`, pq.Array(panelIDs), start, end)
	if err != nil {
		return nil, fmt.Errorf("readings for panels: %w", err)
	}
	for _, rd := range rows {
		out[rd.PanelID] = append(out[rd.PanelID], rd)
	}
	return out, nil
}

// ConsumptionWindows are the lower bounds of each rolling sum. LastMonth is
// also the horizon of the whole query.
type ConsumptionWindows struct {
	Day       time.Time
	Week      time.Time
	Month     time.Time
	LastMonth time.Time
	LastHour  time.Time
}

type consumptionRow struct {
	PanelID              int64     `db:"panel_id"`
	LastUpdated          time.Time `db:"last_updated"`
	DayConsumption       float64   `db:"day_consumption"`
	WeekConsumption      float64   `db:"week_consumption"`
	MonthConsumption     float64   `db:"month_consumption"`
	LastMonthConsumption float64   `db:"last_month_consumption"`
	ReadingsLastHour     []byte    `db:"readings_last_hour"`
}

const flowConsumptionQuery = `
	SELECT
		panel_id,
		MAX(reading_time) AS last_updated,
		COALESCE(SUM(value) FILTER (WHERE reading_time >= $2), 0) AS day_consumption,
		COALESCE(SUM(value) FILTER (WHERE reading_time >= $3), 0) AS week_consumption,
		COALESCE(SUM(value) FILTER (WHERE reading_time >= $4), 0) AS month_consumption,
		COALESCE(SUM(value) FILTER (WHERE reading_time >= $5 AND reading_time < $4), 0) AS last_month_consumption,
		COALESCE(
			json_agg(json_build_object('panelId', panel_id, 'readingTime', reading_time, 'value', value)
				ORDER BY reading_time) FILTER (WHERE reading_time >= $6),
			'[]'::json
		) AS readings_last_hour
	FROM panel_readings
	WHERE panel_id = ANY($1) AND reading_time >= $5
	GROUP BY panel_id`

// FlowConsumptions computes every window for all panelIDs in a single
// grouped query. Panels without readings in range are absent from the map.
func (r *Repos) FlowConsumptions(ctx context.Context, panelIDs []int64, w ConsumptionWindows) (map[int64]domain.FlowConsumption, error) {
	var rows []consumptionRow
	err := r.db.SelectContext(ctx, &rows, flowConsumptionQuery,
		pq.Array(panelIDs), w.Day, w.Week, w.Month, w.LastMonth, w.LastHour)
	if err != nil {
		return nil, fmt.Errorf("flow consumptions: %w", err)
	}

	out := make(map[int64]domain.FlowConsumption, len(rows))
	for _, row := range rows {
		fc := domain.FlowConsumption{
			PanelID:              row.PanelID,
			LastUpdated:          row.LastUpdated,
			DayConsumption:       row.DayConsumption,
			WeekConsumption:      row.WeekConsumption,
			MonthConsumption:     row.MonthConsumption,
			LastMonthConsumption: row.LastMonthConsumption,
			ReadingsLastHour:     []domain.PanelReading{},
		}
		if len(row.ReadingsLastHour) > 0 {
			if err := json.Unmarshal(row.ReadingsLastHour, &fc.ReadingsLastHour); err != nil {
				return nil, fmt.Errorf("flow consumptions: decode readings for panel %d: %w", row.PanelID, err)
			}
		}
		out[row.PanelID] = fc
	}
	return out, nil
}
