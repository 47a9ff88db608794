package http

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/ANIKETSHETTY47/panel-telemetry/internal/domain"
	"github.com/ANIKETSHETTY47/panel-telemetry/internal/service"
)

type ReadingQuerier interface {
	PanelReadings(ctx context.Context, panelID int64, start, end time.Time) ([]domain.PanelReading, error)
	MultiplePanelReadings(ctx context.Context, panelIDs []int64, start, end time.Time) (map[int64][]domain.PanelReading, error)
}

type ConsumptionQuerier interface {
	FlowConsumptions(ctx context.Context, panelIDs []int64) (map[int64]domain.FlowConsumption, error)
}

type multipleReadingsRequest struct {
	PanelIDs  []int64 `json:"panelIds"`
	StartDate string  `json:"startDate"`
	EndDate   string  `json:"endDate"`
}

type consumptionRequest struct {
	PanelIDs []int64 `json:"panelIds"`
}

// Register mounts the read-side query routes under /api.
func Register(app *fiber.App, readings ReadingQuerier, consumption ConsumptionQuerier) {
	g := app.Group("/api")

	g.Get("/panels/:id/readings", func(c *fiber.Ctx) error {
		id, err := panelID(c)
		if err != nil {
			return badRequest(c, err)
		}
		start, err := parseTime(c.Query("start"))
		if err != nil {
			return badRequest(c, err)
		}
		end, err := parseTime(c.Query("end"))
		if err != nil {
			return badRequest(c, err)
		}
		items, err := readings.PanelReadings(c.UserContext(), id, start, end)
		if err != nil {
			return queryError(c, err)
		}
		return c.JSON(items)
	})

	g.Post("/readings/multiple", func(c *fiber.Ctx) error {
		var req multipleReadingsRequest
		if err := c.BodyParser(&req); err != nil {
			return badRequest(c, err)
		}
		start, err := parseTime(req.StartDate)
		if err != nil {
			return badRequest(c, err)
		}
		end, err := parseTime(req.EndDate)
		if err != nil {
			return badRequest(c, err)
		}
		items, err := readings.MultiplePanelReadings(c.UserContext(), req.PanelIDs, start, end)
		if err != nil {
			return queryError(c, err)
		}
		return c.JSON(items)
	})

	g.Post("/consumption", func(c *fiber.Ctx) error {
		var req consumptionRequest
		if err := c.BodyParser(&req); err != nil {
			return badRequest(c, err)
		}
		items, err := consumption.FlowConsumptions(c.UserContext(), req.PanelIDs)
		if err != nil {
			return queryError(c, err)
		}
		return c.JSON(items)
	})

	g.Get("/panels/:id/consumption", func(c *fiber.Ctx) error {
		id, err := panelID(c)
		if err != nil {
			return badRequest(c, err)
		}
		items, err := consumption.FlowConsumptions(c.UserContext(), []int64{id})
		if err != nil {
			return queryError(c, err)
		}
		return c.JSON(items[id])
	})
}

func panelID(c *fiber.Ctx) (int64, error) {
	id, err := strconv.ParseInt(c.Params("id"), 10, 64)
	if err != nil || id <= 0 {
		return 0, errors.New("invalid panel id")
	}
	return id, nil
}

// parseTime accepts RFC 3339 timestamps or plain dates. Empty means unset.
func parseTime(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t, nil
	}
	t, err := time.Parse(time.DateOnly, s)
	if err != nil {
		return time.Time{}, errors.New("invalid time " + strconv.Quote(s))
	}
	return t, nil
}

func badRequest(c *fiber.Ctx, err error) error {
	return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": err.Error()})
}

func queryError(c *fiber.Ctx, err error) error {
	if errors.Is(err, service.ErrNoPanels) || errors.Is(err, service.ErrInvalidRange) {
		return badRequest(c, err)
	}
	return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": err.Error()})
}
