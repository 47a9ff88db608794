package http

import (
	"context"
	"errors"

	"github.com/gofiber/fiber/v2"

	"github.com/ANIKETSHETTY47/panel-telemetry/internal/domain"
)

// PanelChangeFunc propagates a panel change to whatever consumes it in
// this process (cache, router, relay stream).
type PanelChangeFunc func(ctx context.Context, change domain.PanelChange) error

type CacheRefresher interface {
	Refresh(ctx context.Context) error
}

// RegisterPanelAdmin mounts the panel change intake. refresher may be nil
// in processes without a resolution cache.
func RegisterPanelAdmin(app *fiber.App, onChange PanelChangeFunc, refresher CacheRefresher) {
	g := app.Group("/api")

	g.Post("/panel-changes", func(c *fiber.Ctx) error {
		var change domain.PanelChange
		if err := c.BodyParser(&change); err != nil {
			return badRequest(c, err)
		}
		if err := validateChange(change); err != nil {
			return badRequest(c, err)
		}
		if err := onChange(c.UserContext(), change); err != nil {
			return c.Status(fiber.StatusBadGateway).JSON(fiber.Map{"error": err.Error()})
		}
		return c.SendStatus(fiber.StatusAccepted)
	})

	if refresher == nil {
		return
	}
	g.Post("/panel-cache/refresh", func(c *fiber.Ctx) error {
		if err := refresher.Refresh(c.UserContext()); err != nil {
			return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{"error": err.Error()})
		}
		return c.SendStatus(fiber.StatusNoContent)
	})
}

func validateChange(change domain.PanelChange) error {
	switch change.Action {
	case domain.PanelCreated, domain.PanelUpdated:
		if change.Panel.GatewayID == "" || change.Panel.Index == "" {
			return errors.New("panel gatewayId and index required")
		}
	case domain.PanelDeleted:
	default:
		return errors.New("action must be create, update or delete")
	}
	if change.Panel.ID <= 0 {
		return errors.New("panel id required")
	}
	return nil
}
