package http

import (
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Probe contributes one field to /health. A false ok marks the
// process degraded.
type Probe struct {
	Name  string
	Check func() (value any, ok bool)
}

func RegisterOps(app *fiber.App, gatherer prometheus.Gatherer, probes ...Probe) {
	app.Get("/health", func(c *fiber.Ctx) error {
		body := fiber.Map{"status": "ok"}
		status := fiber.StatusOK
		for _, p := range probes {
			v, ok := p.Check()
			body[p.Name] = v
			if !ok {
				body["status"] = "degraded"
				status = fiber.StatusServiceUnavailable
			}
		}
		return c.Status(status).JSON(body)
	})

	app.Get("/metrics", adaptor.HTTPHandler(promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})))
}
