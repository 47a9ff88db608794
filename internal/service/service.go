package service

import (
	"time"

	"github.com/ANIKETSHETTY47/panel-telemetry/internal/clock"
	"github.com/ANIKETSHETTY47/panel-telemetry/internal/repository"
)

type Services struct {
	Repos       *repository.Repos
	Readings    *ReadingService
	Consumption *ConsumptionService
}

type Options struct {
	Location      *time.Location
	DefaultWindow time.Duration
	Clock         clock.Clock
}

func New(repos *repository.Repos, opts Options) *Services {
	if opts.Clock == nil {
		opts.Clock = clock.Real{}
	}
	return &Services{
		Repos:       repos,
		Readings:    NewReadingService(repos, opts.DefaultWindow, opts.Clock),
		Consumption: NewConsumptionService(repos, opts.Location, opts.Clock),
	}
}
