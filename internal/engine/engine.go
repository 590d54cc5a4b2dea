// Package engine owns every write to care plans, daily instances and the
// completion log. All multi-step writes run in a single transaction with
// their journal event; observers hear about commits through the bus.
package engine

import (
	"database/sql"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"careline/internal/config"
	"careline/internal/events"
	"careline/internal/repo"
)

type Engine struct {
	DB     *sql.DB
	Repo   repo.Repo
	Events events.Writer
	Bus    *events.Bus
	Config *config.Config
	Now    func() time.Time

	genGroup    singleflight.Group
	genInFlight sync.Map
}

func New(db *sql.DB, cfg *config.Config, bus *events.Bus) *Engine {
	return &Engine{
		DB:     db,
		Repo:   repo.Repo{DB: db},
		Events: events.Writer{DB: db},
		Bus:    bus,
		Config: cfg,
		Now:    time.Now,
	}
}

func (e *Engine) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}

func (e *Engine) publish(c events.Change) {
	if e.Bus != nil {
		e.Bus.Publish(c)
	}
}

// graceMinutes is how long past the scheduled time a pending instance may
// sit before the lazy sweep marks it missed.
func (e *Engine) graceMinutes() int {
	if e.Config != nil && e.Config.Generation.GraceMinutes > 0 {
		return e.Config.Generation.GraceMinutes
	}
	return 60
}
