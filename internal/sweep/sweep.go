// Package sweep schedules the daily subscription expiry pass.
package sweep

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/gatewarden/warden/internal/service"
)

// runTimeout bounds one sweep pass, remote teardown calls included.
const runTimeout = 10 * time.Minute

// Sweeper drives the expiry pass on a fixed daily schedule in the
// deployment time zone.
type Sweeper struct {
	cp   *service.ControlPlane
	cron *cron.Cron
}

// New creates a Sweeper firing daily at hour:minute in loc.
func New(cp *service.ControlPlane, hour, minute int, loc *time.Location) (*Sweeper, error) {
	c := cron.New(cron.WithLocation(loc))
	s := &Sweeper{cp: cp, cron: c}

	spec := fmt.Sprintf("%d %d * * *", minute, hour)
	if _, err := c.AddFunc(spec, s.run); err != nil {
		return nil, fmt.Errorf("sweep: invalid schedule %q: %w", spec, err)
	}
	return s, nil
}

// Start begins firing on schedule.
func (s *Sweeper) Start() {
	s.cron.Start()
}

// Stop halts the schedule and waits for a running pass to finish.
func (s *Sweeper) Stop() {
	<-s.cron.Stop().Done()
}

func (s *Sweeper) run() {
	ctx, cancel := context.WithTimeout(context.Background(), runTimeout)
	defer cancel()
	if _, err := s.cp.ExpireLapsedClients(ctx); err != nil {
		log.Printf("[sweep] pass failed: %v", err)
	}
}

// RunOnce triggers a single pass outside the schedule.
func (s *Sweeper) RunOnce(ctx context.Context) (int, error) {
	return s.cp.ExpireLapsedClients(ctx)
}
