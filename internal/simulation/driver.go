// Package simulation drives synthetic clients through the two balancing
// tiers: each client opens a connection at the forwarder, then delivers
// a request to the engine over it, the way a terminated stream would.
package simulation

import (
	"context"
	"fmt"
	"math/rand"
	"net/http"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/gowtham/lbsim/internal/config"
	"github.com/gowtham/lbsim/internal/domain"
	"github.com/gowtham/lbsim/internal/service"
	"github.com/gowtham/lbsim/pkg/logger"
)

// Driver runs the configured number of simulated clients over a fixed
// worker pool, pacing arrivals with a shared rate limiter
type Driver struct {
	forwarder *service.Forwarder
	engine    *service.Engine
	cfg       *config.Config
	limiter   *rate.Limiter
	logger    *logger.Logger
}

// Summary aggregates the outcome of one simulation run
type Summary struct {
	Clients     int
	OK          int
	RouteMisses int
	Unavailable int
}

// NewDriver creates a driver over one forwarder and the engine behind it
func NewDriver(forwarder *service.Forwarder, engine *service.Engine, cfg *config.Config, log *logger.Logger) *Driver {
	sim := cfg.Simulation
	return &Driver{
		forwarder: forwarder,
		engine:    engine,
		cfg:       cfg,
		limiter:   rate.NewLimiter(rate.Limit(sim.RequestsPerSecond), sim.Burst),
		logger:    log.SimulationLogger(),
	}
}

// Run executes the full workload and blocks until every client task has
// finished. Client ids are 1-based so tags and addresses read naturally
// in logs.
func (d *Driver) Run() Summary {
	clients := d.cfg.Simulation.Clients
	workers := d.cfg.Simulation.Workers
	if workers < 1 {
		workers = 1
	}

	d.logger.WithFields(map[string]interface{}{
		"clients": clients,
		"workers": workers,
		"rate":    d.cfg.Simulation.RequestsPerSecond,
		"burst":   d.cfg.Simulation.Burst,
	}).Info("Starting simulation")

	ids := make(chan int)
	go func() {
		for n := 1; n <= clients; n++ {
			ids <- n
		}
		close(ids)
	}()

	statuses := make(chan int, clients)
	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for n := range ids {
				// The data path carries no cancellation, so arrival
				// pacing waits on a background context
				if err := d.limiter.Wait(context.Background()); err != nil {
					d.logger.WithError(err).Warn("Arrival pacing interrupted")
				}
				statuses <- d.runClient(n)
			}
		}()
	}
	wg.Wait()
	close(statuses)

	summary := Summary{Clients: clients}
	for status := range statuses {
		switch status {
		case http.StatusOK:
			summary.OK++
		case http.StatusNotFound:
			summary.RouteMisses++
		default:
			summary.Unavailable++
		}
	}

	d.logger.WithFields(map[string]interface{}{
		"clients":      summary.Clients,
		"ok":           summary.OK,
		"route_misses": summary.RouteMisses,
		"unavailable":  summary.Unavailable,
	}).Info("All client tasks completed")

	return summary
}

// runClient plays one client end to end: connect through the forwarder,
// wait out a small jitter so concurrent requests interleave, deliver the
// request to the engine, then close the connection. Returns the response
// status for the run summary.
func (d *Driver) runClient(n int) int {
	client := domain.Address{IP: fmt.Sprintf("203.0.113.%d", 100+n), Port: 40000 + n}
	dest := domain.Address{IP: d.cfg.Forwarder.PublicIP, Port: d.cfg.Forwarder.PublicPort}

	conn := domain.NewConnection(client, dest, "tcp")
	conn.SetTag(fmt.Sprintf("client-%d", n))

	if err := d.forwarder.HandleConnection(conn); err != nil {
		d.logger.WithError(err).WithField("tag", conn.Tag()).Error("Forwarder rejected connection")
	}

	time.Sleep(d.jitter())

	path := clientPath(n)
	req := domain.NewRequest(http.MethodGet, path, "", client)

	resp := d.engine.HandleRequest(req, conn)

	fields := map[string]interface{}{
		"tag":       conn.Tag(),
		"path":      path,
		"status":    resp.StatusCode,
		"served_by": resp.ProducedBy,
	}
	if downstream := d.forwarder.DownstreamForConnection(conn.ID); downstream != nil {
		fields["downstream"] = downstream.Name()
	}
	d.logger.WithFields(fields).Info("Client request completed")

	conn.Close()

	d.logger.WithFields(map[string]interface{}{
		"tag":              conn.Tag(),
		"lifetime":         conn.Lifetime().String(),
		"bytes_to_backend": conn.BytesToBackend(),
		"bytes_to_client":  conn.BytesToClient(),
	}).Debug("Connection closed")

	return resp.StatusCode
}

// jitter draws a delay from [JitterMin, JitterMax)
func (d *Driver) jitter() time.Duration {
	min := d.cfg.Simulation.JitterMin()
	max := d.cfg.Simulation.JitterMax()
	if max <= min {
		return min
	}
	return min + time.Duration(rand.Int63n(int64(max-min)))
}

// clientPath alternates clients between the two demo routes so both
// pools see traffic
func clientPath(n int) string {
	if n%2 == 0 {
		return fmt.Sprintf("/img/photo%d.jpg", n)
	}
	return fmt.Sprintf("/api/resource/%d", n)
}
