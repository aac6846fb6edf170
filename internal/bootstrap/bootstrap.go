// Package bootstrap wires every collaborator package into a running
// process: storage and cache backends, the hybrid ownership manager,
// driver state machine, intelligence engine, route planner,
// notification rules, the simulation tick, and the realtime websocket
// server. Shutdown stops the simulation loops, idle detection and the
// memory monitor, then shuts the HTTP server down with a 10 s limit; it
// does not cancel pending hybrid grace timers, release driver safety
// state, or close websocket connections that are already upgraded.
package bootstrap

import (
	"context"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"github.com/citytransit/realtime-core/cache"
	"github.com/citytransit/realtime-core/driverstate"
	"github.com/citytransit/realtime-core/graph"
	"github.com/citytransit/realtime-core/internal/httpapi"
	"github.com/citytransit/realtime-core/hybrid"
	"github.com/citytransit/realtime-core/intel"
	"github.com/citytransit/realtime-core/monitor"
	"github.com/citytransit/realtime-core/notify"
	"github.com/citytransit/realtime-core/realtime"
	"github.com/citytransit/realtime-core/simulation"
	"github.com/citytransit/realtime-core/storage"
	"github.com/citytransit/realtime-core/transitdata"
)

// Config collects every external knob the process needs. Zero values
// pick sane local defaults (in-memory store/cache, no push provider).
type Config struct {
	PostgresConnStr string // empty uses MemoryStorage
	RedisAddr       string // empty uses MemoryCache
	RedisPassword   string
	RedisDB         int

	JWTSecret string

	PushHeaders map[string]string

	SimulationSeed int64

	ListenAddr string // e.g. ":8080"

	LogLevel  string
	LogFormat string
}

// App holds every wired collaborator so main can start/stop them and
// tests can inspect the wiring without going through main's flag
// parsing.
type App struct {
	Store storage.Store
	Cache cache.Cache

	Hybrid      *hybrid.Manager
	DriverState *driverstate.Machine
	Intel       *intel.Engine
	Planner     *graph.Planner
	Notify      *notify.Rules
	Sim         *simulation.Engine
	Hub         *realtime.Hub
	Server      *realtime.Server

	log zerolog.Logger

	httpServer *http.Server
	stopIdle   chan struct{}
}

// Wire constructs every collaborator and connects the cross-package
// callbacks (simulation tick -> hub fanout, notify -> admin fanout)
// that can't be expressed as constructor arguments alone.
func Wire(cfg Config, log zerolog.Logger) (*App, error) {
	store, err := wireStore(cfg)
	if err != nil {
		return nil, err
	}

	c := wireCache(cfg, log)

	hm := hybrid.NewManager()
	ds := driverstate.NewMachine(store)
	ie := intel.NewEngine(c)
	loader := graph.NewLoader(store)
	planner := graph.NewPlanner(loader, c, ie)

	nr := wireNotify(cfg, store, c, log)

	sim := simulation.NewEngine(store, hm, c, log, cfg.SimulationSeed)

	hub := realtime.NewHub(store, c, hm, ds, ie, planner, nr, log)
	sim.OnTick = func(updates []simulation.BusUpdate) {
		hub.BroadcastSimulationTick(adaptTickUpdates(updates))
	}
	nr.OnNotify = func(p notify.Payload) {
		hub.BroadcastNotification(p)
	}

	auth := realtime.NewAuthenticator([]byte(cfg.JWTSecret))
	server := realtime.NewServer(hub, auth)

	return &App{
		Store: store, Cache: c, Hybrid: hm, DriverState: ds, Intel: ie,
		Planner: planner, Notify: nr, Sim: sim, Hub: hub, Server: server,
		log: log, stopIdle: make(chan struct{}),
	}, nil
}

func wireStore(cfg Config) (storage.Store, error) {
	if cfg.PostgresConnStr == "" {
		return storage.NewMemoryStorage(), nil
	}
	return storage.NewPSQLStorage(cfg.PostgresConnStr, false)
}

func wireCache(cfg Config, log zerolog.Logger) cache.Cache {
	if cfg.RedisAddr == "" {
		return cache.NewMemoryCache()
	}
	c, err := cache.NewRedisCache(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
	if err != nil {
		log.Warn().Err(err).Msg("bootstrap: redis unavailable, falling back to in-memory cache")
		return cache.NewMemoryCache()
	}
	return c
}

func wireNotify(cfg Config, store storage.Store, c cache.Cache, log zerolog.Logger) *notify.Rules {
	provider := transitdata.NewHTTPPushProvider(cfg.PushHeaders)
	sink := notify.NewSink(c, store, provider, log)
	return notify.NewRules(sink, log)
}

// adaptTickUpdates decouples simulation.BusUpdate from the realtime
// channel's wire type: the hub never imports the simulation package,
// so this is the one place the two shapes meet.
func adaptTickUpdates(updates []simulation.BusUpdate) []realtime.SimUpdate {
	out := make([]realtime.SimUpdate, len(updates))
	for i, u := range updates {
		out[i] = realtime.SimUpdate{
			BusID: u.BusID, RouteID: u.RouteID, Lat: u.Lat, Lng: u.Lng,
			Heading: u.Heading, Speed: u.Speed, PassengerCount: u.PassengerCount,
			Capacity: u.Capacity, Occupancy: u.Occupancy, Simulated: u.Simulated,
		}
	}
	return out
}

// Start seeds the simulation (only when no simulated buses exist
// already is left to the caller; Seed always resets them) and
// launches the tick, coverage-scan, idle-detection, and memory-monitor
// background loops, then registers the three websocket namespaces and
// /plan on a new HTTP server; Serve does the listening.
func (a *App) Start(ctx context.Context) error {
	if err := a.Sim.Seed(); err != nil {
		return err
	}
	a.Sim.Start()
	go a.Hub.StartIdleDetection(a.stopIdle)
	go monitor.Run(a.stopIdle, a.log)

	mux := http.NewServeMux()
	mux.HandleFunc("/ws/passenger", a.Server.ServeNamespace(realtime.NamespacePassenger))
	mux.HandleFunc("/ws/driver", a.Server.ServeNamespace(realtime.NamespaceDriver))
	mux.HandleFunc("/ws/admin", a.Server.ServeNamespace(realtime.NamespaceAdmin))
	mux.HandleFunc("/plan", httpapi.PlanHandler(a.Planner, a.log))

	a.httpServer = &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return nil
}

// Serve blocks on ListenAndServe for addr. Call from a goroutine; pair
// with Shutdown on the caller's signal-handling goroutine.
func (a *App) Serve(addr string) error {
	a.httpServer.Addr = addr
	err := a.httpServer.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

// Shutdown stops the simulation tick and coverage scan, closes the
// channel that stops idle detection and the memory monitor, then shuts
// the HTTP listener down, waiting at most 10 s before giving up.
// Pending hybrid grace timers keep running, driver safety state is left
// in place, and websocket connections already upgraded are not closed
// by it.
func (a *App) Shutdown() error {
	a.Sim.Stop()
	close(a.stopIdle)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if a.httpServer == nil {
		return nil
	}
	return a.httpServer.Shutdown(ctx)
}
