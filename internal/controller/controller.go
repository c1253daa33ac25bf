// Package controller wires the planner, executor, and adapters into a
// running service: periodic plan regeneration, a gated executor tick,
// a daily accuracy-tracker run, and a trimmed health/websocket server.
// Grounded on the teacher's scheduler/scheduler.go PeriodicTask loop
// and scheduler/server.go's health/ws endpoints (its static dashboard
// file serving is dropped — serving a UI is out of scope).
package controller

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/rszemeti/solarbat-planner/internal/config"
	"github.com/rszemeti/solarbat-planner/internal/executor"
	"github.com/rszemeti/solarbat-planner/internal/planner"
	"github.com/rszemeti/solarbat-planner/internal/ports"
	"github.com/rszemeti/solarbat-planner/internal/slotgrid"
	"github.com/rszemeti/solarbat-planner/internal/store"
)

// PeriodicTask runs a function on a fixed interval, with an optional
// initial delay, until ctx is cancelled or stopChan is closed.
type PeriodicTask struct {
	Name         string
	InitialDelay time.Duration
	Interval     time.Duration
	RunFunc      func()
}

func (pt *PeriodicTask) run(ctx context.Context, stopChan <-chan struct{}, logger *log.Logger) {
	if pt.InitialDelay > 0 {
		logger.Printf("[%s] waiting initial delay: %v", pt.Name, pt.InitialDelay)
		select {
		case <-time.After(pt.InitialDelay):
			pt.RunFunc()
		case <-ctx.Done():
			return
		case <-stopChan:
			return
		}
	} else {
		pt.RunFunc()
	}

	ticker := time.NewTicker(pt.Interval)
	defer ticker.Stop()
	logger.Printf("[%s] started with interval: %v", pt.Name, pt.Interval)

	for {
		select {
		case <-ticker.C:
			pt.RunFunc()
		case <-ctx.Done():
			logger.Printf("[%s] stopped: context cancelled", pt.Name)
			return
		case <-stopChan:
			logger.Printf("[%s] stopped: stop signal", pt.Name)
			return
		}
	}
}

// Controller owns the single current Plan (mutex-guarded per the
// concurrency model) and drives regeneration, execution, and the
// accuracy tracker.
type Controller struct {
	cfg      *config.Config
	planner  planner.Planner
	executor *executor.Executor
	prices   ports.PriceSource
	solar    ports.SolarForecast
	load     ports.LoadForecast
	battery  ports.InverterStateReader
	caps     slotgrid.Capabilities
	store    *store.Store
	logger   *log.Logger

	mu          sync.RWMutex
	currentPlan *slotgrid.Plan
	isRunning   bool
	stopChan    chan struct{}

	web *Server
}

// Deps bundles the collaborators a Controller needs; every field is
// required except store, which may be nil to disable persistence.
type Deps struct {
	Config   *config.Config
	Planner  planner.Planner
	Executor *executor.Executor
	Prices   ports.PriceSource
	Solar    ports.SolarForecast
	Load     ports.LoadForecast
	Battery  ports.InverterStateReader
	Caps     slotgrid.Capabilities
	Store    *store.Store
	Logger   *log.Logger
}

func New(d Deps) *Controller {
	logger := d.Logger
	if logger == nil {
		logger = log.Default()
	}
	c := &Controller{
		cfg: d.Config, planner: d.Planner, executor: d.Executor,
		prices: d.Prices, solar: d.Solar, load: d.Load, battery: d.Battery,
		caps: d.Caps, store: d.Store, logger: logger,
		stopChan: make(chan struct{}),
	}
	if d.Config.HealthCheckPort > 0 {
		c.web = NewServer(c, d.Config.HealthCheckPort)
	}
	return c
}

// CurrentPlan returns a copy of the controller's current plan pointer
// (the Plan itself is treated as immutable once published).
func (c *Controller) CurrentPlan() *slotgrid.Plan {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.currentPlan
}

func (c *Controller) setCurrentPlan(p *slotgrid.Plan) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.currentPlan = p
}

// Start begins the controller's periodic tasks and blocks until they
// all stop (on context cancellation or Stop()).
func (c *Controller) Start(ctx context.Context) error {
	c.mu.Lock()
	if c.isRunning {
		c.mu.Unlock()
		return fmt.Errorf("controller is already running")
	}
	c.isRunning = true
	c.stopChan = make(chan struct{})
	c.mu.Unlock()

	if c.web != nil {
		if err := c.web.Start(); err != nil {
			c.logger.Printf("failed to start web server: %v", err)
		}
	}

	// Regenerate immediately so the first executor tick has a plan to
	// act on, then on the hour at :05 thereafter.
	c.regenerate(ctx)

	now := time.Now()
	regenDelay := delayToNextHourMark(now, 5*time.Minute)
	executorDelay := delayToNextHalfHourBoundary(now)
	accuracyDelay := delayToNext(now, 1, 30)

	tasks := []PeriodicTask{
		{Name: "PlanRegeneration", InitialDelay: regenDelay, Interval: c.cfg.RegenInterval, RunFunc: func() { c.regenerate(ctx) }},
		{Name: "PlanExecution", InitialDelay: executorDelay, Interval: c.cfg.ExecutorPollPeriod, RunFunc: func() { c.executeTick(ctx) }},
		{Name: "AccuracyTracker", InitialDelay: accuracyDelay, Interval: 24 * time.Hour, RunFunc: func() { c.runAccuracyTracker(ctx) }},
	}

	var wg sync.WaitGroup
	for _, task := range tasks {
		task := task
		wg.Add(1)
		go func() {
			defer wg.Done()
			task.run(ctx, c.stopChan, c.logger)
		}()
	}
	wg.Wait()

	c.stop()
	return nil
}

func (c *Controller) Stop() { c.stop() }

func (c *Controller) stop() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.isRunning {
		return
	}
	c.isRunning = false
	select {
	case <-c.stopChan:
	default:
		close(c.stopChan)
	}
	if c.web != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := c.web.Stop(ctx); err != nil {
			c.logger.Printf("error stopping web server: %v", err)
		}
	}
}

// regenerate builds a fresh Plan from the current forecasts and
// publishes it, per §5's hourly-at-:05 cadence (also invoked
// immediately on price-signal changes by callers that detect one).
func (c *Controller) regenerate(ctx context.Context) {
	from := time.Now()
	to := from.Add(24 * time.Hour)

	importPrices, exportPrices, err := c.prices.GetPrices(ctx, from, to)
	if err != nil {
		c.logger.Printf("plan regeneration: price source unavailable: %v", err)
		return
	}
	solarPoints, err := c.solar.GetForecast(ctx, from, to)
	if err != nil {
		c.logger.Printf("plan regeneration: solar forecast unavailable: %v", err)
		return
	}
	loadPoints, err := c.load.GetForecast(ctx, from, to)
	if err != nil {
		c.logger.Printf("plan regeneration: load forecast unavailable: %v", err)
		return
	}

	state, err := c.battery.Read(ctx)
	if err != nil {
		c.logger.Printf("plan regeneration: inverter state unavailable: %v", err)
		return
	}

	horizon := make([]slotgrid.Index, len(importPrices))
	for i, p := range importPrices {
		horizon[i] = p.Slot
	}

	in := planner.Inputs{
		Horizon: horizon, ImportPrices: importPrices, ExportPrices: exportPrices,
		Solar: solarPoints, Load: loadPoints,
		Battery: slotgrid.BatteryState{SOCPercent: state.BatterySOCPercent}, Caps: c.caps,
	}

	plan, err := c.planner.CreatePlan(ctx, in)
	if err != nil {
		c.logger.Printf("plan regeneration: planner failed: %v", err)
		return
	}

	c.setCurrentPlan(plan)
	c.logger.Printf("plan regenerated: %d slots, total cost %.2fp, confidence %s", len(plan.Slots), plan.TotalCostPence, plan.Confidence)

	if c.store != nil {
		if err := c.store.SavePlan(ctx, plan); err != nil {
			c.logger.Printf("plan regeneration: failed to persist plan: %v", err)
		}
	}
	if c.web != nil {
		c.web.broadcastPlan(plan)
	}
}

// executeTick runs once a minute but — per §5 — calls the plan
// executor only at the minute-0/minute-30 slot boundaries; ticks in
// between return without calling the executor at all.
func (c *Controller) executeTick(ctx context.Context) {
	plan := c.CurrentPlan()
	if plan == nil {
		return
	}
	now := time.Now()
	if now.Minute() != 0 && now.Minute() != 30 {
		return
	}
	outcome, err := c.executor.Execute(ctx, plan, now)
	if err != nil {
		c.logger.Printf("plan execution failed: %v", err)
		return
	}
	if outcome.Executed {
		c.logger.Printf("plan execution: %s for slot %s (%s)", outcome.ActionTaken, outcome.CurrentSlot, outcome.Reason)
	}
}

// runAccuracyTracker compares the plan slots that have just elapsed
// against a fresh inverter read and persists the comparison.
func (c *Controller) runAccuracyTracker(ctx context.Context) {
	if c.store == nil {
		return
	}
	plan := c.CurrentPlan()
	if plan == nil {
		return
	}
	now := time.Now()
	state, err := c.battery.Read(ctx)
	if err != nil {
		c.logger.Printf("accuracy tracker: inverter read failed: %v", err)
		return
	}
	for _, s := range plan.Slots {
		if s.Slot.End().After(now) {
			continue
		}
		realised := s.Result
		realised.SOCAfterPercent = state.BatterySOCPercent
		if err := c.store.RecordAccuracy(ctx, s.Slot, s.Result, realised); err != nil {
			c.logger.Printf("accuracy tracker: failed to record slot %s: %v", s.Slot, err)
		}

		// No dedicated smart-meter port exists (out of scope), so the
		// load sample is backed out of the plan's own energy balance
		// rather than a second live reading.
		measuredLoad := s.Result.SolarUsedKWh/slotgrid.SlotHours + s.Result.GridImportKWh/slotgrid.SlotHours -
			s.Result.GridExportKWh/slotgrid.SlotHours + s.Result.BatteryDischargeKWh/slotgrid.SlotHours -
			s.Result.BatteryChargeKWh/slotgrid.SlotHours
		if err := c.store.RecordLoadSample(ctx, s.Slot, measuredLoad); err != nil {
			c.logger.Printf("accuracy tracker: failed to record load sample %s: %v", s.Slot, err)
		}
	}
}

func delayToNext(now time.Time, hour, minute int) time.Duration {
	next := time.Date(now.Year(), now.Month(), now.Day(), hour, minute, 0, 0, now.Location())
	if !next.After(now) {
		next = next.AddDate(0, 0, 1)
	}
	return next.Sub(now)
}

func delayToNextHourMark(now time.Time, pastHour time.Duration) time.Duration {
	next := time.Date(now.Year(), now.Month(), now.Day(), now.Hour(), 0, 0, 0, now.Location()).Add(pastHour)
	if !next.After(now) {
		next = next.Add(time.Hour)
	}
	return next.Sub(now)
}

func delayToNextHalfHourBoundary(now time.Time) time.Duration {
	minute := 0
	if now.Minute() >= 30 {
		minute = 30
	}
	next := time.Date(now.Year(), now.Month(), now.Day(), now.Hour(), minute, 0, 0, now.Location()).Add(time.Minute)
	for !next.After(now) {
		next = next.Add(30 * time.Minute)
	}
	return next.Sub(now)
}

// ---- trimmed health/websocket server ----

// Server exposes /api/health, /api/ready and /api/ws. Grounded on
// scheduler/server.go and scheduler/health.go, with the static
// dashboard file serving dropped (serving a UI is out of scope).
type Server struct {
	controller *Controller
	httpServer *http.Server
	port       int
	startTime  time.Time
	upgrader   websocket.Upgrader
	clients    sync.Map
	broadcast  chan []byte
	done       chan struct{}
}

func NewServer(c *Controller, port int) *Server {
	mux := http.NewServeMux()
	s := &Server{
		controller: c,
		port:       port,
		startTime:  time.Now(),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
		broadcast: make(chan []byte, 256),
		done:      make(chan struct{}),
		httpServer: &http.Server{
			Addr:         fmt.Sprintf(":%d", port),
			Handler:      mux,
			ReadTimeout:  10 * time.Second,
			WriteTimeout: 10 * time.Second,
			IdleTimeout:  60 * time.Second,
		},
	}
	mux.HandleFunc("/api/health", s.healthHandler)
	mux.HandleFunc("/api/ready", s.readinessHandler)
	mux.HandleFunc("/api/ws", s.wsHandler)
	return s
}

func (s *Server) Start() error {
	go s.handleBroadcasts()
	go func() {
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.controller.logger.Printf("web server error: %v", err)
		}
	}()
	return nil
}

func (s *Server) Stop(ctx context.Context) error {
	close(s.done)
	return s.httpServer.Shutdown(ctx)
}

type healthResponse struct {
	Status    string    `json:"status"`
	Timestamp time.Time `json:"timestamp"`
	Uptime    string    `json:"uptime"`
}

func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(healthResponse{
		Status: "ok", Timestamp: time.Now(), Uptime: time.Since(s.startTime).String(),
	})
}

func (s *Server) readinessHandler(w http.ResponseWriter, r *http.Request) {
	ready := s.controller.CurrentPlan() != nil
	w.Header().Set("Content-Type", "application/json")
	if !ready {
		w.WriteHeader(http.StatusServiceUnavailable)
	}
	json.NewEncoder(w).Encode(map[string]bool{"ready": ready})
}

func (s *Server) wsHandler(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	id := fmt.Sprintf("%p", conn)
	s.clients.Store(id, conn)
	defer s.clients.Delete(id)

	if plan := s.controller.CurrentPlan(); plan != nil {
		if data, err := json.Marshal(plan); err == nil {
			conn.WriteMessage(websocket.TextMessage, data)
		}
	}

	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (s *Server) broadcastPlan(plan *slotgrid.Plan) {
	data, err := json.Marshal(plan)
	if err != nil {
		return
	}
	select {
	case s.broadcast <- data:
	default:
	}
}

func (s *Server) handleBroadcasts() {
	for {
		select {
		case data := <-s.broadcast:
			s.clients.Range(func(_, v any) bool {
				conn := v.(*websocket.Conn)
				conn.WriteMessage(websocket.TextMessage, data)
				return true
			})
		case <-s.done:
			return
		}
	}
}
