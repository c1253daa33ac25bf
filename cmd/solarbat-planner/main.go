// Package main provides the home battery planner's entry point and CLI.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sixdouglas/suncalc"

	"github.com/rszemeti/solarbat-planner/internal/adapters/entsoe"
	"github.com/rszemeti/solarbat-planner/internal/adapters/inverter"
	"github.com/rszemeti/solarbat-planner/internal/adapters/loadhistory"
	"github.com/rszemeti/solarbat-planner/internal/adapters/meteo"
	"github.com/rszemeti/solarbat-planner/internal/config"
	"github.com/rszemeti/solarbat-planner/internal/controller"
	"github.com/rszemeti/solarbat-planner/internal/executor"
	"github.com/rszemeti/solarbat-planner/internal/planner"
	"github.com/rszemeti/solarbat-planner/internal/planner/lp"
	"github.com/rszemeti/solarbat-planner/internal/planner/ml"
	"github.com/rszemeti/solarbat-planner/internal/planner/rulebased"
	"github.com/rszemeti/solarbat-planner/internal/slotgrid"
	"github.com/rszemeti/solarbat-planner/internal/store"
)

func main() {
	var (
		configFile = flag.String("config", "config.json", "Configuration file path")
		info       = flag.Bool("info", false, "Show inverter plant information")
		help       = flag.Bool("help", false, "Show help message")
		serverOnly = flag.Bool("serverOnly", false, "Run only the health/status server without periodic planning")
	)
	flag.Parse()

	if *help {
		showHelp()
		return
	}

	cfg, err := config.Load(*configFile)
	if err != nil {
		fmt.Println("Error loading configuration:", err)
		os.Exit(1)
	}

	if *info {
		if err := inverter.ShowPlantInfo(cfg.PlantModbusAddress); err != nil {
			fmt.Println("Error:", err)
			os.Exit(1)
		}
		return
	}

	fmt.Printf("Starting home battery planner with the following configuration:\n")
	fmt.Printf("  Active planner: %s\n", cfg.ActivePlanner)
	fmt.Printf("  Regeneration interval: %s\n", cfg.RegenInterval)
	fmt.Printf("  Location: %.4f, %.4f\n", cfg.Latitude, cfg.Longitude)
	if cfg.DryRun {
		fmt.Printf("  Mode: DRY-RUN (inverter commands are logged, not sent)\n")
	}
	fmt.Println()

	logger := log.New(os.Stdout, "[PLANNER] ", log.LstdFlags)

	ctl, err := buildController(cfg, logger)
	if err != nil {
		logger.Fatalf("failed to build controller: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		if *serverOnly {
			<-ctx.Done()
			return
		}
		if err := ctl.Start(ctx); err != nil {
			logger.Printf("controller error: %v", err)
		}
	}()

	logger.Printf("Planner started. Press Ctrl+C to stop...")

	<-sigChan
	logger.Printf("Shutdown signal received, stopping planner...")
	cancel()
	ctl.Stop()
	logger.Printf("Planner stopped successfully")
}

func buildController(cfg *config.Config, logger *log.Logger) (*controller.Controller, error) {
	location, err := time.LoadLocation(cfg.Location)
	if err != nil {
		return nil, fmt.Errorf("failed to load location %q: %w", cfg.Location, err)
	}

	caps := slotgrid.Capabilities{
		BatteryCapacityKWh:          cfg.BatteryCapacityKWh,
		MaxChargeRateKW:             cfg.BatteryMaxChargeKW,
		MaxDischargeRateKW:          cfg.BatteryMaxDischargeKW,
		ChargeEfficiency:            cfg.ChargeEfficiency,
		DischargeEfficiency:         cfg.DischargeEfficiency,
		ExportLimitKW:               cfg.ExportLimitKW,
		MinSOCPercent:               cfg.BatteryMinSOCPercent,
		MaxSOCPercent:               cfg.BatteryMaxSOCPercent,
		PreHeatPowerKW:              cfg.BatteryPreHeatPowerKW,
		PreHeatTempThresholdCelsius: cfg.BatteryPreHeatTempThreshold,
		ThermalTimeConstantHours:    cfg.BatteryThermalTimeConstant,
	}

	plannerCfg := planner.DefaultConfig()
	plannerCfg.ChargeEfficiency = cfg.ChargeEfficiency
	plannerCfg.DischargeEfficiency = cfg.DischargeEfficiency

	activePlanner, err := buildPlanner(cfg, plannerCfg, caps)
	if err != nil {
		return nil, err
	}

	modbusClient, err := inverter.NewTCPClient(cfg.PlantModbusAddress, inverter.PlantAddress)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to inverter: %w", err)
	}
	inverterAdapter := inverter.NewPortAdapter(modbusClient)

	exec := executor.New(inverterAdapter, inverterAdapter, cfg.DryRun, log.New(os.Stdout, "[EXECUTOR] ", log.LstdFlags))

	var db *store.Store
	if cfg.PostgresConnString != "" {
		db, err = store.Open(cfg.PostgresConnString)
		if err != nil {
			return nil, fmt.Errorf("failed to open database: %w", err)
		}
	}

	priceSource := entsoe.NewPortAdapter(cfg.SecurityToken, cfg.UrlFormat, location, eurToGBPRate)
	solarSource := meteo.NewPortAdapter(cfg.UserAgent, cfg.Latitude, cfg.Longitude, estimatedPeakPowerKW(caps))
	loadSource := loadhistory.NewPortAdapter(db, defaultLookbackWeeks, defaultLoadFallbackKW)

	ctl := controller.New(controller.Deps{
		Config:   cfg,
		Planner:  activePlanner,
		Executor: exec,
		Prices:   priceSource,
		Solar:    solarSource,
		Load:     loadSource,
		Battery:  inverterAdapter,
		Caps:     caps,
		Store:    db,
		Logger:   logger,
	})
	return ctl, nil
}

func buildPlanner(cfg *config.Config, plannerCfg planner.Config, caps slotgrid.Capabilities) (planner.Planner, error) {
	switch cfg.ActivePlanner {
	case "rule_based":
		sunriseAt := func(t time.Time) time.Time {
			times := suncalc.GetTimes(t, cfg.Latitude, cfg.Longitude)
			return times["sunrise"].Value
		}
		return rulebased.New(plannerCfg, rulebased.DefaultThresholds(), caps, sunriseAt), nil
	case "lp_milp":
		return lp.New(plannerCfg, caps), nil
	case "ml":
		var artefacts *ml.Artefacts
		if cfg.MLModelPath != "" {
			a, err := ml.LoadArtefacts(cfg.MLModelPath)
			if err != nil {
				fmt.Println("Failed to load ML artefacts, using heuristic fallback:", err)
			} else {
				artefacts = a
			}
		}
		return ml.New(plannerCfg, caps, artefacts), nil
	default:
		return nil, fmt.Errorf("unknown active_planner: %s", cfg.ActivePlanner)
	}
}

const (
	// eurToGBPRate is a placeholder exchange rate; production
	// deployments should source this from a live FX feed.
	eurToGBPRate          = 0.86
	defaultLookbackWeeks  = 8
	defaultLoadFallbackKW = 0.5
)

func estimatedPeakPowerKW(caps slotgrid.Capabilities) float64 {
	// No dedicated PV-array-size config field; approximate peak solar
	// output from the inverter's charge rate, which is sized to the
	// array it serves.
	if caps.MaxChargeRateKW > 0 {
		return caps.MaxChargeRateKW
	}
	return 4.0
}

func showHelp() {
	fmt.Println("solarbat-planner - plan and execute home battery charge/discharge schedules")
	fmt.Println()
	fmt.Println("DESCRIPTION:")
	fmt.Println("  Plans battery charge/discharge/export behaviour across a half-hourly slot")
	fmt.Println("  grid, using day-ahead electricity prices, weather-derived solar forecasts,")
	fmt.Println("  and historical load, then executes the plan against the inverter.")
	fmt.Println()
	fmt.Println("USAGE:")
	fmt.Println("  solarbat-planner [OPTIONS]")
	fmt.Println()
	fmt.Println("OPTIONS:")
	flag.PrintDefaults()
	fmt.Println()
	fmt.Println("EXAMPLES:")
	fmt.Println("  solarbat-planner --config=config.json")
	fmt.Println("  solarbat-planner -info")
	fmt.Println("  solarbat-planner -serverOnly")
}
