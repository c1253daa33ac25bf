// Package config loads and validates the planner's JSON configuration
// file, grounded on the teacher's scheduler/config.go pattern: plain
// struct tags, a custom Marshal/UnmarshalJSON pair to carry
// time.Duration fields as human strings, and an explicit Validate.
package config

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"
)

// Config is the top-level configuration for the planner service.
type Config struct {
	// Scheduling
	RegenInterval      time.Duration `json:"regen_interval"`       // hourly-at-:05 plan regeneration cadence
	ExecutorPollPeriod time.Duration `json:"executor_poll_period"` // how often the executor tick fires
	DeviceIOTimeout    time.Duration `json:"device_io_timeout"`
	SolverWallClock    time.Duration `json:"solver_wall_clock"`
	DryRun             bool          `json:"dry_run"`

	// Active planner selection: "rule_based", "lp_milp", or "ml".
	ActivePlanner string `json:"active_planner"`
	MLModelPath   string `json:"ml_model_path"` // empty means "no artefact, use fallback heuristic"

	// Price source (ENTSO-E)
	SecurityToken string        `json:"security_token"`
	UrlFormat     string        `json:"url_format"`
	APITimeout    time.Duration `json:"api_timeout"`
	Location      string        `json:"location"`

	// Solar forecast (MET Norway + suncalc)
	Latitude              float64       `json:"latitude"`
	Longitude             float64       `json:"longitude"`
	UserAgent             string        `json:"user_agent"`
	WeatherUpdateInterval time.Duration `json:"weather_update_interval"`

	// Inverter (Modbus)
	PlantModbusAddress string `json:"plant_modbus_address"`

	// Battery / inverter capabilities
	BatteryCapacityKWh          float64 `json:"battery_capacity_kwh"`
	BatteryMaxChargeKW          float64 `json:"battery_max_charge_kw"`
	BatteryMaxDischargeKW       float64 `json:"battery_max_discharge_kw"`
	BatteryMinSOCPercent        float64 `json:"battery_min_soc_percent"`
	BatteryMaxSOCPercent        float64 `json:"battery_max_soc_percent"`
	ChargeEfficiency            float64 `json:"charge_efficiency"`
	DischargeEfficiency         float64 `json:"discharge_efficiency"`
	ExportLimitKW               float64 `json:"export_limit_kw"`
	BatteryPreHeatPowerKW       float64 `json:"battery_preheat_power_kw"`
	BatteryPreHeatTempThreshold float64 `json:"battery_preheat_temp_threshold_celsius"`
	BatteryThermalTimeConstant  float64 `json:"battery_thermal_time_constant_hours"`

	// Persistence
	PostgresConnString string `json:"postgres_conn_string"`

	// Logging
	LogLevel  string `json:"log_level"`
	LogFormat string `json:"log_format"`

	// HTTP/health/websocket
	HealthCheckPort int `json:"health_check_port"` // 0 = disabled
}

// DefaultConfig mirrors the teacher's DefaultConfig: sane defaults for
// everything that isn't site-specific (token, address, location).
func DefaultConfig() *Config {
	return &Config{
		RegenInterval:         1 * time.Hour,
		ExecutorPollPeriod:    1 * time.Minute,
		DeviceIOTimeout:       10 * time.Second,
		SolverWallClock:       30 * time.Second,
		DryRun:                false,
		ActivePlanner:         "rule_based",
		APITimeout:            30 * time.Second,
		UrlFormat:             "https://web-api.tp.entsoe.eu/api?documentType=A44&out_Domain=10YGB----------A&in_Domain=10YGB----------A&periodStart=%s&periodEnd=%s&securityToken=%s",
		Location:              "Europe/London",
		Latitude:              51.5072, // London
		Longitude:             -0.1276,
		UserAgent:             "solarbat-planner/1.0 (ops@example.com)",
		WeatherUpdateInterval: 1 * time.Hour,
		BatteryCapacityKWh:    10.0,
		BatteryMaxChargeKW:    5.0,
		BatteryMaxDischargeKW: 5.0,
		BatteryMinSOCPercent:  10.0,
		BatteryMaxSOCPercent:  100.0,
		ChargeEfficiency:      0.95,
		DischargeEfficiency:   0.95,
		ExportLimitKW:         5.0,
		LogLevel:              "info",
		LogFormat:             "text",
		HealthCheckPort:       0,
	}
}

// Load reads and validates configuration from a JSON file.
func Load(filename string) (*Config, error) {
	file, err := os.Open(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to open config file: %w", err)
	}
	defer file.Close()
	return LoadFromReader(file)
}

// LoadFromReader reads and validates configuration from an io.Reader.
func LoadFromReader(reader io.Reader) (*Config, error) {
	cfg := DefaultConfig()
	decoder := json.NewDecoder(reader)
	if err := decoder.Decode(cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config JSON: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// Save writes the configuration to a JSON file.
func (c *Config) Save(filename string) error {
	file, err := os.Create(filename)
	if err != nil {
		return fmt.Errorf("failed to create config file: %w", err)
	}
	defer file.Close()
	return c.SaveToWriter(file)
}

// SaveToWriter writes the configuration to an io.Writer.
func (c *Config) SaveToWriter(writer io.Writer) error {
	encoder := json.NewEncoder(writer)
	encoder.SetIndent("", "  ")
	if err := encoder.Encode(c); err != nil {
		return fmt.Errorf("failed to encode config JSON: %w", err)
	}
	return nil
}

// Validate checks the configuration for the invariants the planning
// core depends on (positive capacities/rates, efficiencies in (0,1]).
func (c *Config) Validate() error {
	if c.SecurityToken == "" {
		return fmt.Errorf("security_token cannot be empty")
	}
	if c.UrlFormat == "" {
		return fmt.Errorf("url_format cannot be empty")
	}
	if c.RegenInterval <= 0 {
		return fmt.Errorf("regen_interval must be greater than 0, got: %s", c.RegenInterval)
	}
	if c.ExecutorPollPeriod <= 0 {
		return fmt.Errorf("executor_poll_period must be greater than 0, got: %s", c.ExecutorPollPeriod)
	}
	if c.APITimeout <= 0 {
		return fmt.Errorf("api_timeout must be greater than 0, got: %s", c.APITimeout)
	}
	if c.DeviceIOTimeout <= 0 {
		return fmt.Errorf("device_io_timeout must be greater than 0, got: %s", c.DeviceIOTimeout)
	}
	if c.SolverWallClock <= 0 {
		return fmt.Errorf("solver_wall_clock must be greater than 0, got: %s", c.SolverWallClock)
	}

	switch c.ActivePlanner {
	case "rule_based", "lp_milp", "ml":
	default:
		return fmt.Errorf("invalid active_planner: %s, must be one of: rule_based, lp_milp, ml", c.ActivePlanner)
	}

	if c.Latitude < -90 || c.Latitude > 90 {
		return fmt.Errorf("latitude must be between -90 and 90, got: %f", c.Latitude)
	}
	if c.Longitude < -180 || c.Longitude > 180 {
		return fmt.Errorf("longitude must be between -180 and 180, got: %f", c.Longitude)
	}
	if c.UserAgent == "" {
		return fmt.Errorf("user_agent cannot be empty")
	}

	if c.BatteryCapacityKWh <= 0 {
		return fmt.Errorf("battery_capacity_kwh must be positive, got: %f", c.BatteryCapacityKWh)
	}
	if c.BatteryMaxChargeKW <= 0 {
		return fmt.Errorf("battery_max_charge_kw must be positive, got: %f", c.BatteryMaxChargeKW)
	}
	if c.BatteryMaxDischargeKW <= 0 {
		return fmt.Errorf("battery_max_discharge_kw must be positive, got: %f", c.BatteryMaxDischargeKW)
	}
	if c.BatteryMinSOCPercent < 0 || c.BatteryMinSOCPercent > 100 {
		return fmt.Errorf("battery_min_soc_percent must be between 0 and 100, got: %f", c.BatteryMinSOCPercent)
	}
	if c.BatteryMaxSOCPercent < 0 || c.BatteryMaxSOCPercent > 100 {
		return fmt.Errorf("battery_max_soc_percent must be between 0 and 100, got: %f", c.BatteryMaxSOCPercent)
	}
	if c.BatteryMinSOCPercent > c.BatteryMaxSOCPercent {
		return fmt.Errorf("battery_min_soc_percent (%f) cannot be greater than battery_max_soc_percent (%f)", c.BatteryMinSOCPercent, c.BatteryMaxSOCPercent)
	}
	if c.ChargeEfficiency <= 0 || c.ChargeEfficiency > 1 {
		return fmt.Errorf("charge_efficiency must be in (0,1], got: %f", c.ChargeEfficiency)
	}
	if c.DischargeEfficiency <= 0 || c.DischargeEfficiency > 1 {
		return fmt.Errorf("discharge_efficiency must be in (0,1], got: %f", c.DischargeEfficiency)
	}
	if c.ExportLimitKW < 0 {
		return fmt.Errorf("export_limit_kw must be non-negative, got: %f", c.ExportLimitKW)
	}

	validLogLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLogLevels[c.LogLevel] {
		return fmt.Errorf("invalid log_level: %s, must be one of: debug, info, warn, error", c.LogLevel)
	}
	validLogFormats := map[string]bool{"text": true, "json": true}
	if !validLogFormats[c.LogFormat] {
		return fmt.Errorf("invalid log_format: %s, must be one of: text, json", c.LogFormat)
	}
	if c.HealthCheckPort < 0 || c.HealthCheckPort > 65535 {
		return fmt.Errorf("health_check_port must be between 0 and 65535, got: %d", c.HealthCheckPort)
	}

	return nil
}

// MarshalJSON implements custom JSON marshaling so duration fields are
// carried as human strings ("1h", "30s") rather than raw nanoseconds.
func (c *Config) MarshalJSON() ([]byte, error) {
	type Alias Config
	return json.Marshal(&struct {
		*Alias
		RegenInterval         string `json:"regen_interval"`
		ExecutorPollPeriod    string `json:"executor_poll_period"`
		DeviceIOTimeout       string `json:"device_io_timeout"`
		SolverWallClock       string `json:"solver_wall_clock"`
		APITimeout            string `json:"api_timeout"`
		WeatherUpdateInterval string `json:"weather_update_interval"`
	}{
		Alias:                 (*Alias)(c),
		RegenInterval:         c.RegenInterval.String(),
		ExecutorPollPeriod:    c.ExecutorPollPeriod.String(),
		DeviceIOTimeout:       c.DeviceIOTimeout.String(),
		SolverWallClock:       c.SolverWallClock.String(),
		APITimeout:            c.APITimeout.String(),
		WeatherUpdateInterval: c.WeatherUpdateInterval.String(),
	})
}

// UnmarshalJSON implements custom JSON unmarshaling for the duration
// fields marshaled above.
func (c *Config) UnmarshalJSON(data []byte) error {
	type Alias Config
	aux := &struct {
		*Alias
		RegenInterval         string `json:"regen_interval"`
		ExecutorPollPeriod    string `json:"executor_poll_period"`
		DeviceIOTimeout       string `json:"device_io_timeout"`
		SolverWallClock       string `json:"solver_wall_clock"`
		APITimeout            string `json:"api_timeout"`
		WeatherUpdateInterval string `json:"weather_update_interval"`
	}{
		Alias: (*Alias)(c),
	}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}

	var err error
	if aux.RegenInterval != "" {
		if c.RegenInterval, err = time.ParseDuration(aux.RegenInterval); err != nil {
			return fmt.Errorf("invalid regen_interval: %w", err)
		}
	}
	if aux.ExecutorPollPeriod != "" {
		if c.ExecutorPollPeriod, err = time.ParseDuration(aux.ExecutorPollPeriod); err != nil {
			return fmt.Errorf("invalid executor_poll_period: %w", err)
		}
	}
	if aux.DeviceIOTimeout != "" {
		if c.DeviceIOTimeout, err = time.ParseDuration(aux.DeviceIOTimeout); err != nil {
			return fmt.Errorf("invalid device_io_timeout: %w", err)
		}
	}
	if aux.SolverWallClock != "" {
		if c.SolverWallClock, err = time.ParseDuration(aux.SolverWallClock); err != nil {
			return fmt.Errorf("invalid solver_wall_clock: %w", err)
		}
	}
	if aux.APITimeout != "" {
		if c.APITimeout, err = time.ParseDuration(aux.APITimeout); err != nil {
			return fmt.Errorf("invalid api_timeout: %w", err)
		}
	}
	if aux.WeatherUpdateInterval != "" {
		if c.WeatherUpdateInterval, err = time.ParseDuration(aux.WeatherUpdateInterval); err != nil {
			return fmt.Errorf("invalid weather_update_interval: %w", err)
		}
	}
	return nil
}

// String returns a pretty-printed JSON representation of the config.
func (c *Config) String() string {
	data, _ := json.MarshalIndent(c, "", "  ")
	return string(data)
}
