package config

import (
	"fmt"
	"strings"

	"finsim/finance"
	"finsim/searcher"

	"github.com/go-playground/validator/v10"
	"github.com/samber/lo"
	"github.com/spf13/viper"
)

const EnvPrefix = "FINSIM"

const (
	DefaultInitialID        = "root"
	DefaultInitialValue     = 100000.0
	DefaultLogLevel         = "info"
	DefaultOutputDir        = "results"
	DefaultProgressInterval = 100
	DefaultGoroutines       = 4
)

var validate = validator.New()

type Config struct {
	InitialID            string      `mapstructure:"initial_id" yaml:"initial_id" validate:"required"`
	InitialValue         float64     `mapstructure:"initial_value" yaml:"initial_value" validate:"gte=0"`
	MaxIterations        int         `mapstructure:"max_iterations" yaml:"max_iterations" validate:"gt=0"`
	ExplorationParameter float64     `mapstructure:"exploration_parameter" yaml:"exploration_parameter" validate:"gte=0"`
	TimeHorizon          int         `mapstructure:"time_horizon" yaml:"time_horizon" validate:"gt=0"`
	Scenarios            []string    `mapstructure:"scenarios" yaml:"scenarios" validate:"min=1,dive,oneof=baseline recession growth"`
	RiskTolerance        string      `mapstructure:"risk_tolerance" yaml:"risk_tolerance" validate:"oneof=conservative moderate aggressive"`
	Seed                 uint64      `mapstructure:"seed" yaml:"seed"` // Zero seeds from the clock
	MaintenanceInterval  int         `mapstructure:"maintenance_interval" yaml:"maintenance_interval" validate:"gt=0"`
	LogLevel             string      `mapstructure:"log_level" yaml:"log_level" validate:"oneof=trace debug info warn error disabled"`
	OutputDir            string      `mapstructure:"output_dir" yaml:"output_dir" validate:"required"`
	ProgressInterval     int         `mapstructure:"progress_interval" yaml:"progress_interval" validate:"gt=0"`
	Sweep                SweepConfig `mapstructure:"sweep" yaml:"sweep"`
}

// SweepConfig is the grid run by the sweep command. Every tolerance is paired
// with every scenario set and every seed.
type SweepConfig struct {
	Tolerances   []string   `mapstructure:"tolerances" yaml:"tolerances" validate:"min=1,dive,oneof=conservative moderate aggressive"`
	ScenarioSets [][]string `mapstructure:"scenario_sets" yaml:"scenario_sets" validate:"min=1,dive,min=1,dive,oneof=baseline recession growth"`
	Seeds        []uint64   `mapstructure:"seeds" yaml:"seeds" validate:"min=1"`
	Goroutines   int        `mapstructure:"goroutines" yaml:"goroutines" validate:"gt=0"`
}

func SetDefaults(v *viper.Viper) {
	v.SetDefault("initial_id", DefaultInitialID)
	v.SetDefault("initial_value", DefaultInitialValue)
	v.SetDefault("max_iterations", searcher.DefaultMaxIterations)
	v.SetDefault("exploration_parameter", searcher.DefaultExploration)
	v.SetDefault("time_horizon", searcher.DefaultTimeHorizon)
	v.SetDefault("scenarios", []string{string(finance.Baseline)})
	v.SetDefault("risk_tolerance", string(finance.Moderate))
	v.SetDefault("seed", 0)
	v.SetDefault("maintenance_interval", searcher.DefaultMaintenanceInterval)
	v.SetDefault("log_level", DefaultLogLevel)
	v.SetDefault("output_dir", DefaultOutputDir)
	v.SetDefault("progress_interval", DefaultProgressInterval)

	v.SetDefault("sweep.tolerances", []string{
		string(finance.Conservative),
		string(finance.Moderate),
		string(finance.Aggressive),
	})
	v.SetDefault("sweep.scenario_sets", [][]string{
		{string(finance.Baseline)},
		{string(finance.Recession)},
		{string(finance.Growth)},
		{string(finance.Recession), string(finance.Growth)},
	})
	v.SetDefault("sweep.seeds", []uint64{1, 2, 3})
	v.SetDefault("sweep.goroutines", DefaultGoroutines)
}

// Load reads the configuration from defaults, the optional YAML file at path
// and FINSIM_ prefixed environment variables, in increasing precedence.
// Flags bound to v before the call take precedence over all of them.
func Load(v *viper.Viper, path string) (Config, error) {
	SetDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("failed to read config file %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}

// SearchConfig converts the run settings into an engine configuration.
func (c Config) SearchConfig() searcher.Config {
	return searcher.Config{
		InitialState:         finance.NewRootState(c.InitialID, c.InitialValue),
		MaxIterations:        c.MaxIterations,
		ExplorationParameter: lo.ToPtr(c.ExplorationParameter),
		TimeHorizon:          lo.ToPtr(c.TimeHorizon),
		Scenarios:            Scenarios(c.Scenarios),
		RiskTolerance:        finance.RiskTolerance(c.RiskTolerance),
		MaintenanceInterval:  c.MaintenanceInterval,
	}
}

// SearchOptions returns the engine options implied by the config.
func (c Config) SearchOptions() []searcher.Option {
	if c.Seed == 0 {
		return nil
	}
	return []searcher.Option{searcher.WithSeed(c.Seed)}
}

func Scenarios(names []string) []finance.Scenario {
	return lo.Map(names, func(name string, _ int) finance.Scenario {
		return finance.Scenario(name)
	})
}
