package config

import (
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	App       AppConfig       `mapstructure:"app"`
	Server    ServerConfig    `mapstructure:"server"`
	Log       LogConfig       `mapstructure:"log"`
	DB        DBConfig        `mapstructure:"db"`
	Cron      CronConfig      `mapstructure:"cron"`
	Simulator SimulatorConfig `mapstructure:"simulator"`
	Planner   PlannerConfig   `mapstructure:"planner"`
	Engine    EngineConfig    `mapstructure:"engine"`
}

type AppConfig struct {
	Env string `mapstructure:"env"`
}

type ServerConfig struct {
	HTTPAddr string `mapstructure:"http_addr"`
}

type LogConfig struct {
	Level             string `mapstructure:"level"`
	Encoding          string `mapstructure:"encoding"`
	Development       bool   `mapstructure:"development"`
	Sampling          bool   `mapstructure:"sampling"`
	DisableCaller     bool   `mapstructure:"disable_caller"`
	DisableStacktrace bool   `mapstructure:"disable_stacktrace"`
}

type DBConfig struct {
	DSN             string        `mapstructure:"dsn"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	ConnMaxIdleTime time.Duration `mapstructure:"conn_max_idle_time"`
	Timezone        string        `mapstructure:"timezone"`
}

type CronConfig struct {
	Enabled bool `mapstructure:"enabled"`
	// RunReaper is the schedule for sweeping runs orphaned in "running".
	RunReaper string `mapstructure:"run_reaper"`
}

// SimulatorConfig holds the market assumptions the simulator cannot read off
// the asset rows themselves.
type SimulatorConfig struct {
	// ExitCapSpread is added to each asset's cap rate at exit valuation.
	ExitCapSpread float64 `mapstructure:"exit_cap_spread"`
	// SaleCostPct covers broker and transfer costs on a sale.
	SaleCostPct float64 `mapstructure:"sale_cost_pct"`
	// RefiCostPct is charged on the new loan balance at refinance.
	RefiCostPct float64 `mapstructure:"refi_cost_pct"`
	// RefiLTV is the loan-to-value a lender will underwrite on refinance.
	RefiLTV float64 `mapstructure:"refi_ltv"`
	// RefiRate is the rate assumed on new debt.
	RefiRate float64 `mapstructure:"refi_rate"`
	// RefiTermMonths is the amortization term of new debt.
	RefiTermMonths int `mapstructure:"refi_term_months"`
	// CapexValueMultiplier converts a capex dollar into added asset value.
	CapexValueMultiplier float64 `mapstructure:"capex_value_multiplier"`
	// CapexNOIUplift is the annual NOI uplift per capex dollar.
	CapexNOIUplift float64 `mapstructure:"capex_noi_uplift"`
}

type PlannerConfig struct {
	Rollouts    int   `mapstructure:"rollouts"`
	Seed        int64 `mapstructure:"seed"`
	MaxParallel int   `mapstructure:"max_parallel"`
	// TopShare is the fraction of best feasible trajectories polled for
	// per-action confidence.
	TopShare float64 `mapstructure:"top_share"`
	// ViolationPenalty scales the reward penalty per constrained month.
	ViolationPenalty float64 `mapstructure:"violation_penalty"`
}

type EngineConfig struct {
	// RunBudget bounds wall-clock time of a single optimization run.
	RunBudget time.Duration `mapstructure:"run_budget"`
	// StuckAfter is how long a row may sit in "running" before the reaper
	// declares it orphaned. Should comfortably exceed RunBudget.
	StuckAfter time.Duration `mapstructure:"stuck_after"`
}

func Load(path string, envOnly bool) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("FO")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.SetConfigFile(path)
	v.SetConfigType("yaml")
	v.AutomaticEnv()
	v.SetDefault("app.env", "dev")
	v.SetDefault("server.http_addr", ":8080")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.encoding", "console")
	v.SetDefault("log.development", true)
	v.SetDefault("log.sampling", false)
	v.SetDefault("log.disable_caller", false)
	v.SetDefault("log.disable_stacktrace", false)
	v.SetDefault("db.max_open_conns", 20)
	v.SetDefault("db.max_idle_conns", 5)
	v.SetDefault("db.conn_max_lifetime", "30m")
	v.SetDefault("db.conn_max_idle_time", "5m")
	v.SetDefault("db.timezone", "UTC")
	v.SetDefault("cron.enabled", true)
	v.SetDefault("cron.run_reaper", "@every 5m")

	v.SetDefault("simulator.exit_cap_spread", 0.005)
	v.SetDefault("simulator.sale_cost_pct", 0.02)
	v.SetDefault("simulator.refi_cost_pct", 0.01)
	v.SetDefault("simulator.refi_ltv", 0.65)
	v.SetDefault("simulator.refi_rate", 0.055)
	v.SetDefault("simulator.refi_term_months", 360)
	v.SetDefault("simulator.capex_value_multiplier", 1.4)
	v.SetDefault("simulator.capex_noi_uplift", 0.08)

	v.SetDefault("planner.rollouts", 256)
	v.SetDefault("planner.seed", 1)
	v.SetDefault("planner.max_parallel", 8)
	v.SetDefault("planner.top_share", 0.1)
	v.SetDefault("planner.violation_penalty", 0.05)

	v.SetDefault("engine.run_budget", "2m")
	v.SetDefault("engine.stuck_after", "10m")

	if !envOnly {
		if err := v.ReadInConfig(); err != nil {
			return Config{}, err
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, err
	}

	return cfg, nil
}
