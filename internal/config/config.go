package config

import (
	"errors"
	"fmt"
	"net/url"
	"time"

	"github.com/caarlos0/env/v11"
	_ "github.com/joho/godotenv/autoload"

	"roulette/internal/game"
)

type Config struct {
	Port       int    `env:"PORT"        envDefault:"8080"`
	AppEnv     string `env:"APP_ENV"     envDefault:"local"`
	AdminToken string `env:"ADMIN_TOKEN"`
	RoundStore string `env:"ROUND_STORE" envDefault:"postgres"`
	LogLevel   string `env:"LOG_LEVEL"   envDefault:"info"`
	LogFormat  string `env:"LOG_FORMAT"  envDefault:"console"`

	Database Database
	Redis    Redis
	NATS     NATS
	Planner  Planner
	Schedule Schedule
}

type Database struct {
	Host     string `env:"BLUEPRINT_DB_HOST"     envDefault:"localhost"`
	Port     int    `env:"BLUEPRINT_DB_PORT"     envDefault:"5432"`
	Name     string `env:"BLUEPRINT_DB_DATABASE" envDefault:"roulette"`
	Username string `env:"BLUEPRINT_DB_USERNAME" envDefault:"postgres"`
	Password string `env:"BLUEPRINT_DB_PASSWORD"`
	Schema   string `env:"BLUEPRINT_DB_SCHEMA"   envDefault:"public"`
	SSLMode  string `env:"BLUEPRINT_DB_SSLMODE"  envDefault:"disable"`
}

// DSN builds a postgres:// connection string; credentials are escaped.
func (d Database) DSN() string {
	u := url.URL{
		Scheme: "postgres",
		User:   url.UserPassword(d.Username, d.Password),
		Host:   fmt.Sprintf("%s:%d", d.Host, d.Port),
		Path:   d.Name,
	}
	q := url.Values{}
	q.Set("sslmode", d.SSLMode)
	q.Set("search_path", d.Schema)
	u.RawQuery = q.Encode()
	return u.String()
}

type Redis struct {
	Addr     string        `env:"REDIS_URL"       envDefault:"localhost:6379"`
	Password string        `env:"REDIS_PASSWORD"`
	DB       int           `env:"REDIS_DB"        envDefault:"0"`
	RoundTTL time.Duration `env:"REDIS_ROUND_TTL" envDefault:"24h"`
}

// NATS publishing is disabled when URL is empty.
type NATS struct {
	URL           string `env:"NATS_URL"`
	Stream        string `env:"NATS_STREAM"         envDefault:"ROULETTE_ROUNDS"`
	SubjectPrefix string `env:"NATS_SUBJECT_PREFIX" envDefault:"roulette.rounds"`
}

type Planner struct {
	Candidates    int           `env:"PLANNER_CANDIDATES"   envDefault:"5"`
	Spacing       time.Duration `env:"PLANNER_SPACING"      envDefault:"3m"`
	Lead          time.Duration `env:"PLANNER_LEAD"         envDefault:"1m"`
	SlotWindow    time.Duration `env:"PLANNER_SLOT_WINDOW"  envDefault:"30s"`
	BettingWindow time.Duration `env:"ROUND_BETTING_WINDOW" envDefault:"1m"`
	SpinDuration  time.Duration `env:"ROUND_SPIN_DURATION"  envDefault:"1m"`
}

type Schedule struct {
	Daily        time.Duration `env:"SCHEDULE_DAILY"     envDefault:"24h"`
	Catchup      time.Duration `env:"SCHEDULE_CATCHUP"   envDefault:"10m"`
	Lifecycle    time.Duration `env:"SCHEDULE_LIFECYCLE" envDefault:"1m"`
	StoreTimeout time.Duration `env:"STORE_TIMEOUT"      envDefault:"5s"`
}

// Load reads the configuration from the environment (and .env, if present)
// and validates it.
func Load() (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) Validate() error {
	var errs []error
	if c.Port <= 0 || c.Port > 65535 {
		errs = append(errs, fmt.Errorf("PORT %d out of range", c.Port))
	}
	switch c.RoundStore {
	case "postgres", "memory":
	default:
		errs = append(errs, fmt.Errorf("ROUND_STORE must be postgres or memory, got %q", c.RoundStore))
	}
	switch c.LogFormat {
	case "console", "json":
	default:
		errs = append(errs, fmt.Errorf("LOG_FORMAT must be console or json, got %q", c.LogFormat))
	}
	if err := c.Policy().Validate(); err != nil {
		errs = append(errs, fmt.Errorf("planner: %w", err))
	}
	if c.Schedule.Daily <= 0 || c.Schedule.Catchup <= 0 || c.Schedule.Lifecycle <= 0 {
		errs = append(errs, errors.New("schedule periods must be positive"))
	}
	if c.Schedule.StoreTimeout <= 0 {
		errs = append(errs, errors.New("STORE_TIMEOUT must be positive"))
	}
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}

func (c Config) Policy() game.Policy {
	return game.Policy{
		Candidates:    c.Planner.Candidates,
		Spacing:       c.Planner.Spacing,
		Lead:          c.Planner.Lead,
		SlotWindow:    c.Planner.SlotWindow,
		BettingWindow: c.Planner.BettingWindow,
		SpinDuration:  c.Planner.SpinDuration,
	}
}

func (c Config) Cadences() game.Cadences {
	return game.Cadences{
		Daily:     c.Schedule.Daily,
		Catchup:   c.Schedule.Catchup,
		Lifecycle: c.Schedule.Lifecycle,
	}
}
