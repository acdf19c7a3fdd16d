package config

import (
	"os"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"go.uber.org/zap"
)

type Config struct {
	Env         string
	Port        string
	DatabaseURL string
	RedisURL    string
	JWTSecret   string
	InstanceID  string
	PublicURL   string

	ReconnectGrace      time.Duration
	MatchmakingInterval time.Duration
	StartCountdown      time.Duration
	RoundTime           time.Duration
	Rounds              int
	ResultsTimeout      time.Duration
	PartyMaxMembers     int

	RatingK       float64
	BandInitial   int
	BandStep      int
	BandStepEvery time.Duration
	BandMaxWait   time.Duration
	DefaultRating int

	RestartQueued bool
}

func (c *Config) Development() bool { return c.Env != "production" }

// Load reads .env when present, then the environment. Values that fail to
// parse fall back to their defaults and are reported through warn.
func Load(warn *zap.Logger) *Config {
	_ = godotenv.Load()
	if warn == nil {
		warn = zap.NewNop()
	}
	l := loader{log: warn}

	return &Config{
		Env:         getEnv("ENV", "development"),
		Port:        getEnv("PORT", "8080"),
		DatabaseURL: getEnv("DATABASE_URL", ""),
		RedisURL:    getEnv("REDIS_URL", ""),
		JWTSecret:   getEnv("JWT_SECRET", "dev-secret-change-me"),
		InstanceID:  getEnv("INSTANCE_ID", uuid.NewString()),
		PublicURL:   getEnv("PUBLIC_URL", "http://localhost:8080"),

		ReconnectGrace:      l.duration("RECONNECT_GRACE", 30*time.Second),
		MatchmakingInterval: l.period("MATCHMAKING_INTERVAL", 2*time.Second),
		StartCountdown:      l.duration("START_COUNTDOWN", 5*time.Second),
		RoundTime:           l.period("ROUND_TIME", 60*time.Second),
		Rounds:              l.int("ROUNDS", 5, 1),
		ResultsTimeout:      l.duration("RESULTS_TIMEOUT", 30*time.Second),
		PartyMaxMembers:     l.int("PARTY_MAX_MEMBERS", 4, 2),

		RatingK:       l.float("RATING_K", 32),
		BandInitial:   l.int("BAND_INITIAL", 200, 0),
		BandStep:      l.int("BAND_STEP", 100, 0),
		BandStepEvery: l.duration("BAND_STEP_EVERY", 5*time.Second),
		BandMaxWait:   l.duration("BAND_MAX_WAIT", 60*time.Second),
		DefaultRating: l.int("DEFAULT_RATING", 1000, 0),

		RestartQueued: l.bool("RESTART_QUEUED", false),
	}
}

func getEnv(key, fallback string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return fallback
}

type loader struct {
	log *zap.Logger
}

func (l loader) duration(key string, fallback time.Duration) time.Duration {
	raw := os.Getenv(key)
	if raw == "" {
		return fallback
	}
	d, err := time.ParseDuration(raw)
	if err != nil || d < 0 {
		l.log.Warn("bad duration, using default", zap.String("key", key), zap.String("value", raw))
		return fallback
	}
	return d
}

// period is a duration that must be positive.
func (l loader) period(key string, fallback time.Duration) time.Duration {
	d := l.duration(key, fallback)
	if d == 0 {
		l.log.Warn("zero duration, using default", zap.String("key", key))
		return fallback
	}
	return d
}

// int rejects values below floor the same way it rejects garbage.
func (l loader) int(key string, fallback, floor int) int {
	raw := os.Getenv(key)
	if raw == "" {
		return fallback
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < floor {
		l.log.Warn("bad integer, using default", zap.String("key", key), zap.String("value", raw))
		return fallback
	}
	return n
}

func (l loader) float(key string, fallback float64) float64 {
	raw := os.Getenv(key)
	if raw == "" {
		return fallback
	}
	f, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		l.log.Warn("bad number, using default", zap.String("key", key), zap.String("value", raw))
		return fallback
	}
	return f
}

func (l loader) bool(key string, fallback bool) bool {
	raw := os.Getenv(key)
	if raw == "" {
		return fallback
	}
	b, err := strconv.ParseBool(raw)
	if err != nil {
		l.log.Warn("bad boolean, using default", zap.String("key", key), zap.String("value", raw))
		return fallback
	}
	return b
}
