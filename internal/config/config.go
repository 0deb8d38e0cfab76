package config

import (
	"time"

	"github.com/ilyakaznacheev/cleanenv"
	"github.com/joho/godotenv"
)

type Config struct {
	Env  string `env:"APP_ENV" env-default:"local"`
	Addr string `env:"ADDR" env-default:":8080"`

	DBPath           string        `env:"DB_PATH" env-default:"./data/realtime.db"`
	HistoryBacklog   int           `env:"HISTORY_BACKLOG" env-default:"200"`
	HistoryMaxAge    time.Duration `env:"HISTORY_MAX_AGE" env-default:"720h"`
	HistorySweepTick time.Duration `env:"HISTORY_SWEEP_INTERVAL" env-default:"1h"`

	JWTSecret string `env:"JWT_SECRET" env-default:"dev-secret"`

	SandboxURL     string        `env:"SANDBOX_URL" env-default:""`
	SandboxTimeout time.Duration `env:"SANDBOX_TIMEOUT" env-default:"30s"`

	ChatBacklog    int           `env:"CHAT_BACKLOG" env-default:"200"`
	ThrottleWindow time.Duration `env:"THROTTLE_WINDOW" env-default:"100ms"`
}

// Load reads the environment, honoring a .env file when present.
func Load() (*Config, error) {
	godotenv.Load()

	var cfg Config
	if err := cleanenv.ReadEnv(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}
