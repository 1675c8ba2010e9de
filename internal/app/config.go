package app

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

type Config struct {
	TelegramToken  string `env:"TELEGRAM_TOKEN,required"`
	TelegramChatID int64  `env:"TELEGRAM_CHAT_ID,required"`
	EthWSURL       string `env:"ETH_WS_URL,required"`
	PostgresURL    string `env:"POSTGRES_URL,required"`

	RedisAddr       string `env:"REDIS_ADDR,required"`
	RedisPassword   string `env:"REDIS_PASSWORD"`
	RedisDB         int    `env:"REDIS_DB"`
	BridgeRequests  string `env:"BRIDGE_REQUEST_CHANNEL"`
	BridgeResponses string `env:"BRIDGE_RESPONSE_CHANNEL"`

	MarketAPIURL    string  `env:"MARKET_API_URL"`
	MarketStreamURL string  `env:"MARKET_STREAM_URL"`
	MarketAPIKey    string  `env:"MARKET_API_KEY"`
	MarketRPS       float64 `env:"MARKET_RPS"`

	PendingWSURL       string `env:"PENDING_WS_URL"`
	PendingAccessToken string `env:"PENDING_ACCESS_TOKEN"`

	Collections      []string      `env:"COLLECTIONS" envSeparator:","`
	WatchedContracts []string      `env:"WATCHED_CONTRACTS" envSeparator:","`
	UseStream        bool          `env:"USE_STREAM"`
	PollInterval     time.Duration `env:"POLL_INTERVAL"`
	GasPresetURL     string        `env:"GAS_PRESET_URL"`

	HTTPAddr       string `env:"HTTP_ADDR"`
	JournalWorkers int    `env:"JOURNAL_WORKERS"`
	TasksBuffer    int    `env:"TASKS_BUFFER"`
	NotifyBuffer   int    `env:"NOTIFY_BUFFER"`
}

func LoadConfig() (Config, error) {
	err := godotenv.Load()
	if err != nil {
		fmt.Println("Warning: .env file not found, relying on environment variables")
	}

	config := Config{
		MarketRPS:      2,
		PollInterval:   2 * time.Second,
		HTTPAddr:       ":8080",
		JournalWorkers: 4,
		TasksBuffer:    1024,
		NotifyBuffer:   1024,
	}

	if err := env.Parse(&config); err != nil {
		return Config{}, err
	}

	return config, nil
}
