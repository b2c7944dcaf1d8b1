package env

import (
	"context"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/sethvargo/go-envconfig"
)

type Config struct {
	Semantics  string `env:"DGRAMFS_SEMANTICS,default=at-most-once"`
	Storage    string `env:"DGRAMFS_STORAGE,default=memory"`
	StorageDir string `env:"DGRAMFS_STORAGE_DIR,default=data"`

	S3 S3Config

	DropRate float64 `env:"DGRAMFS_DROP_RATE,default=0"`

	HistoryRetention time.Duration `env:"DGRAMFS_HISTORY_RETENTION,default=24h"`
	HistorySweep     time.Duration `env:"DGRAMFS_HISTORY_SWEEP,default=1h"`

	Freshness   time.Duration `env:"DGRAMFS_FRESHNESS,default=10s"`
	Timeout     time.Duration `env:"DGRAMFS_TIMEOUT,default=5s"`
	MaxAttempts int           `env:"DGRAMFS_MAX_ATTEMPTS,default=5"`

	LogLevel  string `env:"DGRAMFS_LOG_LEVEL,default=info"`
	DebugHTTP bool   `env:"DGRAMFS_DEBUG_HTTP"`
}

type S3Config struct {
	Endpoint  string `env:"DGRAMFS_S3_ENDPOINT"`
	Bucket    string `env:"DGRAMFS_S3_BUCKET"`
	Prefix    string `env:"DGRAMFS_S3_PREFIX,default=dgramfs/"`
	Region    string `env:"DGRAMFS_S3_REGION,default=us-east-1"`
	AccessKey string `env:"DGRAMFS_S3_ACCESS_KEY"`
	SecretKey string `env:"DGRAMFS_S3_SECRET_KEY"`
}

func LoadConfig(ctx context.Context) (*Config, error) {
	config := Config{}

	if err := godotenv.Load(".env.local"); err != nil {
		if !os.IsNotExist(err) {
			return nil, err
		}
	}

	if err := envconfig.Process(ctx, &config); err != nil {
		return nil, err
	}

	return &config, nil
}
