package downloader

import (
	"time"

	"github.com/kelseyhightower/envconfig"
)

type Config struct {
	Gateway        string        `envconfig:"GATEWAY_URL" default:"https://gateway.lighthouse.storage/ipfs/"`
	MaxAttempts    int           `envconfig:"DOWNLOAD_MAX_ATTEMPTS" default:"5"`
	InitialBackoff time.Duration `envconfig:"DOWNLOAD_INITIAL_BACKOFF" default:"1s"`
	MaxBackoff     time.Duration `envconfig:"DOWNLOAD_MAX_BACKOFF" default:"30s"`
	BufferSize     int           `envconfig:"DOWNLOAD_BUFFER_SIZE" default:"4096"`

	// Workers caps the download pool. Zero means min(2*NumCPU, numParts).
	Workers int `envconfig:"DOWNLOAD_WORKERS"`
}

func GetConfig() (*Config, error) {
	var cfg Config
	err := envconfig.Process("llamactl", &cfg)
	if err != nil {
		return nil, err
	}

	return &cfg, nil
}
