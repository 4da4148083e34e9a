package manifest

import (
	"time"

	"github.com/kelseyhightower/envconfig"
)

type Config struct {
	Gateway        string        `envconfig:"GATEWAY_URL" default:"https://gateway.lighthouse.storage/ipfs/"`
	RequestTimeout time.Duration `envconfig:"MANIFEST_TIMEOUT" default:"10s"`
	MaxAttempts    int           `envconfig:"MANIFEST_MAX_ATTEMPTS" default:"3"`
	InitialBackoff time.Duration `envconfig:"MANIFEST_INITIAL_BACKOFF" default:"500ms"`
	MaxBackoff     time.Duration `envconfig:"MANIFEST_MAX_BACKOFF" default:"5s"`
}

func GetConfig() (*Config, error) {
	var cfg Config
	err := envconfig.Process("llamactl", &cfg)
	if err != nil {
		return nil, err
	}

	return &cfg, nil
}
