package supervisor

import (
	"time"

	"github.com/kelseyhightower/envconfig"
)

type Config struct {
	// ServerBin is the external inference server executable.
	ServerBin string `envconfig:"SERVER_BIN" default:"llama-server"`

	// ServerLog receives the detached server's stdout and stderr. Empty
	// means a llama-server.log file inside StateDir.
	ServerLog string `envconfig:"SERVER_LOG"`

	// StateDir holds the persisted service record and lock file.
	StateDir string `envconfig:"STATE_DIR" default:"."`

	// Large models can take a long time to load, hence the generous
	// default health bound.
	HealthInterval     time.Duration `envconfig:"HEALTH_INTERVAL" default:"2s"`
	HealthTimeout      time.Duration `envconfig:"HEALTH_TIMEOUT" default:"30m"`
	HealthProbeTimeout time.Duration `envconfig:"HEALTH_PROBE_TIMEOUT" default:"5s"`

	StopTimeout time.Duration `envconfig:"STOP_TIMEOUT" default:"10s"`
}

func GetConfig() (*Config, error) {
	var cfg Config
	err := envconfig.Process("llamactl", &cfg)
	if err != nil {
		return nil, err
	}

	return &cfg, nil
}
