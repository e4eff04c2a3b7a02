package main

import (
	"time"

	"github.com/caarlos0/env/v11"

	metaapi "github.com/metaapi-go/sdk"
)

// envConfig is this example binary's own env-var overlay. It is
// intentionally not part of the metaapi package: the core SDK takes an
// Options value from its caller and has no opinion on where that value
// comes from.
type envConfig struct {
	Token       string        `env:"METAAPI_TOKEN,required"`
	AccountID   string        `env:"METAAPI_ACCOUNT_ID,required"`
	Application string        `env:"METAAPI_APPLICATION" envDefault:"MetaApi"`
	Domain      string        `env:"METAAPI_DOMAIN" envDefault:"agiliumtrade.agiliumtrade.ai"`
	LogLevel    string        `env:"METAAPI_LOG_LEVEL" envDefault:"info"`
	MetricsAddr string        `env:"METAAPI_METRICS_ADDR" envDefault:":9095"`
	WaitTimeout time.Duration `env:"METAAPI_WAIT_SYNC_TIMEOUT" envDefault:"5m"`
}

func loadEnvConfig() (envConfig, error) {
	var cfg envConfig
	if err := env.Parse(&cfg); err != nil {
		return envConfig{}, err
	}
	return cfg, nil
}

func (c envConfig) options() metaapi.Options {
	return metaapi.Options{
		Application: c.Application,
		Domain:      c.Domain,
	}
}
