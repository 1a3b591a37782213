package config

import (
	"log"
	"time"

	"github.com/caarlos0/env/v11"
)

type Config struct {
	DatabaseURL    string        `env:"DATABASE_URL,notEmpty"`
	RabbitURL      string        `env:"RABBITMQ_URL,notEmpty"`
	APIAddr        string        `env:"API_ADDR" envDefault:":8080"`
	GatewayAddr    string        `env:"GATEWAY_ADDR" envDefault:":8082"`
	MetricsAddr    string        `env:"METRICS_ADDR" envDefault:":9091"`
	BuilderURL     string        `env:"BUILDER_URL" envDefault:"http://builder:7070"`
	PollTimeout    time.Duration `env:"POLL_TIMEOUT" envDefault:"20s"`
	ReceiveBackoff time.Duration `env:"RECEIVE_BACKOFF" envDefault:"5s"`
	MaxReceives    int           `env:"MAX_RECEIVES" envDefault:"3"`
	DBMaxConns     int32         `env:"DB_MAX_CONNS" envDefault:"0"`
}

func Load() Config {
	var c Config
	if err := env.Parse(&c); err != nil {
		log.Fatal(err)
	}
	return c
}
