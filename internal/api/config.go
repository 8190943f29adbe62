package api

import "time"

type Config struct {
	HTTPAddr        string        `envconfig:"ORBIT_HTTP_ADDR" default:"0.0.0.0:8080"`
	MetricsAddr     string        `envconfig:"ORBIT_METRICS_ADDR" default:"0.0.0.0:9090"`
	ShutdownTimeout time.Duration `envconfig:"ORBIT_SHUTDOWN_TIMEOUT" default:"30s"`
}
