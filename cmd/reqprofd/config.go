package main

type ServiceConfig struct {
	Environment string `env:"REQPROF_ENVIRONMENT" env-default:"development"`

	Port string `env:"PORT" env-default:"8080"`

	SentryDSN string `env:"SENTRY_DSN"`

	// RedisAddr selects the result cache backend. Empty means an
	// in-process store, good enough for a single instance.
	RedisAddr     string `env:"REQPROF_REDIS_ADDR"`
	RedisPassword string `env:"REQPROF_REDIS_PASSWORD"`
	RedisDB       int    `env:"REQPROF_REDIS_DB" env-default:"0"`
}
