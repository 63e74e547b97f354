package config

import (
	"github.com/spf13/viper"
)

type Config struct {
	Server   ServerConfig
	Postgres PostgresConfig
	Redis    RedisConfig
	Worker   WorkerConfig
}

type ServerConfig struct {
	Port string
	Env  string
}

type PostgresConfig struct {
	DSN string
}

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

type WorkerConfig struct {
	Concurrency int
	// HeartbeatStaleSeconds is how long a processing task may go without a
	// heartbeat before the watchdog fails it.
	HeartbeatStaleSeconds int
	SweepIntervalSeconds  int
	SweepLimit            int
}

func Load() (*Config, error) {
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(".")
	viper.AddConfigPath("./config")

	viper.AutomaticEnv()

	_ = viper.BindEnv("server.port", "SERVER_PORT")
	_ = viper.BindEnv("server.env", "SERVER_ENV")
	_ = viper.BindEnv("postgres.dsn", "POSTGRES_DSN")
	_ = viper.BindEnv("redis.addr", "REDIS_ADDR")
	_ = viper.BindEnv("redis.password", "REDIS_PASSWORD")
	_ = viper.BindEnv("redis.db", "REDIS_DB")
	_ = viper.BindEnv("worker.concurrency", "WORKER_CONCURRENCY")
	_ = viper.BindEnv("worker.heartbeat_stale_seconds", "WORKER_HEARTBEAT_STALE_SECONDS")
	_ = viper.BindEnv("worker.sweep_interval_seconds", "WORKER_SWEEP_INTERVAL_SECONDS")
	_ = viper.BindEnv("worker.sweep_limit", "WORKER_SWEEP_LIMIT")

	viper.SetDefault("server.port", "8080")
	viper.SetDefault("server.env", "development")
	viper.SetDefault("postgres.dsn", "host=localhost user=postgres password=postgres dbname=storyreel port=5432 sslmode=disable")
	viper.SetDefault("redis.addr", "localhost:6379")
	viper.SetDefault("redis.password", "")
	viper.SetDefault("redis.db", 0)
	viper.SetDefault("worker.concurrency", 4)
	viper.SetDefault("worker.heartbeat_stale_seconds", 300)
	viper.SetDefault("worker.sweep_interval_seconds", 60)
	viper.SetDefault("worker.sweep_limit", 100)

	// config file is optional; env vars and defaults cover everything
	_ = viper.ReadInConfig()

	cfg := &Config{
		Server: ServerConfig{
			Port: viper.GetString("server.port"),
			Env:  viper.GetString("server.env"),
		},
		Postgres: PostgresConfig{
			DSN: viper.GetString("postgres.dsn"),
		},
		Redis: RedisConfig{
			Addr:     viper.GetString("redis.addr"),
			Password: viper.GetString("redis.password"),
			DB:       viper.GetInt("redis.db"),
		},
		Worker: WorkerConfig{
			Concurrency:           viper.GetInt("worker.concurrency"),
			HeartbeatStaleSeconds: viper.GetInt("worker.heartbeat_stale_seconds"),
			SweepIntervalSeconds:  viper.GetInt("worker.sweep_interval_seconds"),
			SweepLimit:            viper.GetInt("worker.sweep_limit"),
		},
	}

	return cfg, nil
}
