package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v2"
)

// DefaultPath is used when CONFIG_PATH is unset.
const DefaultPath = "config/config.yaml"

type Config struct {
	Server struct {
		Address string `yaml:"address"`
	} `yaml:"server"`
	// Store selects the reservation backend: memory, firestore or sql.
	Store struct {
		Driver string `yaml:"driver"`
	} `yaml:"store"`
	Database struct {
		Dialect string `yaml:"dialect"`
		URL     string `yaml:"url"`
		Migrate bool   `yaml:"migrate"`
	} `yaml:"database"`
	Redis struct {
		Addr     string `yaml:"addr"`
		Password string `yaml:"password"`
		DB       int    `yaml:"db"`
	} `yaml:"redis"`
	Firebase struct {
		ProjectID       string `yaml:"project_id"`
		CredentialsFile string `yaml:"credentials_file"`
	} `yaml:"firebase"`
	RabbitMQ struct {
		URL string `yaml:"url"`
	} `yaml:"rabbitmq"`
	Log struct {
		Level  string `yaml:"level"`
		Format string `yaml:"format"`
	} `yaml:"log"`
	Auth struct {
		JWTSecret string `yaml:"jwt_secret"`
	} `yaml:"auth"`
	CORS struct {
		AllowedOrigins []string `yaml:"allowed_origins"`
	} `yaml:"cors"`
}

// LoadConfig reads the YAML file at path. JWT_SECRET overrides the file so
// the secret can stay out of it.
func LoadConfig(path string) (Config, error) {
	var cfg Config

	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config data: %w", err)
	}

	if v := os.Getenv("JWT_SECRET"); v != "" {
		cfg.Auth.JWTSecret = v
	}
	if cfg.Server.Address == "" {
		cfg.Server.Address = ":4001"
	}
	if cfg.Store.Driver == "" {
		cfg.Store.Driver = "memory"
	}
	switch cfg.Store.Driver {
	case "memory", "firestore", "sql":
	default:
		return Config{}, fmt.Errorf("unknown store driver %q", cfg.Store.Driver)
	}
	if cfg.Store.Driver == "sql" && cfg.Database.URL == "" {
		return Config{}, fmt.Errorf("database.url is required for the sql store")
	}
	if cfg.Auth.JWTSecret == "" {
		return Config{}, fmt.Errorf("auth.jwt_secret is required")
	}
	return cfg, nil
}
