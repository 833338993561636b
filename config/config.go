package config

import (
	"os"
	"strings"

	"github.com/joho/godotenv"
)

// Config holds everything read from the environment. A .env file is
// loaded first when present so local runs don't need exported vars.
type Config struct {
	Addr           string
	PostgresURL    string
	AllowedOrigins []string
	Debug          bool
}

func Load() Config {
	godotenv.Load()

	cfg := Config{
		Addr:        getenv("ADDR", ":5000"),
		PostgresURL: os.Getenv("POSTGRES_URL"),
		Debug:       os.Getenv("DEBUG") == "true",
	}

	if origins, ok := os.LookupEnv("ALLOWED_ORIGINS"); ok {
		cfg.AllowedOrigins = strings.Split(origins, ",")
	}

	return cfg
}

func getenv(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok {
		return v
	}
	return fallback
}
