// Package config loads environment-driven configuration structs. Every
// package that needs configuration declares its own struct with env tags;
// this package parses them, optionally seeding the environment from .env
// files during development.
package config

import (
	"errors"
	"fmt"
	"os"
	"sync"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

// ErrParseFailed wraps struct parsing failures.
var ErrParseFailed = errors.New("config: failed to parse environment")

var loadDotenv = sync.OnceFunc(func() {
	// Missing .env files are normal outside development.
	if _, err := os.Stat(".env"); err == nil {
		_ = godotenv.Load()
	}
})

// Load parses environment variables into a fresh T. The first call also
// loads a .env file from the working directory when one exists; real
// environment variables always win over .env values.
func Load[T any]() (T, error) {
	loadDotenv()

	var cfg T
	if err := env.Parse(&cfg); err != nil {
		return cfg, fmt.Errorf("%w: %v", ErrParseFailed, err)
	}
	return cfg, nil
}

// MustLoad is Load that panics on failure, for top-level initialization.
func MustLoad[T any]() T {
	cfg, err := Load[T]()
	if err != nil {
		panic(err)
	}
	return cfg
}
