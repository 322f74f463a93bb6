package config

import (
	"fmt"

	"github.com/caarlos0/env/v10"
)

// Load parses environment variables into the provided struct, which maps
// fields with `env` tags.
//
// Example:
//
//	type Config struct {
//	    Port           int `env:"HTTP_PORT" envDefault:"8080"`
//	    ReservationTTL int `env:"RESERVATION_TTL_SECONDS" envDefault:"600"`
//	}
func Load(cfg any) error {
	if err := env.Parse(cfg); err != nil {
		return fmt.Errorf("parse config: %w", err)
	}
	return nil
}
