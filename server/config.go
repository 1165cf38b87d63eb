package main

import (
	"net/http"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
)

type Config struct {
	Addr           string        `env:"ADDR" envDefault:":8080"`
	DatabaseURL    string        `env:"DATABASE_URL" envDefault:"postgres://postgres:postgres@db:5432/forumlite?sslmode=disable"`
	SessionCookie  string        `env:"SESSION_COOKIE_NAME" envDefault:"forumlite_sess"`
	SessionTTL     time.Duration `env:"SESSION_TTL" envDefault:"336h"`
	CookieSecure   bool          `env:"COOKIE_SECURE" envDefault:"false"`
	CookieSameSite string        `env:"COOKIE_SAMESITE" envDefault:"lax"`
	BcryptCost     int           `env:"BCRYPT_COST" envDefault:"10"`
}

func loadConfig() (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) sameSite() http.SameSite {
	switch strings.ToLower(c.CookieSameSite) {
	case "strict":
		return http.SameSiteStrictMode
	case "none":
		return http.SameSiteNoneMode
	default:
		return http.SameSiteLaxMode
	}
}
