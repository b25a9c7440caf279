package app

import (
	"strings"
	"time"

	"github.com/charlesng35/fixhub/internal/auth"
	"github.com/charlesng35/fixhub/internal/database"
)

// DatabaseSettings maps the configured driver section onto database.Config.
func (c DatabaseConfig) DatabaseSettings() database.Config {
	driver := strings.ToLower(strings.TrimSpace(c.Driver))
	cfg := database.Config{
		Driver:          driver,
		Path:            c.Path,
		DSN:             c.DSN,
		MaxOpenConns:    c.Pool.MaxOpenConns,
		MaxIdleConns:    c.Pool.MaxIdleConns,
		ConnMaxLifetime: c.Pool.ConnMaxLifetime,
	}

	var section DBAuthConfig
	switch driver {
	case "postgres", "postgresql":
		section = c.Postgres
	case "mysql", "mariadb":
		section = c.MySQL
	default:
		return cfg
	}
	cfg.Host = section.Host
	cfg.Port = section.Port
	cfg.Name = section.Database
	cfg.User = section.Username
	cfg.Password = section.Password
	return cfg
}

// JWTServiceConfig converts the JWT settings into auth.JWTConfig.
func (c AuthConfig) JWTServiceConfig(clock func() time.Time) auth.JWTConfig {
	return auth.JWTConfig{
		Secret:         c.JWT.Secret,
		Issuer:         c.JWT.Issuer,
		AccessTokenTTL: c.JWT.TTL,
		Clock:          clock,
	}
}
