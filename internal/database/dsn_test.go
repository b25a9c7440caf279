package database

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestBuildPostgresDSN(t *testing.T) {
	dsn, err := buildPostgresDSN(Config{User: "fixhub", Name: "fixhub"})
	require.NoError(t, err)
	require.Equal(t, "host=localhost port=5432 user=fixhub dbname=fixhub sslmode=disable", dsn)

	dsn, err = buildPostgresDSN(Config{
		User:     "svc",
		Name:     "marketplace",
		Host:     "db.internal",
		Port:     6543,
		Password: "pass",
		Options:  map[string]string{"sslmode": "require", "search_path": "chat"},
	})
	require.NoError(t, err)
	require.Equal(t, "host=db.internal port=6543 user=svc dbname=marketplace password=pass search_path=chat sslmode=require", dsn)

	dsn, err = buildPostgresDSN(Config{DSN: "postgres://override"})
	require.NoError(t, err)
	require.Equal(t, "postgres://override", dsn)

	_, err = buildPostgresDSN(Config{})
	require.Error(t, err)
}

func TestBuildMySQLDSN(t *testing.T) {
	dsn, err := buildMySQLDSN(Config{User: "fixhub", Name: "fixhub"})
	require.NoError(t, err)
	require.Equal(t, "fixhub@tcp(127.0.0.1:3306)/fixhub?charset=utf8mb4&loc=Local&parseTime=True", dsn)

	dsn, err = buildMySQLDSN(Config{
		User:     "svc",
		Password: "secret",
		Name:     "marketplace",
		Host:     "db.internal",
		Port:     3307,
		Options:  map[string]string{"tls": "skip-verify", "loc": "UTC"},
	})
	require.NoError(t, err)
	require.Equal(t, "svc:secret@tcp(db.internal:3307)/marketplace?charset=utf8mb4&loc=UTC&parseTime=True&tls=skip-verify", dsn)

	_, err = buildMySQLDSN(Config{Host: "localhost"})
	require.Error(t, err)
}

func TestOpenRejectsUnknownDriver(t *testing.T) {
	_, err := Open(Config{Driver: "oracle"})
	require.ErrorContains(t, err, "unsupported database driver")
}
