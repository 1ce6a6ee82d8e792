package migration

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/BaSui01/stateflow/config"
)

// ParseDatabaseType normalizes a driver name to a DatabaseType.
func ParseDatabaseType(s string) (DatabaseType, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "postgres", "postgresql", "pg":
		return DatabaseTypePostgres, nil
	case "sqlite", "sqlite3":
		return DatabaseTypeSQLite, nil
	default:
		return "", fmt.Errorf("unsupported database type: %q", s)
	}
}

// BuildDatabaseURL assembles a golang-migrate connection URL for the given
// dialect. For SQLite only database (the file path) is consulted.
func BuildDatabaseURL(dbType DatabaseType, host string, port int, database, username, password, sslMode string) string {
	switch dbType {
	case DatabaseTypePostgres:
		if sslMode == "" {
			sslMode = "require"
		}
		return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
			url.QueryEscape(username), url.QueryEscape(password), host, port, database, sslMode)
	case DatabaseTypeSQLite:
		return "file:" + database
	default:
		return ""
	}
}

// NewMigratorFromDatabaseConfig builds a migrator from the service's SQL
// backend configuration.
func NewMigratorFromDatabaseConfig(dbCfg config.DatabaseConfig) (*DefaultMigrator, error) {
	dbType, err := ParseDatabaseType(dbCfg.Driver)
	if err != nil {
		return nil, err
	}

	var dbURL string
	switch dbType {
	case DatabaseTypePostgres:
		dbURL = BuildDatabaseURL(dbType, dbCfg.Host, dbCfg.Port, dbCfg.Name, dbCfg.User, dbCfg.Password, dbCfg.SSLMode)
	case DatabaseTypeSQLite:
		path := dbCfg.Path
		if path == "" {
			path = "stateflow.db"
		}
		dbURL = BuildDatabaseURL(dbType, "", 0, path, "", "", "")
	}

	return NewMigrator(&Config{
		DatabaseType: dbType,
		DatabaseURL:  dbURL,
	})
}

// NewMigratorFromURL builds a migrator from an explicit driver name and URL.
func NewMigratorFromURL(driver, dbURL string) (*DefaultMigrator, error) {
	dbType, err := ParseDatabaseType(driver)
	if err != nil {
		return nil, err
	}
	return NewMigrator(&Config{
		DatabaseType: dbType,
		DatabaseURL:  dbURL,
	})
}
