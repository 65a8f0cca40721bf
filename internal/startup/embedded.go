package startup

import (
	"fmt"
	"os"
	"path/filepath"

	embeddedpostgres "github.com/fergusstrange/embedded-postgres"

	"github.com/pulse/internal/logger"
)

// EmbeddedPostgres запускает локальный PostgreSQL для режима -dev и возвращает его и DSN.
func EmbeddedPostgres(dataDir string, port uint32) (*embeddedpostgres.EmbeddedPostgres, string, error) {
	const (
		user     = "pulse"
		password = "pulse_secret"
		database = "pulse"
	)

	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return nil, "", fmt.Errorf("create pgdata dir: %w", err)
	}

	db := embeddedpostgres.NewDatabase(
		embeddedpostgres.DefaultConfig().
			Port(port).
			Username(user).
			Password(password).
			Database(database).
			DataPath(dataDir).
			RuntimePath(filepath.Join(os.TempDir(), "pulse-embedded-pg")),
	)

	logger.Info("starting embedded PostgreSQL...")
	if err := db.Start(); err != nil {
		return nil, "", fmt.Errorf("start: %w", err)
	}
	logger.Infof("embedded PostgreSQL running on port %d", port)
	dsn := fmt.Sprintf("postgres://%s:%s@localhost:%d/%s?sslmode=disable", user, password, port, database)
	return db, dsn, nil
}
