package migration

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"go.uber.org/zap"

	"holodoc/internal/vision"
)

type migrationStep struct {
	Name string
	SQL  string
}

// sentinelTable is created by the last step; its presence means the schema is complete.
const sentinelTable = "public.document_links"

var steps = []migrationStep{
	{
		Name: "create_extension_vector",
		SQL:  `CREATE EXTENSION IF NOT EXISTS vector;`,
	},
	{
		Name: "create_table_documents",
		SQL: fmt.Sprintf(`CREATE TABLE IF NOT EXISTS documents (
  id          UUID        PRIMARY KEY,
  image_key   TEXT        NOT NULL UNIQUE,
  corners     JSONB       NOT NULL,
  fingerprint vector(%d)  NOT NULL,
  fp_width    INTEGER     NOT NULL CHECK (fp_width >= 0),
  fp_height   INTEGER     NOT NULL CHECK (fp_height >= 0),
  label       TEXT        NOT NULL DEFAULT '',
  author      TEXT        NOT NULL DEFAULT '',
  doc_date    TEXT        NOT NULL DEFAULT '',
  description TEXT        NOT NULL DEFAULT '',
  created_at  TIMESTAMPTZ NOT NULL DEFAULT now(),
  updated_at  TIMESTAMPTZ NOT NULL DEFAULT now()
);`, vision.FingerprintDim),
	},
	{
		Name: "create_index_documents_created_at",
		SQL:  `CREATE INDEX IF NOT EXISTS idx_documents_created_at ON documents (created_at DESC, id DESC);`,
	},
	{
		Name: "create_index_documents_fingerprint",
		SQL:  `CREATE INDEX IF NOT EXISTS idx_documents_fingerprint ON documents USING hnsw (fingerprint vector_l2_ops);`,
	},
	{
		Name: "create_table_document_links",
		SQL: `CREATE TABLE IF NOT EXISTS document_links (
  low_id     UUID        NOT NULL REFERENCES documents (id),
  high_id    UUID        NOT NULL REFERENCES documents (id),
  source_id  UUID        NOT NULL,
  target_id  UUID        NOT NULL,
  created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
  PRIMARY KEY (low_id, high_id),
  CHECK (low_id < high_id)
);`,
	},
	{
		Name: "create_index_document_links_high_id",
		SQL:  `CREATE INDEX IF NOT EXISTS idx_document_links_high_id ON document_links (high_id);`,
	},
}

// EnsureMigrated creates the schema unless the sentinel table already exists.
// Every step is idempotent, so a run interrupted halfway is completed on the next start.
func EnsureMigrated(ctx context.Context, db *sql.DB, log *zap.Logger, dbHost string) error {
	if log == nil {
		log = zap.NewNop()
	}
	log = log.With(zap.String("component", "database"), zap.String("db_host", dbHost))
	start := time.Now()
	log.Info("db_migration_check", zap.String("status", "starting"))

	var exists bool
	query := "SELECT to_regclass($1) IS NOT NULL"
	if err := db.QueryRowContext(ctx, query, sentinelTable).Scan(&exists); err != nil {
		log.Error("db_migration_failed",
			zap.String("status", "error"),
			zap.Error(err),
			zap.Duration("duration", time.Since(start)),
		)
		return fmt.Errorf("failed to check sentinel table: %w", err)
	}

	if exists {
		log.Info("db_migration_skip",
			zap.String("status", "success"),
			zap.Duration("duration", time.Since(start)),
		)
		return nil
	}

	log.Info("db_migration_start", zap.String("status", "in_progress"), zap.Int("steps", len(steps)))
	for _, step := range steps {
		stepStart := time.Now()
		if _, err := db.ExecContext(ctx, step.SQL); err != nil {
			log.Error("db_migration_failed",
				zap.String("status", "error"),
				zap.String("migration_step", step.Name),
				zap.Error(err),
				zap.Duration("duration", time.Since(start)),
			)
			return fmt.Errorf("migration step %s failed: %w", step.Name, err)
		}
		log.Info("db_migration_step",
			zap.String("status", "success"),
			zap.String("migration_step", step.Name),
			zap.Duration("step_duration", time.Since(stepStart)),
		)
	}

	log.Info("db_migration_success",
		zap.String("status", "success"),
		zap.Duration("duration", time.Since(start)),
	)
	return nil
}
