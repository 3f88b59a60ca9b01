package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	"github.com/rubenv/sql-migrate"

	"github.com/specforge/specforge/internal/domain"
	"github.com/specforge/specforge/internal/errs"
)

// ArtifactMigrations is the embedded sql-migrate migration set for the
// artifacts and idempotency_keys tables (spec.md §6).
var ArtifactMigrations = &migrate.MemoryMigrationSource{
	Migrations: []*migrate.Migration{
		{
			Id: "0001_artifacts_and_idempotency_keys",
			Up: []string{`
				CREATE TABLE IF NOT EXISTS artifacts (
					id            TEXT NOT NULL,
					version       INT NOT NULL,
					metadata      JSONB NOT NULL,
					files         JSONB NOT NULL,
					content_hash  CHAR(64) NOT NULL,
					created_at    TIMESTAMPTZ NOT NULL,
					updated_at    TIMESTAMPTZ NOT NULL,
					size          INT NOT NULL,
					tenant_id     TEXT NOT NULL,
					generator_id  TEXT NOT NULL,
					PRIMARY KEY (id, version)
				)`,
				`CREATE INDEX IF NOT EXISTS idx_artifacts_tenant_id ON artifacts (tenant_id)`,
				`CREATE INDEX IF NOT EXISTS idx_artifacts_generator_id ON artifacts (generator_id)`,
				`CREATE INDEX IF NOT EXISTS idx_artifacts_created_at ON artifacts (created_at)`,
				`CREATE TABLE IF NOT EXISTS idempotency_keys (
					id           TEXT PRIMARY KEY,
					key          CHAR(64) UNIQUE NOT NULL,
					generator_id TEXT NOT NULL,
					tenant_id    TEXT NOT NULL,
					status       TEXT NOT NULL,
					artifact_id  TEXT,
					error        TEXT,
					created_at   TIMESTAMPTZ NOT NULL,
					expires_at   TIMESTAMPTZ NOT NULL
				)`,
				`CREATE INDEX IF NOT EXISTS idx_idempotency_keys_key ON idempotency_keys (key)`,
				`CREATE INDEX IF NOT EXISTS idx_idempotency_keys_expires_at ON idempotency_keys (expires_at)`,
				`CREATE INDEX IF NOT EXISTS idx_idempotency_keys_status ON idempotency_keys (status)`,
			},
			Down: []string{
				`DROP TABLE IF EXISTS idempotency_keys`,
				`DROP TABLE IF EXISTS artifacts`,
			},
		},
	},
}

type artifactRow struct {
	ID          string    `db:"id"`
	Version     int       `db:"version"`
	Metadata    []byte    `db:"metadata"`
	Files       []byte    `db:"files"`
	ContentHash string    `db:"content_hash"`
	CreatedAt   time.Time `db:"created_at"`
	UpdatedAt   time.Time `db:"updated_at"`
	Size        int       `db:"size"`
	TenantID    string    `db:"tenant_id"`
	GeneratorID string    `db:"generator_id"`
}

func (r artifactRow) toDomain() (domain.Artifact, error) {
	var a domain.Artifact
	a.ID, a.Version, a.ContentHash = r.ID, r.Version, r.ContentHash
	a.CreatedAt, a.UpdatedAt, a.Size = r.CreatedAt, r.UpdatedAt, r.Size
	if err := json.Unmarshal(r.Metadata, &a.Metadata); err != nil {
		return domain.Artifact{}, errs.Wrap(errs.KindStoreBackendError, "decoding artifact metadata", err)
	}
	if err := json.Unmarshal(r.Files, &a.Files); err != nil {
		return domain.Artifact{}, errs.Wrap(errs.KindStoreBackendError, "decoding artifact files", err)
	}
	return a, nil
}

type idempotencyRow struct {
	ID          string         `db:"id"`
	Key         string         `db:"key"`
	GeneratorID string         `db:"generator_id"`
	TenantID    string         `db:"tenant_id"`
	Status      string         `db:"status"`
	ArtifactID  sql.NullString `db:"artifact_id"`
	Error       sql.NullString `db:"error"`
	CreatedAt   time.Time      `db:"created_at"`
	ExpiresAt   time.Time      `db:"expires_at"`
}

func (r idempotencyRow) toDomain() domain.IdempotencyKeyRecord {
	return domain.IdempotencyKeyRecord{
		ID:          r.ID,
		Key:         r.Key,
		GeneratorID: r.GeneratorID,
		TenantID:    r.TenantID,
		Status:      domain.IdempotencyStatus(r.Status),
		ArtifactID:  r.ArtifactID.String,
		Error:       r.Error.String,
		CreatedAt:   r.CreatedAt,
		ExpiresAt:   r.ExpiresAt,
	}
}

// PostgresArtifactStore is the ArtifactStore backend for production
// deployments: one DB transaction per StoreArtifact, file blob writes to
// the CAS happen before the commit of the idempotency transition to
// completed (spec.md §5).
type PostgresArtifactStore struct {
	db  *sqlx.DB
	cas ContentAddressableStore
	ttl time.Duration
}

// NewPostgresArtifactStore applies pending migrations to the already-open
// db and returns a store that writes file bytes to cas.
func NewPostgresArtifactStore(db *sqlx.DB, cas ContentAddressableStore) (*PostgresArtifactStore, error) {
	if _, err := migrate.Exec(db.DB, "postgres", ArtifactMigrations, migrate.Up); err != nil {
		return nil, errs.Wrap(errs.KindStoreBackendError, "applying artifact store migrations", err)
	}
	return &PostgresArtifactStore{db: db, cas: cas, ttl: DefaultIdempotencyTTL}, nil
}

func (s *PostgresArtifactStore) StoreArtifact(ctx context.Context, artifact domain.Artifact, idempotencyKey string) (*domain.Artifact, error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, errs.Wrap(errs.KindStoreBackendError, "beginning transaction", err)
	}
	defer tx.Rollback()

	// Step 1 + expire-on-access.
	var existing idempotencyRow
	err = tx.GetContext(ctx, &existing, `SELECT * FROM idempotency_keys WHERE key = $1 FOR UPDATE`, idempotencyKey)
	switch {
	case err == sql.ErrNoRows:
		// absent -> proceed
	case err != nil:
		return nil, errs.Wrap(errs.KindStoreBackendError, "looking up idempotency key", err)
	default:
		if time.Now().After(existing.ExpiresAt) {
			if _, err := tx.ExecContext(ctx, `DELETE FROM idempotency_keys WHERE key = $1`, idempotencyKey); err != nil {
				return nil, errs.Wrap(errs.KindStoreBackendError, "expiring idempotency key", err)
			}
		} else {
			rec := existing.toDomain()
			switch rec.Status {
			case domain.IdempotencyCompleted:
				if err := tx.Commit(); err != nil {
					return nil, errs.Wrap(errs.KindStoreBackendError, "committing read-only transaction", err)
				}
				return s.GetArtifact(ctx, rec.ArtifactID)
			case domain.IdempotencyPending:
				return nil, errs.InProgressError(idempotencyKey)
			case domain.IdempotencyFailed:
				return nil, errs.PreviousAttemptFailedError(idempotencyKey, errs.New(errs.KindStoreBackendError, rec.Error))
			}
		}
	}

	now := time.Now().UTC()
	_, err = tx.ExecContext(ctx, `
		INSERT INTO idempotency_keys (id, key, generator_id, tenant_id, status, created_at, expires_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, uuid.NewString(), idempotencyKey, artifact.Metadata.GeneratorID, artifact.Metadata.TenantID, domain.IdempotencyPending, now, now.Add(s.ttl))
	if err != nil {
		return nil, errs.Wrap(errs.KindStoreBackendError, "inserting pending idempotency key", err)
	}

	artifactID := artifact.ID
	if artifactID == "" {
		artifactID = uuid.NewString()
	}

	var maxVersion sql.NullInt64
	if err := tx.GetContext(ctx, &maxVersion, `SELECT MAX(version) FROM artifacts WHERE id = $1`, artifactID); err != nil {
		return nil, s.failTx(ctx, tx, idempotencyKey, errs.Wrap(errs.KindStoreBackendError, "computing next version", err))
	}
	version := int(maxVersion.Int64) + 1

	contentHash, size, err := computeContentHash(artifact.Files)
	if err != nil {
		return nil, s.failTx(ctx, tx, idempotencyKey, err)
	}

	stored := artifact
	stored.ID, stored.Version = artifactID, version
	stored.ContentHash, stored.Size = contentHash, size
	stored.CreatedAt, stored.UpdatedAt = now, now
	stored.Metadata.ArtifactID = artifactID

	for _, f := range stored.Files {
		if _, err := s.cas.Put(ctx, []byte(f.Content)); err != nil {
			return nil, s.failTx(ctx, tx, idempotencyKey, err)
		}
	}

	metadataJSON, err := json.Marshal(stored.Metadata)
	if err != nil {
		return nil, s.failTx(ctx, tx, idempotencyKey, errs.Wrap(errs.KindStoreBackendError, "encoding metadata", err))
	}
	filesJSON, err := json.Marshal(stored.Files)
	if err != nil {
		return nil, s.failTx(ctx, tx, idempotencyKey, errs.Wrap(errs.KindStoreBackendError, "encoding files", err))
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO artifacts (id, version, metadata, files, content_hash, created_at, updated_at, size, tenant_id, generator_id)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`, stored.ID, stored.Version, metadataJSON, filesJSON, stored.ContentHash, stored.CreatedAt, stored.UpdatedAt, stored.Size, stored.Metadata.TenantID, stored.Metadata.GeneratorID)
	if err != nil {
		return nil, s.failTx(ctx, tx, idempotencyKey, errs.Wrap(errs.KindStoreBackendError, "inserting artifact row", err))
	}

	_, err = tx.ExecContext(ctx, `UPDATE idempotency_keys SET status = $1, artifact_id = $2 WHERE key = $3`,
		domain.IdempotencyCompleted, artifactID, idempotencyKey)
	if err != nil {
		return nil, errs.Wrap(errs.KindStoreBackendError, "completing idempotency key", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, errs.Wrap(errs.KindStoreBackendError, "committing transaction", err)
	}
	return &stored, nil
}

// failTx marks key failed in the same transaction, commits that partial
// state (spec.md §4.8 step 7: "mark the key failed ... surface the
// error"), and returns the original error to the caller.
func (s *PostgresArtifactStore) failTx(ctx context.Context, tx *sqlx.Tx, key string, cause error) error {
	_, execErr := tx.ExecContext(ctx, `UPDATE idempotency_keys SET status = $1, error = $2 WHERE key = $3`,
		domain.IdempotencyFailed, cause.Error(), key)
	if execErr == nil {
		_ = tx.Commit()
	}
	return cause
}

func (s *PostgresArtifactStore) GetArtifact(ctx context.Context, id string) (*domain.Artifact, error) {
	var row artifactRow
	err := s.db.GetContext(ctx, &row, `
		SELECT * FROM artifacts WHERE id = $1 ORDER BY version DESC LIMIT 1
	`, id)
	if err == sql.ErrNoRows {
		return nil, errs.New(errs.KindNotFound, "artifact "+id+" not found")
	}
	if err != nil {
		return nil, errs.Wrap(errs.KindStoreBackendError, "querying artifact", err)
	}
	a, err := row.toDomain()
	if err != nil {
		return nil, err
	}
	return &a, nil
}

func (s *PostgresArtifactStore) GetArtifactVersion(ctx context.Context, id string, version int) (*domain.Artifact, error) {
	var row artifactRow
	err := s.db.GetContext(ctx, &row, `SELECT * FROM artifacts WHERE id = $1 AND version = $2`, id, version)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, errs.Wrap(errs.KindStoreBackendError, "querying artifact version", err)
	}
	a, err := row.toDomain()
	if err != nil {
		return nil, err
	}
	return &a, nil
}

func (s *PostgresArtifactStore) ListArtifactVersions(ctx context.Context, id string) ([]domain.Artifact, error) {
	var rows []artifactRow
	err := s.db.SelectContext(ctx, &rows, `SELECT * FROM artifacts WHERE id = $1 ORDER BY version ASC`, id)
	if err != nil {
		return nil, errs.Wrap(errs.KindStoreBackendError, "listing artifact versions", err)
	}
	out := make([]domain.Artifact, 0, len(rows))
	for _, r := range rows {
		a, err := r.toDomain()
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, nil
}

func (s *PostgresArtifactStore) CheckIdempotencyKey(ctx context.Context, key string) (*domain.IdempotencyKeyRecord, error) {
	var row idempotencyRow
	err := s.db.GetContext(ctx, &row, `SELECT * FROM idempotency_keys WHERE key = $1`, key)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, errs.Wrap(errs.KindStoreBackendError, "querying idempotency key", err)
	}
	if time.Now().After(row.ExpiresAt) {
		_, _ = s.db.ExecContext(ctx, `DELETE FROM idempotency_keys WHERE key = $1`, key)
		return nil, nil
	}
	rec := row.toDomain()
	return &rec, nil
}

func (s *PostgresArtifactStore) GetArtifactByIdempotencyKey(ctx context.Context, key string) (*domain.Artifact, error) {
	rec, err := s.CheckIdempotencyKey(ctx, key)
	if err != nil {
		return nil, err
	}
	if rec == nil || rec.Status != domain.IdempotencyCompleted {
		return nil, nil
	}
	return s.GetArtifact(ctx, rec.ArtifactID)
}

func (s *PostgresArtifactStore) DeleteArtifact(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM artifacts WHERE id = $1`, id)
	if err != nil {
		return errs.Wrap(errs.KindStoreBackendError, "deleting artifact", err)
	}
	return nil
}
