package registry

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	"github.com/rubenv/sql-migrate"

	"github.com/specforge/specforge/internal/canon"
	"github.com/specforge/specforge/internal/domain"
	"github.com/specforge/specforge/internal/errs"
	"github.com/specforge/specforge/internal/semverx"
)

// generatorVersionRow is the sqlx struct-tag mapping for one row of
// generator_versions, mirroring the spec §6 schema.
type generatorVersionRow struct {
	GeneratorID  string       `db:"generator_id"`
	Version      string       `db:"version"`
	Manifest     []byte       `db:"manifest"`
	ManifestHash string       `db:"manifest_hash"`
	RegisteredAt time.Time    `db:"registered_at"`
	DeprecatedAt sql.NullTime `db:"deprecated_at"`
}

func (r generatorVersionRow) toDomain() (domain.GeneratorVersion, error) {
	var m domain.GeneratorManifest
	if err := json.Unmarshal(r.Manifest, &m); err != nil {
		return domain.GeneratorVersion{}, errs.Wrap(errs.KindStoreBackendError, "decoding stored manifest", err)
	}
	v := domain.GeneratorVersion{
		GeneratorID:  r.GeneratorID,
		Version:      r.Version,
		Manifest:     m,
		ManifestHash: r.ManifestHash,
		RegisteredAt: r.RegisteredAt,
	}
	if r.DeprecatedAt.Valid {
		t := r.DeprecatedAt.Time
		v.DeprecatedAt = &t
	}
	return v, nil
}

// PostgresVersionStore is the VersionStore backend for production
// deployments, grounded on the sqlx struct-tag mapping style used
// throughout the pack's persistence layers.
type PostgresVersionStore struct {
	db *sqlx.DB
}

// Migrations is the embedded sql-migrate migration set for the
// generator_versions table (spec §6).
var Migrations = &migrate.MemoryMigrationSource{
	Migrations: []*migrate.Migration{
		{
			Id: "0001_generator_versions",
			Up: []string{`
				CREATE TABLE IF NOT EXISTS generator_versions (
					generator_id  TEXT NOT NULL,
					version       TEXT NOT NULL,
					manifest      JSONB NOT NULL,
					manifest_hash TEXT NOT NULL,
					registered_at TIMESTAMPTZ NOT NULL,
					deprecated_at TIMESTAMPTZ,
					PRIMARY KEY (generator_id, version)
				)`,
				`CREATE INDEX IF NOT EXISTS idx_generator_versions_manifest_hash ON generator_versions (manifest_hash)`,
				`CREATE INDEX IF NOT EXISTS idx_generator_versions_deprecated_at ON generator_versions (deprecated_at)`,
				`CREATE INDEX IF NOT EXISTS idx_generator_versions_id_registered ON generator_versions (generator_id, registered_at DESC)`,
			},
			Down: []string{`DROP TABLE IF EXISTS generator_versions`},
		},
	},
}

// NewPostgresVersionStore applies pending migrations to the already-open
// db before returning the store.
func NewPostgresVersionStore(db *sqlx.DB) (*PostgresVersionStore, error) {
	if _, err := migrate.Exec(db.DB, "postgres", Migrations, migrate.Up); err != nil {
		return nil, errs.Wrap(errs.KindStoreBackendError, "applying generator_versions migrations", err)
	}
	return &PostgresVersionStore{db: db}, nil
}

func (s *PostgresVersionStore) RegisterVersion(ctx context.Context, m domain.GeneratorManifest) (*domain.GeneratorVersion, error) {
	hash, err := canon.Hash(m)
	if err != nil {
		return nil, errs.Wrap(errs.KindStoreBackendError, "hashing manifest", err)
	}
	manifestJSON, err := json.Marshal(m)
	if err != nil {
		return nil, errs.Wrap(errs.KindStoreBackendError, "encoding manifest", err)
	}

	now := time.Now().UTC()
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO generator_versions (generator_id, version, manifest, manifest_hash, registered_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (generator_id, version) DO UPDATE
		SET manifest = EXCLUDED.manifest, manifest_hash = EXCLUDED.manifest_hash
	`, m.ID, m.Version, manifestJSON, hash, now)
	if err != nil {
		return nil, errs.Wrap(errs.KindStoreBackendError, "inserting generator_versions row", err)
	}

	return s.GetVersion(ctx, m.ID, m.Version)
}

func (s *PostgresVersionStore) GetVersion(ctx context.Context, id, version string) (*domain.GeneratorVersion, error) {
	var row generatorVersionRow
	err := s.db.GetContext(ctx, &row, `
		SELECT generator_id, version, manifest, manifest_hash, registered_at, deprecated_at
		FROM generator_versions WHERE generator_id = $1 AND version = $2
	`, id, version)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, errs.Wrap(errs.KindStoreBackendError, "querying generator_versions", err)
	}
	v, err := row.toDomain()
	if err != nil {
		return nil, err
	}
	return &v, nil
}

func (s *PostgresVersionStore) ListVersions(ctx context.Context, id string) ([]domain.GeneratorVersion, error) {
	var rows []generatorVersionRow
	err := s.db.SelectContext(ctx, &rows, `
		SELECT generator_id, version, manifest, manifest_hash, registered_at, deprecated_at
		FROM generator_versions WHERE generator_id = $1
	`, id)
	if err != nil {
		return nil, errs.Wrap(errs.KindStoreBackendError, "listing generator_versions", err)
	}

	out := make([]domain.GeneratorVersion, 0, len(rows))
	for _, r := range rows {
		v, err := r.toDomain()
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, nil
}

func (s *PostgresVersionStore) GetLatestVersion(ctx context.Context, id string) (*domain.GeneratorVersion, error) {
	all, err := s.ListVersions(ctx, id)
	if err != nil {
		return nil, err
	}
	var best *domain.GeneratorVersion
	for i := range all {
		if all[i].DeprecatedAt != nil {
			continue
		}
		if best == nil {
			best = &all[i]
			continue
		}
		if cmp, err := semverx.Compare(all[i].Version, best.Version); err == nil && cmp > 0 {
			best = &all[i]
		}
	}
	return best, nil
}

func (s *PostgresVersionStore) GetCompatibleVersions(ctx context.Context, id, runtime, targetVersion string) ([]domain.GeneratorVersion, error) {
	all, err := s.ListVersions(ctx, id)
	if err != nil {
		return nil, err
	}

	var out []domain.GeneratorVersion
	for _, v := range all {
		if v.DeprecatedAt != nil {
			continue
		}
		constraint, ok := v.Manifest.Compatibility[runtime]
		if !ok {
			continue
		}
		target := targetVersion
		if target == "" {
			target = v.Version
		}
		ok2, err := semverx.Satisfies(target, constraint)
		if err != nil || !ok2 {
			continue
		}
		out = append(out, v)
	}
	return out, nil
}

func (s *PostgresVersionStore) DeprecateVersion(ctx context.Context, id, version string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE generator_versions SET deprecated_at = $1
		WHERE generator_id = $2 AND version = $3
	`, time.Now().UTC(), id, version)
	if err != nil {
		return errs.Wrap(errs.KindStoreBackendError, "deprecating generator version", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return errs.Wrap(errs.KindStoreBackendError, "reading rows affected", err)
	}
	if n == 0 {
		return errs.New(errs.KindNotFound, fmt.Sprintf("generator %s@%s not found", id, version))
	}
	return nil
}

func (s *PostgresVersionStore) CheckUpgrade(ctx context.Context, id, current, runtime string) (*domain.UpgradeInfo, error) {
	latest, err := s.GetLatestVersion(ctx, id)
	if err != nil {
		return nil, err
	}
	if latest == nil {
		return &domain.UpgradeInfo{CurrentVersion: current}, nil
	}

	cmp, err := semverx.Compare(current, latest.Version)
	if err != nil {
		return nil, errs.Wrap(errs.KindStoreBackendError, "comparing versions", err)
	}
	isAvailable := cmp < 0

	isCompatible := true
	if runtime != "" {
		if constraint, ok := latest.Manifest.Compatibility[runtime]; ok {
			isCompatible, err = semverx.Satisfies(latest.Version, constraint)
			if err != nil {
				isCompatible = false
			}
		}
	}

	return &domain.UpgradeInfo{
		CurrentVersion: current,
		LatestVersion:  latest.Version,
		IsAvailable:    isAvailable,
		IsCompatible:   isCompatible,
	}, nil
}
