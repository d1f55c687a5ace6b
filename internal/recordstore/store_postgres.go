package recordstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	// Registers the pgx stdlib driver used for Open.
	_ "github.com/jackc/pgx/v5/stdlib"

	"medigate/pkg/domain"
	"medigate/pkg/platform/sentinel"
)

// PostgresStore is the SQL-backed record store for embedders that already run
// postgres. Merge concatenation happens inside the upsert statement so it is
// atomic per key.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgres constructs a postgres-backed record store over an open handle.
func NewPostgres(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// Open dials postgres through the pgx stdlib driver.
func Open(dsn string) (*sql.DB, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	return db, nil
}

// Migrate creates the backing table. Embedders with their own migration
// tooling can run the equivalent DDL instead.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS health_records (
			subject_id           TEXT PRIMARY KEY,
			display_name         TEXT NOT NULL,
			provider_id          TEXT NOT NULL,
			checkup_entries      JSONB NOT NULL DEFAULT '[]',
			prescription_entries JSONB NOT NULL DEFAULT '[]',
			created_at           TIMESTAMPTZ NOT NULL,
			updated_at           TIMESTAMPTZ NOT NULL,
			source_tag           TEXT NOT NULL DEFAULT ''
		)
	`)
	if err != nil {
		return fmt.Errorf("migrate health_records: %w", err)
	}
	return nil
}

func (s *PostgresStore) Upsert(ctx context.Context, record HealthRecordAggregate, mode WriteMode) (WriteResult, error) {
	start := time.Now()
	defer func() {
		upsertDurationMs.WithLabelValues("postgres", string(mode)).
			Observe(float64(time.Since(start).Microseconds()) / 1000.0)
	}()

	checkups, err := json.Marshal(orEmptyCheckups(record.CheckupEntries))
	if err != nil {
		return WriteResult{}, fmt.Errorf("marshal checkup entries: %w", err)
	}
	prescriptions, err := json.Marshal(orEmptyPrescriptions(record.PrescriptionEntries))
	if err != nil {
		return WriteResult{}, fmt.Errorf("marshal prescription entries: %w", err)
	}

	entryExpr := "EXCLUDED.checkup_entries"
	prescriptionExpr := "EXCLUDED.prescription_entries"
	if mode == WriteModeMerge {
		entryExpr = "health_records.checkup_entries || EXCLUDED.checkup_entries"
		prescriptionExpr = "health_records.prescription_entries || EXCLUDED.prescription_entries"
	}

	query := fmt.Sprintf(`
		INSERT INTO health_records
			(subject_id, display_name, provider_id, checkup_entries, prescription_entries, created_at, updated_at, source_tag)
		VALUES ($1, $2, $3, $4, $5, NOW(), NOW(), $6)
		ON CONFLICT (subject_id) DO UPDATE SET
			display_name         = EXCLUDED.display_name,
			provider_id          = EXCLUDED.provider_id,
			checkup_entries      = %s,
			prescription_entries = %s,
			updated_at           = NOW(),
			source_tag           = EXCLUDED.source_tag
		RETURNING (created_at = updated_at)
	`, entryExpr, prescriptionExpr)

	var created bool
	err = s.db.QueryRowContext(ctx, query,
		record.SubjectID.String(),
		record.DisplayName,
		record.ProviderID.String(),
		checkups,
		prescriptions,
		record.SourceTag,
	).Scan(&created)
	if err != nil {
		return WriteResult{}, fmt.Errorf("upsert record: %w", err)
	}
	return WriteResult{Created: created}, nil
}

func (s *PostgresStore) Get(ctx context.Context, subjectID domain.SubjectID) (HealthRecordAggregate, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT subject_id, display_name, provider_id, checkup_entries, prescription_entries, created_at, updated_at, source_tag
		FROM health_records
		WHERE subject_id = $1
	`, subjectID.String())
	record, err := scanRecord(row)
	if err == sql.ErrNoRows {
		return HealthRecordAggregate{}, sentinel.ErrNotFound
	}
	if err != nil {
		return HealthRecordAggregate{}, fmt.Errorf("get record: %w", err)
	}
	return record, nil
}

func (s *PostgresStore) Delete(ctx context.Context, subjectID domain.SubjectID) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM health_records WHERE subject_id = $1`, subjectID.String())
	if err != nil {
		return fmt.Errorf("delete record: %w", err)
	}
	return nil
}

func (s *PostgresStore) ListAll(ctx context.Context) ([]HealthRecordAggregate, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT subject_id, display_name, provider_id, checkup_entries, prescription_entries, created_at, updated_at, source_tag
		FROM health_records
		ORDER BY subject_id
	`)
	if err != nil {
		return nil, fmt.Errorf("list records: %w", err)
	}
	defer rows.Close()

	var out []HealthRecordAggregate
	for rows.Next() {
		record, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("scan record: %w", err)
		}
		out = append(out, record)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list records: %w", err)
	}
	return out, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRecord(row rowScanner) (HealthRecordAggregate, error) {
	var (
		record        HealthRecordAggregate
		subjectID     string
		providerID    string
		checkups      []byte
		prescriptions []byte
	)
	err := row.Scan(&subjectID, &record.DisplayName, &providerID, &checkups, &prescriptions,
		&record.CreatedAt, &record.UpdatedAt, &record.SourceTag)
	if err != nil {
		return HealthRecordAggregate{}, err
	}
	record.SubjectID = domain.SubjectID(subjectID)
	record.ProviderID = domain.ProviderID(providerID)
	if err := json.Unmarshal(checkups, &record.CheckupEntries); err != nil {
		return HealthRecordAggregate{}, fmt.Errorf("decode checkup entries: %w", err)
	}
	if err := json.Unmarshal(prescriptions, &record.PrescriptionEntries); err != nil {
		return HealthRecordAggregate{}, fmt.Errorf("decode prescription entries: %w", err)
	}
	return record, nil
}

func orEmptyCheckups(entries []CheckupEntry) []CheckupEntry {
	if entries == nil {
		return []CheckupEntry{}
	}
	return entries
}

func orEmptyPrescriptions(entries []PrescriptionEntry) []PrescriptionEntry {
	if entries == nil {
		return []PrescriptionEntry{}
	}
	return entries
}
