package storage

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"log/slog"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"

	"relief/model"
)

//go:embed migrations/*.sql
var migrations embed.FS

const (
	insertDonationQuery = `INSERT INTO donations (id, amount, email, soulmark, created_at)
			  VALUES ($1, $2, $3, $4, $5)
			  ON CONFLICT (id) DO NOTHING`

	selectDonationsQuery = `SELECT id, amount, email, soulmark, created_at FROM donations ORDER BY seq`

	selectDonationByIDQuery = `SELECT id, amount, email, soulmark, created_at FROM donations WHERE id = $1`

	selectDonationByEmailAmountQuery = `SELECT id, amount, email, soulmark, created_at FROM donations
			  WHERE email = $1 AND amount = $2
			  ORDER BY seq LIMIT 1`
)

// PostgresRegistry stores the registry in a donations table. Insertion order
// is the seq column; id uniqueness is the primary key.
type PostgresRegistry struct {
	db     *sql.DB
	logger *slog.Logger
	now    func() time.Time
}

func OpenPostgresRegistry(ctx context.Context, dsn string, logger *slog.Logger) (*PostgresRegistry, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("%w: db open: %v", model.ErrStorageUnavailable, err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, fmt.Errorf("%w: db ping: %v", model.ErrStorageUnavailable, err)
	}

	return NewPostgresRegistry(db, logger), nil
}

func NewPostgresRegistry(db *sql.DB, logger *slog.Logger) *PostgresRegistry {
	return &PostgresRegistry{
		db:     db,
		logger: logger,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// Initialize applies pending migrations.
func (r *PostgresRegistry) Initialize(ctx context.Context) error {
	goose.SetBaseFS(migrations)
	if err := goose.SetDialect("postgres"); err != nil {
		return fmt.Errorf("%w: goose dialect: %v", model.ErrStorageUnavailable, err)
	}
	if err := goose.UpContext(ctx, r.db, "migrations"); err != nil {
		return fmt.Errorf("%w: migrations: %v", model.ErrStorageUnavailable, err)
	}
	r.logger.Info("registry migrations applied")
	return nil
}

func (r *PostgresRegistry) Load(ctx context.Context) ([]model.DonationRecord, error) {
	rows, err := r.db.QueryContext(ctx, selectDonationsQuery)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", model.ErrStorageUnavailable, err)
	}
	defer rows.Close()

	donations := []model.DonationRecord{}
	for rows.Next() {
		d, err := scanDonation(rows)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", model.ErrStorageCorrupt, err)
		}
		donations = append(donations, d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", model.ErrStorageUnavailable, err)
	}
	return donations, nil
}

func (r *PostgresRegistry) Append(ctx context.Context, record model.DonationRecord) ([]model.DonationRecord, error) {
	record.Timestamp = r.now()

	res, err := r.db.ExecContext(ctx, insertDonationQuery,
		record.ID, record.AmountMinorUnits, record.Email, record.Soulmark, record.Timestamp,
	)
	if err != nil {
		return nil, fmt.Errorf("%w: insert: %v", model.ErrStorageUnavailable, err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("%w: rows affected: %v", model.ErrStorageUnavailable, err)
	}
	if affected == 0 {
		return nil, fmt.Errorf("%w: %s", model.ErrDuplicateDonation, record.ID)
	}

	r.logger.Info("donation appended", "id", record.ID, "amount", record.AmountMinorUnits)
	return r.Load(ctx)
}

func (r *PostgresRegistry) FindByID(ctx context.Context, id string) (model.DonationRecord, error) {
	return r.findOne(ctx, selectDonationByIDQuery, id)
}

func (r *PostgresRegistry) FindByEmailAndAmount(ctx context.Context, email string, amountMinorUnits int64) (model.DonationRecord, error) {
	return r.findOne(ctx, selectDonationByEmailAmountQuery, email, amountMinorUnits)
}

func (r *PostgresRegistry) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

func (r *PostgresRegistry) Close() error {
	return r.db.Close()
}

func (r *PostgresRegistry) findOne(ctx context.Context, query string, args ...any) (model.DonationRecord, error) {
	d, err := scanDonation(r.db.QueryRowContext(ctx, query, args...))
	if errors.Is(err, sql.ErrNoRows) {
		return model.DonationRecord{}, model.ErrNotFound
	}
	if err != nil {
		return model.DonationRecord{}, fmt.Errorf("%w: %v", model.ErrStorageUnavailable, err)
	}
	return d, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanDonation(row rowScanner) (model.DonationRecord, error) {
	var d model.DonationRecord
	err := row.Scan(&d.ID, &d.AmountMinorUnits, &d.Email, &d.Soulmark, &d.Timestamp)
	if err != nil {
		return model.DonationRecord{}, err
	}
	d.Timestamp = d.Timestamp.UTC()
	return d, nil
}
