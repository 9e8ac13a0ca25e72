package postgres

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"strings"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/pgx/v5"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/nutsnode/mintcore/cashu"
	"github.com/nutsnode/mintcore/mint/storage"
	"github.com/rs/zerolog"
)

//go:embed migrations/*.sql
var migrations embed.FS

// Pool is the subset of *pgxpool.Pool used by the store.
type Pool interface {
	Begin(ctx context.Context) (pgx.Tx, error)
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Close()
}

type Config struct {
	DSN      string
	MaxConns int32
	MinConns int32
}

// NewPool creates a connection pool and verifies connectivity.
func NewPool(ctx context.Context, cfg Config, log zerolog.Logger) (*pgxpool.Pool, error) {
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parsing database config: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		poolCfg.MinConns = cfg.MinConns
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("creating connection pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}

	log.Info().
		Str("host", poolCfg.ConnConfig.Host).
		Str("dbname", poolCfg.ConnConfig.Database).
		Int32("max_conns", poolCfg.MaxConns).
		Msg("postgres connection pool established")

	return pool, nil
}

// Migrate brings the schema at dsn up to date.
func Migrate(dsn string) error {
	source, err := iofs.New(migrations, "migrations")
	if err != nil {
		return err
	}

	// the migrate pgx driver registers itself under the pgx5 scheme
	url := dsn
	for _, prefix := range []string{"postgres://", "postgresql://"} {
		if strings.HasPrefix(dsn, prefix) {
			url = "pgx5://" + strings.TrimPrefix(dsn, prefix)
			break
		}
	}

	m, err := migrate.NewWithSourceInstance("iofs", source, url)
	if err != nil {
		return fmt.Errorf("creating migration: %w", err)
	}
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("running migrations: %w", err)
	}
	if srcErr, dbErr := m.Close(); srcErr != nil || dbErr != nil {
		return errors.Join(srcErr, dbErr)
	}
	return nil
}

type PostgresDB struct {
	pool Pool
}

func New(pool Pool) *PostgresDB {
	return &PostgresDB{pool: pool}
}

// InitPostgres runs the migrations and opens a pool on dsn.
func InitPostgres(ctx context.Context, cfg Config, log zerolog.Logger) (*PostgresDB, error) {
	if err := Migrate(cfg.DSN); err != nil {
		return nil, err
	}
	pool, err := NewPool(ctx, cfg, log)
	if err != nil {
		return nil, err
	}
	return New(pool), nil
}

func (p *PostgresDB) Close() {
	p.pool.Close()
}

func (p *PostgresDB) BeginTx(ctx context.Context) (storage.Tx, error) {
	tx, err := p.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	return &pgTx{tx: tx}, nil
}

func (p *PostgresDB) SaveKeyset(ctx context.Context, keyset storage.DBKeyset) error {
	query := `INSERT INTO keysets (id, unit, active, input_fee_ppk) VALUES ($1, $2, $3, $4)
		ON CONFLICT (id) DO NOTHING`

	_, err := p.pool.Exec(ctx, query,
		keyset.Id.String(), keyset.Unit.String(), keyset.Active, int64(keyset.InputFeePpk))
	if err != nil {
		return fmt.Errorf("insert keyset: %w", err)
	}
	return nil
}

func (p *PostgresDB) GetKeysets(ctx context.Context) ([]storage.DBKeyset, error) {
	rows, err := p.pool.Query(ctx, "SELECT id, unit, active, input_fee_ppk FROM keysets")
	if err != nil {
		return nil, fmt.Errorf("get keysets: %w", err)
	}
	defer rows.Close()

	keysets := []storage.DBKeyset{}
	for rows.Next() {
		keyset, err := scanKeyset(rows)
		if err != nil {
			return nil, err
		}
		keysets = append(keysets, keyset)
	}
	return keysets, rows.Err()
}

func (p *PostgresDB) UpdateKeysetActive(ctx context.Context, id cashu.KeysetId, active bool) error {
	tag, err := p.pool.Exec(ctx, "UPDATE keysets SET active = $1 WHERE id = $2", active, id.String())
	if err != nil {
		return fmt.Errorf("update keyset: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return storage.ErrKeysetNotFound
	}
	return nil
}

type pgTx struct {
	tx pgx.Tx
}

func (t *pgTx) Commit(ctx context.Context) error {
	return wrapConflict(t.tx.Commit(ctx))
}

func (t *pgTx) Rollback(ctx context.Context) error {
	if err := t.tx.Rollback(ctx); err != nil && !errors.Is(err, pgx.ErrTxClosed) {
		return err
	}
	return nil
}

func (t *pgTx) GetKeysetInfo(ctx context.Context, id cashu.KeysetId) (storage.DBKeyset, error) {
	row := t.tx.QueryRow(ctx, "SELECT id, unit, active, input_fee_ppk FROM keysets WHERE id = $1", id.String())

	keyset, err := scanKeyset(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return storage.DBKeyset{}, storage.ErrKeysetNotFound
		}
		return storage.DBKeyset{}, fmt.Errorf("get keyset: %w", err)
	}
	return keyset, nil
}

func (t *pgTx) IsAnyBlindMessageAlreadySigned(ctx context.Context, B_s []cashu.PublicKey) (bool, error) {
	return t.anyExists(ctx, "SELECT EXISTS (SELECT 1 FROM blind_signatures WHERE b_ = ANY($1))", B_s)
}

func (t *pgTx) IsAnyProofAlreadySpent(ctx context.Context, Ys []cashu.PublicKey) (bool, error) {
	return t.anyExists(ctx, "SELECT EXISTS (SELECT 1 FROM proofs WHERE y = ANY($1))", Ys)
}

func (t *pgTx) anyExists(ctx context.Context, query string, keys []cashu.PublicKey) (bool, error) {
	if len(keys) == 0 {
		return false, nil
	}

	var exists bool
	if err := t.tx.QueryRow(ctx, query, hexKeys(keys)).Scan(&exists); err != nil {
		return false, err
	}
	return exists, nil
}

func (t *pgTx) InsertBlindSignatures(ctx context.Context, rows []storage.BlindSignatureRow) error {
	if len(rows) == 0 {
		return nil
	}

	args := make([]any, 0, len(rows)*4)
	for _, row := range rows {
		args = append(args,
			row.B_.String(),
			row.Signature.C_.String(),
			row.Signature.Id.String(),
			// stored as the int64 with the same bits
			int64(row.Signature.Amount),
		)
	}

	query := "INSERT INTO blind_signatures (b_, c_, keyset_id, amount) VALUES " + placeholders(len(rows), 4)
	if _, err := t.tx.Exec(ctx, query, args...); err != nil {
		return wrapConflict(err)
	}
	return nil
}

func (t *pgTx) InsertSpentProofs(ctx context.Context, rows []storage.SpentProofRow) error {
	if len(rows) == 0 {
		return nil
	}

	args := make([]any, 0, len(rows)*5)
	for _, row := range rows {
		args = append(args,
			row.Y.String(),
			int64(row.Proof.Amount),
			row.Proof.Id.String(),
			row.Proof.Secret,
			row.Proof.C.String(),
		)
	}

	query := "INSERT INTO proofs (y, amount, keyset_id, secret, c) VALUES " + placeholders(len(rows), 5)
	if _, err := t.tx.Exec(ctx, query, args...); err != nil {
		return wrapConflict(err)
	}
	return nil
}

func hexKeys(keys []cashu.PublicKey) []string {
	hexes := make([]string, len(keys))
	for i, key := range keys {
		hexes[i] = key.String()
	}
	return hexes
}

// placeholders renders ($1, $2), ($3, $4) style value lists.
func placeholders(rows, cols int) string {
	var sb strings.Builder
	n := 1
	for i := 0; i < rows; i++ {
		if i > 0 {
			sb.WriteString(", ")
		}
		sb.WriteByte('(')
		for j := 0; j < cols; j++ {
			if j > 0 {
				sb.WriteString(", ")
			}
			fmt.Fprintf(&sb, "$%d", n)
			n++
		}
		sb.WriteByte(')')
	}
	return sb.String()
}

func scanKeyset(row pgx.Row) (storage.DBKeyset, error) {
	var (
		id, unit    string
		active      bool
		inputFeePpk int64
	)
	if err := row.Scan(&id, &unit, &active, &inputFeePpk); err != nil {
		return storage.DBKeyset{}, err
	}

	keysetId, err := cashu.KeysetIdFromHex(id)
	if err != nil {
		return storage.DBKeyset{}, err
	}
	keysetUnit, err := cashu.UnitFromString(unit)
	if err != nil {
		return storage.DBKeyset{}, err
	}

	return storage.DBKeyset{
		Id:          keysetId,
		Unit:        keysetUnit,
		Active:      active,
		InputFeePpk: uint(inputFeePpk),
	}, nil
}

func wrapConflict(err error) error {
	if err == nil {
		return nil
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == pgerrcode.UniqueViolation {
		return fmt.Errorf("%w: %v", storage.ErrConflict, pgErr.Message)
	}
	return err
}
