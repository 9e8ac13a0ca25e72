package sqlite

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/sqlite3"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/mattn/go-sqlite3"
	"github.com/nutsnode/mintcore/cashu"
	"github.com/nutsnode/mintcore/mint/storage"
)

//go:embed migrations/*.sql
var migrations embed.FS

type SQLiteDB struct {
	db *sql.DB
}

func InitSQLite(path string) (*SQLiteDB, error) {
	dbpath := filepath.Join(path, "mint.sqlite.db")
	// writers take the lock at BEGIN so concurrent transactions
	// queue on the busy timeout instead of failing at commit
	db, err := sql.Open("sqlite3", dbpath+"?_txlock=immediate&_busy_timeout=5000&_foreign_keys=on")
	if err != nil {
		return nil, err
	}

	source, err := iofs.New(migrations, "migrations")
	if err != nil {
		return nil, err
	}
	m, err := migrate.NewWithSourceInstance("iofs", source, fmt.Sprintf("sqlite3://%s", dbpath))
	if err != nil {
		return nil, err
	}
	if err := m.Up(); err != nil && err != migrate.ErrNoChange {
		return nil, err
	}
	if srcErr, dbErr := m.Close(); srcErr != nil || dbErr != nil {
		return nil, errors.Join(srcErr, dbErr)
	}

	if err := db.Ping(); err != nil {
		return nil, err
	}

	return &SQLiteDB{db: db}, nil
}

func (sqlite *SQLiteDB) Close() {
	sqlite.db.Close()
}

func (sqlite *SQLiteDB) BeginTx(ctx context.Context) (storage.Tx, error) {
	tx, err := sqlite.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	return &sqliteTx{tx: tx}, nil
}

func (sqlite *SQLiteDB) SaveKeyset(ctx context.Context, keyset storage.DBKeyset) error {
	_, err := sqlite.db.ExecContext(ctx, `
		INSERT INTO keysets (id, unit, active, input_fee_ppk) VALUES (?, ?, ?, ?)
		ON CONFLICT(id) DO NOTHING
	`, keyset.Id.String(), keyset.Unit.String(), keyset.Active, keyset.InputFeePpk)

	return err
}

func (sqlite *SQLiteDB) GetKeysets(ctx context.Context) ([]storage.DBKeyset, error) {
	keysets := []storage.DBKeyset{}

	rows, err := sqlite.db.QueryContext(ctx, "SELECT id, unit, active, input_fee_ppk FROM keysets")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		keyset, err := scanKeyset(rows)
		if err != nil {
			return nil, err
		}
		keysets = append(keysets, keyset)
	}

	return keysets, rows.Err()
}

func (sqlite *SQLiteDB) UpdateKeysetActive(ctx context.Context, id cashu.KeysetId, active bool) error {
	result, err := sqlite.db.ExecContext(ctx, "UPDATE keysets SET active = ? WHERE id = ?", active, id.String())
	if err != nil {
		return err
	}

	count, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if count != 1 {
		return storage.ErrKeysetNotFound
	}
	return nil
}

type sqliteTx struct {
	tx *sql.Tx
}

func (t *sqliteTx) Commit(context.Context) error {
	return wrapConflict(t.tx.Commit())
}

func (t *sqliteTx) Rollback(context.Context) error {
	if err := t.tx.Rollback(); err != nil && !errors.Is(err, sql.ErrTxDone) {
		return err
	}
	return nil
}

func (t *sqliteTx) GetKeysetInfo(ctx context.Context, id cashu.KeysetId) (storage.DBKeyset, error) {
	row := t.tx.QueryRowContext(ctx, "SELECT id, unit, active, input_fee_ppk FROM keysets WHERE id = ?", id.String())

	keyset, err := scanKeyset(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return storage.DBKeyset{}, storage.ErrKeysetNotFound
		}
		return storage.DBKeyset{}, err
	}
	return keyset, nil
}

func (t *sqliteTx) IsAnyBlindMessageAlreadySigned(ctx context.Context, B_s []cashu.PublicKey) (bool, error) {
	return t.anyExists(ctx, "blind_signatures", "b_", B_s)
}

func (t *sqliteTx) IsAnyProofAlreadySpent(ctx context.Context, Ys []cashu.PublicKey) (bool, error) {
	return t.anyExists(ctx, "proofs", "y", Ys)
}

func (t *sqliteTx) anyExists(ctx context.Context, table, column string, keys []cashu.PublicKey) (bool, error) {
	if len(keys) == 0 {
		return false, nil
	}

	query := `SELECT EXISTS (SELECT 1 FROM ` + table + ` WHERE ` + column +
		` IN (?` + strings.Repeat(",?", len(keys)-1) + `))`

	args := make([]any, len(keys))
	for i, key := range keys {
		args[i] = key.String()
	}

	var exists bool
	if err := t.tx.QueryRowContext(ctx, query, args...).Scan(&exists); err != nil {
		return false, err
	}
	return exists, nil
}

func (t *sqliteTx) InsertBlindSignatures(ctx context.Context, rows []storage.BlindSignatureRow) error {
	stmt, err := t.tx.PrepareContext(ctx, "INSERT INTO blind_signatures (b_, c_, keyset_id, amount) VALUES (?, ?, ?, ?)")
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, row := range rows {
		_, err := stmt.ExecContext(ctx,
			row.B_.String(),
			row.Signature.C_.String(),
			row.Signature.Id.String(),
			// stored as the int64 with the same bits
			int64(row.Signature.Amount),
		)
		if err != nil {
			return wrapConflict(err)
		}
	}
	return nil
}

func (t *sqliteTx) InsertSpentProofs(ctx context.Context, rows []storage.SpentProofRow) error {
	stmt, err := t.tx.PrepareContext(ctx, "INSERT INTO proofs (y, amount, keyset_id, secret, c) VALUES (?, ?, ?, ?, ?)")
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, row := range rows {
		_, err := stmt.ExecContext(ctx,
			row.Y.String(),
			int64(row.Proof.Amount),
			row.Proof.Id.String(),
			row.Proof.Secret,
			row.Proof.C.String(),
		)
		if err != nil {
			return wrapConflict(err)
		}
	}
	return nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanKeyset(row scanner) (storage.DBKeyset, error) {
	var id, unit string
	var keyset storage.DBKeyset

	if err := row.Scan(&id, &unit, &keyset.Active, &keyset.InputFeePpk); err != nil {
		return storage.DBKeyset{}, err
	}

	var err error
	if keyset.Id, err = cashu.KeysetIdFromHex(id); err != nil {
		return storage.DBKeyset{}, err
	}
	if keyset.Unit, err = cashu.UnitFromString(unit); err != nil {
		return storage.DBKeyset{}, err
	}
	return keyset, nil
}

func wrapConflict(err error) error {
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) &&
		(sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique ||
			sqliteErr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey) {
		return fmt.Errorf("%w: %v", storage.ErrConflict, err)
	}
	return err
}
