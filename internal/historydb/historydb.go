// Package historydb provides a queryable, disk-backed mirror of the
// in-memory User Transactions Cache. It is a secondary index only: the
// Cache remains authoritative, and historydb exists so a wallet's
// transaction history survives a restart and can be queried (by payment
// id, by height range) without replaying the whole chain.
package historydb

import (
	"database/sql"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	_ "github.com/mattn/go-sqlite3"

	"github.com/cryptonote-go/walletengine/internal/cache"
	"github.com/cryptonote-go/walletengine/internal/cryptonote"
)

// DB is the sqlite-backed secondary index for wallet transaction history.
type DB struct {
	db   *sql.DB
	path string
	mu   sync.Mutex
}

// Open creates (if needed) and opens the history database at path.
func Open(path string) (*DB, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0700); err != nil {
			return nil, fmt.Errorf("historydb: create directory: %w", err)
		}
	}

	sqldb, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_synchronous=NORMAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("historydb: open: %w", err)
	}
	if err := sqldb.Ping(); err != nil {
		sqldb.Close()
		return nil, fmt.Errorf("historydb: ping: %w", err)
	}
	sqldb.SetMaxOpenConns(1)
	sqldb.SetMaxIdleConns(1)

	d := &DB{db: sqldb, path: path}
	if err := d.initSchema(); err != nil {
		sqldb.Close()
		return nil, fmt.Errorf("historydb: init schema: %w", err)
	}
	return d, nil
}

// Close closes the underlying database connection.
func (d *DB) Close() error {
	return d.db.Close()
}

func (d *DB) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS transactions (
		tx_id        INTEGER PRIMARY KEY,
		tx_hash      TEXT NOT NULL UNIQUE,
		total_amount INTEGER NOT NULL,
		fee          INTEGER NOT NULL DEFAULT 0,
		block_height INTEGER NOT NULL,
		timestamp    INTEGER NOT NULL DEFAULT 0,
		unlock_time  INTEGER NOT NULL DEFAULT 0,
		is_base      INTEGER NOT NULL DEFAULT 0,
		state        INTEGER NOT NULL DEFAULT 0,
		payment_id   TEXT
	);

	CREATE INDEX IF NOT EXISTS idx_transactions_block_height ON transactions(block_height);
	CREATE INDEX IF NOT EXISTS idx_transactions_payment_id ON transactions(payment_id);
	CREATE INDEX IF NOT EXISTS idx_transactions_state ON transactions(state);

	CREATE TABLE IF NOT EXISTS transfers (
		transfer_id INTEGER PRIMARY KEY,
		tx_id       INTEGER NOT NULL,
		address     TEXT NOT NULL,
		amount      INTEGER NOT NULL,
		FOREIGN KEY(tx_id) REFERENCES transactions(tx_id)
	);

	CREATE INDEX IF NOT EXISTS idx_transfers_tx_id ON transfers(tx_id);
	`
	_, err := d.db.Exec(schema)
	return err
}

// UpsertTransaction mirrors one WalletTransaction (and its Transfers) from
// the Cache into the history index.
func (d *DB) UpsertTransaction(wtx cache.WalletTransaction, transfers []cache.Transfer, paymentID *cache.PaymentID) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	var pidHex sql.NullString
	if paymentID != nil {
		pidHex = sql.NullString{String: hex.EncodeToString(paymentID[:]), Valid: true}
	}

	_, err := d.db.Exec(`
		INSERT INTO transactions (tx_id, tx_hash, total_amount, fee, block_height, timestamp, unlock_time, is_base, state, payment_id)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(tx_id) DO UPDATE SET
			total_amount = excluded.total_amount,
			fee          = excluded.fee,
			block_height = excluded.block_height,
			timestamp    = excluded.timestamp,
			unlock_time  = excluded.unlock_time,
			state        = excluded.state,
			payment_id   = excluded.payment_id
	`,
		wtx.ID, hashHex(wtx.Hash), wtx.TotalAmount, wtx.Fee, int64(wtx.BlockHeight), wtx.Timestamp, wtx.UnlockTime, boolToInt(wtx.IsBase), int(wtx.State), pidHex,
	)
	if err != nil {
		return fmt.Errorf("historydb: upsert transaction: %w", err)
	}

	for _, tr := range transfers {
		_, err := d.db.Exec(`
			INSERT INTO transfers (transfer_id, tx_id, address, amount)
			VALUES (?, ?, ?, ?)
			ON CONFLICT(transfer_id) DO UPDATE SET address = excluded.address, amount = excluded.amount
		`, tr.ID, tr.TxID, tr.Address, tr.Amount)
		if err != nil {
			return fmt.Errorf("historydb: upsert transfer: %w", err)
		}
	}
	return nil
}

// SetState mirrors a Cache state transition (e.g. Active -> Deleted).
func (d *DB) SetState(hash cryptonote.Hash, state cache.TxState) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	_, err := d.db.Exec(`UPDATE transactions SET state = ? WHERE tx_hash = ?`, int(state), hashHex(hash))
	if err != nil {
		return fmt.Errorf("historydb: set state: %w", err)
	}
	return nil
}

// Record is a row of the history index, joined with its transfers.
type Record struct {
	WalletTransaction cache.WalletTransaction
	Transfers         []cache.Transfer
}

// ByPaymentID returns every indexed transaction carrying the given payment
// id, most recent block height first.
func (d *DB) ByPaymentID(id cache.PaymentID) ([]Record, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	pidHex := hex.EncodeToString(id[:])
	rows, err := d.db.Query(`
		SELECT tx_id, tx_hash, total_amount, fee, block_height, timestamp, unlock_time, is_base, state
		FROM transactions WHERE payment_id = ? ORDER BY block_height DESC
	`, pidHex)
	if err != nil {
		return nil, fmt.Errorf("historydb: query by payment id: %w", err)
	}
	defer rows.Close()

	var out []Record
	for rows.Next() {
		wtx, err := scanTransaction(rows)
		if err != nil {
			return nil, err
		}
		transfers, err := d.transfersLocked(wtx.ID)
		if err != nil {
			return nil, err
		}
		out = append(out, Record{WalletTransaction: wtx, Transfers: transfers})
	}
	return out, rows.Err()
}

// InRange returns every indexed transaction whose block height falls in
// [from, to], ordered ascending. cryptonote.UNCONFIRMED transactions are
// never included.
func (d *DB) InRange(from, to uint32) ([]cache.WalletTransaction, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	rows, err := d.db.Query(`
		SELECT tx_id, tx_hash, total_amount, fee, block_height, timestamp, unlock_time, is_base, state
		FROM transactions
		WHERE block_height BETWEEN ? AND ? AND block_height != ?
		ORDER BY block_height ASC
	`, int64(from), int64(to), int64(cryptonote.UNCONFIRMED))
	if err != nil {
		return nil, fmt.Errorf("historydb: query range: %w", err)
	}
	defer rows.Close()

	var out []cache.WalletTransaction
	for rows.Next() {
		wtx, err := scanTransaction(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, wtx)
	}
	return out, rows.Err()
}

func (d *DB) transfersLocked(txID uint64) ([]cache.Transfer, error) {
	rows, err := d.db.Query(`SELECT transfer_id, tx_id, address, amount FROM transfers WHERE tx_id = ?`, txID)
	if err != nil {
		return nil, fmt.Errorf("historydb: query transfers: %w", err)
	}
	defer rows.Close()

	var out []cache.Transfer
	for rows.Next() {
		var tr cache.Transfer
		if err := rows.Scan(&tr.ID, &tr.TxID, &tr.Address, &tr.Amount); err != nil {
			return nil, fmt.Errorf("historydb: scan transfer: %w", err)
		}
		out = append(out, tr)
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanTransaction(r rowScanner) (cache.WalletTransaction, error) {
	var wtx cache.WalletTransaction
	var hashHexStr string
	var blockHeight int64
	var isBase int
	var state int
	if err := r.Scan(&wtx.ID, &hashHexStr, &wtx.TotalAmount, &wtx.Fee, &blockHeight, &wtx.Timestamp, &wtx.UnlockTime, &isBase, &state); err != nil {
		return cache.WalletTransaction{}, fmt.Errorf("historydb: scan transaction: %w", err)
	}
	h, err := hashFromHex(hashHexStr)
	if err != nil {
		return cache.WalletTransaction{}, err
	}
	wtx.Hash = h
	wtx.BlockHeight = uint32(blockHeight)
	wtx.IsBase = isBase != 0
	wtx.State = cache.TxState(state)
	return wtx, nil
}

func hashHex(h cryptonote.Hash) string {
	return hex.EncodeToString(h[:])
}

func hashFromHex(s string) (cryptonote.Hash, error) {
	var h cryptonote.Hash
	raw, err := hex.DecodeString(s)
	if err != nil || len(raw) != len(h) {
		return cryptonote.Hash{}, fmt.Errorf("historydb: parse hash hex %q", s)
	}
	copy(h[:], raw)
	return h, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
