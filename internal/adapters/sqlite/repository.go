package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"cryptoAutoPilot/internal/domain"
	"cryptoAutoPilot/internal/ports"

	_ "github.com/mattn/go-sqlite3" // SQLite driver
)

// Repository implements ports.PositionRepository and
// ports.ErrorRecordRepository using SQLite. It is the audit store: the engine
// treats writes as best-effort and never blocks trading on them.
type Repository struct {
	db     *sql.DB
	logger ports.Logger
}

// Config holds configuration for the SQLite repository.
type Config struct {
	DBPath string
	Logger ports.Logger
}

// NewRepository opens the database, applies connection settings and
// initializes the schema.
func NewRepository(cfg Config) (*Repository, error) {
	if cfg.Logger == nil {
		return nil, fmt.Errorf("logger is required for SQLite repository")
	}
	dbPath := cfg.DBPath
	if dbPath == "" {
		dbPath = "./data/autopilot.db"
	}

	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		err = fmt.Errorf("failed to create data directory '%s': %w", filepath.Dir(dbPath), err)
		cfg.Logger.Error(context.Background(), err, "SQLite repository initialization failed")
		return nil, err
	}

	// WAL mode for concurrent reads during the fast cycle.
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		err = fmt.Errorf("failed to open database at '%s': %w", dbPath, err)
		cfg.Logger.Error(context.Background(), err, "SQLite repository initialization failed")
		return nil, err
	}
	if err := db.Ping(); err != nil {
		db.Close()
		err = fmt.Errorf("failed to ping database at '%s': %w", dbPath, err)
		cfg.Logger.Error(context.Background(), err, "SQLite repository initialization failed")
		return nil, err
	}

	// SQLite handles concurrency internally; the Go driver benefits from a
	// single connection.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(time.Hour)

	repo := &Repository{db: db, logger: cfg.Logger}
	if err := repo.initializeSchema(context.Background()); err != nil {
		db.Close()
		err = fmt.Errorf("failed to initialize database schema: %w", err)
		cfg.Logger.Error(context.Background(), err, "SQLite repository initialization failed")
		return nil, err
	}

	cfg.Logger.Info(context.Background(), "SQLite audit store ready", map[string]interface{}{"path": dbPath})
	return repo, nil
}

func (r *Repository) initializeSchema(ctx context.Context) error {
	const schema = `
	CREATE TABLE IF NOT EXISTS positions (
		id TEXT PRIMARY KEY,
		symbol TEXT NOT NULL,
		side TEXT NOT NULL,
		entry_price REAL NOT NULL,
		quantity REAL NOT NULL,
		leverage REAL NOT NULL,
		entry_time TIMESTAMP NOT NULL,
		status TEXT NOT NULL,
		exit_price REAL DEFAULT NULL,
		exit_time TIMESTAMP DEFAULT NULL,
		pnl REAL DEFAULT NULL,
		exit_reason TEXT DEFAULT NULL,
		confidence REAL NOT NULL DEFAULT 0,
		source_id TEXT NOT NULL DEFAULT ''
	);

	CREATE TABLE IF NOT EXISTS error_records (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		occurred_at TIMESTAMP NOT NULL,
		category TEXT NOT NULL,
		message TEXT NOT NULL,
		action_taken TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_positions_symbol_status ON positions (symbol, status);
	CREATE INDEX IF NOT EXISTS idx_error_records_occurred_at ON error_records (occurred_at);
	`
	if _, err := r.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("failed to execute schema initialization: %w", err)
	}
	return nil
}

// Close closes the database connection.
func (r *Repository) Close() error {
	if r.db != nil {
		return r.db.Close()
	}
	return nil
}

// --- PositionRepository ---

// Create saves a newly opened position.
func (r *Repository) Create(ctx context.Context, pos *domain.Position) error {
	const query = `
	INSERT INTO positions (id, symbol, side, entry_price, quantity, leverage, entry_time, status, confidence, source_id)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	_, err := r.db.ExecContext(ctx, query,
		pos.ID, pos.Symbol, pos.Side, pos.EntryPrice, pos.Quantity, pos.Leverage,
		pos.EntryTime, pos.Status, pos.Confidence, pos.SourceID)
	if err != nil {
		return fmt.Errorf("failed to insert position %s: %w", pos.ID, err)
	}
	r.logger.Debug(ctx, "Position created", map[string]interface{}{"positionID": pos.ID, "symbol": pos.Symbol})
	return nil
}

// Update persists the close fields for a position.
func (r *Repository) Update(ctx context.Context, pos *domain.Position) error {
	const query = `
	UPDATE positions
	SET status = ?, exit_price = ?, exit_time = ?, pnl = ?, exit_reason = ?
	WHERE id = ?`

	var exitTime sql.NullTime
	if !pos.ExitTime.IsZero() {
		exitTime = sql.NullTime{Time: pos.ExitTime, Valid: true}
	}

	result, err := r.db.ExecContext(ctx, query,
		pos.Status, pos.ExitPrice, exitTime, pos.PNL, string(pos.ExitReason), pos.ID)
	if err != nil {
		return fmt.Errorf("failed to update position %s: %w", pos.ID, err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected for position %s: %w", pos.ID, err)
	}
	if rowsAffected == 0 {
		return fmt.Errorf("position %s not found for update: %w", pos.ID, ports.ErrNotFound)
	}
	r.logger.Debug(ctx, "Position updated", map[string]interface{}{"positionID": pos.ID, "status": pos.Status})
	return nil
}

// FindOpen retrieves all positions still marked open, oldest first. Used on
// startup to detect positions orphaned by a crash.
func (r *Repository) FindOpen(ctx context.Context) ([]*domain.Position, error) {
	const query = `
	SELECT id, symbol, side, entry_price, quantity, leverage, entry_time, status,
	       COALESCE(exit_price, 0), exit_time, COALESCE(pnl, 0), COALESCE(exit_reason, ''), confidence, source_id
	FROM positions
	WHERE status = ?
	ORDER BY entry_time ASC`

	rows, err := r.db.QueryContext(ctx, query, domain.StatusOpen)
	if err != nil {
		return nil, fmt.Errorf("failed to query open positions: %w", err)
	}
	defer rows.Close()

	positions := make([]*domain.Position, 0)
	for rows.Next() {
		pos, err := scanPosition(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan open position: %w", err)
		}
		positions = append(positions, pos)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating open positions: %w", err)
	}
	return positions, nil
}

// FindByID retrieves a position by its ID. Returns nil, nil when not found.
func (r *Repository) FindByID(ctx context.Context, id string) (*domain.Position, error) {
	const query = `
	SELECT id, symbol, side, entry_price, quantity, leverage, entry_time, status,
	       COALESCE(exit_price, 0), exit_time, COALESCE(pnl, 0), COALESCE(exit_reason, ''), confidence, source_id
	FROM positions
	WHERE id = ?`

	pos, err := scanPosition(r.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to query position %s: %w", id, err)
	}
	return pos, nil
}

// scanner covers both *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...interface{}) error
}

func scanPosition(s scanner) (*domain.Position, error) {
	var pos domain.Position
	var side, status, exitReason string
	var exitTime sql.NullTime

	err := s.Scan(
		&pos.ID, &pos.Symbol, &side, &pos.EntryPrice, &pos.Quantity, &pos.Leverage,
		&pos.EntryTime, &status, &pos.ExitPrice, &exitTime, &pos.PNL, &exitReason,
		&pos.Confidence, &pos.SourceID)
	if err != nil {
		return nil, err
	}

	pos.Side = domain.Side(side)
	pos.Status = domain.PositionStatus(status)
	pos.ExitReason = domain.ExitReason(exitReason)
	if exitTime.Valid {
		pos.ExitTime = exitTime.Time
	}
	return &pos, nil
}

// --- ErrorRecordRepository ---

// CreateErrorRecord persists one recovery-manager error record.
func (r *Repository) CreateErrorRecord(ctx context.Context, rec *domain.ErrorRecord) error {
	const query = `
	INSERT INTO error_records (occurred_at, category, message, action_taken)
	VALUES (?, ?, ?, ?)`

	_, err := r.db.ExecContext(ctx, query,
		rec.Timestamp, string(rec.Category), rec.Message, string(rec.ActionTaken))
	if err != nil {
		return fmt.Errorf("failed to insert error record: %w", err)
	}
	return nil
}

// RecentErrorRecords returns the newest error records up to limit.
func (r *Repository) RecentErrorRecords(ctx context.Context, limit int) ([]*domain.ErrorRecord, error) {
	const query = `
	SELECT occurred_at, category, message, action_taken
	FROM error_records
	ORDER BY occurred_at DESC
	LIMIT ?`

	rows, err := r.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query error records: %w", err)
	}
	defer rows.Close()

	records := make([]*domain.ErrorRecord, 0, limit)
	for rows.Next() {
		var rec domain.ErrorRecord
		var category, action string
		if err := rows.Scan(&rec.Timestamp, &category, &rec.Message, &action); err != nil {
			return nil, fmt.Errorf("failed to scan error record: %w", err)
		}
		rec.Category = domain.ErrorCategory(category)
		rec.ActionTaken = domain.RecoveryAction(action)
		records = append(records, &rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating error records: %w", err)
	}
	return records, nil
}
