// Package candledb 以每个品种一个 sqlite 文件的方式存放 1 分钟 K 线，
// 为回测提供区间读取，为导入器提供幂等写入。
package candledb

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"tradepipe/internal/market"

	_ "modernc.org/sqlite"
)

// Coverage 记录某个品种数据文件的统计信息。
type Coverage struct {
	Instrument string            `json:"instrument"`
	MarketType market.MarketType `json:"market_type"`
	MinTime    int64             `json:"min_time"`
	MaxTime    int64             `json:"max_time"`
	Rows       int64             `json:"rows"`
	LastSyncAt int64             `json:"last_sync_at"`
	Path       string            `json:"path"`
}

type Store struct {
	root string

	mu  sync.Mutex
	dbs map[string]*sql.DB
}

func NewStore(root string) (*Store, error) {
	if root == "" {
		return nil, fmt.Errorf("data root 不能为空")
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, err
	}
	return &Store{root: root, dbs: make(map[string]*sql.DB)}, nil
}

func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	var firstErr error
	for k, db := range s.dbs {
		if db == nil {
			continue
		}
		if err := db.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
		delete(s.dbs, k)
	}
	return firstErr
}

func (s *Store) db(instrument string, marketType market.MarketType) (*sql.DB, string, error) {
	instrument = market.NormalizeSymbol(instrument)
	if instrument == "" {
		return nil, "", fmt.Errorf("instrument 不能为空")
	}
	if marketType == "" {
		marketType = market.MarketSpot
	}
	key := instrument + "@" + string(marketType)
	s.mu.Lock()
	defer s.mu.Unlock()
	if db, ok := s.dbs[key]; ok && db != nil {
		return db, s.dbPath(instrument, marketType), nil
	}
	path := s.dbPath(instrument, marketType)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, "", err
	}
	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&cache=shared", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, "", err
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	if err := ensureSchema(db, instrument, marketType); err != nil {
		_ = db.Close()
		return nil, "", err
	}
	s.dbs[key] = db
	return db, path, nil
}

func (s *Store) dbPath(instrument string, marketType market.MarketType) string {
	dir := filepath.Join(s.root, instrument)
	return filepath.Join(dir, string(marketType)+"_1m.db")
}

// InsertCandles 批量写入 K 线（重复 open_time 将被覆盖）。
func (s *Store) InsertCandles(ctx context.Context, instrument string, marketType market.MarketType, candles []market.Candle) (int, error) {
	if len(candles) == 0 {
		return 0, nil
	}
	db, _, err := s.db(instrument, marketType)
	if err != nil {
		return 0, err
	}
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO candles (open_time, close_time, open, high, low, close, volume, trades)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(open_time) DO UPDATE SET
		    close_time=excluded.close_time,
		    open=excluded.open,
		    high=excluded.high,
		    low=excluded.low,
		    close=excluded.close,
		    volume=excluded.volume,
		    trades=excluded.trades`)
	if err != nil {
		_ = tx.Rollback()
		return 0, err
	}
	defer stmt.Close()
	count := 0
	for _, c := range candles {
		if _, err := stmt.ExecContext(ctx, c.OpenTime, c.CloseTime, c.Open, c.High, c.Low, c.Close, c.Volume, c.Trades); err != nil {
			_ = tx.Rollback()
			return 0, err
		}
		count++
	}
	if err := tx.Commit(); err != nil {
		return 0, err
	}
	if err := s.refreshCoverage(ctx, db); err != nil {
		return count, err
	}
	return count, nil
}

// Range 按 open_time 升序返回 [start, end] 区间内的全部 K 线。
func (s *Store) Range(ctx context.Context, instrument string, marketType market.MarketType, startTS, endTS int64) ([]market.Candle, error) {
	db, _, err := s.db(instrument, marketType)
	if err != nil {
		return nil, err
	}
	if endTS < startTS {
		startTS, endTS = endTS, startTS
	}
	rows, err := db.QueryContext(ctx, `
		SELECT open_time, close_time, open, high, low, close, volume, trades
		FROM candles WHERE open_time BETWEEN ? AND ?
		ORDER BY open_time ASC`, startTS, endTS)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var list []market.Candle
	for rows.Next() {
		var c market.Candle
		if err := rows.Scan(&c.OpenTime, &c.CloseTime, &c.Open, &c.High, &c.Low, &c.Close, &c.Volume, &c.Trades); err != nil {
			return nil, err
		}
		list = append(list, c)
	}
	return list, rows.Err()
}

// MissingOpenTimes 返回区间内缺失的 1 分钟 open_time，供增量导入。
func (s *Store) MissingOpenTimes(ctx context.Context, instrument string, marketType market.MarketType, startTS, endTS int64) ([]int64, error) {
	db, _, err := s.db(instrument, marketType)
	if err != nil {
		return nil, err
	}
	rows, err := db.QueryContext(ctx, `SELECT open_time FROM candles WHERE open_time BETWEEN ? AND ? ORDER BY open_time`, startTS, endTS)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	have := make(map[int64]bool)
	for rows.Next() {
		var ts int64
		if err := rows.Scan(&ts); err != nil {
			return nil, err
		}
		have[ts] = true
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	step := time.Minute.Milliseconds()
	aligned := startTS - startTS%step
	var missing []int64
	for ts := aligned; ts <= endTS; ts += step {
		if !have[ts] {
			missing = append(missing, ts)
		}
	}
	return missing, nil
}

// Coverage 返回数据文件的区间统计。
func (s *Store) Coverage(ctx context.Context, instrument string, marketType market.MarketType) (Coverage, error) {
	db, path, err := s.db(instrument, marketType)
	if err != nil {
		return Coverage{}, err
	}
	row := db.QueryRowContext(ctx, `SELECT instrument,market_type,min_time,max_time,rows,last_sync_at FROM coverage WHERE id=1`)
	var c Coverage
	var syncAt sql.NullInt64
	var minT, maxT sql.NullInt64
	if err := row.Scan(&c.Instrument, &c.MarketType, &minT, &maxT, &c.Rows, &syncAt); err != nil {
		return Coverage{}, err
	}
	c.MinTime = minT.Int64
	c.MaxTime = maxT.Int64
	c.LastSyncAt = syncAt.Int64
	c.Path = path
	return c, nil
}

func (s *Store) refreshCoverage(ctx context.Context, db *sql.DB) error {
	now := time.Now().UnixMilli()
	_, err := db.ExecContext(ctx, `
		UPDATE coverage
		SET min_time = (SELECT COALESCE(MIN(open_time), 0) FROM candles),
		    max_time = (SELECT COALESCE(MAX(open_time), 0) FROM candles),
		    rows = (SELECT COUNT(1) FROM candles),
		    last_sync_at = ?
		WHERE id = 1`, now)
	return err
}

func ensureSchema(db *sql.DB, instrument string, marketType market.MarketType) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS candles (
			open_time  INTEGER PRIMARY KEY,
			close_time INTEGER NOT NULL,
			open       REAL NOT NULL,
			high       REAL NOT NULL,
			low        REAL NOT NULL,
			close      REAL NOT NULL,
			volume     REAL NOT NULL,
			trades     INTEGER DEFAULT 0,
			inserted_at INTEGER NOT NULL DEFAULT (strftime('%s','now') * 1000)
		);`,
		`CREATE TABLE IF NOT EXISTS coverage (
			id INTEGER PRIMARY KEY CHECK (id=1),
			instrument TEXT NOT NULL,
			market_type TEXT NOT NULL,
			min_time INTEGER,
			max_time INTEGER,
			rows INTEGER DEFAULT 0,
			last_sync_at INTEGER
		);`,
		`INSERT INTO coverage (id, instrument, market_type) VALUES (1, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET instrument=excluded.instrument, market_type=excluded.market_type;`,
	}
	for i, stmt := range stmts {
		var err error
		if i == len(stmts)-1 {
			_, err = db.Exec(stmt, strings.ToUpper(instrument), string(marketType))
		} else {
			_, err = db.Exec(stmt)
		}
		if err != nil {
			return err
		}
	}
	return nil
}
