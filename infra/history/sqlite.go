package history

import (
	"database/sql"
	"time"

	_ "modernc.org/sqlite"

	coremetrics "github.com/kilianp07/gridmarket/core/metrics"
)

// Config defines the settlement history store parameters.
type Config struct {
	// Enabled turns persistence on.
	Enabled bool `json:"enabled"`
	// Path is the SQLite database location.
	Path string `json:"path"`
}

// SetDefaults applies sane defaults.
func (c *Config) SetDefaults() {
	if c.Path == "" {
		c.Path = "settlements.db"
	}
}

// SQLiteStore persists per-broker settlement records in a SQLite database.
// It doubles as a metrics sink so the coordinator can feed it directly.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens or creates the database and ensures schema.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	schema := `CREATE TABLE IF NOT EXISTS settlement (
        period INTEGER,
        broker TEXT,
        imbalance REAL,
        p1 REAL,
        p2 REAL,
        ts INTEGER,
        PRIMARY KEY(period, broker)
    );`
	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &SQLiteStore{db: db}, nil
}

// RecordSettlement inserts or replaces the settlement rows of one period.
func (s *SQLiteStore) RecordSettlement(recs []coremetrics.SettlementRecord) error {
	for _, r := range recs {
		_, err := s.db.Exec(`INSERT INTO settlement (period, broker, imbalance, p1, p2, ts)
        VALUES (?, ?, ?, ?, ?, ?)
        ON CONFLICT(period, broker) DO UPDATE SET
            imbalance = excluded.imbalance,
            p1 = excluded.p1,
            p2 = excluded.p2,
            ts = excluded.ts`,
			r.Period, r.Broker, r.Imbalance, r.P1, r.P2, r.Time.Unix())
		if err != nil {
			return err
		}
	}
	return nil
}

// Query returns a broker's records in the period range [start,end].
func (s *SQLiteStore) Query(broker string, start, end int64) ([]coremetrics.SettlementRecord, error) {
	rows, err := s.db.Query(`SELECT period, broker, imbalance, p1, p2, ts
        FROM settlement WHERE broker = ? AND period >= ? AND period <= ? ORDER BY period`,
		broker, start, end)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()
	var res []coremetrics.SettlementRecord
	for rows.Next() {
		var r coremetrics.SettlementRecord
		var ts int64
		if err := rows.Scan(&r.Period, &r.Broker, &r.Imbalance, &r.P1, &r.P2, &ts); err != nil {
			return nil, err
		}
		r.Time = time.Unix(ts, 0).UTC()
		res = append(res, r)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return res, nil
}

// QueryAll returns every record in the period range [start,end].
func (s *SQLiteStore) QueryAll(start, end int64) ([]coremetrics.SettlementRecord, error) {
	rows, err := s.db.Query(`SELECT period, broker, imbalance, p1, p2, ts
        FROM settlement WHERE period >= ? AND period <= ? ORDER BY period, broker`,
		start, end)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()
	var res []coremetrics.SettlementRecord
	for rows.Next() {
		var r coremetrics.SettlementRecord
		var ts int64
		if err := rows.Scan(&r.Period, &r.Broker, &r.Imbalance, &r.P1, &r.P2, &ts); err != nil {
			return nil, err
		}
		r.Time = time.Unix(ts, 0).UTC()
		res = append(res, r)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return res, nil
}

// Close closes the underlying database.
func (s *SQLiteStore) Close() error { return s.db.Close() }
