package sqlitestore

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	_ "modernc.org/sqlite"

	"warcity.io/internal/state"
)

// DB is the durable store: settlement rows, their buildings and knights, and
// the credential table. Entity writes arrive through the state.Sink interface
// and are applied by a single writer goroutine, so the simulation never waits
// on disk. Credential reads/writes are synchronous; they happen on the HTTP
// path, not inside the simulation.
type DB struct {
	db *sql.DB

	ch   chan req
	wg   sync.WaitGroup
	once sync.Once

	closed atomic.Bool
}

type reqKind int

const (
	reqUpsertSettlement reqKind = iota + 1
	reqUpsertBuilding
	reqDeleteBuilding
	reqUpsertKnight
	reqDeleteKnight
	reqSync
)

type req struct {
	kind reqKind

	settlement state.Settlement
	building   state.Building
	knight     state.Knight
	id         int64
	done       chan struct{}
}

func Open(path string) (*DB, error) {
	if path == "" {
		return nil, fmt.Errorf("empty db path")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if err := initPragmas(db); err != nil {
		_ = db.Close()
		return nil, err
	}
	if err := initSchema(db); err != nil {
		_ = db.Close()
		return nil, err
	}

	s := &DB{
		db: db,
		// High buffer: a raid or a raze bursts many entity writes at once.
		ch: make(chan req, 65536),
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.loop()
	}()
	return s, nil
}

func initPragmas(db *sql.DB) error {
	// WAL is much faster for the steady upsert workload the ticks produce.
	// NORMAL is a decent durability/perf tradeoff given periodic snapshots.
	pragmas := []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA synchronous=NORMAL;",
		"PRAGMA foreign_keys=ON;",
		"PRAGMA busy_timeout=5000;",
		"PRAGMA temp_store=MEMORY;",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			return err
		}
	}
	return nil
}

func initSchema(db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS meta (
			key TEXT PRIMARY KEY,
			value TEXT NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS settlements (
			id INTEGER PRIMARY KEY,
			username TEXT NOT NULL UNIQUE,
			gold REAL NOT NULL,
			food REAL NOT NULL,
			water REAL NOT NULL,
			people_count INTEGER NOT NULL,
			x REAL NOT NULL,
			y REAL NOT NULL,
			city_x REAL NOT NULL,
			city_y REAL NOT NULL,
			is_placed INTEGER NOT NULL,
			protected_until INTEGER NOT NULL DEFAULT 0
		);`,
		`CREATE TABLE IF NOT EXISTS buildings (
			id INTEGER PRIMARY KEY,
			owner_id INTEGER NOT NULL,
			kind TEXT NOT NULL,
			x INTEGER NOT NULL,
			y INTEGER NOT NULL,
			world_x REAL NOT NULL,
			world_y REAL NOT NULL,
			health INTEGER NOT NULL,
			max_health INTEGER NOT NULL,
			state TEXT NOT NULL DEFAULT ''
		);`,
		`CREATE INDEX IF NOT EXISTS idx_buildings_owner ON buildings(owner_id);`,
		`CREATE TABLE IF NOT EXISTS knights (
			id INTEGER PRIMARY KEY,
			owner_id INTEGER NOT NULL,
			name TEXT NOT NULL,
			level INTEGER NOT NULL,
			health INTEGER NOT NULL,
			max_health INTEGER NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_knights_owner ON knights(owner_id);`,
		`CREATE TABLE IF NOT EXISTS accounts (
			username TEXT PRIMARY KEY,
			password_hash TEXT NOT NULL,
			settlement_id INTEGER NOT NULL,
			created_at TEXT NOT NULL
		);`,
	}
	for _, s := range stmts {
		if _, err := db.Exec(s); err != nil {
			return err
		}
	}
	if _, err := db.Exec(`INSERT OR REPLACE INTO meta(key,value) VALUES('schema_version','1')`); err != nil {
		return err
	}
	return nil
}

func (s *DB) Close() error {
	var err error
	s.once.Do(func() {
		s.closed.Store(true)
		close(s.ch)
		s.wg.Wait()
		err = s.db.Close()
	})
	return err
}

// --- state.Sink (async, never blocks the simulation) ---

func (s *DB) UpsertSettlement(row state.Settlement) {
	s.enqueue(req{kind: reqUpsertSettlement, settlement: row})
}

func (s *DB) UpsertBuilding(b state.Building) {
	s.enqueue(req{kind: reqUpsertBuilding, building: b})
}

func (s *DB) DeleteBuilding(id int64) {
	s.enqueue(req{kind: reqDeleteBuilding, id: id})
}

func (s *DB) UpsertKnight(k state.Knight) {
	s.enqueue(req{kind: reqUpsertKnight, knight: k})
}

func (s *DB) DeleteKnight(id int64) {
	s.enqueue(req{kind: reqDeleteKnight, id: id})
}

func (s *DB) enqueue(r req) {
	if s == nil || s.closed.Load() {
		return
	}
	select {
	case s.ch <- r:
	default:
		// Drop if the writer falls behind; periodic snapshots bound the loss.
	}
}

// --- auth.Accounts (synchronous, HTTP path only) ---

func (s *DB) CreateAccount(username, passwordHash string, settlementID int64) error {
	_, err := s.db.Exec(
		`INSERT INTO accounts(username,password_hash,settlement_id,created_at) VALUES(?,?,?,?)`,
		username, passwordHash, settlementID, time.Now().UTC().Format(time.RFC3339Nano),
	)
	return err
}

func (s *DB) GetAccount(username string) (passwordHash string, settlementID int64, err error) {
	row := s.db.QueryRow(`SELECT password_hash, settlement_id FROM accounts WHERE username = ?`, username)
	if err := row.Scan(&passwordHash, &settlementID); err != nil {
		return "", 0, err
	}
	return passwordHash, settlementID, nil
}

// Load seeds the in-memory store with every aggregate on disk. Call before
// attaching the sink so the seeding round-trip does not echo back into the
// write queue.
func (s *DB) Load(store *state.Store) (int, error) {
	buildings, err := s.loadBuildings()
	if err != nil {
		return 0, err
	}
	knights, err := s.loadKnights()
	if err != nil {
		return 0, err
	}

	rows, err := s.db.Query(`SELECT id, username, gold, food, water, people_count, x, y, city_x, city_y, is_placed, protected_until FROM settlements ORDER BY id`)
	if err != nil {
		return 0, err
	}
	defer rows.Close()

	n := 0
	for rows.Next() {
		var row state.Settlement
		var placed int
		var protectedUnix int64
		if err := rows.Scan(&row.ID, &row.Username, &row.Gold, &row.Food, &row.Water, &row.PeopleCount,
			&row.X, &row.Y, &row.CityX, &row.CityY, &placed, &protectedUnix); err != nil {
			return n, err
		}
		row.IsPlaced = placed != 0
		if protectedUnix > 0 {
			row.ProtectedUntil = time.Unix(protectedUnix, 0)
		}
		store.Restore(row, buildings[row.ID], knights[row.ID])
		n++
	}
	return n, rows.Err()
}

func (s *DB) loadBuildings() (map[int64][]state.Building, error) {
	rows, err := s.db.Query(`SELECT id, owner_id, kind, x, y, world_x, world_y, health, max_health, state FROM buildings ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := map[int64][]state.Building{}
	for rows.Next() {
		var b state.Building
		if err := rows.Scan(&b.ID, &b.OwnerID, &b.Kind, &b.X, &b.Y, &b.WorldX, &b.WorldY, &b.Health, &b.MaxHealth, &b.State); err != nil {
			return nil, err
		}
		out[b.OwnerID] = append(out[b.OwnerID], b)
	}
	return out, rows.Err()
}

func (s *DB) loadKnights() (map[int64][]state.Knight, error) {
	rows, err := s.db.Query(`SELECT id, owner_id, name, level, health, max_health FROM knights ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := map[int64][]state.Knight{}
	for rows.Next() {
		var k state.Knight
		if err := rows.Scan(&k.ID, &k.OwnerID, &k.Name, &k.Level, &k.Health, &k.MaxHealth); err != nil {
			return nil, err
		}
		out[k.OwnerID] = append(out[k.OwnerID], k)
	}
	return out, rows.Err()
}

func (s *DB) loop() {
	ctx := context.Background()

	upsertSettlement, _ := s.db.Prepare(`INSERT OR REPLACE INTO settlements(id,username,gold,food,water,people_count,x,y,city_x,city_y,is_placed,protected_until) VALUES(?,?,?,?,?,?,?,?,?,?,?,?)`)
	upsertBuilding, _ := s.db.Prepare(`INSERT OR REPLACE INTO buildings(id,owner_id,kind,x,y,world_x,world_y,health,max_health,state) VALUES(?,?,?,?,?,?,?,?,?,?)`)
	deleteBuilding, _ := s.db.Prepare(`DELETE FROM buildings WHERE id = ?`)
	upsertKnight, _ := s.db.Prepare(`INSERT OR REPLACE INTO knights(id,owner_id,name,level,health,max_health) VALUES(?,?,?,?,?,?)`)
	deleteKnight, _ := s.db.Prepare(`DELETE FROM knights WHERE id = ?`)
	defer func() {
		for _, st := range []*sql.Stmt{upsertSettlement, upsertBuilding, deleteBuilding, upsertKnight, deleteKnight} {
			if st != nil {
				_ = st.Close()
			}
		}
	}()

	var (
		tx            *sql.Tx
		opCount       int
		lastCommit    = time.Now()
		commitEvery   = 500
		commitMaxWait = 2 * time.Second
	)

	begin := func() {
		if tx != nil {
			return
		}
		txx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			time.Sleep(50 * time.Millisecond)
			return
		}
		tx = txx
		opCount = 0
		lastCommit = time.Now()
	}
	commit := func() {
		if tx == nil {
			return
		}
		_ = tx.Commit()
		tx = nil
		opCount = 0
		lastCommit = time.Now()
	}
	rollback := func() {
		if tx == nil {
			return
		}
		_ = tx.Rollback()
		tx = nil
		opCount = 0
		lastCommit = time.Now()
	}

	flushIfNeeded := func() {
		if tx == nil {
			return
		}
		if opCount >= commitEvery || time.Since(lastCommit) >= commitMaxWait {
			commit()
		}
	}

	for r := range s.ch {
		if r.kind == reqSync {
			commit()
			close(r.done)
			continue
		}
		begin()
		if tx == nil {
			continue
		}
		var err error
		switch r.kind {
		case reqUpsertSettlement:
			row := r.settlement
			placed := 0
			if row.IsPlaced {
				placed = 1
			}
			var protectedUnix int64
			if !row.ProtectedUntil.IsZero() {
				protectedUnix = row.ProtectedUntil.Unix()
			}
			if upsertSettlement != nil {
				_, err = tx.Stmt(upsertSettlement).Exec(
					row.ID, row.Username, row.Gold, row.Food, row.Water, row.PeopleCount,
					row.X, row.Y, row.CityX, row.CityY, placed, protectedUnix,
				)
			}

		case reqUpsertBuilding:
			b := r.building
			if upsertBuilding != nil {
				_, err = tx.Stmt(upsertBuilding).Exec(
					b.ID, b.OwnerID, b.Kind, b.X, b.Y, b.WorldX, b.WorldY, b.Health, b.MaxHealth, b.State,
				)
			}

		case reqDeleteBuilding:
			if deleteBuilding != nil {
				_, err = tx.Stmt(deleteBuilding).Exec(r.id)
			}

		case reqUpsertKnight:
			k := r.knight
			if upsertKnight != nil {
				_, err = tx.Stmt(upsertKnight).Exec(k.ID, k.OwnerID, k.Name, k.Level, k.Health, k.MaxHealth)
			}

		case reqDeleteKnight:
			if deleteKnight != nil {
				_, err = tx.Stmt(deleteKnight).Exec(r.id)
			}
		}
		if err != nil {
			rollback()
			continue
		}
		opCount++
		flushIfNeeded()
	}

	commit()
}

// Flush blocks until every write enqueued before the call has been committed.
// Test and shutdown helper.
func (s *DB) Flush() {
	if s == nil || s.closed.Load() {
		return
	}
	done := make(chan struct{})
	s.ch <- req{kind: reqSync, done: done}
	<-done
}
