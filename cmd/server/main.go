package main

import (
	"context"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"warcity.io/internal/auth"
	"warcity.io/internal/persistence/snapshot"
	"warcity.io/internal/persistence/sqlitestore"
	"warcity.io/internal/rules"
	"warcity.io/internal/sim"
	"warcity.io/internal/state"
	"warcity.io/internal/transport/hub"
	"warcity.io/internal/transport/ws"
)

func main() {
	var (
		addr      = flag.String("addr", ":8080", "http listen address")
		rulesPath = flag.String("rules", "./configs/rules.yaml", "path to rules.yaml")
		dataDir   = flag.String("data", "./data", "runtime data directory")

		snapPath      = flag.String("snapshot", "", "path to snapshot to seed an empty database from (optional)")
		loadLatest    = flag.Bool("load_latest_snapshot", true, "seed an empty database from the latest snapshot in the data dir")
		snapEverySec  = flag.Int("snapshot_every_sec", 300, "periodic snapshot interval in seconds (0 to disable)")
		snapKeep      = flag.Int("snapshot_keep", 12, "number of snapshots to retain")
		jwtSecretFlag = flag.String("jwt_secret", "", "token signing secret (or set WC_JWT_SECRET)")
	)
	flag.Parse()

	logger := log.New(os.Stdout, "[server] ", log.LstdFlags|log.Lmicroseconds)

	secret := strings.TrimSpace(*jwtSecretFlag)
	if secret == "" {
		secret = strings.TrimSpace(os.Getenv("WC_JWT_SECRET"))
	}
	if secret == "" {
		secret = "dev-secret"
		logger.Printf("WARNING: using built-in dev token secret; set -jwt_secret or WC_JWT_SECRET in production")
	}

	r, err := rules.Load(*rulesPath)
	if err != nil {
		if os.IsNotExist(err) {
			logger.Printf("rules not found (%s); using defaults", *rulesPath)
			r = rules.Defaults()
		} else {
			logger.Fatalf("load rules: %v", err)
		}
	}

	db, err := sqlitestore.Open(filepath.Join(*dataDir, "warcity.db"))
	if err != nil {
		logger.Fatalf("open db: %v", err)
	}
	defer db.Close()

	store := state.NewStore()
	restored, err := db.Load(store)
	if err != nil {
		logger.Fatalf("load db: %v", err)
	}
	logger.Printf("restored %d settlements from db", restored)

	// An empty database may be seeded from a snapshot (fresh host, old backup).
	snapDir := filepath.Join(*dataDir, "snapshots")
	if restored == 0 {
		seedFrom := strings.TrimSpace(*snapPath)
		if seedFrom == "" && *loadLatest {
			seedFrom = snapshot.Latest(snapDir)
		}
		if seedFrom != "" {
			snap, err := snapshot.ReadSnapshot(seedFrom)
			if err != nil {
				logger.Fatalf("read snapshot: %v", err)
			}
			snapshot.Seed(store, snap)
			logger.Printf("seeded %d settlements from snapshot=%s", len(snap.Settlements), filepath.Base(seedFrom))
		}
	}

	// Attach the sink only after seeding so restores don't echo into the
	// write queue. A snapshot seed still needs one full write-back.
	store.SetSink(db)
	if restored == 0 {
		for _, id := range store.IDs() {
			if s, bs, ks, ok := store.View(id); ok {
				db.UpsertSettlement(s)
				for _, b := range bs {
					db.UpsertBuilding(b)
				}
				for _, k := range ks {
					db.UpsertKnight(k)
				}
			}
		}
	}

	ctx, cancel := signalContext()
	defer cancel()

	h := hub.New(logger)
	engine := sim.New(store, r, h, logger)
	engine.Start(ctx)

	authSvc := auth.NewService([]byte(secret), db, store, r, logger)

	if *snapEverySec > 0 {
		go func() {
			ticker := time.NewTicker(time.Duration(*snapEverySec) * time.Second)
			defer ticker.Stop()
			for {
				select {
				case <-ctx.Done():
					return
				case <-ticker.C:
					writeWorldSnapshot(store, snapDir, *snapKeep, logger)
				}
			}
		}()
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(rw http.ResponseWriter, r *http.Request) {
		rw.WriteHeader(200)
		_, _ = rw.Write([]byte("ok"))
	})
	mux.HandleFunc("/api/register", authSvc.HandleRegister)
	mux.HandleFunc("/api/login", authSvc.HandleLogin)
	mux.HandleFunc("/v1/ws", ws.NewServer(engine, authSvc, h, logger).Handler())

	srv := &http.Server{
		Addr:              *addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		ctx2, cancel2 := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel2()
		_ = srv.Shutdown(ctx2)
	}()

	logger.Printf("listening on %s", *addr)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Fatalf("ListenAndServe: %v", err)
	}

	// Shutdown: one final snapshot, then drain the write queue.
	writeWorldSnapshot(store, snapDir, *snapKeep, logger)
	db.Flush()
}

func writeWorldSnapshot(store *state.Store, snapDir string, keep int, logger *log.Logger) {
	snap := snapshot.Capture(store)
	path := snapshot.PathFor(snapDir, snap.Header.CreatedAt)
	if err := snapshot.WriteSnapshot(path, snap); err != nil {
		logger.Printf("snapshot write: %v", err)
		return
	}
	logger.Printf("snapshot written: %s (%d settlements)", filepath.Base(path), snap.Header.Settlements)
	if keep > 0 {
		if err := snapshot.Prune(snapDir, keep); err != nil {
			logger.Printf("snapshot prune: %v", err)
		}
	}
}

func signalContext() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())
	ch := make(chan os.Signal, 2)
	signal.Notify(ch, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-ch
		cancel()
	}()
	return ctx, cancel
}
