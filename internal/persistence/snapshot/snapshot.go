package snapshot

import (
	"bufio"
	"encoding/gob"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/klauspost/compress/zstd"
)

// A snapshot is a full-world export: every settlement with its buildings and
// knights, plus the id counters. Written periodically and on shutdown as an
// operator-level backup next to the live database, and usable to seed a
// fresh server.
//
// On-disk layout: a zstd stream holding one JSON header line followed by the
// gob-encoded SnapshotV1.

const FormatVersion = 1

type Header struct {
	Version     int   `json:"version"`
	CreatedAt   int64 `json:"created_at"` // unix seconds
	Settlements int   `json:"settlements"`
}

type SnapshotV1 struct {
	Header Header `json:"header"`

	Settlements []SettlementV1 `json:"settlements"`
	Buildings   []BuildingV1   `json:"buildings"`
	Knights     []KnightV1     `json:"knights"`

	Counters CountersV1 `json:"counters"`
}

type CountersV1 struct {
	NextSettlement int64 `json:"next_settlement"`
	NextBuilding   int64 `json:"next_building"`
	NextKnight     int64 `json:"next_knight"`
}

type SettlementV1 struct {
	ID             int64   `json:"id"`
	Username       string  `json:"username"`
	Gold           float64 `json:"gold"`
	Food           float64 `json:"food"`
	Water          float64 `json:"water"`
	PeopleCount    int     `json:"people_count"`
	X              float64 `json:"x"`
	Y              float64 `json:"y"`
	CityX          float64 `json:"city_x"`
	CityY          float64 `json:"city_y"`
	IsPlaced       bool    `json:"is_placed"`
	ProtectedUntil int64   `json:"protected_until,omitempty"` // unix seconds, 0 = none
}

type BuildingV1 struct {
	ID        int64   `json:"id"`
	OwnerID   int64   `json:"owner_id"`
	Kind      string  `json:"kind"`
	X         int     `json:"x"`
	Y         int     `json:"y"`
	WorldX    float64 `json:"world_x"`
	WorldY    float64 `json:"world_y"`
	Health    int     `json:"health"`
	MaxHealth int     `json:"max_health"`
	State     string  `json:"state,omitempty"`
}

type KnightV1 struct {
	ID        int64  `json:"id"`
	OwnerID   int64  `json:"owner_id"`
	Name      string `json:"name"`
	Level     int    `json:"level"`
	Health    int    `json:"health"`
	MaxHealth int    `json:"max_health"`
}

func WriteSnapshot(path string, snap SnapshotV1) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()

	enc, err := zstd.NewWriter(f, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		return err
	}
	defer enc.Close()

	bw := bufio.NewWriterSize(enc, 256*1024)
	defer bw.Flush()

	hb, _ := json.Marshal(snap.Header)
	if _, err := bw.Write(hb); err != nil {
		return err
	}
	if err := bw.WriteByte('\n'); err != nil {
		return err
	}

	if err := gob.NewEncoder(bw).Encode(&snap); err != nil {
		return fmt.Errorf("gob encode: %w", err)
	}
	return nil
}

func ReadSnapshot(path string) (SnapshotV1, error) {
	var snap SnapshotV1
	f, err := os.Open(path)
	if err != nil {
		return snap, err
	}
	defer f.Close()

	dec, err := zstd.NewReader(f)
	if err != nil {
		return snap, err
	}
	defer dec.Close()

	br := bufio.NewReaderSize(dec, 256*1024)

	// Read header line (ignore it for now, gob also contains header).
	_, _ = br.ReadBytes('\n')

	if err := gob.NewDecoder(br).Decode(&snap); err != nil {
		return snap, fmt.Errorf("gob decode: %w", err)
	}
	return snap, nil
}

// PathFor returns the snapshot path in dir for the given creation time.
func PathFor(dir string, createdAt int64) string {
	return filepath.Join(dir, fmt.Sprintf("world_%d.snap.zst", createdAt))
}

// Latest returns the newest snapshot path in dir, or "" when none exist.
func Latest(dir string) string {
	names := list(dir)
	if len(names) == 0 {
		return ""
	}
	return filepath.Join(dir, names[len(names)-1])
}

// Prune removes all but the newest keep snapshots from dir.
func Prune(dir string, keep int) error {
	names := list(dir)
	for len(names) > keep {
		if err := os.Remove(filepath.Join(dir, names[0])); err != nil {
			return err
		}
		names = names[1:]
	}
	return nil
}

func list(dir string) []string {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil
	}
	var names []string
	for _, e := range entries {
		name := e.Name()
		if !e.IsDir() && strings.HasPrefix(name, "world_") && strings.HasSuffix(name, ".snap.zst") {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names
}
