package rules

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestDefaults_Validate(t *testing.T) {
	r := Defaults()
	if err := r.validate(); err != nil {
		t.Fatalf("defaults invalid: %v", err)
	}
	for _, k := range AllKinds {
		if !IsKind(k) {
			t.Fatalf("IsKind(%q) = false", k)
		}
	}
	if IsKind("castle") {
		t.Fatalf("IsKind accepted unknown kind")
	}
}

func TestLoad_ConfigFileMatchesDefaults(t *testing.T) {
	r, err := Load(filepath.Join("..", "..", "configs", "rules.yaml"))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	d := Defaults()
	if r.CellSize != d.CellSize || r.SpawnExtent != d.SpawnExtent || r.RefundFactor != d.RefundFactor || r.RaidRadius != d.RaidRadius {
		t.Fatalf("world params drifted from defaults: %+v", r)
	}
	if r.Start != d.Start {
		t.Fatalf("start stocks drifted: %+v vs %+v", r.Start, d.Start)
	}
	for _, k := range AllKinds {
		if r.Buildings[k] != d.Buildings[k] {
			t.Fatalf("building %q drifted: %+v vs %+v", k, r.Buildings[k], d.Buildings[k])
		}
	}
	if r.Knight != d.Knight || r.Production != d.Production || r.Combat != d.Combat || r.Day != d.Day {
		t.Fatalf("rule tables drifted from defaults")
	}
}

func TestLoad_RejectsMissingBuildingKind(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "rules.yaml")
	bad := `
cell_size: 50
spawn_extent: 2000
refund_factor: 0.8
raid_radius: 150
day:
  length_sec: 300
buildings:
  house:
    cost_gold: 100
    health: 100
`
	if err := os.WriteFile(path, []byte(bad), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	if _, err := Load(path); err == nil {
		t.Fatalf("expected error for table missing building kinds")
	}
}

func TestLoad_RejectsBadRefundFactor(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "rules.yaml")
	src, err := os.ReadFile(filepath.Join("..", "..", "configs", "rules.yaml"))
	if err != nil {
		t.Fatalf("read config: %v", err)
	}
	bad := strings.Replace(string(src), "refund_factor: 0.8", "refund_factor: 1.5", 1)
	if err := os.WriteFile(path, []byte(bad), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	if _, err := Load(path); err == nil {
		t.Fatalf("expected error for refund_factor out of range")
	}
}
