package auth

import (
	"errors"
	"testing"

	"warcity.io/internal/rules"
	"warcity.io/internal/state"
)

type memAccounts struct {
	rows map[string]struct {
		hash string
		id   int64
	}
}

func newMemAccounts() *memAccounts {
	return &memAccounts{rows: map[string]struct {
		hash string
		id   int64
	}{}}
}

func (m *memAccounts) CreateAccount(username, passwordHash string, settlementID int64) error {
	m.rows[username] = struct {
		hash string
		id   int64
	}{passwordHash, settlementID}
	return nil
}

func (m *memAccounts) GetAccount(username string) (string, int64, error) {
	row, ok := m.rows[username]
	if !ok {
		return "", 0, errors.New("no such account")
	}
	return row.hash, row.id, nil
}

func newTestService() (*Service, *state.Store) {
	store := state.NewStore()
	return NewService([]byte("test-secret"), newMemAccounts(), store, rules.Defaults(), nil), store
}

func TestRegister_CreatesSettlementWithStartingStocks(t *testing.T) {
	svc, store := newTestService()

	token, s, err := svc.Register("alice", "hunter2")
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	if token == "" {
		t.Fatalf("register returned empty token")
	}
	if s.Gold != 1000 || s.Food != 500 || s.Water != 500 || s.PeopleCount != 5 {
		t.Fatalf("starting stocks = %+v", s)
	}
	if s.IsPlaced {
		t.Fatalf("fresh settlement already placed")
	}
	if _, ok := store.Get(s.ID); !ok {
		t.Fatalf("settlement missing from store")
	}

	if _, _, err := svc.Register("alice", "other"); !errors.Is(err, state.ErrNameTaken) {
		t.Fatalf("duplicate register err = %v, want ErrNameTaken", err)
	}
}

func TestLogin_VerifiesPassword(t *testing.T) {
	svc, _ := newTestService()
	_, created, err := svc.Register("alice", "hunter2")
	if err != nil {
		t.Fatalf("register: %v", err)
	}

	token, s, err := svc.Login("alice", "hunter2")
	if err != nil {
		t.Fatalf("login: %v", err)
	}
	if s.ID != created.ID {
		t.Fatalf("login settlement id = %d, want %d", s.ID, created.ID)
	}

	id, err := svc.Verify(token)
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if id != created.ID {
		t.Fatalf("verified id = %d, want %d", id, created.ID)
	}

	if _, _, err := svc.Login("alice", "wrong"); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("bad password err = %v, want ErrInvalidCredentials", err)
	}
	if _, _, err := svc.Login("nobody", "hunter2"); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("unknown user err = %v, want ErrInvalidCredentials", err)
	}
}

func TestVerify_RejectsForgedAndStaleTokens(t *testing.T) {
	svc, _ := newTestService()
	token, _, err := svc.Register("alice", "hunter2")
	if err != nil {
		t.Fatalf("register: %v", err)
	}

	if _, err := svc.Verify("not-a-token"); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("garbage token err = %v, want ErrInvalidToken", err)
	}

	// A token signed with a different secret must fail even when well-formed.
	other := NewService([]byte("other-secret"), newMemAccounts(), state.NewStore(), rules.Defaults(), nil)
	if _, err := other.Verify(token); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("cross-secret token err = %v, want ErrInvalidToken", err)
	}

	// A token whose settlement no longer exists is stale.
	stale := NewService([]byte("test-secret"), newMemAccounts(), state.NewStore(), rules.Defaults(), nil)
	if _, err := stale.Verify(token); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("stale token err = %v, want ErrInvalidToken", err)
	}
}

func TestRegister_RejectsEmptyFields(t *testing.T) {
	svc, _ := newTestService()
	if _, _, err := svc.Register("", "pw"); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("empty username err = %v", err)
	}
	if _, _, err := svc.Register("alice", ""); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("empty password err = %v", err)
	}
}
