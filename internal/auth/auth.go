package auth

import (
	"errors"
	"fmt"
	"log"
	"math/rand"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"

	"warcity.io/internal/rules"
	"warcity.io/internal/state"
)

var (
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrInvalidToken       = errors.New("invalid token")
)

// Accounts is the durable credential store (implemented by sqlitestore).
type Accounts interface {
	CreateAccount(username, passwordHash string, settlementID int64) error
	GetAccount(username string) (passwordHash string, settlementID int64, err error)
}

// Service issues bearer tokens on register/login and verifies them for the
// command processor. Registration also creates the settlement with default
// stocks at a random unplaced spawn position.
type Service struct {
	secret   []byte
	accounts Accounts
	store    *state.Store
	rules    rules.Rules
	log      *log.Logger
}

func NewService(secret []byte, accounts Accounts, store *state.Store, r rules.Rules, logger *log.Logger) *Service {
	return &Service{secret: secret, accounts: accounts, store: store, rules: r, log: logger}
}

func (s *Service) Register(username, password string) (string, state.Settlement, error) {
	if username == "" || password == "" {
		return "", state.Settlement{}, ErrInvalidCredentials
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), 10)
	if err != nil {
		return "", state.Settlement{}, err
	}

	settlement, err := s.store.Create(state.Settlement{
		Username:    username,
		Gold:        s.rules.Start.Gold,
		Food:        s.rules.Start.Food,
		Water:       s.rules.Start.Water,
		PeopleCount: s.rules.Start.People,
		X:           rand.Float64() * s.rules.SpawnExtent,
		Y:           rand.Float64() * s.rules.SpawnExtent,
	})
	if err != nil {
		return "", state.Settlement{}, err
	}
	if s.accounts != nil {
		if err := s.accounts.CreateAccount(username, string(hash), settlement.ID); err != nil {
			return "", state.Settlement{}, err
		}
	}

	token, err := s.issueToken(settlement.ID, username)
	if err != nil {
		return "", state.Settlement{}, err
	}
	return token, settlement, nil
}

func (s *Service) Login(username, password string) (string, state.Settlement, error) {
	if s.accounts == nil {
		return "", state.Settlement{}, ErrInvalidCredentials
	}
	hash, settlementID, err := s.accounts.GetAccount(username)
	if err != nil {
		return "", state.Settlement{}, ErrInvalidCredentials
	}
	if bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)) != nil {
		return "", state.Settlement{}, ErrInvalidCredentials
	}
	settlement, ok := s.store.Get(settlementID)
	if !ok {
		return "", state.Settlement{}, ErrInvalidCredentials
	}
	token, err := s.issueToken(settlementID, username)
	if err != nil {
		return "", state.Settlement{}, err
	}
	return token, settlement, nil
}

func (s *Service) issueToken(settlementID int64, username string) (string, error) {
	claims := jwt.MapClaims{
		"id":       settlementID,
		"username": username,
	}
	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return tok.SignedString(s.secret)
}

// Verify checks the token signature and returns the settlement id it was
// issued for. The core rejects any command whose credential fails here.
func (s *Service) Verify(tokenString string) (int64, error) {
	token, err := jwt.Parse(tokenString, func(token *jwt.Token) (any, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", token.Header["alg"])
		}
		return s.secret, nil
	})
	if err != nil || !token.Valid {
		return 0, ErrInvalidToken
	}
	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return 0, ErrInvalidToken
	}
	id, ok := claims["id"].(float64)
	if !ok {
		return 0, ErrInvalidToken
	}
	if _, exists := s.store.Get(int64(id)); !exists {
		return 0, ErrInvalidToken
	}
	return int64(id), nil
}
