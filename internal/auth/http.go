package auth

import (
	"encoding/json"
	"errors"
	"net/http"

	"warcity.io/internal/state"
)

type credentialsReq struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type authResp struct {
	Token string   `json:"token"`
	User  userResp `json:"user"`
}

type userResp struct {
	ID       int64   `json:"id"`
	Username string  `json:"username"`
	Gold     float64 `json:"gold"`
	Food     float64 `json:"food"`
	Water    float64 `json:"water"`
	IsPlaced bool    `json:"is_placed"`
}

type errResp struct {
	Error string `json:"error"`
}

// HandleRegister serves POST /api/register.
func (s *Service) HandleRegister(w http.ResponseWriter, r *http.Request) {
	var req credentialsReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Username == "" || req.Password == "" {
		writeJSON(w, http.StatusBadRequest, errResp{Error: "Missing fields"})
		return
	}
	token, settlement, err := s.Register(req.Username, req.Password)
	if err != nil {
		if errors.Is(err, state.ErrNameTaken) {
			writeJSON(w, http.StatusBadRequest, errResp{Error: "Username already exists"})
			return
		}
		writeJSON(w, http.StatusBadRequest, errResp{Error: "Registration failed"})
		return
	}
	writeJSON(w, http.StatusOK, authResp{Token: token, User: toUserResp(settlement)})
}

// HandleLogin serves POST /api/login.
func (s *Service) HandleLogin(w http.ResponseWriter, r *http.Request) {
	var req credentialsReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errResp{Error: "Missing fields"})
		return
	}
	token, settlement, err := s.Login(req.Username, req.Password)
	if err != nil {
		writeJSON(w, http.StatusUnauthorized, errResp{Error: "Invalid credentials"})
		return
	}
	writeJSON(w, http.StatusOK, authResp{Token: token, User: toUserResp(settlement)})
}

func toUserResp(s state.Settlement) userResp {
	return userResp{
		ID:       s.ID,
		Username: s.Username,
		Gold:     s.Gold,
		Food:     s.Food,
		Water:    s.Water,
		IsPlaced: s.IsPlaced,
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
