package api

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/tbardale/strikesentry/internal/broker"
	"github.com/tbardale/strikesentry/internal/models"
)

type credentialsRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

func (s *Server) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		s.writeJSON(w, http.StatusBadRequest, errorResponse{Error: "bad_request", Message: "invalid JSON body"})
		return false
	}
	return true
}

func (s *Server) handleSignup(w http.ResponseWriter, r *http.Request) {
	var req credentialsRequest
	if !s.decode(w, r, &req) {
		return
	}
	if req.Username == "" || req.Password == "" {
		s.writeJSON(w, http.StatusBadRequest, errorResponse{Error: "bad_request", Message: "username and password are required"})
		return
	}

	if err := s.creds.Create(req.Username, req.Password); err != nil {
		s.writeError(w, err)
		return
	}
	s.logger.WithField("username", req.Username).Info("user created")
	s.writeJSON(w, http.StatusCreated, map[string]string{"status": "created"})
}

// handleLogin authenticates and issues a session token. Any earlier live
// session for the user is superseded as part of registration.
func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req credentialsRequest
	if !s.decode(w, r, &req) {
		return
	}

	if err := s.creds.Authenticate(req.Username, req.Password); err != nil {
		s.writeError(w, err)
		return
	}

	token, err := s.registry.Register(req.Username)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.logger.WithField("username", req.Username).Info("session opened")
	s.writeJSON(w, http.StatusOK, map[string]string{"username": req.Username, "session_token": token})
}

func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	username := s.username(r)
	s.registry.Revoke(username)
	s.logger.WithField("username", username).Info("session closed")
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "logged_out"})
}

type brokerLinkRequest struct {
	AccessToken string `json:"access_token"`
}

func (s *Server) handleBrokerLink(w http.ResponseWriter, r *http.Request) {
	var req brokerLinkRequest
	if !s.decode(w, r, &req) {
		return
	}
	if req.AccessToken == "" {
		s.writeJSON(w, http.StatusBadRequest, errorResponse{Error: "bad_request", Message: "access_token is required"})
		return
	}

	if err := s.creds.LinkBroker(s.username(r), req.AccessToken); err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "linked"})
}

func (s *Server) handleBotStart(w http.ResponseWriter, r *http.Request) {
	username := s.username(r)
	if err := s.engine.StartBot(username); err != nil {
		s.writeError(w, err)
		return
	}
	s.logger.WithField("username", username).Info("bot started")
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "started"})
}

func (s *Server) handleBotStop(w http.ResponseWriter, r *http.Request) {
	username := s.username(r)
	if err := s.engine.StopBot(username); err != nil {
		s.writeError(w, err)
		return
	}
	s.logger.WithField("username", username).Info("bot stopped")
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "stopped"})
}

func (s *Server) handleBotReset(w http.ResponseWriter, r *http.Request) {
	s.engine.ResetCycle(s.username(r))
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "reset"})
}

func (s *Server) handleBotStatus(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, s.engine.Status(s.username(r)))
}

type botConfigRequest struct {
	Index            string   `json:"index,omitempty"`
	SymbolPrefix     string   `json:"symbol_prefix,omitempty"`
	Underlying       string   `json:"underlying,omitempty"`
	CallStrikeOffset *float64 `json:"call_strike_offset,omitempty"`
	PutStrikeOffset  *float64 `json:"put_strike_offset,omitempty"`
}

// handleBotConfig updates the user's tunables. Fields left out keep their
// current value; a known index name resolves both symbols at once.
func (s *Server) handleBotConfig(w http.ResponseWriter, r *http.Request) {
	var req botConfigRequest
	if !s.decode(w, r, &req) {
		return
	}

	// The read-merge-write runs under the user's lock in the engine, so
	// concurrent partial updates for one user compose.
	cfg, err := s.engine.UpdateConfig(s.username(r), func(cfg models.UserConfig) (models.UserConfig, error) {
		if req.Index != "" {
			underlying, ok := s.symbolMap[req.Index]
			if !ok {
				return cfg, fmt.Errorf("%w: unknown index %q", models.ErrInvalidOperation, req.Index)
			}
			cfg.SymbolPrefix = req.Index
			cfg.Underlying = underlying
		}
		if req.SymbolPrefix != "" {
			cfg.SymbolPrefix = req.SymbolPrefix
		}
		if req.Underlying != "" {
			cfg.Underlying = req.Underlying
		}
		if req.CallStrikeOffset != nil {
			cfg.CallStrikeOffset = *req.CallStrikeOffset
		}
		if req.PutStrikeOffset != nil {
			cfg.PutStrikeOffset = *req.PutStrikeOffset
		}
		return cfg, nil
	})
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, cfg)
}

type chainResponse struct {
	Spot    *float64           `json:"spot,omitempty"`
	Strikes []models.StrikeRow `json:"strikes"`
}

func (s *Server) handleChain(w http.ResponseWriter, r *http.Request) {
	rows, spot, err := s.engine.Snapshot(r.Context(), s.username(r))
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, chainResponse{Spot: spot, Strikes: rows})
}

func (s *Server) handlePositions(w http.ResponseWriter, r *http.Request) {
	positions, err := s.engine.Positions(r.Context(), s.username(r))
	if err != nil {
		s.writeError(w, err)
		return
	}
	if positions == nil {
		positions = []broker.PositionItem{}
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"positions": positions})
}

func (s *Server) handleExitAll(w http.ResponseWriter, r *http.Request) {
	results, err := s.engine.ExitAll(r.Context(), s.username(r))
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"results": results})
}

func (s *Server) handleExitOne(w http.ResponseWriter, r *http.Request) {
	var req broker.ExitRequest
	if !s.decode(w, r, &req) {
		return
	}
	if req.Symbol == "" || req.Quantity <= 0 {
		s.writeJSON(w, http.StatusBadRequest, errorResponse{Error: "bad_request", Message: "symbol and positive quantity are required"})
		return
	}

	receipt, err := s.engine.ExitOne(r.Context(), s.username(r), req)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, receipt)
}
