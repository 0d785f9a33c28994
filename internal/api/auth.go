package api

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/nerrad567/keystone-auth/internal/auth"
)

// ticketTTL is how long a WebSocket ticket is valid.
const ticketTTL = 60 * time.Second

// registerRequest is the request body for POST /auth/register.
type registerRequest struct {
	Email     string `json:"email" validate:"required,email,max=254"`
	Password  string `json:"password" validate:"required,min=8,max=256"`
	FirstName string `json:"firstName" validate:"max=100"`
	LastName  string `json:"lastName" validate:"max=100"`
}

// registerResponse is the response body for POST /auth/register.
type registerResponse struct {
	Message string     `json:"message"`
	User    *auth.User `json:"user"`
}

// loginRequest is the request body for POST /auth/login.
type loginRequest struct {
	Email    string `json:"email" validate:"required,max=254"`
	Password string `json:"password" validate:"required,max=256"`
}

// refreshRequest is the request body for POST /auth/refresh. An empty token
// is left to the service so it maps to missing_token.
type refreshRequest struct {
	RefreshToken string `json:"refreshToken"`
}

// tokenResponse is the response body for login and refresh.
type tokenResponse struct {
	Message      string `json:"message"`
	AccessToken  string `json:"accessToken"`
	RefreshToken string `json:"refreshToken"`
	TokenType    string `json:"tokenType"`
	ExpiresIn    int    `json:"expiresIn"` // seconds
}

func newTokenResponse(message string, pair auth.TokenPair) tokenResponse {
	return tokenResponse{
		Message:      message,
		AccessToken:  pair.AccessToken,
		RefreshToken: pair.RefreshToken,
		TokenType:    "Bearer",
		ExpiresIn:    int(pair.AccessExpiresIn.Seconds()),
	}
}

// decodeBody decodes the JSON body into dst and writes a 400 on failure.
func decodeBody(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			writeBadRequest(w, "request body too large")
			return false
		}
		writeBadRequest(w, "invalid JSON body")
		return false
	}
	return true
}

// handleRegister creates a realtor account.
func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if !decodeBody(w, r, &req) {
		return
	}
	req.Email = strings.TrimSpace(req.Email)
	if !s.validateRequest(w, &req) {
		return
	}

	user, err := s.auth.Register(r.Context(), auth.RegisterInput{
		Email:     req.Email,
		Password:  req.Password,
		FirstName: req.FirstName,
		LastName:  req.LastName,
	})
	if err != nil {
		s.writeAuthError(w, r, err, "failed to register user")
		return
	}

	s.logger.Info("user registered", "user_id", user.ID)
	writeJSON(w, http.StatusCreated, registerResponse{
		Message: "User created successfully",
		User:    user,
	})
}

// handleLogin verifies credentials and returns a token pair. Unknown email
// and wrong password produce the same response.
func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if !decodeBody(w, r, &req) {
		return
	}
	req.Email = strings.TrimSpace(req.Email)
	if !s.validateRequest(w, &req) {
		return
	}

	pair, user, err := s.auth.Login(r.Context(), req.Email, req.Password)
	if err != nil {
		s.writeAuthError(w, r, err, "failed to log in")
		return
	}

	s.logger.Debug("login succeeded", "user_id", user.ID)
	writeJSON(w, http.StatusOK, newTokenResponse("Login successful", pair))
}

// handleRefresh exchanges a refresh token for a new pair.
func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	var req refreshRequest
	if !decodeBody(w, r, &req) {
		return
	}

	pair, err := s.auth.Refresh(r.Context(), req.RefreshToken)
	if err != nil {
		s.writeAuthError(w, r, err, "failed to refresh token")
		return
	}

	writeJSON(w, http.StatusOK, newTokenResponse("Refresh successful", pair))
}

// meResponse is the response body for GET /auth/me.
type meResponse struct {
	User      *auth.User `json:"user"`
	ExpiresAt time.Time  `json:"expiresAt"`
}

// handleMe returns the stored identity behind the verified access token.
func (s *Server) handleMe(w http.ResponseWriter, r *http.Request) {
	claims, ok := auth.ClaimsFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, ErrCodeMissingToken, "access token is required")
		return
	}

	user, err := s.auth.User(r.Context(), claims.UserID())
	if err != nil {
		s.writeAuthError(w, r, err, "failed to load user")
		return
	}

	resp := meResponse{User: user}
	if claims.ExpiresAt != nil {
		resp.ExpiresAt = claims.ExpiresAt.UTC()
	}
	writeJSON(w, http.StatusOK, resp)
}

// handleWSTicket issues a single-use WebSocket ticket bound to the caller.
// Browsers cannot set headers on the upgrade request, so the ticket goes in
// the query string instead of the access token.
func (s *Server) handleWSTicket(w http.ResponseWriter, r *http.Request) {
	claims, ok := auth.ClaimsFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, ErrCodeMissingToken, "access token is required")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"ticket":    s.tickets.issue(claims, time.Now()),
		"expiresIn": int(ticketTTL.Seconds()),
	})
}

// wsGate authenticates the upgrade request with a ticket when one is given,
// otherwise with the bearer header through authGate.
func (s *Server) wsGate(next http.Handler) http.Handler {
	gated := s.authGate(next)
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ticket := r.URL.Query().Get("ticket")
		if ticket == "" {
			gated.ServeHTTP(w, r)
			return
		}

		claims, ok := s.tickets.consume(ticket, time.Now())
		if !ok {
			writeError(w, http.StatusUnauthorized, ErrCodeInvalidToken, "invalid or expired ticket")
			return
		}
		next.ServeHTTP(w, r.WithContext(auth.WithClaims(r.Context(), claims)))
	})
}

// ticketStore holds pending WebSocket tickets.
// Tickets are single-use and expire after ticketTTL.
type ticketStore struct {
	tickets map[string]ticketEntry
	mu      sync.Mutex
}

type ticketEntry struct {
	claims    *auth.Claims
	expiresAt time.Time
}

func newTicketStore() *ticketStore {
	return &ticketStore{tickets: make(map[string]ticketEntry)}
}

// issue stores a new ticket for claims and returns it.
func (ts *ticketStore) issue(claims *auth.Claims, now time.Time) string {
	ticket := generateTicket()

	ts.mu.Lock()
	ts.tickets[ticket] = ticketEntry{claims: claims, expiresAt: now.Add(ticketTTL)}
	ts.mu.Unlock()

	return ticket
}

// consume removes the ticket and returns its claims if it had not expired.
func (ts *ticketStore) consume(ticket string, now time.Time) (*auth.Claims, bool) {
	ts.mu.Lock()
	defer ts.mu.Unlock()

	entry, ok := ts.tickets[ticket]
	if !ok {
		return nil, false
	}
	delete(ts.tickets, ticket)

	if !now.Before(entry.expiresAt) {
		return nil, false
	}
	return entry.claims, true
}

// sweep removes tickets that expired before now.
func (ts *ticketStore) sweep(now time.Time) {
	ts.mu.Lock()
	defer ts.mu.Unlock()

	for ticket, entry := range ts.tickets {
		if !now.Before(entry.expiresAt) {
			delete(ts.tickets, ticket)
		}
	}
}

// size returns the number of pending tickets.
func (ts *ticketStore) size() int {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	return len(ts.tickets)
}

// cleanLoop runs sweep periodically until the context is cancelled.
func (ts *ticketStore) cleanLoop(ctx context.Context) {
	ticker := time.NewTicker(ticketTTL)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			ts.sweep(now)
		}
	}
}

// ticketBytes is the number of random bytes used for WebSocket tickets.
const ticketBytes = 32

// generateTicket creates a cryptographically random ticket string.
func generateTicket() string {
	b := make([]byte, ticketBytes)
	//nolint:errcheck // crypto/rand.Read always returns len(b) on supported platforms
	rand.Read(b)
	return hex.EncodeToString(b)
}
