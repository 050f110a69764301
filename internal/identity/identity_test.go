package identity

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"rocketcrash/internal/game"
)

func identityServer(t *testing.T, calls *atomic.Int32, handler http.HandlerFunc) *Remote {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls != nil {
			calls.Add(1)
		}
		handler(w, r)
	}))
	t.Cleanup(srv.Close)
	return NewRemote(srv.URL, time.Second, nil)
}

func TestRemote_Authenticate(t *testing.T) {
	tests := []struct {
		name     string
		token    string
		status   int
		body     any
		want     game.Identity
		wantKind game.Kind
	}{
		{
			name:   "Valid token",
			token:  "good",
			status: http.StatusOK,
			body:   map[string]any{"userId": "u1", "username": "alice", "isBanned": false},
			want:   game.Identity{UserID: "u1", Username: "alice"},
		},
		{
			name:   "Banned user",
			token:  "good",
			status: http.StatusOK,
			body:   map[string]any{"userId": "u2", "username": "bob", "isBanned": true},
			want:   game.Identity{UserID: "u2", Username: "bob", Banned: true},
		},
		{
			name:     "Rejected token",
			token:    "bad",
			status:   http.StatusUnauthorized,
			body:     map[string]any{"error": "invalid token"},
			wantKind: game.KindAuthorization,
		},
		{
			name:     "Empty identity",
			token:    "good",
			status:   http.StatusOK,
			body:     map[string]any{},
			wantKind: game.KindAuthorization,
		},
		{
			name:     "Service failure",
			token:    "good",
			status:   http.StatusBadGateway,
			body:     map[string]any{},
			wantKind: game.KindInfrastructure,
		},
		{
			name:     "Missing token",
			token:    "",
			wantKind: game.KindAuthorization,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			remote := identityServer(t, nil, func(w http.ResponseWriter, r *http.Request) {
				if got := r.Header.Get("Authorization"); got != "Bearer "+tt.token {
					t.Errorf("Authorization = %q, want bearer token", got)
				}
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(tt.status)
				json.NewEncoder(w).Encode(tt.body)
			})

			got, err := remote.Authenticate(context.Background(), tt.token)
			if kind := game.KindOf(err); kind != tt.wantKind {
				t.Fatalf("Authenticate() error = %v, want kind %q", err, tt.wantKind)
			}
			if got != tt.want {
				t.Errorf("Authenticate() = %+v, want %+v", got, tt.want)
			}
		})
	}
}

func TestRemote_RetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	remote := identityServer(t, &calls, func(w http.ResponseWriter, r *http.Request) {
		if calls.Load() < 2 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{"userId": "u1", "username": "alice"})
	})

	got, err := remote.Authenticate(context.Background(), "good")
	if err != nil {
		t.Fatalf("Authenticate() error = %v", err)
	}
	if got.UserID != "u1" || calls.Load() != 2 {
		t.Errorf("Authenticate() = %+v after %d calls, want u1 after 2", got, calls.Load())
	}
}

func TestLedgerTokens_Authenticate(t *testing.T) {
	ledger := game.NewMemoryLedger()
	ledger.UpsertPlayer(game.Player{ID: "u1", Username: "alice", Balance: decimal.NewFromInt(100)})
	ledger.UpsertPlayer(game.Player{ID: "u2", Username: "bob", Banned: true})
	auth := NewLedgerTokens(ledger)

	tests := []struct {
		token   string
		want    game.Identity
		wantErr error
	}{
		{token: "u1", want: game.Identity{UserID: "u1", Username: "alice"}},
		{token: " u2 ", want: game.Identity{UserID: "u2", Username: "bob", Banned: true}},
		{token: "ghost", wantErr: game.ErrUnauthorized},
		{token: "", wantErr: game.ErrUnauthorized},
	}

	for _, tt := range tests {
		t.Run(tt.token, func(t *testing.T) {
			got, err := auth.Authenticate(context.Background(), tt.token)
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("Authenticate() error = %v, want %v", err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("Authenticate() = %+v, want %+v", got, tt.want)
			}
		})
	}
}
