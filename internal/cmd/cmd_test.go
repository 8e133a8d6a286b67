package cmd

import (
	"context"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/joshdurbin/fitnerd/internal/config"
	"github.com/joshdurbin/fitnerd/internal/db"
	"github.com/joshdurbin/fitnerd/internal/strava"
	"github.com/joshdurbin/fitnerd/internal/webhook"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConnectURL(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		addr     string
		username string
		want     string
		wantErr  bool
	}{
		{"port only", ":8080", "alice", "http://localhost:8080/connect?username=alice", false},
		{"host and port", "127.0.0.1:9000", "bob", "http://127.0.0.1:9000/connect?username=bob", false},
		{"full url with path", "https://fit.example.com/app/", "carol", "https://fit.example.com/app/connect?username=carol", false},
		{"username escaped", ":8080", "a b&c", "http://localhost:8080/connect?username=a+b%26c", false},
		{"blank username", ":8080", "  ", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got, err := connectURL(tt.addr, tt.username)
			if (err != nil) != tt.wantErr {
				t.Fatalf("connectURL() error = %v, wantErr %v", err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("connectURL() = %q, want %q", got, tt.want)
			}
		})
	}
}

// fakeStrava answers the push subscription endpoints.
type fakeStrava struct {
	mu      sync.Mutex
	created int
	deleted []string
}

func (f *fakeStrava) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()
	switch {
	case r.Method == http.MethodPost && r.URL.Path == "/push_subscriptions":
		f.created++
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"id": 777}`))
	case r.Method == http.MethodDelete:
		f.deleted = append(f.deleted, r.URL.Path)
		w.WriteHeader(http.StatusNoContent)
	default:
		w.WriteHeader(http.StatusBadRequest)
	}
}

func (f *fakeStrava) deletedPaths() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.deleted...)
}

func newTestSubscriptions(t *testing.T) (*subscriptions, *fakeStrava) {
	t.Helper()

	fake := &fakeStrava{}
	srv := httptest.NewServer(fake)
	t.Cleanup(srv.Close)

	sqlDB, err := openDatabase(context.Background(), filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { sqlDB.Close() })

	return &subscriptions{
		cfg: &config.Strava{
			ClientID:     "123",
			ClientSecret: "secret",
			CallbackURL:  "https://fit.example.com/webhook",
			VerifyToken:  "verify",
		},
		client:  strava.NewClient(srv.URL, strava.RetryConfig{MaxRetries: 0, MinWait: time.Millisecond, MaxWait: time.Millisecond}),
		queries: db.New(sqlDB),
	}, fake
}

func TestSubscriptionsCreateAndDelete(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s, fake := newTestSubscriptions(t)

	id, err := s.create(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(777), id)
	fake.mu.Lock()
	assert.Equal(t, 1, fake.created)
	fake.mu.Unlock()

	stored, err := s.queries.GetWebhookSubscription(ctx, webhook.ServiceName)
	require.NoError(t, err)
	assert.Equal(t, int64(777), stored.SubscriptionID)

	_, err = s.delete(ctx, 999)
	require.Error(t, err, "an id that differs from the stored one is refused")
	assert.Empty(t, fake.deletedPaths())

	id, err = s.delete(ctx, 0)
	require.NoError(t, err)
	assert.Equal(t, int64(777), id)
	assert.Equal(t, []string{"/push_subscriptions/777"}, fake.deletedPaths())

	_, err = s.queries.GetWebhookSubscription(ctx, webhook.ServiceName)
	assert.ErrorIs(t, err, db.ErrNotFound)
}

func TestSubscriptionsDeleteWithoutStored(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s, fake := newTestSubscriptions(t)

	_, err := s.delete(ctx, 0)
	require.Error(t, err)

	id, err := s.delete(ctx, 55)
	require.NoError(t, err)
	assert.Equal(t, int64(55), id)
	assert.Equal(t, []string{"/push_subscriptions/55"}, fake.deletedPaths())
}
