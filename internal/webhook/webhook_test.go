package webhook

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/joshdurbin/fitnerd/internal/db"
	"github.com/joshdurbin/fitnerd/internal/strava"
	fitsync "github.com/joshdurbin/fitnerd/internal/sync"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testAthlete = 4242

type fixedTokens struct{}

func (fixedTokens) AccessToken(context.Context, int64) (string, error) { return "token", nil }

type fixture struct {
	handler *Handler
	queries *db.Queries
	userID  int64
	calls   *atomic.Int32
}

func setup(t *testing.T, api http.HandlerFunc) fixture {
	t.Helper()
	ctx := context.Background()

	sqlDB, err := db.Open(filepath.Join(t.TempDir(), "webhook.db"))
	require.NoError(t, err)
	t.Cleanup(func() { sqlDB.Close() })
	require.NoError(t, db.Migrate(ctx, sqlDB))
	queries := db.New(sqlDB)

	user, err := queries.UpsertUserByAthlete(ctx, db.UpsertUserByAthleteParams{Username: "rider", AthleteID: testAthlete})
	require.NoError(t, err)

	calls := &atomic.Int32{}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		if api != nil {
			api(w, r)
		}
	}))
	t.Cleanup(server.Close)
	client := strava.NewClient(server.URL, strava.RetryConfig{MaxRetries: 1, MinWait: time.Millisecond, MaxWait: time.Millisecond})

	h := NewHandler(sqlDB, client, fixedTokens{}).WithCreateDelay(time.Millisecond)
	return fixture{handler: h, queries: queries, userID: user.ID, calls: calls}
}

func storeActivity(t *testing.T, f fixture, id int64, name, sport string) {
	t.Helper()
	start := time.Date(2024, 6, 1, 7, 0, 0, 0, time.UTC)
	require.NoError(t, f.queries.UpsertActivity(context.Background(), fitsync.Normalize(f.userID, strava.Activity{
		ID: id, Name: name, Type: sport, SportType: sport, StartDate: start, StartDateLocal: start, Distance: 1000,
	})))
}

func TestCreateRetriesUntilComplete(t *testing.T) {
	var served atomic.Int32
	f := setup(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/activities/77", r.URL.Path)
		if served.Add(1) < 3 {
			json.NewEncoder(w).Encode(strava.Activity{})
			return
		}
		start := time.Date(2024, 6, 2, 7, 0, 0, 0, time.UTC)
		json.NewEncoder(w).Encode(strava.Activity{
			ID: 77, Name: "Fresh Ride", Type: "Ride", SportType: "Ride",
			StartDate: start, StartDateLocal: start, Distance: 20000, MovingTime: 3600,
		})
	})
	ctx := context.Background()

	err := f.handler.Handle(ctx, Event{ObjectType: ObjectActivity, AspectType: AspectCreate, ObjectID: 77, OwnerID: testAthlete})
	require.NoError(t, err)
	assert.Equal(t, int32(3), f.calls.Load())

	act, err := f.queries.GetActivity(ctx, f.userID, 77)
	require.NoError(t, err)
	assert.Equal(t, "Fresh Ride", act.Name)
	assert.Equal(t, 20.0, act.DistanceKm)

	user, err := f.queries.GetUser(ctx, f.userID)
	require.NoError(t, err)
	assert.Contains(t, user.ColorPalette, `"Ride"`)
}

func TestCreateGivesUpAfterTenAttempts(t *testing.T) {
	f := setup(t, func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(strava.Activity{})
	})

	err := f.handler.Handle(context.Background(), Event{ObjectType: ObjectActivity, AspectType: AspectCreate, ObjectID: 5, OwnerID: testAthlete})
	assert.ErrorIs(t, err, ErrIncompleteActivity)
	assert.True(t, IsDataError(err))
	assert.Equal(t, int32(CreateAttempts), f.calls.Load())

	_, err = f.queries.GetActivity(context.Background(), f.userID, 5)
	assert.ErrorIs(t, err, db.ErrNotFound)
}

func TestUpdate(t *testing.T) {
	f := setup(t, nil)
	ctx := context.Background()
	storeActivity(t, f, 10, "Morning Ride", "Ride")

	err := f.handler.Handle(ctx, Event{
		ObjectType: ObjectActivity, AspectType: AspectUpdate, ObjectID: 10, OwnerID: testAthlete,
		Updates: map[string]any{"title": "Gravel Grind", "type": "GravelRide"},
	})
	require.NoError(t, err)

	act, err := f.queries.GetActivity(ctx, f.userID, 10)
	require.NoError(t, err)
	assert.Equal(t, "Gravel Grind", act.Name)
	assert.Equal(t, "GravelRide", act.Type)
	assert.Equal(t, "GravelRide", act.SportType)
	assert.Zero(t, f.calls.Load())

	err = f.handler.Handle(ctx, Event{
		ObjectType: ObjectActivity, AspectType: AspectUpdate, ObjectID: 10, OwnerID: testAthlete,
		Updates: map[string]any{"title": "Renamed"},
	})
	require.NoError(t, err)
	act, err = f.queries.GetActivity(ctx, f.userID, 10)
	require.NoError(t, err)
	assert.Equal(t, "Renamed", act.Name)
	assert.Equal(t, "GravelRide", act.SportType)
}

func TestUpdateAndDeleteMissingActivity(t *testing.T) {
	f := setup(t, nil)

	for _, aspect := range []string{AspectUpdate, AspectDelete} {
		err := f.handler.Handle(context.Background(), Event{
			ObjectType: ObjectActivity, AspectType: aspect, ObjectID: 999, OwnerID: testAthlete,
			Updates: map[string]any{"title": "x"},
		})
		assert.ErrorIs(t, err, ErrActivityNotFound, aspect)
		assert.True(t, IsDataError(err))
	}
	// Missing records are never fetched upstream.
	assert.Zero(t, f.calls.Load())
}

func TestDelete(t *testing.T) {
	f := setup(t, nil)
	ctx := context.Background()
	storeActivity(t, f, 11, "Lunch Run", "Run")

	require.NoError(t, f.handler.Handle(ctx, Event{ObjectType: ObjectActivity, AspectType: AspectDelete, ObjectID: 11, OwnerID: testAthlete}))

	_, err := f.queries.GetActivity(ctx, f.userID, 11)
	assert.ErrorIs(t, err, db.ErrNotFound)
}

func TestUnknownOwner(t *testing.T) {
	f := setup(t, nil)

	err := f.handler.Handle(context.Background(), Event{ObjectType: ObjectActivity, AspectType: AspectDelete, ObjectID: 1, OwnerID: 1})
	assert.ErrorIs(t, err, ErrUnknownOwner)
	assert.True(t, IsDataError(err))
}

func TestDeauthorizationWipesUser(t *testing.T) {
	f := setup(t, nil)
	ctx := context.Background()
	storeActivity(t, f, 1, "a", "Run")
	storeActivity(t, f, 2, "b", "Ride")
	require.NoError(t, f.queries.UpsertCredential(ctx, db.UpsertCredentialParams{
		UserID: f.userID, AccessToken: "a", RefreshToken: "r", ExpiresAt: time.Now().Add(time.Hour).Unix(),
	}))
	require.NoError(t, f.queries.SetInitialDownloadDone(ctx, f.userID, true))

	err := f.handler.Handle(ctx, Event{
		ObjectType: ObjectAthlete, AspectType: AspectUpdate, ObjectID: testAthlete, OwnerID: testAthlete,
		Updates: map[string]any{"authorized": "false"},
	})
	require.NoError(t, err)

	count, err := f.queries.CountActivities(ctx, f.userID)
	require.NoError(t, err)
	assert.Zero(t, count)

	_, err = f.queries.GetCredential(ctx, f.userID)
	assert.ErrorIs(t, err, db.ErrNotFound)

	user, err := f.queries.GetUser(ctx, f.userID)
	require.NoError(t, err)
	assert.False(t, user.IsVerified)
	assert.False(t, user.InitialDownloadDone)
}

func TestAthleteUpdateWithoutDeauthorizationIsIgnored(t *testing.T) {
	f := setup(t, nil)
	ctx := context.Background()
	storeActivity(t, f, 1, "a", "Run")

	require.NoError(t, f.handler.Handle(ctx, Event{
		ObjectType: ObjectAthlete, AspectType: AspectUpdate, OwnerID: testAthlete,
		Updates: map[string]any{"authorized": "true"},
	}))

	count, err := f.queries.CountActivities(ctx, f.userID)
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)
}

func TestVerifyChallenge(t *testing.T) {
	tests := []struct {
		name   string
		mode   string
		token  string
		stored string
		ok     bool
	}{
		{"valid", "subscribe", "secret", "secret", true},
		{"wrong token", "subscribe", "guess", "secret", false},
		{"wrong mode", "unsubscribe", "secret", "secret", false},
		{"no token configured", "subscribe", "", "", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := VerifyChallenge(tt.mode, tt.token, "abc123", tt.stored)
			assert.Equal(t, tt.ok, ok)
			if tt.ok {
				assert.Equal(t, "abc123", got)
			}
		})
	}
}

func TestEventUpdate(t *testing.T) {
	var ev Event
	require.NoError(t, json.Unmarshal([]byte(`{"aspect_type":"update","updates":{"title":"New","private":true,"authorized":"false"}}`), &ev))

	title, ok := ev.Update("title")
	assert.True(t, ok)
	assert.Equal(t, "New", title)

	private, ok := ev.Update("private")
	assert.True(t, ok)
	assert.Equal(t, "true", private)

	_, ok = ev.Update("type")
	assert.False(t, ok)
}
