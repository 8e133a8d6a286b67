package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/joshdurbin/fitnerd/internal/auth"
	"github.com/joshdurbin/fitnerd/internal/config"
	"github.com/joshdurbin/fitnerd/internal/db"
	"github.com/joshdurbin/fitnerd/internal/strava"
	fitsync "github.com/joshdurbin/fitnerd/internal/sync"
	"github.com/joshdurbin/fitnerd/internal/telemetry"
	"github.com/joshdurbin/fitnerd/internal/webhook"
	"github.com/joshdurbin/fitnerd/internal/workers"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testVerifyToken = "s3cret"

type fakeGrants struct {
	mu     sync.Mutex
	grants map[int64]*auth.TokenResponse
}

func (f *fakeGrants) SaveGrant(ctx context.Context, userID int64, tokens *auth.TokenResponse) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.grants[userID] = tokens
	return nil
}

type recordingObserver struct {
	mu       sync.Mutex
	requests []string
	webhooks []bool
}

func (o *recordingObserver) Request(method, route string, status int, took time.Duration) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.requests = append(o.requests, method+" "+route)
}

func (o *recordingObserver) WebhookEvent(objectType, aspectType string, accepted bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.webhooks = append(o.webhooks, accepted)
}

type testEnv struct {
	api      *API
	queries  *db.Queries
	queue    *workers.Queue
	grants   *fakeGrants
	observer *recordingObserver
}

func setup(t *testing.T, tokenURL string) *testEnv {
	t.Helper()
	sqlDB, err := db.Open(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { sqlDB.Close() })
	require.NoError(t, db.Migrate(context.Background(), sqlDB))

	cfg := &config.Strava{
		ClientID:     "123",
		ClientSecret: "shh",
		RedirectURL:  "http://localhost:8080/callback",
		OAuthURL:     "https://www.strava.com/oauth",
	}
	oc := auth.StravaOAuthConfig(cfg)
	if tokenURL != "" {
		oc.Endpoint.TokenURL = tokenURL
	}

	_, reg := telemetry.NewTestManagerAndRegistry()
	env := &testEnv{
		queries:  db.New(sqlDB),
		queue:    workers.NewQueue(sqlDB),
		grants:   &fakeGrants{grants: map[int64]*auth.TokenResponse{}},
		observer: &recordingObserver{},
	}
	env.api = New(Options{
		DB:          sqlDB,
		Queue:       env.queue,
		OAuth:       oc,
		Grants:      env.grants,
		VerifyToken: testVerifyToken,
		Observer:    env.observer,
		Gatherer:    reg,
	})
	return env
}

func (e *testEnv) do(t *testing.T, method, target, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, target, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, target, nil)
	}
	rr := httptest.NewRecorder()
	e.api.ServeHTTP(rr, req)
	return rr
}

func (e *testEnv) user(t *testing.T, name string, athleteID int64) db.User {
	t.Helper()
	u, err := e.queries.UpsertUserByAthlete(context.Background(), db.UpsertUserByAthleteParams{Username: name, AthleteID: athleteID})
	require.NoError(t, err)
	return u
}

func (e *testEnv) activity(t *testing.T, userID, id int64, name, sport string, date time.Time, meters float64) {
	t.Helper()
	a := fitsync.Normalize(userID, strava.Activity{
		ID:                 id,
		Name:               name,
		Type:               sport,
		SportType:          sport,
		Distance:           meters,
		MovingTime:         1800,
		ElapsedTime:        2000,
		TotalElevationGain: 100,
		StartDate:          date,
		StartDateLocal:     date,
	})
	require.NoError(t, e.queries.UpsertActivity(context.Background(), a))
}

func decode[T any](t *testing.T, rr *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.NewDecoder(rr.Body).Decode(&v), rr.Body.String())
	return v
}

func TestWebhookChallenge(t *testing.T) {
	env := setup(t, "")

	t.Run("matching token echoes challenge", func(t *testing.T) {
		rr := env.do(t, http.MethodGet, "/webhook?hub.mode=subscribe&hub.verify_token=s3cret&hub.challenge=abc123", "")
		assert.Equal(t, http.StatusOK, rr.Code)
		assert.Equal(t, map[string]string{"hub.challenge": "abc123"}, decode[map[string]string](t, rr))
	})

	t.Run("wrong token", func(t *testing.T) {
		rr := env.do(t, http.MethodGet, "/webhook?hub.mode=subscribe&hub.verify_token=nope&hub.challenge=abc123", "")
		assert.Equal(t, http.StatusForbidden, rr.Code)
		assert.Equal(t, "forbidden", rr.Body.String())
	})

	t.Run("wrong mode", func(t *testing.T) {
		rr := env.do(t, http.MethodGet, "/webhook?hub.mode=unsubscribe&hub.verify_token=s3cret&hub.challenge=abc123", "")
		assert.Equal(t, http.StatusForbidden, rr.Code)
	})
}

func TestWebhookEvent(t *testing.T) {
	env := setup(t, "")
	ctx := context.Background()
	event := `{"subscription_id": 55, "object_type": "activity", "aspect_type": "create", "object_id": 9, "owner_id": 77, "updates": {}}`

	rr := env.do(t, http.MethodPost, "/webhook", event)
	assert.Equal(t, http.StatusForbidden, rr.Code, "no stored subscription")

	require.NoError(t, env.queries.SaveWebhookSubscription(ctx, webhook.ServiceName, 56))
	rr = env.do(t, http.MethodPost, "/webhook", event)
	assert.Equal(t, http.StatusForbidden, rr.Code, "subscription mismatch")
	assert.Equal(t, "forbidden", rr.Body.String())

	require.NoError(t, env.queries.SaveWebhookSubscription(ctx, webhook.ServiceName, 55))
	rr = env.do(t, http.MethodPost, "/webhook", event)
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "EVENT_RECEIVED", rr.Body.String())

	counts, err := env.queue.Counts(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), counts[db.JobStatePending])
	assert.Equal(t, []bool{false, false, true}, env.observer.webhooks)

	rr = env.do(t, http.MethodPost, "/webhook", `{"subscription_id": `)
	assert.Equal(t, http.StatusBadRequest, rr.Code)

	oversized := `{"subscription_id": 55, "object_type": "` + strings.Repeat("a", maxWebhookBody) + `"}`
	rr = env.do(t, http.MethodPost, "/webhook", oversized)
	assert.Equal(t, http.StatusBadRequest, rr.Code, "oversized body")

	counts, err = env.queue.Counts(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), counts[db.JobStatePending], "rejected bodies queue nothing")
}

func TestGetUser(t *testing.T) {
	env := setup(t, "")
	u := env.user(t, "runner", 1)
	for i := int64(1); i <= 7; i++ {
		env.activity(t, u.ID, i, "Run", "Run", time.Date(2024, 1, int(i), 8, 0, 0, 0, time.UTC), 5000)
	}

	rr := env.do(t, http.MethodGet, "/users/"+itoa(u.ID), "")
	require.Equal(t, http.StatusOK, rr.Code)
	resp := decode[userResponse](t, rr)
	assert.Equal(t, "runner", resp.User.Username)
	assert.Equal(t, "imperial", resp.User.PreferredUnits)
	assert.True(t, resp.User.Verified)
	assert.Equal(t, []string{"Run"}, resp.Types)
	require.Len(t, resp.Recent, recentLimit)
	assert.Equal(t, int64(7), resp.Recent[0].ActivityID)
	assert.Nil(t, resp.LatestJob)

	rr = env.do(t, http.MethodGet, "/users/999", "")
	assert.Equal(t, http.StatusNotFound, rr.Code)
	assert.Equal(t, "not_found", decode[ErrorResponse](t, rr).Error)

	rr = env.do(t, http.MethodGet, "/users/abc", "")
	assert.Equal(t, http.StatusBadRequest, rr.Code)
	assert.Equal(t, "userID", decode[ErrorResponse](t, rr).Field)
}

func TestSync(t *testing.T) {
	env := setup(t, "")
	u := env.user(t, "runner", 1)

	rr := env.do(t, http.MethodPost, "/users/"+itoa(u.ID)+"/sync", "")
	require.Equal(t, http.StatusAccepted, rr.Code)
	first := decode[syncResponse](t, rr)
	assert.True(t, first.Created)
	assert.Equal(t, db.JobStatePending, first.Job.State)

	rr = env.do(t, http.MethodPost, "/users/"+itoa(u.ID)+"/sync", "")
	require.Equal(t, http.StatusOK, rr.Code)
	second := decode[syncResponse](t, rr)
	assert.False(t, second.Created)
	assert.Equal(t, first.Job.ID, second.Job.ID)

	rr = env.do(t, http.MethodGet, "/jobs/"+first.Job.ID, "")
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, workers.KindSync, decode[jobView](t, rr).Kind)

	rr = env.do(t, http.MethodGet, "/jobs/does-not-exist", "")
	assert.Equal(t, http.StatusNotFound, rr.Code)
}

func TestSyncRequiresConnectedUser(t *testing.T) {
	env := setup(t, "")
	u, err := env.queries.CreateUser(context.Background(), "walker")
	require.NoError(t, err)

	rr := env.do(t, http.MethodPost, "/users/"+itoa(u.ID)+"/sync", "")
	assert.Equal(t, http.StatusForbidden, rr.Code)
}

func TestDeleteActivities(t *testing.T) {
	env := setup(t, "")
	u := env.user(t, "runner", 1)
	env.activity(t, u.ID, 1, "Run", "Run", time.Date(2024, 1, 1, 8, 0, 0, 0, time.UTC), 5000)
	env.activity(t, u.ID, 2, "Ride", "Ride", time.Date(2024, 1, 2, 8, 0, 0, 0, time.UTC), 20000)

	job, _, err := env.queue.EnqueueSync(context.Background(), u.ID, time.Time{})
	require.NoError(t, err)
	rr := env.do(t, http.MethodDelete, "/users/"+itoa(u.ID)+"/activities", "")
	assert.Equal(t, http.StatusConflict, rr.Code)

	require.NoError(t, env.queries.FinishJob(context.Background(), job.ID, db.JobStateSucceeded, ""))
	rr = env.do(t, http.MethodDelete, "/users/"+itoa(u.ID)+"/activities", "")
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, map[string]int64{"deleted": 2}, decode[map[string]int64](t, rr))

	n, err := env.queries.CountActivities(context.Background(), u.ID)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestUnits(t *testing.T) {
	env := setup(t, "")
	u := env.user(t, "runner", 1)
	base := "/users/" + itoa(u.ID)

	rr := env.do(t, http.MethodPost, base+"/units/toggle", "")
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "metric", decode[userView](t, rr).PreferredUnits)

	rr = env.do(t, http.MethodPost, base+"/units/toggle", "")
	assert.Equal(t, "imperial", decode[userView](t, rr).PreferredUnits)

	rr = env.do(t, http.MethodPut, base+"/units", `{"units": "metric"}`)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "metric", decode[userView](t, rr).PreferredUnits)

	rr = env.do(t, http.MethodPut, base+"/units", `{"units": "furlongs"}`)
	assert.Equal(t, http.StatusBadRequest, rr.Code)
	assert.Equal(t, "units", decode[ErrorResponse](t, rr).Field)
}

func TestReports(t *testing.T) {
	env := setup(t, "")
	u := env.user(t, "runner", 1)
	base := "/users/" + itoa(u.ID)
	env.activity(t, u.ID, 1, "Morning Run", "Run", time.Date(2023, 6, 1, 8, 0, 0, 0, time.UTC), 5000)
	env.activity(t, u.ID, 2, "Lunch Ride", "Ride", time.Date(2024, 2, 10, 12, 0, 0, 0, time.UTC), 40000)
	env.activity(t, u.ID, 3, "Evening Run", "Run", time.Date(2024, 3, 5, 18, 0, 0, 0, time.UTC), 10000)
	require.NoError(t, fitsync.RecomputePalette(context.Background(), env.queries, u.ID))

	t.Run("summary", func(t *testing.T) {
		rr := env.do(t, http.MethodGet, base+"/summary?type=Run&start=2024-01-01&end=2024-12-31", "")
		require.Equal(t, http.StatusOK, rr.Code)
		resp := decode[summaryResponse](t, rr)
		assert.Equal(t, 1, resp.Summary.NumActs)
		assert.Equal(t, "10.0", resp.Summary.TotDistKm)

		rr = env.do(t, http.MethodGet, base+"/summary?start=yesterday", "")
		assert.Equal(t, http.StatusBadRequest, rr.Code)
	})

	t.Run("analysis", func(t *testing.T) {
		rr := env.do(t, http.MethodGet, base+"/types/Run/analysis", "")
		require.Equal(t, http.StatusOK, rr.Code)
		resp := decode[map[string]any](t, rr)
		assert.Equal(t, "Run", resp["type"])
		assert.Len(t, resp["years"], 2)
	})

	t.Run("monthly chart", func(t *testing.T) {
		rr := env.do(t, http.MethodGet, base+"/charts/Run/distance/monthly", "")
		require.Equal(t, http.StatusOK, rr.Code)
		resp := decode[map[string]any](t, rr)
		assert.Len(t, resp["labels"], 12)
		assert.Equal(t, []any{2023.0, 2024.0}, resp["years"])
	})

	t.Run("annual chart carries type color", func(t *testing.T) {
		rr := env.do(t, http.MethodGet, base+"/charts/Run/moving_time/annual", "")
		require.Equal(t, http.StatusOK, rr.Code)
		resp := decode[map[string]any](t, rr)
		assert.Equal(t, "#36A2EB", resp["color"])
	})

	t.Run("chart validation", func(t *testing.T) {
		rr := env.do(t, http.MethodGet, base+"/charts/Run/speed/monthly", "")
		assert.Equal(t, http.StatusBadRequest, rr.Code)
		assert.Equal(t, "metric", decode[ErrorResponse](t, rr).Field)

		rr = env.do(t, http.MethodGet, base+"/charts/Run/distance/weekly", "")
		assert.Equal(t, http.StatusBadRequest, rr.Code)
		assert.Equal(t, "span", decode[ErrorResponse](t, rr).Field)
	})

	t.Run("pie", func(t *testing.T) {
		rr := env.do(t, http.MethodGet, base+"/charts/pie", "")
		require.Equal(t, http.StatusOK, rr.Code)
		resp := decode[map[string]any](t, rr)
		assert.Equal(t, []any{"Percent Run", "Percent Ride"}, resp["labels"])
	})

	t.Run("search", func(t *testing.T) {
		rr := env.do(t, http.MethodGet, base+"/search?title=run&types=Run", "")
		require.Equal(t, http.StatusOK, rr.Code)
		resp := decode[searchResponse](t, rr)
		require.Len(t, resp.Results, 2)
		assert.Equal(t, int64(1), resp.Results[0].ID)

		rr = env.do(t, http.MethodGet, base+"/search?distance=-3", "")
		assert.Equal(t, http.StatusBadRequest, rr.Code)
		assert.Equal(t, "distance", decode[ErrorResponse](t, rr).Field)
	})
}

func TestParseSearch(t *testing.T) {
	q, err := parseSearch(url.Values{
		"title":    {" lunch "},
		"types":    {"Run,Ride", "Swim"},
		"distance": {"6.2"},
		"start":    {"2024-01-01"},
	})
	require.NoError(t, err)
	assert.Equal(t, "lunch", q.Title)
	assert.Equal(t, []string{"Run", "Ride", "Swim"}, q.Types)
	assert.Equal(t, 6.2, q.Distance)
	assert.Equal(t, 2024, q.Start.Year())

	_, err = parseSearch(url.Values{"fudge": {"2"}})
	assert.Error(t, err)
}

func TestConnectRedirects(t *testing.T) {
	env := setup(t, "")

	rr := env.do(t, http.MethodGet, "/connect?username=bob", "")
	require.Equal(t, http.StatusFound, rr.Code)
	loc, err := url.Parse(rr.Header().Get("Location"))
	require.NoError(t, err)
	assert.Equal(t, "/oauth/authorize", loc.Path)
	assert.Equal(t, "bob", loc.Query().Get("state"))
	assert.Equal(t, "123", loc.Query().Get("client_id"))
	assert.Equal(t, "activity:read_all", loc.Query().Get("scope"))

	rr = env.do(t, http.MethodGet, "/connect", "")
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestCallback(t *testing.T) {
	tokenServer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		if r.Form.Get("code") != "good-code" {
			w.WriteHeader(http.StatusBadRequest)
			w.Write([]byte(`{"message": "Bad Request"}`))
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{
			"token_type": "Bearer",
			"access_token": "access",
			"refresh_token": "refresh",
			"expires_at": 1893456000,
			"expires_in": 21600,
			"athlete": {"id": 4242, "username": "stravauser"}
		}`))
	}))
	defer tokenServer.Close()
	env := setup(t, tokenServer.URL)

	rr := env.do(t, http.MethodGet, "/callback?code=good-code&state=bob", "")
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	resp := decode[callbackResponse](t, rr)
	assert.Equal(t, "bob", resp.User.Username)
	assert.Equal(t, int64(4242), resp.User.AthleteID)
	assert.True(t, resp.Created)
	assert.Equal(t, workers.KindSync, resp.Job.Kind)

	grant := env.grants.grants[resp.User.ID]
	require.NotNil(t, grant)
	assert.Equal(t, "refresh", grant.RefreshToken)
	assert.Equal(t, int64(1893456000), grant.ExpiresAt)

	rr = env.do(t, http.MethodGet, "/callback?code=bad-code&state=bob", "")
	assert.Equal(t, http.StatusBadGateway, rr.Code)

	rr = env.do(t, http.MethodGet, "/callback?error=access_denied&state=bob", "")
	assert.Equal(t, http.StatusForbidden, rr.Code)
}

func TestMetricsAndRequestObserver(t *testing.T) {
	env := setup(t, "")
	u := env.user(t, "runner", 1)

	env.do(t, http.MethodGet, "/users/"+itoa(u.ID), "")
	rr := env.do(t, http.MethodGet, "/metrics", "")
	assert.Equal(t, http.StatusOK, rr.Code)

	// Routes are reported by pattern, never by concrete path.
	assert.Contains(t, env.observer.requests, "GET /metrics")
	var sawUser bool
	for _, r := range env.observer.requests {
		assert.NotContains(t, r, "/users/"+itoa(u.ID))
		sawUser = sawUser || strings.HasPrefix(r, "GET /users/{userID}")
	}
	assert.True(t, sawUser, "%v", env.observer.requests)
}

func itoa(id int64) string {
	return strconv.FormatInt(id, 10)
}
