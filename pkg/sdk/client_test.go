package sdk_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Ramsey-B/clover/pkg/evaluation"
	"github.com/Ramsey-B/clover/pkg/models"
	"github.com/Ramsey-B/clover/pkg/sdk"
)

func serverSnapshot(flagKey string, enabled bool, rollout int) models.Snapshot {
	flagID := uuid.New()
	return models.Snapshot{
		Flag: models.Flag{
			ID:       flagID,
			Key:      flagKey,
			Name:     flagKey,
			FlagType: models.FlagTypeBoolean,
			Active:   true,
		},
		Config: models.FlagConfig{
			ID:                uuid.New(),
			FlagID:            flagID,
			Environment:       "production",
			Enabled:           enabled,
			DefaultVariant:    "false",
			RolloutPercentage: rollout,
		},
		Variants: []models.Variant{
			{FlagID: flagID, VariantKey: "true", Value: "true", Weight: 100},
			{FlagID: flagID, VariantKey: "false", Value: "false", Weight: 0},
		},
	}
}

// configServer serves /sdk/config with ETag semantics and /evaluate with a
// canned result, tracking request counts.
type configServer struct {
	mu          sync.Mutex
	flags       map[string]models.Snapshot
	etag        string
	configCalls int32
	evalCalls   int32
	failConfig  atomic.Bool
	server      *httptest.Server
}

func newConfigServer(t *testing.T) *configServer {
	t.Helper()

	cs := &configServer{flags: map[string]models.Snapshot{}, etag: `"v1"`}

	mux := http.NewServeMux()
	mux.HandleFunc("/sdk/config", func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&cs.configCalls, 1)
		if cs.failConfig.Load() {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}

		cs.mu.Lock()
		etag := cs.etag
		payload := evaluation.SDKConfig{
			Environment:    "production",
			PollIntervalMs: 50,
			Flags:          cs.flags,
			GeneratedAt:    time.Now().UTC(),
		}
		cs.mu.Unlock()

		if r.Header.Get("If-None-Match") == etag {
			w.WriteHeader(http.StatusNotModified)
			return
		}
		w.Header().Set("ETag", etag)
		_ = json.NewEncoder(w).Encode(payload)
	})
	mux.HandleFunc("/evaluate", func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&cs.evalCalls, 1)
		var req evaluation.Request
		_ = json.NewDecoder(r.Body).Decode(&req)
		_ = json.NewEncoder(w).Encode(evaluation.Result{
			FlagKey:   req.FlagKey,
			Value:     true,
			Reason:    "full_rollout",
			Timestamp: time.Now().UTC(),
		})
	})

	cs.server = httptest.NewServer(mux)
	t.Cleanup(cs.server.Close)
	return cs
}

func (cs *configServer) setFlags(etag string, flags map[string]models.Snapshot) {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	cs.etag = etag
	cs.flags = flags
}

func newClient(t *testing.T, cs *configServer, mutate func(*sdk.Options)) *sdk.Client {
	t.Helper()

	opts := sdk.Options{
		BaseURL:               cs.server.URL,
		Environment:           "production",
		PollInterval:          20 * time.Millisecond,
		Timeout:               time.Second,
		EnableLocalEvaluation: true,
	}
	if mutate != nil {
		mutate(&opts)
	}

	client, err := sdk.New(opts)
	require.NoError(t, err)
	t.Cleanup(client.Destroy)
	return client
}

func TestClient_ReadyAfterInitialFetch(t *testing.T) {
	cs := newConfigServer(t)
	cs.setFlags(`"v1"`, map[string]models.Snapshot{
		"dark_mode": serverSnapshot("dark_mode", true, 100),
	})

	readyCh := make(chan struct{})
	client := newClient(t, cs, nil)
	client.On(sdk.EventReady, func(sdk.Event) { close(readyCh) })

	// The ready event may have fired before the handler registered; poll the
	// state instead of requiring the event.
	require.Eventually(t, func() bool {
		return client.State() == sdk.StateReady
	}, time.Second, 5*time.Millisecond)

	value := client.EvaluateFlag(context.Background(), "dark_mode", models.UserContext{UserID: "u1"}, false)
	assert.Equal(t, true, value)

	// Local evaluation: the remote endpoint was never hit.
	assert.Equal(t, int32(0), atomic.LoadInt32(&cs.evalCalls))
}

func TestClient_RemoteFallbackWhenFlagUnknown(t *testing.T) {
	cs := newConfigServer(t)

	client := newClient(t, cs, nil)
	require.Eventually(t, func() bool {
		return client.State() == sdk.StateReady
	}, time.Second, 5*time.Millisecond)

	value := client.EvaluateFlag(context.Background(), "not_in_snapshot", models.UserContext{UserID: "u1"}, false)
	assert.Equal(t, true, value)
	assert.Greater(t, atomic.LoadInt32(&cs.evalCalls), int32(0))
}

func TestClient_InitialPollFailureStaysUsable(t *testing.T) {
	cs := newConfigServer(t)
	cs.failConfig.Store(true)

	var errorEvents int32
	var evalErrors int32

	client := newClient(t, cs, func(o *sdk.Options) {
		o.BaseURL = cs.server.URL
	})
	client.On(sdk.EventError, func(sdk.Event) { atomic.AddInt32(&errorEvents, 1) })
	client.On(sdk.EventEvaluationError, func(sdk.Event) { atomic.AddInt32(&evalErrors, 1) })

	// The client transitions to polling despite the failed initial fetch.
	require.Eventually(t, func() bool {
		return client.State() == sdk.StatePolling
	}, time.Second, 5*time.Millisecond)

	// Remote evaluation still works (the /evaluate endpoint is healthy).
	value := client.EvaluateFlag(context.Background(), "x", models.UserContext{UserID: "u"}, true)
	assert.Equal(t, true, value)

	// Once the server recovers, the next poll picks up the config and local
	// evaluation proceeds.
	cs.setFlags(`"v2"`, map[string]models.Snapshot{
		"x": serverSnapshot("x", true, 100),
	})
	updated := make(chan struct{}, 1)
	client.On(sdk.EventConfigUpdated, func(sdk.Event) {
		select {
		case updated <- struct{}{}:
		default:
		}
	})
	cs.failConfig.Store(false)

	select {
	case <-updated:
	case <-time.After(2 * time.Second):
		t.Fatal("configUpdated never fired after server recovery")
	}

	before := atomic.LoadInt32(&cs.evalCalls)
	value = client.EvaluateFlag(context.Background(), "x", models.UserContext{UserID: "u"}, false)
	assert.Equal(t, true, value)
	assert.Equal(t, before, atomic.LoadInt32(&cs.evalCalls), "expected local evaluation after recovery")
}

func TestClient_EvaluationErrorFallsBackToDefault(t *testing.T) {
	// A server that is down entirely.
	cs := newConfigServer(t)
	cs.server.Close()

	var evalErr atomic.Value
	client, err := sdk.New(sdk.Options{
		BaseURL:      cs.server.URL,
		PollInterval: time.Hour,
		Timeout:      100 * time.Millisecond,
	})
	require.NoError(t, err)
	defer client.Destroy()

	client.On(sdk.EventEvaluationError, func(e sdk.Event) { evalErr.Store(e) })

	value := client.EvaluateFlag(context.Background(), "x", models.UserContext{
		UserID:     "u",
		Attributes: map[string]any{"email": "secret@example.com"},
	}, "the-default")
	assert.Equal(t, "the-default", value)

	require.Eventually(t, func() bool { return evalErr.Load() != nil }, time.Second, 5*time.Millisecond)

	evt := evalErr.Load().(sdk.Event)
	assert.Equal(t, "x", evt.Payload["flag_key"])
	assert.Equal(t, "the-default", evt.Payload["default"])
	// The raw attribute map is redacted to a token.
	assert.NotContains(t, evt.Payload, "attributes")
	assert.NotEmpty(t, evt.Payload["user_token"])
}

func TestClient_FallbackValues(t *testing.T) {
	cs := newConfigServer(t)
	cs.server.Close()

	client, err := sdk.New(sdk.Options{
		BaseURL:        cs.server.URL,
		PollInterval:   time.Hour,
		Timeout:        50 * time.Millisecond,
		FallbackValues: map[string]any{"greeting": "hello"},
	})
	require.NoError(t, err)
	defer client.Destroy()

	value := client.EvaluateFlag(context.Background(), "greeting", models.UserContext{}, nil)
	assert.Equal(t, "hello", value)
}

func TestClient_EvaluateFlags_Concurrent(t *testing.T) {
	cs := newConfigServer(t)
	cs.setFlags(`"v1"`, map[string]models.Snapshot{
		"a": serverSnapshot("a", true, 100),
		"b": serverSnapshot("b", false, 0),
	})

	client := newClient(t, cs, nil)
	require.Eventually(t, func() bool {
		return client.State() == sdk.StateReady
	}, time.Second, 5*time.Millisecond)

	results := client.EvaluateFlags(context.Background(),
		[]string{"a", "b"},
		models.UserContext{UserID: "u1"},
		map[string]any{"a": false, "b": false},
	)

	assert.Equal(t, true, results["a"])
	assert.Equal(t, false, results["b"])
}

func TestClient_AnalyticsBufferAndFlush(t *testing.T) {
	cs := newConfigServer(t)
	cs.setFlags(`"v1"`, map[string]models.Snapshot{
		"dark_mode": serverSnapshot("dark_mode", true, 100),
	})

	client := newClient(t, cs, func(o *sdk.Options) {
		o.EnableAnalytics = true
	})
	require.Eventually(t, func() bool {
		return client.State() == sdk.StateReady
	}, time.Second, 5*time.Millisecond)

	for i := 0; i < 5; i++ {
		client.EvaluateFlag(context.Background(), "dark_mode", models.UserContext{
			UserID:     "u1",
			Attributes: map[string]any{"plan": "pro"},
		}, false)
	}
	assert.Equal(t, 5, client.PendingAnalytics())

	flushed := make(chan int, 1)
	client.On(sdk.EventAnalyticsFlush, func(e sdk.Event) {
		select {
		case flushed <- e.Payload["count"].(int):
		default:
		}
	})

	records := client.FlushAnalytics()
	require.Len(t, records, 5)
	assert.Equal(t, 0, client.PendingAnalytics())

	select {
	case count := <-flushed:
		assert.Equal(t, 5, count)
	case <-time.After(time.Second):
		t.Fatal("analyticsFlush never fired")
	}

	// Records carry the hash token, never the attribute map.
	for _, record := range records {
		assert.NotEmpty(t, record.UserToken)
		assert.Equal(t, "dark_mode", record.FlagKey)
	}

	// The token is stable for the same context.
	assert.Equal(t, records[0].UserToken, records[1].UserToken)
}

func TestClient_DestroyStopsEverything(t *testing.T) {
	cs := newConfigServer(t)

	client := newClient(t, cs, nil)
	require.Eventually(t, func() bool {
		return client.State() == sdk.StateReady
	}, time.Second, 5*time.Millisecond)

	client.Destroy()
	assert.Equal(t, sdk.StateDestroyed, client.State())

	calls := atomic.LoadInt32(&cs.configCalls)
	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, calls, atomic.LoadInt32(&cs.configCalls), "polling continued after Destroy")

	// Evaluations return the default without touching the network.
	value := client.EvaluateFlag(context.Background(), "anything", models.UserContext{}, "fallback")
	assert.Equal(t, "fallback", value)
}

func TestClient_ConditionalPollUses304(t *testing.T) {
	cs := newConfigServer(t)
	cs.setFlags(`"v1"`, map[string]models.Snapshot{
		"dark_mode": serverSnapshot("dark_mode", true, 100),
	})

	var updates int32
	client := newClient(t, cs, nil)
	client.On(sdk.EventConfigUpdated, func(sdk.Event) { atomic.AddInt32(&updates, 1) })

	require.Eventually(t, func() bool {
		return atomic.LoadInt32(&cs.configCalls) >= 3
	}, 2*time.Second, 5*time.Millisecond)

	// Polls after the first are 304s: configUpdated fires at most once more
	// after handler registration.
	assert.LessOrEqual(t, atomic.LoadInt32(&updates), int32(1))
	client.Destroy()
}
