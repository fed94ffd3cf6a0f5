// Package sdk is the client companion to the evaluation service. It keeps an
// eventually-consistent local snapshot via ETag-conditional polling,
// evaluates locally with the same rule engine the server runs, falls back to
// remote evaluation, and falls back to the caller's default on any failure.
package sdk

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/Ramsey-B/clover/pkg/engine"
	"github.com/Ramsey-B/clover/pkg/evaluation"
	"github.com/Ramsey-B/clover/pkg/models"
)

// State is the client lifecycle state.
type State string

const (
	StateInitializing State = "initializing"
	StateReady        State = "ready"
	StatePolling      State = "polling"
	StateDestroyed    State = "destroyed"
)

// Client is a Clover SDK instance. Create one per process and share it.
type Client struct {
	opts      *Options
	engine    *engine.Engine
	emitter   *emitter
	analytics *analyticsBuffer

	mu           sync.RWMutex
	flags        map[string]models.Snapshot
	etag         string
	state        State
	pollInterval time.Duration

	stopOnce sync.Once
	stopCh   chan struct{}
	doneCh   chan struct{}
}

// New creates a client and starts its polling loop. The client is usable
// immediately: until the first config fetch lands, evaluations go remote.
func New(opts Options) (*Client, error) {
	o, err := opts.withDefaults()
	if err != nil {
		return nil, err
	}

	c := &Client{
		opts:         o,
		engine:       engine.New(),
		emitter:      newEmitter(),
		analytics:    newAnalyticsBuffer(),
		flags:        make(map[string]models.Snapshot),
		state:        StateInitializing,
		pollInterval: o.PollInterval,
		stopCh:       make(chan struct{}),
		doneCh:       make(chan struct{}),
	}

	go c.run()
	return c, nil
}

// On subscribes a handler to one of the client's event streams.
func (c *Client) On(eventType EventType, handler Handler) {
	c.emitter.on(eventType, handler)
}

// State returns the current lifecycle state.
func (c *Client) State() State {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state
}

func (c *Client) setState(state State) {
	c.mu.Lock()
	c.state = state
	c.mu.Unlock()
}

// run drives the initial fetch and the recurring conditional poll.
func (c *Client) run() {
	defer close(c.doneCh)

	ctx, cancel := context.WithTimeout(context.Background(), c.opts.Timeout)
	err := c.fetchConfig(ctx)
	cancel()

	if err != nil {
		// The client stays usable with remote fallback even when the first
		// poll fails.
		c.opts.Logger.WithError(err).Warn("initial config fetch failed")
		c.emitter.emit(EventError, map[string]any{"error": err.Error()})
		c.setState(StatePolling)
	} else {
		c.setState(StateReady)
		c.emitter.emit(EventReady, map[string]any{"environment": c.opts.Environment})
	}

	for {
		timer := time.NewTimer(c.currentPollInterval())
		select {
		case <-c.stopCh:
			timer.Stop()
			return
		case <-timer.C:
			ctx, cancel := context.WithTimeout(context.Background(), c.opts.Timeout)
			if err := c.fetchConfig(ctx); err != nil {
				// A cancelled or failed poll is non-fatal; the next tick retries.
				c.opts.Logger.WithError(err).Debug("config poll failed")
				c.emitter.emit(EventPollError, map[string]any{"error": err.Error()})
			}
			cancel()
		}
	}
}

func (c *Client) currentPollInterval() time.Duration {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.pollInterval
}

// fetchConfig issues the ETag-conditional config fetch. A 304 is a no-op; a
// 200 replaces the local snapshot set.
func (c *Client) fetchConfig(ctx context.Context) error {
	endpoint := fmt.Sprintf("%s/sdk/config?environment=%s", c.opts.BaseURL, url.QueryEscape(c.opts.Environment))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return err
	}
	c.mu.RLock()
	if c.etag != "" {
		req.Header.Set("If-None-Match", c.etag)
	}
	c.mu.RUnlock()
	if c.opts.APIKey != "" {
		req.Header.Set("X-API-Key", c.opts.APIKey)
	}

	resp, err := c.opts.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusNotModified:
		return nil
	case http.StatusOK:
		// fall through to decode
	default:
		io.Copy(io.Discard, resp.Body)
		return fmt.Errorf("config fetch returned status %d", resp.StatusCode)
	}

	var payload evaluation.SDKConfig
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return fmt.Errorf("failed to decode config payload: %w", err)
	}

	c.mu.Lock()
	c.flags = payload.Flags
	c.etag = resp.Header.Get("ETag")
	if payload.PollIntervalMs > 0 {
		c.pollInterval = time.Duration(payload.PollIntervalMs) * time.Millisecond
	}
	flagCount := len(c.flags)
	c.mu.Unlock()

	c.emitter.emit(EventConfigUpdated, map[string]any{
		"environment": c.opts.Environment,
		"flag_count":  flagCount,
	})
	return nil
}

// EvaluateFlag returns the flag's value for the context, or defaultValue on
// any failure. Local evaluation is preferred when the snapshot holds the
// flag; otherwise the call goes to the evaluation service.
func (c *Client) EvaluateFlag(ctx context.Context, flagKey string, user models.UserContext, defaultValue any) any {
	if defaultValue == nil {
		if fallback, ok := c.opts.FallbackValues[flagKey]; ok {
			defaultValue = fallback
		}
	}

	if c.State() == StateDestroyed {
		return defaultValue
	}

	if c.opts.EnableLocalEvaluation {
		if snap, ok := c.localSnapshot(flagKey); ok {
			return c.evaluateLocal(snap, flagKey, user, defaultValue)
		}
	}

	return c.evaluateRemote(ctx, flagKey, user, defaultValue)
}

func (c *Client) localSnapshot(flagKey string) (*models.Snapshot, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	snap, ok := c.flags[flagKey]
	if !ok {
		return nil, false
	}
	return &snap, true
}

func (c *Client) evaluateLocal(snap *models.Snapshot, flagKey string, user models.UserContext, defaultValue any) (value any) {
	defer func() {
		if r := recover(); r != nil {
			c.emitEvaluationError(flagKey, fmt.Sprintf("local evaluation panic: %v", r), user, defaultValue)
			value = defaultValue
		}
	}()

	decision := c.engine.Evaluate(snap, user)
	value = engine.TypedValue(snap, decision, defaultValue)

	c.recordEvaluation(flagKey, value, string(decision.Reason), user, true)
	return value
}

func (c *Client) evaluateRemote(ctx context.Context, flagKey string, user models.UserContext, defaultValue any) any {
	body, err := json.Marshal(evaluation.Request{
		FlagKey:      flagKey,
		UserContext:  user,
		Environment:  c.opts.Environment,
		DefaultValue: defaultValue,
	})
	if err != nil {
		c.emitEvaluationError(flagKey, err.Error(), user, defaultValue)
		return defaultValue
	}

	ctx, cancel := context.WithTimeout(ctx, c.opts.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.opts.BaseURL+"/evaluate", bytes.NewReader(body))
	if err != nil {
		c.emitEvaluationError(flagKey, err.Error(), user, defaultValue)
		return defaultValue
	}
	req.Header.Set("Content-Type", "application/json")
	if c.opts.APIKey != "" {
		req.Header.Set("X-API-Key", c.opts.APIKey)
	}

	resp, err := c.opts.HTTPClient.Do(req)
	if err != nil {
		c.emitEvaluationError(flagKey, err.Error(), user, defaultValue)
		return defaultValue
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		io.Copy(io.Discard, resp.Body)
		c.emitEvaluationError(flagKey, fmt.Sprintf("remote evaluation returned status %d", resp.StatusCode), user, defaultValue)
		return defaultValue
	}

	var result evaluation.Result
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		c.emitEvaluationError(flagKey, err.Error(), user, defaultValue)
		return defaultValue
	}

	value := result.Value
	if value == nil {
		value = defaultValue
	}

	c.recordEvaluation(flagKey, value, result.Reason, user, false)
	return value
}

// EvaluateFlags evaluates a set of flags concurrently and returns a keyed
// result map. Defaults are looked up per key from the defaults map.
func (c *Client) EvaluateFlags(ctx context.Context, flagKeys []string, user models.UserContext, defaults map[string]any) map[string]any {
	results := make(map[string]any, len(flagKeys))

	var mu sync.Mutex
	var wg sync.WaitGroup
	for _, flagKey := range flagKeys {
		wg.Add(1)
		go func(key string) {
			defer wg.Done()
			value := c.EvaluateFlag(ctx, key, user, defaults[key])
			mu.Lock()
			results[key] = value
			mu.Unlock()
		}(flagKey)
	}
	wg.Wait()

	return results
}

func (c *Client) recordEvaluation(flagKey string, value any, reason string, user models.UserContext, local bool) {
	c.emitter.emit(EventEvaluation, map[string]any{
		"flag_key": flagKey,
		"value":    value,
		"reason":   reason,
		"local":    local,
	})

	if !c.opts.EnableAnalytics {
		return
	}
	c.analytics.add(AnalyticsRecord{
		FlagKey:   flagKey,
		Value:     value,
		Reason:    reason,
		UserToken: userToken(user),
		Local:     local,
		Timestamp: time.Now().UTC(),
	})
}

// emitEvaluationError reports a degraded evaluation. The context is redacted
// to its hash token; raw attributes never leave the process.
func (c *Client) emitEvaluationError(flagKey, cause string, user models.UserContext, defaultValue any) {
	c.opts.Logger.Warnf("evaluation of %s degraded to default: %s", flagKey, cause)
	c.emitter.emit(EventEvaluationError, map[string]any{
		"flag_key":   flagKey,
		"cause":      cause,
		"default":    defaultValue,
		"user_token": userToken(user),
	})
}

// FlushAnalytics drains the buffer, emits the snapshot on the analyticsFlush
// stream, and returns the drained records.
func (c *Client) FlushAnalytics() []AnalyticsRecord {
	records := c.analytics.drain()
	c.emitter.emit(EventAnalyticsFlush, map[string]any{
		"count":   len(records),
		"records": records,
	})
	return records
}

// PendingAnalytics reports the buffered record count.
func (c *Client) PendingAnalytics() int {
	return c.analytics.len()
}

// Destroy stops polling, flushes pending analytics, and removes listeners.
// The client only returns defaults afterwards.
func (c *Client) Destroy() {
	c.stopOnce.Do(func() {
		close(c.stopCh)
		<-c.doneCh

		if c.opts.EnableAnalytics {
			c.FlushAnalytics()
		}

		c.setState(StateDestroyed)
		c.emitter.removeAll()
	})
}
