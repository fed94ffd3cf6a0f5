package sdk

import (
	"errors"
	"net/http"
	"time"

	"github.com/Gobusters/ectologger"

	"github.com/Ramsey-B/clover/pkg/models"
)

const (
	// DefaultPollInterval is how often the client re-fetches config.
	DefaultPollInterval = 30 * time.Second

	// DefaultTimeout bounds each remote call.
	DefaultTimeout = 5 * time.Second
)

// Options configures a Client.
type Options struct {
	// APIKey is sent with remote evaluation requests.
	APIKey string

	// BaseURL is the evaluation service root, e.g. "http://localhost:3002".
	BaseURL string

	// Environment selects which config set to poll. Defaults to production.
	Environment string

	// PollInterval is how often to issue the conditional config fetch.
	PollInterval time.Duration

	// Timeout bounds each remote call.
	Timeout time.Duration

	// EnableAnalytics buffers evaluation records for later flush.
	EnableAnalytics bool

	// EnableLocalEvaluation evaluates from the local snapshot when it holds
	// the flag, avoiding the network on the hot path.
	EnableLocalEvaluation bool

	// FallbackValues override the per-call default when a flag key is listed.
	FallbackValues map[string]any

	// Logger receives client diagnostics. Optional.
	Logger ectologger.Logger

	// HTTPClient overrides the transport. Optional.
	HTTPClient *http.Client
}

func (o *Options) withDefaults() (*Options, error) {
	if o.BaseURL == "" {
		return nil, errors.New("sdk: BaseURL is required")
	}

	out := *o
	if out.Environment == "" {
		out.Environment = models.EnvProduction
	}
	if out.PollInterval <= 0 {
		out.PollInterval = DefaultPollInterval
	}
	if out.Timeout <= 0 {
		out.Timeout = DefaultTimeout
	}
	if out.Logger == nil {
		out.Logger = ectologger.NewEctoLogger(func(_ ectologger.EctoLogMessage) {})
	}
	if out.HTTPClient == nil {
		out.HTTPClient = &http.Client{Timeout: out.Timeout}
	}
	return &out, nil
}
