// Package studysync is a client-side synchronization layer for study data
// servers. It keeps a normalized in-memory cache of the server's entity
// graph, runs remote operations through a request dispatcher, and polls
// job-backed entities while they are being watched.
package studysync

import (
	"context"
	"fmt"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/studylab/studysync/pkg/api"
	"github.com/studylab/studysync/pkg/auth"
	"github.com/studylab/studysync/pkg/config"
	"github.com/studylab/studysync/pkg/dispatch"
	"github.com/studylab/studysync/pkg/metrics"
	"github.com/studylab/studysync/pkg/models"
	"github.com/studylab/studysync/pkg/normalize"
	"github.com/studylab/studysync/pkg/poll"
	"github.com/studylab/studysync/pkg/store"
	"github.com/studylab/studysync/pkg/store/selectors"
)

// Client wires the sync layer together: API client, credential state,
// entity store, dispatcher and poller.
type Client struct {
	cfg     *config.Config
	logger  *zap.Logger
	metrics *metrics.Metrics

	store    *store.Store
	views    *selectors.Views
	auth     *auth.Manager
	api      *api.Client
	dispatch *dispatch.Dispatcher
	poller   *poll.Poller

	ownsLogger bool
}

type options struct {
	logger     *zap.Logger
	registerer prometheus.Registerer
	httpClient *http.Client
}

type Option func(*options)

// WithLogger supplies a logger; by default the client builds a production
// zap logger and owns its lifecycle.
func WithLogger(l *zap.Logger) Option {
	return func(o *options) { o.logger = l }
}

// WithMetrics registers the client's instruments on reg. Without it no
// metrics are recorded.
func WithMetrics(reg prometheus.Registerer) Option {
	return func(o *options) { o.registerer = reg }
}

// WithHTTPClient overrides the HTTP client used for API calls.
func WithHTTPClient(hc *http.Client) Option {
	return func(o *options) { o.httpClient = hc }
}

// New builds the sync layer from cfg.
func New(cfg *config.Config, opts ...Option) (*Client, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	var o options
	for _, opt := range opts {
		opt(&o)
	}

	c := &Client{cfg: cfg, logger: o.logger}
	if c.logger == nil {
		logger, err := zap.NewProduction()
		if err != nil {
			return nil, fmt.Errorf("build logger: %w", err)
		}
		c.logger = logger
		c.ownsLogger = true
	}

	c.metrics = metrics.New(o.registerer)
	c.store = store.New()
	c.views = selectors.New(c.store)

	c.auth = auth.NewManager(c.logger)
	c.auth.OnClear(c.store.Reset)

	httpClient := o.httpClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: cfg.HTTPTimeout}
	}
	c.api = api.New(cfg.BaseURL, c.auth, c.logger, api.WithHTTPClient(httpClient))

	c.dispatch = dispatch.New(c.api, c.store, c.logger, c.metrics)

	c.poller = poll.New(c.store, c.logger, c.metrics)
	c.poller.Register(models.KindDataset, cfg.Poll.DatasetInterval, func(ctx context.Context, id string) (*normalize.Payload, error) {
		raw, err := c.api.GetDataset(ctx, id)
		if err != nil {
			return nil, err
		}
		return normalize.Normalize(raw, normalize.Dataset)
	})
	c.poller.Register(models.KindSignal, cfg.Poll.SignalInterval, func(ctx context.Context, id string) (*normalize.Payload, error) {
		raw, err := c.api.GetSignal(ctx, id)
		if err != nil {
			return nil, err
		}
		return normalize.Normalize(raw, normalize.Signal)
	})
	c.poller.Register(models.KindAnalysisResult, cfg.Poll.AnalysisInterval, func(ctx context.Context, id string) (*normalize.Payload, error) {
		raw, err := c.api.GetAnalysisResult(ctx, id)
		if err != nil {
			return nil, err
		}
		return normalize.Normalize(raw, normalize.AnalysisResult)
	})

	return c, nil
}

// Login authenticates against the server and stores the issued token.
func (c *Client) Login(ctx context.Context, username, password string) error {
	resp, err := c.api.Login(ctx, username, password)
	if err != nil {
		return err
	}
	c.auth.SetToken(resp.Key)
	return nil
}

// Logout invalidates the token server-side, then clears credentials and the
// entity store locally. Local state is cleared even when the server call
// fails.
func (c *Client) Logout(ctx context.Context) error {
	err := c.api.Logout(ctx)
	c.auth.Clear()
	return err
}

// Authenticated reports whether a token is held.
func (c *Client) Authenticated() bool {
	return c.auth.Authenticated()
}

// Store exposes the entity store for direct reads and request state.
func (c *Client) Store() *store.Store { return c.store }

// Views exposes the memoized derived views over the store.
func (c *Client) Views() *selectors.Views { return c.views }

// Dispatch exposes the remote operation dispatcher.
func (c *Client) Dispatch() *dispatch.Dispatcher { return c.dispatch }

// Poller exposes the watch coordinator for job-backed entities.
func (c *Client) Poller() *poll.Poller { return c.poller }

// Close stops the poll loops, waits for in-flight operations, and releases
// the logger if the client owns it.
func (c *Client) Close() {
	c.poller.Close()
	c.dispatch.Wait()
	if c.ownsLogger {
		_ = c.logger.Sync()
	}
}
