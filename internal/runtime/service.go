package runtime

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"workspace-realtime/internal/client"
	"workspace-realtime/internal/config"
	"workspace-realtime/internal/credstore"
	"workspace-realtime/internal/events"
	"workspace-realtime/internal/logging"
	"workspace-realtime/internal/realtime"
)

const defaultHTTPTimeout = 10 * time.Second

var errNoCredentials = errors.New("no stored credentials; pass --email and --password to sign in")

// Service signs in if needed, keeps the realtime stream open for one
// workspace and reconnects when another process rotates the stored
// credentials.
type Service struct {
	opts      config.Options
	logger    *logging.Logger
	hooks     StartHooks
	store     *credstore.File
	client    *client.Client
	manager   *realtime.Manager
	frames    *events.Listener
	signedOut chan error
}

func NewService(opts config.Options, logger *logging.Logger) (*Service, error) {
	return NewServiceWithHooks(opts, logger, StartHooks{})
}

func NewServiceWithHooks(opts config.Options, logger *logging.Logger, hooks StartHooks) (*Service, error) {
	if logger == nil {
		panic("runtime.NewServiceWithHooks: logger must not be nil")
	}
	if err := config.ValidateRequired(opts); err != nil {
		return nil, err
	}

	endpoints, err := config.BuildEndpoints(opts.APIURL, opts.WSURL)
	if err != nil {
		return nil, err
	}
	logger.Debug("constructed API endpoints",
		logging.Field("api_base_url", endpoints.APIBaseURL),
		logging.Field("refresh_url", endpoints.RefreshURL),
		logging.Field("realtime_url", endpoints.RealtimeURL),
	)

	store, err := credstore.NewFile(opts.CredentialsFile, logger)
	if err != nil {
		return nil, err
	}

	s := &Service{
		opts:      opts,
		logger:    logger,
		hooks:     hooks,
		store:     store,
		signedOut: make(chan error, 1),
	}
	s.frames = events.NewListener(s.onFrame)
	s.manager = realtime.New(realtime.Options{
		URL:    endpoints.RealtimeURL,
		Dialer: hooks.Dialer,
	}, store, logger)
	s.client = client.New(&http.Client{Timeout: defaultHTTPTimeout}, endpoints, store, logger, s.onSignedOut)
	return s, nil
}

func (s *Service) Manager() *realtime.Manager { return s.manager }

func (s *Service) Client() *client.Client { return s.client }

func (s *Service) onSignedOut(err error) {
	s.manager.Disconnect()
	select {
	case s.signedOut <- err:
	default:
	}
}

func (s *Service) RunContext(ctx context.Context) error {
	s.logger.Info("realtime service starting",
		logging.Field("workspace_id", s.opts.Workspace),
		logging.Field("credentials_file", s.store.Path()),
	)

	if err := s.ensureSignedIn(ctx); err != nil {
		return err
	}
	// Me goes through the guard, so an expired access credential is renewed
	// before the socket presents it.
	me, err := s.client.Me(ctx)
	if err != nil {
		return fmt.Errorf("failed to load account: %w", err)
	}
	s.logger.Debug("account loaded", logging.Field("response", me))

	s.manager.On(events.Wildcard, s.frames)
	s.manager.Connect(s.opts.Workspace, s.store.Get().Access)

	watchErr := make(chan error, 1)
	go func() {
		watchErr <- credstore.Watch(ctx, s.store.Path(), s.logger, s.onCredentialsChanged)
	}()

	select {
	case <-ctx.Done():
		s.manager.Disconnect()
		return ctx.Err()
	case err := <-s.signedOut:
		return fmt.Errorf("%w: %w", client.ErrSignedOut, err)
	case err := <-watchErr:
		s.manager.Disconnect()
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("credential watcher stopped: %w", err)
	}
}

func (s *Service) ensureSignedIn(ctx context.Context) error {
	if !s.store.Get().Empty() {
		return nil
	}
	if s.opts.Email == "" {
		return errNoCredentials
	}
	if _, err := s.client.Login(ctx, s.opts.Email, s.opts.Password); err != nil {
		return fmt.Errorf("sign-in failed: %w", err)
	}
	return nil
}

func (s *Service) onFrame(frame events.Frame) {
	s.logger.Debug("realtime frame",
		logging.Field("type", frame.Type),
		logging.Field("frame", frame.Raw),
	)
	if s.hooks.OnFrame != nil {
		s.hooks.OnFrame(frame)
	}
}

// onCredentialsChanged restarts a stream that gave up once another process
// stores a usable pair. Live sessions pick the new credential up on their
// next reconnect.
func (s *Service) onCredentialsChanged(pair credstore.Pair) {
	if pair.Empty() {
		s.logger.Info("stored credentials removed")
		return
	}
	state := s.manager.State()
	if state.Live() {
		return
	}
	s.logger.Info("stored credentials rotated; reconnecting", logging.Field("state", state.Key()))
	s.manager.On(events.Wildcard, s.frames)
	s.manager.Connect(s.opts.Workspace, pair.Access)
}
