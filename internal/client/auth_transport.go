package client

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"

	"workspace-realtime/internal/credstore"
	"workspace-realtime/internal/logging"
)

// AuthTransport attaches the stored access credential to every request and
// recovers from one expired credential per request: on a 401 it renews the
// pair and replays the request exactly once.
type AuthTransport struct {
	base        http.RoundTripper
	store       credstore.Store
	renewer     Renewer
	logger      *logging.Logger
	onSignedOut func(error)

	// Serializes renewals so concurrent 401s spend the renewal credential once.
	renewMu sync.Mutex
}

func NewAuthTransport(base http.RoundTripper, store credstore.Store, renewer Renewer, logger *logging.Logger, onSignedOut func(error)) *AuthTransport {
	if logger == nil {
		panic("client.NewAuthTransport: logger must not be nil")
	}
	if base == nil {
		base = http.DefaultTransport
	}
	return &AuthTransport{
		base:        base,
		store:       store,
		renewer:     renewer,
		logger:      logger,
		onSignedOut: onSignedOut,
	}
}

func (t *AuthTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	return t.roundTrip(req, 0)
}

func (t *AuthTransport) roundTrip(req *http.Request, attempt int) (*http.Response, error) {
	access := t.store.Get().Access
	out := req.Clone(req.Context())
	if attempt > 0 && req.GetBody != nil {
		body, err := req.GetBody()
		if err != nil {
			return nil, fmt.Errorf("replay request body: %w", err)
		}
		out.Body = body
	}
	if access != "" {
		out.Header.Set("Authorization", "Bearer "+access)
	} else {
		out.Header.Del("Authorization")
	}

	resp, err := t.base.RoundTrip(out)
	if err != nil || resp.StatusCode != http.StatusUnauthorized || attempt > 0 {
		return resp, err
	}
	if !replayable(req) {
		t.logger.Debug("request rejected with 401 but body cannot be replayed",
			logging.Field("method", req.Method),
			logging.Field("url", req.URL.String()),
		)
		return resp, nil
	}

	drainAndClose(resp.Body)
	t.logger.Debug("access credential rejected; renewing",
		logging.Field("method", req.Method),
		logging.Field("url", req.URL.String()),
	)
	if err := t.renew(req.Context(), access); err != nil {
		return nil, err
	}
	return t.roundTrip(req, attempt+1)
}

// renew replaces the stored pair unless another request already did so
// since rejectedAccess was read.
func (t *AuthTransport) renew(ctx context.Context, rejectedAccess string) error {
	t.renewMu.Lock()
	defer t.renewMu.Unlock()

	current := t.store.Get()
	if current.Access != rejectedAccess {
		if current.Empty() {
			return ErrSignedOut
		}
		return nil
	}

	next, err := t.renewer.Renew(ctx, current.Renewal)
	if err == nil {
		if err = t.store.Set(next); err == nil {
			t.logger.Info("access credential renewed")
			return nil
		}
		err = fmt.Errorf("store renewed credentials: %w", err)
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}

	t.logger.Warn("credential renewal failed; signing out", logging.Field("error", err))
	if clearErr := t.store.Clear(); clearErr != nil {
		t.logger.Error("clearing credentials failed", logging.Field("error", clearErr))
	}
	if t.onSignedOut != nil {
		t.onSignedOut(err)
	}
	return fmt.Errorf("%w: %w", ErrSignedOut, err)
}

func replayable(req *http.Request) bool {
	return req.Body == nil || req.Body == http.NoBody || req.GetBody != nil
}

func drainAndClose(body io.ReadCloser) {
	if body == nil {
		return
	}
	_, _ = io.Copy(io.Discard, io.LimitReader(body, 1<<16))
	_ = body.Close()
}
