package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"workspace-realtime/internal/credstore"
	"workspace-realtime/internal/logging"
)

var errMissingRenewal = errors.New("no renewal credential stored")

// Renewer exchanges a renewal credential for a fresh pair.
type Renewer interface {
	Renew(ctx context.Context, renewal string) (credstore.Pair, error)
}

// RefreshRenewer posts {refresh_token} to the refresh endpoint. Its client
// must not route through AuthTransport.
type RefreshRenewer struct {
	http   *http.Client
	url    string
	logger *logging.Logger
}

func NewRefreshRenewer(httpClient *http.Client, refreshURL string, logger *logging.Logger) *RefreshRenewer {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &RefreshRenewer{http: httpClient, url: refreshURL, logger: logger}
}

func (r *RefreshRenewer) Renew(ctx context.Context, renewal string) (credstore.Pair, error) {
	if renewal == "" {
		return credstore.Pair{}, errMissingRenewal
	}
	body, err := json.Marshal(refreshRequest{RefreshToken: renewal})
	if err != nil {
		return credstore.Pair{}, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.url, bytes.NewReader(body))
	if err != nil {
		return credstore.Pair{}, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := r.http.Do(req)
	if err != nil {
		return credstore.Pair{}, err
	}
	defer resp.Body.Close()
	r.logger.Debugf("POST %s -> %s", r.url, resp.Status)

	data, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if resp.StatusCode >= http.StatusBadRequest {
		r.logger.Warn("credential refresh rejected",
			logging.Field("status", resp.Status),
			logging.Field("response", logging.FormatHTTPPayload(data)),
		)
		return credstore.Pair{}, &HTTPStatusError{StatusCode: resp.StatusCode, Status: resp.Status}
	}

	var tokens tokenResponse
	if err := json.Unmarshal(data, &tokens); err != nil {
		return credstore.Pair{}, err
	}
	if tokens.AccessToken == "" {
		return credstore.Pair{}, errors.New("refresh response missing access_token")
	}
	return tokens.pair(), nil
}
