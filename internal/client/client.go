package client

import (
	"net/http"

	"workspace-realtime/internal/config"
	"workspace-realtime/internal/credstore"
	"workspace-realtime/internal/logging"
)

// Client calls the workspace REST API. Authenticated calls go through an
// AuthTransport; sign-in calls and renewal use the bare transport.
type Client struct {
	http      *http.Client
	public    *http.Client
	store     credstore.Store
	endpoints config.APIEndpoints
	logger    *logging.Logger
}

// New wraps httpClient's transport with the credential guard. onSignedOut
// runs after a failed renewal has cleared the store; it may be nil.
func New(httpClient *http.Client, endpoints config.APIEndpoints, store credstore.Store, logger *logging.Logger, onSignedOut func(error)) *Client {
	if logger == nil {
		panic("client.New: logger must not be nil")
	}
	if store == nil {
		panic("client.New: credential store must not be nil")
	}
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	public := *httpClient
	renewer := NewRefreshRenewer(&public, endpoints.RefreshURL, logger)
	guarded := *httpClient
	guarded.Transport = NewAuthTransport(httpClient.Transport, store, renewer, logger, onSignedOut)
	return &Client{
		http:      &guarded,
		public:    &public,
		store:     store,
		endpoints: endpoints,
		logger:    logger,
	}
}

// HTTPClient exposes the guarded client for calls not covered here.
func (c *Client) HTTPClient() *http.Client { return c.http }
