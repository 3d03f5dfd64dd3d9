package config

import (
	"errors"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	flags "github.com/jessevdk/go-flags"
	"github.com/joho/godotenv"
)

type Options struct {
	APIURL          string `long:"api-url" env:"REALTIME_API_URL" description:"Workspace API base URL (e.g. https://chat.example.com)"`
	WSURL           string `long:"ws-url" env:"REALTIME_WS_URL" description:"Realtime base URL; derived from --api-url when empty"`
	Workspace       string `long:"workspace" env:"REALTIME_WORKSPACE" description:"Workspace to stream events for"`
	Email           string `long:"email" env:"REALTIME_EMAIL" description:"Account email used when no stored credentials exist"`
	Password        string `long:"password" env:"REALTIME_PASSWORD" description:"Account password used when no stored credentials exist"`
	CredentialsFile string `long:"credentials-file" env:"REALTIME_CREDENTIALS_FILE" description:"File holding the access and renewal credentials"`
	Debug           bool   `long:"debug" env:"REALTIME_DEBUG" description:"Enable verbose debug output"`
	LogPersist      bool   `long:"log-persist" env:"REALTIME_LOG_PERSIST" description:"Also write JSONL logs to the user cache directory"`
}

type APIEndpoints struct {
	APIBaseURL  string
	RefreshURL  string
	RealtimeURL string
}

const (
	apiPrefix   = "/api/v1"
	refreshPath = "/auth/refresh"
	appDirName  = "workspace-realtime"
)

func ParseOptions() (Options, error) {
	_ = godotenv.Load()
	opts := Options{}
	if _, err := flags.Parse(&opts); err != nil {
		return Options{}, err
	}
	return opts, nil
}

// ApplyDefaults fills values still unset after merging saved settings.
func ApplyDefaults(opts Options, defaultCredentialsFn func() string) Options {
	if strings.TrimSpace(opts.CredentialsFile) == "" && defaultCredentialsFn != nil {
		opts.CredentialsFile = defaultCredentialsFn()
	}
	return opts
}

// DefaultCredentialsPath is where credentials live when no file is given.
func DefaultCredentialsPath() string {
	root, err := os.UserConfigDir()
	if err != nil {
		return ""
	}
	return filepath.Join(root, appDirName, "credentials.json")
}

func ValidateRequired(opts Options) error {
	if strings.TrimSpace(opts.APIURL) == "" {
		return errors.New("API URL is required")
	}
	if strings.TrimSpace(opts.Workspace) == "" {
		return errors.New("workspace is required")
	}
	if strings.TrimSpace(opts.CredentialsFile) == "" {
		return errors.New("credentials file is required")
	}
	if (opts.Email == "") != (opts.Password == "") {
		return errors.New("email and password must be given together")
	}
	return nil
}

func BuildEndpoints(rawAPIURL string, rawWSURL string) (APIEndpoints, error) {
	apiBaseURL, err := buildAPIBaseURL(rawAPIURL)
	if err != nil {
		return APIEndpoints{}, err
	}
	realtimeURL, err := buildRealtimeBaseURL(rawWSURL, rawAPIURL)
	if err != nil {
		return APIEndpoints{}, err
	}
	return APIEndpoints{
		APIBaseURL:  apiBaseURL,
		RefreshURL:  apiBaseURL + refreshPath,
		RealtimeURL: realtimeURL,
	}, nil
}

func parseAbsolute(raw string) (*url.URL, error) {
	parsed, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return nil, err
	}
	if parsed.Scheme == "" || parsed.Host == "" {
		return nil, errors.New("expected absolute URL like https://example.com")
	}
	return parsed, nil
}

func buildAPIBaseURL(raw string) (string, error) {
	parsed, err := parseAbsolute(raw)
	if err != nil {
		return "", err
	}
	if !strings.EqualFold(parsed.Scheme, "http") && !strings.EqualFold(parsed.Scheme, "https") {
		return "", errors.New("API URL scheme must be http or https")
	}

	// Normalize any pasted endpoint/path to canonical API base.
	parsed.Path = apiPrefix
	parsed.RawPath = ""
	parsed.RawQuery = ""
	parsed.Fragment = ""

	return strings.TrimRight(parsed.String(), "/"), nil
}

// buildRealtimeBaseURL returns the websocket origin that sessions append
// /ws/{workspace} to. An empty raw value is derived from the API host.
func buildRealtimeBaseURL(raw string, rawAPIURL string) (string, error) {
	if strings.TrimSpace(raw) == "" {
		parsed, err := parseAbsolute(rawAPIURL)
		if err != nil {
			return "", err
		}
		switch strings.ToLower(parsed.Scheme) {
		case "https":
			parsed.Scheme = "wss"
		default:
			parsed.Scheme = "ws"
		}
		parsed.Path = ""
		parsed.RawPath = ""
		parsed.RawQuery = ""
		parsed.Fragment = ""
		return parsed.String(), nil
	}

	parsed, err := parseAbsolute(raw)
	if err != nil {
		return "", err
	}
	if !strings.EqualFold(parsed.Scheme, "ws") && !strings.EqualFold(parsed.Scheme, "wss") {
		return "", errors.New("realtime URL scheme must be ws or wss")
	}
	parsed.Path = strings.TrimSuffix(strings.TrimRight(parsed.Path, "/"), "/ws")
	parsed.RawPath = ""
	parsed.RawQuery = ""
	parsed.Fragment = ""
	return strings.TrimRight(parsed.String(), "/"), nil
}
