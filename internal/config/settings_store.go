package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"

	"github.com/tidwall/jsonc"
)

// Settings are the persisted defaults for the CLI. The file may carry
// comments and trailing commas.
type Settings struct {
	APIURL          string `json:"api_url"`
	WSURL           string `json:"ws_url,omitempty"`
	Workspace       string `json:"workspace"`
	CredentialsFile string `json:"credentials_file,omitempty"`
	Debug           bool   `json:"debug"`
	LogPersist      bool   `json:"log_persist"`
}

func SettingsPath() (string, error) {
	root, err := os.UserConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(root, appDirName, "settings.jsonc"), nil
}

func LoadSettings() (Settings, error) {
	path, err := SettingsPath()
	if err != nil {
		return Settings{}, err
	}
	return LoadSettingsFile(path)
}

func LoadSettingsFile(path string) (Settings, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Settings{}, err
	}
	var settings Settings
	if err := json.Unmarshal(jsonc.ToJSON(data), &settings); err != nil {
		return Settings{}, err
	}
	return settings, nil
}

func SaveSettings(settings Settings) error {
	path, err := SettingsPath()
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	payload, err := json.MarshalIndent(settings, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, payload, 0o600)
}

// MergeOptionsWithSettings fills unset CLI values from saved settings.
// Account secrets are never persisted, so they always come from the CLI.
func MergeOptionsWithSettings(cli Options, saved Settings) Options {
	if strings.TrimSpace(cli.APIURL) == "" {
		cli.APIURL = saved.APIURL
	}
	if strings.TrimSpace(cli.WSURL) == "" {
		cli.WSURL = saved.WSURL
	}
	if strings.TrimSpace(cli.Workspace) == "" {
		cli.Workspace = saved.Workspace
	}
	if strings.TrimSpace(cli.CredentialsFile) == "" {
		cli.CredentialsFile = saved.CredentialsFile
	}
	if !cli.Debug {
		cli.Debug = saved.Debug
	}
	if !cli.LogPersist {
		cli.LogPersist = saved.LogPersist
	}
	return cli
}

func SettingsFromOptions(opts Options) Settings {
	return Settings{
		APIURL:          strings.TrimSpace(opts.APIURL),
		WSURL:           strings.TrimSpace(opts.WSURL),
		Workspace:       strings.TrimSpace(opts.Workspace),
		CredentialsFile: strings.TrimSpace(opts.CredentialsFile),
		Debug:           opts.Debug,
		LogPersist:      opts.LogPersist,
	}
}
