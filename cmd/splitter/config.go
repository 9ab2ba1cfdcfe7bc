package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	apiclient "github.com/splax/splitter/pkg/api/client"
)

const defaultAPIBaseURL = "http://localhost:4000"

type cliConfig struct {
	APIBaseURL  string `json:"api_base_url"`
	AccessToken string `json:"access_token"`
}

func loadConfig() (cliConfig, error) {
	path, err := configPath()
	if err != nil {
		return cliConfig{}, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return cliConfig{APIBaseURL: defaultAPIBaseURL}, nil
		}
		return cliConfig{}, err
	}
	var cfg cliConfig
	if err := json.Unmarshal(data, &cfg); err != nil {
		return cliConfig{}, fmt.Errorf("parse %s: %w", path, err)
	}
	if cfg.APIBaseURL == "" {
		cfg.APIBaseURL = defaultAPIBaseURL
	}
	return cfg, nil
}

func saveConfig(cfg cliConfig) error {
	path, err := configPath()
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return err
	}
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o600)
}

func configPath() (string, error) {
	base, err := os.UserConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(base, "splitter", "config.json"), nil
}

// session is an authenticated client whose saved token is dropped when the API rejects it.
type session struct {
	cfg    cliConfig
	client *apiclient.Client
	token  string
}

func openSession(apiOverride string, requireToken bool) (*session, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(apiOverride) != "" {
		cfg.APIBaseURL = strings.TrimSpace(apiOverride)
	}
	token := strings.TrimSpace(cfg.AccessToken)
	if requireToken && token == "" {
		return nil, errors.New("please login first using 'splitter login'")
	}
	client, err := apiclient.New(cfg.APIBaseURL)
	if err != nil {
		return nil, err
	}
	s := &session{cfg: cfg, client: client, token: token}
	client.OnUnauthorized(s.clearToken)
	return s, nil
}

func (s *session) clearToken(context.Context) error {
	if s.cfg.AccessToken == "" {
		return nil
	}
	s.cfg.AccessToken = ""
	if err := saveConfig(s.cfg); err != nil {
		return fmt.Errorf("clear saved token: %w", err)
	}
	fmt.Fprintln(os.Stderr, "session expired; run 'splitter login' again")
	return nil
}

func (s *session) storeToken(token string) error {
	s.token = token
	s.cfg.AccessToken = token
	s.cfg.APIBaseURL = s.client.BaseURL()
	return saveConfig(s.cfg)
}
