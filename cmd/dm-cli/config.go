package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/golang-jwt/jwt/v5"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

const (
	defaultConfigName = ".dm-cli.yaml"
	defaultBaseURL    = "http://localhost:8190"
)

// cliConfig is the on-disk CLI configuration.
type cliConfig struct {
	BaseURL string `yaml:"base_url"`
	Token   string `yaml:"token"`
	UserID  string `yaml:"user_id"`
}

// loadConfig reads path, or ~/.dm-cli.yaml when path is empty. A missing
// default file is not an error; a missing explicit file is.
func loadConfig(path string) (*cliConfig, error) {
	explicit := path != ""
	if !explicit {
		home, err := os.UserHomeDir()
		if err != nil {
			return &cliConfig{BaseURL: defaultBaseURL}, nil
		}
		path = filepath.Join(home, defaultConfigName)
	}

	cfg := &cliConfig{}
	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse %s: %w", path, err)
		}
	case errors.Is(err, os.ErrNotExist) && !explicit:
	default:
		return nil, fmt.Errorf("read %s: %w", path, err)
	}

	if strings.TrimSpace(cfg.BaseURL) == "" {
		cfg.BaseURL = defaultBaseURL
	}
	return cfg, nil
}

// applyFlags overrides file settings with flags that were set explicitly.
func (c *cliConfig) applyFlags(cmd *cobra.Command) {
	flags := cmd.Flags()
	if flags.Changed("base-url") {
		c.BaseURL, _ = flags.GetString("base-url")
	}
	if flags.Changed("token") {
		c.Token, _ = flags.GetString("token")
	}
	if flags.Changed("user") {
		c.UserID, _ = flags.GetString("user")
	}
}

func (c *cliConfig) validate() error {
	if strings.TrimSpace(c.BaseURL) == "" {
		return errors.New("base_url is required")
	}
	if strings.TrimSpace(c.Token) == "" && strings.TrimSpace(c.UserID) == "" {
		return errors.New("either token or user_id must be configured")
	}
	return nil
}

// identity is the user the CLI acts as: user_id when set, otherwise the
// subject of the token. The token is not verified here; the server does that.
func (c *cliConfig) identity() string {
	if id := strings.TrimSpace(c.UserID); id != "" {
		return id
	}
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(strings.TrimSpace(c.Token), claims); err != nil {
		return ""
	}
	sub, _ := claims.GetSubject()
	return sub
}
