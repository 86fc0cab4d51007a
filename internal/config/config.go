// Package config loads and creates the JSON configuration file.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
)

type Config struct {
	ServerPort int `json:"serverPort"`

	SSLEnabled         bool   `json:"sslEnabled"`
	SSLCertificatePath string `json:"sslCertificatePath"`
	SSLPrivateKeyPath  string `json:"sslPrivateKeyPath"`

	CORSHost string `json:"corsHost"`

	JWTExpireSeconds int    `json:"jwtExpireSeconds"`
	JWTSecretKey     string `json:"jwtSecretKey"`

	SMTPHost      string `json:"smtpHost"`
	SMTPPort      string `json:"smtpPort"`
	SMTPAuth      bool   `json:"smtpAuth"`
	SMTPStartTLS  bool   `json:"smtpStartTLS"`
	EmailUsername string `json:"emailUsername"`
	EmailPassword string `json:"emailPassword"`
	EmailFrom     string `json:"emailFrom"`

	RecaptchaSecret string `json:"recaptchaSecret"`

	UpdateDatabase bool `json:"updateDatabase"`
}

func Default() Config {
	return Config{
		ServerPort:       7070,
		CORSHost:         "http://localhost:63342",
		JWTExpireSeconds: 60 * 60 * 24 * 7,
		JWTSecretKey:     "abc123",
		SMTPHost:         "smtp.gmail.com",
		SMTPPort:         "587",
		SMTPAuth:         true,
		SMTPStartTLS:     true,
		EmailUsername:    "user",
		EmailPassword:    "pass",
		UpdateDatabase:   true,
	}
}

// Load reads the configuration file at path. If the file does not exist it is
// created with the defaults first, so a fresh deployment always starts with a
// file the operator can edit.
func Load(path string) (Config, error) {
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		if err := writeDefault(path); err != nil {
			return Config{}, fmt.Errorf("create config: %w", err)
		}
	} else if err != nil {
		return Config{}, err
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read config: %w", err)
	}

	cfg := Default()
	if err := json.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("parse config: %w", err)
	}
	return cfg, nil
}

func writeDefault(path string) error {
	data, err := json.MarshalIndent(Default(), "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, append(data, '\n'), 0o600)
}
