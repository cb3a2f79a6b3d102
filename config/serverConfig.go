package config

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/go-playground/validator/v10"
)

// ServerReader is a struct for reading the server config.
type ServerReader struct {
	file *os.File
}

// ServerConfig is parsed from `config.json` file.
// It contains all the necessary information of the HTTPS server.
type ServerConfig struct {
	Port                 int    `validate:"required,min=1,max=65535"`
	AdminPort            int    `validate:"required,min=1,max=65535,nefield=Port"`
	Root                 string `validate:"required,dir"`
	CertFile             string `validate:"required"`
	KeyFile              string `validate:"required"`
	MaxClients           int    `validate:"min=0"`
	StatsPath            string `validate:"required"`
	ObservePeriodSeconds int    `validate:"required,min=1"`
}

// Default returns the configuration used when no config file is given:
// serve the working directory on :8443 with `cert.pem` and `key.pem`.
func Default() *ServerConfig {
	return &ServerConfig{
		Port:                 8443,
		AdminPort:            8444,
		Root:                 ".",
		CertFile:             "cert.pem",
		KeyFile:              "key.pem",
		MaxClients:           0,
		StatsPath:            "./stats-data/stats.db",
		ObservePeriodSeconds: 60,
	}
}

// NewServerReader is a constructor for ServerReader.
func NewServerReader(configPath string) (*ServerReader, error) {
	file, err := os.Open(configPath)
	if err != nil {
		return nil, err
	}
	return &ServerReader{file}, nil
}

// Close is a method for closing the config file.
func (r *ServerReader) Close() error {
	return r.file.Close()
}

// ReadServerConfig reads the server config. Fields absent from the file
// keep their default values.
func (r *ServerReader) ReadServerConfig() (*ServerConfig, error) {
	configFileByte, err := io.ReadAll(r.file)
	if err != nil {
		return nil, err
	}

	config := Default()
	err = json.Unmarshal(configFileByte, config)
	if err != nil {
		return nil, err
	}

	return config, nil
}

// Validate checks the config invariants before anything is bound or opened.
func (c *ServerConfig) Validate(v *validator.Validate) error {
	if err := v.Struct(c); err != nil {
		if errs, ok := err.(validator.ValidationErrors); ok {
			for _, e := range errs {
				return fmt.Errorf("config field %s: failed on '%s'", e.Field(), e.Tag())
			}
		}
		return err
	}
	return nil
}
