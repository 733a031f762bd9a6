package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strconv"

	"oidcflow/pkg/logging"

	"gopkg.in/yaml.v3"
)

const (
	userConfigDir  = ".config/oidcflow"
	configFileName = "config.yaml"
	sessionsDir    = "sessions"
)

// osUserHomeDir is replaced in tests.
var osUserHomeDir = os.UserHomeDir

// GetDefaultConfigPath returns ~/.config/oidcflow.
func GetDefaultConfigPath() (string, error) {
	homeDir, err := osUserHomeDir()
	if err != nil {
		return "", fmt.Errorf("could not determine user config directory: %w", err)
	}
	return filepath.Join(homeDir, userConfigDir), nil
}

// GetDefaultConfigPathOrPanic is GetDefaultConfigPath for flag defaults.
func GetDefaultConfigPathOrPanic() string {
	path, err := GetDefaultConfigPath()
	if err != nil {
		panic(err)
	}
	return path
}

// LoadConfig loads config.yaml from configPath on top of the defaults and
// validates the result. A missing file yields the defaults.
//
// Parse and validation failures are returned as ConfigurationError or
// *ConfigurationErrorCollection.
func LoadConfig(configPath string) (Config, error) {
	configFilePath := filepath.Join(configPath, configFileName)
	config := GetDefaultConfig()

	data, err := os.ReadFile(configFilePath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			logging.Debug("ConfigLoader", "No config.yaml found at %s, using defaults", configFilePath)
			config.resolvePaths(configPath)
			return config, nil
		}
		logging.Info("ConfigLoader", "Error loading config.yaml from %s: %s", configFilePath, err)
		return Config{}, NewConfigurationError(configFilePath, "", ErrorTypeIO, err.Error())
	}

	if err := yaml.Unmarshal(data, &config); err != nil {
		cfgErr := NewConfigurationError(configFilePath, "", ErrorTypeParse, "malformed YAML")
		cfgErr.Details = err.Error()
		cfgErr.LineNumber = yamlErrorLine(err)
		return Config{}, cfgErr
	}
	config.resolvePaths(configPath)

	if errs := Validate(config); errs.HasErrors() {
		collection := &ConfigurationErrorCollection{}
		for _, ve := range errs {
			cfgErr := NewConfigurationError(configFilePath, ve.Field, ErrorTypeValidation, ve.Message)
			if ve.Value != nil {
				cfgErr.Details = fmt.Sprintf("%v", ve.Value)
			}
			cfgErr.Suggestions = suggestionsFor(ve.Field)
			collection.Add(cfgErr)
		}
		return Config{}, collection
	}

	logging.Info("ConfigLoader", "Loaded configuration from %s", configFilePath)
	return config, nil
}

// SaveConfig writes config to config.yaml in configPath. The file may hold
// client secrets and is written with 0600 permissions.
func SaveConfig(configPath string, config Config) error {
	if err := os.MkdirAll(configPath, 0700); err != nil {
		return fmt.Errorf("failed to create config directory %s: %w", configPath, err)
	}
	data, err := yaml.Marshal(&config)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	configFilePath := filepath.Join(configPath, configFileName)
	tmp := configFilePath + ".tmp"
	if err := os.WriteFile(tmp, data, 0600); err != nil {
		return fmt.Errorf("failed to write %s: %w", tmp, err)
	}
	if err := os.Rename(tmp, configFilePath); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("failed to replace %s: %w", configFilePath, err)
	}
	logging.Debug("ConfigLoader", "Saved configuration to %s", configFilePath)
	return nil
}

func (c *Config) resolvePaths(configPath string) {
	if c.Storage.Dir == "" {
		c.Storage.Dir = filepath.Join(configPath, sessionsDir)
	} else if !filepath.IsAbs(c.Storage.Dir) {
		c.Storage.Dir = filepath.Join(configPath, c.Storage.Dir)
	}
}

var yamlLinePattern = regexp.MustCompile(`line (\d+)`)

func yamlErrorLine(err error) int {
	m := yamlLinePattern.FindStringSubmatch(err.Error())
	if m == nil {
		return 0
	}
	n, _ := strconv.Atoi(m[1])
	return n
}
