package config

import (
	_ "embed"
	"fmt"
	"os"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/afero"
	"sigs.k8s.io/yaml"

	"myshell/internal/history"
)

//go:embed default/config.yaml
var defaultConfigData []byte

const cwdPlaceholder = "{cwd}"

type Configuration struct {
	Prompt      string `json:"prompt"`
	MaxJobs     int    `json:"max_jobs" validate:"gte=1,lte=4096"`
	MaxStages   int    `json:"max_stages" validate:"gte=1,lte=256"`
	HistoryFile string `json:"history_file"`
	HistorySize int    `json:"history_size" validate:"gte=0,lte=100000"`
	LogFile     string `json:"log_file"`
}

// Validate the configuration for basic semantic errors.
func (c *Configuration) Validate() error {
	validate := validator.New()
	validate.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		return name
	})

	return validate.Struct(c)
}

// PromptFor renders the prompt for the given working directory.
func (c *Configuration) PromptFor(cwd string) string {
	return strings.ReplaceAll(c.Prompt, cwdPlaceholder, cwd)
}

// HistoryPath is the configured history file or the default one.
func (c *Configuration) HistoryPath() string {
	if c.HistoryFile != "" {
		return os.ExpandEnv(c.HistoryFile)
	}
	return history.DefaultPath()
}

// Default returns the built-in configuration.
func Default() *Configuration {
	var out Configuration
	if err := yaml.UnmarshalStrict(defaultConfigData, &out); err != nil {
		panic(err)
	}
	return &out
}

// Load reads the YAML file at path over the defaults. An empty path yields
// the defaults.
func Load(fsys afero.Fs, path string) (*Configuration, error) {
	out := Default()
	if path == "" {
		return out, nil
	}

	contents, err := afero.ReadFile(fsys, path)
	if err != nil {
		return nil, err
	}
	if err := yaml.UnmarshalStrict(contents, out); err != nil {
		return nil, fmt.Errorf("config %s: %w", path, err)
	}
	if err := out.Validate(); err != nil {
		return nil, fmt.Errorf("config %s: %w", path, err)
	}
	return out, nil
}
