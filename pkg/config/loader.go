package config

import (
	"context"
	"fmt"
	"reflect"
	"time"

	"dario.cat/mergo"
	"github.com/go-playground/validator/v10"
	"github.com/go-viper/mapstructure/v2"
	"github.com/knadh/koanf/providers/env/v2"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"
	str2duration "github.com/xhit/go-str2duration/v2"
)

// Service loads and validates executor configuration.
type Service struct {
	koanf     *koanf.Koanf
	validator *validator.Validate
}

func NewService() *Service {
	return &Service{
		koanf:     koanf.New("."),
		validator: validator.New(),
	}
}

// Load builds the configuration with precedence defaults < environment <
// explicit overrides, then validates it.
func (s *Service) Load(_ context.Context, overrides ...*Config) (*Config, error) {
	if err := s.koanf.Load(structs.Provider(Default(), "koanf"), nil); err != nil {
		return nil, fmt.Errorf("failed to load defaults: %w", err)
	}
	if err := s.loadEnvironment(); err != nil {
		return nil, err
	}
	cfg, err := s.unmarshal()
	if err != nil {
		return nil, err
	}
	for _, override := range overrides {
		if override == nil {
			continue
		}
		if err := mergo.Merge(cfg, override, mergo.WithOverride); err != nil {
			return nil, fmt.Errorf("failed to merge config overrides: %w", err)
		}
	}
	if err := s.validator.Struct(cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// loadEnvironment maps environment variables onto config paths using the
// env struct tags declared on Config.
func (s *Service) loadEnvironment() error {
	envToPath := envMappings(reflect.TypeOf(Config{}), "")
	err := s.koanf.Load(env.Provider(".", env.Opt{
		TransformFunc: func(key, value string) (string, any) {
			if path, ok := envToPath[key]; ok {
				return path, value
			}
			return "", nil
		},
	}), nil)
	if err != nil {
		return fmt.Errorf("failed to load environment variables: %w", err)
	}
	return nil
}

func (s *Service) unmarshal() (*Config, error) {
	cfg := &Config{}
	err := s.koanf.UnmarshalWithConf("", cfg, koanf.UnmarshalConf{
		Tag: "koanf",
		DecoderConfig: &mapstructure.DecoderConfig{
			Result:           cfg,
			WeaklyTypedInput: true,
			DecodeHook:       durationDecodeHook,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to unmarshal configuration: %w", err)
	}
	return cfg, nil
}

// durationDecodeHook parses duration strings with str2duration so env vars
// may use extended forms like "1d12h" in addition to stdlib syntax.
func durationDecodeHook(_ reflect.Type, to reflect.Type, data any) (any, error) {
	if to != reflect.TypeOf(time.Duration(0)) {
		return data, nil
	}
	str, ok := data.(string)
	if !ok {
		return data, nil
	}
	d, err := str2duration.ParseDuration(str)
	if err != nil {
		return nil, fmt.Errorf("invalid duration %q: %w", str, err)
	}
	return d, nil
}

// envMappings walks the config struct and collects env tag -> koanf path.
func envMappings(t reflect.Type, prefix string) map[string]string {
	out := make(map[string]string)
	for i := 0; i < t.NumField(); i++ {
		field := t.Field(i)
		path := field.Tag.Get("koanf")
		if path == "" {
			continue
		}
		if prefix != "" {
			path = prefix + "." + path
		}
		if field.Type.Kind() == reflect.Struct && field.Type != reflect.TypeOf(time.Time{}) {
			for k, v := range envMappings(field.Type, path) {
				out[k] = v
			}
			continue
		}
		if envVar := field.Tag.Get("env"); envVar != "" {
			out[envVar] = path
		}
	}
	return out
}
