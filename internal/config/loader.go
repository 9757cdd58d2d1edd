package config

import (
	"fmt"
	"os"
	"reflect"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// LoadConfig loads configuration from YAML with environment expansion,
// then applies env-tagged overrides and defaults.
func LoadConfig(path string) (*Config, error) {
	cfg := &Config{}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	expanded := os.ExpandEnv(string(data))
	if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	overrideWithEnv(reflect.ValueOf(cfg).Elem())
	cfg.ApplyDefaults()
	return cfg, nil
}

// overrideWithEnv walks the struct recursively and applies `env:"..."`
// tagged values from the environment.
func overrideWithEnv(v reflect.Value) {
	t := v.Type()
	for i := 0; i < t.NumField(); i++ {
		field := t.Field(i)
		fieldVal := v.Field(i)

		if fieldVal.Kind() == reflect.Struct {
			overrideWithEnv(fieldVal)
			continue
		}

		envKey := field.Tag.Get("env")
		if envKey == "" {
			continue
		}
		envValue, exists := os.LookupEnv(envKey)
		if !exists {
			continue
		}

		switch fieldVal.Kind() {
		case reflect.String:
			fieldVal.SetString(envValue)
		case reflect.Int, reflect.Int64:
			if field.Type == reflect.TypeOf(time.Duration(0)) {
				if d, err := time.ParseDuration(envValue); err == nil {
					fieldVal.SetInt(int64(d))
				}
				continue
			}
			if intValue, err := strconv.ParseInt(envValue, 10, 64); err == nil {
				fieldVal.SetInt(intValue)
			}
		case reflect.Bool:
			if boolValue, err := strconv.ParseBool(envValue); err == nil {
				fieldVal.SetBool(boolValue)
			}
		case reflect.Slice:
			if field.Type.Elem().Kind() == reflect.String {
				fieldVal.Set(reflect.ValueOf(strings.Split(envValue, ",")))
			}
		}
	}
}
