// File path: internal/engine/config.go
package engine

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"formloop/internal/schema"
)

const (
	defaultSchemaPath    = "form_keys.json"
	defaultMandatoryPath = "mandatory.json"
)

// LoadConfig builds an engine Config from the environment, with explicit
// paths taking precedence over FORMLOOP_SCHEMA and FORMLOOP_MANDATORY.
// Recognized variables:
//
//	FORMLOOP_SCHEMA          path to the form template JSON
//	FORMLOOP_MANDATORY       path to the mandatory-fields JSON
//	FORMLOOP_CATEGORY_KEY    top-level key of the category section
//	FORMLOOP_BOOLEAN_GROUPS  comma-separated group name fragments
//	FORMLOOP_WINDOW_SIZE     conversation window size
//	FORMLOOP_STRICT_RESOLVE  fail on unresolvable mandatory identifiers
//
// An unreadable or unparsable source document is a fatal configuration
// error.
func LoadConfig(schemaPath, mandatoryPath string) (Config, error) {
	if strings.TrimSpace(schemaPath) == "" {
		schemaPath = envOr("FORMLOOP_SCHEMA", defaultSchemaPath)
	}
	if strings.TrimSpace(mandatoryPath) == "" {
		mandatoryPath = envOr("FORMLOOP_MANDATORY", defaultMandatoryPath)
	}

	template, err := loadTree(schemaPath)
	if err != nil {
		return Config{}, fmt.Errorf("load form template: %w", err)
	}
	mandatory, err := loadTree(mandatoryPath)
	if err != nil {
		return Config{}, fmt.Errorf("load mandatory document: %w", err)
	}

	cfg := Config{
		Template:    template,
		Mandatory:   mandatory,
		CategoryKey: strings.TrimSpace(os.Getenv("FORMLOOP_CATEGORY_KEY")),
	}
	if raw := strings.TrimSpace(os.Getenv("FORMLOOP_BOOLEAN_GROUPS")); raw != "" {
		for _, part := range strings.Split(raw, ",") {
			if trimmed := strings.TrimSpace(part); trimmed != "" {
				cfg.BooleanGroups = append(cfg.BooleanGroups, trimmed)
			}
		}
	}
	if raw := strings.TrimSpace(os.Getenv("FORMLOOP_WINDOW_SIZE")); raw != "" {
		size, err := strconv.Atoi(raw)
		if err != nil || size <= 0 {
			return Config{}, fmt.Errorf("invalid FORMLOOP_WINDOW_SIZE %q", raw)
		}
		cfg.WindowSize = size
	}
	if raw := strings.TrimSpace(os.Getenv("FORMLOOP_STRICT_RESOLVE")); raw != "" {
		strict, err := strconv.ParseBool(raw)
		if err != nil {
			return Config{}, fmt.Errorf("invalid FORMLOOP_STRICT_RESOLVE %q", raw)
		}
		cfg.Strict = strict
	}
	return cfg, nil
}

func envOr(key, fallback string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return fallback
}

func loadTree(path string) (*schema.Tree, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	tree, err := schema.ParseTree(data)
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	return tree, nil
}
