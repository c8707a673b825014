package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"gopkg.in/yaml.v3"
)

const (
	formatJSON = "json"
	formatYAML = "yaml"
)

func parseFormat(v string) (string, error) {
	switch f := strings.ToLower(strings.TrimSpace(v)); f {
	case formatJSON, formatYAML:
		return f, nil
	default:
		return "", withCode(exitUsage, fmt.Errorf("invalid --format %q (expected json|yaml)", v))
	}
}

func writeJSONLine(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return withCode(exitDB, fmt.Errorf("json encode: %w", err))
	}
	return nil
}

func writeFormatted(w io.Writer, format string, v any) error {
	if format == formatJSON {
		enc := json.NewEncoder(w)
		enc.SetEscapeHTML(false)
		enc.SetIndent("", "  ")
		if err := enc.Encode(v); err != nil {
			return withCode(exitDB, fmt.Errorf("json encode: %w", err))
		}
		return nil
	}
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(v); err != nil {
		return withCode(exitDB, fmt.Errorf("yaml encode: %w", err))
	}
	if err := enc.Close(); err != nil {
		return withCode(exitDB, fmt.Errorf("yaml encode: %w", err))
	}
	return nil
}
