package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"gopkg.in/yaml.v3"
)

type printer interface {
	Print(v any) error
}

type jsonPrinter struct{ w io.Writer }

func (p jsonPrinter) Print(v any) error {
	enc := json.NewEncoder(p.w)
	enc.SetIndent("", "  ")
	enc.SetEscapeHTML(false)
	return enc.Encode(v)
}

type yamlPrinter struct{ w io.Writer }

func (p yamlPrinter) Print(v any) error {
	enc := yaml.NewEncoder(p.w)
	enc.SetIndent(2)
	if err := enc.Encode(v); err != nil {
		return err
	}
	return enc.Close()
}

func newPrinter(format string, w io.Writer) (printer, error) {
	switch strings.ToLower(strings.TrimSpace(format)) {
	case "", "json":
		return jsonPrinter{w: w}, nil
	case "yaml", "yml":
		return yamlPrinter{w: w}, nil
	default:
		return nil, fmt.Errorf("unsupported output format %q", format)
	}
}
