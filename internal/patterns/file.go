package patterns

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/santhosh-tekuri/jsonschema/v6"
	"github.com/tailscale/hujson"
)

//go:embed schema.json
var schemaJSON []byte

const schemaURL = "reload-patterns.schema.json"

// fileDocument is the on-disk shape of a pattern override file
type fileDocument struct {
	// Extend overlays the document on the built-in table instead of replacing it
	Extend  bool                `json:"extend"`
	Reload  map[string][]string `json:"reload"`
	Restart []string            `json:"restart"`
}

// LoadFile reads a pattern table from a JSON file. Comments and trailing
// commas are accepted.
func LoadFile(path string) (*Table, error) {
	data, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return nil, fmt.Errorf("failed to read pattern file: %w", err)
	}
	return Parse(data)
}

// Parse builds a table from the contents of a pattern override file
func Parse(data []byte) (*Table, error) {
	standard, err := hujson.Standardize(data)
	if err != nil {
		return nil, fmt.Errorf("failed to parse pattern file: %w", err)
	}

	if err := validateDocument(standard); err != nil {
		return nil, err
	}

	var doc fileDocument
	if err := json.Unmarshal(standard, &doc); err != nil {
		return nil, fmt.Errorf("failed to decode pattern file: %w", err)
	}

	table, err := New(doc.Reload, doc.Restart)
	if err != nil {
		return nil, fmt.Errorf("invalid pattern file: %w", err)
	}

	if doc.Extend {
		return Default().Extend(table), nil
	}
	return table, nil
}

func validateDocument(data []byte) error {
	schemaDoc, err := jsonschema.UnmarshalJSON(bytes.NewReader(schemaJSON))
	if err != nil {
		return fmt.Errorf("failed to load pattern schema: %w", err)
	}

	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource(schemaURL, schemaDoc); err != nil {
		return fmt.Errorf("failed to register pattern schema: %w", err)
	}
	schema, err := compiler.Compile(schemaURL)
	if err != nil {
		return fmt.Errorf("failed to compile pattern schema: %w", err)
	}

	instance, err := jsonschema.UnmarshalJSON(bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("failed to decode pattern file: %w", err)
	}
	if err := schema.Validate(instance); err != nil {
		return fmt.Errorf("pattern file does not match schema: %w", err)
	}
	return nil
}
