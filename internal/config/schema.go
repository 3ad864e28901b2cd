package config

import (
	"encoding/json"
	"fmt"

	"github.com/invopop/jsonschema"

	pkgconfig "github.com/estatechain/indexer/pkg/config"
)

// JSONSchema reflects the configuration JSON schema, suitable for editor
// validation of config files and for CI checks.
func JSONSchema() ([]byte, error) {
	schema := jsonschema.Reflect(&pkgconfig.Config{})
	schema.Title = "Estatechain indexer configuration"

	out, err := json.MarshalIndent(schema, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to marshal config schema: %w", err)
	}
	return out, nil
}
