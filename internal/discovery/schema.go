package discovery

import (
	"encoding/json"
	"fmt"

	"github.com/invopop/jsonschema"
)

// CatalogEntrySchema describes the wire shape of one aggregated catalog
// entry; no admin route serves it. Generated
// the same way the source tree generates tool input schemas: reflect a Go
// type, then round-trip it through encoding/json into a plain map.
func CatalogEntrySchema() (map[string]any, error) {
	reflector := jsonschema.Reflector{}
	schema := reflector.Reflect(Entry{})

	schemaBytes, err := json.Marshal(schema)
	if err != nil {
		return nil, fmt.Errorf("marshal catalog entry schema: %w", err)
	}

	var m map[string]any
	if err := json.Unmarshal(schemaBytes, &m); err != nil {
		return nil, fmt.Errorf("unmarshal catalog entry schema: %w", err)
	}
	return m, nil
}
