package endpoint

import (
	_ "embed"
	"fmt"
	"strings"

	"github.com/xeipuuv/gojsonschema"

	"github.com/Clickin/querygate/errors"
)

//go:embed schemas/endpoint-config.schema.json
var endpointConfigSchema []byte

// validateSchema runs the structural schema check over a parsed endpoint
// configuration document. Field-level parsing still re-checks everything it
// consumes; the schema pass exists to reject malformed documents with every
// violation reported at once instead of failing on the first field.
func validateSchema(doc map[string]any) error {
	schemaLoader := gojsonschema.NewBytesLoader(endpointConfigSchema)
	docLoader := gojsonschema.NewGoLoader(doc)

	result, err := gojsonschema.Validate(schemaLoader, docLoader)
	if err != nil {
		return errors.Wrap(err, "Registry", "validateSchema", "run schema validation")
	}

	if !result.Valid() {
		violations := make([]string, 0, len(result.Errors()))
		for _, desc := range result.Errors() {
			violations = append(violations, fmt.Sprintf("%s: %s", desc.Field(), desc.Description()))
		}
		return fmt.Errorf("%w: endpoint configuration schema violations: %s",
			errors.ErrInvalidConfig, strings.Join(violations, "; "))
	}

	return nil
}
