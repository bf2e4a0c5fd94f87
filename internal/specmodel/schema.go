package specmodel

import (
	_ "embed"
	"fmt"
	"strings"
	"sync"

	"github.com/vk/vegaprecompute/internal/verr"
	"github.com/xeipuuv/gojsonschema"
)

//go:embed schema.json
var schemaText string

var (
	schemaOnce     sync.Once
	compiledSchema *gojsonschema.Schema
	schemaErr      error
)

func structuralSchema() (*gojsonschema.Schema, error) {
	schemaOnce.Do(func() {
		loader := gojsonschema.NewStringLoader(schemaText)
		compiledSchema, schemaErr = gojsonschema.NewSchema(loader)
		if schemaErr != nil {
			schemaErr = fmt.Errorf("invalid embedded json schema: %w", schemaErr)
		}
	})
	return compiledSchema, schemaErr
}

// validateStructure checks the decoded document against the embedded
// structural schema. Every violation is listed in the returned error.
func validateStructure(doc map[string]any) error {
	schema, err := structuralSchema()
	if err != nil {
		return err
	}

	result, err := schema.Validate(gojsonschema.NewGoLoader(doc))
	if err != nil {
		return verr.Wrap(verr.KindMalformedDocument, err, "schema validation error")
	}
	if result.Valid() {
		return nil
	}

	msgs := make([]string, 0, len(result.Errors()))
	for _, desc := range result.Errors() {
		msgs = append(msgs, desc.String())
	}
	return verr.Malformed("document does not match the specification schema: %s", strings.Join(msgs, "; "))
}
