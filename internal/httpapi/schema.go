package httpapi

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"fmt"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

//go:embed schema/callback.json
var callbackSchemaJSON []byte

var callbackSchema = func() *jsonschema.Schema {
	compiler := jsonschema.NewCompiler()
	compiler.Draft = jsonschema.Draft7
	if err := compiler.AddResource("callback.json", bytes.NewReader(callbackSchemaJSON)); err != nil {
		panic("httpapi: add callback schema: " + err.Error())
	}
	return compiler.MustCompile("callback.json")
}()

// validateCallback checks a raw JSON body against the callback schema.
func validateCallback(raw []byte) error {
	var payload any
	if err := json.Unmarshal(raw, &payload); err != nil {
		return err
	}
	if err := callbackSchema.Validate(payload); err != nil {
		return fmt.Errorf("callback schema: %w", err)
	}
	return nil
}
