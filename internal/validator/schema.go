package validator

import (
	"encoding/json"
	"fmt"

	"github.com/santhosh-tekuri/jsonschema/v6"
)

// ValidateArguments checks an argument map against a tool's declared JSON
// argument schema. Used before accepting a "modify" decision so an operator
// cannot substitute arguments the tool would reject.
//
// A nil schema means the tool declared none; the arguments pass unchecked.
func ValidateArguments(args map[string]any, schema map[string]any) error {
	if schema == nil {
		return nil
	}

	// Round-trip the schema through JSON so nested values carry the types
	// the compiler expects.
	schemaBytes, err := json.Marshal(schema)
	if err != nil {
		return fmt.Errorf("ValidateArguments: invalid schema: %w", err)
	}
	var schemaObj any
	if err := json.Unmarshal(schemaBytes, &schemaObj); err != nil {
		return fmt.Errorf("ValidateArguments: schema unmarshal: %w", err)
	}

	c := jsonschema.NewCompiler()
	if err := c.AddResource("schema.json", schemaObj); err != nil {
		return fmt.Errorf("ValidateArguments: schema compile: %w", err)
	}
	sch, err := c.Compile("schema.json")
	if err != nil {
		return fmt.Errorf("ValidateArguments: schema compile: %w", err)
	}

	argBytes, err := json.Marshal(args)
	if err != nil {
		return fmt.Errorf("ValidateArguments: invalid arguments: %w", err)
	}
	var argObj any
	if err := json.Unmarshal(argBytes, &argObj); err != nil {
		return fmt.Errorf("ValidateArguments: arguments unmarshal: %w", err)
	}

	if err := sch.Validate(argObj); err != nil {
		return fmt.Errorf("ValidateArguments: %w", err)
	}
	return nil
}
