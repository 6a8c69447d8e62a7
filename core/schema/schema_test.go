package schema_test

import (
	"testing"

	"github.com/pillbox-tech/pillbox/core/schema"
)

const (
	refNonEmpty = `{ "$id" : "http://pillbox-tech.io/non-empty-string.json",
		  "type" : "string",
		  "minLength" : 1 }`

	reportSchema = `
	{ "$id" : "http://pillbox-tech.io/report.json",
	  "type" : "object",
	  "required" : ["boxId", "temperature"],
	  "properties" : {
		"boxId" : { "$ref" : "http://pillbox-tech.io/non-empty-string.json" },
		"temperature" : { "type" : "number" }
	  }
	}`
)

func TestValidateString(t *testing.T) {
	v, err := schema.NewValidator([]string{reportSchema}, []string{refNonEmpty})
	if err != nil {
		t.Fatalf("No error expected when creating validator, got %v", err)
	}

	schemaID := "http://pillbox-tech.io/report.json"

	if !v.HasSchema(schemaID) {
		t.Fatalf("validator is expected to know schema %s", schemaID)
	}

	validReport := `{"boxId":"box1","temperature":22.5}`
	if err := v.ValidateString(validReport, schemaID); err != nil {
		t.Fatalf("%s is expected to be valid with schema %s. Reported error was: %v", validReport, schemaID, err)
	}

	emptyBoxID := `{"boxId":"","temperature":22.5}`
	if err := v.ValidateString(emptyBoxID, schemaID); err == nil {
		t.Fatalf("%s is expected to be invalid with schema %s", emptyBoxID, schemaID)
	}

	missingTemperature := `{"boxId":"box1"}`
	if err := v.ValidateBytes([]byte(missingTemperature), schemaID); err == nil {
		t.Fatalf("%s is expected to be invalid with schema %s", missingTemperature, schemaID)
	}

	if err := v.ValidateString(validReport, "http://pillbox-tech.io/unknown.json"); err == nil {
		t.Fatal("validating against an unknown schema is expected to fail")
	}
}
