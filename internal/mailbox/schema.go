package mailbox

import (
	"bytes"
	"fmt"
	"strings"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v6"
)

// mailboxSchema describes the on-disk mailbox format: an array of records
// with the known fields typed and any extra fields allowed, since other
// writers extend the schema without coordinating with us.
const mailboxSchema = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "type": "array",
  "items": {
    "type": "object",
    "required": ["from", "text", "timestamp", "read"],
    "properties": {
      "from": {"type": "string", "minLength": 1},
      "text": {"type": "string"},
      "timestamp": {"type": "string", "minLength": 1},
      "read": {"type": "boolean"},
      "summary": {"type": "string"},
      "message_id": {"type": "string", "minLength": 1}
    },
    "additionalProperties": true
  }
}`

const spoolEntrySchema = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "type": "object",
  "required": ["targetTeam", "targetAgent", "message", "retryCount", "maxRetries", "createdAt", "lastAttempt"],
  "properties": {
    "targetTeam": {"type": "string", "minLength": 1},
    "targetAgent": {"type": "string", "minLength": 1},
    "message": {"type": "object"},
    "retryCount": {"type": "integer", "minimum": 0},
    "maxRetries": {"type": "integer", "minimum": 1},
    "createdAt": {"type": "string", "minLength": 1},
    "lastAttempt": {"type": "string", "minLength": 1}
  },
  "additionalProperties": false
}`

var (
	schemaOnce        sync.Once
	schemaErr         error
	compiledMailbox   *jsonschema.Schema
	compiledSpoolItem *jsonschema.Schema
)

func compileSchemas() {
	compile := func(c *jsonschema.Compiler, url, source string) (*jsonschema.Schema, error) {
		doc, err := jsonschema.UnmarshalJSON(strings.NewReader(source))
		if err != nil {
			return nil, fmt.Errorf("parse schema %s: %w", url, err)
		}
		if err := c.AddResource(url, doc); err != nil {
			return nil, fmt.Errorf("add schema %s: %w", url, err)
		}
		return c.Compile(url)
	}
	c := jsonschema.NewCompiler()
	compiledMailbox, schemaErr = compile(c, "mailspool://mailbox.schema.json", mailboxSchema)
	if schemaErr != nil {
		return
	}
	compiledSpoolItem, schemaErr = compile(c, "mailspool://spool-entry.schema.json", spoolEntrySchema)
}

// ValidateMailbox checks raw mailbox content against the mailbox schema.
func ValidateMailbox(data []byte) error {
	return validateAgainst(data, func() *jsonschema.Schema { return compiledMailbox })
}

// ValidateSpoolEntry checks one persisted spool entry against its schema.
func ValidateSpoolEntry(data []byte) error {
	return validateAgainst(data, func() *jsonschema.Schema { return compiledSpoolItem })
}

func validateAgainst(data []byte, pick func() *jsonschema.Schema) error {
	schemaOnce.Do(compileSchemas)
	if schemaErr != nil {
		return schemaErr
	}
	instance, err := jsonschema.UnmarshalJSON(bytes.NewReader(data))
	if err != nil {
		return &DecodeError{Path: "", Err: err}
	}
	return pick().Validate(instance)
}
