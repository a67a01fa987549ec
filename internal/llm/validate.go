package llm

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v6"
)

// Schema is a JSON Schema for a completion. Share it by pointer: it
// compiles itself on first use.
type Schema struct {
	// Name is the schema name sent to providers that want one.
	Name        string
	Description string
	Definition  map[string]any

	once     sync.Once
	compiled *jsonschema.Schema
	err      error
}

// Validate parses raw as JSON and checks it against the schema.
func (s *Schema) Validate(raw json.RawMessage) error {
	var doc any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return fmt.Errorf("not JSON: %w", err)
	}
	s.once.Do(s.compile)
	if s.err != nil {
		return fmt.Errorf("compile schema %q: %w", s.Name, s.err)
	}
	return s.compiled.Validate(doc)
}

func (s *Schema) compile() {
	// The compiler wants decoded JSON values, so round-trip the Go literal.
	b, err := json.Marshal(s.Definition)
	if err != nil {
		s.err = err
		return
	}
	doc, err := jsonschema.UnmarshalJSON(bytes.NewReader(b))
	if err != nil {
		s.err = err
		return
	}
	url := "mem://" + s.Name + ".json"
	c := jsonschema.NewCompiler()
	if err := c.AddResource(url, doc); err != nil {
		s.err = err
		return
	}
	s.compiled, s.err = c.Compile(url)
}

// checkContent validates a provider's raw output against the prompt's
// schema and wraps a failure as KindInvalid.
func checkContent(provider string, p Prompt, raw json.RawMessage) error {
	if p.Schema == nil {
		return nil
	}
	if err := p.Schema.Validate(raw); err != nil {
		return &Error{Kind: KindInvalid, Provider: provider, Content: raw, Err: err}
	}
	return nil
}
