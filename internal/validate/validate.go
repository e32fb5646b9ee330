// Package validate checks user-submitted forms against embedded JSON Schemas
// and reports one message per field.
package validate

import (
	"bytes"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

//go:embed schemas/*.json
var schemaFS embed.FS

const schemaBase = "https://errandhub.app/schemas/"

// Form names match the embedded schema files.
const (
	FormSignup   = "signup"
	FormLogin    = "login"
	FormShopping = "shopping"
	FormPickup   = "pickup"
	FormDispute  = "dispute"
	FormProof    = "proof"
	FormSafety   = "safety"
)

var forms = []string{FormSignup, FormLogin, FormShopping, FormPickup, FormDispute, FormProof, FormSafety}

// FieldErrors maps a form field to the message shown under it.
type FieldErrors map[string]string

func (f FieldErrors) Error() string {
	keys := make([]string, 0, len(f))
	for k := range f {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, k+": "+f[k])
	}
	return "validation failed: " + strings.Join(parts, "; ")
}

// AsFieldErrors extracts field errors from err.
func AsFieldErrors(err error) (FieldErrors, bool) {
	var fe FieldErrors
	if errors.As(err, &fe) {
		return fe, true
	}
	return nil, false
}

// Validator holds the compiled schemas.
type Validator struct {
	schemas map[string]*jsonschema.Schema
}

var (
	defaultOnce      sync.Once
	defaultValidator *Validator
	defaultErr       error
)

// Default returns the process-wide validator, compiling schemas on first use.
func Default() (*Validator, error) {
	defaultOnce.Do(func() {
		defaultValidator, defaultErr = New()
	})
	return defaultValidator, defaultErr
}

func New() (*Validator, error) {
	c := jsonschema.NewCompiler()
	c.Draft = jsonschema.Draft2020
	c.AssertFormat = true
	for _, name := range forms {
		data, err := schemaFS.ReadFile("schemas/" + name + ".json")
		if err != nil {
			return nil, fmt.Errorf("read schema %s: %w", name, err)
		}
		if err := c.AddResource(schemaBase+name+".json", bytes.NewReader(data)); err != nil {
			return nil, fmt.Errorf("add schema %s: %w", name, err)
		}
	}
	v := &Validator{schemas: make(map[string]*jsonschema.Schema, len(forms))}
	for _, name := range forms {
		sch, err := c.Compile(schemaBase + name + ".json")
		if err != nil {
			return nil, fmt.Errorf("compile schema %s: %w", name, err)
		}
		v.schemas[name] = sch
	}
	return v, nil
}

// Check validates form data (a struct with json tags) against the named schema.
// It returns FieldErrors when the data is invalid.
func (v *Validator) Check(form string, data any) error {
	sch, ok := v.schemas[form]
	if !ok {
		return fmt.Errorf("validate: unknown form %q", form)
	}
	raw, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("validate: encode %s: %w", form, err)
	}
	var doc any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return fmt.Errorf("validate: decode %s: %w", form, err)
	}
	err = sch.Validate(doc)
	if err == nil {
		return nil
	}
	var ve *jsonschema.ValidationError
	if !errors.As(err, &ve) {
		return err
	}
	return collect(form, ve)
}

// keyword order decides which message wins when a field breaks several rules.
var keywordRank = map[string]int{
	"required":  0,
	"type":      1,
	"minLength": 2,
	"enum":      3,
	"format":    4,
	"pattern":   5,
	"maxLength": 6,
	"maxItems":  7,
}

func collect(form string, root *jsonschema.ValidationError) FieldErrors {
	out := FieldErrors{}
	ranks := map[string]int{}
	var walk func(e *jsonschema.ValidationError)
	walk = func(e *jsonschema.ValidationError) {
		if len(e.Causes) > 0 {
			for _, c := range e.Causes {
				walk(c)
			}
			return
		}
		field := fieldOf(e.InstanceLocation)
		keyword := lastSegment(e.KeywordLocation)
		if keyword == "required" {
			field = missingField(e.Message)
		}
		rank, ok := keywordRank[keyword]
		if !ok {
			rank = len(keywordRank)
		}
		if prev, seen := ranks[field]; seen && prev <= rank {
			return
		}
		ranks[field] = rank
		out[field] = message(form, field, keyword, e.Message)
	}
	walk(root)
	if len(out) == 0 {
		out[""] = root.Message
	}
	return out
}

func fieldOf(instanceLocation string) string {
	loc := strings.TrimPrefix(instanceLocation, "/")
	if i := strings.IndexByte(loc, '/'); i >= 0 {
		loc = loc[:i]
	}
	return loc
}

func lastSegment(keywordLocation string) string {
	if i := strings.LastIndexByte(keywordLocation, '/'); i >= 0 {
		return keywordLocation[i+1:]
	}
	return keywordLocation
}

// missingField pulls the property name out of "missing properties: 'x'".
func missingField(msg string) string {
	start := strings.IndexByte(msg, '\'')
	if start < 0 {
		return ""
	}
	rest := msg[start+1:]
	end := strings.IndexByte(rest, '\'')
	if end < 0 {
		return ""
	}
	return rest[:end]
}
