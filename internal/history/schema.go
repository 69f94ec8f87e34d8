package history

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"sync"

	"github.com/rotisserie/eris"
	"github.com/santhosh-tekuri/jsonschema/v5"
)

// BundleSchemaVersion is the bundle format written by ExportAll.
const BundleSchemaVersion = 1

// ErrInvalidBundle wraps every schema or decoding failure in ParseBundle.
var ErrInvalidBundle = eris.New("history: invalid bundle")

//go:embed bundle.schema.json
var bundleSchemaJSON []byte

const bundleSchemaURL = "bundle.schema.json"

var bundleSchema = sync.OnceValues(func() (*jsonschema.Schema, error) {
	c := jsonschema.NewCompiler()
	c.AssertFormat = true
	if err := c.AddResource(bundleSchemaURL, bytes.NewReader(bundleSchemaJSON)); err != nil {
		return nil, eris.Wrap(err, "history: add bundle schema")
	}
	s, err := c.Compile(bundleSchemaURL)
	if err != nil {
		return nil, eris.Wrap(err, "history: compile bundle schema")
	}
	return s, nil
})

// ParseBundle validates raw against the bundle schema and decodes it.
func ParseBundle(raw []byte) (Bundle, error) {
	schema, err := bundleSchema()
	if err != nil {
		return Bundle{}, err
	}

	var doc any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return Bundle{}, eris.Wrapf(ErrInvalidBundle, "decode: %v", err)
	}
	if err := schema.Validate(doc); err != nil {
		return Bundle{}, eris.Wrapf(ErrInvalidBundle, "%v", err)
	}

	var b Bundle
	if err := json.Unmarshal(raw, &b); err != nil {
		return Bundle{}, eris.Wrapf(ErrInvalidBundle, "decode: %v", err)
	}
	return b, nil
}
