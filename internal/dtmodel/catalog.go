package dtmodel

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

//go:embed schema/interface.schema.json
var interfaceSchema []byte

const interfaceSchemaRef = "https://pdt.local/schema/interface.schema.json"

var (
	ErrNoModels = errors.New("no DTDL models found")

	compileOnce sync.Once
	compiled    *jsonschema.Schema
	compileErr  error
)

func interfaceValidator() (*jsonschema.Schema, error) {
	compileOnce.Do(func() {
		c := jsonschema.NewCompiler()
		if err := c.AddResource(interfaceSchemaRef, bytes.NewReader(interfaceSchema)); err != nil {
			compileErr = err
			return
		}
		compiled, compileErr = c.Compile(interfaceSchemaRef)
	})
	return compiled, compileErr
}

// ModelDocument is one loaded interface. Raw is the file text as read and
// Canonical its re-encoded form; both are fixed for the life of the catalog.
type ModelDocument struct {
	Controller ControllerID
	ModelID    string
	Version    int
	Path       string
	Raw        string
	Canonical  string
	Interface  *Interface
}

// Catalog is an immutable set of model documents keyed by controller.
type Catalog struct {
	Dir        string
	Generation uint64
	docs       map[ControllerID]*ModelDocument
}

func (c *Catalog) Len() int {
	if c == nil {
		return 0
	}
	return len(c.docs)
}

func (c *Catalog) Lookup(id ControllerID) (*ModelDocument, bool) {
	if c == nil {
		return nil, false
	}
	d, ok := c.docs[id]
	return d, ok
}

// Controllers lists the controllers with a document, in id order.
func (c *Catalog) Controllers() []ControllerID {
	if c == nil {
		return nil
	}
	out := make([]ControllerID, 0, len(c.docs))
	for id := range c.docs {
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// LoadCatalog reads every *.json file in dir in name order. A file that fails
// to parse or validate is skipped and reported in problems; err is set only
// when the directory itself cannot be read. When two files describe the same
// controller the higher version wins.
func LoadCatalog(dir string) (cat *Catalog, problems []error, err error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, nil, fmt.Errorf("read model dir %s: %w", dir, err)
	}
	sch, err := interfaceValidator()
	if err != nil {
		return nil, nil, fmt.Errorf("compile interface schema: %w", err)
	}

	cat = &Catalog{Dir: dir, docs: make(map[ControllerID]*ModelDocument)}
	for _, e := range entries {
		if e.IsDir() || !strings.EqualFold(filepath.Ext(e.Name()), ".json") {
			continue
		}
		path := filepath.Join(dir, e.Name())
		doc, err := loadDocument(path, sch)
		if err != nil {
			problems = append(problems, err)
			continue
		}
		if prev, ok := cat.docs[doc.Controller]; ok && prev.Version >= doc.Version {
			problems = append(problems, fmt.Errorf("%s: %s already loaded from %s", path, prev.ModelID, prev.Path))
			continue
		}
		cat.docs[doc.Controller] = doc
	}
	return cat, problems, nil
}

func loadDocument(path string, sch *jsonschema.Schema) (*ModelDocument, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return nil, fmt.Errorf("%s: invalid json: %w", path, err)
	}
	if err := sch.Validate(v); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	iface, err := parseInterface(raw)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	ctrl, version, err := ControllerFromModelID(iface.ID)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	canonical, err := json.MarshalIndent(iface, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return &ModelDocument{
		Controller: ctrl,
		ModelID:    iface.ID,
		Version:    version,
		Path:       path,
		Raw:        string(raw),
		Canonical:  string(canonical),
		Interface:  iface,
	}, nil
}
