package component

import (
	"bytes"
	_ "embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/xeipuuv/gojsonschema"
	"golang.org/x/mod/semver"
	"gopkg.in/yaml.v3"
)

// DescriptorFile — имя файла описания в каталоге компонента.
const DescriptorFile = "component.yaml"

//go:embed descriptor_schema.json
var schemaBytes []byte

var (
	schema     *gojsonschema.Schema
	schemaOnce sync.Once
	schemaErr  error
)

// Descriptor — описание компонента.
type Descriptor struct {
	Title       string              `yaml:"title"`
	Description string              `yaml:"description"`
	Version     string              `yaml:"version"`
	Credentials map[string]any      `yaml:"credentials"`
	Triggers    map[string]Function `yaml:"triggers"`
	Actions     map[string]Function `yaml:"actions"`
}

// Function — trigger или action компонента.
type Function struct {
	// Main — имя реализации в Registry.
	Main string `yaml:"main"`

	Title       string         `yaml:"title"`
	Description string         `yaml:"description"`
	Type        string         `yaml:"type"`
	Metadata    map[string]any `yaml:"metadata"`
	Fields      map[string]any `yaml:"fields"`
}

// Function ищет функцию среди triggers и actions.
func (d *Descriptor) Function(name string) (Function, bool) {
	if fn, ok := d.Triggers[name]; ok {
		return fn, true
	}
	fn, ok := d.Actions[name]
	return fn, ok
}

// ParseDescriptor валидирует и разбирает component.yaml.
//
// Порядок: JSON schema, строгий YAML decode, semver версии.
func ParseDescriptor(data []byte) (*Descriptor, error) {
	if len(bytes.TrimSpace(data)) == 0 {
		return nil, fmt.Errorf("%w: descriptor is empty", ErrInvalidDescriptor)
	}

	if err := validateSchema(data); err != nil {
		return nil, err
	}

	var d Descriptor
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&d); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidDescriptor, err)
	}

	version := d.Version
	if !strings.HasPrefix(version, "v") {
		version = "v" + version
	}
	if !semver.IsValid(version) {
		return nil, fmt.Errorf("%w: version %q is not semver", ErrInvalidDescriptor, d.Version)
	}

	return &d, nil
}

// LoadDescriptor читает component.yaml из каталога dir.
// Если файла нет, возвращает nil без ошибки.
func LoadDescriptor(dir string) (*Descriptor, error) {
	if dir == "" {
		return nil, nil
	}

	data, err := os.ReadFile(filepath.Join(dir, DescriptorFile))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("read descriptor: %w", err)
	}

	return ParseDescriptor(data)
}

func loadSchema() (*gojsonschema.Schema, error) {
	schemaOnce.Do(func() {
		schema, schemaErr = gojsonschema.NewSchema(gojsonschema.NewBytesLoader(schemaBytes))
		if schemaErr != nil {
			schemaErr = fmt.Errorf("compile descriptor schema: %w", schemaErr)
		}
	})
	return schema, schemaErr
}

func validateSchema(data []byte) error {
	s, err := loadSchema()
	if err != nil {
		return err
	}

	var doc any
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidDescriptor, err)
	}

	result, err := s.Validate(gojsonschema.NewGoLoader(doc))
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidDescriptor, err)
	}
	if result.Valid() {
		return nil
	}

	problems := make([]string, 0, len(result.Errors()))
	for _, desc := range result.Errors() {
		problems = append(problems, fmt.Sprintf("%s: %s", desc.Field(), desc.Description()))
	}
	return fmt.Errorf("%w: %s", ErrInvalidDescriptor, strings.Join(problems, "; "))
}
