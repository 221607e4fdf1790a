// Package service loads the service descriptor from a service root.
package service

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

var (
	ErrNoServiceFile = errors.New("no serverless.yml found")
	ErrInvalidEvent  = errors.New("invalid event definition")
)

// fileNames are the service file names checked in a service root, in order.
var fileNames = []string{"serverless.yml", "serverless.yaml"}

// EventType distinguishes HTTP triggers from named custom events.
type EventType string

const (
	EventHTTP   EventType = "http"
	EventCustom EventType = "custom"
)

// Descriptor is the parsed service file. It is read-only once loaded.
type Descriptor struct {
	// Name is the service name.
	Name string
	// Root is the absolute path of the service root.
	Root string
	// Provider holds provider-level defaults.
	Provider Provider
	// Functions keeps the order in which functions appear in the file.
	Functions []Function
}

// Provider holds provider-level settings and function defaults.
type Provider struct {
	Name        string            `yaml:"name"`
	Runtime     string            `yaml:"runtime"`
	Region      string            `yaml:"region"`
	Stage       string            `yaml:"stage"`
	MemorySize  MemorySize        `yaml:"memorySize"`
	Timeout     Timeout           `yaml:"timeout"`
	Labels      map[string]string `yaml:"labels"`
	Environment map[string]string `yaml:"environment"`
}

// Function is a single function definition. Zero values mean "not set".
type Function struct {
	Name        string            `yaml:"-"`
	Handler     string            `yaml:"handler"`
	Runtime     string            `yaml:"runtime"`
	MemorySize  MemorySize        `yaml:"memorySize"`
	Timeout     Timeout           `yaml:"timeout"`
	Labels      map[string]string `yaml:"labels"`
	Environment map[string]string `yaml:"environment"`
	Events      []Event           `yaml:"events"`
}

// Event is a single trigger on a function.
type Event struct {
	Type   EventType
	Name   string
	Path   string
	Method string
}

type file struct {
	Service   yaml.Node    `yaml:"service"`
	Provider  Provider     `yaml:"provider"`
	Functions functionList `yaml:"functions"`
}

type functionList []Function

// UnmarshalYAML decodes the functions mapping while keeping its order.
func (l *functionList) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind != yaml.MappingNode {
		return fmt.Errorf("functions: expected a mapping, got %s", nodeKind(node))
	}

	for i := 0; i+1 < len(node.Content); i += 2 {
		name := node.Content[i].Value

		var fn Function
		if node.Content[i+1].Kind != yaml.ScalarNode || node.Content[i+1].Tag != "!!null" {
			if err := node.Content[i+1].Decode(&fn); err != nil {
				return fmt.Errorf("functions.%s: %w", name, err)
			}
		}
		fn.Name = name
		*l = append(*l, fn)
	}

	return nil
}

// UnmarshalYAML accepts the string and mapping forms of an event.
func (e *Event) UnmarshalYAML(node *yaml.Node) error {
	switch node.Kind {
	case yaml.ScalarNode:
		if node.Value == "" {
			return ErrInvalidEvent
		}
		*e = Event{Type: EventCustom, Name: node.Value}
		return nil
	case yaml.MappingNode:
		if len(node.Content) != 2 {
			return fmt.Errorf("%w: expected a single key, got %d", ErrInvalidEvent, len(node.Content)/2)
		}
		key, value := node.Content[0].Value, node.Content[1]
		if key == string(EventHTTP) {
			return e.decodeHTTP(value)
		}
		*e = Event{Type: EventCustom, Name: key}
		return nil
	default:
		return fmt.Errorf("%w: unexpected %s", ErrInvalidEvent, nodeKind(node))
	}
}

func (e *Event) decodeHTTP(node *yaml.Node) error {
	*e = Event{Type: EventHTTP, Name: string(EventHTTP)}

	switch node.Kind {
	case yaml.ScalarNode:
		// "GET users/list" or just "users/list"
		parts := strings.Fields(node.Value)
		switch len(parts) {
		case 1:
			e.Path = parts[0]
		case 2:
			e.Method, e.Path = parts[0], parts[1]
		default:
			return fmt.Errorf("%w: http %q", ErrInvalidEvent, node.Value)
		}
	case yaml.MappingNode:
		var spec struct {
			Path   string `yaml:"path"`
			Method string `yaml:"method"`
		}
		if err := node.Decode(&spec); err != nil {
			return fmt.Errorf("%w: %w", ErrInvalidEvent, err)
		}
		e.Path, e.Method = spec.Path, spec.Method
	default:
		return fmt.Errorf("%w: http must be a string or mapping", ErrInvalidEvent)
	}

	return nil
}

// Locate returns the path of the service file in dir.
func Locate(dir string) (string, error) {
	for _, name := range fileNames {
		p := filepath.Join(dir, name)
		if info, err := os.Stat(p); err == nil && !info.IsDir() {
			return p, nil
		}
	}
	return "", fmt.Errorf("%w in %s", ErrNoServiceFile, dir)
}

// Load reads and parses the service file at path. The service root is the
// directory containing it.
func Load(path string) (*Descriptor, error) {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolving service file: %w", err)
	}

	data, err := os.ReadFile(absPath)
	if err != nil {
		return nil, fmt.Errorf("reading service file: %w", err)
	}

	return Parse(data, filepath.Dir(absPath))
}

// Parse parses service file contents for the service rooted at root.
func Parse(data []byte, root string) (*Descriptor, error) {
	var f file
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parsing service file: %w", err)
	}

	name, err := serviceName(&f.Service)
	if err != nil {
		return nil, err
	}

	return &Descriptor{
		Name:      name,
		Root:      root,
		Provider:  f.Provider,
		Functions: f.Functions,
	}, nil
}

// serviceName accepts both `service: name` and `service: {name: name}`.
func serviceName(node *yaml.Node) (string, error) {
	switch node.Kind {
	case 0:
		return "", errors.New("parsing service file: service is required")
	case yaml.ScalarNode:
		return node.Value, nil
	case yaml.MappingNode:
		var s struct {
			Name string `yaml:"name"`
		}
		if err := node.Decode(&s); err != nil {
			return "", fmt.Errorf("parsing service file: %w", err)
		}
		return s.Name, nil
	default:
		return "", fmt.Errorf("parsing service file: unexpected service %s", nodeKind(node))
	}
}

// Function returns the function with the given name.
func (d *Descriptor) Function(name string) (Function, bool) {
	for _, fn := range d.Functions {
		if fn.Name == name {
			return fn, true
		}
	}
	return Function{}, false
}

func nodeKind(node *yaml.Node) string {
	switch node.Kind {
	case yaml.DocumentNode:
		return "document"
	case yaml.SequenceNode:
		return "sequence"
	case yaml.MappingNode:
		return "mapping"
	case yaml.ScalarNode:
		return "scalar"
	case yaml.AliasNode:
		return "alias"
	default:
		return "node"
	}
}
