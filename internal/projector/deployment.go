// Package projector turns a service descriptor into the payloads the
// emulator and the event gateway accept.
package projector

import (
	"path"
	"path/filepath"
	"strings"

	"github.com/watzon/fnrun/internal/service"
)

const (
	// DefaultMemorySize is the memory size in MB when neither the function
	// nor the provider sets one.
	DefaultMemorySize = 256
	// DefaultTimeout is the timeout in seconds when neither the function nor
	// the provider sets one.
	DefaultTimeout = 60
)

// FunctionDeploymentConfig is the emulator deployment payload for one
// function.
type FunctionDeploymentConfig struct {
	FunctionID   string            `json:"functionId"`
	FunctionName string            `json:"functionName"`
	ServiceName  string            `json:"serviceName"`
	ServicePath  string            `json:"servicePath"`
	HandlerPath  string            `json:"handlerPath"`
	HandlerName  string            `json:"handlerName"`
	Provider     string            `json:"provider,omitempty"`
	Runtime      string            `json:"runtime,omitempty"`
	Region       string            `json:"region,omitempty"`
	MemorySize   int               `json:"memorySize"`
	Timeout      int               `json:"timeout"`
	Labels       map[string]string `json:"labels,omitempty"`
	Environment  map[string]string `json:"environment,omitempty"`
}

// FunctionID returns the identifier shared by the emulator and the gateway.
func FunctionID(serviceName, functionName string) string {
	return serviceName + "-" + functionName
}

// ProjectDeployment returns one deployment payload per function, in
// descriptor order.
func ProjectDeployment(desc *service.Descriptor) []FunctionDeploymentConfig {
	configs := make([]FunctionDeploymentConfig, 0, len(desc.Functions))
	for _, fn := range desc.Functions {
		handlerPath, handlerName := resolveHandler(fn.Handler)

		runtime := fn.Runtime
		if runtime == "" {
			runtime = desc.Provider.Runtime
		}

		configs = append(configs, FunctionDeploymentConfig{
			FunctionID:   FunctionID(desc.Name, fn.Name),
			FunctionName: fn.Name,
			ServiceName:  desc.Name,
			ServicePath:  desc.Root,
			HandlerPath:  handlerPath,
			HandlerName:  handlerName,
			Provider:     desc.Provider.Name,
			Runtime:      runtime,
			Region:       desc.Provider.Region,
			MemorySize:   firstPositive(int(fn.MemorySize), int(desc.Provider.MemorySize), DefaultMemorySize),
			Timeout:      firstPositive(int(fn.Timeout), int(desc.Provider.Timeout), DefaultTimeout),
			Labels:       merge(desc.Provider.Labels, fn.Labels),
			Environment:  merge(desc.Provider.Environment, fn.Environment),
		})
	}
	return configs
}

// resolveHandler splits "src/users.create" into the module path relative to
// the service root ("src/users") and the exported name ("create").
func resolveHandler(handler string) (string, string) {
	handler = filepath.ToSlash(strings.TrimSpace(handler))

	modulePath, name := handler, ""
	if i := strings.LastIndex(handler, "."); i > strings.LastIndex(handler, "/") {
		modulePath, name = handler[:i], handler[i+1:]
	}

	if modulePath == "" {
		return "", name
	}
	return strings.TrimPrefix(path.Clean(modulePath), "/"), name
}

func firstPositive(values ...int) int {
	for _, v := range values {
		if v > 0 {
			return v
		}
	}
	return 0
}

// merge copies base and applies override on top. It returns nil when both
// are empty.
func merge(base, override map[string]string) map[string]string {
	if len(base) == 0 && len(override) == 0 {
		return nil
	}

	out := make(map[string]string, len(base)+len(override))
	for k, v := range base {
		out[k] = v
	}
	for k, v := range override {
		out[k] = v
	}
	return out
}
