package projector

import (
	"errors"
	"fmt"
	"strings"

	"github.com/watzon/fnrun/internal/service"
)

var (
	ErrDuplicateFunction     = errors.New("duplicate function")
	ErrDuplicateSubscription = errors.New("duplicate subscription")
)

const (
	// ProviderTypeEmulator routes gateway invocations to the local emulator.
	ProviderTypeEmulator = "emulator"
	// EmulatorAPIVersion is the emulator API version the gateway calls.
	EmulatorAPIVersion = "v0"
	// DefaultHTTPMethod is used for http triggers without a method.
	DefaultHTTPMethod = "GET"
)

// SubscriptionType distinguishes HTTP subscriptions from custom events.
type SubscriptionType string

const (
	SubscriptionHTTP  SubscriptionType = "http"
	SubscriptionEvent SubscriptionType = "event"
)

// GatewayConfiguration is the full configuration pushed to the gateway. It
// replaces whatever the gateway held before.
type GatewayConfiguration struct {
	Functions     []GatewayFunction `json:"functions"`
	Subscriptions []Subscription    `json:"subscriptions"`
}

// GatewayFunction registers a function and the target that runs it.
type GatewayFunction struct {
	FunctionID string           `json:"functionId"`
	Provider   FunctionProvider `json:"provider"`
}

// FunctionProvider is the invocation target of a gateway function.
type FunctionProvider struct {
	Type        string `json:"type"`
	EmulatorURL string `json:"emulatorURL"`
	APIVersion  string `json:"apiVersion"`
}

// Subscription binds a trigger to a function.
type Subscription struct {
	Type       SubscriptionType `json:"type"`
	Event      string           `json:"event"`
	FunctionID string           `json:"functionId"`
	Method     string           `json:"method,omitempty"`
	Path       string           `json:"path,omitempty"`
}

// Key identifies the subscription within a configuration. The gateway routes
// http subscriptions by path and custom events by event name, so two
// subscriptions sharing either collide.
func (s Subscription) Key() string {
	if s.Type == SubscriptionHTTP {
		return "http " + s.Path
	}
	return "event " + s.Event
}

// ProjectRegistration builds the gateway configuration for desc. Every
// function is routed to emulatorURL. Name collisions are returned as errors.
func ProjectRegistration(desc *service.Descriptor, emulatorURL string) (GatewayConfiguration, error) {
	cfg := GatewayConfiguration{
		Functions:     make([]GatewayFunction, 0, len(desc.Functions)),
		Subscriptions: make([]Subscription, 0),
	}

	functions := make(map[string]bool, len(desc.Functions))
	subscriptions := make(map[string]bool)

	for _, fn := range desc.Functions {
		id := FunctionID(desc.Name, fn.Name)
		if functions[id] {
			return GatewayConfiguration{}, fmt.Errorf("%w: %s", ErrDuplicateFunction, id)
		}
		functions[id] = true

		cfg.Functions = append(cfg.Functions, GatewayFunction{
			FunctionID: id,
			Provider: FunctionProvider{
				Type:        ProviderTypeEmulator,
				EmulatorURL: emulatorURL,
				APIVersion:  EmulatorAPIVersion,
			},
		})

		for _, ev := range fn.Events {
			sub := subscriptionFor(id, ev)
			key := sub.Key()
			if subscriptions[key] {
				return GatewayConfiguration{}, fmt.Errorf("%w: %s", ErrDuplicateSubscription, key)
			}
			subscriptions[key] = true
			cfg.Subscriptions = append(cfg.Subscriptions, sub)
		}
	}

	return cfg, nil
}

func subscriptionFor(functionID string, ev service.Event) Subscription {
	if ev.Type == service.EventHTTP {
		method := strings.ToUpper(strings.TrimSpace(ev.Method))
		if method == "" {
			method = DefaultHTTPMethod
		}
		return Subscription{
			Type:       SubscriptionHTTP,
			Event:      "http",
			FunctionID: functionID,
			Method:     method,
			Path:       "/" + strings.TrimPrefix(strings.TrimSpace(ev.Path), "/"),
		}
	}

	return Subscription{
		Type:       SubscriptionEvent,
		Event:      ev.Name,
		FunctionID: functionID,
	}
}
