package publisher

import (
	"fmt"
	"sync"

	"github.com/naanagon/yugabyte-db/cfg"
)

// SinkFactory constructs a sink from its configuration block.
type SinkFactory func(config cfg.SinkConfiguration) (Sink, error)

var (
	factoryMu sync.RWMutex
	factories = make(map[string]SinkFactory)
)

// RegisterSink registers a sink factory under a kind name. Called from sink
// package init functions.
func RegisterSink(kind string, factory SinkFactory) {
	factoryMu.Lock()
	defer factoryMu.Unlock()
	factories[kind] = factory
}

// NewSink builds a sink from configuration.
func NewSink(config cfg.SinkConfiguration) (Sink, error) {
	factoryMu.RLock()
	factory, ok := factories[config.Kind]
	factoryMu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("unknown sink kind %q", config.Kind)
	}
	return factory(config)
}
