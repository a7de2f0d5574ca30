package snapshot

import (
	"fmt"
	"net/url"
	"strings"
	"sync"
)

type SinkFactory func(dsn string) (Sink, error)

var sinkFactoryRegistry = struct {
	mu        sync.RWMutex
	factories map[string]SinkFactory
}{
	factories: map[string]SinkFactory{},
}

// RegisterSinkFactory makes BuildSinkFromDSN route scheme to factory. It takes
// precedence over the built-in schemes.
func RegisterSinkFactory(scheme string, factory SinkFactory) {
	scheme = normalizeScheme(scheme)
	if scheme == "" || factory == nil {
		return
	}
	sinkFactoryRegistry.mu.Lock()
	defer sinkFactoryRegistry.mu.Unlock()
	sinkFactoryRegistry.factories[scheme] = factory
}

func lookupSinkFactory(scheme string) (SinkFactory, bool) {
	scheme = normalizeScheme(scheme)
	sinkFactoryRegistry.mu.RLock()
	defer sinkFactoryRegistry.mu.RUnlock()
	factory, ok := sinkFactoryRegistry.factories[scheme]
	return factory, ok
}

func normalizeScheme(scheme string) string {
	return strings.ToLower(strings.TrimSpace(scheme))
}

// BuildSinkFromDSN picks a sink by DSN scheme. An empty DSN yields a nil sink.
func BuildSinkFromDSN(dsn string) (Sink, error) {
	dsn = strings.TrimSpace(dsn)
	if dsn == "" {
		return nil, nil
	}
	parsed, err := url.Parse(dsn)
	if err != nil {
		return nil, err
	}
	scheme := normalizeScheme(parsed.Scheme)
	if factory, ok := lookupSinkFactory(scheme); ok {
		return factory(dsn)
	}
	switch scheme {
	case "", "file":
		path, pathErr := dsnPath(parsed, dsn)
		if pathErr != nil {
			return nil, pathErr
		}
		return NewFileSink(path), nil
	case "memory", "mem", "inmem":
		return NewMemorySink(), nil
	case "postgres", "postgresql":
		sink, err := NewPostgresSink(dsn)
		if err != nil {
			return nil, err
		}
		return sink, nil
	case "redis", "rediss":
		sink, err := NewRedisSink(dsn)
		if err != nil {
			return nil, err
		}
		return sink, nil
	default:
		return nil, fmt.Errorf("unsupported snapshot sink scheme: %s", scheme)
	}
}

func dsnPath(parsed *url.URL, raw string) (string, error) {
	if parsed == nil {
		return "", ErrInvalidInput
	}
	if strings.TrimSpace(parsed.Scheme) == "" {
		if strings.TrimSpace(raw) == "" {
			return "", ErrInvalidInput
		}
		return strings.TrimSpace(raw), nil
	}
	path := strings.TrimSpace(parsed.Path)
	if path == "" {
		path = strings.TrimSpace(parsed.Opaque)
	}
	if path == "" {
		path = strings.TrimSpace(parsed.Host)
	}
	if path == "" {
		return "", ErrInvalidInput
	}
	return path, nil
}
