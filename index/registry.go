package index

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"

	"github.com/pkg/errors"
)

// Factory creates an Index from a configuration map,
// usually decoded from JSON.
type Factory func(context.Context, map[string]interface{}) (Index, error)

var (
	registryMu sync.Mutex
	registry   = make(map[string]Factory)
)

// Register makes a Factory available by name.
// Implementation packages call it from init.
func Register(key string, f Factory) {
	registryMu.Lock()
	defer registryMu.Unlock()
	registry[key] = f
}

// Create creates an Index with the Factory registered as key.
func Create(ctx context.Context, key string, conf map[string]interface{}) (Index, error) {
	registryMu.Lock()
	f, ok := registry[key]
	registryMu.Unlock()
	if !ok {
		return nil, fmt.Errorf("key %s not found in registry", key)
	}
	return f(ctx, conf)
}

// CreateNested creates the Index described by the "nested" parameter of conf,
// for implementations that wrap another Index.
func CreateNested(ctx context.Context, conf map[string]interface{}) (Index, error) {
	nested, ok := conf["nested"].(map[string]interface{})
	if !ok {
		return nil, errors.New(`missing "nested" parameter`)
	}
	nestedType, ok := nested["type"].(string)
	if !ok {
		return nil, errors.New(`"nested" parameter missing "type"`)
	}
	x, err := Create(ctx, nestedType, nested)
	return x, errors.Wrapf(err, "creating nested %s index", nestedType)
}

// Types lists the registered keys in sorted order.
func Types() []string {
	registryMu.Lock()
	defer registryMu.Unlock()

	var result []string
	for k := range registry {
		result = append(result, k)
	}
	sort.Strings(result)
	return result
}

// ConfInt gets an integer parameter from a configuration map.
// It accepts the types produced by encoding/json,
// with or without UseNumber.
func ConfInt(conf map[string]interface{}, key string) (int, bool) {
	switch v := conf[key].(type) {
	case int:
		return v, true
	case float64:
		return int(v), true
	case json.Number:
		n, err := v.Int64()
		return int(n), err == nil
	}
	return 0, false
}
