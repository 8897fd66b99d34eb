package memory

import (
	"sort"
	"sync"

	"github.com/barrersoftware/copilot-plugin-system/pkg/plugin"
)

// DataStore is the shared key/value store handed to plugins through
// plugin.Host. Values are cloned on the way in and out so callers never
// share nested maps.
type DataStore struct {
	mu   sync.RWMutex
	data map[string]plugin.Value
}

var _ plugin.Store = (*DataStore)(nil)

// NewDataStore returns an empty data store.
func NewDataStore() *DataStore {
	return &DataStore{data: make(map[string]plugin.Value)}
}

func (d *DataStore) Get(key string) (plugin.Value, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	v, ok := d.data[key]
	if !ok {
		return plugin.Value{}, false
	}
	return v.Clone(), true
}

func (d *DataStore) Set(key string, v plugin.Value) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.data[key] = v.Clone()
}

func (d *DataStore) Delete(key string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.data, key)
}

// Keys returns the stored keys in sorted order.
func (d *DataStore) Keys() []string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	keys := make([]string, 0, len(d.data))
	for k := range d.data {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
