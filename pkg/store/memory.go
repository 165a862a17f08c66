package store

import (
	"context"
	"encoding/json"
	"fmt"
	"reflect"
	"sort"
	"strings"
	"sync"
	"time"
)

type memoryDoc struct {
	data    []byte
	created time.Time
	seq     int
}

// Memory is an in-process Store
type Memory struct {
	mu   sync.RWMutex
	docs map[string]map[string]*memoryDoc
	seq  int
}

// NewMemory creates an empty in-memory store
func NewMemory() *Memory {
	return &Memory{docs: make(map[string]map[string]*memoryDoc)}
}

// Get implements Store
func (m *Memory) Get(_ context.Context, kind, id string, dest interface{}) error {
	m.mu.RLock()
	doc, ok := m.docs[kind][id]
	m.mu.RUnlock()
	if !ok {
		return fmt.Errorf("%s %s: %w", kind, id, ErrNotFound)
	}
	return json.Unmarshal(doc.data, dest)
}

// Save implements Store
func (m *Memory) Save(_ context.Context, kind, id string, doc interface{}) error {
	data, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("failed to encode %s %s: %w", kind, id, err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	byID, ok := m.docs[kind]
	if !ok {
		byID = make(map[string]*memoryDoc)
		m.docs[kind] = byID
	}
	if existing, ok := byID[id]; ok {
		existing.data = data
		return nil
	}
	m.seq++
	byID[id] = &memoryDoc{data: data, created: time.Now(), seq: m.seq}
	return nil
}

// Query implements Store
func (m *Memory) Query(_ context.Context, kind string, filters ...Filter) ([]json.RawMessage, error) {
	want := make([]interface{}, len(filters))
	for i, f := range filters {
		v, err := normalize(f.Value)
		if err != nil {
			return nil, err
		}
		want[i] = v
	}

	m.mu.RLock()
	var matches []*memoryDoc
	for _, doc := range m.docs[kind] {
		var fields map[string]interface{}
		if err := json.Unmarshal(doc.data, &fields); err != nil {
			continue
		}
		ok := true
		for i, f := range filters {
			if !reflect.DeepEqual(lookup(fields, f.Field), want[i]) {
				ok = false
				break
			}
		}
		if ok {
			matches = append(matches, doc)
		}
	}
	m.mu.RUnlock()

	sort.Slice(matches, func(i, j int) bool { return matches[i].seq < matches[j].seq })

	out := make([]json.RawMessage, 0, len(matches))
	for _, doc := range matches {
		out = append(out, append(json.RawMessage(nil), doc.data...))
	}
	return out, nil
}

// Delete implements Store
func (m *Memory) Delete(_ context.Context, kind, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.docs[kind][id]; !ok {
		return fmt.Errorf("%s %s: %w", kind, id, ErrNotFound)
	}
	delete(m.docs[kind], id)
	return nil
}

// Close implements Store
func (m *Memory) Close() error {
	return nil
}

func normalize(v interface{}) (interface{}, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var out interface{}
	err = json.Unmarshal(data, &out)
	return out, err
}

func lookup(fields map[string]interface{}, path string) interface{} {
	var cur interface{} = fields
	for _, part := range strings.Split(path, ".") {
		obj, ok := cur.(map[string]interface{})
		if !ok {
			return nil
		}
		cur = obj[part]
	}
	return cur
}
