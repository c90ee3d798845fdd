package store

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
)

// Snapshot value at a path at one point in time
type Snapshot struct {
	Path     string
	exists   bool
	children []Child
}

func (s Snapshot) Exists() bool { return s.exists }

// Children in key order
func (s Snapshot) Children() []Child { return s.children }

// Decode unmarshals the object into dest; ErrNotFound when absent
func (s Snapshot) Decode(dest any) error {
	if !s.exists {
		return fmt.Errorf("%s: %w", s.Path, ErrNotFound)
	}
	if err := json.Unmarshal(joinObject(s.children), dest); err != nil {
		return fmt.Errorf("failed to decode %s: %w", s.Path, err)
	}
	return nil
}

func hashSnapshot(path string, fields map[string]string) Snapshot {
	if len(fields) == 0 {
		return Snapshot{Path: path}
	}
	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	children := make([]Child, 0, len(keys))
	for _, k := range keys {
		children = append(children, Child{Key: k, Value: json.RawMessage(fields[k])})
	}
	return Snapshot{Path: path, exists: true, children: children}
}

func joinObject(children []Child) []byte {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, c := range children {
		if i > 0 {
			buf.WriteByte(',')
		}
		key, _ := json.Marshal(c.Key)
		buf.Write(key)
		buf.WriteByte(':')
		if len(c.Value) == 0 {
			buf.WriteString("null")
		} else {
			buf.Write(c.Value)
		}
	}
	buf.WriteByte('}')
	return buf.Bytes()
}
