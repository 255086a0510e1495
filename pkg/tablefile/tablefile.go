// Package tablefile persists resolved group tables as a JSON object
// mapping account address to group ID.
package tablefile

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/ryandielhenn/zephyrgroup/pkg/group"
)

const defaultPerm os.FileMode = 0o644

// Saver implements group.Saver. The table is written to a temporary file
// next to path and renamed over it, so a failed write leaves the previous
// file untouched.
type Saver struct {
	Perm os.FileMode // 0 means 0644
}

var _ group.Saver = Saver{}

func (s Saver) Save(table map[group.Address]group.GroupID, path string) error {
	if path == "" {
		return errors.New("tablefile: path is required")
	}
	data, err := Encode(table)
	if err != nil {
		return err
	}
	perm := s.Perm
	if perm == 0 {
		perm = defaultPerm
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("tablefile: %w", err)
	}
	f, err := os.CreateTemp(dir, "."+filepath.Base(path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("tablefile: %w", err)
	}
	tmp := f.Name()

	if _, err := f.Write(data); err != nil {
		_ = f.Close()
		_ = os.Remove(tmp)
		return fmt.Errorf("tablefile: write %s: %w", path, err)
	}
	if err := f.Sync(); err != nil {
		_ = f.Close()
		_ = os.Remove(tmp)
		return fmt.Errorf("tablefile: sync %s: %w", path, err)
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("tablefile: close %s: %w", path, err)
	}
	if err := os.Chmod(tmp, perm); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("tablefile: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("tablefile: rename %s: %w", path, err)
	}
	return nil
}

// Encode renders table as indented JSON with keys in sorted order.
func Encode(table map[group.Address]group.GroupID) ([]byte, error) {
	out := make(map[string]int, len(table))
	for a, id := range table {
		out[string(a)] = int(id)
	}
	data, err := json.MarshalIndent(out, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("tablefile: encode: %w", err)
	}
	return append(data, '\n'), nil
}

// Load reads a table written by Saver. Values are not range-checked here;
// group.Resolver.LoadCanonical does that.
func Load(path string) (map[group.Address]group.GroupID, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("tablefile: %w", err)
	}
	var raw map[string]int
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("tablefile: decode %s: %w", path, err)
	}
	table := make(map[group.Address]group.GroupID, len(raw))
	for a, id := range raw {
		table[group.Address(a)] = group.GroupID(id)
	}
	return table, nil
}
