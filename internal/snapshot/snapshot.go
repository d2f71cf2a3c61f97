// Package snapshot reads raw ledger snapshots from files for offline use.
package snapshot

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/repairdesk/backend/internal/models"
)

func Load(path string) (models.RawSnapshot, error) {
	f, err := os.Open(path)
	if err != nil {
		return models.RawSnapshot{}, err
	}
	defer f.Close()
	snap, err := Decode(f, filepath.Ext(path))
	if err != nil {
		return models.RawSnapshot{}, fmt.Errorf("%s: %w", path, err)
	}
	return snap, nil
}

// Decode reads JSON when ext is ".json" or the payload starts with '{',
// and YAML otherwise. JSON numbers are kept as json.Number.
func Decode(r io.Reader, ext string) (models.RawSnapshot, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return models.RawSnapshot{}, err
	}
	var snap models.RawSnapshot
	trimmed := bytes.TrimSpace(data)
	if strings.EqualFold(ext, ".json") || bytes.HasPrefix(trimmed, []byte("{")) {
		dec := json.NewDecoder(bytes.NewReader(trimmed))
		dec.UseNumber()
		if err := dec.Decode(&snap); err != nil {
			return models.RawSnapshot{}, fmt.Errorf("decode json: %w", err)
		}
		return snap, nil
	}
	if err := yaml.Unmarshal(trimmed, &snap); err != nil {
		return models.RawSnapshot{}, fmt.Errorf("decode yaml: %w", err)
	}
	return snap, nil
}
