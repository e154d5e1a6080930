// Package labels resolves model output positions to EuroSAT class names.
package labels

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"sort"

	"go.uber.org/zap"
)

// Builtin is the label order the EuroSAT ResNet-18 was trained with.
var Builtin = []string{
	"AnnualCrop",
	"Forest",
	"HerbaceousVegetation",
	"Highway",
	"Industrial",
	"Pasture",
	"PermanentCrop",
	"Residential",
	"River",
	"SeaLake",
}

// SourceBuiltin is the Table.Source of the fallback list.
const SourceBuiltin = "builtin"

// MissingLabelMapError reports that the label map file does not exist. It is
// not fatal: Load falls back to Builtin.
type MissingLabelMapError struct {
	Path string
	Err  error
}

func (e *MissingLabelMapError) Error() string {
	return fmt.Sprintf("label map %q not found: %v", e.Path, e.Err)
}

func (e *MissingLabelMapError) Unwrap() error { return e.Err }

// Table is the read-only ordered list of class names.
type Table struct {
	names  []string
	source string
}

// New builds a table from names in output order.
func New(names []string, source string) *Table {
	return &Table{names: append([]string(nil), names...), source: source}
}

// Load reads a JSON object mapping label name to output index. A missing file
// yields the builtin table and a warning; any other failure is returned.
func Load(path string, logger *zap.Logger) (*Table, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		missing := &MissingLabelMapError{Path: path, Err: err}
		logger.Warn("label map missing, using builtin class names",
			zap.Error(missing), zap.Strings("classes", Builtin))
		return New(Builtin, SourceBuiltin), nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read label map: %w", err)
	}

	names, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("failed to parse label map %q: %w", path, err)
	}
	logger.Info("loaded label map", zap.String("path", path), zap.Strings("classes", names))
	return New(names, path), nil
}

// Parse decodes a {"name": index} object into names ordered by index. Indices
// must cover 0..n-1 exactly once.
func Parse(data []byte) ([]string, error) {
	var mapping map[string]int
	if err := json.Unmarshal(data, &mapping); err != nil {
		return nil, err
	}
	if len(mapping) == 0 {
		return nil, errors.New("label map is empty")
	}

	type pair struct {
		name  string
		index int
	}
	pairs := make([]pair, 0, len(mapping))
	for name, idx := range mapping {
		pairs = append(pairs, pair{name, idx})
	}
	sort.Slice(pairs, func(i, j int) bool { return pairs[i].index < pairs[j].index })

	names := make([]string, len(pairs))
	for i, p := range pairs {
		if p.index != i {
			return nil, fmt.Errorf("label indices must be contiguous from 0: %q has index %d at position %d", p.name, p.index, i)
		}
		names[i] = p.name
	}
	return names, nil
}

// Len is the number of classes.
func (t *Table) Len() int { return len(t.names) }

// Name returns the label at output position i.
func (t *Table) Name(i int) (string, error) {
	if i < 0 || i >= len(t.names) {
		return "", fmt.Errorf("class index %d out of range [0,%d)", i, len(t.names))
	}
	return t.names[i], nil
}

// Names returns a copy of the labels in output order.
func (t *Table) Names() []string { return append([]string(nil), t.names...) }

// Source is the file the table came from, or SourceBuiltin.
func (t *Table) Source() string { return t.source }
