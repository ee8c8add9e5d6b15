package catalog

import (
	"context"
	"fmt"
	"os"
	"sort"

	"github.com/Craverse/craveverse/internal/models"

	"gopkg.in/yaml.v3"
)

type fileCatalog struct {
	Items  []models.ShopItem        `yaml:"items"`
	Levels []models.LevelDefinition `yaml:"levels"`
}

// FileSource is a Source loaded once from YAML. It backs the database-less
// mode and tests.
type FileSource struct {
	items  []models.ShopItem
	byID   map[string]models.ShopItem
	levels map[string]models.LevelDefinition
}

func LoadFile(path string) (*FileSource, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read catalog %q: %w", path, err)
	}
	return Parse(data)
}

func Parse(data []byte) (*FileSource, error) {
	var fc fileCatalog
	if err := yaml.Unmarshal(data, &fc); err != nil {
		return nil, fmt.Errorf("parse catalog: %w", err)
	}
	return NewStatic(fc.Items, fc.Levels)
}

func NewStatic(items []models.ShopItem, levels []models.LevelDefinition) (*FileSource, error) {
	fs := &FileSource{
		byID:   make(map[string]models.ShopItem, len(items)),
		levels: make(map[string]models.LevelDefinition, len(levels)),
	}
	for _, it := range items {
		if it.ID == "" {
			return nil, fmt.Errorf("catalog item %q: missing id", it.Name)
		}
		if _, dup := fs.byID[it.ID]; dup {
			return nil, fmt.Errorf("catalog item %q: duplicate id", it.ID)
		}
		if it.Price < 0 {
			return nil, fmt.Errorf("catalog item %q: negative price", it.ID)
		}
		fs.byID[it.ID] = it
		fs.items = append(fs.items, it)
	}
	for _, lvl := range levels {
		if lvl.ID == "" || lvl.Number < 1 {
			return nil, fmt.Errorf("catalog level %q: id and positive level_number required", lvl.ID)
		}
		if _, dup := fs.levels[lvl.ID]; dup {
			return nil, fmt.Errorf("catalog level %q: duplicate id", lvl.ID)
		}
		fs.levels[lvl.ID] = lvl
	}
	return fs, nil
}

func (f *FileSource) Items(context.Context) ([]models.ShopItem, error) {
	return append([]models.ShopItem(nil), f.items...), nil
}

func (f *FileSource) Item(_ context.Context, id string) (models.ShopItem, error) {
	it, ok := f.byID[id]
	if !ok {
		return models.ShopItem{}, ErrNotFound
	}
	return it, nil
}

func (f *FileSource) Level(_ context.Context, id string) (models.LevelDefinition, error) {
	lvl, ok := f.levels[id]
	if !ok {
		return models.LevelDefinition{}, ErrNotFound
	}
	return lvl, nil
}

// Levels returns every level definition, ordered by number then id.
func (f *FileSource) Levels() []models.LevelDefinition {
	res := make([]models.LevelDefinition, 0, len(f.levels))
	for _, lvl := range f.levels {
		res = append(res, lvl)
	}
	sort.Slice(res, func(i, j int) bool {
		if res[i].Number == res[j].Number {
			return res[i].ID < res[j].ID
		}
		return res[i].Number < res[j].Number
	})
	return res
}
