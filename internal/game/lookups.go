package game

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Lookups holds static game tables. A nil *Lookups is valid and empty.
type Lookups struct {
	Skills map[int]string `yaml:"skills"`
	Items  map[int]string `yaml:"items"`
}

// LoadLookups reads a YAML lookups file.
func LoadLookups(path string) (*Lookups, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading lookups: %w", err)
	}
	var l Lookups
	if err := yaml.Unmarshal(data, &l); err != nil {
		return nil, fmt.Errorf("parsing lookups %s: %w", path, err)
	}
	return &l, nil
}

// SkillName resolves a skill id.
func (l *Lookups) SkillName(id int) (string, bool) {
	if l == nil {
		return "", false
	}
	name, ok := l.Skills[id]
	return name, ok
}

// ItemName resolves an item id.
func (l *Lookups) ItemName(id int) (string, bool) {
	if l == nil {
		return "", false
	}
	name, ok := l.Items[id]
	return name, ok
}
