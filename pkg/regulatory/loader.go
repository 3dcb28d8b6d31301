package regulatory

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// LoadTable reads a penalty table from a YAML file.
func LoadTable(path string) (Table, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Table{}, fmt.Errorf("regulatory: read table: %w", err)
	}
	return ParseTable(data)
}

// ParseTable parses a penalty table from YAML bytes.
func ParseTable(data []byte) (Table, error) {
	var table Table
	if err := yaml.Unmarshal(data, &table); err != nil {
		return Table{}, fmt.Errorf("regulatory: parse table: %w", err)
	}
	for i, p := range table.Penalties {
		if p.Category == "" || p.Jurisdiction == "" {
			return Table{}, fmt.Errorf("regulatory: penalty %d: category and jurisdiction required", i)
		}
		if p.MaxExposure < p.MinExposure {
			return Table{}, fmt.Errorf("regulatory: penalty %d (%s/%s): max below min", i, p.Category, p.Jurisdiction)
		}
	}
	return table, nil
}
