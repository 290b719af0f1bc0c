// Package knowledge loads the project knowledge base that backs the
// assistant's [PROJECT:name] annotations. The base is a YAML file so
// deployments can swap the project catalog without a rebuild.
package knowledge

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"convosync/pkg/models"
)

// Base is the loaded knowledge base.
type Base struct {
	Persona  string           `yaml:"persona"`
	Projects []models.Project `yaml:"projects"`
}

// Load reads and parses the knowledge base at path. A missing path yields
// an empty base rather than an error: the engine works without project
// annotations.
func Load(path string) (*Base, error) {
	if path == "" {
		return &Base{}, nil
	}
	b, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return &Base{}, nil
		}
		return nil, fmt.Errorf("read knowledge base: %w", err)
	}
	var kb Base
	if err := yaml.Unmarshal(b, &kb); err != nil {
		return nil, fmt.Errorf("parse knowledge base: %w", err)
	}
	return &kb, nil
}

// FindProject returns the project whose name matches case-insensitively.
func (b *Base) FindProject(name string) (models.Project, bool) {
	for _, p := range b.Projects {
		if strings.EqualFold(p.Name, name) {
			return p, true
		}
	}
	return models.Project{}, false
}
