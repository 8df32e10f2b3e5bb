package config

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// InstanceSpec describes one backend server instance in the bootstrap file.
type InstanceSpec struct {
	ID       string  `yaml:"id"`
	Host     string  `yaml:"host"`
	Port     int     `yaml:"port"`
	Capacity int64   `yaml:"capacity"`
	Weight   float64 `yaml:"weight"`
}

// InstancesFile is the on-disk shape of the instance bootstrap file.
type InstancesFile struct {
	Instances []InstanceSpec `yaml:"instances"`
}

// LoadInstancesFile parses and validates a YAML instance bootstrap file.
func LoadInstancesFile(path string) ([]InstanceSpec, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("instances file %s: %w", path, err)
	}
	return ParseInstances(raw)
}

// ParseInstances parses and validates instance bootstrap YAML content.
func ParseInstances(raw []byte) ([]InstanceSpec, error) {
	var f InstancesFile
	if err := yaml.Unmarshal(raw, &f); err != nil {
		return nil, fmt.Errorf("instances file: %w", err)
	}

	var errs []string
	seen := make(map[string]struct{}, len(f.Instances))
	for i := range f.Instances {
		spec := &f.Instances[i]
		spec.ID = strings.TrimSpace(spec.ID)
		if spec.ID == "" {
			errs = append(errs, fmt.Sprintf("instances[%d]: id must not be empty", i))
			continue
		}
		if _, dup := seen[spec.ID]; dup {
			errs = append(errs, fmt.Sprintf("instances[%d]: duplicate id %q", i, spec.ID))
		}
		seen[spec.ID] = struct{}{}
		if strings.TrimSpace(spec.Host) == "" {
			errs = append(errs, fmt.Sprintf("instances[%d]: host must not be empty", i))
		}
		if spec.Port < 1 || spec.Port > 65535 {
			errs = append(errs, fmt.Sprintf("instances[%d]: port must be 1-65535, got %d", i, spec.Port))
		}
		if spec.Capacity <= 0 {
			errs = append(errs, fmt.Sprintf("instances[%d]: capacity must be positive, got %d", i, spec.Capacity))
		}
		if spec.Weight == 0 {
			spec.Weight = 1.0
		}
		if spec.Weight < 0 {
			errs = append(errs, fmt.Sprintf("instances[%d]: weight must not be negative, got %g", i, spec.Weight))
		}
	}

	if len(errs) > 0 {
		return nil, fmt.Errorf("instances file invalid:\n  %s", strings.Join(errs, "\n  "))
	}
	return f.Instances, nil
}
