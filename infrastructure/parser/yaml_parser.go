// Package parser implements the declaration parser port over YAML.
package parser

import (
	"encoding/json"
	"fmt"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/gantry-dev/gantry/domain/entities"
	"github.com/gantry-dev/gantry/domain/ports"
)

// YamlDeclarationParser implements DeclarationParser for YAML files.
type YamlDeclarationParser struct{}

// NewYamlDeclarationParser creates a new YamlDeclarationParser.
func NewYamlDeclarationParser() ports.DeclarationParser {
	return &YamlDeclarationParser{}
}

// Parse unmarshals YAML bytes into extension declarations. The file holds a
// top-level `extensions` list; `enabled` defaults to true when omitted, and
// an explicit `protocol` key must agree with the populated source variant.
func (p *YamlDeclarationParser) Parse(data []byte) ([]entities.ExtensionConfig, error) {
	var file declarationFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("unmarshal declarations: %w", err)
	}

	configs := make([]entities.ExtensionConfig, 0, len(file.Extensions))
	for i, decl := range file.Extensions {
		cfg, err := decl.toConfig()
		if err != nil {
			name := decl.Name
			if name == "" {
				name = fmt.Sprintf("#%d", i)
			}
			return nil, fmt.Errorf("extension %s: %w", name, err)
		}
		configs = append(configs, cfg)
	}
	return configs, nil
}

type declarationFile struct {
	Extensions []declaration `yaml:"extensions"`
}

// declaration is the YAML shape of one entry. It differs from
// entities.ExtensionConfig where YAML needs friendlier types: durations as
// strings, init config as a mapping, enabled defaulting to true.
type declaration struct {
	Name        string                   `yaml:"name"`
	Enabled     *bool                    `yaml:"enabled"`
	Protocol    string                   `yaml:"protocol"`
	Source      entities.ExtensionSource `yaml:"source"`
	Permissions *entities.Permissions    `yaml:"permissions"`
	Config      map[string]any           `yaml:"config"`
	Restart     *restartDecl             `yaml:"restart"`
	Limits      *limitsDecl              `yaml:"limits"`
}

type restartDecl struct {
	Kind         string   `yaml:"kind"`
	MaxRetries   int      `yaml:"max_retries"`
	InitialDelay duration `yaml:"initial_delay"`
	MaxDelay     duration `yaml:"max_delay"`
}

type limitsDecl struct {
	MaxMemoryBytes uint64   `yaml:"max_memory_bytes"`
	CallTimeout    duration `yaml:"call_timeout"`
}

func (d declaration) toConfig() (entities.ExtensionConfig, error) {
	cfg := entities.ExtensionConfig{
		Name:        d.Name,
		Enabled:     d.Enabled == nil || *d.Enabled,
		Source:      d.Source,
		Permissions: d.Permissions,
		Restart:     entities.NeverRestart(),
		Limits:      entities.DefaultResourceLimits(),
	}

	if d.Protocol != "" && entities.Protocol(d.Protocol) != d.Source.Protocol() {
		return entities.ExtensionConfig{}, fmt.Errorf(
			"declared protocol %q does not match source variant %q", d.Protocol, d.Source.Protocol())
	}

	if d.Config != nil {
		raw, err := json.Marshal(d.Config)
		if err != nil {
			return entities.ExtensionConfig{}, fmt.Errorf("encode config payload: %w", err)
		}
		cfg.Config = raw
	}

	if d.Restart != nil {
		cfg.Restart = entities.RestartStrategy{
			Kind:         entities.RestartKind(d.Restart.Kind),
			MaxRetries:   d.Restart.MaxRetries,
			InitialDelay: time.Duration(d.Restart.InitialDelay),
			MaxDelay:     time.Duration(d.Restart.MaxDelay),
		}
	}

	if d.Limits != nil {
		cfg.Limits = entities.ResourceLimits{
			MaxMemoryBytes: d.Limits.MaxMemoryBytes,
			CallTimeout:    time.Duration(d.Limits.CallTimeout),
		}.OrDefaults()
	}

	return cfg, nil
}

// duration accepts Go duration strings ("30s", "1m30s") in YAML.
type duration time.Duration

func (d *duration) UnmarshalYAML(value *yaml.Node) error {
	if value.Kind != yaml.ScalarNode {
		return fmt.Errorf("duration must be a string like \"30s\"")
	}
	parsed, err := time.ParseDuration(value.Value)
	if err != nil {
		return fmt.Errorf("invalid duration %q", value.Value)
	}
	*d = duration(parsed)
	return nil
}
