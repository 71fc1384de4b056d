package ports

import "github.com/gantry-dev/gantry/domain/entities"

// DeclarationParser parses raw YAML bytes into extension declarations.
type DeclarationParser interface {
	// Parse unmarshals YAML bytes into a list of ExtensionConfig structs.
	Parse(data []byte) ([]entities.ExtensionConfig, error)
}
