// Package discovery implements the load-time handshake pipeline shared by
// every protocol adapter: decode the initialize reply, enforce the extension's
// SDK version floor, decode the capability list, and compile declared schemas
// so malformed ones fail the load instead of the first call.
package discovery

import (
	"encoding/json"
	"fmt"

	"github.com/Masterminds/semver/v3"

	"github.com/gantry-dev/gantry/domain/entities"
	domerrors "github.com/gantry-dev/gantry/domain/errors"
	"github.com/gantry-dev/gantry/wireformat"
)

// Pipeline decodes and verifies the two handshake replies. One instance is
// shared by all adapters of a host; it is stateless apart from the host
// version.
type Pipeline struct {
	hostVersion *semver.Version
}

// NewPipeline creates a Pipeline enforcing min_sdk_version against the given
// host SDK version.
func NewPipeline(hostVersion string) (*Pipeline, error) {
	v, err := semver.NewVersion(hostVersion)
	if err != nil {
		return nil, fmt.Errorf("invalid host version %q: %w", hostVersion, err)
	}
	return &Pipeline{hostVersion: v}, nil
}

// DecodeInitializeResult parses an initialize reply, requires status "ready",
// and extracts the optional manifest. A manifest declaring min_sdk_version
// above the host version fails the load.
func (p *Pipeline) DecodeInitializeResult(raw []byte) (entities.ExtensionManifest, error) {
	var wire wireformat.InitializeResultWire
	if err := json.Unmarshal(raw, &wire); err != nil {
		return entities.ExtensionManifest{}, &domerrors.SerializationError{
			Err:       err,
			Operation: "decode initialize result",
		}
	}

	if wire.Status != wireformat.StatusReady {
		return entities.ExtensionManifest{}, &domerrors.InitializationFailedError{
			Msg: fmt.Sprintf("status %q, want %q", wire.Status, wireformat.StatusReady),
		}
	}

	var manifest entities.ExtensionManifest
	if len(wire.Info) > 0 {
		if err := json.Unmarshal(wire.Info, &manifest); err != nil {
			return entities.ExtensionManifest{}, &domerrors.SerializationError{
				Err:       err,
				Operation: "decode manifest",
			}
		}
	}

	if err := p.checkVersionFloor(manifest.MinSDKVersion); err != nil {
		return entities.ExtensionManifest{}, err
	}

	return manifest, nil
}

func (p *Pipeline) checkVersionFloor(minVersion string) error {
	if minVersion == "" {
		return nil
	}
	min, err := semver.NewVersion(minVersion)
	if err != nil {
		return &domerrors.InitializationFailedError{
			Msg: fmt.Sprintf("invalid min_sdk_version %q", minVersion),
		}
	}
	if min.GreaterThan(p.hostVersion) {
		return &domerrors.InitializationFailedError{
			Msg: fmt.Sprintf("requires SDK %s or newer, host has %s", min, p.hostVersion),
		}
	}
	return nil
}

// DecodeCapabilities parses a capabilities reply and verifies the list is
// non-empty with unique names. Every declared schema is compiled; the
// returned index serves optional call-time params validation.
func (p *Pipeline) DecodeCapabilities(raw []byte) ([]entities.Capability, *SchemaIndex, error) {
	var caps []entities.Capability
	if err := json.Unmarshal(raw, &caps); err != nil {
		return nil, nil, &domerrors.SerializationError{
			Err:       err,
			Operation: "decode capabilities",
		}
	}

	if len(caps) == 0 {
		return nil, nil, &domerrors.InitializationFailedError{
			Msg: "extension declared no capabilities",
		}
	}

	seen := make(map[string]bool, len(caps))
	for _, c := range caps {
		if c.Name == "" {
			return nil, nil, &domerrors.InitializationFailedError{
				Msg: "capability with empty name",
			}
		}
		if seen[c.Name] {
			return nil, nil, &domerrors.InitializationFailedError{
				Msg: fmt.Sprintf("duplicate capability %q", c.Name),
			}
		}
		seen[c.Name] = true
	}

	index, err := compileSchemas(caps)
	if err != nil {
		return nil, nil, err
	}

	return caps, index, nil
}
