package entities

// Permissions is the structured set of system capabilities granted to an
// extension at load time. The zero value and nil both deny everything.
// Adapters enforce permissions with the mechanism native to their
// transport; the manager only records them.
type Permissions struct {
	Network     *NetworkPermission     `json:"network,omitempty" yaml:"network,omitempty"`
	FileSystem  *FileSystemPermission  `json:"fs,omitempty" yaml:"fs,omitempty"`
	Environment *EnvironmentPermission `json:"env,omitempty" yaml:"env,omitempty"`
}

// NetworkPermission defines permitted outbound network access.
type NetworkPermission struct {
	Rules []NetworkRule `json:"rules" yaml:"rules" jsonschema:"required"`
}

// NetworkRule defines a single network access rule. A request must match
// one rule's hosts AND ports to be allowed.
type NetworkRule struct {
	Hosts []string `json:"hosts" yaml:"hosts" jsonschema:"required"`
	Ports []string `json:"ports" yaml:"ports" jsonschema:"required"` // "80", "8000-9000", "*"
}

// FileSystemPermission defines permitted filesystem access.
type FileSystemPermission struct {
	Rules []FileSystemRule `json:"rules" yaml:"rules" jsonschema:"required"`
}

// FileSystemRule defines a single filesystem access rule.
type FileSystemRule struct {
	Read  []string `json:"read,omitempty" yaml:"read,omitempty"`
	Write []string `json:"write,omitempty" yaml:"write,omitempty"`
}

// EnvironmentPermission defines permitted environment variables.
type EnvironmentPermission struct {
	Variables []string `json:"vars" yaml:"vars" jsonschema:"required"`
}

// IsEmpty returns true if no permissions are present.
func (p *Permissions) IsEmpty() bool {
	if p == nil {
		return true
	}
	if p.Network != nil && len(p.Network.Rules) > 0 {
		return false
	}
	if p.FileSystem != nil && len(p.FileSystem.Rules) > 0 {
		return false
	}
	if p.Environment != nil && len(p.Environment.Variables) > 0 {
		return false
	}
	return true
}

// Merge unions another permission set into this one.
func (p *Permissions) Merge(other *Permissions) {
	if other == nil {
		return
	}
	p.mergeNetwork(other.Network)
	p.mergeFileSystem(other.FileSystem)
	p.mergeEnvironment(other.Environment)
}

func (p *Permissions) mergeNetwork(other *NetworkPermission) {
	if other == nil || len(other.Rules) == 0 {
		return
	}
	if p.Network == nil {
		p.Network = &NetworkPermission{}
	}
	p.Network.Rules = append(p.Network.Rules, other.Rules...)
}

func (p *Permissions) mergeFileSystem(other *FileSystemPermission) {
	if other == nil || len(other.Rules) == 0 {
		return
	}
	if p.FileSystem == nil {
		p.FileSystem = &FileSystemPermission{}
	}
	p.FileSystem.Rules = append(p.FileSystem.Rules, other.Rules...)
}

func (p *Permissions) mergeEnvironment(other *EnvironmentPermission) {
	if other == nil || len(other.Variables) == 0 {
		return
	}
	if p.Environment == nil {
		p.Environment = &EnvironmentPermission{}
	}
	p.Environment.Variables = append(p.Environment.Variables, other.Variables...)
}

// Clone returns a deep copy of the permission set.
func (p *Permissions) Clone() *Permissions {
	if p == nil {
		return nil
	}
	clone := &Permissions{}
	if p.Network != nil {
		clone.Network = &NetworkPermission{
			Rules: make([]NetworkRule, len(p.Network.Rules)),
		}
		for i, rule := range p.Network.Rules {
			clone.Network.Rules[i] = NetworkRule{
				Hosts: append([]string(nil), rule.Hosts...),
				Ports: append([]string(nil), rule.Ports...),
			}
		}
	}
	if p.FileSystem != nil {
		clone.FileSystem = &FileSystemPermission{
			Rules: make([]FileSystemRule, len(p.FileSystem.Rules)),
		}
		for i, rule := range p.FileSystem.Rules {
			clone.FileSystem.Rules[i] = FileSystemRule{
				Read:  append([]string(nil), rule.Read...),
				Write: append([]string(nil), rule.Write...),
			}
		}
	}
	if p.Environment != nil {
		clone.Environment = &EnvironmentPermission{
			Variables: append([]string(nil), p.Environment.Variables...),
		}
	}
	return clone
}

// ReadPaths returns all filesystem read patterns across rules.
func (p *Permissions) ReadPaths() []string {
	if p == nil || p.FileSystem == nil {
		return nil
	}
	var paths []string
	for _, rule := range p.FileSystem.Rules {
		paths = append(paths, rule.Read...)
	}
	return paths
}

// WritePaths returns all filesystem write patterns across rules.
func (p *Permissions) WritePaths() []string {
	if p == nil || p.FileSystem == nil {
		return nil
	}
	var paths []string
	for _, rule := range p.FileSystem.Rules {
		paths = append(paths, rule.Write...)
	}
	return paths
}
