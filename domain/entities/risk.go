package entities

import "strings"

// RiskLevel grades how much damage a permission set could do if the
// extension holding it misbehaves.
type RiskLevel int

const (
	RiskLevelLow    RiskLevel = iota // Specific, narrow permissions
	RiskLevelMedium                  // Network access, sensitive reads
	RiskLevelHigh                    // Broad patterns, wildcard hosts
)

// String returns the human-readable name of the risk level.
func (r RiskLevel) String() string {
	switch r {
	case RiskLevelLow:
		return "Low"
	case RiskLevelMedium:
		return "Medium"
	case RiskLevelHigh:
		return "High"
	default:
		return "Unknown"
	}
}

// Patterns broad enough to upgrade a grant to high risk on their own.
var (
	BroadFilesystemPatterns = []string{
		"**", "/**", "read:**", "write:**", "read:/", "write:/",
		"read:/etc/**", "write:/etc/**",
		"read:/root/**", "write:/root/**",
		"read:/home/**", "write:/home/**",
	}

	BroadEnvPatterns = []string{"*", "AWS_*", "AZURE_*", "GCP_*"}
)

// RiskAssessorOption configures a RiskAssessor.
type RiskAssessorOption func(*RiskAssessor)

// WithCustomBroadPatterns marks additional patterns as broad for a kind,
// either "fs" or "env".
func WithCustomBroadPatterns(kind string, patterns []string) RiskAssessorOption {
	return func(r *RiskAssessor) {
		switch kind {
		case "fs":
			r.broadFS = append(r.broadFS, patterns...)
		case "env":
			r.broadEnv = append(r.broadEnv, patterns...)
		}
	}
}

// RiskAssessor grades permission sets. The manager consults it at load time
// and logs a warning before honoring a high-risk grant.
type RiskAssessor struct {
	broadFS  []string
	broadEnv []string
}

// NewRiskAssessor creates an assessor seeded with the built-in broad patterns.
func NewRiskAssessor(opts ...RiskAssessorOption) *RiskAssessor {
	r := &RiskAssessor{
		broadFS:  append([]string(nil), BroadFilesystemPatterns...),
		broadEnv: append([]string(nil), BroadEnvPatterns...),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// finding is one observed hazard in a permission set. Hazards that raise
// the level without being worth a log line carry an empty description.
type finding struct {
	level RiskLevel
	desc  string
}

// AssessPermissions reports the highest risk level found in p.
func (r *RiskAssessor) AssessPermissions(p *Permissions) RiskLevel {
	level := RiskLevelLow
	for _, f := range r.scan(p) {
		if f.level > level {
			level = f.level
		}
	}
	return level
}

// DescribeRisks lists the notable hazards in p for load-time logging.
func (r *RiskAssessor) DescribeRisks(p *Permissions) []string {
	var out []string
	for _, f := range r.scan(p) {
		if f.desc != "" {
			out = append(out, f.desc)
		}
	}
	return out
}

// scan walks every permission axis once. Both the level and the log
// descriptions derive from the same findings, so they cannot drift apart.
func (r *RiskAssessor) scan(p *Permissions) []finding {
	if p == nil {
		return nil
	}
	var found []finding
	found = append(found, r.scanNetwork(p.Network)...)
	found = append(found, r.scanFileSystem(p.FileSystem)...)
	found = append(found, r.scanEnvironment(p.Environment)...)
	return found
}

func (r *RiskAssessor) scanNetwork(n *NetworkPermission) []finding {
	if n == nil || len(n.Rules) == 0 {
		return nil
	}
	for _, rule := range n.Rules {
		for _, h := range rule.Hosts {
			if h == "*" {
				return []finding{{RiskLevelHigh, "Accesses any network host (High Risk)"}}
			}
		}
	}
	return []finding{{level: RiskLevelMedium}}
}

func (r *RiskAssessor) scanFileSystem(f *FileSystemPermission) []finding {
	if f == nil || len(f.Rules) == 0 {
		return nil
	}

	var recursiveRead, broadRead, sensitiveRead bool
	var recursiveWrite, broadWrite, anyWrite bool
	for _, rule := range f.Rules {
		for _, p := range rule.Read {
			switch {
			case strings.Contains(p, "**"):
				recursiveRead = true
			case matchesAny(p, r.broadFS):
				broadRead = true
			case strings.HasPrefix(p, "/etc/"):
				sensitiveRead = true
			}
		}
		for _, p := range rule.Write {
			anyWrite = true
			switch {
			case strings.Contains(p, "**"):
				recursiveWrite = true
			case matchesAny(p, r.broadFS):
				broadWrite = true
			}
		}
	}

	var found []finding
	if recursiveRead {
		found = append(found, finding{RiskLevelHigh, "Recursive read access to filesystem (High Risk)"})
	} else if broadRead {
		found = append(found, finding{level: RiskLevelHigh})
	}
	if recursiveWrite {
		found = append(found, finding{RiskLevelHigh, "Recursive write access to filesystem (High Risk)"})
	} else if broadWrite {
		found = append(found, finding{level: RiskLevelHigh})
	}
	if anyWrite {
		found = append(found, finding{RiskLevelMedium, "Write access to filesystem"})
	}
	if sensitiveRead {
		found = append(found, finding{level: RiskLevelMedium})
	}
	return found
}

// scanEnvironment only ever reports high findings: a list of specific
// variable names stays low risk no matter how long it is.
func (r *RiskAssessor) scanEnvironment(e *EnvironmentPermission) []finding {
	if e == nil || len(e.Variables) == 0 {
		return nil
	}
	for _, v := range e.Variables {
		if v == "*" {
			return []finding{{RiskLevelHigh, "Accesses all environment variables (High Risk)"}}
		}
	}
	for _, v := range e.Variables {
		if matchesAny(v, r.broadEnv) {
			return []finding{{level: RiskLevelHigh}}
		}
	}
	return nil
}

// matchesAny reports whether value equals any of the patterns.
func matchesAny(value string, patterns []string) bool {
	for _, p := range patterns {
		if value == p {
			return true
		}
	}
	return false
}
