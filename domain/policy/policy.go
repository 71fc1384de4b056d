package policy

import (
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	"github.com/bmatcuk/doublestar/v4"

	"github.com/gantry-dev/gantry/domain/entities"
	"github.com/gantry-dev/gantry/domain/ports"
)

// Policy answers permission checks against declared grants. Rule sets are
// compiled on first use and cached by pointer identity, so repeated checks
// against the same Permissions value skip pattern validation.
type Policy struct {
	cwd             string
	resolveSymlinks bool
	onDenial        ports.DenialHandler

	compiled sync.Map // *entities.Permissions -> *ruleSet
}

// PolicyOption configures a Policy.
type PolicyOption func(*Policy)

// WithWorkingDirectory anchors relative paths in filesystem checks.
// Without it every relative path is denied.
func WithWorkingDirectory(cwd string) PolicyOption {
	return func(p *Policy) { p.cwd = cwd }
}

// WithSymlinkResolution toggles resolving symlinks before matching paths.
// On by default; turn off only in tests that need deterministic paths.
func WithSymlinkResolution(enabled bool) PolicyOption {
	return func(p *Policy) { p.resolveSymlinks = enabled }
}

// WithDenialHandler routes refused checks to h.
func WithDenialHandler(h ports.DenialHandler) PolicyOption {
	return func(p *Policy) {
		if h != nil {
			p.onDenial = h
		}
	}
}

// NewPolicy builds the standard policy engine.
func NewPolicy(opts ...PolicyOption) ports.Policy {
	p := &Policy{
		resolveSymlinks: true,
		onDenial:        &StderrDenialHandler{},
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// CheckNetwork reports whether perms admit a connection to the requested
// host and port. Host and port must both match within a single rule.
func (p *Policy) CheckNetwork(req entities.NetworkRequest, perms *entities.Permissions) bool {
	rs := p.rulesFor(perms)
	if rs == nil {
		p.onDenial.OnDenial("network", req, "no permissions")
		return false
	}
	for _, rule := range rs.net {
		if rule.admits(req) {
			return true
		}
	}
	p.onDenial.OnDenial("network", req, "host/port not allowed")
	return false
}

// CheckFileSystem reports whether perms admit the requested operation on a
// path. Paths are cleaned, anchored to the working directory and, unless
// disabled, resolved through symlinks before matching.
func (p *Policy) CheckFileSystem(req entities.FileSystemRequest, perms *entities.Permissions) bool {
	rs := p.rulesFor(perms)
	if rs == nil {
		p.onDenial.OnDenial("fs", req, "no permissions")
		return false
	}

	path, denyReason := p.effectivePath(req.Path)
	if denyReason != "" {
		p.onDenial.OnDenial("fs", req, denyReason)
		return false
	}

	for _, rule := range rs.fs {
		if rule.admits(req.Operation, path) {
			return true
		}
	}
	p.onDenial.OnDenial("fs", req, "path not allowed")
	return false
}

// CheckEnvironment reports whether perms admit reading the requested
// variable.
func (p *Policy) CheckEnvironment(req entities.EnvironmentRequest, perms *entities.Permissions) bool {
	rs := p.rulesFor(perms)
	if rs == nil {
		p.onDenial.OnDenial("env", req, "no permissions")
		return false
	}
	for _, pattern := range rs.env {
		if matched, _ := doublestar.Match(pattern, req.Variable); matched {
			return true
		}
	}
	p.onDenial.OnDenial("env", req, "variable not allowed")
	return false
}

// effectivePath normalizes a requested path to the form grants are matched
// against. Paths that fail to resolve are matched as given.
func (p *Policy) effectivePath(raw string) (path, denyReason string) {
	path = filepath.Clean(raw)
	if !filepath.IsAbs(path) {
		if p.cwd == "" {
			return "", "relative path without working directory"
		}
		path = filepath.Join(p.cwd, path)
	}
	if p.resolveSymlinks {
		if resolved, err := filepath.EvalSymlinks(path); err == nil {
			path = resolved
		}
	}
	return path, ""
}

func (p *Policy) rulesFor(perms *entities.Permissions) *ruleSet {
	if perms == nil {
		return nil
	}
	if v, ok := p.compiled.Load(perms); ok {
		return v.(*ruleSet)
	}
	rs := compile(perms)
	p.compiled.Store(perms, rs)
	return rs
}

// ruleSet is a Permissions value compiled for matching. Patterns that do
// not parse are dropped at compile time, so a malformed grant can only
// narrow access, never widen it.
type ruleSet struct {
	net []netRule
	fs  []fsRule
	env []string
}

type netRule struct {
	hosts []string
	ports []portSpan
}

type fsRule struct {
	read  []string
	write []string
}

type portSpan struct {
	lo, hi int
}

func (s portSpan) contains(port int) bool { return port >= s.lo && port <= s.hi }

func (r netRule) admits(req entities.NetworkRequest) bool {
	hostOK := false
	for _, pattern := range r.hosts {
		if matched, _ := doublestar.Match(pattern, req.Host); matched {
			hostOK = true
			break
		}
	}
	if !hostOK {
		return false
	}
	for _, span := range r.ports {
		if span.contains(req.Port) {
			return true
		}
	}
	return false
}

func (r fsRule) admits(op, path string) bool {
	var patterns []string
	switch op {
	case entities.FSOpRead:
		patterns = r.read
	case entities.FSOpWrite:
		patterns = r.write
	default:
		return false
	}
	for _, pattern := range patterns {
		if matched, _ := doublestar.Match(pattern, path); matched {
			return true
		}
	}
	return false
}

func compile(perms *entities.Permissions) *ruleSet {
	rs := &ruleSet{}
	if perms.Network != nil {
		for _, rule := range perms.Network.Rules {
			nr := netRule{hosts: validPatterns(rule.Hosts)}
			for _, spec := range rule.Ports {
				if span, ok := parsePortSpan(spec); ok {
					nr.ports = append(nr.ports, span)
				}
			}
			rs.net = append(rs.net, nr)
		}
	}
	if perms.FileSystem != nil {
		for _, rule := range perms.FileSystem.Rules {
			rs.fs = append(rs.fs, fsRule{
				read:  validPatterns(rule.Read),
				write: validPatterns(rule.Write),
			})
		}
	}
	if perms.Environment != nil {
		rs.env = validPatterns(perms.Environment.Variables)
	}
	return rs
}

// parsePortSpan understands "80", "8000-8010" and "*". Malformed specs are
// dropped rather than defaulted.
func parsePortSpan(spec string) (portSpan, bool) {
	spec = strings.TrimSpace(spec)
	if spec == "*" {
		return portSpan{0, 65535}, true
	}
	if lo, hi, ok := strings.Cut(spec, "-"); ok {
		l, errLo := strconv.Atoi(strings.TrimSpace(lo))
		h, errHi := strconv.Atoi(strings.TrimSpace(hi))
		if errLo != nil || errHi != nil {
			return portSpan{}, false
		}
		return portSpan{l, h}, true
	}
	v, err := strconv.Atoi(spec)
	if err != nil {
		return portSpan{}, false
	}
	return portSpan{v, v}, true
}

func validPatterns(patterns []string) []string {
	var out []string
	for _, p := range patterns {
		if doublestar.ValidatePattern(p) {
			out = append(out, p)
		}
	}
	return out
}
