package policy_test

import (
	"bytes"
	"log/slog"
	"testing"

	"github.com/gantry-dev/gantry/domain/entities"
	"github.com/gantry-dev/gantry/domain/policy"
	"github.com/gantry-dev/gantry/domain/ports"
	"github.com/stretchr/testify/assert"
)

func newQuietPolicy(opts ...policy.PolicyOption) ports.Policy {
	base := []policy.PolicyOption{policy.WithDenialHandler(&policy.NopDenialHandler{})}
	return policy.NewPolicy(append(base, opts...)...)
}

func TestPolicy_CheckNetwork(t *testing.T) {
	p := newQuietPolicy()

	perms := &entities.Permissions{
		Network: &entities.NetworkPermission{
			Rules: []entities.NetworkRule{
				{Hosts: []string{"api.weather.dev", "*.corp.internal"}, Ports: []string{"443", "9400-9410"}},
			},
		},
	}

	tests := []struct {
		name string
		host string
		port int
		want bool
	}{
		{"exact host, listed port", "api.weather.dev", 443, true},
		{"wildcard host", "metrics.corp.internal", 443, true},
		{"port inside range", "api.weather.dev", 9405, true},
		{"port at range edge", "api.weather.dev", 9410, true},
		{"port past range edge", "api.weather.dev", 9411, false},
		{"host outside both patterns", "api.weather.dev.evil.io", 443, false},
		{"unlisted port", "metrics.corp.internal", 80, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := entities.NetworkRequest{Host: tt.host, Port: tt.port}
			assert.Equal(t, tt.want, p.CheckNetwork(req, perms))
		})
	}
}

func TestPolicy_CheckNetwork_WildcardPort(t *testing.T) {
	p := newQuietPolicy()
	perms := &entities.Permissions{
		Network: &entities.NetworkPermission{
			Rules: []entities.NetworkRule{
				{Hosts: []string{"registry.gantry.dev"}, Ports: []string{"*"}},
			},
		},
	}

	for _, port := range []int{1, 443, 65535} {
		assert.True(t, p.CheckNetwork(entities.NetworkRequest{Host: "registry.gantry.dev", Port: port}, perms))
	}
	assert.False(t, p.CheckNetwork(entities.NetworkRequest{Host: "other.host", Port: 443}, perms))
}

func TestPolicy_CheckNetwork_RulesAreIndependent(t *testing.T) {
	p := newQuietPolicy()
	perms := &entities.Permissions{
		Network: &entities.NetworkPermission{
			Rules: []entities.NetworkRule{
				{Hosts: []string{"registry.gantry.dev"}, Ports: []string{"443"}},
				{Hosts: []string{"*.cache.local"}, Ports: []string{"6379"}},
			},
		},
	}

	// Host and port must match within the same rule; combinations across
	// rules stay denied.
	assert.True(t, p.CheckNetwork(entities.NetworkRequest{Host: "registry.gantry.dev", Port: 443}, perms))
	assert.True(t, p.CheckNetwork(entities.NetworkRequest{Host: "ir.cache.local", Port: 6379}, perms))
	assert.False(t, p.CheckNetwork(entities.NetworkRequest{Host: "registry.gantry.dev", Port: 6379}, perms))
	assert.False(t, p.CheckNetwork(entities.NetworkRequest{Host: "ir.cache.local", Port: 443}, perms))
}

func TestPolicy_CheckNetwork_NoPermissions(t *testing.T) {
	p := newQuietPolicy()

	assert.False(t, p.CheckNetwork(entities.NetworkRequest{Host: "api.weather.dev", Port: 443}, nil))
}

func TestPolicy_CheckFileSystem(t *testing.T) {
	p := newQuietPolicy(policy.WithSymlinkResolution(false))

	perms := &entities.Permissions{
		FileSystem: &entities.FileSystemPermission{
			Rules: []entities.FileSystemRule{
				{
					Read:  []string{"/workspace/**", "/etc/resolv.conf"},
					Write: []string{"/workspace/out/*"},
				},
			},
		},
	}

	tests := []struct {
		name string
		path string
		op   string
		want bool
	}{
		{"exact read", "/etc/resolv.conf", entities.FSOpRead, true},
		{"recursive read", "/workspace/src/main.go", entities.FSOpRead, true},
		{"write inside glob", "/workspace/out/report.json", entities.FSOpWrite, true},
		{"read outside grants", "/etc/passwd", entities.FSOpRead, false},
		{"write where only read granted", "/workspace/src/main.go", entities.FSOpWrite, false},
		{"write below single-star depth", "/workspace/out/nested/report.json", entities.FSOpWrite, false},
		{"dot segments collapse before matching", "/workspace/../workspace/src/app.go", entities.FSOpRead, true},
		{"dot segment escape stays denied", "/workspace/../etc/passwd", entities.FSOpRead, false},
		{"unknown operation", "/workspace/src/main.go", "execute", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := entities.FileSystemRequest{Path: tt.path, Operation: tt.op}
			assert.Equal(t, tt.want, p.CheckFileSystem(req, perms))
		})
	}
}

func TestPolicy_CheckFileSystem_RelativePaths(t *testing.T) {
	perms := &entities.Permissions{
		FileSystem: &entities.FileSystemPermission{
			Rules: []entities.FileSystemRule{
				{Read: []string{"/srv/app/**"}},
			},
		},
	}

	// Without a working directory a relative path cannot be anchored.
	bare := newQuietPolicy(policy.WithSymlinkResolution(false))
	assert.False(t, bare.CheckFileSystem(entities.FileSystemRequest{Path: "data/file.txt", Operation: entities.FSOpRead}, perms))

	anchored := newQuietPolicy(
		policy.WithWorkingDirectory("/srv/app"),
		policy.WithSymlinkResolution(false),
	)
	assert.True(t, anchored.CheckFileSystem(entities.FileSystemRequest{Path: "data/file.txt", Operation: entities.FSOpRead}, perms))

	// Climbing out of the working directory leaves the granted subtree.
	assert.False(t, anchored.CheckFileSystem(entities.FileSystemRequest{Path: "../outside.txt", Operation: entities.FSOpRead}, perms))
}

func TestPolicy_CheckEnvironment(t *testing.T) {
	p := newQuietPolicy()
	perms := &entities.Permissions{
		Environment: &entities.EnvironmentPermission{
			Variables: []string{"EXT_*", "TRACE"},
		},
	}

	assert.True(t, p.CheckEnvironment(entities.EnvironmentRequest{Variable: "TRACE"}, perms))
	assert.True(t, p.CheckEnvironment(entities.EnvironmentRequest{Variable: "EXT_API_KEY"}, perms))
	assert.False(t, p.CheckEnvironment(entities.EnvironmentRequest{Variable: "HOME"}, perms))
	assert.False(t, p.CheckEnvironment(entities.EnvironmentRequest{Variable: "HOME"}, nil))
}

type recordingDenialHandler struct {
	kinds   []string
	reasons []string
}

func (r *recordingDenialHandler) OnDenial(kind string, request any, reason string) {
	r.kinds = append(r.kinds, kind)
	r.reasons = append(r.reasons, reason)
}

func TestPolicy_DenialsAreReported(t *testing.T) {
	rec := &recordingDenialHandler{}
	p := policy.NewPolicy(
		policy.WithDenialHandler(rec),
		policy.WithSymlinkResolution(false),
	)

	p.CheckNetwork(entities.NetworkRequest{Host: "x", Port: 1}, nil)

	fsPerms := &entities.Permissions{
		FileSystem: &entities.FileSystemPermission{
			Rules: []entities.FileSystemRule{{Read: []string{"/**"}}},
		},
	}
	p.CheckFileSystem(entities.FileSystemRequest{Path: "rel/path", Operation: entities.FSOpRead}, fsPerms)

	envPerms := &entities.Permissions{
		Environment: &entities.EnvironmentPermission{Variables: []string{"EXT_*"}},
	}
	p.CheckEnvironment(entities.EnvironmentRequest{Variable: "HOME"}, envPerms)

	assert.Equal(t, []string{"network", "fs", "env"}, rec.kinds)
	assert.Equal(t, []string{
		"no permissions",
		"relative path without working directory",
		"variable not allowed",
	}, rec.reasons)
}

func TestSlogDenialHandler(t *testing.T) {
	var buf bytes.Buffer
	h := &policy.SlogDenialHandler{Logger: slog.New(slog.NewTextHandler(&buf, nil))}

	h.OnDenial("network", entities.NetworkRequest{Host: "blocked.host", Port: 443}, "host/port not allowed")

	out := buf.String()
	assert.Contains(t, out, "permission denied")
	assert.Contains(t, out, "kind=network")
	assert.Contains(t, out, "blocked.host")
}
