package hostfuncs

import (
	"context"
	"runtime"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/gantry-dev/gantry/domain/entities"
)

func TestPerformWorkspaceInfo(t *testing.T) {
	info := WorkspaceInfo{
		Root:        "/home/dev/project",
		HostVersion: "0.4.0",
		Extension:   "markdown-tools",
	}

	resp := PerformWorkspaceInfo(context.Background(), info, entities.WorkspaceInfoRequest{})

	assert.Nil(t, resp.Error)
	assert.Equal(t, "/home/dev/project", resp.Root)
	assert.Equal(t, "0.4.0", resp.HostVersion)
	assert.Equal(t, "markdown-tools", resp.Extension)
	assert.Equal(t, runtime.GOOS, resp.OS)
	assert.Equal(t, runtime.GOARCH, resp.Arch)
}

func TestPerformWorkspaceInfo_EmptySnapshot(t *testing.T) {
	resp := PerformWorkspaceInfo(context.Background(), WorkspaceInfo{}, entities.WorkspaceInfoRequest{})

	assert.Nil(t, resp.Error)
	assert.Empty(t, resp.Root)
	// OS and arch always come from the running host
	assert.NotEmpty(t, resp.OS)
	assert.NotEmpty(t, resp.Arch)
}
