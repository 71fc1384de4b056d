package hostfuncs

import (
	"context"
	"runtime"

	"github.com/gantry-dev/gantry/domain/entities"
)

// WorkspaceInfo is the host-side snapshot served by get_workspace_info.
// It is captured once at load time; extensions cannot observe later changes.
type WorkspaceInfo struct {
	Root        string
	HostVersion string
	Extension   string
}

// PerformWorkspaceInfo answers a get_workspace_info call from the snapshot.
func PerformWorkspaceInfo(ctx context.Context, info WorkspaceInfo, req entities.WorkspaceInfoRequest) entities.WorkspaceInfoResponse {
	return entities.WorkspaceInfoResponse{
		Root:        info.Root,
		OS:          runtime.GOOS,
		Arch:        runtime.GOARCH,
		HostVersion: info.HostVersion,
		Extension:   info.Extension,
	}
}
