package ports

import "github.com/gantry-dev/gantry/domain/entities"

// Policy enforces permission grants against runtime requests.
type Policy interface {
	CheckNetwork(req entities.NetworkRequest, perms *entities.Permissions) bool
	CheckFileSystem(req entities.FileSystemRequest, perms *entities.Permissions) bool
	CheckEnvironment(req entities.EnvironmentRequest, perms *entities.Permissions) bool
}
