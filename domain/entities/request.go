package entities

// Filesystem operations a policy check can gate.
const (
	FSOpRead  = "read"
	FSOpWrite = "write"
)

// NetworkRequest asks whether an extension may open a connection.
type NetworkRequest struct {
	Host string
	Port int
}

// FileSystemRequest asks whether an extension may touch a path.
// Operation is FSOpRead or FSOpWrite.
type FileSystemRequest struct {
	Path      string
	Operation string
}

// EnvironmentRequest asks whether an extension may read a variable.
type EnvironmentRequest struct {
	Variable string
}
