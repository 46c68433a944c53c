// ABOUTME: Typed command and reply shapes for every node-facing operation
// ABOUTME: One request/reply pair per wire command, replacing ad-hoc JSON blobs

package dispatch

// Wire command names. Reply events derive from these by suffix
// (":response" on success, ":error" on failure).
const (
	CmdFileRead       = "files:read"
	CmdFileWrite      = "files:write"
	CmdFileList       = "files:list"
	CmdFileMkdir      = "files:mkdir"
	CmdFileDelete     = "files:delete"
	CmdFileRename     = "files:rename"
	CmdFileCopy       = "files:copy"
	CmdFileCompress   = "files:compress"
	CmdFileDecompress = "files:decompress"
	CmdServerCommand  = "server:command"
	CmdServerPower    = "server:power"
	CmdBackupCreate   = "backup:create"
	CmdBackupRestore  = "backup:restore"
	CmdBackupDelete   = "backup:delete"
)

// Power actions a server supports.
const (
	PowerStart   = "start"
	PowerStop    = "stop"
	PowerRestart = "restart"
	PowerKill    = "kill"
)

// ReadFileRequest asks a node for the contents of one file.
type ReadFileRequest struct {
	ServerID string `json:"serverId"`
	Path     string `json:"path"`
}

// ReadFileReply carries a file's contents back from the node.
type ReadFileReply struct {
	Path    string `json:"path"`
	Content string `json:"content"`
}

// WriteFileRequest replaces (or creates) one file on a node.
type WriteFileRequest struct {
	ServerID string `json:"serverId"`
	Path     string `json:"path"`
	Content  string `json:"content"`
}

// ListDirectoryRequest asks for a directory listing.
type ListDirectoryRequest struct {
	ServerID string `json:"serverId"`
	Path     string `json:"path"`
}

// DirEntry is one row of a directory listing.
type DirEntry struct {
	Name    string `json:"name"`
	Size    int64  `json:"size"`
	IsDir   bool   `json:"isDir"`
	ModTime string `json:"modTime"`
}

// ListDirectoryReply carries the entries of one directory.
type ListDirectoryReply struct {
	Path    string     `json:"path"`
	Entries []DirEntry `json:"entries"`
}

// MkdirRequest creates a directory (and missing parents) on a node.
type MkdirRequest struct {
	ServerID string `json:"serverId"`
	Path     string `json:"path"`
}

// DeletePathsRequest removes one or more paths on a node.
type DeletePathsRequest struct {
	ServerID string   `json:"serverId"`
	Paths    []string `json:"paths"`
}

// RenameRequest moves a path within a server's root.
type RenameRequest struct {
	ServerID string `json:"serverId"`
	From     string `json:"from"`
	To       string `json:"to"`
}

// CopyRequest duplicates a path within a server's root.
type CopyRequest struct {
	ServerID string `json:"serverId"`
	From     string `json:"from"`
	To       string `json:"to"`
}

// CompressRequest archives a set of paths into a single file.
type CompressRequest struct {
	ServerID    string   `json:"serverId"`
	Paths       []string `json:"paths"`
	Destination string   `json:"destination"`
}

// CompressReply names the archive the node produced.
type CompressReply struct {
	Archive string `json:"archive"`
}

// DecompressRequest unpacks an archive in place.
type DecompressRequest struct {
	ServerID    string `json:"serverId"`
	Archive     string `json:"archive"`
	Destination string `json:"destination"`
}

// RunCommandRequest feeds a line to the server's console. Fire and forget:
// output comes back as console events, not a correlated reply.
type RunCommandRequest struct {
	ServerID string `json:"serverId"`
	Command  string `json:"command"`
}

// PowerRequest changes a server's power state. The node needs the full
// resource configuration to (re)start the process.
type PowerRequest struct {
	ServerID string       `json:"serverId"`
	Action   string       `json:"action"`
	Config   ServerConfig `json:"config"`
}

// ServerConfig is the resource envelope a node applies when launching
// a server process.
type ServerConfig struct {
	Name     string `json:"name"`
	MemoryMB int    `json:"memoryMb,omitempty"`
	CPUCores int    `json:"cpuCores,omitempty"`
	DiskMB   int    `json:"diskMb,omitempty"`
	Port     int    `json:"port,omitempty"`
}

// BackupRequest addresses one backup of one server. Create ignores
// BackupID; restore and delete require it.
type BackupRequest struct {
	ServerID string `json:"serverId"`
	BackupID string `json:"backupId,omitempty"`
	Name     string `json:"name,omitempty"`
}

// BackupReply describes the backup a node created or restored.
type BackupReply struct {
	BackupID string `json:"backupId"`
	Name     string `json:"name"`
	Size     int64  `json:"size"`
}
