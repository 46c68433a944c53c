// ABOUTME: Command dispatch facade translating typed operations into node commands
// ABOUTME: Resolves the target node from the server record and reports typed failures

package dispatch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/craterhq/crater/internal/hub"
	"github.com/craterhq/crater/internal/store"
	"github.com/craterhq/crater/internal/ws"
)

// Dispatch errors. ErrNodeUnreachable's text is surfaced verbatim in
// action results and UI toasts.
var (
	ErrNodeUnreachable = errors.New("daemon is not connected")
	ErrServerNotFound  = errors.New("server not found")
)

// DefaultBackupTimeout is the extended deadline for backup operations,
// which move real data and routinely outlast the interactive default.
const DefaultBackupTimeout = 10 * time.Minute

// Caller is the correlated-call slice of the relay.
type Caller interface {
	Call(ctx context.Context, room hub.Room, command string, payload any, timeout time.Duration) (json.RawMessage, error)
}

// Publisher emits fire-and-forget events into a room.
type Publisher interface {
	Publish(room hub.Room, ev ws.Event) int
}

// Reachability answers whether a node currently holds a live connection.
type Reachability interface {
	IsReachable(nodeID string) bool
}

// ServerStore is the slice of the store the dispatcher reads and updates.
type ServerStore interface {
	GetServer(ctx context.Context, id string) (*store.Server, error)
	SetServerStatus(ctx context.Context, id, status string) error
}

// Dispatcher is the boundary the rest of the system calls instead of
// touching the event channel directly. Every operation resolves the
// server's node, refuses fast when that node is unreachable, and
// otherwise delegates to the correlator (or publishes directly for
// operations with no reply).
type Dispatcher struct {
	caller  Caller
	pub     Publisher
	reach   Reachability
	servers ServerStore
	logger  *slog.Logger

	callTimeout   time.Duration
	backupTimeout time.Duration
}

// Options tunes the dispatcher's deadlines. Zero values take the defaults.
type Options struct {
	CallTimeout   time.Duration
	BackupTimeout time.Duration
}

// New creates a dispatcher.
func New(caller Caller, pub Publisher, reach Reachability, servers ServerStore, opts Options, logger *slog.Logger) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	if opts.BackupTimeout <= 0 {
		opts.BackupTimeout = DefaultBackupTimeout
	}
	return &Dispatcher{
		caller:        caller,
		pub:           pub,
		reach:         reach,
		servers:       servers,
		logger:        logger.With("component", "dispatch"),
		callTimeout:   opts.CallTimeout,
		backupTimeout: opts.BackupTimeout,
	}
}

// resolve loads the server record and verifies its node is connected.
func (d *Dispatcher) resolve(ctx context.Context, serverID string) (*store.Server, hub.Room, error) {
	srv, err := d.servers.GetServer(ctx, serverID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, "", fmt.Errorf("%w: %s", ErrServerNotFound, serverID)
		}
		return nil, "", fmt.Errorf("loading server: %w", err)
	}
	if !d.reach.IsReachable(srv.NodeID) {
		return nil, "", fmt.Errorf("%w: node %s", ErrNodeUnreachable, srv.NodeID)
	}
	return srv, hub.NodeRoom(srv.NodeID), nil
}

// call resolves the target and runs one correlated command, decoding the
// reply into out when out is non-nil.
func (d *Dispatcher) call(ctx context.Context, serverID, command string, payload, out any, timeout time.Duration) error {
	_, room, err := d.resolve(ctx, serverID)
	if err != nil {
		return err
	}
	raw, err := d.caller.Call(ctx, room, command, payload, timeout)
	if err != nil {
		return err
	}
	if out != nil {
		if err := json.Unmarshal(raw, out); err != nil {
			return fmt.Errorf("decoding %s reply: %w", command, err)
		}
	}
	return nil
}

// ReadFile fetches one file from the server's node.
func (d *Dispatcher) ReadFile(ctx context.Context, serverID, path string) (*ReadFileReply, error) {
	var reply ReadFileReply
	req := ReadFileRequest{ServerID: serverID, Path: path}
	if err := d.call(ctx, serverID, CmdFileRead, req, &reply, d.callTimeout); err != nil {
		return nil, err
	}
	return &reply, nil
}

// WriteFile replaces one file on the server's node.
func (d *Dispatcher) WriteFile(ctx context.Context, serverID, path, content string) error {
	req := WriteFileRequest{ServerID: serverID, Path: path, Content: content}
	return d.call(ctx, serverID, CmdFileWrite, req, nil, d.callTimeout)
}

// ListDirectory lists one directory on the server's node.
func (d *Dispatcher) ListDirectory(ctx context.Context, serverID, path string) (*ListDirectoryReply, error) {
	var reply ListDirectoryReply
	req := ListDirectoryRequest{ServerID: serverID, Path: path}
	if err := d.call(ctx, serverID, CmdFileList, req, &reply, d.callTimeout); err != nil {
		return nil, err
	}
	return &reply, nil
}

// Mkdir creates a directory on the server's node.
func (d *Dispatcher) Mkdir(ctx context.Context, serverID, path string) error {
	req := MkdirRequest{ServerID: serverID, Path: path}
	return d.call(ctx, serverID, CmdFileMkdir, req, nil, d.callTimeout)
}

// Delete removes paths on the server's node.
func (d *Dispatcher) Delete(ctx context.Context, serverID string, paths []string) error {
	req := DeletePathsRequest{ServerID: serverID, Paths: paths}
	return d.call(ctx, serverID, CmdFileDelete, req, nil, d.callTimeout)
}

// Rename moves a path within the server's root.
func (d *Dispatcher) Rename(ctx context.Context, serverID, from, to string) error {
	req := RenameRequest{ServerID: serverID, From: from, To: to}
	return d.call(ctx, serverID, CmdFileRename, req, nil, d.callTimeout)
}

// Copy duplicates a path within the server's root.
func (d *Dispatcher) Copy(ctx context.Context, serverID, from, to string) error {
	req := CopyRequest{ServerID: serverID, From: from, To: to}
	return d.call(ctx, serverID, CmdFileCopy, req, nil, d.callTimeout)
}

// Compress archives paths into a single file and returns its name.
func (d *Dispatcher) Compress(ctx context.Context, serverID string, paths []string, destination string) (*CompressReply, error) {
	var reply CompressReply
	req := CompressRequest{ServerID: serverID, Paths: paths, Destination: destination}
	if err := d.call(ctx, serverID, CmdFileCompress, req, &reply, d.callTimeout); err != nil {
		return nil, err
	}
	return &reply, nil
}

// Decompress unpacks an archive on the server's node.
func (d *Dispatcher) Decompress(ctx context.Context, serverID, archive, destination string) error {
	req := DecompressRequest{ServerID: serverID, Archive: archive, Destination: destination}
	return d.call(ctx, serverID, CmdFileDecompress, req, nil, d.callTimeout)
}

// RunCommand feeds one line to the server console. No reply is awaited;
// console output flows back as scoped events.
func (d *Dispatcher) RunCommand(ctx context.Context, serverID, command string) error {
	_, room, err := d.resolve(ctx, serverID)
	if err != nil {
		return err
	}
	req := RunCommandRequest{ServerID: serverID, Command: command}
	body, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("encoding console command: %w", err)
	}
	d.pub.Publish(room, ws.Event{Event: CmdServerCommand, Body: body})
	d.logger.Debug("console command dispatched", "server_id", serverID)
	return nil
}

// transitionalStatus maps a power action to the status set optimistically
// at dispatch time. The authoritative status arrives later from the node.
func transitionalStatus(action string) (string, bool) {
	switch action {
	case PowerStart, PowerRestart:
		return store.ServerStatusStarting, true
	case PowerStop, PowerKill:
		return store.ServerStatusStopping, true
	default:
		return "", false
	}
}

// PowerAction changes the server's power state. On successful dispatch the
// tracked status flips to the expected transitional value before the call
// is awaited; the real outcome arrives via status events.
func (d *Dispatcher) PowerAction(ctx context.Context, serverID, action string, cfg ServerConfig) error {
	status, ok := transitionalStatus(action)
	if !ok {
		return fmt.Errorf("unknown power action %q", action)
	}

	srv, room, err := d.resolve(ctx, serverID)
	if err != nil {
		return err
	}

	if err := d.servers.SetServerStatus(ctx, srv.ID, status); err != nil {
		d.logger.Warn("optimistic status update failed", "server_id", srv.ID, "error", err)
	}

	req := PowerRequest{ServerID: srv.ID, Action: action, Config: cfg}
	if _, err := d.caller.Call(ctx, room, CmdServerPower, req, d.callTimeout); err != nil {
		return err
	}
	return nil
}

// CreateBackup asks the node to snapshot the server.
func (d *Dispatcher) CreateBackup(ctx context.Context, serverID, name string) (*BackupReply, error) {
	var reply BackupReply
	req := BackupRequest{ServerID: serverID, Name: name}
	if err := d.call(ctx, serverID, CmdBackupCreate, req, &reply, d.backupTimeout); err != nil {
		return nil, err
	}
	return &reply, nil
}

// RestoreBackup rolls the server back to a prior backup.
func (d *Dispatcher) RestoreBackup(ctx context.Context, serverID, backupID string) error {
	req := BackupRequest{ServerID: serverID, BackupID: backupID}
	return d.call(ctx, serverID, CmdBackupRestore, req, nil, d.backupTimeout)
}

// DeleteBackup removes a backup from the node's storage.
func (d *Dispatcher) DeleteBackup(ctx context.Context, serverID, backupID string) error {
	req := BackupRequest{ServerID: serverID, BackupID: backupID}
	return d.call(ctx, serverID, CmdBackupDelete, req, nil, d.callTimeout)
}
