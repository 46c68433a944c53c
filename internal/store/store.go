// ABOUTME: Store interface and data types for crater persistence.
// ABOUTME: Defines Node, Server, Conversation, Action and the Store interface.

package store

import (
	"context"
	"encoding/json"
	"errors"
	"time"
)

// ErrNotFound is returned when a requested entity does not exist.
var ErrNotFound = errors.New("not found")

// ErrStatusConflict is returned when a compare-and-set status transition
// finds the row in a different state than expected.
var ErrStatusConflict = errors.New("status conflict")

// Node represents a remote execution daemon registered with the control
// plane. The record persists across connect/disconnect cycles; only the
// reachability flag and heartbeat timestamp track liveness.
type Node struct {
	ID            string
	Name          string
	TokenHash     string // SHA-256 hex of the node's connection credential
	Reachable     bool
	LastHeartbeat *time.Time
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// Server status values. Transitional values ("starting", "stopping") are set
// optimistically at dispatch time; authoritative values arrive from the node.
const (
	ServerStatusRunning    = "running"
	ServerStatusStopped    = "stopped"
	ServerStatusStarting   = "starting"
	ServerStatusStopping   = "stopping"
	ServerStatusRestarting = "restarting"
	ServerStatusUnknown    = "unknown"
)

// Server is a managed game-server instance assigned to a node.
type Server struct {
	ID        string
	Name      string
	NodeID    string
	Status    string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Conversation is the parent record for a sequence of assistant turns. The
// messaging core only needs it as the Action's owner and authorization scope.
type Conversation struct {
	ID          string
	PrincipalID string
	CreatedAt   time.Time
}

// ActionType is the closed set of operations an assistant may propose.
type ActionType string

const (
	ActionReadFile       ActionType = "read-file"
	ActionWriteFile      ActionType = "write-file"
	ActionCreateFile     ActionType = "create-file"
	ActionDeleteFile     ActionType = "delete-file"
	ActionExecuteCommand ActionType = "execute-command"
	ActionServerControl  ActionType = "server-control"
	ActionInstallPlugin  ActionType = "install-plugin"
	ActionSearchPlugins  ActionType = "search-plugins"
	ActionChangeVersion  ActionType = "change-version"
	ActionDatabaseOp     ActionType = "database-op"
	ActionOptimize       ActionType = "optimize"
	ActionListDirectory  ActionType = "list-directory"
	ActionInspectFile    ActionType = "inspect-file"
)

// Valid reports whether t is one of the recognized action types.
func (t ActionType) Valid() bool {
	switch t {
	case ActionReadFile, ActionWriteFile, ActionCreateFile, ActionDeleteFile,
		ActionExecuteCommand, ActionServerControl, ActionInstallPlugin,
		ActionSearchPlugins, ActionChangeVersion, ActionDatabaseOp,
		ActionOptimize, ActionListDirectory, ActionInspectFile:
		return true
	}
	return false
}

// ActionStatus is the lifecycle state of a proposed action.
type ActionStatus string

const (
	ActionPending  ActionStatus = "pending"
	ActionApproved ActionStatus = "approved"
	ActionExecuted ActionStatus = "executed"
	ActionRejected ActionStatus = "rejected"
	ActionFailed   ActionStatus = "failed"
)

// Terminal reports whether no further transition is accepted from s.
func (s ActionStatus) Terminal() bool {
	return s == ActionExecuted || s == ActionRejected || s == ActionFailed
}

// Action is a proposed side-effecting operation awaiting human approval.
// Payload is immutable after creation; Result is set exactly once, when the
// action reaches executed or failed.
type Action struct {
	ID             string
	ConversationID string
	Type           ActionType
	Description    string
	Payload        json.RawMessage
	Status         ActionStatus
	Result         *string
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// Store defines the persistence interface the messaging core consumes.
type Store interface {
	// Nodes
	CreateNode(ctx context.Context, node *Node) error
	GetNode(ctx context.Context, id string) (*Node, error)
	GetNodeByTokenHash(ctx context.Context, hash string) (*Node, error)
	ListNodes(ctx context.Context) ([]*Node, error)
	SetNodeReachable(ctx context.Context, id string, reachable bool, heartbeat time.Time) error
	RotateNodeCredential(ctx context.Context, id, newHash string) error
	DeleteNode(ctx context.Context, id string) error

	// Servers
	CreateServer(ctx context.Context, server *Server) error
	GetServer(ctx context.Context, id string) (*Server, error)
	ListServers(ctx context.Context) ([]*Server, error)
	ListServersByNode(ctx context.Context, nodeID string) ([]*Server, error)
	SetServerStatus(ctx context.Context, id, status string) error

	// Conversations
	CreateConversation(ctx context.Context, conv *Conversation) error
	GetConversation(ctx context.Context, id string) (*Conversation, error)
	ListConversationsByPrincipal(ctx context.Context, principalID string) ([]*Conversation, error)
	DeleteConversation(ctx context.Context, id string) error

	// Actions
	CreateAction(ctx context.Context, action *Action) error
	GetAction(ctx context.Context, id string) (*Action, error)
	ListActionsByConversation(ctx context.Context, conversationID string) ([]*Action, error)
	TransitionAction(ctx context.Context, id string, from, to ActionStatus, result *string) error
	FailApprovedBefore(ctx context.Context, cutoff time.Time, result string) (int, error)

	Close() error
}
