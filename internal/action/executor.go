// ABOUTME: Maps action types to the dispatch operations that execute them
// ABOUTME: Unregistered types fail cleanly instead of being guessed at

package action

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/craterhq/crater/internal/dispatch"
	"github.com/craterhq/crater/internal/store"
)

// ErrNoExecutor means no dispatch operation is wired for the action's type.
var ErrNoExecutor = errors.New("no executor registered for action type")

// ExecFunc runs one approved action and returns a human-readable result.
type ExecFunc func(ctx context.Context, act *store.Action) (string, error)

// Registry maps action types to executors.
type Registry struct {
	funcs map[store.ActionType]ExecFunc
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{funcs: make(map[store.ActionType]ExecFunc)}
}

// Register wires one action type to an executor, replacing any previous one.
func (r *Registry) Register(t store.ActionType, fn ExecFunc) {
	r.funcs[t] = fn
}

// Execute runs the action through its registered executor.
func (r *Registry) Execute(ctx context.Context, act *store.Action) (string, error) {
	fn, ok := r.funcs[act.Type]
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrNoExecutor, act.Type)
	}
	return fn(ctx, act)
}

// filePayload is the shared payload shape of the single-path file actions.
type filePayload struct {
	ServerID string `json:"serverId"`
	Path     string `json:"path"`
	Content  string `json:"content,omitempty"`
}

// controlPayload is the payload shape of server-control actions.
type controlPayload struct {
	ServerID string                `json:"serverId"`
	Action   string                `json:"action"`
	Config   dispatch.ServerConfig `json:"config"`
}

// commandPayload is the payload shape of execute-command actions.
type commandPayload struct {
	ServerID string `json:"serverId"`
	Command  string `json:"command"`
}

func decodePayload[T any](act *store.Action) (T, error) {
	var p T
	if err := json.Unmarshal(act.Payload, &p); err != nil {
		return p, fmt.Errorf("decoding %s payload: %w", act.Type, err)
	}
	return p, nil
}

// NewDispatchRegistry wires the node-backed action types to the dispatch
// facade. Types with no node capability behind them (plugin search and
// install, version changes, database operations, optimization) stay
// unregistered and fail with ErrNoExecutor until a backend exists.
func NewDispatchRegistry(d *dispatch.Dispatcher) *Registry {
	r := NewRegistry()

	readFile := func(ctx context.Context, act *store.Action) (string, error) {
		p, err := decodePayload[filePayload](act)
		if err != nil {
			return "", err
		}
		reply, err := d.ReadFile(ctx, p.ServerID, p.Path)
		if err != nil {
			return "", err
		}
		return reply.Content, nil
	}
	r.Register(store.ActionReadFile, readFile)
	r.Register(store.ActionInspectFile, readFile)

	writeFile := func(ctx context.Context, act *store.Action) (string, error) {
		p, err := decodePayload[filePayload](act)
		if err != nil {
			return "", err
		}
		if err := d.WriteFile(ctx, p.ServerID, p.Path, p.Content); err != nil {
			return "", err
		}
		return fmt.Sprintf("wrote %s", p.Path), nil
	}
	r.Register(store.ActionWriteFile, writeFile)
	r.Register(store.ActionCreateFile, writeFile)

	r.Register(store.ActionDeleteFile, func(ctx context.Context, act *store.Action) (string, error) {
		p, err := decodePayload[filePayload](act)
		if err != nil {
			return "", err
		}
		if err := d.Delete(ctx, p.ServerID, []string{p.Path}); err != nil {
			return "", err
		}
		return fmt.Sprintf("deleted %s", p.Path), nil
	})

	r.Register(store.ActionListDirectory, func(ctx context.Context, act *store.Action) (string, error) {
		p, err := decodePayload[filePayload](act)
		if err != nil {
			return "", err
		}
		reply, err := d.ListDirectory(ctx, p.ServerID, p.Path)
		if err != nil {
			return "", err
		}
		out, err := json.Marshal(reply.Entries)
		if err != nil {
			return "", fmt.Errorf("encoding listing: %w", err)
		}
		return string(out), nil
	})

	r.Register(store.ActionExecuteCommand, func(ctx context.Context, act *store.Action) (string, error) {
		p, err := decodePayload[commandPayload](act)
		if err != nil {
			return "", err
		}
		if err := d.RunCommand(ctx, p.ServerID, p.Command); err != nil {
			return "", err
		}
		return fmt.Sprintf("command sent: %s", p.Command), nil
	})

	r.Register(store.ActionServerControl, func(ctx context.Context, act *store.Action) (string, error) {
		p, err := decodePayload[controlPayload](act)
		if err != nil {
			return "", err
		}
		if err := d.PowerAction(ctx, p.ServerID, p.Action, p.Config); err != nil {
			return "", err
		}
		return fmt.Sprintf("power action %s dispatched", p.Action), nil
	})

	return r
}
