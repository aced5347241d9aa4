// Package action holds the closed capability table, the rate-paced
// invocation queue and the apply pipeline shared by every transport.
package action

import (
	"errors"
	"strconv"
	"strings"

	"github.com/DGGua/oicq/internal/session"
)

// ErrActionNotFound is returned when a request names an action outside the
// capability table.
var ErrActionNotFound = errors.New("action not found")

// Capability is one entry of the action table: a name, its ordered
// parameter schema, and the adapter that invokes the session.
type Capability struct {
	Name   string
	Params []string
	Invoke func(args []any) error
}

// Registry is the closed table of actions the gateway exposes. It is built
// once at startup; requests cannot reach session methods it does not list.
type Registry struct {
	caps map[string]Capability
}

// NewRegistry binds the capability table to the given session.
func NewRegistry(sess session.Session) *Registry {
	r := &Registry{caps: make(map[string]Capability)}

	r.register(Capability{
		Name:   "sendPrivateMsg",
		Params: []string{"user_id", "message", "quote"},
		Invoke: func(args []any) error {
			return sess.SendPrivateMessage(toInt64(argAt(args, 0)), argAt(args, 1), argAt(args, 2))
		},
	})
	r.register(Capability{
		Name:   "sendGroupMsg",
		Params: []string{"group_id", "message", "quote"},
		Invoke: func(args []any) error {
			return sess.SendGroupMessage(toInt64(argAt(args, 0)), argAt(args, 1), argAt(args, 2))
		},
	})

	return r
}

func (r *Registry) register(c Capability) {
	r.caps[c.Name] = c
}

// Resolve looks up a normalized action name.
func (r *Registry) Resolve(name string) (Capability, error) {
	c, ok := r.caps[name]
	if !ok {
		return Capability{}, ErrActionNotFound
	}
	return c, nil
}

// Normalize maps a request path or action field to a table name by
// stripping path-style slashes ("/sendPrivateMsg" → "sendPrivateMsg").
// No other transformation is applied; the table names are the only
// accepted spellings.
func Normalize(name string) string {
	return strings.ReplaceAll(name, "/", "")
}

// BuildArgs assembles the ordered argument list for a capability: the
// longest prefix of the schema whose fields are present and non-null. A
// field appearing after a gap is dropped.
func BuildArgs(params []string, data map[string]any) []any {
	args := make([]any, 0, len(params))
	for _, param := range params {
		v, ok := data[param]
		if !ok || v == nil {
			break
		}
		args = append(args, v)
	}
	return args
}

func argAt(args []any, i int) any {
	if i < len(args) {
		return args[i]
	}
	return nil
}

// toInt64 coerces a JSON-decoded id (number or numeric string) to int64.
func toInt64(v any) int64 {
	switch n := v.(type) {
	case int64:
		return n
	case int:
		return int64(n)
	case float64:
		return int64(n)
	case string:
		id, err := strconv.ParseInt(n, 10, 64)
		if err != nil {
			return 0
		}
		return id
	default:
		return 0
	}
}
