package auth

import (
	_ "embed"
	"fmt"
	"strings"

	"github.com/casbin/casbin/v2"
	"github.com/casbin/casbin/v2/model"
	"github.com/uptrace/bun"
	casbinbunadapter "github.com/warden-auth/warden/internal/auth/bunadapter"
)

//go:embed model.conf
var casbinModelContent string

// InitEnforcer creates and initializes a Casbin enforcer with the embedded
// route model and the database adapter, sharing the existing *bun.DB
// connection pool.
func InitEnforcer(db *bun.DB) (casbin.IEnforcer, error) {
	// Create Bun adapter with existing *bun.DB instance
	adapter, err := casbinbunadapter.NewAdapter(db)
	if err != nil {
		return nil, fmt.Errorf("create casbin adapter: %w", err)
	}

	// Load route model from embedded string
	m, err := model.NewModelFromString(casbinModelContent)
	if err != nil {
		return nil, fmt.Errorf("parse casbin model: %w", err)
	}

	// Create enforcer with model and adapter
	enforcer, err := casbin.NewSyncedEnforcer(m, adapter)
	if err != nil {
		return nil, fmt.Errorf("create casbin enforcer: %w", err)
	}

	// Register the custom matcher deciding whether a principal's effective
	// permissions satisfy a route policy's OR set
	enforcer.AddFunction("hasAnyPerm", HasAnyPermFunction())

	// Load policies from database
	if err := enforcer.LoadPolicy(); err != nil {
		return nil, fmt.Errorf("load casbin policies: %w", err)
	}

	return enforcer, nil
}

// HasAnyPermFunction wraps HasAnyPerm in the signature Casbin expects from
// AddFunction.
func HasAnyPermFunction() func(args ...interface{}) (interface{}, error) {
	return func(args ...interface{}) (interface{}, error) {
		if len(args) != 2 {
			return false, fmt.Errorf("hasAnyPerm expects 2 arguments, got %d", len(args))
		}

		perms, ok := args[0].(string)
		if !ok {
			return false, fmt.Errorf("hasAnyPerm: perms argument is not a string")
		}

		required, ok := args[1].(string)
		if !ok {
			return false, fmt.Errorf("hasAnyPerm: required argument is not a string")
		}

		return HasAnyPerm(perms, required), nil
	}
}

// HasAnyPerm reports whether any of the principal's effective permissions
// appears in a route policy's required OR set. Both sides are joined with
// PermSeparator. The PermAny sentinel accepts any authenticated principal,
// including one holding no permissions at all.
func HasAnyPerm(perms, required string) bool {
	if required == PermAny {
		return true
	}
	if perms == "" || required == "" {
		return false
	}

	have := strings.Split(perms, PermSeparator)
	for _, req := range strings.Split(required, PermSeparator) {
		if req == "" {
			continue
		}
		for _, h := range have {
			if h == req {
				return true
			}
		}
	}
	return false
}

// JoinPermissions joins a permission list into the request value consumed by
// the route matcher.
func JoinPermissions(permissions []string) string {
	return strings.Join(permissions, PermSeparator)
}
