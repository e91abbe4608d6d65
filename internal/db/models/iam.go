package models

import (
	"time"

	"github.com/uptrace/bun"
)

// UserKind discriminates the user variants sharing the users table.
type UserKind string

const (
	// UserKindManaged is a locally managed user with a stored password hash.
	UserKindManaged UserKind = "managed"
	// UserKindLDAP is a user asserted by a directory server.
	UserKindLDAP UserKind = "ldap"
	// UserKindOIDC is a user asserted by an OpenID Connect provider.
	UserKindOIDC UserKind = "oidc"
)

// User represents a human principal. Exactly one row exists per username
// regardless of kind; the kind column decides which authentication service
// owns the row.
//
// PasswordHash is only populated for managed users. Subject stores the OIDC
// subject identifier and is pinned on first OIDC login; DN stores the LDAP
// distinguished name resolved on first directory bind.
type User struct {
	bun.BaseModel `bun:"table:users,alias:u"`

	ID                  string     `bun:"id,pk,type:uuid"`
	Kind                UserKind   `bun:"kind,notnull"`
	Username            string     `bun:"username,notnull,unique"`
	Email               *string    `bun:"email"`
	Fullname            string     `bun:"fullname"`
	PasswordHash        *string    `bun:"password_hash"`
	Suspended           bool       `bun:"suspended,notnull,default:false"`
	ForcePasswordChange bool       `bun:"force_password_change,notnull,default:false"`
	Subject             *string    `bun:"subject,unique"`
	DN                  *string    `bun:"dn"`
	CreatedAt           time.Time  `bun:"created_at,notnull,default:current_timestamp"`
	UpdatedAt           time.Time  `bun:"updated_at,notnull,default:current_timestamp"`
	LastLoginAt         *time.Time `bun:"last_login_at"`
}

// Team is a named group aggregating permissions and external-group mappings.
// Users and API keys join teams through the user_teams and apikey_teams
// tables; permissions attach through team_permissions.
type Team struct {
	bun.BaseModel `bun:"table:teams,alias:t"`

	ID          string    `bun:"id,pk,type:uuid"`
	Name        string    `bun:"name,notnull,unique"`
	Description string    `bun:"description"`
	CreatedAt   time.Time `bun:"created_at,notnull,default:current_timestamp"`
	UpdatedAt   time.Time `bun:"updated_at,notnull,default:current_timestamp"`
}

// Permission is a named capability checked by the authorization layer.
type Permission struct {
	bun.BaseModel `bun:"table:permissions,alias:p"`

	ID          string    `bun:"id,pk,type:uuid"`
	Name        string    `bun:"name,notnull,unique"`
	Description string    `bun:"description"`
	CreatedAt   time.Time `bun:"created_at,notnull,default:current_timestamp"`
}

// APIKey is a non-interactive principal. Only the SHA-256 hash of the key
// secret is persisted; the plaintext is shown exactly once at creation or
// rotation. LastUsedAt is maintained asynchronously by the usage tracker.
type APIKey struct {
	bun.BaseModel `bun:"table:api_keys,alias:ak"`

	ID         string     `bun:"id,pk,type:uuid"`
	PublicID   string     `bun:"public_id,notnull,unique"`
	SecretHash string     `bun:"secret_hash,notnull"`
	Comment    string     `bun:"comment"`
	CreatedAt  time.Time  `bun:"created_at,notnull,default:current_timestamp"`
	CreatedBy  string     `bun:"created_by,notnull,type:uuid"`
	RotatedAt  *time.Time `bun:"rotated_at"`
	LastUsedAt *time.Time `bun:"last_used_at"`
}

// MappedGroup binds an external group (LDAP group DN or OIDC group name) to a
// team for one identity provider. These rows are the sole source of truth for
// synchronized team membership.
type MappedGroup struct {
	bun.BaseModel `bun:"table:mapped_groups,alias:mg"`

	ID               string    `bun:"id,pk,type:uuid"`
	TeamID           string    `bun:"team_id,notnull,type:uuid"`
	IdentityProvider string    `bun:"identity_provider,notnull"`
	GroupName        string    `bun:"group_name,notnull"`
	CreatedAt        time.Time `bun:"created_at,notnull,default:current_timestamp"`
}

// UserTeam joins users to teams.
type UserTeam struct {
	bun.BaseModel `bun:"table:user_teams,alias:ut"`

	UserID string `bun:"user_id,pk,type:uuid"`
	TeamID string `bun:"team_id,pk,type:uuid"`
}

// APIKeyTeam joins API keys to teams.
type APIKeyTeam struct {
	bun.BaseModel `bun:"table:apikey_teams,alias:akt"`

	APIKeyID string `bun:"api_key_id,pk,type:uuid"`
	TeamID   string `bun:"team_id,pk,type:uuid"`
}

// UserPermission joins users to directly granted permissions.
type UserPermission struct {
	bun.BaseModel `bun:"table:user_permissions,alias:up"`

	UserID       string `bun:"user_id,pk,type:uuid"`
	PermissionID string `bun:"permission_id,pk,type:uuid"`
}

// TeamPermission joins teams to their granted permissions.
type TeamPermission struct {
	bun.BaseModel `bun:"table:team_permissions,alias:tp"`

	TeamID       string `bun:"team_id,pk,type:uuid"`
	PermissionID string `bun:"permission_id,pk,type:uuid"`
}
