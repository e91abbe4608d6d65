package auth

import (
	"fmt"

	"github.com/warden-auth/warden/internal/db/models"
)

// PrincipalKind describes the concrete type of an authenticated principal.
type PrincipalKind string

const (
	// KindManagedUser is a locally managed user verified against a stored
	// password hash.
	KindManagedUser PrincipalKind = "MANAGED_USER"
	// KindLDAPUser is a user asserted by a directory server bind.
	KindLDAPUser PrincipalKind = "LDAP_USER"
	// KindOIDCUser is a user asserted by an OpenID Connect provider.
	KindOIDCUser PrincipalKind = "OIDC_USER"
	// KindAPIKey is a non-interactive principal presenting an API key.
	KindAPIKey PrincipalKind = "API_KEY"
)

// IdentityProvider names the authority that asserted an identity. The value
// is embedded in issued tokens and scopes team synchronization.
type IdentityProvider string

const (
	// ProviderLocal covers managed users and API keys issued by this server.
	ProviderLocal IdentityProvider = "LOCAL"
	// ProviderLDAP covers users asserted by the directory server.
	ProviderLDAP IdentityProvider = "LDAP"
	// ProviderOIDC covers users asserted by the OpenID Connect provider.
	ProviderOIDC IdentityProvider = "OPENID_CONNECT"
)

// Principal is an authenticated identity. The set of implementations is
// closed: exactly ManagedUser, LDAPUser, OIDCUser, and APIKeyPrincipal
// satisfy it, so consumers can switch over the concrete types exhaustively.
type Principal interface {
	// PrincipalName returns the stable human-readable identifier: the
	// username for users, the public key ID for API keys.
	PrincipalName() string
	// Kind returns the concrete principal kind.
	Kind() PrincipalKind

	sealed()
}

// ManagedUser is a principal authenticated against a stored password hash.
type ManagedUser struct {
	User *models.User
}

func (p ManagedUser) PrincipalName() string { return p.User.Username }
func (p ManagedUser) Kind() PrincipalKind   { return KindManagedUser }
func (ManagedUser) sealed()                 {}

// LDAPUser is a principal authenticated by a directory server bind.
type LDAPUser struct {
	User *models.User
}

func (p LDAPUser) PrincipalName() string { return p.User.Username }
func (p LDAPUser) Kind() PrincipalKind   { return KindLDAPUser }
func (LDAPUser) sealed()                 {}

// OIDCUser is a principal authenticated by an OpenID Connect provider.
type OIDCUser struct {
	User *models.User
}

func (p OIDCUser) PrincipalName() string { return p.User.Username }
func (p OIDCUser) Kind() PrincipalKind   { return KindOIDCUser }
func (OIDCUser) sealed()                 {}

// APIKeyPrincipal is a non-interactive principal backed by an API key row.
type APIKeyPrincipal struct {
	Key *models.APIKey
}

func (p APIKeyPrincipal) PrincipalName() string { return p.Key.PublicID }
func (p APIKeyPrincipal) Kind() PrincipalKind   { return KindAPIKey }
func (APIKeyPrincipal) sealed()                 {}

// UserOf returns the backing user row for the three user principal kinds.
// It reports false for API keys.
func UserOf(p Principal) (*models.User, bool) {
	switch v := p.(type) {
	case ManagedUser:
		return v.User, true
	case LDAPUser:
		return v.User, true
	case OIDCUser:
		return v.User, true
	default:
		return nil, false
	}
}

// ProviderOf returns the identity provider that asserted the principal.
// API keys are issued locally, so they map to ProviderLocal.
func ProviderOf(p Principal) IdentityProvider {
	switch p.Kind() {
	case KindLDAPUser:
		return ProviderLDAP
	case KindOIDCUser:
		return ProviderOIDC
	default:
		return ProviderLocal
	}
}

// PrincipalForUser wraps a user row in the principal type matching its kind
// column.
func PrincipalForUser(u *models.User) (Principal, error) {
	switch u.Kind {
	case models.UserKindManaged:
		return ManagedUser{User: u}, nil
	case models.UserKindLDAP:
		return LDAPUser{User: u}, nil
	case models.UserKindOIDC:
		return OIDCUser{User: u}, nil
	default:
		return nil, fmt.Errorf("unknown user kind: %s", u.Kind)
	}
}

// KindForProvider returns the user kind owned by an identity provider.
func KindForProvider(idp IdentityProvider) (models.UserKind, error) {
	switch idp {
	case ProviderLocal:
		return models.UserKindManaged, nil
	case ProviderLDAP:
		return models.UserKindLDAP, nil
	case ProviderOIDC:
		return models.UserKindOIDC, nil
	default:
		return "", fmt.Errorf("unknown identity provider: %s", idp)
	}
}
