package iam

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/go-ldap/ldap/v3"

	"github.com/warden-auth/warden/internal/config"
)

// ErrDirectoryInvalidCredentials is returned by a DirectoryClient when the
// directory server rejected the bind. Every other directory error is an
// infrastructure problem, not a credential verdict.
var ErrDirectoryInvalidCredentials = errors.New("directory rejected credentials")

// defaultDirectoryTimeout bounds a single directory round trip when the
// caller's context carries no deadline.
const defaultDirectoryTimeout = 10 * time.Second

// DirectoryClient verifies a username/password pair against an external
// directory and reports the resolved entry.
//
// Implementations bind per request with the caller's own credentials; there
// is no long-lived service bind and no connection reuse across requests.
type DirectoryClient interface {
	// Authenticate binds as the user and returns the entry's distinguished
	// name and its group memberships. A rejected bind returns an error
	// wrapping ErrDirectoryInvalidCredentials.
	Authenticate(ctx context.Context, username, password string) (dn string, groups []string, err error)
}

// ldapDirectory is the production DirectoryClient on go-ldap.
type ldapDirectory struct {
	cfg *config.LDAPConfig
}

// NewLDAPDirectory creates a DirectoryClient for the configured server.
func NewLDAPDirectory(cfg *config.LDAPConfig) DirectoryClient {
	return &ldapDirectory{cfg: cfg}
}

// Authenticate dials the server, binds with the DN derived from the
// configured format, then reads the user entry for its DN and group
// attribute.
func (d *ldapDirectory) Authenticate(ctx context.Context, username, password string) (string, []string, error) {
	// An empty password would be an unauthenticated bind, which many servers
	// accept. Never let one reach the wire.
	if username == "" || password == "" {
		return "", nil, fmt.Errorf("empty credentials: %w", ErrDirectoryInvalidCredentials)
	}

	timeout := defaultDirectoryTimeout
	if deadline, ok := ctx.Deadline(); ok {
		if remaining := time.Until(deadline); remaining < timeout {
			timeout = remaining
		}
	}

	conn, err := ldap.DialURL(d.cfg.URL, ldap.DialWithDialer(&net.Dialer{Timeout: timeout}))
	if err != nil {
		return "", nil, fmt.Errorf("dial directory %s: %w", d.cfg.URL, err)
	}
	defer conn.Close()
	conn.SetTimeout(timeout)

	bindDN := fmt.Sprintf(d.cfg.BindDNFormat, ldap.EscapeDN(username))
	if err := conn.Bind(bindDN, password); err != nil {
		if ldap.IsErrorWithCode(err, ldap.LDAPResultInvalidCredentials) {
			return "", nil, fmt.Errorf("bind as %s: %w", bindDN, ErrDirectoryInvalidCredentials)
		}
		return "", nil, fmt.Errorf("bind as %s: %w", bindDN, err)
	}

	// The bind proves the password; the search supplies the canonical DN and
	// the group attribute. A missing entry means the filter or base DN is
	// misconfigured and has to surface loudly, otherwise team sync would run
	// against an empty group list.
	searchReq := ldap.NewSearchRequest(
		d.cfg.BaseDN,
		ldap.ScopeWholeSubtree,
		ldap.NeverDerefAliases,
		1, 0, false,
		fmt.Sprintf(d.cfg.UserFilter, ldap.EscapeFilter(username)),
		[]string{d.cfg.GroupAttribute},
		nil,
	)

	result, err := conn.Search(searchReq)
	if err != nil {
		return "", nil, fmt.Errorf("search user entry for %s: %w", username, err)
	}
	if len(result.Entries) == 0 {
		return "", nil, fmt.Errorf("no entry for %s under %s", username, d.cfg.BaseDN)
	}

	entry := result.Entries[0]
	return entry.DN, entry.GetAttributeValues(d.cfg.GroupAttribute), nil
}
