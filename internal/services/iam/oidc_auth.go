package iam

import (
	"context"
	"errors"
	"fmt"
	"log"

	"github.com/coreos/go-oidc/v3/oidc"
	"golang.org/x/oauth2"

	"github.com/warden-auth/warden/internal/auth"
	"github.com/warden-auth/warden/internal/config"
	"github.com/warden-auth/warden/internal/db/models"
	"github.com/warden-auth/warden/internal/repository"
)

// Profile is the identity aggregate assembled from provider claims.
//
// A nil Groups slice means the provider did not assert a group claim at all;
// an empty non-nil slice is an asserted empty membership. The distinction
// matters: the first makes a profile incomplete under team sync, the second
// legitimately removes every synchronized team.
type Profile struct {
	Subject  string
	Username string
	Email    string
	Groups   []string
}

// Complete reports whether the profile can authenticate a user: subject and
// username must be present, and the group claim too when team sync needs it.
func (p Profile) Complete(requireGroups bool) bool {
	if p.Subject == "" || p.Username == "" {
		return false
	}
	if requireGroups && p.Groups == nil {
		return false
	}
	return true
}

// Merge combines two profiles left-biased: p's fields win whenever present.
func (p Profile) Merge(other Profile) Profile {
	merged := p
	if merged.Subject == "" {
		merged.Subject = other.Subject
	}
	if merged.Username == "" {
		merged.Username = other.Username
	}
	if merged.Email == "" {
		merged.Email = other.Email
	}
	if merged.Groups == nil {
		merged.Groups = other.Groups
	}
	return merged
}

// ClaimSource turns provider credentials into claim maps. The production
// implementation verifies against the provider's JWKS and UserInfo endpoint;
// tests substitute a fake.
type ClaimSource interface {
	// VerifyIDToken validates an ID token's signature, issuer, and audience
	// and returns its claims.
	VerifyIDToken(ctx context.Context, rawIDToken string) (map[string]interface{}, error)

	// FetchUserInfo exchanges an access token at the provider's UserInfo
	// endpoint and returns the response claims.
	FetchUserInfo(ctx context.Context, accessToken string) (map[string]interface{}, error)
}

// oidcClaimSource is the production ClaimSource on coreos/go-oidc. Provider
// discovery happens once at construction; the verifier caches the remote
// JWKS.
type oidcClaimSource struct {
	provider *oidc.Provider
	verifier *oidc.IDTokenVerifier
}

// NewOIDCClaimSource discovers the configured issuer and prepares a verifier
// for its tokens.
func NewOIDCClaimSource(ctx context.Context, cfg *config.OIDCConfig) (ClaimSource, error) {
	provider, err := oidc.NewProvider(ctx, cfg.Issuer)
	if err != nil {
		return nil, fmt.Errorf("discover OIDC provider %s: %w", cfg.Issuer, err)
	}

	return &oidcClaimSource{
		provider: provider,
		verifier: provider.Verifier(&oidc.Config{ClientID: cfg.ClientID}),
	}, nil
}

func (s *oidcClaimSource) VerifyIDToken(ctx context.Context, rawIDToken string) (map[string]interface{}, error) {
	idToken, err := s.verifier.Verify(ctx, rawIDToken)
	if err != nil {
		return nil, err
	}

	var claims map[string]interface{}
	if err := idToken.Claims(&claims); err != nil {
		return nil, fmt.Errorf("decode ID token claims: %w", err)
	}
	return claims, nil
}

func (s *oidcClaimSource) FetchUserInfo(ctx context.Context, accessToken string) (map[string]interface{}, error) {
	userInfo, err := s.provider.UserInfo(ctx, oauth2.StaticTokenSource(&oauth2.Token{AccessToken: accessToken}))
	if err != nil {
		return nil, err
	}

	var claims map[string]interface{}
	if err := userInfo.Claims(&claims); err != nil {
		return nil, fmt.Errorf("decode UserInfo claims: %w", err)
	}
	return claims, nil
}

// OIDCAuthService authenticates users asserted by the OpenID Connect
// provider.
//
// Identity is keyed by username; the provider subject is pinned to the row
// on first login and any later mismatch is a hard failure. This stops a
// recycled username at the provider from inheriting the previous holder's
// account.
type OIDCAuthService struct {
	cfg      *config.OIDCConfig
	source   ClaimSource
	users    repository.UserRepository
	teams    repository.TeamRepository
	teamSync *TeamSynchronizer
}

// NewOIDCAuthService creates an OIDC authentication service.
func NewOIDCAuthService(
	cfg *config.OIDCConfig,
	source ClaimSource,
	users repository.UserRepository,
	teams repository.TeamRepository,
	teamSync *TeamSynchronizer,
) *OIDCAuthService {
	return &OIDCAuthService{
		cfg:      cfg,
		source:   source,
		users:    users,
		teams:    teams,
		teamSync: teamSync,
	}
}

// Authenticate runs the three-step profile pipeline over the presented
// tokens: the ID token profile if complete, else the UserInfo profile, else
// the left-biased merge of both (ID token claims win).
//
// Failure categories:
//   - no usable token, rejected token, subject mismatch → INVALID_CREDENTIALS
//   - expired ID token → EXPIRED_CREDENTIALS
//   - valid identity, no local account, provisioning disabled → UNMAPPED_ACCOUNT
//   - suspended local account → SUSPENDED
//   - incomplete profile, provider/storage trouble → OTHER
func (s *OIDCAuthService) Authenticate(ctx context.Context, rawIDToken, accessToken string) (auth.Principal, error) {
	if rawIDToken == "" && accessToken == "" {
		return nil, NewFailure(CauseInvalidCredentials, "")
	}

	var idProfile, userInfoProfile *Profile

	if rawIDToken != "" {
		claims, err := s.source.VerifyIDToken(ctx, rawIDToken)
		if err != nil {
			var expired *oidc.TokenExpiredError
			if errors.As(err, &expired) {
				return nil, WrapFailure(CauseExpiredCredentials, "", err)
			}
			return nil, WrapFailure(CauseInvalidCredentials, "", err)
		}
		p, err := s.extractProfile(claims)
		if err != nil {
			return nil, WrapFailure(CauseOther, "", err)
		}
		idProfile = &p
	}

	if accessToken != "" {
		claims, err := s.source.FetchUserInfo(ctx, accessToken)
		if err != nil {
			if idProfile == nil {
				// The access token was the only credential.
				return nil, WrapFailure(CauseInvalidCredentials, "", err)
			}
			log.Printf("WARNING: UserInfo fetch failed, continuing with ID token profile: %v", err)
		} else {
			p, err := s.extractProfile(claims)
			if err != nil {
				return nil, WrapFailure(CauseOther, "", err)
			}
			userInfoProfile = &p
		}
	}

	profile, complete := selectProfile(idProfile, userInfoProfile, s.cfg.TeamSynchronization)
	if !complete {
		return nil, WrapFailure(CauseOther, profile.Username,
			fmt.Errorf("provider claims do not form a complete profile"))
	}

	user, provisioned, err := s.resolveUser(ctx, profile)
	if err != nil {
		return nil, err
	}

	if s.cfg.TeamSynchronization {
		if err := s.teamSync.Synchronize(ctx, user.ID, auth.ProviderOIDC, profile.Groups); err != nil {
			return nil, WrapFailure(CauseOther, profile.Username, err)
		}
	} else if provisioned && len(s.cfg.DefaultTeams) > 0 {
		s.assignDefaultTeams(ctx, user)
	}

	if err := s.users.UpdateLastLogin(ctx, user.ID); err != nil {
		log.Printf("WARNING: update last login for user %s: %v", user.Username, err)
	}

	return auth.OIDCUser{User: user}, nil
}

// resolveUser finds or provisions the local account for a complete profile.
func (s *OIDCAuthService) resolveUser(ctx context.Context, profile Profile) (*models.User, bool, error) {
	user, err := s.users.GetByUsernameAndKind(ctx, profile.Username, models.UserKindOIDC)
	switch {
	case err == nil:
		if user.Subject != nil && *user.Subject != "" && *user.Subject != profile.Subject {
			// The provider asserted a different subject for a known
			// username. Whoever this is, it is not the pinned identity.
			log.Printf("WARNING: subject mismatch for user %s: pinned %s, provider asserted %s",
				profile.Username, *user.Subject, profile.Subject)
			return nil, false, NewFailure(CauseInvalidCredentials, profile.Username)
		}
		if user.Suspended {
			return nil, false, NewFailure(CauseSuspended, profile.Username)
		}

		dirty := false
		if user.Subject == nil || *user.Subject == "" {
			subject := profile.Subject
			user.Subject = &subject
			dirty = true
			log.Printf("INFO: pinned subject for user %s", profile.Username)
		}
		if profile.Email != "" && (user.Email == nil || *user.Email != profile.Email) {
			email := profile.Email
			user.Email = &email
			dirty = true
		}
		if dirty {
			if err := s.users.Update(ctx, user); err != nil {
				log.Printf("WARNING: update profile for user %s: %v", profile.Username, err)
			}
		}
		return user, false, nil

	case errors.Is(err, repository.ErrNotFound):
		if !s.cfg.UserProvisioning {
			return nil, false, NewFailure(CauseUnmappedAccount, profile.Username)
		}

		subject := profile.Subject
		user = &models.User{
			Kind:     models.UserKindOIDC,
			Username: profile.Username,
			Subject:  &subject,
		}
		if profile.Email != "" {
			email := profile.Email
			user.Email = &email
		}
		if err := s.users.Create(ctx, user); err != nil {
			return nil, false, WrapFailure(CauseOther, profile.Username, err)
		}
		log.Printf("INFO: provisioned OIDC user %s", profile.Username)
		return user, true, nil

	default:
		return nil, false, WrapFailure(CauseOther, profile.Username, err)
	}
}

// assignDefaultTeams grants the configured default teams to a freshly
// provisioned user. Best-effort: an unknown team name is skipped with a
// warning rather than failing the login.
func (s *OIDCAuthService) assignDefaultTeams(ctx context.Context, user *models.User) {
	for _, name := range s.cfg.DefaultTeams {
		team, err := s.teams.GetByName(ctx, name)
		if err != nil {
			log.Printf("WARNING: default team %q not assigned to user %s: %v", name, user.Username, err)
			continue
		}
		if err := s.teams.AddUser(ctx, team.ID, user.ID); err != nil {
			log.Printf("WARNING: add user %s to default team %q: %v", user.Username, name, err)
		}
	}
}

// extractProfile maps a claim set onto a Profile using the configured claim
// names. Group claims are only extracted when asserted, preserving the
// absent/empty distinction Complete relies on.
func (s *OIDCAuthService) extractProfile(claims map[string]interface{}) (Profile, error) {
	profile := Profile{
		Subject:  auth.ExtractOptionalString(claims, "sub"),
		Username: auth.ExtractOptionalString(claims, s.cfg.UsernameClaim),
		Email:    auth.ExtractOptionalString(claims, s.cfg.EmailClaim),
	}

	if _, asserted := claims[s.cfg.TeamsClaim]; asserted {
		groups, err := auth.ExtractGroups(claims, s.cfg.TeamsClaim)
		if err != nil {
			return Profile{}, fmt.Errorf("extract groups claim %q: %w", s.cfg.TeamsClaim, err)
		}
		profile.Groups = groups
	}

	return profile, nil
}

// selectProfile picks the authenticating profile: first single source that
// is complete, else the merge. The merged profile is returned even when
// incomplete so callers have a username hint for logs.
func selectProfile(idProfile, userInfoProfile *Profile, requireGroups bool) (Profile, bool) {
	if idProfile != nil && idProfile.Complete(requireGroups) {
		return *idProfile, true
	}
	if userInfoProfile != nil && userInfoProfile.Complete(requireGroups) {
		return *userInfoProfile, true
	}

	var merged Profile
	switch {
	case idProfile != nil && userInfoProfile != nil:
		merged = idProfile.Merge(*userInfoProfile)
	case idProfile != nil:
		merged = *idProfile
	case userInfoProfile != nil:
		merged = *userInfoProfile
	default:
		return Profile{}, false
	}

	return merged, merged.Complete(requireGroups)
}
