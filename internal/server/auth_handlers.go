package server

import (
	"log"
	"net/http"
	"net/url"

	"github.com/zitadel/oidc/v3/pkg/client/rp"
	"github.com/zitadel/oidc/v3/pkg/oidc"

	"github.com/warden-auth/warden/internal/auth"
	"github.com/warden-auth/warden/internal/middleware"
)

// LoginRequest carries interactive login credentials
type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// TokenResponse is the envelope returned by every login path
type TokenResponse struct {
	Token     string `json:"token"`
	Principal string `json:"principal"`
	Kind      string `json:"kind"`
}

// PasswordChangeRequest carries a password change. The current password is
// re-validated even when the caller holds a valid token.
type PasswordChangeRequest struct {
	Username    string `json:"username"`
	Password    string `json:"password"`
	NewPassword string `json:"newPassword"`
}

// OIDCLoginRequest carries provider tokens for the token-based OIDC path.
// Either token may be missing, not both.
type OIDCLoginRequest struct {
	IDToken     string `json:"id_token"`
	AccessToken string `json:"access_token"`
}

// WhoamiResponse summarizes the authenticated principal
type WhoamiResponse struct {
	Principal        string   `json:"principal"`
	Kind             string   `json:"kind"`
	IdentityProvider string   `json:"identity_provider"`
	Permissions      []string `json:"permissions"`
}

// HandleLogin authenticates a username/password pair through the credential
// chain and returns a signed token.
func HandleLogin(svc iamAdminService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req LoginRequest
		if err := decodeJSON(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		if req.Username == "" || req.Password == "" {
			writeError(w, http.StatusBadRequest, ErrMissingCredentials.Error())
			return
		}

		principal, token, err := svc.Login(r.Context(), req.Username, req.Password)
		if err != nil {
			writeAuthFailure(w, err)
			return
		}

		writeJSON(w, http.StatusOK, TokenResponse{
			Token:     token,
			Principal: principal.PrincipalName(),
			Kind:      string(principal.Kind()),
		})
	}
}

// HandlePasswordChange validates the current credentials of a managed user
// and stores a new password. This is how an account in the forced-change
// state becomes usable again, so it accepts that state where login does not.
func HandlePasswordChange(svc iamAdminService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req PasswordChangeRequest
		if err := decodeJSON(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		if req.Username == "" || req.Password == "" || req.NewPassword == "" {
			writeError(w, http.StatusBadRequest, "username, password, and newPassword are required")
			return
		}

		if err := svc.ChangePassword(r.Context(), req.Username, req.Password, req.NewPassword); err != nil {
			writeAuthFailure(w, err)
			return
		}

		w.WriteHeader(http.StatusNoContent)
	}
}

// HandleOIDCLogin runs the provider-token pipeline: clients that already
// hold an ID token and/or access token from the provider exchange them for a
// local token here.
func HandleOIDCLogin(svc iamAdminService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req OIDCLoginRequest
		if err := decodeJSON(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		if req.IDToken == "" && req.AccessToken == "" {
			writeError(w, http.StatusBadRequest, ErrMissingToken.Error())
			return
		}

		principal, token, err := svc.AuthenticateOIDC(r.Context(), req.IDToken, req.AccessToken)
		if err != nil {
			writeAuthFailure(w, err)
			return
		}

		writeJSON(w, http.StatusOK, TokenResponse{
			Token:     token,
			Principal: principal.PrincipalName(),
			Kind:      string(principal.Kind()),
		})
	}
}

// HandleSSOLogin initiates the OIDC authorization code flow. The library
// handler generates and stores the PKCE challenge and state in cookies
// before redirecting to the provider.
func HandleSSOLogin(rpAuth *auth.RelyingParty) http.HandlerFunc {
	libraryAuthHandler := rp.AuthURLHandler(func() string {
		state, _ := auth.GenerateNonce()
		return state
	}, rpAuth.RP())

	return func(w http.ResponseWriter, r *http.Request) {
		// Remember where to send the browser after the callback.
		if redirectURI := r.URL.Query().Get("redirect_uri"); redirectURI != "" {
			auth.SetRedirectURICookie(w, r, redirectURI)
		}
		libraryAuthHandler.ServeHTTP(w, r)
	}
}

// HandleSSOCallback completes the code flow. The library handler validates
// state, exchanges the code with the PKCE verifier, and hands the provider
// tokens to our callback, which runs them through the same pipeline as the
// token-based path and answers with a local token.
func HandleSSOCallback(rpAuth *auth.RelyingParty, svc iamAdminService) http.HandlerFunc {
	codeExchangeCallback := func(w http.ResponseWriter, r *http.Request, tokens *oidc.Tokens[*oidc.IDTokenClaims], state string, provider rp.RelyingParty) {
		principal, token, err := svc.AuthenticateOIDC(r.Context(), tokens.IDToken, tokens.AccessToken)
		if err != nil {
			log.Printf("SSO callback rejected: %v", err)
			status, message := middleware.FailureStatus(err)
			writeError(w, status, message)
			return
		}

		// A browser flow started with redirect_uri gets the token in the
		// fragment, which never reaches the target's server logs.
		if redirectURI := auth.GetRedirectURICookie(w, r); redirectURI != "" {
			http.Redirect(w, r, redirectURI+"#token="+url.QueryEscape(token), http.StatusFound)
			return
		}

		writeJSON(w, http.StatusOK, TokenResponse{
			Token:     token,
			Principal: principal.PrincipalName(),
			Kind:      string(principal.Kind()),
		})
	}

	return rp.CodeExchangeHandler(codeExchangeCallback, rpAuth.RP())
}

// HandleWhoami returns the authenticated principal and its effective
// permission snapshot, both resolved by the authentication middleware.
func HandleWhoami() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		principal, ok := auth.GetPrincipalFromContext(r.Context())
		if !ok {
			writeError(w, http.StatusUnauthorized, "unauthenticated")
			return
		}

		permissions := auth.GetPermissionsFromContext(r.Context())
		if permissions == nil {
			permissions = []string{}
		}

		writeJSON(w, http.StatusOK, WhoamiResponse{
			Principal:        principal.PrincipalName(),
			Kind:             string(principal.Kind()),
			IdentityProvider: string(auth.ProviderOf(principal)),
			Permissions:      permissions,
		})
	}
}
