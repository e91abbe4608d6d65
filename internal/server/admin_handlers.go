package server

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/warden-auth/warden/internal/auth"
	"github.com/warden-auth/warden/internal/db/models"
)

// UserSummary is the user shape exposed by the admin API. Password hashes
// and subject identifiers stay internal.
type UserSummary struct {
	Username            string     `json:"username"`
	Kind                string     `json:"kind"`
	Email               string     `json:"email,omitempty"`
	Fullname            string     `json:"fullname,omitempty"`
	Suspended           bool       `json:"suspended"`
	ForcePasswordChange bool       `json:"force_password_change"`
	LastLoginAt         *time.Time `json:"last_login_at,omitempty"`
}

func summarizeUser(u *models.User) UserSummary {
	s := UserSummary{
		Username:            u.Username,
		Kind:                string(u.Kind),
		Fullname:            u.Fullname,
		Suspended:           u.Suspended,
		ForcePasswordChange: u.ForcePasswordChange,
		LastLoginAt:         u.LastLoginAt,
	}
	if u.Email != nil {
		s.Email = *u.Email
	}
	return s
}

// CreateUserRequest creates a managed user
type CreateUserRequest struct {
	Username            string `json:"username"`
	Email               string `json:"email"`
	Fullname            string `json:"fullname"`
	Password            string `json:"password"`
	ForcePasswordChange bool   `json:"force_password_change"`
}

// HandleCreateUser handles POST /api/v1/users
func HandleCreateUser(svc iamAdminService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req CreateUserRequest
		if err := decodeJSON(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		if req.Username == "" || req.Password == "" {
			writeError(w, http.StatusBadRequest, "username and password are required")
			return
		}

		user, err := svc.CreateManagedUser(r.Context(), req.Username, req.Email, req.Fullname, req.Password, req.ForcePasswordChange)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, summarizeUser(user))
	}
}

// HandleListUsers handles GET /api/v1/users
func HandleListUsers(svc iamAdminService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		users, err := svc.ListUsers(r.Context())
		if err != nil {
			writeServiceError(w, err)
			return
		}

		p := parsePagination(r)
		page := window(users, p)
		items := make([]UserSummary, 0, len(page))
		for i := range page {
			items = append(items, summarizeUser(&page[i]))
		}
		writeJSON(w, http.StatusOK, listResponse{Items: items, Page: p.Page, Limit: p.Limit, Total: len(users)})
	}
}

// HandleDeleteUser handles DELETE /api/v1/users/{username}
func HandleDeleteUser(svc iamAdminService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := svc.DeleteUser(r.Context(), chi.URLParam(r, "username")); err != nil {
			writeServiceError(w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

// HandleSetUserSuspended handles POST /api/v1/users/{username}/suspend and
// .../unsuspend.
func HandleSetUserSuspended(svc iamAdminService, suspended bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := svc.SetUserSuspended(r.Context(), chi.URLParam(r, "username"), suspended); err != nil {
			writeServiceError(w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

// TeamSummary is the team shape exposed by the admin API
type TeamSummary struct {
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
}

// CreateTeamRequest creates a team
type CreateTeamRequest struct {
	Name        string `json:"name"`
	Description string `json:"description"`
}

// HandleCreateTeam handles POST /api/v1/teams
func HandleCreateTeam(svc iamAdminService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req CreateTeamRequest
		if err := decodeJSON(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		if req.Name == "" {
			writeError(w, http.StatusBadRequest, "name is required")
			return
		}

		team, err := svc.CreateTeam(r.Context(), req.Name, req.Description)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, TeamSummary{Name: team.Name, Description: team.Description})
	}
}

// HandleListTeams handles GET /api/v1/teams
func HandleListTeams(svc iamAdminService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		teams, err := svc.ListTeams(r.Context())
		if err != nil {
			writeServiceError(w, err)
			return
		}

		p := parsePagination(r)
		page := window(teams, p)
		items := make([]TeamSummary, 0, len(page))
		for _, t := range page {
			items = append(items, TeamSummary{Name: t.Name, Description: t.Description})
		}
		writeJSON(w, http.StatusOK, listResponse{Items: items, Page: p.Page, Limit: p.Limit, Total: len(teams)})
	}
}

// HandleDeleteTeam handles DELETE /api/v1/teams/{name}
func HandleDeleteTeam(svc iamAdminService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := svc.DeleteTeam(r.Context(), chi.URLParam(r, "name")); err != nil {
			writeServiceError(w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

// MappedGroupEntry is one external-group binding
type MappedGroupEntry struct {
	IdentityProvider string `json:"identity_provider"`
	GroupName        string `json:"group_name"`
}

// MappedGroupsRequest replaces a team's group bindings
type MappedGroupsRequest struct {
	Mappings []MappedGroupEntry `json:"mappings"`
}

// HandleSetMappedGroups handles PUT /api/v1/teams/{name}/mapped-groups.
// The request body is the complete desired binding set; bindings missing
// from it are removed, new ones are created. Replays are no-ops.
func HandleSetMappedGroups(svc iamAdminService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		teamName := chi.URLParam(r, "name")

		var req MappedGroupsRequest
		if err := decodeJSON(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}

		desired := make(map[MappedGroupEntry]struct{}, len(req.Mappings))
		for _, m := range req.Mappings {
			if m.IdentityProvider == "" || m.GroupName == "" {
				writeError(w, http.StatusBadRequest, "identity_provider and group_name are required on every mapping")
				return
			}
			desired[m] = struct{}{}
		}

		current, err := svc.ListMappedGroups(r.Context(), teamName)
		if err != nil {
			writeServiceError(w, err)
			return
		}

		held := make(map[MappedGroupEntry]struct{}, len(current))
		for _, m := range current {
			entry := MappedGroupEntry{IdentityProvider: m.IdentityProvider, GroupName: m.GroupName}
			held[entry] = struct{}{}
			if _, keep := desired[entry]; !keep {
				if err := svc.UnmapGroupFromTeam(r.Context(), teamName, auth.IdentityProvider(m.IdentityProvider), m.GroupName); err != nil {
					writeServiceError(w, err)
					return
				}
			}
		}
		for entry := range desired {
			if _, have := held[entry]; have {
				continue
			}
			if err := svc.MapGroupToTeam(r.Context(), teamName, auth.IdentityProvider(entry.IdentityProvider), entry.GroupName); err != nil {
				writeServiceError(w, err)
				return
			}
		}

		w.WriteHeader(http.StatusNoContent)
	}
}

// GrantPermissionRequest grants a permission to a team
type GrantPermissionRequest struct {
	Permission string `json:"permission"`
}

// HandleGrantTeamPermission handles POST /api/v1/teams/{name}/permissions
func HandleGrantTeamPermission(svc iamAdminService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req GrantPermissionRequest
		if err := decodeJSON(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		if req.Permission == "" {
			writeError(w, http.StatusBadRequest, "permission is required")
			return
		}

		if err := svc.GrantPermissionToTeam(r.Context(), chi.URLParam(r, "name"), req.Permission); err != nil {
			writeServiceError(w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

// PermissionSummary is the permission shape exposed by the admin API
type PermissionSummary struct {
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
}

// CreatePermissionRequest registers a permission
type CreatePermissionRequest struct {
	Name        string `json:"name"`
	Description string `json:"description"`
}

// HandleListPermissions handles GET /api/v1/permissions
func HandleListPermissions(svc iamAdminService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		permissions, err := svc.ListPermissions(r.Context())
		if err != nil {
			writeServiceError(w, err)
			return
		}

		p := parsePagination(r)
		page := window(permissions, p)
		items := make([]PermissionSummary, 0, len(page))
		for _, perm := range page {
			items = append(items, PermissionSummary{Name: perm.Name, Description: perm.Description})
		}
		writeJSON(w, http.StatusOK, listResponse{Items: items, Page: p.Page, Limit: p.Limit, Total: len(permissions)})
	}
}

// HandleCreatePermission handles POST /api/v1/permissions
func HandleCreatePermission(svc iamAdminService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req CreatePermissionRequest
		if err := decodeJSON(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		if req.Name == "" {
			writeError(w, http.StatusBadRequest, "name is required")
			return
		}

		permission, err := svc.CreatePermission(r.Context(), req.Name, req.Description)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, PermissionSummary{Name: permission.Name, Description: permission.Description})
	}
}

// APIKeySummary is the key shape exposed by the admin API. The secret hash
// never leaves the server.
type APIKeySummary struct {
	PublicID   string     `json:"public_id"`
	Comment    string     `json:"comment,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
	RotatedAt  *time.Time `json:"rotated_at,omitempty"`
	LastUsedAt *time.Time `json:"last_used_at,omitempty"`
}

func summarizeAPIKey(k *models.APIKey) APIKeySummary {
	return APIKeySummary{
		PublicID:   k.PublicID,
		Comment:    k.Comment,
		CreatedAt:  k.CreatedAt,
		RotatedAt:  k.RotatedAt,
		LastUsedAt: k.LastUsedAt,
	}
}

// CreateAPIKeyRequest mints an API key
type CreateAPIKeyRequest struct {
	Comment string   `json:"comment"`
	Teams   []string `json:"teams"`
}

// CreateAPIKeyResponse carries the full key token exactly once
type CreateAPIKeyResponse struct {
	APIKeySummary
	Token string `json:"token"`
}

// HandleCreateAPIKey handles POST /api/v1/apikeys. The response is the only
// time the full key token is visible.
func HandleCreateAPIKey(svc iamAdminService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req CreateAPIKeyRequest
		if err := decodeJSON(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}

		key, token, err := svc.CreateAPIKey(r.Context(), req.Comment, callerID(r), req.Teams)
		if err != nil {
			writeServiceError(w, err)
			return
		}

		writeJSON(w, http.StatusCreated, CreateAPIKeyResponse{
			APIKeySummary: summarizeAPIKey(key),
			Token:         token,
		})
	}
}

// HandleListAPIKeys handles GET /api/v1/apikeys
func HandleListAPIKeys(svc iamAdminService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		keys, err := svc.ListAPIKeys(r.Context())
		if err != nil {
			writeServiceError(w, err)
			return
		}

		p := parsePagination(r)
		page := window(keys, p)
		items := make([]APIKeySummary, 0, len(page))
		for i := range page {
			items = append(items, summarizeAPIKey(&page[i]))
		}
		writeJSON(w, http.StatusOK, listResponse{Items: items, Page: p.Page, Limit: p.Limit, Total: len(keys)})
	}
}

// RotateAPIKeyResponse carries the replacement key token exactly once
type RotateAPIKeyResponse struct {
	PublicID  string    `json:"public_id"`
	Token     string    `json:"token"`
	RotatedAt time.Time `json:"rotated_at"`
}

// HandleRotateAPIKey handles POST /api/v1/apikeys/{publicID}/rotate
func HandleRotateAPIKey(svc iamAdminService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		publicID := chi.URLParam(r, "publicID")

		token, rotatedAt, err := svc.RotateAPIKey(r.Context(), publicID)
		if err != nil {
			writeServiceError(w, err)
			return
		}

		writeJSON(w, http.StatusOK, RotateAPIKeyResponse{
			PublicID:  publicID,
			Token:     token,
			RotatedAt: rotatedAt,
		})
	}
}

// HandleRevokeAPIKey handles DELETE /api/v1/apikeys/{publicID}
func HandleRevokeAPIKey(svc iamAdminService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := svc.RevokeAPIKey(r.Context(), chi.URLParam(r, "publicID")); err != nil {
			writeServiceError(w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

// HandleUsageFlush handles POST /api/v1/admin/usage/flush, forcing an
// immediate usage-tracker drain.
func HandleUsageFlush(svc iamAdminService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := svc.FlushUsage(r.Context()); err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "flushed"})
	}
}

// HandleCacheClear handles POST /api/v1/admin/cache/clear, dropping the API
// key lookup cache.
func HandleCacheClear(svc iamAdminService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		svc.ClearKeyCache()
		writeJSON(w, http.StatusOK, map[string]string{"status": "cleared"})
	}
}

// callerID resolves the acting user's row ID for attribution. API keys and
// unauthenticated CLI paths attribute to the system user.
func callerID(r *http.Request) string {
	principal, ok := auth.GetPrincipalFromContext(r.Context())
	if !ok {
		return auth.SystemUserID
	}
	if user, ok := auth.UserOf(principal); ok {
		return user.ID
	}
	return auth.SystemUserID
}
