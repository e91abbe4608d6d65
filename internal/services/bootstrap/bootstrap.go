// Package bootstrap imports a declarative document of permissions, teams,
// grants, and group mappings. The document is validated against an embedded
// JSON Schema before anything touches the database, and applying it twice
// leaves the same state as applying it once.
package bootstrap

import (
	"bytes"
	"context"
	"encoding/json"
	_ "embed"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v6"

	"github.com/warden-auth/warden/internal/auth"
	"github.com/warden-auth/warden/internal/db/models"
)

//go:embed schema.json
var schemaJSON []byte

var (
	compileOnce    sync.Once
	compiledSchema *jsonschema.Schema
	compileErr     error
)

// Document is the parsed bootstrap file.
type Document struct {
	Permissions []PermissionEntry `json:"permissions"`
	Teams       []TeamEntry       `json:"teams"`
}

// PermissionEntry declares a permission name.
type PermissionEntry struct {
	Name        string `json:"name"`
	Description string `json:"description"`
}

// TeamEntry declares a team with its grants and external group bindings.
type TeamEntry struct {
	Name         string         `json:"name"`
	Description  string         `json:"description"`
	Permissions  []string       `json:"permissions"`
	MappedGroups []GroupBinding `json:"mapped_groups"`
}

// GroupBinding binds an external group to the enclosing team.
type GroupBinding struct {
	IdentityProvider string `json:"identity_provider"`
	GroupName        string `json:"group_name"`
}

// Service is the subset of IAM operations the importer drives.
type Service interface {
	ListPermissions(ctx context.Context) ([]models.Permission, error)
	CreatePermission(ctx context.Context, name, description string) (*models.Permission, error)
	ListTeams(ctx context.Context) ([]models.Team, error)
	CreateTeam(ctx context.Context, name, description string) (*models.Team, error)
	GrantPermissionToTeam(ctx context.Context, teamName, permission string) error
	ListMappedGroups(ctx context.Context, teamName string) ([]models.MappedGroup, error)
	MapGroupToTeam(ctx context.Context, teamName string, provider auth.IdentityProvider, groupName string) error
}

// Result counts what an Apply actually changed.
type Result struct {
	PermissionsCreated int
	TeamsCreated       int
	GroupsMapped       int
}

func schema() (*jsonschema.Schema, error) {
	compileOnce.Do(func() {
		parsed, err := jsonschema.UnmarshalJSON(bytes.NewReader(schemaJSON))
		if err != nil {
			compileErr = fmt.Errorf("parse embedded schema: %w", err)
			return
		}
		compiler := jsonschema.NewCompiler()
		compiler.DefaultDraft(jsonschema.Draft7)
		if err := compiler.AddResource("bootstrap.json", parsed); err != nil {
			compileErr = fmt.Errorf("add schema resource: %w", err)
			return
		}
		compiledSchema, compileErr = compiler.Compile("bootstrap.json")
	})
	return compiledSchema, compileErr
}

// Parse validates the document against the embedded schema and decodes it.
// Validation errors carry the JSON path of the offending value.
func Parse(r io.Reader) (*Document, error) {
	raw, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("read document: %w", err)
	}

	s, err := schema()
	if err != nil {
		return nil, err
	}

	value, err := jsonschema.UnmarshalJSON(bytes.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("parse document: %w", err)
	}
	if err := s.Validate(value); err != nil {
		return nil, fmt.Errorf("document does not match schema: %s", formatValidationError(err))
	}

	var doc Document
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("decode document: %w", err)
	}

	// Referencing an undeclared permission inside a team is a document
	// error: the apply would otherwise fail halfway through against an
	// empty database.
	declared := make(map[string]struct{}, len(doc.Permissions))
	for _, p := range doc.Permissions {
		declared[p.Name] = struct{}{}
	}
	for _, team := range doc.Teams {
		for _, perm := range team.Permissions {
			if _, ok := declared[perm]; !ok {
				return nil, fmt.Errorf("team %q grants permission %q which the document does not declare", team.Name, perm)
			}
		}
	}

	return &doc, nil
}

// Apply reconciles the document into the database. Existing permissions,
// teams, grants, and bindings are left untouched; only missing pieces are
// created. Bindings present in the database but absent from the document
// are preserved, imports only add.
func Apply(ctx context.Context, svc Service, doc *Document) (*Result, error) {
	result := &Result{}

	existing, err := svc.ListPermissions(ctx)
	if err != nil {
		return nil, fmt.Errorf("list permissions: %w", err)
	}
	havePermission := make(map[string]struct{}, len(existing))
	for _, p := range existing {
		havePermission[p.Name] = struct{}{}
	}
	for _, p := range doc.Permissions {
		if _, ok := havePermission[p.Name]; ok {
			continue
		}
		if _, err := svc.CreatePermission(ctx, p.Name, p.Description); err != nil {
			return nil, fmt.Errorf("create permission %q: %w", p.Name, err)
		}
		result.PermissionsCreated++
	}

	teams, err := svc.ListTeams(ctx)
	if err != nil {
		return nil, fmt.Errorf("list teams: %w", err)
	}
	haveTeam := make(map[string]struct{}, len(teams))
	for _, t := range teams {
		haveTeam[t.Name] = struct{}{}
	}

	for _, team := range doc.Teams {
		if _, ok := haveTeam[team.Name]; !ok {
			if _, err := svc.CreateTeam(ctx, team.Name, team.Description); err != nil {
				return nil, fmt.Errorf("create team %q: %w", team.Name, err)
			}
			result.TeamsCreated++
		}

		for _, perm := range team.Permissions {
			if err := svc.GrantPermissionToTeam(ctx, team.Name, perm); err != nil {
				return nil, fmt.Errorf("grant %q to team %q: %w", perm, team.Name, err)
			}
		}

		if len(team.MappedGroups) == 0 {
			continue
		}
		bound, err := svc.ListMappedGroups(ctx, team.Name)
		if err != nil {
			return nil, fmt.Errorf("list mapped groups for team %q: %w", team.Name, err)
		}
		haveBinding := make(map[GroupBinding]struct{}, len(bound))
		for _, b := range bound {
			haveBinding[GroupBinding{IdentityProvider: b.IdentityProvider, GroupName: b.GroupName}] = struct{}{}
		}
		for _, binding := range team.MappedGroups {
			if _, ok := haveBinding[binding]; ok {
				continue
			}
			if err := svc.MapGroupToTeam(ctx, team.Name, auth.IdentityProvider(binding.IdentityProvider), binding.GroupName); err != nil {
				return nil, fmt.Errorf("map group %q to team %q: %w", binding.GroupName, team.Name, err)
			}
			result.GroupsMapped++
		}
	}

	return result, nil
}

// formatValidationError flattens a jsonschema error into one line with the
// JSON path of the first failing leaf.
func formatValidationError(err error) string {
	ve, ok := err.(*jsonschema.ValidationError)
	if !ok {
		return err.Error()
	}
	leaf := ve
	for len(leaf.Causes) > 0 {
		leaf = leaf.Causes[0]
	}
	path := "$"
	if len(leaf.InstanceLocation) > 0 {
		path = "$." + strings.Join(leaf.InstanceLocation, ".")
	}
	message := leaf.Error()
	if len(message) > 200 {
		message = message[:200] + "... (truncated)"
	}
	return fmt.Sprintf("at '%s': %s", path, message)
}
