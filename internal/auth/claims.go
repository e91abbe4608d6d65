package auth

import (
	"fmt"

	"github.com/mitchellh/mapstructure"
)

// ExtractGroups handles the group claim shapes seen across identity providers.
// Supports:
//   - Flat arrays: ["dev-team", "contractors"]
//   - Single strings: "dev-team"
//   - Nested objects: [{"name": "dev-team", "type": "team"}]
func ExtractGroups(claims map[string]interface{}, claimField string) ([]string, error) {
	rawValue, ok := claims[claimField]
	if !ok {
		// Groups claim not present - return empty list (not an error, user may have no groups)
		return []string{}, nil
	}

	if single, ok := rawValue.(string); ok {
		return []string{single}, nil
	}

	items, ok := rawValue.([]interface{})
	if !ok {
		return nil, fmt.Errorf("groups claim invalid format (expected string or array)")
	}

	// Try flat string array first: ["dev-team", "contractors"]
	result := make([]string, 0, len(items))
	for _, g := range items {
		if str, ok := g.(string); ok {
			result = append(result, str)
		}
	}
	if len(result) == len(items) {
		return result, nil
	}

	// Fall back to nested extraction: [{"name": "dev-team"}]
	return extractNestedGroups(rawValue)
}

// extractNestedGroups uses mapstructure to extract group names from nested
// objects keyed by "name".
func extractNestedGroups(rawValue interface{}) ([]string, error) {
	var objects []map[string]interface{}
	if err := mapstructure.Decode(rawValue, &objects); err != nil {
		return nil, fmt.Errorf("failed to decode nested groups: %w", err)
	}

	result := make([]string, 0, len(objects))
	for _, obj := range objects {
		if val, ok := obj["name"].(string); ok {
			result = append(result, val)
		}
	}
	return result, nil
}

// ExtractClaimString extracts a required string claim.
// Generic helper for extracting string values from configurable claim fields.
func ExtractClaimString(claims map[string]interface{}, claimField string) (string, error) {
	rawValue, ok := claims[claimField]
	if !ok {
		return "", fmt.Errorf("claim field %s not found", claimField)
	}

	value, ok := rawValue.(string)
	if !ok {
		return "", fmt.Errorf("claim field %s is not a string", claimField)
	}

	if value == "" {
		return "", fmt.Errorf("claim field %s is empty", claimField)
	}

	return value, nil
}

// ExtractOptionalString extracts a string claim that may be absent.
// Returns the empty string when the claim is missing or not a string.
func ExtractOptionalString(claims map[string]interface{}, claimField string) string {
	rawValue, ok := claims[claimField]
	if !ok {
		return ""
	}

	value, ok := rawValue.(string)
	if !ok {
		return ""
	}

	return value
}
