// Package iam provides identity and access management services for warden.
//
// The IAM service centralizes all authentication, authorization, and
// credential lifecycle logic. It provides:
//
//   - Interactive authentication (managed-user passwords with LDAP fallback)
//   - Request authentication via multiple strategies (API key, Bearer token)
//   - OpenID Connect profile assembly and just-in-time provisioning
//   - Identity-provider driven team synchronization
//   - Permission resolution (direct grants plus team membership)
//   - Asynchronous API key usage tracking
//
// Architecture:
//
//   - PasswordAuthenticator interface: pluggable username/password strategies,
//     composed into the CredentialChain
//   - RequestAuthenticator interface: pluggable per-request credential
//     strategies, tried in order by AuthenticateRequest
//   - Failure type: categorized authentication failures (the cause decides
//     the HTTP status and whether a fallback strategy may run)
//   - Service interface: facade for all IAM operations
//
// Request Flow:
//
//	Request → AuthenticateRequest → RequestAuthenticator → auth.Principal
//	       ↓
//	   Handler → EffectivePermissions → Casbin route policy (read-only)
//
// The key design principle is that permissions are resolved ONCE at
// authentication time and carried on the request context. Authorization then
// matches these pre-resolved permissions against route policies without
// touching shared mutable state.
package iam
