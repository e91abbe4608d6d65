package auth

// SystemUserID is the well-known UUID for the system user, used for attributing
// actions performed by the system itself (e.g., database seeding, CLI commands
// that run without an authenticated caller).
const SystemUserID = "00000000-0000-0000-0000-000000000000"
