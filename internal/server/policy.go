package server

// Permission names a capability a route requires. Permissions bind to
// routes in the route table, not inside handlers, so the full access map
// is readable in one place.
type Permission string

const (
	PermDocsWrite     Permission = "docs:write"
	PermQueryRun      Permission = "query:run"
	PermSessionsRead  Permission = "sessions:read"
	PermSessionsWrite Permission = "sessions:write"
	PermEvalRun       Permission = "eval:run"
	PermAdmin         Permission = "admin"
)

// roleGrants maps a role from the auth collaborator onto its permissions.
var roleGrants = map[string][]Permission{
	"admin": {
		PermDocsWrite, PermQueryRun, PermSessionsRead,
		PermSessionsWrite, PermEvalRun, PermAdmin,
	},
	"user": {
		PermDocsWrite, PermQueryRun, PermSessionsRead,
		PermSessionsWrite, PermEvalRun,
	},
	// Readers can query and browse their own sessions but not ingest.
	"reader": {
		PermQueryRun, PermSessionsRead,
	},
}

// allows reports whether a role carries the permission. Unknown roles carry
// nothing.
func allows(role string, perm Permission) bool {
	for _, p := range roleGrants[role] {
		if p == perm {
			return true
		}
	}
	return false
}
