package rbac

type Role string
type Action string

const (
	RoleAdmin   Role = "admin"
	RoleTeacher Role = "teacher"
	RoleStudent Role = "student"
	// RoleReplica is an unauthenticated peer node pushing forwarded writes.
	// It authenticates with the shared sync key, not a session.
	RoleReplica Role = "replica"
)

const (
	ActionRead        Action = "read"
	ActionWrite       Action = "write"
	ActionHealthCheck Action = "health_check"
	ActionRestore     Action = "restore"
)

func Can(role Role, action Action) bool {
	switch role {
	case RoleAdmin:
		return true
	case RoleTeacher:
		return action == ActionRead || action == ActionWrite || action == ActionHealthCheck
	case RoleStudent:
		return action == ActionRead || action == ActionWrite
	case RoleReplica:
		return action == ActionRead || action == ActionWrite
	default:
		return false
	}
}

func Normalize(role string) Role {
	switch Role(role) {
	case RoleAdmin, RoleTeacher, RoleStudent, RoleReplica:
		return Role(role)
	default:
		return RoleStudent
	}
}
