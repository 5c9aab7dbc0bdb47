package rbac

const (
	PermExamView       = "exam:view"
	PermExamStats      = "exam:stats"
	PermAttemptCreate  = "attempt:create"
	PermAttemptSave    = "attempt:save"
	PermAttemptSubmit  = "attempt:submit"
	PermAttemptViewOwn = "attempt:view-own"
	PermAttemptViewAll = "attempt:view-all"
	PermAttemptGrade   = "attempt:grade"
	PermHistoryViewAll = "history:view-all"
	PermGradingQueue   = "grading:queue"
)

// RolePermissions is the default policy. Learner scoping to their own
// attempts is enforced by the handlers on top of these checks.
var RolePermissions = map[Role][]string{
	RoleLearner: {
		PermExamView,
		PermAttemptCreate,
		PermAttemptSave,
		PermAttemptSubmit,
		PermAttemptViewOwn,
	},
	RoleInstructor: {
		PermExamView,
		PermExamStats,
		PermAttemptViewAll,
		PermAttemptGrade,
		PermHistoryViewAll,
		PermGradingQueue,
	},
	RoleAdmin: {
		"*",
	},
}
