package document

// Status is the resource-request lifecycle state. It only ever advances:
//
//	draft -> pending_teacher -> recommended|not_recommended
//	      -> pending_admin -> approved|rejected -> fulfilled|cancelled
type Status string

const (
	StatusDraft          Status = "draft"
	StatusPendingTeacher Status = "pending_teacher"
	StatusRecommended    Status = "recommended"
	StatusNotRecommended Status = "not_recommended"
	StatusPendingAdmin   Status = "pending_admin"
	StatusApproved       Status = "approved"
	StatusRejected       Status = "rejected"
	StatusFulfilled      Status = "fulfilled"
	StatusCancelled      Status = "cancelled"
)

// statusRank orders states along the lifecycle; merge keeps the max rank.
var statusRank = map[Status]int{
	StatusDraft:          0,
	StatusPendingTeacher: 1,
	StatusRecommended:    2,
	StatusNotRecommended: 2,
	StatusPendingAdmin:   3,
	StatusApproved:       4,
	StatusRejected:       4,
	StatusFulfilled:      5,
	StatusCancelled:      5,
}

var statusTransitions = map[Status][]Status{
	StatusDraft:          {StatusPendingTeacher, StatusCancelled},
	StatusPendingTeacher: {StatusRecommended, StatusNotRecommended, StatusCancelled},
	StatusRecommended:    {StatusPendingAdmin, StatusCancelled},
	StatusNotRecommended: {StatusPendingAdmin, StatusCancelled},
	StatusPendingAdmin:   {StatusApproved, StatusRejected, StatusCancelled},
	StatusApproved:       {StatusFulfilled, StatusCancelled},
	StatusRejected:       {},
	StatusFulfilled:      {},
	StatusCancelled:      {},
}

// NormalizeStatus maps unknown or empty values to draft so corrupted rows
// never jump ahead in the lifecycle.
func NormalizeStatus(s Status) Status {
	if _, ok := statusRank[s]; ok {
		return s
	}
	return StatusDraft
}

// StatusRank reports how far along the lifecycle a status is.
func StatusRank(s Status) int {
	return statusRank[NormalizeStatus(s)]
}

// CanTransition reports whether a single-step move from one status to
// another is allowed.
func CanTransition(from, to Status) bool {
	for _, next := range statusTransitions[NormalizeStatus(from)] {
		if next == to {
			return true
		}
	}
	return false
}

// MoreAdvanced picks the status further along the lifecycle. Equal ranks
// keep the first argument, so the stored side wins a same-rank race.
func MoreAdvanced(a, b Status) Status {
	if StatusRank(b) > StatusRank(a) {
		return NormalizeStatus(b)
	}
	return NormalizeStatus(a)
}
