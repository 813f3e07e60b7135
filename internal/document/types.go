// Package document defines the typed shape of the shared scoreboard
// document. The wire payload is decoded and normalized here once, before any
// merge logic sees it.
package document

import "encoding/json"

// Document is the single shared aggregate. ServerUpdatedAt is its logical
// clock: an ISO-8601 timestamp used for top-level accept/reject decisions.
type Document struct {
	ServerUpdatedAt string `json:"server_updated_at"`

	Students             []Student             `json:"students"`
	Scores               []Score               `json:"scores"`
	Attendance           []Attendance          `json:"attendance"`
	FeeRecords           []FeeRecord           `json:"fee_records"`
	CabinetItems         []CabinetItem         `json:"cabinet_items"`
	ResourceRequests     []ResourceRequest     `json:"resource_requests"`
	ResourceTransactions []ResourceTransaction `json:"resource_transactions"`
	AdvantageDeductions  []AdvantageDeduction  `json:"advantage_deductions"`
	Leadership           []LeadershipPost      `json:"leadership"`
	ClassReps            []ClassRep            `json:"class_reps"`
	GroupCRs             []GroupCR             `json:"group_crs"`
	Parties              []Party               `json:"parties"`
	ElectionVotes        []ElectionVote        `json:"election_votes"`
	PendingResults       []PendingResult       `json:"pending_results"`
	Appeals              []Appeal              `json:"appeals"`
	Notifications        []Notification        `json:"notifications"`
	Syllabus             []SyllabusEntry       `json:"syllabus"`

	// MonthRosters maps "YYYY-MM" to the rolls known for that month. Merged
	// as a set union; a partial payload must never shrink a month.
	MonthRosters map[string][]string `json:"month_rosters,omitempty"`

	// Classes is the known class catalog, also union-merged.
	Classes []string `json:"classes,omitempty"`

	// VetoLedger maps "YYYY-MM|studentID" to the veto allowance granted by
	// active office tenures. Recomputed on every accepted write, never merged.
	VetoLedger map[string]int `json:"role_veto_monthly,omitempty"`
}

// Student identity is the roll code. The numeric id is local to one node and
// must be remapped by roll when records cross peers.
type Student struct {
	ID         int    `json:"id"`
	Roll       string `json:"roll"`
	Name       string `json:"name"`
	BaseName   string `json:"base_name,omitempty"`
	Class      string `json:"class"`
	Group      string `json:"group,omitempty"`
	Fees       int    `json:"fees,omitempty"`
	VotePower  int    `json:"vote_power,omitempty"`
	TotalScore int    `json:"total_score,omitempty"`
	Rank       int    `json:"rank,omitempty"`
	Stars      int    `json:"stars,omitempty"`
	Vetos      int    `json:"vetos,omitempty"`
	Active     bool   `json:"active"`
	CreatedAt  string `json:"created_at,omitempty"`
	UpdatedAt  string `json:"updated_at,omitempty"`
}

// UnmarshalJSON defaults Active to true when the field is absent, so older
// payloads that predate the flag never deactivate anyone.
func (s *Student) UnmarshalJSON(data []byte) error {
	type alias Student
	aux := struct {
		*alias
		Active *bool `json:"active"`
	}{alias: (*alias)(s)}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	s.Active = aux.Active == nil || *aux.Active
	return nil
}

// Score identity is (studentId, date): one row per student per calendar day.
// Month is derived from Date and kept consistent for fast filtering.
type Score struct {
	ID         int    `json:"id"`
	StudentID  int    `json:"studentId"`
	Roll       string `json:"roll,omitempty"`
	Date       string `json:"date"`
	Month      string `json:"month"`
	Points     int    `json:"points"`
	Stars      int    `json:"stars,omitempty"`
	Vetos      int    `json:"vetos,omitempty"`
	Notes      string `json:"notes,omitempty"`
	RecordedBy string `json:"recorded_by,omitempty"`
	CreatedAt  string `json:"created_at,omitempty"`
	UpdatedAt  string `json:"updated_at,omitempty"`
}

// Attendance identity is (date, roll); roll wins over the local numeric id
// because ids are not globally stable.
type Attendance struct {
	ID        int    `json:"id"`
	StudentID int    `json:"studentId,omitempty"`
	Roll      string `json:"roll"`
	Date      string `json:"date"`
	Status    string `json:"status"`
	Month     string `json:"month,omitempty"`
	MarkedBy  string `json:"marked_by,omitempty"`
	CreatedAt string `json:"created_at,omitempty"`
	UpdatedAt string `json:"updated_at,omitempty"`
}

type Payment struct {
	Date   string `json:"date"`
	Amount int    `json:"amount"`
	Note   string `json:"note,omitempty"`
}

// FeeRecord holds payment evidence: PaymentHistory is append-only and
// union-merged, LastPaidDate is monotonically non-shrinking.
type FeeRecord struct {
	StudentID      int       `json:"studentId"`
	Roll           string    `json:"roll,omitempty"`
	TotalFees      int       `json:"total_fees,omitempty"`
	LastPaidDate   string    `json:"last_paid_date,omitempty"`
	PaymentHistory []Payment `json:"payment_history"`
	Remarks        string    `json:"remarks,omitempty"`
	UpdatedAt      string    `json:"updated_at,omitempty"`
}

type CabinetItem struct {
	ID        int    `json:"id"`
	Name      string `json:"name"`
	Cost      int    `json:"cost"`
	Quantity  int    `json:"quantity"`
	Active    bool   `json:"active"`
	UpdatedAt string `json:"updated_at,omitempty"`
}

type ResourceRequest struct {
	ID             int    `json:"id"`
	StudentID      int    `json:"studentId"`
	Roll           string `json:"roll,omitempty"`
	ItemID         int    `json:"itemId"`
	ItemName       string `json:"item_name,omitempty"`
	Cost           int    `json:"cost"`
	Status         Status `json:"status"`
	TeacherRemarks string `json:"teacher_remarks,omitempty"`
	AdminRemarks   string `json:"admin_remarks,omitempty"`
	RequestedBy    string `json:"requested_by,omitempty"`
	CreatedAt      string `json:"created_at,omitempty"`
	UpdatedAt      string `json:"updated_at,omitempty"`
}

type ResourceTransaction struct {
	ID        int    `json:"id"`
	StudentID int    `json:"studentId"`
	ItemID    int    `json:"itemId"`
	Amount    int    `json:"amount"`
	Kind      string `json:"kind,omitempty"`
	CreatedAt string `json:"created_at,omitempty"`
	UpdatedAt string `json:"updated_at,omitempty"`
}

// AdvantageDeduction: once Reversed is true it stays true, regardless of any
// later write claiming otherwise.
type AdvantageDeduction struct {
	ID        int    `json:"id"`
	StudentID int    `json:"studentId"`
	Points    int    `json:"points"`
	Reason    string `json:"reason,omitempty"`
	Reversed  bool   `json:"reversed"`
	CreatedAt string `json:"created_at,omitempty"`
	UpdatedAt string `json:"updated_at,omitempty"`
}

type LeadershipPost struct {
	ID        int    `json:"id"`
	Post      string `json:"post"`
	Holder    string `json:"holder"`
	Status    string `json:"status,omitempty"` // active|ended|vacant
	UpdatedAt string `json:"updated_at,omitempty"`
}

type ClassRep struct {
	ID        int    `json:"id"`
	Class     string `json:"class"`
	Holder    string `json:"holder"`
	Status    string `json:"status,omitempty"`
	UpdatedAt string `json:"updated_at,omitempty"`
}

type GroupCR struct {
	ID        int    `json:"id"`
	Group     string `json:"group"`
	Holder    string `json:"holder"`
	Status    string `json:"status,omitempty"`
	UpdatedAt string `json:"updated_at,omitempty"`
}

type Party struct {
	ID        int    `json:"id"`
	Code      string `json:"code"`
	Name      string `json:"name,omitempty"`
	Power     int    `json:"power"`
	UpdatedAt string `json:"updated_at,omitempty"`
}

// ElectionVote identity is (voter, post); a duplicate voter+post is rejected.
type ElectionVote struct {
	ID        int    `json:"id"`
	VoterRoll string `json:"voter_roll"`
	Post      string `json:"post"`
	Choice    string `json:"choice"`
	CreatedAt string `json:"created_at,omitempty"`
	UpdatedAt string `json:"updated_at,omitempty"`
}

type PendingResult struct {
	ID         int    `json:"id"`
	Post       string `json:"post"`
	Winner     string `json:"winner"`
	DeclaredAt string `json:"declared_at,omitempty"`
	CreatedAt  string `json:"created_at,omitempty"`
	UpdatedAt  string `json:"updated_at,omitempty"`
}

type Appeal struct {
	ID        int               `json:"id"`
	Roll      string            `json:"roll"`
	Kind      string            `json:"kind,omitempty"` // profile_change|score
	Fields    map[string]string `json:"fields,omitempty"`
	Message   string            `json:"message,omitempty"`
	Status    string            `json:"status,omitempty"`
	Month     string            `json:"month,omitempty"`
	CreatedBy string            `json:"created_by,omitempty"`
	CreatedAt string            `json:"created_at,omitempty"`
	UpdatedAt string            `json:"updated_at,omitempty"`
}

type Notification struct {
	ID        int    `json:"id"`
	Roll      string `json:"roll,omitempty"`
	Message   string `json:"message"`
	Read      bool   `json:"read,omitempty"`
	CreatedAt string `json:"created_at,omitempty"`
	UpdatedAt string `json:"updated_at,omitempty"`
}

type SyllabusEntry struct {
	ID        int    `json:"id"`
	Subject   string `json:"subject"`
	Topic     string `json:"topic"`
	Status    string `json:"status,omitempty"`
	Month     string `json:"month,omitempty"`
	UpdatedAt string `json:"updated_at,omitempty"`
}

// StudentCount reports the roster size used by the corruption guard.
func (d *Document) StudentCount() int {
	if d == nil {
		return 0
	}
	return len(d.Students)
}

// RollSet returns the set of known (normalized) rolls.
func (d *Document) RollSet() map[string]struct{} {
	set := make(map[string]struct{}, len(d.Students))
	for _, s := range d.Students {
		if roll := NormalizeRoll(s.Roll); roll != "" {
			set[roll] = struct{}{}
		}
	}
	return set
}

// RollByID maps local numeric student ids to rolls, used to re-key records
// whose payloads only carry the non-portable id.
func (d *Document) RollByID() map[int]string {
	out := make(map[int]string, len(d.Students))
	for _, s := range d.Students {
		if s.ID != 0 && s.Roll != "" {
			out[s.ID] = NormalizeRoll(s.Roll)
		}
	}
	return out
}
