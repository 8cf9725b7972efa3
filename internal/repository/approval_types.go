package repository

import "time"

// ── Global action catalog codes ──────────────────────────────────────────────

const (
	ActionApprove       = "approve"
	ActionReject        = "reject"
	ActionAmend         = "amend"
	ActionToEmployee    = "to_employee"
	ActionRevert        = "revert"
	ActionAutoInitiate  = "auto_initiate"
	ActionAutoCondition = "auto_condition"
)

// RequiredActionCodes must all be present in the action catalog.
var RequiredActionCodes = []string{
	ActionApprove, ActionReject, ActionAmend, ActionToEmployee, ActionRevert,
	ActionAutoInitiate, ActionAutoCondition,
}

// ── Request status ───────────────────────────────────────────────────────────

// RequestStatus is the lifecycle status of a request.
type RequestStatus string

const (
	StatusPending  RequestStatus = "pending"
	StatusApproved RequestStatus = "approved"
	StatusRejected RequestStatus = "rejected"
)

// IsTerminal reports whether no further actions are accepted.
func (s RequestStatus) IsTerminal() bool {
	return s == StatusApproved || s == StatusRejected
}

// ── Flow graph ───────────────────────────────────────────────────────────────

// Action is one entry of the global action catalog.
type Action struct {
	ID   string `json:"id"`
	Code string `json:"code"`
	Name string `json:"name"`
}

// Flow is a named workflow bound to one target record model. Steps form an
// arena addressed by step ID; every link between steps is an ID.
type Flow struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	RequestType string    `json:"request_type"`
	ResModel    string    `json:"res_model"`
	CompanyID   string    `json:"company_id,omitempty"`
	Active      bool      `json:"active"`
	Steps       []*Step   `json:"steps"`
	CreatedBy   string    `json:"created_by,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// StepKind is the tagged variant the engine dispatches on.
type StepKind int

const (
	StepKindStatic StepKind = iota
	StepKindInitiator
	StepKindFinal
	StepKindCondition
	StepKindEmployee
	StepKindOrganization
)

func (k StepKind) String() string {
	switch k {
	case StepKindInitiator:
		return "initiator"
	case StepKindFinal:
		return "final"
	case StepKindCondition:
		return "condition"
	case StepKindEmployee:
		return "employee"
	case StepKindOrganization:
		return "organization"
	default:
		return "static"
	}
}

// Step is one node of a flow graph. Sequence orders steps for display and
// organization escalation; it never drives control flow by itself.
type Step struct {
	ID                      string       `json:"id"`
	FlowID                  string       `json:"flow_id"`
	Name                    string       `json:"name"`
	Sequence                int          `json:"sequence"`
	RoleID                  string       `json:"role_id,omitempty"`
	CommitteeApproval       bool         `json:"committee_approval"`
	RequiredApprovalPercent float64      `json:"required_approval_percent"`
	IsOrganization          bool         `json:"is_organization"`
	IsEmployeeStep          bool         `json:"is_employee_step"`
	IsInitiator             bool         `json:"is_initiator"`
	IsFinal                 bool         `json:"is_final"`
	IsCondition             bool         `json:"is_condition"`
	CrossBranch             bool         `json:"cross_branch"`
	BranchID                string       `json:"branch_id,omitempty"`
	FallbackBranchID        string       `json:"fallback_branch_id,omitempty"`
	NextStepIDs             []string     `json:"next_step_ids,omitempty"`
	Actions                 []StepAction `json:"actions,omitempty"`
	Conditions              []*Condition `json:"conditions,omitempty"`
}

// Kind classifies the step. Flags are checked in the order the engine gives
// them precedence.
func (s *Step) Kind() StepKind {
	switch {
	case s.IsInitiator:
		return StepKindInitiator
	case s.IsFinal:
		return StepKindFinal
	case s.IsCondition:
		return StepKindCondition
	case s.IsEmployeeStep:
		return StepKindEmployee
	case s.IsOrganization:
		return StepKindOrganization
	default:
		return StepKindStatic
	}
}

// ActionFor returns the step-local mapping for an action code.
func (s *Step) ActionFor(code string) (StepAction, bool) {
	for _, a := range s.Actions {
		if a.ActionCode == code {
			return a, true
		}
	}
	return StepAction{}, false
}

// StepAction maps a global action code to the next step for one step.
type StepAction struct {
	ID         string `json:"id,omitempty"`
	ActionCode string `json:"action_code"`
	NextStepID string `json:"next_step_id,omitempty"`
}

// ConditionField selects what a condition inspects.
type ConditionField string

const (
	FieldAmountTotal      ConditionField = "amount_total"
	FieldPartner          ConditionField = "partner_id"
	FieldUserGroup        ConditionField = "user_group_id"
	FieldLastUpdatorGroup ConditionField = "last_updator_group"
	FieldCustom           ConditionField = "custom_field"
)

// Aggregation folds a multi-valued field path into one value.
type Aggregation string

const (
	AggregationNone  Aggregation = "none"
	AggregationSum   Aggregation = "sum"
	AggregationMax   Aggregation = "max"
	AggregationMin   Aggregation = "min"
	AggregationCount Aggregation = "count"
)

// Operator compares a resolved field against the literal value.
type Operator string

const (
	OpEqual        Operator = "="
	OpNotEqual     Operator = "!="
	OpGreater      Operator = ">"
	OpLess         Operator = "<"
	OpGreaterEqual Operator = ">="
	OpLessEqual    Operator = "<="
)

// Condition is a branch guard on a condition step.
type Condition struct {
	ID              string         `json:"id"`
	StepID          string         `json:"step_id"`
	Field           ConditionField `json:"field"`
	CustomFieldPath string         `json:"custom_field_path,omitempty"`
	Aggregation     Aggregation    `json:"aggregation,omitempty"`
	Operator        Operator       `json:"operator"`
	Value           string         `json:"value,omitempty"`
	GroupID         string         `json:"group_id,omitempty"`
	NextStepID      string         `json:"next_step_id"`
	Sequence        int            `json:"sequence"`
}

// IsGroupCheck reports whether the condition tests group membership.
func (c *Condition) IsGroupCheck() bool {
	return c.Field == FieldUserGroup || c.Field == FieldLastUpdatorGroup
}

// FieldPath returns the dotted path resolved against the target record.
func (c *Condition) FieldPath() string {
	if c.Field == FieldCustom {
		return c.CustomFieldPath
	}
	return string(c.Field)
}

// ── Runtime records ──────────────────────────────────────────────────────────

// Request is one in-flight instance of a flow bound to a target record.
type Request struct {
	ID               string        `json:"id"`
	FlowID           string        `json:"flow_id"`
	ResModel         string        `json:"res_model"`
	ResID            string        `json:"res_id"`
	ModuleName       string        `json:"module_name,omitempty"`
	CurrentStepID    string        `json:"current_step_id"`
	Status           RequestStatus `json:"status"`
	Approvers        []string      `json:"approvers"`
	CompletedStepIDs []string      `json:"completed_step_ids"`
	RequestedBy      string        `json:"requested_by"`
	RequestedForID   string        `json:"requested_for_id,omitempty"`
	BranchID         string        `json:"branch_id,omitempty"`
	Remarks          string        `json:"remarks,omitempty"`
	Cycle            int           `json:"cycle"`
	ApprovedAt       *time.Time    `json:"approved_at,omitempty"`
	RejectedAt       *time.Time    `json:"rejected_at,omitempty"`
	Version          int64         `json:"version"`
	CreatedAt        time.Time     `json:"created_at"`
	UpdatedAt        time.Time     `json:"updated_at"`
}

// Clone returns a deep copy, so a unit of work can mutate freely and be
// discarded on failure.
func (r *Request) Clone() *Request {
	c := *r
	c.Approvers = append([]string(nil), r.Approvers...)
	c.CompletedStepIDs = append([]string(nil), r.CompletedStepIDs...)
	if r.ApprovedAt != nil {
		t := *r.ApprovedAt
		c.ApprovedAt = &t
	}
	if r.RejectedAt != nil {
		t := *r.RejectedAt
		c.RejectedAt = &t
	}
	return &c
}

// IsApprover reports whether userID is in the current approver set.
func (r *Request) IsApprover(userID string) bool {
	for _, id := range r.Approvers {
		if id == userID {
			return true
		}
	}
	return false
}

// IsCompleted reports whether the step was completed in this lifecycle.
func (r *Request) IsCompleted(stepID string) bool {
	for _, id := range r.CompletedStepIDs {
		if id == stepID {
			return true
		}
	}
	return false
}

// HistoryEntry is one immutable record of a transition.
type HistoryEntry struct {
	ID         string    `json:"id"`
	RequestID  string    `json:"request_id"`
	StepID     string    `json:"step_id"`
	ActionID   string    `json:"action_id"`
	ActionCode string    `json:"action_code"`
	UserID     string    `json:"user_id"`
	Comment    string    `json:"comment,omitempty"`
	Cycle      int       `json:"cycle"`
	CreatedAt  time.Time `json:"created_at"`
}

// Delegation lets DelegateUserID act for OriginalUserID between StartDate and
// EndDate inclusive.
type Delegation struct {
	ID             string    `json:"id"`
	OriginalUserID string    `json:"original_user_id"`
	DelegateUserID string    `json:"delegate_user_id"`
	StartDate      time.Time `json:"start_date"`
	EndDate        time.Time `json:"end_date"`
	Active         bool      `json:"active"`
	CreatedAt      time.Time `json:"created_at"`
}

// ActiveOn reports whether the delegation applies on the given day.
func (d *Delegation) ActiveOn(day time.Time) bool {
	if !d.Active {
		return false
	}
	day = DateOf(day)
	return !day.Before(DateOf(d.StartDate)) && !day.After(DateOf(d.EndDate))
}

// DateOf truncates t to midnight UTC of its calendar day.
func DateOf(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// ── Directory records ────────────────────────────────────────────────────────

// User is a directory user with the branch used for static step matching.
type User struct {
	ID              string `json:"id"`
	Name            string `json:"name,omitempty"`
	DefaultBranchID string `json:"default_branch_id,omitempty"`
}

// Employee links a user to a job and a branch.
type Employee struct {
	ID       string `json:"id"`
	UserID   string `json:"user_id"`
	JobID    string `json:"job_id"`
	BranchID string `json:"branch_id,omitempty"`
}

// Job is a node of the organizational hierarchy.
type Job struct {
	ID       string `json:"id"`
	Name     string `json:"name,omitempty"`
	ParentID string `json:"parent_id,omitempty"`
}

// TargetRecord is the business record a request is about.
type TargetRecord struct {
	Model          string                 `json:"model"`
	ID             string                 `json:"id"`
	Fields         map[string]interface{} `json:"fields"`
	LastModifiedBy string                 `json:"last_modified_by,omitempty"`
}

// ── Read models ──────────────────────────────────────────────────────────────

// StatusCount is one row of the dashboard summary.
type StatusCount struct {
	ResModel string        `json:"res_model"`
	Status   RequestStatus `json:"status"`
	Count    int           `json:"count"`
}
