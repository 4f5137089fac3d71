package model

import (
	"net/url"
	"time"
)

// State is the coarse lifecycle state of a task.
type State string

const (
	StatePending State = "PENDING"
	StateDone    State = "DONE"
)

// NotifyMode selects how completion is discovered.
type NotifyMode string

const (
	NotifyPoll     NotifyMode = "poll"
	NotifyCallback NotifyMode = "callback"
)

// ParseNotifyMode maps user input to a mode, falling back to def for unknown values.
func ParseNotifyMode(s string, def NotifyMode) NotifyMode {
	switch NotifyMode(s) {
	case NotifyPoll, NotifyCallback:
		return NotifyMode(s)
	default:
		return def
	}
}

// QueryParams are the engine query parameters fixed at creation and reused by every fetch.
type QueryParams map[string]string

// Values converts the params to url.Values for an outbound request.
func (q QueryParams) Values() url.Values {
	values := make(url.Values, len(q))
	for k, v := range q {
		values.Set(k, v)
	}
	return values
}

// Clone returns an independent copy.
func (q QueryParams) Clone() QueryParams {
	if q == nil {
		return QueryParams{}
	}
	out := make(QueryParams, len(q))
	for k, v := range q {
		out[k] = v
	}
	return out
}

// Record is the persisted view of one submission.
type Record struct {
	Token       string      `json:"token"`
	State       State       `json:"state"`
	Result      Payload     `json:"result,omitempty"`
	Error       string      `json:"error,omitempty"`
	QueryParams QueryParams `json:"query_params"`
	NotifyMode  NotifyMode  `json:"notify_mode,omitempty"`
	CreatedAt   time.Time   `json:"created_at"`
	UpdatedAt   time.Time   `json:"updated_at"`
	CompletedAt *time.Time  `json:"completed_at,omitempty"`
}

// NewPendingRecord builds the record stored at submission time.
func NewPendingRecord(token string, params QueryParams, mode NotifyMode, now time.Time) Record {
	return Record{
		Token:       token,
		State:       StatePending,
		QueryParams: params.Clone(),
		NotifyMode:  mode,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
}

// Done reports whether the task reached a terminal state.
func (r Record) Done() bool {
	return r.State == StateDone
}

// Clone returns a deep copy so callers never share mutable maps with the store.
func (r Record) Clone() Record {
	out := r
	out.Result = r.Result.Clone()
	out.QueryParams = r.QueryParams.Clone()
	if r.CompletedAt != nil {
		completed := *r.CompletedAt
		out.CompletedAt = &completed
	}
	return out
}

// Patch is a partial field set applied by a merge. Nil fields are left untouched.
type Patch struct {
	State  *State
	Result Payload
	// Error points at the new error text; an empty string clears it.
	Error *string
}

// Apply overwrites the patched fields, stamps UpdatedAt and reports whether this
// merge moved the record to DONE. DONE is never reverted, and Token/QueryParams
// are not patchable.
func (r *Record) Apply(p Patch, now time.Time) bool {
	completed := false
	if p.State != nil {
		switch {
		case *p.State == StateDone && r.State != StateDone:
			r.State = StateDone
			completed = true
			at := now
			r.CompletedAt = &at
		case r.State == "":
			r.State = *p.State
		}
	}
	if p.Result != nil {
		r.Result = p.Result.Clone()
	}
	if p.Error != nil {
		r.Error = *p.Error
	}
	if r.CreatedAt.IsZero() {
		r.CreatedAt = now
	}
	r.UpdatedAt = now
	return completed
}

// Adopt takes the creation-time fields of created. It is used by Put when an
// early callback already produced a record for the token; state, result and
// error stay as they are.
func (r *Record) Adopt(created Record) {
	r.QueryParams = created.QueryParams.Clone()
	r.NotifyMode = created.NotifyMode
	if r.CreatedAt.IsZero() || created.CreatedAt.Before(r.CreatedAt) {
		r.CreatedAt = created.CreatedAt
	}
	if created.UpdatedAt.After(r.UpdatedAt) {
		r.UpdatedAt = created.UpdatedAt
	}
}

// StatePtr is a helper for building patches.
func StatePtr(s State) *State {
	return &s
}

// ErrorText returns the patch value for an error: its text, or a clearing empty string for nil.
func ErrorText(err error) *string {
	text := ""
	if err != nil {
		text = err.Error()
	}
	return &text
}

// Summary is the compact view used by recent-activity listings.
type Summary struct {
	Token             string     `json:"token"`
	State             State      `json:"state"`
	NotifyMode        NotifyMode `json:"notify_mode,omitempty"`
	StatusID          int        `json:"status_id,omitempty"`
	StatusDescription string     `json:"status_description,omitempty"`
	Error             string     `json:"error,omitempty"`
	UpdatedAt         time.Time  `json:"updated_at"`
	AgeSeconds        float64    `json:"age_seconds"`
}

// Summarize builds a Summary with the age measured against now.
func (r Record) Summarize(now time.Time) Summary {
	id, _ := r.Result.StatusID()
	age := now.Sub(r.UpdatedAt).Seconds()
	if age < 0 {
		age = 0
	}
	return Summary{
		Token:             r.Token,
		State:             r.State,
		NotifyMode:        r.NotifyMode,
		StatusID:          id,
		StatusDescription: r.Result.StatusDescription(),
		Error:             r.Error,
		UpdatedAt:         r.UpdatedAt,
		AgeSeconds:        age,
	}
}
