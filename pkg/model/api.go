package model

import (
	"strings"
	"time"
)

// Response is the standard API response envelope.
type Response struct {
	Status     string      `json:"status"`
	RequestID  string      `json:"request_id"`
	Timestamp  time.Time   `json:"timestamp"`
	Data       any         `json:"data"`
	Pagination *Pagination `json:"pagination,omitempty"`
	Error      *APIError   `json:"error"`
}

// Pagination holds pagination metadata for list endpoints.
type Pagination struct {
	Total   int  `json:"total"`
	Limit   int  `json:"limit"`
	Offset  int  `json:"offset"`
	HasMore bool `json:"has_more"`
}

// ListOptions selects a page of runs, newest first. Empty filters match
// every run.
type ListOptions struct {
	Limit     int
	Offset    int
	State     string
	Instance  string
	Algorithm string
}

// DefaultListOptions returns sensible defaults.
func DefaultListOptions() ListOptions {
	return ListOptions{Limit: 20, Offset: 0}
}

// Clamp enforces limits (max 100, min 1).
func (o *ListOptions) Clamp() {
	if o.Limit <= 0 {
		o.Limit = 20
	}
	if o.Limit > 100 {
		o.Limit = 100
	}
	if o.Offset < 0 {
		o.Offset = 0
	}
}

// Check upper-cases the state filter and reports it when no run can be in
// that state.
func (o *ListOptions) Check() []FieldError {
	if o.State == "" {
		return nil
	}
	o.State = strings.ToUpper(o.State)
	for _, st := range RunStates {
		if RunState(o.State) == st {
			return nil
		}
	}
	return []FieldError{{Field: "state", Message: "unknown run state " + o.State}}
}

// Page returns the pagination of a listing that matched total runs.
func (o ListOptions) Page(total int) *Pagination {
	return &Pagination{
		Total:   total,
		Limit:   o.Limit,
		Offset:  o.Offset,
		HasMore: o.Offset+o.Limit < total,
	}
}
