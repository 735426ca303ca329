package vantage6

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// FlexInt decodes JSON integers that some node implementations emit as
// quoted strings (sample_size in particular).
type FlexInt int

// UnmarshalJSON accepts both 42 and "42".
func (f *FlexInt) UnmarshalJSON(data []byte) error {
	s := strings.TrimSpace(string(data))
	if s == "null" || s == `""` {
		*f = 0
		return nil
	}
	s = strings.Trim(s, `"`)
	n, err := strconv.Atoi(s)
	if err != nil {
		return fmt.Errorf("parse integer %q: %w", s, err)
	}
	*f = FlexInt(n)
	return nil
}

// Int returns the plain integer value.
func (f FlexInt) Int() int { return int(f) }

// VariableCount is one class/subclass tally reported by a node.
type VariableCount struct {
	MainClass      string  `json:"main_class"`
	MainClassCount FlexInt `json:"main_class_count"`
	SubClass       string  `json:"sub_class"`
	SubClassCount  FlexInt `json:"sub_class_count"`
}

// OrganisationDescriptives is the per-organisation result of the
// descriptive statistics task.
type OrganisationDescriptives struct {
	Organisation string          `json:"organisation"`
	Country      string          `json:"country"`
	SampleSize   FlexInt         `json:"sample_size"`
	VariableInfo []VariableCount `json:"variable_info"`
}

// Organization is a collaboration member as reported by the server.
type Organization struct {
	ID   int    `json:"id"`
	Name string `json:"name"`
}

// Task statuses the server reports while a computation runs.
const (
	StatusPending   = "pending"
	StatusActive    = "active"
	StatusCompleted = "completed"
	StatusFailed    = "failed"
	StatusCrashed   = "crashed"
	StatusKilled    = "killed by user"
)

// APIError carries the HTTP status and message of a failed server call.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("vantage6 server returned %d: %s", e.Status, e.Message)
	}
	return fmt.Sprintf("vantage6 server returned %d", e.Status)
}

type tokenResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
}

type taskResponse struct {
	ID     int    `json:"id"`
	Status string `json:"status"`
}

type organizationPage struct {
	Data []Organization `json:"data"`
}

type resultRecord struct {
	ID     int    `json:"id"`
	Result string `json:"result"`
}

type resultPage struct {
	Data []resultRecord `json:"data"`
}

type serverMessage struct {
	Msg string `json:"msg"`
}

func decodeServerMessage(body []byte) string {
	var m serverMessage
	if err := json.Unmarshal(body, &m); err == nil && m.Msg != "" {
		return m.Msg
	}
	return strings.TrimSpace(string(body))
}
