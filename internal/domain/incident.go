package domain

import (
	"encoding/json"
	"fmt"
	"time"
)

// ServiceNowTimeLayout is how ServiceNow renders timestamps, in UTC.
const ServiceNowTimeLayout = "2006-01-02 15:04:05"

// Incident is the read-only input to one pipeline run.
type Incident struct {
	ID               string         `json:"sys_id"`
	Number           string         `json:"number,omitempty"`
	ShortDescription string         `json:"short_description"`
	Description      string         `json:"description,omitempty"`
	Category         string         `json:"category,omitempty"`
	Subcategory      string         `json:"subcategory,omitempty"`
	Priority         string         `json:"priority,omitempty"`
	State            string         `json:"state,omitempty"`
	AssignmentGroup  string         `json:"assignment_group,omitempty"`
	AdditionalInfo   map[string]any `json:"additional_info,omitempty"`
	// OpenedAt travels as "opened_at" in ServiceNow layout. Zero is omitted.
	OpenedAt time.Time `json:"-"`
}

type incidentFields Incident

type incidentJSON struct {
	*incidentFields
	OpenedAt string `json:"opened_at,omitempty"`
}

func (i Incident) MarshalJSON() ([]byte, error) {
	out := incidentJSON{incidentFields: (*incidentFields)(&i)}
	if !i.OpenedAt.IsZero() {
		out.OpenedAt = i.OpenedAt.UTC().Format(ServiceNowTimeLayout)
	}
	return json.Marshal(out)
}

// UnmarshalJSON accepts opened_at in ServiceNow layout or RFC 3339.
func (i *Incident) UnmarshalJSON(data []byte) error {
	var in incidentJSON
	in.incidentFields = (*incidentFields)(i)
	if err := json.Unmarshal(data, &in); err != nil {
		return err
	}
	opened, err := parseOpenedAt(in.OpenedAt)
	if err != nil {
		return err
	}
	i.OpenedAt = opened
	return nil
}

func parseOpenedAt(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	if t, err := time.Parse(ServiceNowTimeLayout, s); err == nil {
		return t, nil
	}
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t.UTC(), nil
	}
	return time.Time{}, fmt.Errorf("opened_at %q is neither %q nor RFC 3339", s, ServiceNowTimeLayout)
}

// DisplayID returns the human-facing ticket number when known, else the sys_id.
func (i Incident) DisplayID() string {
	if i.Number != "" {
		return i.Number
	}
	if i.ID != "" {
		return i.ID
	}
	return "unknown"
}
