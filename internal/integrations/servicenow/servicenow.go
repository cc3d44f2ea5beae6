// Package servicenow reads new incidents from and writes outcomes back to the
// ServiceNow incident table.
package servicenow

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"triagebot/internal/domain"
	"triagebot/internal/httpx"
	"triagebot/internal/logging"
)

// Incident states in the ServiceNow incident table.
const (
	StateNew        = 1
	StateInProgress = 2
	StateOnHold     = 3
	StateResolved   = 6
)

const (
	snTimeLayout   = domain.ServiceNowTimeLayout
	incidentFields = "sys_id,number,short_description,description,state,priority,category,subcategory,assignment_group,sys_created_on"
	intakeNote     = "Incident being processed by automated agent"
	resolvedCode   = "Solved (Permanently)"
)

type Client struct {
	baseURL         string
	username        string
	password        string
	assignmentGroup string
	http            *http.Client
	log             zerolog.Logger
	now             func() time.Time
}

// New returns a client for instance, which may be a bare host name or a full
// URL. A nil httpClient uses the shared external client.
func New(instance, username, password, assignmentGroup string, httpClient *http.Client) *Client {
	base := strings.TrimRight(strings.TrimSpace(instance), "/")
	if !strings.Contains(base, "://") {
		base = "https://" + base
	}
	if httpClient == nil {
		httpClient = httpx.ExternalHTTPClient()
	}
	return &Client{
		baseURL:         base + "/api/now",
		username:        username,
		password:        password,
		assignmentGroup: assignmentGroup,
		http:            httpClient,
		log:             logging.New("servicenow"),
		now:             time.Now,
	}
}

type incidentRecord struct {
	SysID            string    `json:"sys_id"`
	Number           string    `json:"number"`
	ShortDescription string    `json:"short_description"`
	Description      string    `json:"description"`
	State            string    `json:"state"`
	Priority         string    `json:"priority"`
	Category         string    `json:"category"`
	Subcategory      string    `json:"subcategory"`
	AssignmentGroup  reference `json:"assignment_group"`
	CreatedOn        string    `json:"sys_created_on"`
}

// reference is a ServiceNow reference field, returned either as a plain
// string or as an object with a display value and link.
type reference string

func (r *reference) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		*r = reference(s)
		return nil
	}
	var obj struct {
		DisplayValue string `json:"display_value"`
		Value        string `json:"value"`
	}
	if err := json.Unmarshal(data, &obj); err != nil {
		return err
	}
	if obj.DisplayValue != "" {
		*r = reference(obj.DisplayValue)
	} else {
		*r = reference(obj.Value)
	}
	return nil
}

// FetchNewIncidents returns new and in-progress incidents for the
// configured assignment group created within lookback, newest first.
func (c *Client) FetchNewIncidents(ctx context.Context, limit int, lookback time.Duration) ([]domain.Incident, error) {
	since := c.now().UTC().Add(-lookback).Format(snTimeLayout)
	query := fmt.Sprintf("assignment_group.name=%s^stateIN%d,%d^sys_created_on>%s^ORDERBYDESCsys_created_on",
		c.assignmentGroup, StateNew, StateInProgress, since)

	params := url.Values{}
	params.Set("sysparm_query", query)
	params.Set("sysparm_limit", fmt.Sprintf("%d", limit))
	params.Set("sysparm_fields", incidentFields)
	params.Set("sysparm_display_value", "false")

	c.log.Debug().Str("since", since).Int("limit", limit).Msg("servicenow fetch start")

	body, err := c.do(ctx, http.MethodGet, "/table/incident?"+params.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("fetching incidents: %w", err)
	}

	var resp struct {
		Result []incidentRecord `json:"result"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("parsing response: %w", err)
	}

	incidents := make([]domain.Incident, 0, len(resp.Result))
	for _, rec := range resp.Result {
		opened, err := time.Parse(snTimeLayout, rec.CreatedOn)
		if err != nil {
			opened = time.Time{}
		}
		incidents = append(incidents, domain.Incident{
			ID:               rec.SysID,
			Number:           rec.Number,
			ShortDescription: rec.ShortDescription,
			Description:      rec.Description,
			Category:         rec.Category,
			Subcategory:      rec.Subcategory,
			Priority:         rec.Priority,
			State:            rec.State,
			AssignmentGroup:  string(rec.AssignmentGroup),
			OpenedAt:         opened,
		})
	}
	c.log.Info().Int("count", len(incidents)).Msg("servicenow fetch done")
	return incidents, nil
}

// Update is a partial incident update. Zero fields are not sent.
type Update struct {
	State      int
	WorkNotes  string
	CloseCode  string
	CloseNotes string
}

func (u Update) payload() map[string]any {
	out := map[string]any{}
	if u.State != 0 {
		out["state"] = fmt.Sprintf("%d", u.State)
	}
	if u.WorkNotes != "" {
		out["work_notes"] = u.WorkNotes
	}
	if u.CloseCode != "" {
		out["close_code"] = u.CloseCode
	}
	if u.CloseNotes != "" {
		out["close_notes"] = u.CloseNotes
	}
	return out
}

func (c *Client) UpdateIncident(ctx context.Context, sysID string, u Update) error {
	payload := u.payload()
	if len(payload) == 0 {
		return fmt.Errorf("update for incident %s is empty", sysID)
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encoding update: %w", err)
	}
	if _, err := c.do(ctx, http.MethodPatch, "/table/incident/"+url.PathEscape(sysID), raw); err != nil {
		return fmt.Errorf("updating incident %s: %w", sysID, err)
	}
	c.log.Info().Str("incident_id", sysID).Int("state", u.State).Msg("servicenow incident updated")
	return nil
}

// MarkInProgress claims an incident before the pipeline runs.
func (c *Client) MarkInProgress(ctx context.Context, sysID string) error {
	return c.UpdateIncident(ctx, sysID, Update{State: StateInProgress, WorkNotes: intakeNote})
}

// ApplyDisposition writes a run's outcome back to its ticket.
func (c *Client) ApplyDisposition(ctx context.Context, disp domain.Disposition) error {
	return c.UpdateIncident(ctx, disp.IncidentID, UpdateForDisposition(disp))
}

// StatusForDecision names the ticket status a decision moves the incident to.
func StatusForDecision(d domain.Decision) string {
	switch d {
	case domain.DecisionAutoClose:
		return "resolved"
	case domain.DecisionAutoRetry:
		return "in_progress"
	case domain.DecisionEscalate:
		return "escalated"
	case domain.DecisionHumanReview:
		return "on_hold"
	default:
		return "in_progress"
	}
}

// StateForDecision maps a decision to an incident state. Escalations stay
// in progress; the work note carries the escalation.
func StateForDecision(d domain.Decision) int {
	switch StatusForDecision(d) {
	case "resolved":
		return StateResolved
	case "on_hold":
		return StateOnHold
	default:
		return StateInProgress
	}
}

func UpdateForDisposition(disp domain.Disposition) Update {
	var notes strings.Builder
	fmt.Fprintf(&notes, "Automated analysis complete. Decision: %s (score %.2f, intent %s)\n", disp.Decision, disp.Score, disp.Intent)
	if disp.Reasoning != "" {
		fmt.Fprintf(&notes, "Reasoning: %s\n", disp.Reasoning)
	}
	for _, a := range disp.ActionsTaken {
		fmt.Fprintf(&notes, "Action: %s (success=%t)\n", a.Action, a.Success)
	}
	if disp.Decision == domain.DecisionEscalate {
		notes.WriteString("Escalated: requires expert review.\n")
	}
	if disp.RCALocation != "" {
		fmt.Fprintf(&notes, "\n[Automated] RCA stored at: %s", disp.RCALocation)
	}

	u := Update{
		State:     StateForDecision(disp.Decision),
		WorkNotes: strings.TrimRight(notes.String(), "\n"),
	}
	if disp.Decision == domain.DecisionAutoClose {
		u.CloseCode = resolvedCode
		u.CloseNotes = disp.Reasoning
	}
	return u
}

func (c *Client) do(ctx context.Context, method, path string, body []byte) ([]byte, error) {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	req.SetBasicAuth(c.username, c.password)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	respBody, err := io.ReadAll(resp.Body)
	resp.Body.Close()
	if err != nil {
		return nil, fmt.Errorf("reading response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("ServiceNow API returned %d: %s", resp.StatusCode, string(respBody))
	}
	return respBody, nil
}
