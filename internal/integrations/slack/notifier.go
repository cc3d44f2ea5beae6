// Package slackbot posts pipeline dispositions to a Slack channel.
package slackbot

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/slack-go/slack"

	"triagebot/internal/domain"
	"triagebot/internal/logging"
)

const maxReasoningChars = 600

// Notifier posts one message per disposition whose decision is in the
// configured set. Escalations and human reviews mention the escalation
// contacts.
type Notifier struct {
	api       *slack.Client
	channelID string
	decisions map[domain.Decision]bool
	contacts  []string
	directory *userDirectory
	log       zerolog.Logger
}

func NewNotifier(api *slack.Client, channelID string, decisions map[domain.Decision]bool) *Notifier {
	copied := make(map[domain.Decision]bool, len(decisions))
	for d, on := range decisions {
		copied[d] = on
	}
	return &Notifier{
		api:       api,
		channelID: channelID,
		decisions: copied,
		directory: &userDirectory{api: api, now: time.Now},
		log:       logging.New("slack"),
	}
}

// WithEscalationContacts sets the users, by Slack ID or name, mentioned on
// escalate and human_review messages.
func (n *Notifier) WithEscalationContacts(contacts []string) *Notifier {
	n.contacts = append([]string(nil), contacts...)
	return n
}

// Wants reports whether a disposition with decision d is posted.
func (n *Notifier) Wants(d domain.Decision) bool {
	return n.decisions[d]
}

// Notify posts disp for inc. Decisions outside the configured set are
// skipped and return nil.
func (n *Notifier) Notify(ctx context.Context, inc domain.Incident, disp domain.Disposition) error {
	if !n.Wants(disp.Decision) {
		return nil
	}
	text := fallbackText(inc, disp)
	blocks := dispositionBlocks(inc, disp)
	if cc := n.escalationMentions(ctx, disp.Decision); cc != "" {
		text += " cc " + cc
		blocks = append(blocks, slack.NewSectionBlock(
			slack.NewTextBlockObject(slack.MarkdownType, "cc "+cc, false, false), nil, nil))
	}

	_, ts, err := n.api.PostMessageContext(ctx, n.channelID,
		slack.MsgOptionText(text, false),
		slack.MsgOptionBlocks(blocks...),
	)
	if err != nil {
		return fmt.Errorf("posting disposition for %s: %w", inc.DisplayID(), err)
	}
	n.log.Info().Str("incident_id", disp.IncidentID).Str("decision", string(disp.Decision)).Str("ts", ts).Msg("slack notification sent")
	return nil
}

func (n *Notifier) escalationMentions(ctx context.Context, d domain.Decision) string {
	if len(n.contacts) == 0 || (d != domain.DecisionEscalate && d != domain.DecisionHumanReview) {
		return ""
	}
	ids, unresolved, err := n.directory.resolve(ctx, n.contacts)
	if err != nil {
		n.log.Warn().Err(err).Msg("slack user lookup failed")
	}
	if len(unresolved) > 0 {
		n.log.Warn().Strs("unresolved", unresolved).Msg("escalation contacts not found in slack")
	}
	return mentions(ids)
}

func fallbackText(inc domain.Incident, disp domain.Disposition) string {
	return fmt.Sprintf("%s %s: %s (score %.2f)", decisionEmoji(disp.Decision), inc.DisplayID(), disp.Decision, disp.Score)
}

func dispositionBlocks(inc domain.Incident, disp domain.Disposition) []slack.Block {
	title := fmt.Sprintf("%s *%s* %s", decisionEmoji(disp.Decision), inc.DisplayID(), inc.ShortDescription)

	fields := []*slack.TextBlockObject{
		slack.NewTextBlockObject(slack.MarkdownType, fmt.Sprintf("*Decision:*\n%s", disp.Decision), false, false),
		slack.NewTextBlockObject(slack.MarkdownType, fmt.Sprintf("*Score:*\n%.2f", disp.Score), false, false),
		slack.NewTextBlockObject(slack.MarkdownType, fmt.Sprintf("*Intent:*\n%s (%.2f)", disp.Intent, disp.Confidence), false, false),
	}
	if len(disp.ActionsTaken) > 0 {
		var actions []string
		for _, a := range disp.ActionsTaken {
			actions = append(actions, fmt.Sprintf("%s (success=%t)", a.Action, a.Success))
		}
		fields = append(fields, slack.NewTextBlockObject(slack.MarkdownType, "*Actions:*\n"+strings.Join(actions, "\n"), false, false))
	}

	blocks := []slack.Block{
		slack.NewSectionBlock(slack.NewTextBlockObject(slack.MarkdownType, title, false, false), nil, nil),
		slack.NewSectionBlock(nil, fields, nil),
	}

	reasoning := disp.Reasoning
	if disp.Error != "" {
		reasoning = strings.TrimSpace(reasoning + "\nError: " + disp.Error)
	}
	if reasoning != "" {
		blocks = append(blocks, slack.NewSectionBlock(
			slack.NewTextBlockObject(slack.MarkdownType, "> "+clip(reasoning, maxReasoningChars), false, false), nil, nil))
	}

	var ctxParts []string
	if disp.RunID != "" {
		ctxParts = append(ctxParts, "run "+disp.RunID)
	}
	if disp.RCALocation != "" {
		ctxParts = append(ctxParts, "RCA `"+disp.RCALocation+"`")
	}
	if len(ctxParts) > 0 {
		blocks = append(blocks, slack.NewContextBlock("",
			slack.NewTextBlockObject(slack.MarkdownType, strings.Join(ctxParts, " | "), false, false)))
	}
	return blocks
}

func decisionEmoji(d domain.Decision) string {
	switch d {
	case domain.DecisionAutoClose:
		return ":white_check_mark:"
	case domain.DecisionAutoRetry:
		return ":repeat:"
	case domain.DecisionEscalate:
		return ":rotating_light:"
	default:
		return ":eyes:"
	}
}

func clip(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "..."
}
