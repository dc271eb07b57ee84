package notify

import (
	"context"
	"fmt"

	slacklib "github.com/slack-go/slack"

	"github.com/gosuda/acplink/internal/acp"
	"github.com/gosuda/acplink/internal/conn"
)

// SlackAPI abstracts the subset of the Slack client used by SlackNotifier.
// This allows testing without real HTTP calls.
type SlackAPI interface {
	PostMessage(channelID string, options ...slacklib.MsgOption) (string, string, error)
}

// SlackNotifier posts permission requests to a Slack channel with one
// button per option the agent offered.
type SlackNotifier struct {
	api     SlackAPI
	channel string
}

// Compile-time interface check.
var _ Notifier = (*SlackNotifier)(nil)

func NewSlackNotifier(api SlackAPI, channel string) *SlackNotifier {
	return &SlackNotifier{api: api, channel: channel}
}

func (n *SlackNotifier) NotifyPermission(_ context.Context, pending conn.PendingPermission) error {
	blocks := BuildPermissionBlocks(pending)

	_, _, err := n.api.PostMessage(n.channel, slacklib.MsgOptionBlocks(blocks...))
	if err != nil {
		return fmt.Errorf("notify.SlackNotifier.NotifyPermission: %w", err)
	}

	return nil
}

// BuildPermissionBlocks builds Slack Block Kit blocks for a permission
// request: a text section describing the tool call, then an action block
// with one button per offered option. Button values carry
// "<permissionId>:<optionId>" so the interaction webhook can settle the
// right decision.
func BuildPermissionBlocks(pending conn.PendingPermission) []slacklib.Block {
	req := pending.Request

	title := req.ToolCall.Title
	if title == "" {
		title = req.ToolCall.ToolCallID
	}
	text := fmt.Sprintf("*Agent requests permission*\n*Tool:* %s\n*Session:* `%s`", title, req.SessionID)
	textBlock := slacklib.NewSectionBlock(
		slacklib.NewTextBlockObject(slacklib.MarkdownType, text, false, false),
		nil,
		nil,
	)

	if len(req.Options) == 0 {
		return []slacklib.Block{textBlock}
	}

	buttons := make([]slacklib.BlockElement, 0, len(req.Options))
	for i, opt := range req.Options {
		actionID := fmt.Sprintf("permission_option_%d", i)
		btn := slacklib.NewButtonBlockElement(
			actionID,
			pending.PermissionID+":"+opt.OptionID,
			slacklib.NewTextBlockObject(slacklib.PlainTextType, buttonLabel(opt), false, false),
		)
		if opt.Kind == "allow_once" || opt.Kind == "allow_always" {
			btn.Style = slacklib.StylePrimary
		}
		buttons = append(buttons, btn)
	}

	actionBlock := slacklib.NewActionBlock("permission_actions", buttons...)

	return []slacklib.Block{textBlock, actionBlock}
}

func buttonLabel(opt acp.PermissionOption) string {
	if opt.Name != "" {
		return opt.Name
	}
	return opt.OptionID
}
