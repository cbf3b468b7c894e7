package tools

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/brandon/mailcore/internal/message"
)

const (
	sendModeNew     = "new"
	sendModeReply   = "reply"
	sendModeForward = "forward"
)

// SendEmailTool sends new messages, replies and forwards over SMTP
type SendEmailTool struct {
	*deps
}

// Name returns the tool name
func (t *SendEmailTool) Name() string {
	return "send_email"
}

// Description returns the tool description
func (t *SendEmailTool) Description() string {
	return "Send a new email, a reply to a message, or a forward via SMTP"
}

// InputSchema returns the JSON schema for tool inputs
func (t *SendEmailTool) InputSchema() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"account_name": stringProp("Optional: Account to send from (defaults to the first configured account)"),
			"mode": map[string]interface{}{
				"type":        "string",
				"enum":        []string{sendModeNew, sendModeReply, sendModeForward},
				"description": "Optional: new (default), reply or forward",
			},
			"to":        stringProp("Recipient address(es), comma-separated. Replies default to the original sender"),
			"cc":        stringProp("Optional: CC recipients (comma-separated)"),
			"bcc":       stringProp("Optional: BCC recipients (comma-separated)"),
			"subject":   stringProp("Email subject. Replies and forwards default to the original's"),
			"body_text": stringProp("Optional: Plain text body"),
			"body_html": stringProp("Optional: HTML body"),
			"attachments": map[string]interface{}{
				"type":        "array",
				"items":       map[string]interface{}{"type": "string"},
				"description": "Optional: Array of local attachment paths",
			},
			"reply_to":    stringProp("Optional: Reply-To header"),
			"in_reply_to": stringProp("Message-ID being replied to (required for mode=reply)"),
			"forward_id":  stringProp("Optional: Message-ID of a cached message to quote when forwarding"),
		},
	}
}

// Execute executes the tool. An empty body is allowed.
func (t *SendEmailTool) Execute(ctx context.Context, params Params) (interface{}, error) {
	accountName := params.String("account_name")
	mode := params.String("mode")
	if mode == "" {
		mode = sendModeNew
	}

	c, err := t.compose(params)
	if err != nil {
		return nil, err
	}

	var messageID string
	switch mode {
	case sendModeNew:
		if len(c.To)+len(c.Cc)+len(c.Bcc) == 0 {
			return nil, fmt.Errorf("to is required")
		}
		if c.Subject == "" {
			return nil, fmt.Errorf("subject is required")
		}
		messageID, err = t.emailManager.Send(ctx, accountName, c)
	case sendModeReply:
		inReplyTo, reqErr := params.RequireString("in_reply_to")
		if reqErr != nil {
			return nil, reqErr
		}
		messageID, err = t.emailManager.SendReply(ctx, accountName, inReplyTo, c)
	case sendModeForward:
		messageID, err = t.emailManager.SendForward(ctx, accountName, params.String("forward_id"), c)
	default:
		return nil, fmt.Errorf("unknown mode %q: expected new, reply or forward", mode)
	}

	if err != nil {
		t.logger.WithError(err).WithFields(logrus.Fields{
			"account": accountName,
			"mode":    mode,
		}).Warn("Failed to send email")
		return nil, err
	}

	return map[string]interface{}{
		"success":    true,
		"message":    "Email sent successfully",
		"message_id": messageID,
	}, nil
}

func (t *SendEmailTool) compose(params Params) (message.Compose, error) {
	var c message.Compose
	var err error
	if c.To, err = params.Addresses("to"); err != nil {
		return c, err
	}
	if c.Cc, err = params.Addresses("cc"); err != nil {
		return c, err
	}
	if c.Bcc, err = params.Addresses("bcc"); err != nil {
		return c, err
	}
	replyTo, err := params.Addresses("reply_to")
	if err != nil {
		return c, err
	}
	if len(replyTo) > 0 {
		c.ReplyTo = &replyTo[0]
	}
	c.Subject = params.String("subject")
	c.BodyText, _ = params["body_text"].(string)
	c.BodyHTML, _ = params["body_html"].(string)
	c.Attachments = params.Strings("attachments")
	return c, nil
}
