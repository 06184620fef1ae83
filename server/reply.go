package server

import (
	"context"

	"github.com/dhcgn/inbox-assistant/model"
	"github.com/dhcgn/inbox-assistant/prompt"
)

// replyRequest accepts the flat shape and the nested shape posted by the
// web client: {"email": {"subject", "text", "from"}, "tone"}.
type replyRequest struct {
	Subject string     `json:"subject"`
	Body    string     `json:"body"`
	Tone    string     `json:"tone"`
	Sender  string     `json:"sender"`
	Email   *emailBody `json:"email"`
}

type emailBody struct {
	Subject string `json:"subject"`
	Text    string `json:"text"`
	Body    string `json:"body"`
	From    string `json:"from"`
	Sender  string `json:"sender"`
}

func (r replyRequest) toModel() model.ReplyRequest {
	req := model.ReplyRequest{Subject: r.Subject, Body: r.Body, Tone: r.Tone, Sender: r.Sender}
	if r.Email == nil {
		return req
	}
	if req.Subject == "" {
		req.Subject = r.Email.Subject
	}
	if req.Body == "" {
		req.Body = firstNonEmpty(r.Email.Text, r.Email.Body)
	}
	if req.Sender == "" {
		req.Sender = firstNonEmpty(r.Email.From, r.Email.Sender)
	}
	return req
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

// generateReply validates req, renders the prompt and asks gen for the
// reply. It returns the normalized tone alongside the reply text.
func generateReply(ctx context.Context, gen Generator, req model.ReplyRequest) (string, string, error) {
	req, err := prompt.Normalize(req)
	if err != nil {
		return "", "", err
	}
	text, err := prompt.BuildRequest(req)
	if err != nil {
		return "", "", err
	}
	reply, err := gen.Generate(ctx, text)
	if err != nil {
		return "", "", err
	}
	return reply, req.Tone, nil
}
