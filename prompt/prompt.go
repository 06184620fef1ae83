// Package prompt renders the instruction prompt for a reply to one email.
// Rendering is pure: identical inputs always give byte-identical output.
package prompt

import (
	"fmt"
	"slices"
	"strings"

	"github.com/dhcgn/inbox-assistant/model"
)

const DefaultTone = "neutral"

// KnownTones are the tones offered to users. Build accepts any tone.
var KnownTones = []string{"formal", "friendly", "apologetic", "thankful", DefaultTone}

func IsKnownTone(tone string) bool {
	return slices.Contains(KnownTones, NormalizeTone(tone))
}

// NormalizeTone lower-cases and trims tone, defaulting to DefaultTone.
func NormalizeTone(tone string) string {
	tone = strings.ToLower(strings.TrimSpace(tone))
	if tone == "" {
		return DefaultTone
	}
	return tone
}

// Normalize trims every field and normalizes the tone. Subject and body must
// be non-empty afterwards.
func Normalize(req model.ReplyRequest) (model.ReplyRequest, error) {
	req.Subject = strings.TrimSpace(req.Subject)
	req.Body = strings.TrimSpace(req.Body)
	req.Sender = strings.TrimSpace(req.Sender)
	req.Tone = NormalizeTone(req.Tone)

	if req.Subject == "" {
		return model.ReplyRequest{}, model.NewError(model.KindValidation, "subject is required", nil)
	}
	if req.Body == "" {
		return model.ReplyRequest{}, model.NewError(model.KindValidation, "body is required", nil)
	}
	return req, nil
}

func Build(subject, body, tone string) (string, error) {
	return BuildRequest(model.ReplyRequest{Subject: subject, Body: body, Tone: tone})
}

// BuildRequest renders req. A non-empty sender adds a From line.
func BuildRequest(req model.ReplyRequest) (string, error) {
	req, err := Normalize(req)
	if err != nil {
		return "", err
	}

	var b strings.Builder
	fmt.Fprintf(&b, "You are an email assistant. Write a %s reply to the email below.\n", req.Tone)
	b.WriteString("\nInstructions:\n")
	b.WriteString("- Start with a short greeting that addresses the sender.\n")
	b.WriteString("- Respond directly to what the email asks or says.\n")
	fmt.Fprintf(&b, "- Keep the whole reply %s in tone.\n", req.Tone)
	b.WriteString("- Mark dates, times and action items with **bold**.\n")
	b.WriteString("- Finish with a brief closing line.\n")
	b.WriteString("- Return only the reply text.\n")
	b.WriteString("\nEmail:\n")
	if req.Sender != "" {
		fmt.Fprintf(&b, "From: %s\n", req.Sender)
	}
	fmt.Fprintf(&b, "Subject: %s\n", req.Subject)
	fmt.Fprintf(&b, "Body:\n%s\n", req.Body)
	return b.String(), nil
}
