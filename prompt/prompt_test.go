package prompt

import (
	"strings"
	"testing"

	"github.com/nalgeon/be"

	"github.com/dhcgn/inbox-assistant/model"
)

func TestBuild_ContainsInputs(t *testing.T) {
	got, err := Build("Meeting", "Can we meet Friday?", "Friendly")
	be.Err(t, err, nil)

	be.True(t, strings.Contains(got, "Meeting"))
	be.True(t, strings.Contains(got, "Can we meet Friday?"))
	be.True(t, strings.Contains(got, "friendly"))
	be.True(t, !strings.Contains(got, "Friendly"))
	be.True(t, strings.Contains(got, "greeting"))
	be.True(t, strings.Contains(got, "**bold**"))
	be.True(t, strings.Contains(got, "closing"))
}

func TestBuild_Deterministic(t *testing.T) {
	a, err := Build("Invoice", "Please find the invoice attached.", "formal")
	be.Err(t, err, nil)
	b, err := Build("Invoice", "Please find the invoice attached.", "formal")
	be.Err(t, err, nil)
	be.Equal(t, a, b)
}

func TestBuild_ToneOnlyChangesToneSegment(t *testing.T) {
	formal, err := Build("Delay", "The shipment is late.", "formal")
	be.Err(t, err, nil)
	apologetic, err := Build("Delay", "The shipment is late.", "apologetic")
	be.Err(t, err, nil)

	be.True(t, formal != apologetic)
	be.Equal(t, strings.ReplaceAll(formal, "formal", "TONE"), strings.ReplaceAll(apologetic, "apologetic", "TONE"))
}

func TestBuild_ValidationError(t *testing.T) {
	tests := []struct {
		name    string
		subject string
		body    string
	}{
		{"empty subject", "", "body"},
		{"blank subject", "   \t", "body"},
		{"empty body", "subject", ""},
		{"blank body", "subject", "\n\n "},
		{"both empty", "", ""},
	}

	for _, tt := range tests {
		for _, tone := range append([]string{"", "Whatever"}, KnownTones...) {
			t.Run(tt.name+"/"+tone, func(t *testing.T) {
				got, err := Build(tt.subject, tt.body, tone)
				be.Equal(t, got, "")
				be.True(t, model.IsKind(err, model.KindValidation))
			})
		}
	}
}

func TestBuild_DefaultsAndUnknownTone(t *testing.T) {
	got, err := Build("Hi", "Hello", "")
	be.Err(t, err, nil)
	be.True(t, strings.Contains(got, "Write a neutral reply"))

	got, err = Build("Hi", "Hello", "  Pirate-Speak ")
	be.Err(t, err, nil)
	be.True(t, strings.Contains(got, "Write a pirate-speak reply"))
}

func TestBuildRequest_Sender(t *testing.T) {
	with, err := BuildRequest(model.ReplyRequest{Subject: "Hi", Body: "Hello", Sender: " Alice "})
	be.Err(t, err, nil)
	be.True(t, strings.Contains(with, "From: Alice\n"))

	without, err := BuildRequest(model.ReplyRequest{Subject: "Hi", Body: "Hello"})
	be.Err(t, err, nil)
	be.True(t, !strings.Contains(without, "From:"))
}

func TestNormalize(t *testing.T) {
	got, err := Normalize(model.ReplyRequest{Subject: "  Hi ", Body: " Hello\n", Tone: " THANKFUL "})
	be.Err(t, err, nil)
	be.Equal(t, got, model.ReplyRequest{Subject: "Hi", Body: "Hello", Tone: "thankful"})
}

func TestIsKnownTone(t *testing.T) {
	be.True(t, IsKnownTone("Formal"))
	be.True(t, IsKnownTone(""))
	be.True(t, !IsKnownTone("sarcastic"))
}
