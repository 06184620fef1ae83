package gemini

import (
	"encoding/json"
	"strings"
)

// PathState reports what was found along candidates[0].content.parts[*].text.
type PathState int

const (
	PathPresent PathState = iota
	// PathAbsent means the document is well formed but some element of the
	// path is missing or empty.
	PathAbsent
	// PathMalformed means the body is not JSON or an element of the path
	// has the wrong type.
	PathMalformed
)

func (s PathState) String() string {
	switch s {
	case PathPresent:
		return "present"
	case PathAbsent:
		return "absent"
	case PathMalformed:
		return "malformed"
	default:
		return "unknown"
	}
}

// extractText joins the text parts of the first candidate. Parts without a
// text field, such as function calls, are skipped.
func extractText(body []byte) (string, PathState) {
	var doc any
	if err := json.Unmarshal(body, &doc); err != nil {
		return "", PathMalformed
	}
	root, ok := doc.(map[string]any)
	if !ok {
		return "", PathMalformed
	}

	rawCandidates, ok := root["candidates"]
	if !ok || rawCandidates == nil {
		return "", PathAbsent
	}
	candidates, ok := rawCandidates.([]any)
	if !ok {
		return "", PathMalformed
	}
	if len(candidates) == 0 {
		return "", PathAbsent
	}

	candidate, ok := candidates[0].(map[string]any)
	if !ok {
		return "", PathMalformed
	}
	rawContent, ok := candidate["content"]
	if !ok || rawContent == nil {
		return "", PathAbsent
	}
	content, ok := rawContent.(map[string]any)
	if !ok {
		return "", PathMalformed
	}
	rawParts, ok := content["parts"]
	if !ok || rawParts == nil {
		return "", PathAbsent
	}
	parts, ok := rawParts.([]any)
	if !ok {
		return "", PathMalformed
	}

	var (
		texts []string
		found bool
	)
	for _, p := range parts {
		part, ok := p.(map[string]any)
		if !ok {
			return "", PathMalformed
		}
		rawText, ok := part["text"]
		if !ok {
			continue
		}
		text, ok := rawText.(string)
		if !ok {
			return "", PathMalformed
		}
		texts = append(texts, text)
		found = true
	}
	if !found {
		return "", PathAbsent
	}
	return strings.Join(texts, ""), PathPresent
}

// finishDetail pulls diagnostics that explain an empty answer, for logs.
func finishDetail(body []byte) (finishReason, blockReason string) {
	var resp struct {
		Candidates []struct {
			FinishReason string `json:"finishReason"`
		} `json:"candidates"`
		PromptFeedback struct {
			BlockReason string `json:"blockReason"`
		} `json:"promptFeedback"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return "", ""
	}
	if len(resp.Candidates) > 0 {
		finishReason = resp.Candidates[0].FinishReason
	}
	return finishReason, resp.PromptFeedback.BlockReason
}
