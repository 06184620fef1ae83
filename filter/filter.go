// Package filter narrows a fetched message list with include or exclude
// regular expressions over the header line and the body.
package filter

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/dhcgn/inbox-assistant/model"
)

// Options captures the filtering configuration.
type Options struct {
	IncludeHeader []string
	IncludeBody   []string
	ExcludeHeader []string
	ExcludeBody   []string
}

// Filter holds compiled regex patterns for filtering messages.
type Filter struct {
	includeMode    bool
	excludeMode    bool
	includeHeader  []*regexp.Regexp
	includeBody    []*regexp.Regexp
	excludeHeader  []*regexp.Regexp
	excludeBody    []*regexp.Regexp
	needHeaderText bool
	needBodyText   bool
}

// New creates a new Filter from the provided options.
func New(opts Options) (*Filter, error) {
	includeHeader, err := compilePatterns(opts.IncludeHeader)
	if err != nil {
		return nil, model.NewError(model.KindValidation, "invalid include-header pattern", err)
	}
	includeBody, err := compilePatterns(opts.IncludeBody)
	if err != nil {
		return nil, model.NewError(model.KindValidation, "invalid include-body pattern", err)
	}
	excludeHeader, err := compilePatterns(opts.ExcludeHeader)
	if err != nil {
		return nil, model.NewError(model.KindValidation, "invalid exclude-header pattern", err)
	}
	excludeBody, err := compilePatterns(opts.ExcludeBody)
	if err != nil {
		return nil, model.NewError(model.KindValidation, "invalid exclude-body pattern", err)
	}

	includeActive := len(includeHeader) > 0 || len(includeBody) > 0
	excludeActive := len(excludeHeader) > 0 || len(excludeBody) > 0
	if includeActive && excludeActive {
		return nil, model.NewError(model.KindValidation, "include and exclude filters are mutually exclusive", nil)
	}

	return &Filter{
		includeMode:    includeActive,
		excludeMode:    excludeActive,
		includeHeader:  includeHeader,
		includeBody:    includeBody,
		excludeHeader:  excludeHeader,
		excludeBody:    excludeBody,
		needHeaderText: len(includeHeader) > 0 || len(excludeHeader) > 0,
		needBodyText:   len(includeBody) > 0 || len(excludeBody) > 0,
	}, nil
}

// Active reports whether any pattern was configured.
func (f *Filter) Active() bool {
	return f.includeMode || f.excludeMode
}

// Allows returns true if the message passes the filter criteria.
func (f *Filter) Allows(msg model.Message) bool {
	var headerText, bodyText string
	if f.needHeaderText {
		headerText = HeaderText(msg)
	}
	if f.needBodyText {
		bodyText = msg.BodyText
		if bodyText == "" {
			bodyText = msg.BodyHTML
		}
	}

	if f.includeMode {
		return matchAny(f.includeHeader, headerText) || matchAny(f.includeBody, bodyText)
	}

	if f.excludeMode {
		if matchAny(f.excludeHeader, headerText) || matchAny(f.excludeBody, bodyText) {
			return false
		}
	}

	return true
}

// Apply returns the messages that pass, preserving order.
func (f *Filter) Apply(msgs []model.Message) []model.Message {
	if !f.Active() {
		return msgs
	}
	kept := make([]model.Message, 0, len(msgs))
	for _, msg := range msgs {
		if f.Allows(msg) {
			kept = append(kept, msg)
		}
	}
	return kept
}

// HeaderText renders the decoded header fields the way header patterns see
// them, one "Name: value" line each.
func HeaderText(msg model.Message) string {
	var sb strings.Builder
	sb.WriteString("From: ")
	sb.WriteString(msg.Sender)
	sb.WriteString("\nSubject: ")
	sb.WriteString(msg.Subject)
	if msg.Timestamp != nil {
		sb.WriteString("\nDate: ")
		sb.WriteString(msg.Timestamp.Format("Mon, 02 Jan 2006 15:04:05 -0700"))
	}
	sb.WriteString("\n")
	return sb.String()
}

func compilePatterns(patterns []string) ([]*regexp.Regexp, error) {
	compiled := make([]*regexp.Regexp, 0, len(patterns))
	for _, pattern := range patterns {
		pattern = strings.TrimSpace(pattern)
		if pattern == "" {
			continue
		}
		re, err := regexp.Compile(pattern)
		if err != nil {
			return nil, fmt.Errorf("compile %q: %w", pattern, err)
		}
		compiled = append(compiled, re)
	}
	return compiled, nil
}

func matchAny(patterns []*regexp.Regexp, text string) bool {
	for _, re := range patterns {
		if re.MatchString(text) {
			return true
		}
	}
	return false
}
