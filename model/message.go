package model

import (
	"bytes"
	"io"
	"time"
)

const (
	// UnknownSender replaces a missing or empty From header.
	UnknownSender = "Unknown Sender"
	// NoSubject replaces a missing or empty Subject header.
	NoSubject = "(No Subject)"
	// DefaultFolder is selected when a fetch names no folder.
	DefaultFolder = "INBOX"
)

// Credentials are the plain login credentials for one mailbox session.
type Credentials struct {
	Username string
	Password string
}

// RawMessage is one fetched but not yet decoded message, tagged with its
// sequence number inside the fetched range.
type RawMessage struct {
	SeqNum uint32
	Raw    []byte
}

// Reader returns a fresh reader over the raw RFC 5322 bytes.
func (r RawMessage) Reader() io.Reader {
	return bytes.NewReader(r.Raw)
}

// Message is a decoded email as handed to callers.
type Message struct {
	ID        string     `json:"id"`
	SeqNum    uint32     `json:"seq"`
	Sender    string     `json:"sender"`
	Subject   string     `json:"subject"`
	Timestamp *time.Time `json:"timestamp,omitempty"`
	BodyText  string     `json:"body_text,omitempty"`
	BodyHTML  string     `json:"body_html,omitempty"`
	Snippet   string     `json:"snippet"`
}

// FolderInfo describes the selected folder.
type FolderInfo struct {
	Name         string
	MessageCount uint32
}

// FetchRequest asks for the WindowSize most recent messages of Folder.
type FetchRequest struct {
	Credentials Credentials
	Folder      string
	WindowSize  int
}

// FetchResult is the ordered, newest-first outcome of one fetch.
type FetchResult struct {
	Messages []Message
	// Low and High are the requested sequence range; both zero when the
	// folder was empty and no fetch was issued.
	Low, High uint32
	// Skipped counts messages dropped because they failed to decode.
	Skipped int
}

// ReplyRequest carries the inputs of one reply generation.
type ReplyRequest struct {
	Subject string `json:"subject"`
	Body    string `json:"body"`
	Tone    string `json:"tone,omitempty"`
	Sender  string `json:"sender,omitempty"`
}
