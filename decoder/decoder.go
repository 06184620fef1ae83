// Package decoder turns raw RFC 5322 bytes into model.Message values.
package decoder

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"unicode"

	htmltomarkdown "github.com/JohannesKaufmann/html-to-markdown/v2"
	"github.com/emersion/go-message"
	_ "github.com/emersion/go-message/charset"
	"github.com/emersion/go-message/mail"
	"github.com/google/uuid"

	"github.com/dhcgn/inbox-assistant/model"
)

const (
	// SnippetLength is the maximum number of runes kept in Message.Snippet.
	SnippetLength = 80

	maxPartSize = 1 << 20
)

var ErrEmptyMessage = errors.New("raw message is empty")

// syntheticNamespace scopes the UUIDv5 ids generated for messages that carry
// no Message-Id header.
var syntheticNamespace = uuid.MustParse("6f0b7c52-3c1e-4a8e-9d0a-52b1e4f1f0a7")

// Decoder is stateless and safe for concurrent use.
type Decoder struct {
	logger *slog.Logger
}

func New(logger *slog.Logger) *Decoder {
	if logger == nil {
		logger = slog.Default()
	}
	return &Decoder{logger: logger}
}

// Decode parses raw. Missing headers fall back to sentinels and a damaged
// MIME tree yields whatever parts could be read before the damage; when no
// part could be read at all, the undecoded body becomes BodyText. Only an
// empty message or a header block that cannot be parsed returns a decode
// error.
func (d *Decoder) Decode(raw model.RawMessage) (model.Message, error) {
	if len(raw.Raw) == 0 {
		return model.Message{}, model.NewError(model.KindDecode, "message is empty", ErrEmptyMessage)
	}

	reader, err := mail.CreateReader(raw.Reader())
	if err != nil && !message.IsUnknownCharset(err) {
		return model.Message{}, model.NewError(model.KindDecode, "message header could not be parsed", fmt.Errorf("seq %d: create mail reader: %w", raw.SeqNum, err))
	}
	if reader == nil {
		return model.Message{}, model.NewError(model.KindDecode, "message header could not be parsed", fmt.Errorf("seq %d: create mail reader returned nil", raw.SeqNum))
	}
	if err != nil {
		d.logger.Debug("mail reader created with charset warning", "seq", raw.SeqNum, "err", err)
	}
	defer reader.Close()

	msg := model.Message{
		SeqNum:  raw.SeqNum,
		ID:      messageID(reader.Header, raw.Raw),
		Sender:  sender(reader.Header),
		Subject: subject(reader.Header),
	}
	if date, err := reader.Header.Date(); err == nil && !date.IsZero() {
		msg.Timestamp = &date
	}

	if err := d.walkParts(reader, &msg); err != nil {
		if msg.BodyText == "" && msg.BodyHTML == "" {
			msg.BodyText = rawBody(raw.Raw)
		}
		d.logger.Debug("damaged MIME structure, keeping what was read", "seq", raw.SeqNum, "err", err)
	}

	msg.Snippet = d.snippet(msg)
	return msg, nil
}

// walkParts keeps the first text/plain and the first text/html inline part.
func (d *Decoder) walkParts(reader *mail.Reader, msg *model.Message) error {
	for {
		part, err := reader.NextPart()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil && !message.IsUnknownCharset(err) {
			return fmt.Errorf("next part: %w", err)
		}
		if part == nil {
			continue
		}

		h, ok := part.Header.(*mail.InlineHeader)
		if !ok {
			continue
		}
		contentType, _, ctErr := h.ContentType()
		if ctErr != nil || contentType == "" {
			contentType = "text/plain"
		}

		switch {
		case contentType == "text/plain" && msg.BodyText == "":
			body, err := readPart(part.Body)
			if err != nil {
				d.logger.Debug("error reading text/plain part", "err", err)
			}
			msg.BodyText = body
		case contentType == "text/html" && msg.BodyHTML == "":
			body, err := readPart(part.Body)
			if err != nil {
				d.logger.Debug("error reading text/html part", "err", err)
			}
			msg.BodyHTML = body
		}
	}
}

// rawBody returns the bytes after the header block, undecoded.
func rawBody(raw []byte) string {
	var body []byte
	if idx := bytes.Index(raw, []byte("\r\n\r\n")); idx >= 0 {
		body = raw[idx+4:]
	} else if idx := bytes.Index(raw, []byte("\n\n")); idx >= 0 {
		body = raw[idx+2:]
	}
	if len(body) > maxPartSize {
		body = body[:maxPartSize]
	}
	return strings.TrimSpace(string(body))
}

func readPart(r io.Reader) (string, error) {
	body, err := io.ReadAll(io.LimitReader(r, maxPartSize))
	return strings.TrimSpace(string(body)), err
}

func (d *Decoder) snippet(msg model.Message) string {
	text, err := TextBody(msg)
	if err != nil {
		d.logger.Debug("html conversion failed", "seq", msg.SeqNum, "err", err)
	}
	return Snippet(text, SnippetLength)
}

// TextBody returns the readable body of msg: BodyText, or BodyHTML
// converted to markdown for HTML-only mail.
func TextBody(msg model.Message) (string, error) {
	if msg.BodyText != "" || msg.BodyHTML == "" {
		return msg.BodyText, nil
	}
	md, err := htmltomarkdown.ConvertString(msg.BodyHTML)
	if err != nil {
		return "", fmt.Errorf("convert html body: %w", err)
	}
	return strings.TrimSpace(md), nil
}

// Snippet collapses whitespace in text and cuts it to at most n runes.
func Snippet(text string, n int) string {
	text = strings.Join(strings.FieldsFunc(text, unicode.IsSpace), " ")
	runes := []rune(text)
	if len(runes) <= n {
		return text
	}
	return string(runes[:n])
}

func messageID(h mail.Header, raw []byte) string {
	if id, err := h.MessageID(); err == nil && id != "" {
		return id
	}
	return uuid.NewSHA1(syntheticNamespace, raw).String()
}

func sender(h mail.Header) string {
	addrs, err := h.AddressList("From")
	if err == nil && len(addrs) > 0 {
		if name := strings.TrimSpace(addrs[0].Name); name != "" {
			return name
		}
		if addr := strings.TrimSpace(addrs[0].Address); addr != "" {
			return addr
		}
	}
	// Unparseable address lists still carry something readable.
	if rawFrom := strings.TrimSpace(h.Get("From")); rawFrom != "" {
		return rawFrom
	}
	return model.UnknownSender
}

func subject(h mail.Header) string {
	s, err := h.Subject()
	if err != nil {
		s = h.Get("Subject")
	}
	if s = strings.TrimSpace(s); s == "" {
		return model.NoSubject
	}
	return s
}
