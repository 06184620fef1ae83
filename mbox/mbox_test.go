package mbox

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	mboxlib "github.com/emersion/go-mbox"

	"github.com/dhcgn/inbox-assistant/model"
)

// writeMbox writes one message per body into a temporary mbox file.
func writeMbox(t *testing.T, messages ...string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.mbox")
	f, err := os.Create(path)
	if err != nil {
		t.Fatalf("create mbox: %v", err)
	}
	defer f.Close()

	w := mboxlib.NewWriter(f)
	base := time.Date(2025, time.March, 1, 9, 0, 0, 0, time.UTC)
	for i, msg := range messages {
		mw, err := w.CreateMessage("sender@example.com", base.Add(time.Duration(i)*time.Hour))
		if err != nil {
			t.Fatalf("create message %d: %v", i, err)
		}
		if _, err := mw.Write([]byte(msg)); err != nil {
			t.Fatalf("write message %d: %v", i, err)
		}
	}
	if err := w.Close(); err != nil {
		t.Fatalf("close mbox writer: %v", err)
	}
	return path
}

func message(n int) string {
	return fmt.Sprintf("From: Sender %d <s%d@example.com>\nSubject: message %d\nMessage-Id: <m%d@example.com>\n\nbody %d\n", n, n, n, n, n)
}

func openSession(t *testing.T, path string) *Session {
	t.Helper()
	src, err := NewSource(path, nil)
	if err != nil {
		t.Fatalf("NewSource() error = %v", err)
	}
	s, err := src.Open(context.Background(), model.Credentials{})
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestCountMessages(t *testing.T) {
	path := writeMbox(t, message(1), message(2), message(3))

	count, err := CountMessages(context.Background(), path)
	if err != nil {
		t.Fatalf("CountMessages() error = %v", err)
	}
	if count != 3 {
		t.Errorf("CountMessages() = %d, want 3", count)
	}
}

func TestCountMessages_Empty(t *testing.T) {
	path := filepath.Join(t.TempDir(), "empty.mbox")
	if err := os.WriteFile(path, nil, 0o644); err != nil {
		t.Fatal(err)
	}
	count, err := CountMessages(context.Background(), path)
	if err != nil {
		t.Fatalf("CountMessages() error = %v", err)
	}
	if count != 0 {
		t.Errorf("CountMessages() = %d, want 0", count)
	}
}

func TestSession_FetchRange(t *testing.T) {
	path := writeMbox(t, message(1), message(2), message(3), message(4))
	s := openSession(t, path)

	info, err := s.SelectFolder(context.Background(), "")
	if err != nil {
		t.Fatalf("SelectFolder() error = %v", err)
	}
	if info.MessageCount != 4 {
		t.Fatalf("MessageCount = %d, want 4", info.MessageCount)
	}
	if info.Name != model.DefaultFolder {
		t.Errorf("Name = %q, want %q", info.Name, model.DefaultFolder)
	}

	out := make(chan model.RawMessage, 4)
	if err := s.FetchRange(context.Background(), 3, 4, out); err != nil {
		t.Fatalf("FetchRange() error = %v", err)
	}
	close(out)

	var got []model.RawMessage
	for raw := range out {
		got = append(got, raw)
	}
	if len(got) != 2 {
		t.Fatalf("fetched %d messages, want 2", len(got))
	}
	for i, seq := range []uint32{3, 4} {
		if got[i].SeqNum != seq {
			t.Errorf("got[%d].SeqNum = %d, want %d", i, got[i].SeqNum, seq)
		}
		if want := fmt.Sprintf("Subject: message %d", seq); !strings.Contains(string(got[i].Raw), want) {
			t.Errorf("seq %d raw = %q, want it to contain %q", seq, got[i].Raw, want)
		}
	}
}

func TestSession_StateEnforced(t *testing.T) {
	path := writeMbox(t, message(1))
	s := openSession(t, path)

	if err := s.FetchRange(context.Background(), 1, 1, make(chan model.RawMessage, 1)); !errors.Is(err, ErrSessionState) {
		t.Errorf("FetchRange() before select error = %v, want ErrSessionState", err)
	}
	if _, err := s.SelectFolder(context.Background(), "INBOX"); err != nil {
		t.Fatalf("SelectFolder() error = %v", err)
	}
	if err := s.FetchRange(context.Background(), 1, 1, make(chan model.RawMessage, 1)); err != nil {
		t.Fatalf("FetchRange() error = %v", err)
	}
	if err := s.FetchRange(context.Background(), 1, 1, make(chan model.RawMessage, 1)); !errors.Is(err, ErrSessionState) {
		t.Errorf("second FetchRange() error = %v, want ErrSessionState", err)
	}
}

func TestSource_Open_Missing(t *testing.T) {
	src, err := NewSource(filepath.Join(t.TempDir(), "nope.mbox"), nil)
	if err != nil {
		t.Fatalf("NewSource() error = %v", err)
	}
	_, err = src.Open(context.Background(), model.Credentials{})
	if !model.IsKind(err, model.KindConnection) {
		t.Errorf("Open() error = %v, want connection error", err)
	}
}

func TestNewSource_EmptyPath(t *testing.T) {
	if _, err := NewSource("  ", nil); err == nil {
		t.Error("NewSource(\"\") error = nil, want error")
	}
}
