package cmd

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	mboxlib "github.com/emersion/go-mbox"

	"github.com/dhcgn/inbox-assistant/config"
	"github.com/dhcgn/inbox-assistant/model"
)

func writeMbox(t *testing.T, messages ...string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "inbox.mbox")
	f, err := os.Create(path)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()

	w := mboxlib.NewWriter(f)
	for i, m := range messages {
		mw, err := w.CreateMessage("x@example.com", time.Unix(int64(i), 0))
		if err != nil {
			t.Fatal(err)
		}
		if _, err := io.WriteString(mw, m); err != nil {
			t.Fatal(err)
		}
	}
	if err := w.Close(); err != nil {
		t.Fatal(err)
	}
	return path
}

func fixture(t *testing.T) string {
	return writeMbox(t,
		"From: Ann <ann@example.com>\nSubject: Invoice 1\n\nplease pay\n",
		"From: Ben <ben@example.com>\nSubject: Lunch\n\nnoon?\n",
		"From: Ann <ann@example.com>\nSubject: Invoice 2\n\nreminder\n",
	)
}

func run(t *testing.T, stdin string, args ...string) (string, string, error) {
	t.Helper()
	root, err := NewRootCommand()
	if err != nil {
		t.Fatalf("NewRootCommand() error = %v", err)
	}
	var out, errOut bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&errOut)
	root.SetIn(strings.NewReader(stdin))
	root.SetArgs(args)
	err = root.Execute()
	return out.String(), errOut.String(), err
}

func geminiServer(t *testing.T, reply string, gotPrompt *string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			Contents []struct {
				Parts []struct {
					Text string `json:"text"`
				} `json:"parts"`
			} `json:"contents"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Errorf("decode request: %v", err)
			http.Error(w, "bad request", http.StatusBadRequest)
			return
		}
		if gotPrompt != nil && len(body.Contents) > 0 && len(body.Contents[0].Parts) > 0 {
			*gotPrompt = body.Contents[0].Parts[0].Text
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"candidates": []any{
				map[string]any{"content": map[string]any{"parts": []any{map[string]any{"text": reply}}}},
			},
		})
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestFetchCommand_PrintsJSON(t *testing.T) {
	out, _, err := run(t, "", "fetch", "--mbox", fixture(t), "--window", "2")
	if err != nil {
		t.Fatalf("fetch error = %v", err)
	}

	var got []model.Message
	if err := json.Unmarshal([]byte(out), &got); err != nil {
		t.Fatalf("output is not JSON: %v\n%s", err, out)
	}
	if len(got) != 2 {
		t.Fatalf("got %d messages, want 2", len(got))
	}
	if got[0].SeqNum != 3 || got[0].Subject != "Invoice 2" || got[1].Subject != "Lunch" {
		t.Errorf("got %+v, want seq 3 Invoice 2 then Lunch", got)
	}
}

func TestFetchCommand_FilterAndReports(t *testing.T) {
	dir := t.TempDir()
	out, errOut, err := run(t, "", "fetch", "--mbox", fixture(t), "--compact",
		"--include-header", "^From: Ann", "--top", "1", "--report-dir", dir)
	if err != nil {
		t.Fatalf("fetch error = %v", err)
	}

	var got []model.Message
	if err := json.Unmarshal([]byte(out), &got); err != nil {
		t.Fatalf("output is not JSON: %v", err)
	}
	if len(got) != 2 || got[0].Sender != "Ann" || got[1].Sender != "Ann" {
		t.Fatalf("filtered = %+v, want two messages from Ann", got)
	}
	if !strings.Contains(errOut, "1. Ann (2)") {
		t.Errorf("stderr = %q, want top sender line", errOut)
	}

	f, err := os.Open(filepath.Join(dir, "report_sender.csv"))
	if err != nil {
		t.Fatalf("open report: %v", err)
	}
	defer f.Close()
	rows, err := csv.NewReader(f).ReadAll()
	if err != nil {
		t.Fatal(err)
	}
	if len(rows) != 2 || rows[1][0] != "Ann" || rows[1][1] != "2" {
		t.Errorf("report rows = %v", rows)
	}
	if _, err := os.Stat(filepath.Join(dir, "report_subject.csv")); err != nil {
		t.Errorf("subject report missing: %v", err)
	}
}

func TestFetchCommand_InvalidFilter(t *testing.T) {
	_, _, err := run(t, "", "fetch", "--mbox", fixture(t), "--include-body", "(")
	if !model.IsKind(err, model.KindValidation) {
		t.Fatalf("error = %v, want validation error", err)
	}
}

func TestFetchCommand_RequiresMailbox(t *testing.T) {
	t.Setenv("INBOX_IMAP_HOST", "")
	t.Setenv("INBOX_MBOX", "")
	_, _, err := run(t, "", "fetch")
	if err == nil || !strings.Contains(err.Error(), "imap-host") {
		t.Fatalf("error = %v, want missing imap-host", err)
	}
}

func TestReplyCommand_FromFlags(t *testing.T) {
	var prompt string
	srv := geminiServer(t, "Thanks, **Ann**!", &prompt)

	out, _, err := run(t, "", "reply",
		"--gemini-endpoint", srv.URL, "--gemini-api-key", "k",
		"--subject", "Hello", "--body", "Are you free?", "--tone", "friendly")
	if err != nil {
		t.Fatalf("reply error = %v", err)
	}
	if strings.TrimSpace(out) != "Thanks, **Ann**!" {
		t.Errorf("out = %q", out)
	}
	if !strings.Contains(prompt, "Are you free?") || !strings.Contains(prompt, "friendly") {
		t.Errorf("prompt = %q, want body and tone", prompt)
	}
}

func TestReplyCommand_FromIndex(t *testing.T) {
	var prompt string
	srv := geminiServer(t, "Sure, noon works.", &prompt)

	out, _, err := run(t, "", "reply", "--mbox", fixture(t), "--index", "1",
		"--gemini-endpoint", srv.URL, "--gemini-api-key", "k")
	if err != nil {
		t.Fatalf("reply error = %v", err)
	}
	if !strings.Contains(out, "noon works") {
		t.Errorf("out = %q", out)
	}
	for _, want := range []string{"Subject: Lunch", "From: Ben", "noon?"} {
		if !strings.Contains(prompt, want) {
			t.Errorf("prompt missing %q:\n%s", want, prompt)
		}
	}
}

func TestReplyCommand_FromIndexHTMLOnly(t *testing.T) {
	var prompt string
	srv := geminiServer(t, "Noted.", &prompt)

	tail := strings.Repeat("more details follow here ", 8) + "END-OF-MAIL"
	path := writeMbox(t,
		"From: News <news@example.com>\nSubject: Weekly\nContent-Type: text/html\n\n<h1>Weekly</h1><p>"+tail+"</p>\n",
	)

	if _, _, err := run(t, "", "reply", "--mbox", path, "--index", "0",
		"--gemini-endpoint", srv.URL, "--gemini-api-key", "k"); err != nil {
		t.Fatalf("reply error = %v", err)
	}
	if !strings.Contains(prompt, "END-OF-MAIL") {
		t.Errorf("prompt lost the end of the html body:\n%s", prompt)
	}
	if strings.Contains(prompt, "<p>") {
		t.Errorf("prompt still carries markup:\n%s", prompt)
	}
}

func TestReplyCommand_RequestTimeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(5 * time.Second):
		}
	}))
	t.Cleanup(srv.Close)

	start := time.Now()
	_, _, err := run(t, "", "reply", "--subject", "s", "--body", "b", "--request-timeout", "100ms",
		"--gemini-endpoint", srv.URL, "--gemini-api-key", "k")
	if !model.IsKind(err, model.KindTransport) {
		t.Fatalf("error = %v, want transport error", err)
	}
	if elapsed := time.Since(start); elapsed > 3*time.Second {
		t.Errorf("reply took %v, want it bounded by --request-timeout", elapsed)
	}
}

func TestReplyCommand_IndexOutOfRange(t *testing.T) {
	srv := geminiServer(t, "unused", nil)
	_, _, err := run(t, "", "reply", "--mbox", fixture(t), "--index", "7", "--window", "3",
		"--gemini-endpoint", srv.URL, "--gemini-api-key", "k")
	if !model.IsKind(err, model.KindValidation) {
		t.Fatalf("error = %v, want validation error", err)
	}
}

func TestReplyCommand_EmptyReply(t *testing.T) {
	srv := geminiServer(t, "", nil)
	out, _, err := run(t, "", "reply", "--subject", "s", "--body", "b",
		"--gemini-endpoint", srv.URL, "--gemini-api-key", "k")
	if err != nil {
		t.Fatalf("reply error = %v", err)
	}
	if out != "" {
		t.Errorf("out = %q, want nothing", out)
	}
}

func TestReplyCommand_MissingBody(t *testing.T) {
	srv := geminiServer(t, "unused", nil)
	_, _, err := run(t, "", "reply", "--subject", "s",
		"--gemini-endpoint", srv.URL, "--gemini-api-key", "k")
	if !model.IsKind(err, model.KindValidation) {
		t.Fatalf("error = %v, want validation error", err)
	}
}

type memStore map[string]string

func (m memStore) Set(key, value string) error {
	m[key] = value
	return nil
}

func (m memStore) Delete(key string) error {
	if _, ok := m[key]; !ok {
		return errors.New("not found")
	}
	delete(m, key)
	return nil
}

func TestCredentialsCommand(t *testing.T) {
	store := memStore{}
	orig := openStore
	openStore = func() (secretStore, error) { return store, nil }
	t.Cleanup(func() { openStore = orig })

	out, _, err := run(t, "s3cret\n", "credentials", "set", "imap-password")
	if err != nil {
		t.Fatalf("set error = %v", err)
	}
	if store["imap-password"] != "s3cret" || !strings.Contains(out, "stored imap-password") {
		t.Fatalf("store = %v, out = %q", store, out)
	}

	if _, _, err := run(t, "", "credentials", "set", "imap-password"); !model.IsKind(err, model.KindValidation) {
		t.Errorf("empty secret error = %v, want validation error", err)
	}

	if _, _, err := run(t, "", "credentials", "delete", "imap-password"); err != nil {
		t.Fatalf("delete error = %v", err)
	}
	if _, ok := store["imap-password"]; ok {
		t.Error("secret still stored after delete")
	}
}

func TestSetupLogger_LogDir(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "logs")
	var stderr bytes.Buffer
	logger, cleanup, err := setupLogger(config.Config{LogLevel: "warn", LogDir: dir}, &stderr)
	if err != nil {
		t.Fatalf("setupLogger() error = %v", err)
	}

	logger.Info("hidden")
	logger.Warn("visible")
	if err := cleanup(); err != nil {
		t.Fatal(err)
	}

	entries, err := os.ReadDir(dir)
	if err != nil || len(entries) != 1 {
		t.Fatalf("log dir entries = %v, err = %v", entries, err)
	}
	data, err := os.ReadFile(filepath.Join(dir, entries[0].Name()))
	if err != nil {
		t.Fatal(err)
	}
	for _, got := range []string{stderr.String(), string(data)} {
		if !strings.Contains(got, "visible") || strings.Contains(got, "hidden") {
			t.Errorf("log output = %q", got)
		}
	}
}
