// Package mbox serves a local mbox file through the same single-use session
// contract as an IMAP mailbox, so the fetch pipeline runs offline.
package mbox

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"

	mboxlib "github.com/emersion/go-mbox"

	"github.com/dhcgn/inbox-assistant/model"
)

const maxRawMessageSize = 5 << 20

var (
	ErrSessionState = errors.New("invalid mbox session state")
	ErrInvalidRange = errors.New("invalid sequence range")
)

// Source opens sessions over one mbox file. The file stands in for a single
// folder; every folder name selects it.
type Source struct {
	path   string
	logger *slog.Logger
}

func NewSource(path string, logger *slog.Logger) (*Source, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, fmt.Errorf("mbox path is empty")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Source{path: path, logger: logger}, nil
}

// Open checks that the file is readable. Credentials are ignored.
func (s *Source) Open(_ context.Context, _ model.Credentials) (*Session, error) {
	info, err := os.Stat(s.path)
	if err != nil {
		return nil, model.NewError(model.KindConnection, "mailbox file could not be opened", fmt.Errorf("stat mbox: %w", err))
	}
	if info.IsDir() {
		return nil, model.NewError(model.KindConnection, "mailbox file could not be opened", fmt.Errorf("mbox %s is a directory", s.path))
	}
	return &Session{path: s.path, logger: s.logger.With("mbox", s.path)}, nil
}

type Session struct {
	path   string
	logger *slog.Logger

	mu       sync.Mutex
	selected bool
	fetching bool
	closed   bool
}

// SelectFolder counts the messages in the file.
func (s *Session) SelectFolder(ctx context.Context, name string) (model.FolderInfo, error) {
	s.mu.Lock()
	if s.closed || s.selected {
		s.mu.Unlock()
		return model.FolderInfo{}, ErrSessionState
	}
	s.selected = true
	s.mu.Unlock()

	if name == "" {
		name = model.DefaultFolder
	}

	count, err := CountMessages(ctx, s.path)
	if err != nil {
		s.Close()
		return model.FolderInfo{}, model.NewError(model.KindFolder, "mailbox file could not be read", err)
	}
	s.logger.Debug("folder selected", "folder", name, "messages", count)
	return model.FolderInfo{Name: name, MessageCount: count}, nil
}

// FetchRange emits messages low..high, 1-based in file order.
func (s *Session) FetchRange(ctx context.Context, low, high uint32, out chan<- model.RawMessage) error {
	s.mu.Lock()
	if s.closed || !s.selected || s.fetching {
		s.mu.Unlock()
		return ErrSessionState
	}
	s.fetching = true
	s.mu.Unlock()

	if low == 0 || low > high {
		s.Close()
		return fmt.Errorf("%w: %d:%d", ErrInvalidRange, low, high)
	}

	file, err := os.Open(s.path)
	if err != nil {
		s.Close()
		return model.NewError(model.KindConnection, "mailbox file could not be opened", fmt.Errorf("open mbox: %w", err))
	}
	defer file.Close()

	reader := mboxlib.NewReader(file)
	for seq := uint32(1); seq <= high; seq++ {
		if err := ctx.Err(); err != nil {
			return model.NewError(model.KindConnection, "mailbox request was cancelled", err)
		}

		msgReader, err := reader.NextMessage()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return model.NewError(model.KindConnection, "mailbox file is corrupted", fmt.Errorf("message %d: %w", seq, err))
		}
		if seq < low {
			_, _ = io.Copy(io.Discard, msgReader)
			continue
		}

		raw, err := io.ReadAll(io.LimitReader(msgReader, maxRawMessageSize))
		_, _ = io.Copy(io.Discard, msgReader)
		if err != nil {
			s.logger.Warn("error reading message", "seq", seq, "err", err)
			raw = nil
		}

		select {
		case out <- model.RawMessage{SeqNum: seq, Raw: raw}:
		case <-ctx.Done():
			return model.NewError(model.KindConnection, "mailbox request was cancelled", ctx.Err())
		}
	}
	return nil
}

func (s *Session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

// CountMessages counts the messages in an mbox file without parsing them.
func CountMessages(ctx context.Context, path string) (uint32, error) {
	file, err := os.Open(path)
	if err != nil {
		return 0, fmt.Errorf("open mbox: %w", err)
	}
	defer file.Close()

	reader := mboxlib.NewReader(file)
	var count uint32
	for {
		if err := ctx.Err(); err != nil {
			return 0, err
		}
		msgReader, err := reader.NextMessage()
		if err != nil {
			if errors.Is(err, io.EOF) {
				return count, nil
			}
			return 0, err
		}
		// Just consume the message without parsing
		_, _ = io.Copy(io.Discard, msgReader)
		count++
	}
}
