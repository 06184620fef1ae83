// Package imap implements a single-use, read-only IMAP mailbox session:
// connect, select one folder, fetch one sequence range, close.
package imap

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"strconv"
	"sync"
	"time"

	imapv2 "github.com/emersion/go-imap/v2"
	"github.com/emersion/go-imap/v2/imapclient"
	"github.com/emersion/go-sasl"

	"github.com/dhcgn/inbox-assistant/model"
)

const (
	dialTimeout = 15 * time.Second

	// maxRawMessageSize bounds a single fetched literal; the remainder is
	// drained so the connection stays in sync.
	maxRawMessageSize = 5 << 20
)

// logoutTimeout bounds the LOGOUT exchange in Close; the connection is
// dropped when the server does not answer in time.
var logoutTimeout = 5 * time.Second

var (
	ErrSessionState = errors.New("invalid session state")
	ErrInvalidRange = errors.New("invalid sequence range")
)

type AuthMethod string

const (
	AuthLogin AuthMethod = "login"
	AuthPlain AuthMethod = "plain"
)

type Options struct {
	Host string
	Port int
	Auth AuthMethod
	// InsecureSkipVerify disables certificate validation. TLS itself is
	// never optional.
	InsecureSkipVerify bool
}

// dialConn opens the transport connection. Tests swap it for a plain TCP
// dial against an in-process server.
var dialConn = func(ctx context.Context, address string, cfg *tls.Config) (net.Conn, error) {
	d := &tls.Dialer{
		NetDialer: &net.Dialer{Timeout: dialTimeout},
		Config:    cfg,
	}
	return d.DialContext(ctx, "tcp", address)
}

// Dialer opens sessions against one configured server.
type Dialer struct {
	opts   Options
	logger *slog.Logger
}

func NewDialer(opts Options, logger *slog.Logger) (*Dialer, error) {
	if opts.Host == "" {
		return nil, fmt.Errorf("imap host is empty")
	}
	if opts.Port <= 0 {
		return nil, fmt.Errorf("imap port must be positive")
	}
	switch opts.Auth {
	case "":
		opts.Auth = AuthLogin
	case AuthLogin, AuthPlain:
	default:
		return nil, fmt.Errorf("unsupported imap auth method %q", opts.Auth)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Dialer{opts: opts, logger: logger}, nil
}

// Open connects and authenticates. The returned session is Connected; on
// error the connection has already been released.
func (d *Dialer) Open(ctx context.Context, creds model.Credentials) (*Session, error) {
	if creds.Username == "" {
		return nil, model.NewError(model.KindValidation, "mailbox username is required", nil)
	}

	address := net.JoinHostPort(d.opts.Host, strconv.Itoa(d.opts.Port))
	tlsConfig := &tls.Config{
		ServerName:         d.opts.Host,
		InsecureSkipVerify: d.opts.InsecureSkipVerify, //nolint:gosec // explicit opt-in
	}

	conn, err := dialConn(ctx, address, tlsConfig)
	if err != nil {
		return nil, model.NewError(model.KindConnection, "could not reach the mail server", fmt.Errorf("dial imap %s: %w", address, err))
	}

	client := imapclient.New(conn, &imapclient.Options{TLSConfig: tlsConfig})
	if err := client.WaitGreeting(); err != nil {
		_ = client.Close()
		return nil, model.NewError(model.KindConnection, "mail server did not greet", fmt.Errorf("imap greeting %s: %w", address, err))
	}

	if err := d.authenticate(client, creds); err != nil {
		_ = client.Close()
		var respErr *imapv2.Error
		if errors.As(err, &respErr) {
			return nil, model.NewError(model.KindAuth, "mail server rejected the credentials", fmt.Errorf("imap login as %s: %w", creds.Username, err))
		}
		return nil, model.NewError(model.KindConnection, "connection lost during login", fmt.Errorf("imap login as %s: %w", creds.Username, err))
	}

	s := &Session{
		client: client,
		logger: d.logger.With("address", address, "user", creds.Username),
		state:  StateConnected,
		done:   ctx.Done(),
	}
	s.stopClose = context.AfterFunc(ctx, func() {
		_ = client.Close()
	})

	s.logger.Debug("imap connection established", "auth", d.opts.Auth, "insecureSkipVerify", d.opts.InsecureSkipVerify)
	return s, nil
}

func (d *Dialer) authenticate(client *imapclient.Client, creds model.Credentials) error {
	if d.opts.Auth == AuthPlain {
		return client.Authenticate(sasl.NewPlainClient("", creds.Username, creds.Password))
	}
	return client.Login(creds.Username, creds.Password).Wait()
}

// Session is one authenticated connection. It serves a single fetch and is
// not safe for concurrent use beyond Close, which may be called from any
// goroutine and any number of times.
type Session struct {
	client    *imapclient.Client
	logger    *slog.Logger
	stopClose func() bool
	done      <-chan struct{}

	mu    sync.Mutex
	state State

	closeOnce sync.Once
}

func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// transition moves from one state to the next, failing when the session is
// anywhere else.
func (s *Session) transition(from, to State) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != from {
		return fmt.Errorf("%w: %s -> %s from %s", ErrSessionState, from, to, s.state)
	}
	s.state = to
	return nil
}

// SelectFolder opens name read-only and reports its message count. Any
// failure closes the session.
func (s *Session) SelectFolder(ctx context.Context, name string) (model.FolderInfo, error) {
	if err := s.transition(StateConnected, StateFolderSelected); err != nil {
		return model.FolderInfo{}, err
	}
	if name == "" {
		name = model.DefaultFolder
	}

	data, err := s.client.Select(name, &imapv2.SelectOptions{ReadOnly: true}).Wait()
	if err != nil {
		s.Close()
		if ctx.Err() != nil {
			return model.FolderInfo{}, model.NewError(model.KindConnection, "mailbox request was cancelled", ctx.Err())
		}
		var respErr *imapv2.Error
		if errors.As(err, &respErr) {
			return model.FolderInfo{}, model.NewError(model.KindFolder, fmt.Sprintf("folder %q is not available", name), fmt.Errorf("select %s: %w", name, err))
		}
		return model.FolderInfo{}, model.NewError(model.KindConnection, "connection lost while opening folder", fmt.Errorf("select %s: %w", name, err))
	}

	s.logger.Debug("folder selected", "folder", name, "messages", data.NumMessages)
	return model.FolderInfo{Name: name, MessageCount: data.NumMessages}, nil
}

// FetchRange streams the full body of every message in [low, high] to out,
// in server order. It does not close out. A returned error is fatal for the
// fetch and leaves the session closed.
func (s *Session) FetchRange(ctx context.Context, low, high uint32, out chan<- model.RawMessage) error {
	if err := s.transition(StateFolderSelected, StateFetching); err != nil {
		return err
	}
	if low == 0 || low > high {
		s.Close()
		return fmt.Errorf("%w: %d:%d", ErrInvalidRange, low, high)
	}

	var seqSet imapv2.SeqSet
	seqSet.AddRange(low, high)
	cmd := s.client.Fetch(seqSet, &imapv2.FetchOptions{
		BodySection: []*imapv2.FetchItemBodySection{{Peek: true}},
	})

	for {
		msg := cmd.Next()
		if msg == nil {
			break
		}

		raw := model.RawMessage{SeqNum: msg.SeqNum}
		for {
			item := msg.Next()
			if item == nil {
				break
			}
			body, ok := item.(imapclient.FetchItemDataBodySection)
			if !ok || body.Literal == nil {
				continue
			}
			// The literal must be consumed before advancing the stream.
			data, err := io.ReadAll(io.LimitReader(body.Literal, maxRawMessageSize))
			_, _ = io.Copy(io.Discard, body.Literal)
			if err != nil {
				s.logger.Warn("error reading message literal", "seq", msg.SeqNum, "err", err)
				continue
			}
			raw.Raw = data
		}

		select {
		case out <- raw:
		case <-ctx.Done():
			_ = cmd.Close()
			s.Close()
			return model.NewError(model.KindConnection, "mailbox request was cancelled", ctx.Err())
		}
	}

	if err := cmd.Close(); err != nil {
		s.Close()
		return model.NewError(model.KindConnection, "fetching messages failed", fmt.Errorf("fetch %d:%d: %w", low, high, err))
	}
	return nil
}

// Close logs out and releases the connection. Only the first call does
// any work.
func (s *Session) Close() error {
	var err error
	s.closeOnce.Do(func() {
		s.mu.Lock()
		prev := s.state
		s.state = StateClosed
		s.mu.Unlock()

		// Once the context is done its AfterFunc owns the connection and a
		// logout would only wait on a dead socket.
		select {
		case <-s.done:
		default:
			timer := time.AfterFunc(logoutTimeout, func() {
				_ = s.client.Close()
			})
			if lerr := s.client.Logout().Wait(); lerr != nil {
				s.logger.Debug("imap logout failed", "err", lerr)
			}
			if !timer.Stop() {
				s.logger.Warn("imap logout timed out, connection dropped", "timeout", logoutTimeout)
			}
		}
		s.stopClose()
		if err = s.client.Close(); err != nil {
			s.logger.Debug("imap connection closed", "err", err)
		}
		s.logger.Debug("imap session closed", "from", prev)
	})
	return err
}
