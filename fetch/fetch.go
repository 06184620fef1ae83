// Package fetch drives one mailbox session through a fetch of the most
// recent messages of a folder and decodes them concurrently.
package fetch

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/dhcgn/inbox-assistant/model"
	"github.com/dhcgn/inbox-assistant/stats"
)

// Mailbox is a single-use session: select one folder, fetch one range,
// close. Close must be safe to call more than once.
type Mailbox interface {
	SelectFolder(ctx context.Context, name string) (model.FolderInfo, error)
	FetchRange(ctx context.Context, low, high uint32, out chan<- model.RawMessage) error
	Close() error
}

// OpenFunc opens a new authenticated Mailbox.
type OpenFunc func(ctx context.Context, creds model.Credentials) (Mailbox, error)

type Decoder interface {
	Decode(raw model.RawMessage) (model.Message, error)
}

type Coordinator struct {
	open    OpenFunc
	decoder Decoder
	logger  *slog.Logger
}

func New(open OpenFunc, decoder Decoder, logger *slog.Logger) *Coordinator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Coordinator{open: open, decoder: decoder, logger: logger}
}

// SequenceRange returns the inclusive range holding the window most recent
// of total messages. Both bounds are zero when total is zero.
func SequenceRange(total uint32, window int) (low, high uint32) {
	if total == 0 {
		return 0, 0
	}
	if window < 1 {
		window = 1
	}
	if uint64(window) >= uint64(total) {
		return 1, total
	}
	return total - uint32(window) + 1, total
}

// FetchLatest returns the req.WindowSize most recent messages of req.Folder,
// newest first. Messages that fail to decode are logged and left out.
// Open, select and fetch failures are returned with no messages. The
// mailbox is closed before FetchLatest returns on every path.
func (c *Coordinator) FetchLatest(ctx context.Context, req model.FetchRequest) (model.FetchResult, error) {
	if req.WindowSize < 1 {
		return model.FetchResult{}, model.NewError(model.KindValidation, "window size must be at least 1", nil)
	}
	folder := req.Folder
	if folder == "" {
		folder = model.DefaultFolder
	}

	mb, err := c.open(ctx, req.Credentials)
	if err != nil {
		return model.FetchResult{}, classify(err, model.KindConnection, "could not open the mailbox")
	}
	defer func() {
		if err := mb.Close(); err != nil {
			c.logger.Debug("mailbox close", "err", err)
		}
	}()

	info, err := mb.SelectFolder(ctx, folder)
	if err != nil {
		return model.FetchResult{}, classify(err, model.KindFolder, fmt.Sprintf("folder %q is not available", folder))
	}
	if info.MessageCount == 0 {
		c.logger.Info("folder is empty", "folder", folder)
		return model.FetchResult{Messages: []model.Message{}}, nil
	}

	low, high := SequenceRange(info.MessageCount, req.WindowSize)
	collector := stats.NewCollector(folder)
	collector.SetRange(info.MessageCount, low, high)

	raws := make(chan model.RawMessage, high-low+1)
	fetchErr := make(chan error, 1)
	go func() {
		defer close(raws)
		fetchErr <- mb.FetchRange(ctx, low, high, raws)
	}()

	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		messages = make([]model.Message, 0, high-low+1)
	)
	for raw := range raws {
		collector.Record(stats.Event{Type: stats.EventTypeFetched, SeqNum: raw.SeqNum})
		wg.Add(1)
		go func() {
			defer wg.Done()
			msg, err := c.decoder.Decode(raw)
			if err != nil {
				c.logger.Warn("message skipped", "seq", raw.SeqNum, "err", err)
				collector.Record(stats.Event{Type: stats.EventTypeDecodeFailed, SeqNum: raw.SeqNum, Err: err})
				return
			}
			collector.Record(stats.Event{Type: stats.EventTypeDecoded, SeqNum: raw.SeqNum})
			mu.Lock()
			messages = append(messages, msg)
			mu.Unlock()
		}()
	}
	wg.Wait()

	if err := <-fetchErr; err != nil {
		collector.Record(stats.Event{Type: stats.EventTypeError, Err: err})
		c.logger.Error("fetch failed", append(collector.Snapshot().LogAttrs(), "err", err)...)
		return model.FetchResult{}, classify(err, model.KindConnection, "fetching messages failed")
	}

	// Arrival and decode order are arbitrary; sequence numbers are not.
	sort.Slice(messages, func(i, j int) bool {
		return messages[i].SeqNum > messages[j].SeqNum
	})

	summary := collector.Snapshot()
	c.logger.Info("fetch summary", summary.LogAttrs()...)

	return model.FetchResult{
		Messages: messages,
		Low:      low,
		High:     high,
		Skipped:  summary.DecodeFailed,
	}, nil
}

// classify keeps an already classified error and wraps anything else as
// kind with a caller-safe message.
func classify(err error, kind model.Kind, message string) error {
	if _, ok := model.KindOf(err); ok {
		return err
	}
	return model.NewError(kind, message, err)
}
