package cmd

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/dhcgn/inbox-assistant/filter"
	"github.com/dhcgn/inbox-assistant/model"
	"github.com/dhcgn/inbox-assistant/stats"
)

const (
	reportSender  = "Sender"
	reportSubject = "Subject"
)

var reportCategories = []string{reportSender, reportSubject}

type fetchFlags struct {
	top        int
	reportDir  string
	compact    bool
	filterOpts filter.Options
}

func newFetchCommand() *cobra.Command {
	flags := &fetchFlags{}

	c := &cobra.Command{
		Use:   "fetch",
		Short: "Fetch the latest messages and print them as JSON",
		Args:  cobra.NoArgs,
		RunE: func(c *cobra.Command, args []string) error {
			cfg, logger, cleanup, err := setup(c)
			if err != nil {
				return err
			}
			defer func() {
				_ = cleanup()
			}()

			if err := cfg.RequireMailbox(); err != nil {
				return err
			}
			f, err := filter.New(flags.filterOpts)
			if err != nil {
				return err
			}
			coordinator, err := newCoordinator(cfg, logger)
			if err != nil {
				return err
			}

			ctx, cancel := context.WithTimeout(c.Context(), cfg.RequestTimeout)
			defer cancel()

			result, err := coordinator.FetchLatest(ctx, model.FetchRequest{
				Credentials: credentials(cfg),
				Folder:      cfg.Folder,
				WindowSize:  cfg.Window,
			})
			if err != nil {
				return err
			}

			messages := f.Apply(result.Messages)
			if f.Active() {
				logger.Info("filter applied", "kept", len(messages), "dropped", len(result.Messages)-len(messages))
			}

			out := c.OutOrStdout()
			if err := writeMessages(out, messages, flags.compact); err != nil {
				return err
			}

			counter := countCategories(messages)
			if flags.top > 0 {
				fmt.Fprintf(c.ErrOrStderr(), "\nTop %d senders:\n", flags.top)
				stats.PrettyPrintTop(c.ErrOrStderr(), counter[reportSender], flags.top)
			}
			if flags.reportDir != "" {
				limit := flags.top
				if limit <= 0 {
					limit = len(messages)
				}
				if err := saveCSVReports(counter, reportCategories, flags.reportDir, limit); err != nil {
					return fmt.Errorf("write reports: %w", err)
				}
				logger.Info("reports written", "dir", flags.reportDir)
			}
			return nil
		},
	}

	c.Flags().IntVar(&flags.top, "top", 0, "Print the N most frequent senders to stderr")
	c.Flags().StringVar(&flags.reportDir, "report-dir", "", "Write sender and subject CSV reports to this directory")
	c.Flags().BoolVar(&flags.compact, "compact", false, "Print JSON without indentation")
	c.Flags().StringSliceVar(&flags.filterOpts.IncludeHeader, "include-header", nil, "Keep only messages whose From/Subject/Date lines match (regex, repeatable)")
	c.Flags().StringSliceVar(&flags.filterOpts.IncludeBody, "include-body", nil, "Keep only messages whose body matches (regex, repeatable)")
	c.Flags().StringSliceVar(&flags.filterOpts.ExcludeHeader, "exclude-header", nil, "Drop messages whose From/Subject/Date lines match (regex, repeatable)")
	c.Flags().StringSliceVar(&flags.filterOpts.ExcludeBody, "exclude-body", nil, "Drop messages whose body matches (regex, repeatable)")
	return c
}

func writeMessages(w io.Writer, messages []model.Message, compact bool) error {
	enc := json.NewEncoder(w)
	if !compact {
		enc.SetIndent("", "  ")
	}
	if messages == nil {
		messages = []model.Message{}
	}
	return enc.Encode(messages)
}

func countCategories(messages []model.Message) map[string]map[string]int {
	counter := make(map[string]map[string]int, len(reportCategories))
	for _, category := range reportCategories {
		counter[category] = make(map[string]int)
	}
	for _, msg := range messages {
		counter[reportSender][msg.Sender]++
		counter[reportSubject][msg.Subject]++
	}
	return counter
}

func saveCSVReports(counter map[string]map[string]int, categories []string, dir string, limit int) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}

	for _, category := range categories {
		filename := fmt.Sprintf("report_%s.csv", normalizeHeaderName(category))
		file, err := os.Create(filepath.Join(dir, filename))
		if err != nil {
			return err
		}

		writer := csv.NewWriter(file)
		if err := writer.Write([]string{"Value", "Count"}); err != nil {
			file.Close()
			return err
		}
		for _, p := range stats.Top(counter[category], limit) {
			if err := writer.Write([]string{p.Key, strconv.Itoa(p.Value)}); err != nil {
				file.Close()
				return err
			}
		}

		writer.Flush()
		if err := writer.Error(); err != nil {
			file.Close()
			return err
		}
		if err := file.Close(); err != nil {
			return err
		}
	}

	return nil
}

func normalizeHeaderName(header string) string {
	name := strings.ToLower(header)
	name = strings.ReplaceAll(name, "-", "_")
	name = strings.ReplaceAll(name, " ", "_")
	return name
}
