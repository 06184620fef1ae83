package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/dhcgn/inbox-assistant/decoder"
	"github.com/dhcgn/inbox-assistant/model"
	"github.com/dhcgn/inbox-assistant/prompt"
)

func newReplyCommand() *cobra.Command {
	var (
		req   model.ReplyRequest
		index int
	)

	c := &cobra.Command{
		Use:   "reply",
		Short: "Draft a reply to an email with Gemini",
		Long: `Draft a reply either to the email given by --subject and --body, or to
the message at --index (0 is the newest) of a fresh fetch.`,
		Args: cobra.NoArgs,
		RunE: func(c *cobra.Command, args []string) error {
			cfg, logger, cleanup, err := setup(c)
			if err != nil {
				return err
			}
			defer func() {
				_ = cleanup()
			}()

			if err := cfg.RequireGenerator(); err != nil {
				return err
			}

			if index >= 0 {
				if err := cfg.RequireMailbox(); err != nil {
					return err
				}
				coordinator, err := newCoordinator(cfg, logger)
				if err != nil {
					return err
				}
				fetchCtx, cancel := context.WithTimeout(c.Context(), cfg.RequestTimeout)
				result, err := coordinator.FetchLatest(fetchCtx, model.FetchRequest{
					Credentials: credentials(cfg),
					Folder:      cfg.Folder,
					WindowSize:  max(cfg.Window, index+1),
				})
				cancel()
				if err != nil {
					return err
				}
				if index >= len(result.Messages) {
					return model.NewError(model.KindValidation,
						fmt.Sprintf("--index %d is out of range, %d messages fetched", index, len(result.Messages)), nil)
				}
				picked := result.Messages[index]
				req.Subject = picked.Subject
				req.Sender = picked.Sender
				body, err := decoder.TextBody(picked)
				if err != nil {
					logger.Warn("html body conversion failed, using raw html", "seq", picked.SeqNum, "err", err)
					body = picked.BodyHTML
				}
				req.Body = body
				logger.Info("replying to fetched message", "seq", picked.SeqNum, "subject", picked.Subject)
			}

			normalized, err := prompt.Normalize(req)
			if err != nil {
				return err
			}
			text, err := prompt.BuildRequest(normalized)
			if err != nil {
				return err
			}
			logger.Debug("prompt rendered", "tone", normalized.Tone, "chars", len(text))

			generator, err := newGenerator(cfg, logger)
			if err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(c.Context(), cfg.RequestTimeout)
			defer cancel()

			reply, err := generator.Generate(ctx, text)
			if err != nil {
				return err
			}
			if reply == "" {
				logger.Warn("no reply text was generated")
				return nil
			}
			_, err = fmt.Fprintln(c.OutOrStdout(), reply)
			return err
		},
	}

	c.Flags().StringVar(&req.Subject, "subject", "", "Subject of the email to reply to")
	c.Flags().StringVar(&req.Body, "body", "", "Body of the email to reply to")
	c.Flags().StringVar(&req.Sender, "sender", "", "Sender of the email to reply to")
	c.Flags().StringVar(&req.Tone, "tone", prompt.DefaultTone, "Reply tone, e.g. formal, friendly, apologetic, thankful, neutral")
	c.Flags().IntVar(&index, "index", -1, "Reply to the fetched message at this position instead of --subject/--body")
	return c
}
