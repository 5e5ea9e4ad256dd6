package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/Alexander-D-Karpov/huddle/internal/client"
	"github.com/Alexander-D-Karpov/huddle/internal/messaging"
	"github.com/Alexander-D-Karpov/huddle/internal/reconcile"
	"github.com/Alexander-D-Karpov/huddle/internal/retry"
)

func newHistoryCmd(flags *globalFlags) *cobra.Command {
	var (
		cursor string
		limit  int
	)

	cmd := &cobra.Command{
		Use:   "history",
		Short: "Print a page of messages, oldest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			api, err := flags.api()
			if err != nil {
				return err
			}

			var before *int64
			if cursor != "" {
				id, err := parseID(cursor)
				if err != nil {
					return err
				}
				before = &id
			}

			page, err := api.Page(cmd.Context(), before, limit)
			if err != nil {
				return err
			}
			for _, msg := range page {
				printMessage(cmd.OutOrStdout(), msg)
			}
			if len(page) > 0 {
				fmt.Fprintf(cmd.ErrOrStderr(), "older: --cursor %d\n", page[0].ID)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&cursor, "cursor", "", "only messages older than this id")
	cmd.Flags().IntVar(&limit, "limit", 50, "page size (1-100)")
	return cmd
}

func newSendCmd(flags *globalFlags) *cobra.Command {
	var (
		image    string
		audio    string
		stickers []string
		replyTo  string
	)

	cmd := &cobra.Command{
		Use:   "send [text]",
		Short: "Post a message",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			api, err := flags.api()
			if err != nil {
				return err
			}

			req := messaging.SendRequest{
				Image:    image,
				Audio:    audio,
				Stickers: stickers,
			}
			if len(args) == 1 {
				req.Text = args[0]
			}
			if replyTo != "" {
				id, err := parseID(replyTo)
				if err != nil {
					return err
				}
				req.ReplyTo = &messaging.ReplyRef{ID: id}
			}

			msg, err := api.Send(cmd.Context(), req)
			if err != nil {
				return err
			}
			printMessage(cmd.OutOrStdout(), msg)
			return nil
		},
	}

	cmd.Flags().StringVar(&image, "image", "", "image URL")
	cmd.Flags().StringVar(&audio, "audio", "", "audio URL")
	cmd.Flags().StringSliceVar(&stickers, "sticker", nil, "sticker path (repeatable)")
	cmd.Flags().StringVar(&replyTo, "reply-to", "", "id of the message being answered")
	return cmd
}

func newDeleteCmd(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "delete <id>",
		Short: "Delete a message",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			api, err := flags.api()
			if err != nil {
				return err
			}
			if err := api.Delete(cmd.Context(), id); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "deleted %d\n", id)
			return nil
		},
	}
}

func newTailCmd(flags *globalFlags) *cobra.Command {
	var pageSize int

	cmd := &cobra.Command{
		Use:   "tail",
		Short: "Follow the room, reconnecting and resyncing after drops",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			api, err := flags.api()
			if err != nil {
				return err
			}
			logger, err := flags.logger()
			if err != nil {
				return err
			}
			defer func() {
				_ = logger.Sync()
			}()

			store := reconcile.New(pageSize)
			printer := newTailPrinter(cmd.OutOrStdout())
			unsubscribe := store.Subscribe(func() { printer.update(store.Messages()) })
			defer unsubscribe()

			session := client.NewSession(api, store, pageSize, logger)
			defer session.Close()
			session.OnPresence(printer.presence)

			return follow(cmd.Context(), session, retry.Forever(), logger)
		},
	}

	cmd.Flags().IntVar(&pageSize, "page-size", 50, "messages loaded per page")
	return cmd
}

// liveSession is the part of client.Session that follow drives.
type liveSession interface {
	Dial(ctx context.Context) error
	Resync(ctx context.Context) error
	Done() <-chan struct{}
}

// follow keeps the live channel open until ctx ends. Only dialing backs off
// and repeats. A history page that fails leaves the store in its error state
// and ends follow with that error.
func follow(ctx context.Context, session liveSession, backoff retry.Config, logger *zap.Logger) error {
	backoff.OnRetry = func(attempt int, err error, wait time.Duration) {
		logger.Warn("connection failed, retrying",
			zap.Int("attempt", attempt),
			zap.Duration("wait", wait),
			zap.Error(err),
		)
	}

	for {
		err := retry.WithBackoff(ctx, backoff, func() error {
			err := session.Dial(ctx)
			var apiErr *client.APIError
			if errors.As(err, &apiErr) && !apiErr.Temporary() {
				return retry.Permanent(err)
			}
			return err
		})
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}

		if err := session.Resync(ctx); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("load history: %w", err)
		}

		select {
		case <-ctx.Done():
			return nil
		case <-session.Done():
			logger.Info("live channel closed, reconnecting")
		}
	}
}

// tailPrinter writes messages it has not shown yet and notes deletions.
type tailPrinter struct {
	mu    sync.Mutex
	out   io.Writer
	shown map[int64]bool
}

func newTailPrinter(out io.Writer) *tailPrinter {
	return &tailPrinter{out: out, shown: make(map[int64]bool)}
}

func (p *tailPrinter) update(msgs []*messaging.Message) {
	p.mu.Lock()
	defer p.mu.Unlock()

	present := make(map[int64]bool, len(msgs))
	for _, msg := range msgs {
		present[msg.ID] = true
		if !p.shown[msg.ID] {
			p.shown[msg.ID] = true
			printMessage(p.out, msg)
		}
	}
	for id := range p.shown {
		if !present[id] {
			delete(p.shown, id)
			fmt.Fprintf(p.out, "- %d removed\n", id)
		}
	}
}

func (p *tailPrinter) presence(n int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	fmt.Fprintf(p.out, "* %d online\n", n)
}

func printMessage(w io.Writer, msg *messaging.Message) {
	var b strings.Builder
	fmt.Fprintf(&b, "[%d] %s", msg.ID, msg.CreatedAt.Local().Format("2006-01-02 15:04:05"))
	if msg.ReplyTo != nil {
		fmt.Fprintf(&b, " (re %d)", msg.ReplyTo.ID)
	}
	if msg.Text != "" {
		b.WriteString(" ")
		b.WriteString(msg.Text)
	}
	for _, u := range []string{msg.Image, msg.Audio, msg.MediaURL} {
		if u != "" {
			b.WriteString(" <")
			b.WriteString(u)
			b.WriteString(">")
		}
	}
	if len(msg.Stickers) > 0 {
		fmt.Fprintf(&b, " stickers=%s", strings.Join(msg.Stickers, ","))
	}
	fmt.Fprintln(w, b.String())
}
