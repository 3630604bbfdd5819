package cli

import (
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"docchat/internal/client"
)

func newHistoryCmd(opts *options) *cobra.Command {
	var (
		limit int
		all   bool
	)
	cmd := &cobra.Command{
		Use:   "history [document-id]",
		Short: "Print the conversation, newest first",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseDocumentID(args[0])
			if err != nil {
				return err
			}
			ctx, cancel := opts.context(cmd)
			defer cancel()

			conv := client.NewConversation(opts.api(), id, limit)
			if err := conv.Refresh(ctx); err != nil {
				return err
			}
			for all {
				more, err := conv.LoadMore(ctx)
				if err != nil {
					return err
				}
				if !more {
					break
				}
			}
			printEntries(cmd.OutOrStdout(), conv.Messages())
			return nil
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 10, "page size")
	cmd.Flags().BoolVar(&all, "all", false, "load every page")
	return cmd
}

func newAskCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "ask [document-id] [question...]",
		Short: "Ask a question and stream the answer",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseDocumentID(args[0])
			if err != nil {
				return err
			}
			ctx, cancel := opts.context(cmd)
			defer cancel()

			out := cmd.OutOrStdout()
			conv := client.NewConversation(opts.api(), id, 2)
			printed := 0
			conv.OnChange(func(entries []client.Entry) {
				for _, e := range entries {
					if e.ID == client.DraftEntryID && len(e.Text) > printed {
						fmt.Fprint(out, e.Text[printed:])
						printed = len(e.Text)
					}
				}
			})
			conv.SetDraft(strings.Join(args[1:], " "))

			err = conv.Send(ctx)
			if printed > 0 {
				fmt.Fprintln(out)
			}
			if errors.Is(err, client.ErrRefresh) {
				fmt.Fprintf(cmd.ErrOrStderr(), "warning: %v\n", err)
				return nil
			}
			if errors.Is(err, client.ErrCompletionAborted) || errors.Is(err, client.ErrTransport) {
				return fmt.Errorf("%w (unsent question: %q)", err, conv.Draft())
			}
			return err
		},
	}
}

func printEntries(w io.Writer, entries []client.Entry) {
	for _, e := range entries {
		who := "assistant"
		if e.IsUserMessage {
			who = "user"
		}
		fmt.Fprintf(w, "[%s] %s: %s\n", e.CreatedAt.Format("2006-01-02 15:04:05"), who, e.Text)
	}
}
