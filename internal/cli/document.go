package cli

import (
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"docchat/internal/client"
	"docchat/internal/model"
)

func newUploadCmd(opts *options) *cobra.Command {
	var (
		key      string
		name     string
		wait     bool
		interval time.Duration
	)
	cmd := &cobra.Command{
		Use:   "upload [url]",
		Short: "Register a document for ingestion",
		Long:  `Registers an http(s) or file:// document. With --wait the command polls until ingestion finishes.`,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := opts.context(cmd)
			defer cancel()

			api := opts.api()
			doc, err := api.UploadDocument(ctx, client.UploadRequest{URL: args[0], Key: key, Name: name})
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "document %d (%s) key=%s status=%s\n", doc.ID, doc.Name, doc.Key, doc.UploadStatus)
			if !wait {
				return nil
			}
			return waitAndReport(cmd, api, doc.ID, interval)
		},
	}
	cmd.Flags().StringVar(&key, "key", "", "storage key (generated when empty)")
	cmd.Flags().StringVar(&name, "name", "", "display name (defaults to the file name)")
	cmd.Flags().BoolVar(&wait, "wait", false, "poll until ingestion finishes")
	cmd.Flags().DurationVar(&interval, "interval", time.Second, "poll interval")
	return cmd
}

func newStatusCmd(opts *options) *cobra.Command {
	var (
		wait     bool
		interval time.Duration
	)
	cmd := &cobra.Command{
		Use:   "status [document-id]",
		Short: "Show a document's ingestion status",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseDocumentID(args[0])
			if err != nil {
				return err
			}
			if wait {
				return waitAndReport(cmd, opts.api(), id, interval)
			}
			ctx, cancel := opts.context(cmd)
			defer cancel()
			status, err := opts.api().DocumentStatus(ctx, id)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), status)
			return nil
		},
	}
	cmd.Flags().BoolVar(&wait, "wait", false, "poll until ingestion finishes")
	cmd.Flags().DurationVar(&interval, "interval", time.Second, "poll interval")
	return cmd
}

func waitAndReport(cmd *cobra.Command, api *client.API, id uint, interval time.Duration) error {
	out := cmd.OutOrStdout()
	var last model.UploadStatus
	status, err := api.WaitReady(cmd.Context(), id, interval, func(s model.UploadStatus) {
		if s != last {
			fmt.Fprintln(out, s)
			last = s
		}
	})
	if err != nil {
		return err
	}
	if status == model.UploadStatusFailed {
		return fmt.Errorf("document %d failed to ingest", id)
	}
	return nil
}

func newDocsCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "docs",
		Short: "List your documents",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, cancel := opts.context(cmd)
			defer cancel()
			docs, err := opts.api().ListDocuments(ctx)
			if err != nil {
				return err
			}
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tNAME\tKEY\tSTATUS\tCREATED")
			for _, d := range docs {
				fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%s\n", d.ID, d.Name, d.Key, d.UploadStatus, d.CreatedAt.Format(time.RFC3339))
			}
			return w.Flush()
		},
	}
}

func newDeleteCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "delete [document-id]",
		Short: "Delete a document and its conversation",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseDocumentID(args[0])
			if err != nil {
				return err
			}
			ctx, cancel := opts.context(cmd)
			defer cancel()
			if err := opts.api().DeleteDocument(ctx, id); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "deleted document %d\n", id)
			return nil
		},
	}
}
