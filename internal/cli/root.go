// Package cli implements the docchat command line client.
package cli

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"docchat/internal/client"
)

type options struct {
	apiURL  string
	token   string
	timeout time.Duration
}

// NewRootCmd builds the docchat command tree.
func NewRootCmd() *cobra.Command {
	opts := &options{}
	root := &cobra.Command{
		Use:           "docchat",
		Short:         "Chat with your documents",
		Long:          `Upload documents, wait for ingestion and ask questions answered from their content.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.PersistentFlags().StringVar(&opts.apiURL, "api-url", envOr("DOCCHAT_API_URL", "http://127.0.0.1:8080"), "docchat server base URL")
	root.PersistentFlags().StringVar(&opts.token, "token", os.Getenv("DOCCHAT_TOKEN"), "bearer token")
	root.PersistentFlags().DurationVar(&opts.timeout, "timeout", 5*time.Minute, "overall request timeout")

	root.AddCommand(
		newTokenCmd(),
		newUploadCmd(opts),
		newStatusCmd(opts),
		newDocsCmd(opts),
		newDeleteCmd(opts),
		newHistoryCmd(opts),
		newAskCmd(opts),
	)
	return root
}

func (o *options) api() *client.API {
	return client.NewAPI(o.apiURL, o.token, nil)
}

func (o *options) context(cmd *cobra.Command) (context.Context, context.CancelFunc) {
	return context.WithTimeout(cmd.Context(), o.timeout)
}

func parseDocumentID(raw string) (uint, error) {
	id, err := strconv.ParseUint(raw, 10, 64)
	if err != nil || id == 0 {
		return 0, fmt.Errorf("invalid document id %q", raw)
	}
	return uint(id), nil
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
