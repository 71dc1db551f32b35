package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/eringen/pubpreview"
	"github.com/eringen/pubpreview/botdetect"
	"github.com/eringen/pubpreview/views"
)

// version is set at build time via ldflags.
var version = "dev"

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var configPath string

	root := &cobra.Command{
		Use:   "pubpreview",
		Short: "Crawler-safe link previews for Baking Great Bread",
		Long: `pubpreview answers social and search crawlers with a complete HTML
preview document (Open Graph, Twitter Card, JSON-LD) and sends humans on to
the interactive site.

Configuration comes from an optional YAML file (--config) followed by
environment variables such as SITE_URL, DATABASE_URL and UPSTREAM_API_URL.`,
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to a YAML config file")

	root.AddCommand(
		newServeCmd(&configPath),
		newResolveCmd(&configPath),
		newClassifyCmd(),
		newVersionCmd(),
	)
	return root
}

func newServeCmd(configPath *string) *cobra.Command {
	var addr string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the preview HTTP server",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := pubpreview.LoadConfig(*configPath)
			if err != nil {
				return err
			}
			if addr != "" {
				cfg.Addr = addr
			}
			app, err := pubpreview.New(cfg)
			if err != nil {
				return err
			}
			defer app.Close()
			return app.Start(cmd.Context())
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address (overrides config and ADDR)")
	return cmd
}

func newResolveCmd(configPath *string) *cobra.Command {
	var asHTML bool
	cmd := &cobra.Command{
		Use:   "resolve <slug>",
		Short: "Resolve a slug through the content tiers and print the preview",
		Long: `Runs the same fixture -> store -> upstream chain a crawler request
would, then prints the resulting payload as JSON (or the full document with
--html). Exits non-zero when no tier has the slug.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := pubpreview.LoadConfig(*configPath)
			if err != nil {
				return err
			}
			logger := slog.New(slog.NewTextHandler(cmd.ErrOrStderr(), &slog.HandlerOptions{Level: slog.LevelDebug}))
			app, err := pubpreview.New(cfg, pubpreview.WithLogger(logger))
			if err != nil {
				return err
			}
			defer app.Close()
			return runResolve(cmd.Context(), cmd.OutOrStdout(), app.Resolver, args[0], asHTML)
		},
	}
	cmd.Flags().BoolVar(&asHTML, "html", false, "print the rendered preview document instead of JSON")
	return cmd
}

func runResolve(ctx context.Context, w io.Writer, r *pubpreview.Resolver, slug string, asHTML bool) error {
	res := r.Resolve(ctx, slug)
	if res.Payload == nil {
		if res.Degraded {
			return fmt.Errorf("%q not resolved; a tier failed: %v", slug, res.Err)
		}
		return fmt.Errorf("%q not found in any tier", slug)
	}
	if asHTML {
		_, err := io.WriteString(w, views.RenderPreviewHTML(*res.Payload))
		return err
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(struct {
		Tier     pubpreview.Tier      `json:"tier"`
		Degraded bool                 `json:"degraded"`
		Payload  views.PreviewPayload `json:"payload"`
	}{res.Tier, res.Degraded, *res.Payload})
}

func newClassifyCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "classify <user-agent>",
		Short: "Report whether a User-Agent is treated as a crawler",
		Args:  cobra.ExactArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			if name := botdetect.Name(args[0]); name != "" {
				fmt.Fprintf(cmd.OutOrStdout(), "bot\t%s\n", name)
				return
			}
			fmt.Fprintln(cmd.OutOrStdout(), "human")
		},
	}
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the pubpreview version",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "pubpreview %s\n", version)
		},
	}
}
