package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/forest6511/vaultsync/internal/cli"
	"github.com/forest6511/vaultsync/pkg/audit"
	"github.com/forest6511/vaultsync/pkg/cache"
	"github.com/forest6511/vaultsync/pkg/netstate"
	"github.com/forest6511/vaultsync/pkg/offline"
	"github.com/forest6511/vaultsync/pkg/queue"
)

// Network command flags
var (
	fetchInclude  bool
	submitMethod  string
	submitData    string
	submitHeaders []string
)

func init() {
	rootCmd.AddCommand(fetchCmd)
	rootCmd.AddCommand(submitCmd)
	rootCmd.AddCommand(watchCmd)

	fetchCmd.Flags().BoolVarP(&fetchInclude, "include", "i", false, "Print the status line and headers")
	submitCmd.Flags().StringVarP(&submitMethod, "method", "X", http.MethodPost, "HTTP method")
	submitCmd.Flags().StringVarP(&submitData, "data", "d", "", "Request body; @file reads a file, @- reads stdin")
	submitCmd.Flags().StringArrayVarP(&submitHeaders, "header", "H", nil, "Header 'Name: value' (can be repeated)")
}

// fetchCmd performs a GET through the cache router
var fetchCmd = &cobra.Command{
	Use:   "fetch <url>",
	Short: "GET a URL through the offline cache",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		target, err := resolveURL(args[0])
		if err != nil {
			return err
		}
		resp, err := a.client.Fetch(cmd.Context(), target)
		if err != nil {
			return err
		}
		defer resp.Body.Close()

		if fetchInclude {
			fmt.Fprintf(cmd.OutOrStdout(), "%s %s\n", resp.Proto, resp.Status)
			if err := resp.Header.Write(cmd.OutOrStdout()); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout())
		} else if status := resp.Header.Get(cache.StatusHeader); status != "" {
			fmt.Fprintln(cmd.ErrOrStderr(), cli.Hint("cache: "+status, ""))
		}
		_, err = io.Copy(cmd.OutOrStdout(), resp.Body)
		return err
	},
}

// submitCmd sends a request, queueing designated writes while offline
var submitCmd = &cobra.Command{
	Use:   "submit <url>",
	Short: "Send a write request, saving it for later if the server is unreachable",
	Long: `Send a write request. Requests whose path matches mutation_patterns
(default /api/transactions*) are saved locally when the server cannot be
reached and replayed in order when connectivity returns. Every such request
carries an Idempotency-Key header so a replay cannot be applied twice.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		target, err := resolveURL(args[0])
		if err != nil {
			return err
		}
		body, err := readBody(cmd, submitData)
		if err != nil {
			return err
		}

		req, err := http.NewRequestWithContext(cmd.Context(), strings.ToUpper(submitMethod), target, body)
		if err != nil {
			return fmt.Errorf("invalid request: %w", err)
		}
		if err := applyHeaders(req.Header, submitHeaders); err != nil {
			return err
		}

		res, err := a.client.Submit(cmd.Context(), req)
		if err != nil {
			return err
		}
		if res.Queued {
			fmt.Fprintln(cmd.OutOrStdout(), cli.QueuedMessage(res.Mutation.RequestID))
			return nil
		}
		defer res.Response.Body.Close()
		fmt.Fprintln(cmd.ErrOrStderr(), cli.Success("%s", res.Response.Status))
		_, err = io.Copy(cmd.OutOrStdout(), res.Response.Body)
		return err
	},
}

// watchCmd drains the queue whenever the server becomes reachable
var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Sync saved requests whenever the server becomes reachable",
	Long: `Poll the server's health endpoint and replay saved requests each time
connectivity returns. Runs until interrupted.`,
	Args:        cobra.NoArgs,
	Annotations: map[string]string{annotationSource: audit.SourceWatcher},
	RunE: func(cmd *cobra.Command, args []string) error {
		health := a.cfg.HealthURL()
		if health == "" {
			return errors.New("server_url is not configured (set it in config.yaml or VAULTSYNC_SERVER_URL)")
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		source := netstate.NewPollingSource(health, a.cfg.PollInterval,
			netstate.WithProbeTimeout(a.cfg.RequestTimeout),
			netstate.WithPollingLogger(a.logger.Named("netstate")))
		go source.Run(ctx)

		w := cmd.OutOrStdout()
		client := offline.New(a.router, a.queue,
			offline.WithMutationPatterns(a.cfg.MutationPatterns),
			offline.WithRequestTimeout(a.cfg.RequestTimeout),
			offline.WithLogger(a.logger.Named("offline")),
			offline.WithDrainFunc(func(r *queue.DrainReport, err error) {
				printDrain(w, r, err)
			}))

		fmt.Fprintln(w, cli.Hint("Watching "+health+" (Ctrl+C to stop)", ""))
		err := client.Run(ctx, source)
		if errors.Is(err, context.Canceled) {
			return nil
		}
		if err != nil {
			a.logger.Error("watch stopped", zap.Error(err))
		}
		return err
	},
}

// resolveURL accepts absolute URLs and paths relative to server_url.
func resolveURL(raw string) (string, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("invalid URL %q: %w", raw, err)
	}
	if u.IsAbs() {
		return u.String(), nil
	}
	if a.cfg.ServerURL == "" {
		return "", fmt.Errorf("relative URL %q needs server_url to be configured", raw)
	}
	base, err := url.Parse(a.cfg.ServerURL)
	if err != nil {
		return "", fmt.Errorf("invalid server_url: %w", err)
	}
	return base.ResolveReference(u).String(), nil
}

// readBody interprets the --data flag.
func readBody(cmd *cobra.Command, data string) (io.Reader, error) {
	switch {
	case data == "":
		return nil, nil
	case data == "@-":
		return cmd.InOrStdin(), nil
	case strings.HasPrefix(data, "@"):
		f, err := os.Open(data[1:])
		if err != nil {
			return nil, fmt.Errorf("failed to open body file: %w", err)
		}
		defer f.Close()
		b, err := io.ReadAll(io.LimitReader(f, queue.MaxBodySize+1))
		if err != nil {
			return nil, fmt.Errorf("failed to read body file: %w", err)
		}
		return strings.NewReader(string(b)), nil
	default:
		return strings.NewReader(data), nil
	}
}

// applyHeaders parses "Name: value" pairs into h.
func applyHeaders(h http.Header, pairs []string) error {
	for _, p := range pairs {
		name, value, ok := strings.Cut(p, ":")
		name = strings.TrimSpace(name)
		if !ok || name == "" {
			return fmt.Errorf("invalid header %q (use 'Name: value')", p)
		}
		h.Add(name, strings.TrimSpace(value))
	}
	return nil
}
