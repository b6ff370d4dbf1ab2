package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/unkn0wn-root/tagcache/config"
)

func invalidateCmd() *cobra.Command {
	var target, profile string

	cmd := &cobra.Command{
		Use:   "invalidate <entry-id>",
		Short: "Mark every cached entry tagged with an entry id stale",
		Long:  "Send a revalidation webhook to a running server, as the content source would",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), 10*time.Second)
			defer cancel()
			return invalidate(ctx, cmd.OutOrStdout(), target, cfg.RevalidateHeader, cfg.RevalidateSecret, args[0], profile)
		},
	}
	cmd.Flags().StringVar(&target, "url", "http://localhost:8080", "Base URL of the running server")
	cmd.Flags().StringVar(&profile, "profile", "", "Revalidation profile (seconds, minutes, hours, days, weeks, max)")
	return cmd
}

func invalidate(ctx context.Context, out io.Writer, base, header, secret, entryID, profile string) error {
	body, err := json.Marshal(map[string]any{"sys": map[string]string{"id": entryID}})
	if err != nil {
		return err
	}
	u := strings.TrimRight(base, "/") + "/api/contentful/revalidate"
	if profile != "" {
		u += "?profile=" + url.QueryEscape(profile)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(header, secret)

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return fmt.Errorf("post revalidation: %w", err)
	}
	defer resp.Body.Close()
	msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4<<10))
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("revalidation rejected: HTTP %d: %s", resp.StatusCode, bytes.TrimSpace(msg))
	}
	fmt.Fprintf(out, "revalidated %s\n", entryID)
	return nil
}
