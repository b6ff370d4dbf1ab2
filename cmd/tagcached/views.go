package main

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/unkn0wn-root/tagcache"
	"github.com/unkn0wn-root/tagcache/config"
	"github.com/unkn0wn-root/tagcache/counter"
)

func viewsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "views <slug>",
		Short: "Print the view count of an article",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			store := buildCounter(cfg, tagcache.NopLogger{})
			defer store.Close()
			ctx, cancel := context.WithTimeout(cmd.Context(), 10*time.Second)
			defer cancel()
			return printViews(ctx, cmd.OutOrStdout(), store, args[0])
		},
	}
}

func printViews(ctx context.Context, out io.Writer, store *counter.Store, slug string) error {
	if err := store.Connect(ctx); err != nil {
		return err
	}
	c := store.Read(ctx, slug)
	switch {
	case !store.Configured():
		fmt.Fprintf(out, "%s: %d views (placeholder, no counter backend configured)\n", slug, c.N)
		return nil
	case !c.Authoritative:
		return fmt.Errorf("counter backend unavailable")
	}
	fmt.Fprintf(out, "%s: %d views\n", slug, c.N)
	return nil
}
