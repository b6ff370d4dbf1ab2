package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "tagcached",
		Short: "Tag-indexed article cache with webhook revalidation",
		Long:  "Serve article content from a tag-indexed stale-while-revalidate cache, invalidated by content source webhooks",
	}
	rootCmd.AddCommand(serveCmd(), invalidateCmd(), viewsCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
