package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/vertextoedge/media-stream-cache/internal/domain"
	"github.com/vertextoedge/media-stream-cache/internal/service/cacher"
)

var (
	fetchVariant string

	fetchCmd = &cobra.Command{
		Use:   "fetch PATH|URL...",
		Short: "Download resources into the cache and wait for them",
		Args:  cobra.MinimumNArgs(1),
		RunE:  runFetch,
	}

	statusCmd = &cobra.Command{
		Use:   "status PATH|URL...",
		Short: "Show the cache status of resources",
		Args:  cobra.MinimumNArgs(1),
		RunE:  runStatus,
	}

	lsCmd = &cobra.Command{
		Use:   "ls",
		Short: "List cached resources from least to most recently used",
		Args:  cobra.NoArgs,
		RunE:  runList,
	}
)

func init() {
	fetchCmd.Flags().StringVar(&fetchVariant, "variant", "", "transcoding variant to request")
}

func runFetch(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := newApp(cfg, zapLogger, false)
	if err != nil {
		return err
	}
	defer a.Close()

	if a.client == nil {
		return errors.New("remote.base_url is required to fetch")
	}
	if err := a.startDownloads(); err != nil {
		return err
	}

	var failed int
	for _, arg := range args {
		p := a.resolvePath(arg)
		e, err := a.cache.Fetch(ctx, p, fetchVariant)
		if err != nil {
			failed++
			fmt.Fprintf(cmd.ErrOrStderr(), "%s: %v\n", arg, err)
			if errors.Is(err, context.Canceled) {
				break
			}
			continue
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%s\t%s\n", e.Path(), humanize.IBytes(uint64(e.CachedLength())))
	}

	if failed > 0 {
		return fmt.Errorf("%d of %d resources not cached", failed, len(args))
	}
	return nil
}

func runStatus(cmd *cobra.Command, args []string) error {
	a, err := newApp(cfg, zapLogger, false)
	if err != nil {
		return err
	}
	defer a.Close()

	for _, arg := range args {
		p := a.resolvePath(arg)
		e := a.cache.Entry(p)
		if e == nil {
			fmt.Fprintf(cmd.OutOrStdout(), "%s\t%s\n", p, a.cache.CheckStatus(p))
			continue
		}
		printEntry(cmd, e.Info())
	}
	return nil
}

func runList(cmd *cobra.Command, _ []string) error {
	a, err := newApp(cfg, zapLogger, false)
	if err != nil {
		return err
	}
	defer a.Close()

	for _, info := range a.cache.Entries() {
		printEntry(cmd, info)
	}

	stats := a.cache.Stats()
	fmt.Fprintf(cmd.OutOrStdout(), "%d/%d files, %s of %s\n",
		stats.Files, stats.MaxFiles,
		humanize.IBytes(uint64(stats.SizeBytes)),
		humanize.IBytes(uint64(stats.MaxSizeBytes)))
	return nil
}

func printEntry(cmd *cobra.Command, info cacher.EntryInfo) {
	size := humanize.IBytes(uint64(info.CachedLength))
	if info.TotalLength >= 0 && info.Status != domain.FullyCached {
		size += "/" + humanize.IBytes(uint64(info.TotalLength))
	}

	flags := ""
	if info.HasError {
		flags = "\terror"
	} else if info.Retries > 0 {
		flags = fmt.Sprintf("\tretries=%d", info.Retries)
	}

	fmt.Fprintf(cmd.OutOrStdout(), "%s\t%s\t%s\t%s%s\n",
		info.Path, info.StatusName, size, humanize.Time(info.LastUsed), flags)
}
