package main

import (
	"context"
	"fmt"
	"io"
	"mime"
	"os"
	"path/filepath"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/ArmandoV15/wedding-photo-gallery/internal/app"
	"github.com/ArmandoV15/wedding-photo-gallery/internal/gallery"
	"github.com/ArmandoV15/wedding-photo-gallery/internal/pipeline"
	"github.com/ArmandoV15/wedding-photo-gallery/internal/selection"
)

func newUploadCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "upload FILE...",
		Short: "Upload photos and videos from disk as one batch",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			cfg, log, err := setup()
			if err != nil {
				return err
			}
			defer func() { _ = log.Sync() }()
			backends, err := app.Build(ctx, cfg, log)
			if err != nil {
				return err
			}
			defer backends.Close()

			return backends.Stager.WithSession(ctx, func(ctx context.Context, sess *selection.Session) error {
				sources, closeAll, err := openSources(args)
				if err != nil {
					return err
				}
				defer closeAll()
				items, err := backends.Stager.Select(ctx, sess.ID, sources)
				if err != nil {
					return err
				}
				result, runErr := backends.Pipeline.Run(ctx, items)
				printOutcomes(cmd.OutOrStdout(), result)
				if runErr != nil {
					return fmt.Errorf("%s (%w)", pipeline.FailureMessage, runErr)
				}
				return nil
			})
		},
	}
}

func openSources(paths []string) ([]selection.Source, func(), error) {
	files := make([]*os.File, 0, len(paths))
	closeAll := func() {
		for _, f := range files {
			f.Close()
		}
	}
	sources := make([]selection.Source, 0, len(paths))
	for _, p := range paths {
		f, err := os.Open(p)
		if err != nil {
			closeAll()
			return nil, nil, fmt.Errorf("open %s: %w", p, err)
		}
		files = append(files, f)
		sources = append(sources, selection.Source{
			Name:        filepath.Base(p),
			ContentType: mime.TypeByExtension(filepath.Ext(p)),
			Reader:      f,
		})
	}
	return sources, closeAll, nil
}

func printOutcomes(w io.Writer, result *pipeline.BatchResult) {
	if result == nil {
		return
	}
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "#\tNAME\tRESULT\tURL")
	for _, o := range result.Outcomes {
		if o.Succeeded() {
			fmt.Fprintf(tw, "%d\t%s\tok\t%s\n", o.Index, o.Name, o.Record.URL)
			continue
		}
		fmt.Fprintf(tw, "%d\t%s\tfailed at %s: %s\t\n", o.Index, o.Name, o.Step, o.Reason)
	}
	tw.Flush()
	if result.Degraded > 0 {
		fmt.Fprintf(w, "%d video(s) stored without a thumbnail\n", result.Degraded)
	}
}

func newGalleryCmd() *cobra.Command {
	var follow bool
	cmd := &cobra.Command{
		Use:   "gallery",
		Short: "Print the gallery, newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			cfg, log, err := setup()
			if err != nil {
				return err
			}
			defer func() { _ = log.Sync() }()
			backends, err := app.Build(ctx, cfg, log)
			if err != nil {
				return err
			}
			defer backends.Close()

			out := cmd.OutOrStdout()
			if !follow {
				records, err := backends.Docs.List(ctx)
				if err != nil {
					return err
				}
				printTiles(out, gallery.NewView(records).Tiles())
				return nil
			}
			return gallery.NewViewer(backends.Docs, log).Run(ctx, func(tiles []gallery.Tile) {
				fmt.Fprintln(out, "---")
				printTiles(out, tiles)
			})
		},
	}
	cmd.Flags().BoolVarP(&follow, "follow", "f", false, "Keep running and re-print on every change")
	return cmd
}

func printTiles(w io.Writer, tiles []gallery.Tile) {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "CREATED\tTYPE\tNAME\tSHOWN")
	for _, t := range tiles {
		shown := t.Src
		if t.Placeholder {
			shown = "(placeholder)"
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", t.CreatedAt.Format("2006-01-02 15:04:05"), t.FileType, t.Name, shown)
	}
	tw.Flush()
}

func newLandingCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "landing",
		Short: "Print the landing page title and decorative images",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			cfg, log, err := setup()
			if err != nil {
				return err
			}
			defer func() { _ = log.Sync() }()
			backends, err := app.Build(ctx, cfg, log)
			if err != nil {
				return err
			}
			defer backends.Close()
			cache, closeCache := app.LandingCache(cfg)
			defer closeCache()

			images, err := app.Landing(cfg, backends.Blobs, cache, log).Images(ctx)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintln(out, cfg.Title)
			for _, u := range images {
				fmt.Fprintln(out, u)
			}
			return nil
		},
	}
}
