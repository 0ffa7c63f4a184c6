package main

import (
	"fmt"

	"lnm/internal/archive"
	"lnm/internal/httpserver"
	"lnm/internal/ingest"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var (
	archiveAddr  string
	archiveDB    string
	importDir    string
	importWatch  bool
	importWorker int
)

// archiveCmd groups the archive service and importer.
var archiveCmd = &cobra.Command{
	Use:   "archive",
	Short: "Forum archive: read-only API, pages and dump importer",
}

var archiveServeCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the archive JSON API under /api and the HTML pages",
	Long: `Opens the archive database read-only and serves:

  GET /api/topics             topics by last post date, streamed
  GET /api/topics/{id}        one topic and its posts
  GET /api/posts              every post (?without_topic=true for orphans)
  GET /api/authors            distinct authors
  GET /api/stats              counters
  GET /api/downloads/database the SQLite file
  GET /, /topic?id=, /no-topic HTML pages`,
	Args: cobra.NoArgs,
	RunE: runArchiveServe,
}

var archiveImportCmd = &cobra.Command{
	Use:   "import [dump.json...]",
	Short: "Import scraped JSON dumps into the archive database",
	Long: `Imports forum and print-view dumps in one transaction. Rows that already
exist are ignored, so re-running an import is harmless.

Without arguments every *.json file of the dump directory is imported.
With --watch the command keeps running and imports files as they change.`,
	RunE: runArchiveImport,
}

func init() {
	archiveServeCmd.Flags().StringVar(&archiveAddr, "addr", "", "Listen address (overrides archive.server.address)")
	archiveServeCmd.Flags().StringVar(&archiveDB, "db", "", "Archive database (overrides archive.database_path)")

	archiveImportCmd.Flags().StringVar(&archiveDB, "db", "", "Archive database (overrides archive.database_path)")
	archiveImportCmd.Flags().StringVar(&importDir, "dir", "", "Dump directory (overrides archive.dump_dir)")
	archiveImportCmd.Flags().BoolVar(&importWatch, "watch", false, "Keep watching the dump directory")
	archiveImportCmd.Flags().IntVar(&importWorker, "workers", 0, "Concurrent dump decoders (overrides archive.import_workers)")

	archiveCmd.AddCommand(archiveServeCmd)
	archiveCmd.AddCommand(archiveImportCmd)
}

func archiveDatabase() string {
	if archiveDB != "" {
		return resolvePath(archiveDB)
	}
	return resolvePath(cfg.Archive.DatabasePath)
}

func runArchiveServe(cmd *cobra.Command, args []string) error {
	ctx, stop := signalContext()
	defer stop()

	store, err := archive.Open(archiveDatabase())
	if err != nil {
		return err
	}
	defer store.Close()

	api := archive.NewAPI(store,
		archive.WithCacheMaxAge(cfg.Archive.GetCacheMaxAge()),
		archive.WithFlushEvery(cfg.Archive.FlushEvery),
	)
	site, err := archive.NewSite(store)
	if err != nil {
		return err
	}

	settings := httpserver.SettingsFromConfig("archive", cfg.Archive.Server)
	if archiveAddr != "" {
		settings.Address = archiveAddr
	}
	srv := httpserver.New(settings, archive.NewRouter(api, site), httpserver.WithLogger(logger))
	logger.Info("serving archive", zap.String("db", store.Path()), zap.String("addr", settings.Address))
	return srv.Run(ctx)
}

func runArchiveImport(cmd *cobra.Command, args []string) error {
	ctx, stop := signalContext()
	defer stop()

	dbPath := archiveDatabase()
	dir := importDir
	if dir == "" {
		dir = cfg.Archive.DumpDir
	}
	dir = resolvePath(dir)
	workers := importWorker
	if workers <= 0 {
		workers = cfg.Archive.ImportWorkers
	}

	w, err := ingest.OpenWriter(dbPath)
	if err != nil {
		return err
	}
	defer w.Close()
	im := ingest.NewImporter(w,
		ingest.WithWorkers(workers),
		ingest.WithPrintGlobs(cfg.Archive.PrintDumpGlobs),
	)

	var report *ingest.Report
	if len(args) > 0 {
		report, err = im.ImportFiles(ctx, args)
	} else {
		report, err = im.ImportDir(ctx, dir)
	}
	if err != nil {
		return fmt.Errorf("import failed: %w", err)
	}
	fmt.Fprintln(cmd.OutOrStdout(), renderImportReport(dbPath, report))

	if !importWatch {
		return nil
	}

	out := cmd.OutOrStdout()
	watcher, err := ingest.NewWatcher(dir, im, cfg.Archive.GetWatchDebounce(), func(path string, r *ingest.Report, err error) {
		if err != nil {
			logger.Error("watch import failed", zap.String("file", path), zap.Error(err))
			fmt.Fprintln(out, errorStyle.Render("import failed: ")+path+": "+err.Error())
			return
		}
		fmt.Fprintln(out, renderImportReport(dbPath, r))
	})
	if err != nil {
		return err
	}
	if err := watcher.Start(ctx); err != nil {
		return fmt.Errorf("failed to watch %s: %w", dir, err)
	}
	fmt.Fprintln(out, mutedStyle.Render("watching "+dir+" (Ctrl+C to stop)"))
	<-ctx.Done()
	watcher.Stop()
	return nil
}
