package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"image-compressor-go/internal/batch"
	"image-compressor-go/internal/compressor"
	"image-compressor-go/internal/config"
	"image-compressor-go/internal/extractor"
	"image-compressor-go/internal/logger"
	"image-compressor-go/internal/preview"
	"image-compressor-go/internal/session"
	"image-compressor-go/internal/statistics"
	"image-compressor-go/internal/uploader"
	"image-compressor-go/internal/validation"
	"image-compressor-go/internal/web"

	"github.com/gabriel-vasile/mimetype"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

var (
	cfgFile  string
	verbose  bool
	quiet    bool
	version  = "dev"
	port     int
	outPath  string
	doUpload bool
	dataURL  bool
	target   string
	dryRun   bool
	workers  int
)

// rootCmd is the base command for the CLI.
var rootCmd = &cobra.Command{
	Use:     "image-compressor",
	Short:   "Compress images and upload them to object storage",
	Version: version,
	Long: `ImageCompressor shrinks an image to a fixed target (at most 1 MB and 1920px on
the longest side), reports how much space was saved and can upload the result
to S3-compatible object storage.

Features:
- JPEG, PNG, GIF and WebP input
- EXIF orientation applied before resizing
- Live progress in the web interface
- MinIO and AWS S3 storage backends
- Structured logging and Prometheus metrics`,
	SilenceUsage: true,
}

// compressCmd compresses a single file from disk.
var compressCmd = &cobra.Command{
	Use:   "compress <file>",
	Short: "Compress one image and print the savings",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runCompress(cmd.Context(), args[0])
	},
}

// compressDirCmd compresses every image under a directory.
var compressDirCmd = &cobra.Command{
	Use:   "compress-dir <directory>",
	Short: "Compress every image under a directory",
	Long: `Walks the directory, compresses each JPEG, PNG, GIF and WebP image with the
same target as the compress command and writes the results next to the
sources (or under --target), keeping the directory layout.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runCompressDir(cmd.Context(), args[0])
	},
}

// serveCmd starts the web interface server.
var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start web interface server",
	Long: `Starts a web server with the interactive compression workflow:
- Pick an image and watch compression progress in real time
- Compare original and compressed previews
- Upload the compressed image to storage

Access the interface at http://localhost:<port> (default: 8080)`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServe()
	},
}

// checkConfigCmd validates configuration and storage connectivity.
var checkConfigCmd = &cobra.Command{
	Use:   "check-config",
	Short: "Validate configuration and test storage access",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runCheckConfig(cmd.Context())
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is ./config.yaml)")
	rootCmd.PersistentFlags().BoolVar(&verbose, "verbose", false, "enable verbose logging")
	rootCmd.PersistentFlags().BoolVar(&quiet, "quiet", false, "suppress non-error output")

	compressCmd.Flags().StringVar(&outPath, "out", "", "write the compressed image to this path")
	compressCmd.Flags().BoolVar(&doUpload, "upload", false, "upload the compressed image to storage")
	compressCmd.Flags().BoolVar(&dataURL, "data-url", false, "print the compressed image as a data URL")

	compressDirCmd.Flags().StringVar(&target, "target", "", "output directory (default: next to the sources)")
	compressDirCmd.Flags().BoolVar(&dryRun, "dry-run", false, "show what would be written without writing")
	compressDirCmd.Flags().IntVar(&workers, "workers", 0, "number of worker goroutines (default from config)")

	serveCmd.Flags().IntVar(&port, "port", 0, "port to run web server on (default from config)")

	rootCmd.AddCommand(compressCmd)
	rootCmd.AddCommand(compressDirCmd)
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(checkConfigCmd)
}

// app bundles the wired workflow components.
type app struct {
	session  *session.Session
	previews *preview.Registry
	uploads  *uploader.Adapter
	stats    *statistics.Statistics
	metadata *extractor.EXIFExtractor
}

// buildApp wires the workflow. A storage backend that fails to initialise is
// logged and treated as unconfigured.
func buildApp(ctx context.Context, cfg *config.Config, log *logrus.Logger, reg prometheus.Registerer, observer session.ProgressObserver) *app {
	stats := statistics.NewStatistics(statistics.MustNewMetrics(reg))
	previews := preview.NewRegistry()

	storage, err := uploader.NewStorage(ctx, cfg)
	if err != nil {
		logger.WithOperation(log, "storage").WithError(err).Error("Storage backend unavailable")
		storage = nil
	}
	if storage == nil {
		logger.WithOperation(log, "storage").Warn(uploader.ErrNotConfigured.Error())
	}

	opts := []session.OrchestratorOption{session.WithStatistics(stats)}
	if observer != nil {
		opts = append(opts, session.WithProgressObserver(observer))
	}
	metadata := extractor.NewEXIFExtractor(log)
	orch := session.NewOrchestrator(
		compressor.NewImagingCompressorWithExtractor(log, metadata),
		compressor.OptionsFromConfig(cfg.Compression),
		previews, log, opts...,
	)
	uploads := uploader.NewAdapter(storage, cfg.Storage, log, uploader.WithStatistics(stats))

	return &app{
		session:  session.New(validation.New(cfg.Validation), orch, uploads, previews, log, session.WithMetadata(metadata)),
		previews: previews,
		uploads:  uploads,
		stats:    stats,
		metadata: metadata,
	}
}

// runCompress compresses a file from disk and prints the result block.
func runCompress(ctx context.Context, path string) error {
	if ctx == nil {
		ctx = context.Background()
	}
	cfg, err := config.LoadConfig(cfgFile)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	log := setupLogger(cfg)

	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read %s: %w", path, err)
	}
	info, err := os.Stat(path)
	if err != nil {
		return err
	}

	var observer session.ProgressObserver
	if !quiet {
		observer = func(p int) {
			if p > 0 {
				fmt.Fprintf(os.Stderr, "\r%3d%% %s", p, session.ProgressStatus(p))
			}
		}
	}
	a := buildApp(ctx, cfg, log, prometheus.NewRegistry(), observer)
	defer a.session.Close()

	file := compressor.File{
		Name:     filepath.Base(path),
		MIMEType: mimetype.Detect(data).String(),
		Data:     data,
		ModTime:  info.ModTime(),
	}

	verdict, outcome, err := a.session.SelectAndCompress(ctx, file)
	if !quiet {
		fmt.Fprintln(os.Stderr)
	}
	if err != nil {
		return fmt.Errorf("compression failed: %w", err)
	}
	if verdict.Advisory != "" && !quiet {
		fmt.Println(verdict.Advisory)
	}

	if outPath != "" {
		if err := os.WriteFile(outPath, outcome.File.Data, 0644); err != nil {
			return fmt.Errorf("failed to write %s: %w", outPath, err)
		}
	}

	if !quiet {
		fmt.Println(formatOutcome(outcome))
	}
	if dataURL {
		fmt.Println(compressor.DataURL(outcome.File))
	}

	if doUpload {
		res, err := a.session.Upload(ctx)
		if err != nil {
			return fmt.Errorf("upload failed: %w", err)
		}
		fmt.Printf("Uploaded: %s\n", res.URL)
	}

	return nil
}

// formatOutcome renders the compression stats block.
func formatOutcome(o *session.CompressionOutcome) string {
	saved := statistics.StorageSaved(o.OriginalSize, o.CompressedSize)
	return fmt.Sprintf(`Compression Results:
		Reduction: %d%%
		Original: %s
		Compressed: %s
		Time: %s
		Storage Saved: %s
		Store %.1fx more images in the same space`,
		o.ReductionPercentage,
		statistics.FormatSize(o.OriginalSize),
		statistics.FormatSize(o.CompressedSize),
		statistics.FormatSeconds(o.ElapsedMillis),
		statistics.FormatSize(saved),
		statistics.Multiplier(o.OriginalSize, o.CompressedSize))
}

// runCompressDir compresses a directory tree and prints the summary.
func runCompressDir(ctx context.Context, dir string) error {
	if ctx == nil {
		ctx = context.Background()
	}
	if !dirExists(dir) {
		return fmt.Errorf("source directory does not exist: %s", dir)
	}
	cfg, err := config.LoadConfig(cfgFile)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	if workers > 0 {
		cfg.Batch.WorkerThreads = workers
	}

	log := setupLogger(cfg)
	stats := statistics.NewStatistics(nil)
	dc := batch.NewDirectoryCompressor(cfg, log, stats,
		validation.New(cfg.Validation),
		compressor.NewImagingCompressor(log))

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	report, err := dc.Run(ctx, dir, target, dryRun)
	if err != nil {
		return fmt.Errorf("directory compression failed: %w", err)
	}

	if !quiet {
		fmt.Printf("Found %d, compressed %d, skipped %d, failed %d\n",
			report.Found, report.Compressed, report.Skipped, report.Failed)
		if !dryRun {
			fmt.Println("\n" + stats.GetSummary())
		}
	}
	if report.Failed > 0 {
		return fmt.Errorf("%d files failed", report.Failed)
	}
	return nil
}

// runServe starts the web server and handles graceful shutdown.
func runServe() error {
	cfg, err := config.LoadConfig(cfgFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "CONFIG LOAD ERROR: %v\n", err)
		cfg = config.DefaultConfig()
	}
	if port != 0 {
		cfg.Server.Port = port
	}

	log := setupLogger(cfg)
	hub := web.NewHub(log)
	a := buildApp(context.Background(), cfg, log, prometheus.DefaultRegisterer, hub.ProgressObserver())
	defer a.session.Close()

	server := web.NewServer(cfg, log, web.Deps{
		Session:  a.session,
		Previews: a.previews,
		Uploads:  a.uploads,
		Stats:    a.stats,
		Hub:      hub,
		Gatherer: prometheus.DefaultGatherer,
		Metadata: a.metadata,
	})

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	go func() {
		if err := server.Start(cfg.Server.Port); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("Server failed to start: %v", err)
		}
	}()

	fmt.Printf("Image Compressor web interface started\n")
	fmt.Printf("Open your browser and go to: http://localhost:%d\n", cfg.Server.Port)
	fmt.Printf("Press Ctrl+C to stop the server\n\n")

	<-sigChan
	fmt.Println("\nShutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Stop(ctx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}

	if !quiet {
		fmt.Println("\n" + a.stats.GetSummary())
	}
	fmt.Println("Server stopped gracefully")
	return nil
}

// runCheckConfig validates the configuration and pings storage when possible.
func runCheckConfig(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	cfg, err := config.LoadConfig(cfgFile)
	if err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	fmt.Println("Configuration OK")
	fmt.Printf("  Target: %.1f MB, %dpx, quality %d..%d\n",
		cfg.Compression.MaxSizeMB, cfg.Compression.MaxWidthOrHeight,
		cfg.Compression.MinQuality, cfg.Compression.InitialQuality)
	fmt.Printf("  Max input: %s\n", statistics.FormatSize(cfg.Validation.MaxBytes))

	storage, err := uploader.NewStorage(ctx, cfg)
	if err != nil {
		return fmt.Errorf("storage: %w", err)
	}
	if storage == nil {
		fmt.Println("  Storage: " + uploader.ErrNotConfigured.Error())
		return nil
	}
	fmt.Printf("  Storage: %s bucket %q\n", cfg.Storage.Driver, cfg.Storage.Bucket)

	pinger, ok := storage.(uploader.Pinger)
	if !ok {
		return nil
	}
	pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := pinger.Ping(pingCtx, cfg.Storage.Bucket); err != nil {
		return fmt.Errorf("storage check failed: %w", err)
	}
	fmt.Println("  Storage reachable")
	return nil
}

// setupLogger configures and returns a logger.
func setupLogger(cfg *config.Config) *logrus.Logger {
	opts := logger.FromConfig(cfg.Logging, !quiet)

	if verbose {
		opts.Level = "debug"
	}
	if quiet {
		opts.Level = "error"
	}

	log, err := logger.New(opts)
	if err != nil {
		log = logrus.New()
		log.SetLevel(logrus.InfoLevel)
	}

	return log
}

// dirExists returns true if the given path exists and is a directory.
func dirExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.IsDir()
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
