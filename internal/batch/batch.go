// Package batch compresses every image under a directory with a worker pool.
package batch

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"time"

	"image-compressor-go/internal/compressor"
	"image-compressor-go/internal/config"
	"image-compressor-go/internal/logger"
	"image-compressor-go/internal/statistics"
	"image-compressor-go/internal/validation"

	"github.com/gabriel-vasile/mimetype"
	"github.com/sirupsen/logrus"
)

var supportedExts = []string{".jpg", ".jpeg", ".png", ".gif", ".webp"}

// DirectoryCompressor walks a source tree and writes compressed copies.
type DirectoryCompressor struct {
	config     config.BatchConfig
	opts       compressor.Options
	logger     *logrus.Logger
	stats      *statistics.Statistics
	validator  *validation.Validator
	compressor compressor.Compressor
	workers    int
}

// FileInfo contains information about a file to be compressed.
type FileInfo struct {
	Path    string
	RelPath string
	Size    int64
	ModTime time.Time
}

// Result is the outcome for one file.
type Result struct {
	Source         string
	Target         string
	OriginalSize   int64
	CompressedSize int64
	Skipped        bool
	Err            error
}

// Report summarises a run.
type Report struct {
	Found      int
	Compressed int
	Skipped    int
	Failed     int
	Results    []Result
}

// NewDirectoryCompressor returns a new DirectoryCompressor.
func NewDirectoryCompressor(
	cfg *config.Config,
	logger *logrus.Logger,
	stats *statistics.Statistics,
	v *validation.Validator,
	c compressor.Compressor,
) *DirectoryCompressor {
	workers := cfg.Batch.WorkerThreads
	if workers <= 0 {
		workers = 4
	}
	return &DirectoryCompressor{
		config:     cfg.Batch,
		opts:       compressor.OptionsFromConfig(cfg.Compression),
		logger:     logger,
		stats:      stats,
		validator:  v,
		compressor: c,
		workers:    workers,
	}
}

// Run compresses every supported image under sourceDir into targetDir,
// mirroring the directory layout. An empty targetDir writes next to the
// sources. With dryRun nothing is written.
func (d *DirectoryCompressor) Run(ctx context.Context, sourceDir, targetDir string, dryRun bool) (*Report, error) {
	if targetDir == "" {
		targetDir = sourceDir
	}
	d.logger.Infof("Starting directory compression: %s -> %s", sourceDir, targetDir)

	files, err := d.discoverFiles(sourceDir, targetDir)
	if err != nil {
		return nil, fmt.Errorf("failed to discover files: %w", err)
	}

	report := &Report{Found: len(files)}
	if len(files) == 0 {
		d.logger.Info("No images found to compress")
		return report, nil
	}
	d.logger.Infof("Found %d images to process", len(files))
	if dryRun {
		d.logger.Info("Running in dry-run mode - no files will be written")
	}

	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		fileChan = make(chan FileInfo, d.config.BufferSize)
	)

	for i := 0; i < d.workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for file := range fileChan {
				res := d.processFile(ctx, file, targetDir, dryRun)
				mu.Lock()
				report.add(res)
				mu.Unlock()
			}
		}()
	}

	go func() {
		defer close(fileChan)
		for _, file := range files {
			select {
			case fileChan <- file:
			case <-ctx.Done():
				return
			}
		}
	}()

	wg.Wait()

	slices.SortFunc(report.Results, func(a, b Result) int { return strings.Compare(a.Source, b.Source) })
	d.logger.WithFields(logrus.Fields{
		"compressed": report.Compressed,
		"skipped":    report.Skipped,
		"failed":     report.Failed,
	}).Info("Directory compression completed")
	return report, ctx.Err()
}

func (r *Report) add(res Result) {
	r.Results = append(r.Results, res)
	switch {
	case res.Err != nil:
		r.Failed++
	case res.Skipped:
		r.Skipped++
	default:
		r.Compressed++
	}
}

// discoverFiles finds all supported images under sourceDir, skipping the
// target tree and earlier outputs.
func (d *DirectoryCompressor) discoverFiles(sourceDir, targetDir string) ([]FileInfo, error) {
	var files []FileInfo
	absTarget, _ := filepath.Abs(targetDir)
	absSource, _ := filepath.Abs(sourceDir)

	err := filepath.WalkDir(sourceDir, func(path string, entry fs.DirEntry, err error) error {
		if err != nil {
			d.logger.Warnf("Error accessing path %s: %v", path, err)
			return nil
		}

		if entry.IsDir() {
			if abs, _ := filepath.Abs(path); abs == absTarget && abs != absSource {
				d.logger.Debugf("Skipping target directory: %s", path)
				return filepath.SkipDir
			}
			return nil
		}

		if !d.isSupportedFile(path) {
			return nil
		}

		info, err := entry.Info()
		if err != nil {
			d.logger.Warnf("Error reading file info %s: %v", path, err)
			return nil
		}
		rel, err := filepath.Rel(sourceDir, path)
		if err != nil {
			return err
		}

		files = append(files, FileInfo{
			Path:    path,
			RelPath: rel,
			Size:    info.Size(),
			ModTime: info.ModTime(),
		})

		if d.config.MaxFilesPerRun > 0 && len(files) >= d.config.MaxFilesPerRun {
			d.logger.Infof("Reached maximum files limit (%d), stopping discovery", d.config.MaxFilesPerRun)
			return filepath.SkipAll
		}
		return nil
	})

	return files, err
}

// processFile compresses a single file.
func (d *DirectoryCompressor) processFile(ctx context.Context, file FileInfo, targetDir string, dryRun bool) Result {
	res := Result{Source: file.Path, OriginalSize: file.Size}
	entry := logger.WithImage(d.logger, file.Path, "batch")

	data, err := os.ReadFile(file.Path)
	if err != nil {
		res.Err = err
		entry.WithError(err).Error("Could not read file")
		return res
	}

	src := compressor.File{
		Name:     filepath.Base(file.Path),
		MIMEType: mimetype.Detect(data).String(),
		Data:     data,
		ModTime:  file.ModTime,
	}
	if _, err := d.validator.Validate(validation.Candidate{
		Name:     src.Name,
		MIMEType: src.MIMEType,
		Size:     src.Size(),
		Content:  bytes.NewReader(data),
	}); err != nil {
		res.Skipped = true
		entry.WithError(err).Info("Skipping file")
		return res
	}

	if dryRun {
		res.Target = d.generateTargetPath(file, targetDir, src.Name)
		entry.Infof("DRY-RUN: Would compress %s -> %s", file.Path, res.Target)
		return res
	}

	d.stats.RecordCompressionStarted()
	start := time.Now()
	out, err := d.compressor.Compress(ctx, src, d.opts, nil)
	if err != nil {
		d.stats.RecordCompressionFailure()
		res.Err = err
		entry.WithError(err).Error("Compression failed")
		return res
	}
	d.stats.RecordCompression(src.Size(), out.Size(), time.Since(start))

	targetPath := d.generateTargetPath(file, targetDir, out.Name)
	if d.fileExists(targetPath) {
		switch d.config.DuplicateHandling {
		case "skip":
			res.Skipped = true
			entry.Infof("Skipping existing output: %s", targetPath)
			return res
		case "overwrite":
			entry.Infof("Overwriting existing file: %s", targetPath)
		default:
			targetPath = d.generateUniqueFilename(targetPath)
		}
	}

	if err := d.createDirectory(filepath.Dir(targetPath)); err != nil {
		res.Err = err
		entry.WithError(err).Error("Could not create directory")
		return res
	}
	if err := os.WriteFile(targetPath, out.Data, 0644); err != nil {
		res.Err = err
		entry.WithError(err).Error("Could not write file")
		return res
	}

	res.Target = targetPath
	res.CompressedSize = out.Size()
	entry.WithFields(logrus.Fields{
		"target":    targetPath,
		"reduction": statistics.ReductionPercentage(res.OriginalSize, res.CompressedSize),
	}).Info("Compressed file")
	return res
}

// generateTargetPath maps a source file to its output path. outName carries
// the extension chosen by the compressor.
func (d *DirectoryCompressor) generateTargetPath(file FileInfo, targetDir, outName string) string {
	ext := filepath.Ext(outName)
	base := strings.TrimSuffix(outName, ext) + d.config.OutputSuffix + ext
	return filepath.Join(targetDir, filepath.Dir(file.RelPath), base)
}

func (d *DirectoryCompressor) fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

// generateUniqueFilename returns a unique filename by adding a counter.
func (d *DirectoryCompressor) generateUniqueFilename(basePath string) string {
	dir := filepath.Dir(basePath)
	name := filepath.Base(basePath)
	ext := filepath.Ext(name)
	nameWithoutExt := strings.TrimSuffix(name, ext)

	for counter := 1; ; counter++ {
		newPath := filepath.Join(dir, fmt.Sprintf("%s_%d%s", nameWithoutExt, counter, ext))
		if _, err := os.Stat(newPath); errors.Is(err, fs.ErrNotExist) {
			return newPath
		}
	}
}

// createDirectory creates a directory and its parents if they do not exist.
func (d *DirectoryCompressor) createDirectory(dirPath string) error {
	if _, err := os.Stat(dirPath); errors.Is(err, fs.ErrNotExist) {
		if err := os.MkdirAll(dirPath, 0755); err != nil {
			return err
		}
		d.logger.Debugf("Created directory: %s", dirPath)
	}
	return nil
}

// isSupportedFile reports whether path looks like an image that is not
// itself an earlier output.
func (d *DirectoryCompressor) isSupportedFile(path string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	if !slices.Contains(supportedExts, ext) {
		return false
	}
	if d.config.OutputSuffix == "" {
		return true
	}
	stem := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	if strings.HasSuffix(stem, d.config.OutputSuffix) {
		return false
	}
	// rename adds _N after the suffix
	if i := strings.LastIndex(stem, "_"); i > 0 && strings.HasSuffix(stem[:i], d.config.OutputSuffix) {
		return false
	}
	return true
}
