// Package ytdlp provides the download collaborator backed by yt-dlp.
package ytdlp

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	goytdlp "github.com/lrstanley/go-ytdlp"
	zlog "github.com/rs/zerolog/log"

	"github.com/osa030/pomobox/internal/app/download"
)

const (
	defaultBinary = "yt-dlp"
	defaultFFmpeg = "ffmpeg"

	audioFormat    = "mp3"
	audioSelector  = "bestaudio/best"
	videoSelector  = "bestvideo[ext=mp4]+bestaudio[ext=m4a]/best[ext=mp4]/best"
	outputTemplate = "%(title)s.%(ext)s"
)

var (
	ErrToolMissing = errors.New("download tool missing")
	ErrNoOutput    = errors.New("download reported no output file")
)

// Config represents downloader configuration.
type Config struct {
	AudioDir         string
	VideoDir         string
	Binary           string // yt-dlp executable; looked up in PATH when empty
	FFmpeg           string
	ProgressInterval time.Duration
}

// Downloader resolves URLs to local files. Audio-only jobs are converted to
// mp3 in AudioDir; the others are stored as mp4 in VideoDir.
type Downloader struct {
	cfg      Config
	lookPath func(file string) (string, error)
}

var _ download.Downloader = (*Downloader)(nil)

// New creates a downloader.
func New(cfg Config) *Downloader {
	if cfg.Binary == "" {
		cfg.Binary = defaultBinary
	}
	if cfg.FFmpeg == "" {
		cfg.FFmpeg = defaultFFmpeg
	}
	if cfg.ProgressInterval <= 0 {
		cfg.ProgressInterval = 500 * time.Millisecond
	}
	return &Downloader{cfg: cfg, lookPath: exec.LookPath}
}

// CheckTools reports ErrToolMissing when yt-dlp or ffmpeg cannot be found.
func (d *Downloader) CheckTools() (binary, ffmpeg string, err error) {
	binary, err = d.lookPath(d.cfg.Binary)
	if err != nil {
		return "", "", errors.Wrapf(ErrToolMissing, "%s: %v", d.cfg.Binary, err)
	}
	ffmpeg, err = d.lookPath(d.cfg.FFmpeg)
	if err != nil {
		return "", "", errors.Wrapf(ErrToolMissing, "%s: %v", d.cfg.FFmpeg, err)
	}
	return binary, ffmpeg, nil
}

// Download runs yt-dlp for one job.
func (d *Downloader) Download(ctx context.Context, job download.Job, progress func(percent int)) (download.Result, error) {
	binary, ffmpeg, err := d.CheckTools()
	if err != nil {
		return download.Result{}, err
	}

	dir := d.targetDir(job.AudioOnly)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return download.Result{}, errors.Wrap(err, "failed to create download directory")
	}

	var (
		titleMu sync.Mutex
		title   string
	)

	dl := goytdlp.New().
		SetExecutable(binary).
		FFmpegLocation(ffmpeg).
		NoPlaylist().
		RestrictFilenames().
		PrintJSON().
		Output(filepath.Join(dir, outputTemplate))
	if job.AudioOnly {
		dl = dl.Format(audioSelector).ExtractAudio().AudioFormat(audioFormat)
	} else {
		dl = dl.Format(videoSelector)
	}

	dl.ProgressFunc(d.cfg.ProgressInterval, func(update goytdlp.ProgressUpdate) {
		if update.Info != nil && update.Info.Title != nil && *update.Info.Title != "" {
			titleMu.Lock()
			title = *update.Info.Title
			titleMu.Unlock()
		}
		if progress != nil {
			progress(percentOf(update.DownloadedBytes, update.TotalBytes))
		}
	})

	zlog.Info().Msgf("ytdlp: download started: job_id=%s url=%s audio_only=%t dir=%s", job.ID, job.URL, job.AudioOnly, dir)

	result, err := dl.Run(ctx, job.URL)
	if err != nil {
		return download.Result{}, errors.Wrapf(err, "yt-dlp failed for %s", job.URL)
	}

	info, err := result.GetExtractedInfo()
	if err != nil {
		return download.Result{}, errors.Wrap(err, "failed to read extracted info")
	}
	if len(info) == 0 || info[0].Filename == nil || *info[0].Filename == "" {
		return download.Result{}, errors.Wrapf(ErrNoOutput, "%s", job.URL)
	}

	path := resolvePath(*info[0].Filename, job.AudioOnly)
	titleMu.Lock()
	res := download.Result{Path: path, Title: title}
	titleMu.Unlock()
	if info[0].Title != nil && *info[0].Title != "" {
		res.Title = *info[0].Title
	}

	zlog.Info().Msgf("ytdlp: download finished: job_id=%s path=%s title=%q", job.ID, res.Path, res.Title)
	return res, nil
}

func (d *Downloader) targetDir(audioOnly bool) string {
	if audioOnly {
		return d.cfg.AudioDir
	}
	return d.cfg.VideoDir
}

// resolvePath returns the final file name. Audio extraction replaces the
// container extension reported before post-processing.
func resolvePath(filename string, audioOnly bool) string {
	if !audioOnly {
		return filename
	}
	ext := filepath.Ext(filename)
	if strings.EqualFold(ext, "."+audioFormat) {
		return filename
	}
	return strings.TrimSuffix(filename, ext) + "." + audioFormat
}

func percentOf(downloaded, total int) int {
	if total <= 0 || downloaded <= 0 {
		return 0
	}
	if downloaded >= total {
		return 100
	}
	return int(float64(downloaded) / float64(total) * 100)
}
