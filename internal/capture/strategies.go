package capture

import (
	"context"
	"encoding/base64"
	"fmt"
	"path/filepath"
	"strconv"
	"time"

	"github.com/spf13/afero"
	"go.uber.org/zap"

	"github.com/xkilldash9x/stepwright/api/schemas"
	"github.com/xkilldash9x/stepwright/internal/config"
)

// ContentTypePNG is the media type of every full-page capture.
const ContentTypePNG = "image/png"

// ScreenshotWriter is the data-store capability the store strategy needs.
type ScreenshotWriter interface {
	CreateScreenshot(ctx context.Context, shot *schemas.Screenshot) (int64, error)
}

// StoreStrategy writes the bytes as a screenshot row in the data store.
type StoreStrategy struct {
	writer ScreenshotWriter
}

func NewStoreStrategy(writer ScreenshotWriter) *StoreStrategy {
	return &StoreStrategy{writer: writer}
}

func (s *StoreStrategy) Name() string { return "store" }

func (s *StoreStrategy) Persist(ctx context.Context, shot Shot) (Ref, error) {
	id, err := s.writer.CreateScreenshot(ctx, &schemas.Screenshot{
		ExecutionID: shot.ExecutionID,
		StepNumber:  shot.StepNumber,
		Filename:    shot.Filename,
		ContentType: contentTypeOf(shot),
		Data:        shot.Data,
	})
	if err != nil {
		return Ref{}, err
	}
	return Ref{URL: schemas.ScreenshotURLPrefix + strconv.FormatInt(id, 10), ScreenshotID: &id}, nil
}

// BucketStrategy writes the bytes under <dir>/<executionID>/<step>_<filename>.
type BucketStrategy struct {
	fs  afero.Fs
	dir string
}

// NewBucketStrategy writes to dir on fs. An OS filesystem is used when fs is nil.
func NewBucketStrategy(fs afero.Fs, dir string) *BucketStrategy {
	if fs == nil {
		fs = afero.NewOsFs()
	}
	return &BucketStrategy{fs: fs, dir: dir}
}

func (b *BucketStrategy) Name() string { return "bucket" }

func (b *BucketStrategy) Persist(ctx context.Context, shot Shot) (Ref, error) {
	if err := ctx.Err(); err != nil {
		return Ref{}, err
	}

	dir := filepath.Join(b.dir, strconv.FormatInt(shot.ExecutionID, 10))
	if err := b.fs.MkdirAll(dir, 0o755); err != nil {
		return Ref{}, fmt.Errorf("create bucket directory: %w", err)
	}
	path := filepath.Join(dir, fmt.Sprintf("%d_%s", shot.StepNumber, shot.Filename))
	if err := afero.WriteFile(b.fs, path, shot.Data, 0o644); err != nil {
		return Ref{}, fmt.Errorf("write screenshot: %w", err)
	}

	if abs, err := filepath.Abs(path); err == nil {
		path = abs
	}
	return Ref{URL: "file://" + filepath.ToSlash(path)}, nil
}

// InlineStrategy embeds the bytes in a data URI. It cannot fail.
type InlineStrategy struct{}

func (InlineStrategy) Name() string { return "inline" }

func (InlineStrategy) Persist(_ context.Context, shot Shot) (Ref, error) {
	return Ref{URL: "data:" + contentTypeOf(shot) + ";base64," + base64.StdEncoding.EncodeToString(shot.Data)}, nil
}

func contentTypeOf(shot Shot) string {
	if shot.ContentType != "" {
		return shot.ContentType
	}
	return ContentTypePNG
}

// NewDefaultChain builds store, then bucket, then inline. The store strategy is
// skipped when writer is nil and the bucket when no directory is configured.
func NewDefaultChain(writer ScreenshotWriter, cfg config.CaptureConfig, logger *zap.Logger) *Chain {
	var strategies []Strategy
	if writer != nil {
		strategies = append(strategies, NewStoreStrategy(writer))
	}
	if cfg.BucketDir != "" {
		strategies = append(strategies, NewBucketStrategy(nil, cfg.BucketDir))
	}
	strategies = append(strategies, InlineStrategy{})
	return NewChain(logger, strategies...)
}

// Filename names a capture the way every run does: <kind>_<step>_<unix millis>.png.
func Filename(kind string, step int, at time.Time) string {
	return fmt.Sprintf("%s_%d_%d.png", kind, step, at.UnixMilli())
}
