// Package ocr turns an input file into RawText. Plain-text files pass through;
// images and PDFs go to an OCR provider.
package ocr

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/avast/retry-go/v4"
	"github.com/pdfcpu/pdfcpu/pkg/api"

	"github.com/jackzampolin/docextract/internal/metrics"
	"github.com/jackzampolin/docextract/internal/providers"
	"github.com/jackzampolin/docextract/internal/types"
)

// Stage is the metrics stage name for OCR calls.
const Stage = "ocr"

// EngineText marks RawText read directly from a text file.
const EngineText = "text"

var (
	// ErrUnsupportedInput is returned for file extensions the reader cannot handle.
	ErrUnsupportedInput = errors.New("unsupported input file")
	// ErrNoProvider is returned when an image or PDF arrives without an OCR provider.
	ErrNoProvider = errors.New("no OCR provider configured")
	// ErrNoDocumentOCR is returned when the provider cannot process whole documents.
	ErrNoDocumentOCR = errors.New("OCR provider cannot process documents")
)

// Kind classifies an input file by extension.
type Kind int

const (
	KindUnsupported Kind = iota
	KindText
	KindImage
	KindPDF
)

var imageMIME = map[string]string{
	".jpg":  "image/jpeg",
	".jpeg": "image/jpeg",
	".png":  "image/png",
	".bmp":  "image/bmp",
	".tiff": "image/tiff",
	".tif":  "image/tiff",
}

// KindOf returns the input kind for path.
func KindOf(path string) Kind {
	ext := strings.ToLower(filepath.Ext(path))
	switch {
	case ext == ".txt" || ext == ".md":
		return KindText
	case ext == ".pdf":
		return KindPDF
	case imageMIME[ext] != "":
		return KindImage
	}
	return KindUnsupported
}

// Supported reports whether path has an extension the reader accepts.
func Supported(path string) bool {
	return KindOf(path) != KindUnsupported
}

// Reader produces RawText from files.
type Reader struct {
	provider providers.OCRProvider
	limiter  *providers.RateLimiter
	metrics  *metrics.Recorder
	logger   *slog.Logger
}

// Option configures a Reader.
type Option func(*Reader)

// WithProvider sets the OCR provider used for images and PDFs.
func WithProvider(p providers.OCRProvider) Option {
	return func(r *Reader) {
		r.provider = p
		if p != nil {
			r.limiter = providers.NewRateLimiter(p.RequestsPerSecond())
		}
	}
}

// WithMetrics records OCR calls into rec.
func WithMetrics(rec *metrics.Recorder) Option {
	return func(r *Reader) { r.metrics = rec }
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(r *Reader) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// NewReader creates a Reader. Without a provider only text files can be read.
func NewReader(opts ...Option) *Reader {
	r := &Reader{logger: slog.Default()}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Read produces RawText for path.
func (r *Reader) Read(ctx context.Context, path string) (*types.RawText, error) {
	switch KindOf(path) {
	case KindText:
		return r.readText(path)
	case KindImage:
		return r.readImage(ctx, path)
	case KindPDF:
		return r.readPDF(ctx, path)
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedInput, filepath.Ext(path))
	}
}

func (r *Reader) readText(path string) (*types.RawText, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}
	text := string(data)
	return &types.RawText{
		Text:       text,
		WordCount:  len(strings.Fields(text)),
		Confidence: 1,
		PageCount:  1,
		Engine:     EngineText,
		Source:     path,
	}, nil
}

func (r *Reader) readImage(ctx context.Context, path string) (*types.RawText, error) {
	if r.provider == nil {
		return nil, ErrNoProvider
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}
	res, err := r.call(ctx, path, func(ctx context.Context) (*providers.OCRResult, error) {
		return r.provider.ProcessImage(ctx, data, 1)
	})
	if err != nil {
		return nil, err
	}
	return r.rawText(path, res, 1), nil
}

func (r *Reader) readPDF(ctx context.Context, path string) (*types.RawText, error) {
	if r.provider == nil {
		return nil, ErrNoProvider
	}
	docOCR, ok := r.provider.(providers.DocumentOCR)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNoDocumentOCR, r.provider.Name())
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}
	pageCount, err := api.PageCount(bytes.NewReader(data), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to read PDF %s: %w", path, err)
	}
	r.logger.Debug("sending PDF to OCR", "file", path, "pages", pageCount, "provider", r.provider.Name())

	res, err := r.call(ctx, path, func(ctx context.Context) (*providers.OCRResult, error) {
		return docOCR.ProcessDocument(ctx, data, "application/pdf")
	})
	if err != nil {
		return nil, err
	}
	return r.rawText(path, res, pageCount), nil
}

// call runs fn under the provider's rate limit and retry policy.
func (r *Reader) call(ctx context.Context, path string, fn func(context.Context) (*providers.OCRResult, error)) (*providers.OCRResult, error) {
	name := r.provider.Name()
	delay := r.provider.RetryDelayBase()
	if delay <= 0 {
		delay = time.Second
	}

	attempt := 0
	res, err := retry.DoWithData(
		func() (*providers.OCRResult, error) {
			attempt++
			if err := r.limiter.Wait(ctx); err != nil {
				return nil, retry.Unrecoverable(err)
			}
			res, err := fn(ctx)
			r.record(path, attempt, name, res, err)
			if err != nil {
				if rl, ok := providers.IsRateLimitError(err); ok {
					r.limiter.Record429(rl.RetryAfter)
				}
				if ctx.Err() != nil || permanent(err) {
					return nil, retry.Unrecoverable(err)
				}
				return nil, err
			}
			return res, nil
		},
		retry.Context(ctx),
		retry.Attempts(uint(max(r.provider.MaxRetries(), 0)+1)),
		retry.Delay(delay),
		retry.LastErrorOnly(true),
		retry.OnRetry(func(n uint, err error) {
			r.logger.Warn("OCR failed, retrying", "file", path, "provider", name, "attempt", n+1, "error", err)
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("OCR of %s failed: %w", path, err)
	}
	return res, nil
}

func (r *Reader) record(path string, attempt int, provider string, res *providers.OCRResult, err error) {
	if r.metrics == nil {
		return
	}
	opts := metrics.RecordOpts{Stage: Stage, ItemKey: filepath.Base(path)}
	if attempt > 1 {
		opts.ItemKey = fmt.Sprintf("%s#%d", opts.ItemKey, attempt)
	}
	if res == nil {
		res = &providers.OCRResult{}
	}
	if err != nil && res.ErrorMessage == "" {
		res.ErrorMessage = err.Error()
	}
	_ = r.metrics.RecordOCRCall(opts, provider, res)
}

func (r *Reader) rawText(path string, res *providers.OCRResult, pages int) *types.RawText {
	if res.PageCount > 0 {
		pages = res.PageCount
	}
	return &types.RawText{
		Text:       res.Text,
		WordCount:  len(strings.Fields(res.Text)),
		Confidence: res.Confidence,
		PageCount:  pages,
		Engine:     r.provider.Name(),
		Source:     path,
		Pages:      res.Pages,
	}
}

// permanent reports whether the provider rejected the request outright.
// Errors without a status (mock or transport failures) stay retryable.
func permanent(err error) bool {
	var se *providers.StatusError
	return errors.As(err, &se) && !se.Temporary()
}
