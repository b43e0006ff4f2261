// Package vision locates image templates on screen. Matching is deterministic
// normalized cross-correlation over grayscale pixels with a coarse-to-fine pyramid
// for large search areas.
package vision

import (
	"context"
	"errors"
	"fmt"
	"image"
	"math"
	"runtime"
	"time"

	"automacro/internal/errs"
)

// Screen is the capture capability matching needs.
type Screen interface {
	Bounds() image.Rectangle
	Capture(ctx context.Context, r image.Rectangle) (*image.RGBA, error)
}

// MatchResult is produced fresh for every call. Region is in screen coordinates
// and only set when IsMatch is true; Confidence is the best score found.
type MatchResult struct {
	IsMatch    bool            `json:"is_match"`
	Region     image.Rectangle `json:"region"`
	Confidence float64         `json:"confidence"`
	TemplateID string          `json:"template_id"`
}

type Logger interface {
	Debug(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}

// Service runs template searches against a Screen.
type Service struct {
	screen    Screen
	workers   int
	threshold float64
	logger    Logger
}

type Option func(*Service)

// WithWorkers sets how many goroutines share one exhaustive scan.
func WithWorkers(n int) Option {
	return func(s *Service) {
		if n > 0 {
			s.workers = n
		}
	}
}

// WithDefaultThreshold sets the threshold Find uses for templates without one.
func WithDefaultThreshold(t float64) Option {
	return func(s *Service) {
		if !math.IsNaN(t) {
			s.threshold = clamp01(t)
		}
	}
}

func WithLogger(l Logger) Option {
	return func(s *Service) {
		if l != nil {
			s.logger = l
		}
	}
}

func NewService(screen Screen, opts ...Option) *Service {
	s := &Service{
		screen:    screen,
		workers:   runtime.GOMAXPROCS(0),
		threshold: DefaultThreshold,
		logger:    noopLogger{},
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Find searches with the template's own threshold and region, or the service defaults.
func (s *Service) Find(ctx context.Context, tpl *Template) (MatchResult, error) {
	th := s.threshold
	if tpl != nil && tpl.Threshold != 0 {
		th = tpl.Threshold
	}
	return s.FindImage(ctx, tpl, th, nil)
}

// FindImage captures region (or the template's region, or the whole screen) and
// reports the best placement of tpl. The threshold is clamped to [0,1], so a
// negative threshold accepts any placement. A miss is a result, not an error.
func (s *Service) FindImage(ctx context.Context, tpl *Template, threshold float64, region *image.Rectangle) (MatchResult, error) {
	if tpl.empty() {
		return MatchResult{}, errs.Invalid("empty template")
	}
	if math.IsNaN(threshold) {
		return MatchResult{}, errs.Invalid("template %s: threshold is NaN", tpl.ID)
	}
	threshold = clamp01(threshold)
	res := MatchResult{TemplateID: tpl.ID}

	area, err := s.searchArea(tpl, region)
	if err != nil {
		return res, err
	}
	size := tpl.Size()
	if area.Dx() < size.X || area.Dy() < size.Y {
		return res, nil
	}

	shot, err := s.screen.Capture(ctx, area)
	if err != nil {
		return res, fmt.Errorf("capture %v: %w", area, err)
	}

	start := time.Now()
	pt, score, err := locate(ctx, toGray(shot), tpl.gray, s.workers, threshold)
	if err != nil {
		return res, err
	}
	res.Confidence = confidence(score)
	s.logger.Debug("template search", "template", tpl.ID, "area", area.String(),
		"confidence", res.Confidence, "elapsed", time.Since(start))

	if res.Confidence >= threshold && !math.IsInf(score, -1) {
		res.IsMatch = true
		origin := area.Min.Add(pt)
		res.Region = image.Rectangle{Min: origin, Max: origin.Add(size)}
	}
	return res, nil
}

// WaitForImage polls FindImage every poll interval until a match or until timeout
// elapses. Timing out yields (nil, nil); only cancellation of ctx or a capture
// fault is returned as an error.
func (s *Service) WaitForImage(ctx context.Context, tpl *Template, timeout time.Duration, threshold float64, poll time.Duration, region *image.Rectangle) (*MatchResult, error) {
	if tpl.empty() {
		return nil, errs.Invalid("empty template")
	}
	if poll <= 0 {
		return nil, errs.Invalid("poll interval must be positive, got %v", poll)
	}
	if timeout < 0 {
		return nil, errs.Invalid("negative timeout %v", timeout)
	}

	wctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	ticker := time.NewTicker(poll)
	defer ticker.Stop()

	for {
		res, err := s.FindImage(wctx, tpl, threshold, region)
		switch {
		case err == nil && res.IsMatch:
			return &res, nil
		case err != nil && !errors.Is(err, context.DeadlineExceeded) && !errors.Is(err, context.Canceled):
			return nil, err
		}
		select {
		case <-wctx.Done():
			if err := ctx.Err(); err != nil {
				return nil, err
			}
			return nil, nil
		case <-ticker.C:
		}
	}
}

func (s *Service) searchArea(tpl *Template, region *image.Rectangle) (image.Rectangle, error) {
	screen := s.screen.Bounds()
	if region == nil {
		region = tpl.Region
	} else if region.Empty() {
		return image.Rectangle{}, errs.Invalid("empty search region %v", *region)
	}
	if region == nil {
		return screen, nil
	}
	return region.Intersect(screen), nil
}

// confidence maps a raw correlation onto [0,1], treating rounding noise around a
// perfect match as exact.
func confidence(score float64) float64 {
	if math.IsInf(score, -1) {
		return 0
	}
	if score > 1-1e-9 {
		return 1
	}
	return clamp01(score)
}

func clamp01(v float64) float64 {
	return math.Max(0, math.Min(1, v))
}
