package hal

import (
	"context"
	"fmt"
	"image"
	"time"

	"automacro/internal/vision"
)

type HealthStatus uint8

const (
	Healthy HealthStatus = iota
	Degraded
	Unhealthy
)

func (s HealthStatus) String() string {
	switch s {
	case Healthy:
		return "healthy"
	case Degraded:
		return "degraded"
	default:
		return "unhealthy"
	}
}

func (s HealthStatus) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

const DefaultHealthTimeout = 2 * time.Second

type HealthOptions struct {
	// Timeout bounds each sub-service check. Zero means DefaultHealthTimeout.
	Timeout time.Duration
}

type ServiceHealth struct {
	Name    string        `json:"name"`
	Status  HealthStatus  `json:"status"`
	Latency time.Duration `json:"latency"`
	Error   string        `json:"error,omitempty"`
}

type HealthCheckResult struct {
	Status    HealthStatus    `json:"status"`
	State     string          `json:"state"`
	Platform  string          `json:"platform"`
	Services  []ServiceHealth `json:"services"`
	CheckedAt time.Time       `json:"checked_at"`
}

type serviceCheck struct {
	name string
	fn   func(ctx context.Context) error
}

func (h *HAL) checks() []serviceCheck {
	b := h.binding
	return []serviceCheck{
		{"keyboard", checkOr(b.Keyboard(), nil)},
		{"mouse", checkOr(b.Mouse(), func(context.Context) error {
			_, _, err := b.Mouse().Position()
			return err
		})},
		{"screen", checkOr(b.Screen(), func(ctx context.Context) error {
			bounds := b.Screen().Bounds()
			if bounds.Empty() {
				return fmt.Errorf("screen reports empty bounds")
			}
			_, err := b.Screen().Capture(ctx, image.Rectangle{Min: bounds.Min, Max: bounds.Min.Add(image.Pt(1, 1))})
			return err
		})},
		{"global_hotkeys", checkOr(b.Hotkeys(), nil)},
		{"window", checkOr(b.Window(), func(context.Context) error {
			_, err := b.Window().ActiveTitle()
			return err
		})},
		{"image_recognition", h.recognitionSelfTest},
	}
}

const (
	selfTestPatch      = 16
	selfTestConfidence = 0.99
)

// recognitionSelfTest captures a corner of the screen and requires the recognition
// service to find it again in place.
func (h *HAL) recognitionSelfTest(ctx context.Context) error {
	bounds := h.screen.Bounds()
	if bounds.Empty() {
		return fmt.Errorf("screen reports empty bounds")
	}
	r := image.Rectangle{Min: bounds.Min, Max: bounds.Min.Add(image.Pt(selfTestPatch, selfTestPatch))}.Intersect(bounds)
	shot, err := h.screen.Capture(ctx, r)
	if err != nil {
		return err
	}
	tpl, err := vision.NewTemplate("health", shot)
	if err != nil {
		return err
	}
	res, err := h.images.FindImage(ctx, tpl, selfTestConfidence, &r)
	if err != nil {
		return err
	}
	if !res.IsMatch {
		return fmt.Errorf("self-test patch not recognised (confidence %.3f)", res.Confidence)
	}
	return nil
}

func checkOr(svc any, fallback func(context.Context) error) func(context.Context) error {
	if p, ok := svc.(Prober); ok {
		return p.Probe
	}
	if fallback == nil {
		return func(context.Context) error { return nil }
	}
	return fallback
}

// HealthCheck runs one self-test per sub-service concurrently. A check that does
// not finish within the timeout is reported unhealthy and left behind; the
// check itself always returns by the deadline.
func (h *HAL) HealthCheck(ctx context.Context, opts HealthOptions) HealthCheckResult {
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultHealthTimeout
	}
	res := HealthCheckResult{State: h.State().String(), Platform: h.binding.Name(), CheckedAt: time.Now()}
	if err := h.ready(); err != nil {
		res.Status = Unhealthy
		res.Services = []ServiceHealth{{Name: "hal", Status: Unhealthy, Error: err.Error()}}
		return res
	}

	checks := h.checks()
	pctx, cancel := context.WithTimeout(ctx, opts.Timeout)
	defer cancel()

	type outcome struct {
		idx int
		sh  ServiceHealth
	}
	results := make(chan outcome, len(checks))
	for i, p := range checks {
		go func() {
			start := time.Now()
			sh := ServiceHealth{Name: p.name, Status: Healthy}
			err := safeCheck(pctx, p.fn)
			sh.Latency = time.Since(start)
			if err != nil {
				sh.Status = Unhealthy
				sh.Error = err.Error()
			}
			results <- outcome{i, sh}
		}()
	}

	res.Services = make([]ServiceHealth, len(checks))
	for i, p := range checks {
		res.Services[i] = ServiceHealth{Name: p.name, Status: Unhealthy, Latency: opts.Timeout, Error: "timeout"}
	}
	pending := len(checks)
collect:
	for pending > 0 {
		select {
		case o := <-results:
			res.Services[o.idx] = o.sh
			pending--
		case <-pctx.Done():
			break collect
		}
	}

	unhealthy := 0
	for _, s := range res.Services {
		if s.Status != Healthy {
			unhealthy++
		}
	}
	switch {
	case unhealthy == 0:
		res.Status = Healthy
	case unhealthy == len(res.Services):
		res.Status = Unhealthy
	default:
		res.Status = Degraded
	}
	return res
}

func safeCheck(ctx context.Context, fn func(context.Context) error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("health check panicked: %v", r)
		}
	}()
	return fn(ctx)
}

func (h *HAL) startMonitor(interval time.Duration) {
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	h.monitorStop, h.monitorDone = cancel, done

	go func() {
		defer close(done)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				timeout := min(interval/2, DefaultHealthTimeout)
				res := h.HealthCheck(ctx, HealthOptions{Timeout: timeout})
				if res.Status != Healthy {
					h.logger.Warn("hal health degraded", "status", res.Status.String())
				}
				if h.onHealth != nil {
					h.onHealth(res)
				}
			}
		}
	}()
}

func (h *HAL) stopMonitor() {
	if h.monitorStop == nil {
		return
	}
	h.monitorStop()
	<-h.monitorDone
	h.monitorStop, h.monitorDone = nil, nil
}
