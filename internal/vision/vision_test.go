package vision

import (
	"bytes"
	"context"
	"image"
	"image/color"
	"image/draw"
	"image/png"
	"math/rand"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"automacro/internal/errs"
)

type imageScreen struct {
	img   *image.RGBA
	shots atomic.Int32
}

func (s *imageScreen) Bounds() image.Rectangle { return s.img.Rect }

func (s *imageScreen) Capture(_ context.Context, r image.Rectangle) (*image.RGBA, error) {
	s.shots.Add(1)
	out := image.NewRGBA(image.Rect(0, 0, r.Dx(), r.Dy()))
	draw.Draw(out, out.Rect, s.img, r.Min, draw.Src)
	return out, nil
}

func noise(w, h int, seed int64) *image.RGBA {
	rng := rand.New(rand.NewSource(seed))
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for i := 0; i < len(img.Pix); i += 4 {
		v := uint8(rng.Intn(256))
		img.Pix[i], img.Pix[i+1], img.Pix[i+2], img.Pix[i+3] = v, v/2, 255-v, 255
	}
	return img
}

func uniform(w, h int, c color.Color) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	draw.Draw(img, img.Rect, image.NewUniform(c), image.Point{}, draw.Src)
	return img
}

// screenWith pastes patch into a uniform background at pos.
func screenWith(w, h int, patch image.Image, pos image.Point) *imageScreen {
	bg := uniform(w, h, color.Gray{Y: 40})
	draw.Draw(bg, patch.Bounds().Sub(patch.Bounds().Min).Add(pos), patch, patch.Bounds().Min, draw.Src)
	return &imageScreen{img: bg}
}

func TestFindImageExactCopy(t *testing.T) {
	patch := noise(24, 16, 1)
	screen := screenWith(200, 120, patch, image.Pt(57, 33))
	tpl, err := NewTemplate("patch", patch)
	require.NoError(t, err)

	res, err := NewService(screen).FindImage(context.Background(), tpl, DefaultThreshold, nil)
	require.NoError(t, err)
	assert.True(t, res.IsMatch)
	assert.InDelta(t, 1.0, res.Confidence, 1e-6)
	assert.Equal(t, image.Rect(57, 33, 81, 49), res.Region)
	assert.Equal(t, "patch", res.TemplateID)
}

func TestFindImageLargeScreenUsesPyramid(t *testing.T) {
	bg := noise(640, 480, 2)
	patch := image.NewRGBA(image.Rect(0, 0, 40, 40))
	draw.Draw(patch, patch.Rect, bg, image.Pt(128, 76), draw.Src)
	require.Positive(t, pyramidDepth(bg.Rect.Size(), patch.Rect.Size()))

	tpl, err := NewTemplate("p", patch)
	require.NoError(t, err)
	res, err := NewService(&imageScreen{img: bg}, WithWorkers(4)).FindImage(context.Background(), tpl, 0.9, nil)
	require.NoError(t, err)
	assert.True(t, res.IsMatch)
	assert.Equal(t, image.Pt(128, 76), res.Region.Min)
	assert.InDelta(t, 1.0, res.Confidence, 1e-6)
}

// stripes draws 1px vertical black and white columns, which average to flat
// grey at every coarser resolution.
func stripes(w, h int) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			if x%2 == 1 {
				img.Set(x, y, color.White)
			} else {
				img.Set(x, y, color.Black)
			}
		}
	}
	return img
}

func TestFindImageFineTextureAtOddOffset(t *testing.T) {
	patch := stripes(32, 32)
	bg := uniform(800, 600, color.Gray{Y: 128})
	draw.Draw(bg, image.Rect(401, 301, 433, 333), patch, image.Point{}, draw.Src)
	require.Positive(t, pyramidDepth(bg.Rect.Size(), patch.Rect.Size()))

	tpl, err := NewTemplate("stripes", patch)
	require.NoError(t, err)
	res, err := NewService(&imageScreen{img: bg}, WithWorkers(4)).FindImage(context.Background(), tpl, 0.8, nil)
	require.NoError(t, err)
	assert.True(t, res.IsMatch)
	assert.Equal(t, image.Pt(401, 301), res.Region.Min)
	assert.InDelta(t, 1.0, res.Confidence, 1e-6)
}

func TestPyramidStopsWhenDetailIsLost(t *testing.T) {
	hay := toGray(uniform(800, 600, color.Gray{Y: 128}))
	assert.Len(t, pyramid(hay, toGray(stripes(32, 32)), 2), 1)
	assert.Len(t, pyramid(hay, toGray(uniform(32, 32, color.Black)), 2), 3, "flat templates stay flat at every level")
	assert.Len(t, pyramid(hay, toGray(noise(32, 32, 7)), 2), 3)
}

func TestFindImageBlankRegionMisses(t *testing.T) {
	tpl, err := NewTemplate("p", noise(16, 16, 3))
	require.NoError(t, err)
	screen := &imageScreen{img: uniform(100, 100, color.White)}

	res, err := NewService(screen).FindImage(context.Background(), tpl, DefaultThreshold, nil)
	require.NoError(t, err)
	assert.False(t, res.IsMatch)
	assert.Equal(t, image.Rectangle{}, res.Region)
	assert.Less(t, res.Confidence, DefaultThreshold)
}

func TestFindImageFlatTemplate(t *testing.T) {
	patch := uniform(10, 10, color.Black)
	screen := screenWith(80, 80, patch, image.Pt(30, 20))
	tpl, err := NewTemplate("black", patch)
	require.NoError(t, err)

	res, err := NewService(screen).FindImage(context.Background(), tpl, 0.99, nil)
	require.NoError(t, err)
	assert.True(t, res.IsMatch)
	assert.Equal(t, image.Pt(30, 20), res.Region.Min)
}

func TestFindImageArgumentErrors(t *testing.T) {
	svc := NewService(&imageScreen{img: uniform(10, 10, color.White)})

	_, err := svc.FindImage(context.Background(), nil, 0.8, nil)
	assert.ErrorIs(t, err, errs.ErrInvalidArgument)

	_, err = NewTemplate("empty", image.NewRGBA(image.Rectangle{}))
	assert.ErrorIs(t, err, errs.ErrInvalidArgument)

	_, err = DecodeTemplate("junk", []byte("not an image"))
	assert.ErrorIs(t, err, errs.ErrInvalidArgument)

	tpl, _ := NewTemplate("t", noise(4, 4, 1))
	empty := image.Rect(5, 5, 5, 5)
	_, err = svc.FindImage(context.Background(), tpl, 0.8, &empty)
	assert.ErrorIs(t, err, errs.ErrInvalidArgument)
}

func TestFindImageTemplateLargerThanRegion(t *testing.T) {
	screen := &imageScreen{img: noise(50, 50, 4)}
	tpl, err := NewTemplate("big", noise(30, 30, 5))
	require.NoError(t, err)

	region := image.Rect(0, 0, 20, 20)
	res, err := NewService(screen).FindImage(context.Background(), tpl, 0.8, &region)
	require.NoError(t, err)
	assert.False(t, res.IsMatch)
	assert.Zero(t, screen.shots.Load())
}

func TestFindImageOffscreenRegionMisses(t *testing.T) {
	screen := &imageScreen{img: noise(50, 50, 4)}
	tpl, _ := NewTemplate("t", noise(5, 5, 5))
	region := image.Rect(100, 100, 200, 200)

	res, err := NewService(screen).FindImage(context.Background(), tpl, 0.8, &region)
	require.NoError(t, err)
	assert.False(t, res.IsMatch)
}

func TestThresholdIsClamped(t *testing.T) {
	screen := &imageScreen{img: uniform(40, 40, color.White)}
	tpl, _ := NewTemplate("t", noise(8, 8, 6))
	svc := NewService(screen)

	res, err := svc.FindImage(context.Background(), tpl, -0.5, nil)
	require.NoError(t, err)
	assert.True(t, res.IsMatch, "negative threshold accepts any placement")

	patch := noise(8, 8, 7)
	exact := screenWith(40, 40, patch, image.Pt(3, 3))
	tpl2, _ := NewTemplate("t2", patch)
	res, err = NewService(exact).FindImage(context.Background(), tpl2, 7, nil)
	require.NoError(t, err)
	assert.True(t, res.IsMatch, "threshold above one clamps to a perfect match")
}

func TestRegionOffsetsResult(t *testing.T) {
	patch := noise(10, 10, 8)
	screen := screenWith(100, 100, patch, image.Pt(60, 70))
	tpl, _ := NewTemplate("t", patch)
	region := image.Rect(50, 50, 100, 100)
	tpl.Region = &region

	res, err := NewService(screen).Find(context.Background(), tpl)
	require.NoError(t, err)
	require.True(t, res.IsMatch)
	assert.Equal(t, image.Rect(60, 70, 70, 80), res.Region)
}

func TestDecodeTemplatePNG(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, noise(6, 5, 9)))
	tpl, err := DecodeTemplate("png", buf.Bytes())
	require.NoError(t, err)
	assert.Equal(t, image.Pt(6, 5), tpl.Size())
}

func TestWaitForImageTimesOut(t *testing.T) {
	screen := &imageScreen{img: uniform(60, 60, color.White)}
	tpl, _ := NewTemplate("t", noise(8, 8, 10))

	start := time.Now()
	res, err := NewService(screen).WaitForImage(context.Background(), tpl, 200*time.Millisecond, 0.8, 50*time.Millisecond, nil)
	elapsed := time.Since(start)

	require.NoError(t, err)
	assert.Nil(t, res)
	assert.GreaterOrEqual(t, elapsed, 150*time.Millisecond)
	assert.LessOrEqual(t, elapsed, 260*time.Millisecond)
	assert.GreaterOrEqual(t, screen.shots.Load(), int32(3))
}

type appearingScreen struct {
	imageScreen
	after int32
	patch *image.RGBA
}

func (s *appearingScreen) Capture(ctx context.Context, r image.Rectangle) (*image.RGBA, error) {
	if s.shots.Load() == s.after {
		draw.Draw(s.img, s.patch.Rect.Add(image.Pt(5, 5)), s.patch, image.Point{}, draw.Src)
	}
	return s.imageScreen.Capture(ctx, r)
}

func TestWaitForImageFindsLateAppearance(t *testing.T) {
	patch := noise(8, 8, 11)
	screen := &appearingScreen{imageScreen: imageScreen{img: uniform(40, 40, color.White)}, after: 2, patch: patch}
	tpl, _ := NewTemplate("late", patch)

	res, err := NewService(screen).WaitForImage(context.Background(), tpl, time.Second, 0.9, 10*time.Millisecond, nil)
	require.NoError(t, err)
	require.NotNil(t, res)
	assert.Equal(t, image.Pt(5, 5), res.Region.Min)
}

func TestWaitForImageArguments(t *testing.T) {
	svc := NewService(&imageScreen{img: uniform(10, 10, color.White)})
	tpl, _ := NewTemplate("t", noise(4, 4, 1))

	_, err := svc.WaitForImage(context.Background(), tpl, time.Second, 0.8, 0, nil)
	assert.ErrorIs(t, err, errs.ErrInvalidArgument)
	_, err = svc.WaitForImage(context.Background(), nil, time.Second, 0.8, time.Millisecond, nil)
	assert.ErrorIs(t, err, errs.ErrInvalidArgument)
}

func TestWaitForImageHonoursCancel(t *testing.T) {
	svc := NewService(&imageScreen{img: uniform(20, 20, color.White)})
	tpl, _ := NewTemplate("t", noise(4, 4, 1))
	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(30*time.Millisecond, cancel)

	res, err := svc.WaitForImage(ctx, tpl, 5*time.Second, 0.8, 10*time.Millisecond, nil)
	assert.Nil(t, res)
	assert.ErrorIs(t, err, context.Canceled)
}
