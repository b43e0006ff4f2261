package vision

import (
	"context"
	"image"
	"math"
	"sort"

	"golang.org/x/sync/errgroup"
)

const (
	minPyramidSide = 8
	maxPyramidLvl  = 3
	// Below this many pixel comparisons an exhaustive scan is cheap enough.
	pyramidWork = 4_000_000
	candidates  = 6
	refineSpan  = 2
	// A coarse kernel keeping less than this share of the full-resolution
	// variance has lost the texture that identifies the template. Uncorrelated
	// noise keeps about a quarter per level.
	minDetail = 0.02
)

// integral holds summed-area tables of pixel values and their squares.
type integral struct {
	w, h    int
	sum, sq []float64
}

func newIntegral(g *image.Gray) *integral {
	w, h := g.Rect.Dx(), g.Rect.Dy()
	ii := &integral{w: w, h: h, sum: make([]float64, (w+1)*(h+1)), sq: make([]float64, (w+1)*(h+1))}
	for y := 0; y < h; y++ {
		var rs, rq float64
		row := g.Pix[y*g.Stride:]
		for x := 0; x < w; x++ {
			v := float64(row[x])
			rs += v
			rq += v * v
			i := (y+1)*(w+1) + x + 1
			ii.sum[i] = ii.sum[i-(w+1)] + rs
			ii.sq[i] = ii.sq[i-(w+1)] + rq
		}
	}
	return ii
}

func (ii *integral) window(x, y, w, h int) (sum, sq float64) {
	s := ii.w + 1
	a, b, c, d := y*s+x, y*s+x+w, (y+h)*s+x, (y+h)*s+x+w
	return ii.sum[d] - ii.sum[b] - ii.sum[c] + ii.sum[a], ii.sq[d] - ii.sq[b] - ii.sq[c] + ii.sq[a]
}

// kernel is a template prepared for correlation at one pyramid level.
type kernel struct {
	w, h  int
	raw   []float64
	zm    []float64
	sumSq float64
	flat  bool
}

func newKernel(g *image.Gray) *kernel {
	w, h := g.Rect.Dx(), g.Rect.Dy()
	k := &kernel{w: w, h: h, raw: make([]float64, w*h), zm: make([]float64, w*h)}
	var mean float64
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			v := float64(g.Pix[y*g.Stride+x])
			k.raw[y*w+x] = v
			mean += v
		}
	}
	mean /= float64(w * h)
	for i, v := range k.raw {
		k.zm[i] = v - mean
		k.sumSq += k.zm[i] * k.zm[i]
	}
	k.flat = k.sumSq < 1e-6
	return k
}

func (k *kernel) variance() float64 { return k.sumSq / float64(k.w*k.h) }

type level struct {
	hay *image.Gray
	ii  *integral
	k   *kernel
}

// score returns the similarity of the template at (x,y). Textured templates use
// zero-mean normalized cross-correlation; flat templates have no variance to
// correlate against, so they fall back to mean absolute difference.
func (l *level) score(x, y int) float64 {
	k := l.k
	n := float64(k.w * k.h)
	stride := l.hay.Stride
	if k.flat {
		var d float64
		for j := 0; j < k.h; j++ {
			row := l.hay.Pix[(y+j)*stride+x:]
			kr := k.raw[j*k.w:]
			for i := 0; i < k.w; i++ {
				d += math.Abs(float64(row[i]) - kr[i])
			}
		}
		return 1 - d/(n*255)
	}
	sum, sq := l.ii.window(x, y, k.w, k.h)
	v := sq - sum*sum/n
	if v < 1e-6 {
		return 0
	}
	var num float64
	for j := 0; j < k.h; j++ {
		row := l.hay.Pix[(y+j)*stride+x:]
		kr := k.zm[j*k.w:]
		for i := 0; i < k.w; i++ {
			num += float64(row[i]) * kr[i]
		}
	}
	return num / math.Sqrt(v*k.sumSq)
}

type candidate struct {
	pt    image.Point
	score float64
}

// topK keeps the best candidates, collapsing neighbours of the same peak.
type topK struct {
	k     int
	items []candidate
}

func (t *topK) push(c candidate) {
	for i, it := range t.items {
		if abs(it.pt.X-c.pt.X) <= refineSpan && abs(it.pt.Y-c.pt.Y) <= refineSpan {
			if c.score > it.score {
				t.items[i] = c
				t.sort()
			}
			return
		}
	}
	if len(t.items) < t.k {
		t.items = append(t.items, c)
		t.sort()
		return
	}
	if c.score > t.items[len(t.items)-1].score {
		t.items[len(t.items)-1] = c
		t.sort()
	}
}

func (t *topK) sort() {
	sort.SliceStable(t.items, func(i, j int) bool { return t.items[i].score > t.items[j].score })
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}

func downsample(g *image.Gray) *image.Gray {
	w, h := g.Rect.Dx()/2, g.Rect.Dy()/2
	out := image.NewGray(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		r0 := g.Pix[(2*y)*g.Stride:]
		r1 := g.Pix[(2*y+1)*g.Stride:]
		for x := 0; x < w; x++ {
			s := uint32(r0[2*x]) + uint32(r0[2*x+1]) + uint32(r1[2*x]) + uint32(r1[2*x+1])
			out.Pix[y*out.Stride+x] = uint8((s + 2) / 4)
		}
	}
	return out
}

func pyramidDepth(hay, tpl image.Point) int {
	work := (hay.X - tpl.X + 1) * (hay.Y - tpl.Y + 1) * tpl.X * tpl.Y
	if work < pyramidWork {
		return 0
	}
	d := 0
	for d < maxPyramidLvl && tpl.X>>(d+1) >= minPyramidSide && tpl.Y>>(d+1) >= minPyramidSide {
		d++
	}
	return d
}

// locate finds the best placement of tpl inside hay. Both images have their origin
// at (0,0). The returned score is raw correlation in [-1,1]. When the
// coarse-to-fine search ends below threshold the full-resolution image is
// scanned exhaustively, so a present template is never missed.
func locate(ctx context.Context, hay, tpl *image.Gray, workers int, threshold float64) (image.Point, float64, error) {
	hs, ts := hay.Rect.Size(), tpl.Rect.Size()
	if ts.X > hs.X || ts.Y > hs.Y {
		return image.Point{}, math.Inf(-1), nil
	}

	levels := pyramid(hay, tpl, pyramidDepth(hs, ts))
	depth := len(levels) - 1

	best, err := scan(ctx, levels[depth], workers)
	if err != nil {
		return image.Point{}, 0, err
	}
	for i := depth - 1; i >= 0; i-- {
		if err := ctx.Err(); err != nil {
			return image.Point{}, 0, err
		}
		best = refine(levels[i], best)
	}
	if depth > 0 && (len(best.items) == 0 || confidence(best.items[0].score) < threshold) {
		if best, err = scan(ctx, levels[0], workers); err != nil {
			return image.Point{}, 0, err
		}
	}
	if len(best.items) == 0 {
		return image.Point{}, math.Inf(-1), nil
	}
	return best.items[0].pt, best.items[0].score, nil
}

// pyramid builds up to depth downsampled levels, stopping early at a level whose
// kernel no longer carries enough detail to rank candidates.
func pyramid(hay, tpl *image.Gray, depth int) []*level {
	levels := []*level{{hay: hay, ii: newIntegral(hay), k: newKernel(tpl)}}
	base := levels[0].k
	h, t := hay, tpl
	for i := 1; i <= depth; i++ {
		h, t = downsample(h), downsample(t)
		k := newKernel(t)
		if !base.flat && (k.flat || k.variance() < minDetail*base.variance()) {
			break
		}
		levels = append(levels, &level{hay: h, ii: newIntegral(h), k: k})
	}
	return levels
}

// scan evaluates every position of a level, splitting rows across workers.
func scan(ctx context.Context, l *level, workers int) (*topK, error) {
	maxX := l.hay.Rect.Dx() - l.k.w
	maxY := l.hay.Rect.Dy() - l.k.h
	if workers < 1 {
		workers = 1
	}
	if workers > maxY+1 {
		workers = maxY + 1
	}

	results := make([]*topK, workers)
	g, gctx := errgroup.WithContext(ctx)
	for w := 0; w < workers; w++ {
		results[w] = &topK{k: candidates}
		g.Go(func() error {
			local := results[w]
			for y := w; y <= maxY; y += workers {
				if err := gctx.Err(); err != nil {
					return err
				}
				for x := 0; x <= maxX; x++ {
					local.push(candidate{pt: image.Pt(x, y), score: l.score(x, y)})
				}
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	merged := &topK{k: candidates}
	for _, r := range results {
		for _, c := range r.items {
			merged.push(c)
		}
	}
	return merged, nil
}

// refine projects coarse candidates onto a finer level and searches around each.
func refine(l *level, coarse *topK) *topK {
	maxX := l.hay.Rect.Dx() - l.k.w
	maxY := l.hay.Rect.Dy() - l.k.h
	out := &topK{k: candidates}
	for _, c := range coarse.items {
		cx, cy := c.pt.X*2, c.pt.Y*2
		bestC := candidate{score: math.Inf(-1)}
		for y := max(0, cy-refineSpan); y <= min(maxY, cy+refineSpan+1); y++ {
			for x := max(0, cx-refineSpan); x <= min(maxX, cx+refineSpan+1); x++ {
				if s := l.score(x, y); s > bestC.score {
					bestC = candidate{pt: image.Pt(x, y), score: s}
				}
			}
		}
		if !math.IsInf(bestC.score, -1) {
			out.push(bestC)
		}
	}
	return out
}
