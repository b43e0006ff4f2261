package tray

import (
	"bytes"
	"encoding/binary"
	"image"
	"image/color"
	"image/png"
	"sync"
)

const iconSize = 32

var (
	iconOnce  sync.Once
	iconBytes []byte
)

// icon is a red record dot, wrapped in an ICO container so Windows accepts it.
// macOS and Linux read the embedded PNG directly.
func icon() []byte {
	iconOnce.Do(func() {
		iconBytes = wrapICO(recordDot(iconSize))
	})
	return iconBytes
}

func recordDot(size int) []byte {
	img := image.NewNRGBA(image.Rect(0, 0, size, size))
	c := float64(size-1) / 2
	r := float64(size) * 0.4
	red := color.NRGBA{R: 0xd9, G: 0x2b, B: 0x2b, A: 0xff}
	for y := range size {
		for x := range size {
			dx, dy := float64(x)-c, float64(y)-c
			if dx*dx+dy*dy <= r*r {
				img.SetNRGBA(x, y, red)
			}
		}
	}
	var buf bytes.Buffer
	_ = png.Encode(&buf, img)
	return buf.Bytes()
}

// wrapICO builds a single-image ICO whose payload is a PNG.
func wrapICO(pngData []byte) []byte {
	var buf bytes.Buffer
	header := struct {
		Reserved, Type, Count uint16
	}{0, 1, 1}
	entry := struct {
		Width, Height, Colors, Reserved uint8
		Planes, BPP                     uint16
		Size, Offset                    uint32
	}{iconSize, iconSize, 0, 0, 1, 32, uint32(len(pngData)), 6 + 16}
	_ = binary.Write(&buf, binary.LittleEndian, header)
	_ = binary.Write(&buf, binary.LittleEndian, entry)
	buf.Write(pngData)
	return buf.Bytes()
}
