package boardimg

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"sync"

	"github.com/srwiley/oksvg"
	"github.com/srwiley/rasterx"
)

// Disc artwork is generated as SVG and rasterized once per (side, size),
// then cached for the life of the process.

type discCacheKey struct {
	side string
	size int
}

var (
	discCache   = map[discCacheKey]image.Image{}
	discCacheMu sync.RWMutex
)

var discFills = map[string]string{
	"red":  "#c9342b",
	"blue": "#2b5fc9",
}

func discSVG(side string, size int) ([]byte, bool) {
	fill, ok := discFills[side]
	if !ok {
		return nil, false
	}
	half := float64(size) / 2
	r := half * 0.78
	svg := fmt.Sprintf(
		`<svg xmlns="http://www.w3.org/2000/svg" viewBox="0 0 %d %d">`+
			`<circle cx="%.1f" cy="%.1f" r="%.1f" fill="%s" stroke="#1c1f2e" stroke-width="%.1f"/>`+
			`<circle cx="%.1f" cy="%.1f" r="%.1f" fill="#ffffff" fill-opacity="0.18"/>`+
			`</svg>`,
		size, size,
		half, half, r, fill, float64(size)*0.04,
		half*0.82, half*0.82, r*0.35,
	)
	return []byte(svg), true
}

func renderDiscImage(side string, size int) (image.Image, error) {
	key := discCacheKey{side: side, size: size}

	discCacheMu.RLock()
	if img, ok := discCache[key]; ok {
		discCacheMu.RUnlock()
		return img, nil
	}
	discCacheMu.RUnlock()

	data, ok := discSVG(side, size)
	if !ok {
		return nil, fmt.Errorf("unknown side %q", side)
	}

	icon, err := oksvg.ReadIconStream(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("parse disc svg: %w", err)
	}
	icon.SetTarget(0, 0, float64(size), float64(size))

	img := image.NewRGBA(image.Rect(0, 0, size, size))
	draw.Draw(img, img.Bounds(), image.NewUniform(color.Transparent), image.Point{}, draw.Src)

	scanner := rasterx.NewScannerGV(size, size, img, img.Bounds())
	raster := rasterx.NewDasher(size, size, scanner)
	icon.Draw(raster, 1.0)

	discCacheMu.Lock()
	discCache[key] = img
	discCacheMu.Unlock()

	return img, nil
}
