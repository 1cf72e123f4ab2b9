package boardimg

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"image"
	"image/color"
	imagedraw "image/draw"
	"image/png"
	"strings"

	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"
)

// Renderer turns a stored board payload into a PNG snapshot clients can
// show in chats or thumbnails.
type Renderer interface {
	RenderPNG(ctx context.Context, payload json.RawMessage) ([]byte, error)
}

type boardDoc struct {
	Turn  string      `json:"turn"`
	Board [][]*string `json:"board"`
}

type pngRenderer struct{}

func NewPNGRenderer() Renderer { return &pngRenderer{} }

var (
	lightSquare     = color.RGBA{233, 225, 207, 255}
	darkSquare      = color.RGBA{160, 170, 187, 255}
	frameColor      = color.RGBA{28, 31, 46, 255}
	coordinateColor = color.NRGBA{R: 236, G: 239, B: 255, A: 255}
	turnTextColor   = color.NRGBA{R: 204, G: 210, B: 236, A: 255}
)

func (r *pngRenderer) RenderPNG(ctx context.Context, payload json.RawMessage) ([]byte, error) {
	var doc boardDoc
	if err := json.Unmarshal(payload, &doc); err != nil || len(doc.Board) == 0 {
		// Move payloads may carry the bare grid without the wrapper.
		var grid [][]*string
		if gerr := json.Unmarshal(payload, &grid); gerr != nil || len(grid) == 0 {
			return nil, fmt.Errorf("decode board payload: no rows")
		}
		doc = boardDoc{Board: grid}
	}

	const (
		squareSize   = 64
		margin       = 28
		footerHeight = 24
	)
	rows := len(doc.Board)
	cols := 0
	for _, row := range doc.Board {
		if len(row) > cols {
			cols = len(row)
		}
	}
	if cols == 0 {
		return nil, fmt.Errorf("board payload has no columns")
	}

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}

	totalWidth := cols*squareSize + margin*2
	totalHeight := rows*squareSize + margin*2 + footerHeight
	origin := image.Point{X: margin, Y: margin}

	img := image.NewRGBA(image.Rect(0, 0, totalWidth, totalHeight))
	imagedraw.Draw(img, img.Bounds(), image.NewUniform(frameColor), image.Point{}, imagedraw.Src)

	drawSquares(img, rows, cols, squareSize, origin)
	if err := drawDiscs(img, doc.Board, squareSize, origin); err != nil {
		return nil, err
	}
	drawCoordinates(img, rows, cols, squareSize, origin)
	if turn := strings.TrimSpace(doc.Turn); turn != "" {
		drawFooter(img, "turn: "+turn, totalHeight-footerHeight/2)
	}

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}

	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, fmt.Errorf("encode png: %w", err)
	}
	return buf.Bytes(), nil
}

func drawSquares(dst imagedraw.Image, rows, cols, squareSize int, origin image.Point) {
	for row := 0; row < rows; row++ {
		for col := 0; col < cols; col++ {
			x := origin.X + col*squareSize
			y := origin.Y + row*squareSize
			clr := lightSquare
			if (row+col)%2 == 1 {
				clr = darkSquare
			}
			imagedraw.Draw(dst, image.Rect(x, y, x+squareSize, y+squareSize), image.NewUniform(clr), image.Point{}, imagedraw.Src)
		}
	}
}

func drawDiscs(dst imagedraw.Image, board [][]*string, squareSize int, origin image.Point) error {
	for row, cells := range board {
		for col, cell := range cells {
			if cell == nil || strings.TrimSpace(*cell) == "" {
				continue
			}
			disc, err := renderDiscImage(strings.ToLower(strings.TrimSpace(*cell)), squareSize)
			if err != nil {
				// Unknown marker, leave the square empty.
				continue
			}
			x := origin.X + col*squareSize
			y := origin.Y + row*squareSize
			imagedraw.Draw(dst, image.Rect(x, y, x+squareSize, y+squareSize), disc, image.Point{}, imagedraw.Over)
		}
	}
	return nil
}

func drawCoordinates(dst imagedraw.Image, rows, cols, squareSize int, origin image.Point) {
	drawer := &font.Drawer{
		Dst:  dst,
		Face: basicfont.Face7x13,
		Src:  image.NewUniform(coordinateColor),
	}
	ascent := basicfont.Face7x13.Metrics().Ascent.Ceil()

	for row := 0; row < rows; row++ {
		label := fmt.Sprintf("%d", rows-row)
		baseline := origin.Y + row*squareSize + squareSize/2 + ascent/2
		width := drawer.MeasureString(label).Round()
		drawer.Dot = fixed.P(origin.X/2-width/2, baseline)
		drawer.DrawString(label)
	}
	bottom := origin.Y + rows*squareSize + ascent + 4
	for col := 0; col < cols; col++ {
		label := string(rune('a' + col))
		center := origin.X + col*squareSize + squareSize/2
		width := drawer.MeasureString(label).Round()
		drawer.Dot = fixed.P(center-width/2, bottom)
		drawer.DrawString(label)
	}
}

func drawFooter(dst imagedraw.Image, text string, baseline int) {
	drawer := &font.Drawer{
		Dst:  dst,
		Face: basicfont.Face7x13,
		Src:  image.NewUniform(turnTextColor),
	}
	b := dst.Bounds()
	width := drawer.MeasureString(text).Round()
	drawer.Dot = fixed.P(b.Min.X+(b.Dx()-width)/2, baseline)
	drawer.DrawString(text)
}
