// Cover art for native EPUB output: a grayscale tile mosaic seeded from
// the title with a plain band carrying the title and byline.
package main

import (
	"bytes"
	"crypto/sha256"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"strings"

	"golang.org/x/image/draw"
	"golang.org/x/image/font"
	"golang.org/x/image/font/gofont/gobold"
	"golang.org/x/image/font/gofont/goregular"
	"golang.org/x/image/font/opentype"
	"golang.org/x/image/math/fixed"
)

const (
	coverWidth  = 1200
	coverHeight = 1800
	coverMargin = 90
	tileSize    = 100
	bandTop     = 620
	bandBottom  = 1180
)

// coverText is what gets printed on the band.
type coverText struct {
	Title    string
	Byline   string
	Footnote string
}

// generateCover renders a PNG cover. The same text always produces the
// same image.
func generateCover(text coverText) ([]byte, error) {
	img := image.NewGray(image.Rect(0, 0, coverWidth, coverHeight))
	draw.Draw(img, img.Bounds(), image.NewUniform(color.Gray{0xFF}), image.Point{}, draw.Src)

	drawMosaic(img, sha256.Sum256([]byte(text.Title)))

	titleFace, err := loadFace(gobold.TTF, 68)
	if err != nil {
		return nil, fmt.Errorf("loading title font: %w", err)
	}
	bodyFace, err := loadFace(goregular.TTF, 34)
	if err != nil {
		return nil, fmt.Errorf("loading body font: %w", err)
	}

	drawBand(img, text, titleFace, bodyFace)

	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, fmt.Errorf("encoding cover: %w", err)
	}
	return buf.Bytes(), nil
}

// drawMosaic tiles the page with squares whose shade and inset come from
// the hash. Shades stay in 0x40..0xC0 so they read well on e-ink.
func drawMosaic(img *image.Gray, seed [32]byte) {
	cols, rows := coverWidth/tileSize, coverHeight/tileSize
	for row := 0; row < rows; row++ {
		for col := 0; col < cols; col++ {
			i := row*cols + col
			b := seed[i%len(seed)] ^ byte(i*37) ^ byte(row*col)
			shade := uint8(0x40 + int(b)%0x81)
			inset := int(seed[(i+11)%len(seed)]>>4) + 4

			x0, y0 := col*tileSize, row*tileSize
			r := image.Rect(x0+inset, y0+inset, x0+tileSize-inset, y0+tileSize-inset)
			draw.Draw(img, r, image.NewUniform(color.Gray{shade}), image.Point{}, draw.Src)
		}
	}
}

func drawBand(img *image.Gray, text coverText, titleFace, bodyFace font.Face) {
	draw.Draw(img, image.Rect(0, bandTop, coverWidth, bandBottom),
		image.NewUniform(color.Gray{0xFF}), image.Point{}, draw.Src)
	for x := coverMargin; x < coverWidth-coverMargin; x++ {
		img.SetGray(x, bandTop+24, color.Gray{0x80})
		img.SetGray(x, bandBottom-24, color.Gray{0x80})
	}

	maxWidth := coverWidth - 2*coverMargin
	titleLines := wrapText(text.Title, titleFace, maxWidth)
	if len(titleLines) > 4 {
		titleLines = append(titleLines[:3], titleLines[3]+"...")
	}

	titleStep := titleFace.Metrics().Height.Ceil() + 10
	bodyStep := bodyFace.Metrics().Height.Ceil() + 8

	var lower []string
	for _, s := range []string{text.Byline, text.Footnote} {
		if s != "" {
			lower = append(lower, s)
		}
	}

	height := len(titleLines)*titleStep + 24 + len(lower)*bodyStep
	y := bandTop + (bandBottom-bandTop-height)/2 + titleFace.Metrics().Ascent.Ceil()
	for _, line := range titleLines {
		drawCentered(img, line, titleFace, y)
		y += titleStep
	}
	y += 24
	for _, line := range lower {
		drawCentered(img, line, bodyFace, y)
		y += bodyStep
	}
}

func drawCentered(img *image.Gray, s string, face font.Face, baseline int) {
	w := font.MeasureString(face, s).Ceil()
	d := &font.Drawer{
		Dst:  img,
		Src:  image.NewUniform(color.Gray{0x00}),
		Face: face,
		Dot:  fixed.P((coverWidth-w)/2, baseline),
	}
	d.DrawString(s)
}

// wrapText breaks text into lines no wider than maxWidth pixels. A single
// word wider than that gets a line of its own.
func wrapText(text string, face font.Face, maxWidth int) []string {
	words := strings.Fields(text)
	if len(words) == 0 {
		return []string{text}
	}

	var lines []string
	line := words[0]
	for _, w := range words[1:] {
		if font.MeasureString(face, line+" "+w).Ceil() <= maxWidth {
			line += " " + w
			continue
		}
		lines = append(lines, line)
		line = w
	}
	return append(lines, line)
}

func loadFace(ttf []byte, size float64) (font.Face, error) {
	f, err := opentype.Parse(ttf)
	if err != nil {
		return nil, err
	}
	return opentype.NewFace(f, &opentype.FaceOptions{
		Size:    size,
		DPI:     72,
		Hinting: font.HintingFull,
	})
}
