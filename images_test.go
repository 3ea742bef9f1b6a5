package main

import (
	"bytes"
	"context"
	"encoding/base64"
	"image"
	"image/color"
	"image/gif"
	"image/jpeg"
	"image/png"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/PuerkitoBio/goquery"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// makePNG returns a w x h half-transparent orange PNG.
func makePNG(t *testing.T, w, h int) []byte {
	t.Helper()
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for y := range h {
		for x := range w {
			img.Set(x, y, color.NRGBA{200, 100, 50, 128})
		}
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func testEmbedder(maxWidth int) *imageEmbedder {
	return &imageEmbedder{
		fetch:       testFetcher(),
		opts:        imageOptions{maxWidth: maxWidth, quality: 60},
		concurrency: 2,
		log:         discardLogger(),
	}
}

func jpegSize(t *testing.T, uri string) (int, int) {
	t.Helper()
	mime, data, ok := splitDataURI(uri)
	require.True(t, ok, "not a base64 data URI: %.40q", uri)
	require.Equal(t, "image/jpeg", mime)
	cfg, err := jpeg.DecodeConfig(bytes.NewReader(data))
	require.NoError(t, err)
	return cfg.Width, cfg.Height
}

func TestEmbed_FetchesAndDownscales(t *testing.T) {
	pngData := makePNG(t, 1200, 900)
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.Header().Set("Content-Type", "image/png")
		w.Write(pngData)
	}))
	defer srv.Close()

	base, err := url.Parse(srv.URL + "/articles/post")
	require.NoError(t, err)

	fragment := `<div id="readability-page-1"><p>Text</p>` +
		`<img src="/img/a.png" alt="relative">` +
		`<img src="` + srv.URL + `/img/b.png" srcset="` + srv.URL + `/img/b-2x.png 2x" alt="absolute">` +
		`</div>`

	out, err := testEmbedder(800).embed(context.Background(), fragment, base)
	require.NoError(t, err)
	assert.Equal(t, int32(2), hits.Load())

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(out))
	require.NoError(t, err)
	imgs := doc.Find("img")
	require.Equal(t, 2, imgs.Length())
	imgs.Each(func(_ int, img *goquery.Selection) {
		w, h := jpegSize(t, img.AttrOr("src", ""))
		assert.Equal(t, 800, w)
		assert.Equal(t, 600, h)
		_, hasSrcset := img.Attr("srcset")
		assert.False(t, hasSrcset)
	})
	assert.Equal(t, 1, doc.Find("#readability-page-1").Length())
}

func TestEmbed_KeepsReferenceOnFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "gone", http.StatusGone)
	}))
	defer srv.Close()

	fragment := `<p><img src="` + srv.URL + `/missing.png" alt="x"></p>`
	out, err := testEmbedder(800).embed(context.Background(), fragment, nil)
	require.NoError(t, err)
	assert.Contains(t, out, srv.URL+"/missing.png")
}

func TestEmbed_OptimizesInlineImages(t *testing.T) {
	uri := "data:image/png;base64," + base64.StdEncoding.EncodeToString(makePNG(t, 400, 100))
	out, err := testEmbedder(200).embed(context.Background(), `<p><img src="`+uri+`"></p>`, nil)
	require.NoError(t, err)

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(out))
	require.NoError(t, err)
	w, h := jpegSize(t, doc.Find("img").AttrOr("src", ""))
	assert.Equal(t, 200, w)
	assert.Equal(t, 50, h)
}

func TestEmbed_PassesThroughSVG(t *testing.T) {
	svg := `<svg xmlns="http://www.w3.org/2000/svg" width="10" height="10"><rect width="10" height="10"/></svg>`
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "image/svg+xml")
		w.Write([]byte(svg))
	}))
	defer srv.Close()

	out, err := testEmbedder(800).embed(context.Background(), `<img src="`+srv.URL+`/logo.svg">`, nil)
	require.NoError(t, err)
	assert.Contains(t, out, "data:image/svg+xml;base64,")
}

func TestCollapsePictures(t *testing.T) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(`<picture>` +
		`<source srcset="small.webp 400w, large.webp 1600w" type="image/webp">` +
		`<source srcset="small.jpg 400w, large.jpg 1600w">` +
		`<img alt="pic"></picture>`))
	require.NoError(t, err)

	collapsePictures(doc)
	assert.Equal(t, 0, doc.Find("picture").Length())
	assert.Equal(t, "large.jpg", doc.Find("img").AttrOr("src", ""))
}

func TestBestSrcset(t *testing.T) {
	tests := []struct {
		srcset string
		want   string
	}{
		{"", ""},
		{"a.jpg", "a.jpg"},
		{"a.jpg 300w, b.jpg 900w, c.jpg 600w", "b.jpg"},
		{"a.webp 2000w, b.jpg 800w", "b.jpg"},
		{"a.webp 400w, b.webp 800w", "b.webp"},
		{"a.jpg 1x, b.jpg 2x", "a.jpg"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, bestSrcset(tt.srcset), "srcset=%q", tt.srcset)
	}
}

func TestResolveRef(t *testing.T) {
	base, _ := url.Parse("https://example.com/blog/post")
	assert.Equal(t, "https://example.com/blog/img.png", resolveRef(base, "img.png"))
	assert.Equal(t, "https://example.com/img.png", resolveRef(base, "/img.png"))
	assert.Equal(t, "https://cdn.example/x.png", resolveRef(base, "//cdn.example/x.png"))
	assert.Equal(t, "", resolveRef(base, "javascript:alert(1)"))
	assert.Equal(t, "", resolveRef(nil, "relative.png"))
}

func TestSplitDataURI(t *testing.T) {
	mime, data, ok := splitDataURI("data:image/gif;base64,R0lGODlh")
	require.True(t, ok)
	assert.Equal(t, "image/gif", mime)
	assert.Equal(t, []byte("GIF89a"), data)

	_, data, ok = splitDataURI("data:text/plain;base64,aGk")
	require.True(t, ok, "unpadded base64 should decode")
	assert.Equal(t, "hi", string(data))

	_, _, ok = splitDataURI("data:text/plain,hello")
	assert.False(t, ok)
	_, _, ok = splitDataURI("https://example.com/a.png")
	assert.False(t, ok)
}

func TestOptimizeImage(t *testing.T) {
	t.Run("small image keeps size", func(t *testing.T) {
		out, ok := optimizeImage(makePNG(t, 100, 50), "image/png", imageOptions{maxWidth: 800, quality: 60})
		require.True(t, ok)
		cfg, err := jpeg.DecodeConfig(bytes.NewReader(out))
		require.NoError(t, err)
		assert.Equal(t, 100, cfg.Width)
		assert.Equal(t, 50, cfg.Height)
	})
	t.Run("grayscale", func(t *testing.T) {
		out, ok := optimizeImage(makePNG(t, 20, 20), "image/png", imageOptions{maxWidth: 800, quality: 60, grayscale: true})
		require.True(t, ok)
		cfg, err := jpeg.DecodeConfig(bytes.NewReader(out))
		require.NoError(t, err)
		assert.Equal(t, color.GrayModel, cfg.ColorModel)
	})
	t.Run("undecodable", func(t *testing.T) {
		_, ok := optimizeImage([]byte("not an image"), "image/png", imageOptions{maxWidth: 800, quality: 60})
		assert.False(t, ok)
	})
	t.Run("animated gif", func(t *testing.T) {
		anim := &gif.GIF{}
		for range 2 {
			frame := image.NewPaletted(image.Rect(0, 0, 4, 4), color.Palette{color.Black, color.White})
			anim.Image = append(anim.Image, frame)
			anim.Delay = append(anim.Delay, 10)
		}
		var buf bytes.Buffer
		require.NoError(t, gif.EncodeAll(&buf, anim))
		_, ok := optimizeImage(buf.Bytes(), "image/gif", imageOptions{maxWidth: 800, quality: 60})
		assert.False(t, ok)
	})
}
