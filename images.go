// Image embedding: downloads article images, downscales and re-encodes
// them as JPEG data URIs so the packaged book carries its own pictures.
package main

import (
	"bytes"
	"context"
	"encoding/base64"
	"image"
	"image/color"
	"image/draw"
	"image/gif"
	"image/jpeg"
	_ "image/png"
	"log/slog"
	"math"
	"net/url"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"
	xdraw "golang.org/x/image/draw"
	_ "golang.org/x/image/webp"
	"golang.org/x/sync/errgroup"
)

const (
	imageAccept      = "image/avif,image/webp,image/png,image/jpeg,*/*;q=0.8"
	imageConcurrency = 4
)

type imageOptions struct {
	maxWidth  int
	quality   int
	grayscale bool
}

// imageEmbedder rewrites <img> sources in an article fragment. Failures on
// single images are logged and the original reference is kept.
type imageEmbedder struct {
	fetch       *fetcher
	opts        imageOptions
	concurrency int
	log         *slog.Logger
}

func newImageEmbedder(f *fetcher, cfg ImageConfig, log *slog.Logger) *imageEmbedder {
	return &imageEmbedder{
		fetch: f,
		opts: imageOptions{
			maxWidth:  cfg.MaxWidth,
			quality:   cfg.Quality,
			grayscale: cfg.Grayscale,
		},
		concurrency: imageConcurrency,
		log:         log,
	}
}

type imageStats struct {
	count     int
	original  int64
	optimized int64
}

// embed returns the fragment with every reachable image inlined.
func (e *imageEmbedder) embed(ctx context.Context, fragment string, base *url.URL) (string, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(fragment))
	if err != nil {
		return "", err
	}

	collapsePictures(doc)

	var st imageStats
	// Images that arrived already inlined are only downscaled.
	doc.Find(`img[src^="data:"]`).Each(func(_ int, img *goquery.Selection) {
		mime, data, ok := splitDataURI(img.AttrOr("src", ""))
		if !ok {
			return
		}
		if uri := e.optimize(data, mime, &st); uri != "" {
			img.SetAttr("src", uri)
		}
	})

	type job struct {
		img  *goquery.Selection
		src  string
		data []byte
		mime string
	}
	var jobs []*job
	doc.Find("img").Each(func(_ int, img *goquery.Selection) {
		src := strings.TrimSpace(img.AttrOr("src", ""))
		if src == "" || strings.HasPrefix(src, "data:image/svg+xml") {
			src = bestSrcset(img.AttrOr("srcset", ""))
		}
		if src == "" || strings.HasPrefix(src, "data:") {
			return
		}
		abs := resolveRef(base, src)
		if abs == "" {
			return
		}
		jobs = append(jobs, &job{img: img, src: abs})
	})

	var g errgroup.Group
	g.SetLimit(e.concurrency)
	for _, j := range jobs {
		g.Go(func() error {
			data, mime, err := e.fetch.get(ctx, j.src, imageAccept)
			if err != nil {
				e.log.Warn("could not fetch image", "src", j.src, "err", err)
				return nil
			}
			j.data, j.mime = data, mime
			return nil
		})
	}
	_ = g.Wait()

	for _, j := range jobs {
		if j.data == nil {
			continue
		}
		uri := e.optimize(j.data, j.mime, &st)
		if uri == "" {
			uri = dataURI(j.mime, j.data)
		}
		j.img.SetAttr("src", uri)
		j.img.RemoveAttr("srcset")
	}

	if st.count > 0 {
		e.log.Info("optimized images", "count", st.count,
			"before", humanSize(st.original), "after", humanSize(st.optimized))
	}

	return doc.Find("body").First().Html()
}

// optimize returns a JPEG data URI or "" when the image should be kept as is.
func (e *imageEmbedder) optimize(data []byte, mime string, st *imageStats) string {
	out, ok := optimizeImage(data, mime, e.opts)
	if !ok {
		return ""
	}
	st.count++
	st.original += int64(len(data))
	st.optimized += int64(len(out))
	return dataURI("image/jpeg", out)
}

// optimizeImage flattens, downscales to maxWidth and JPEG-encodes an image.
// SVG, AVIF and animated GIF are passed through (ok == false).
func optimizeImage(data []byte, mime string, opts imageOptions) ([]byte, bool) {
	switch {
	case strings.Contains(mime, "svg"), strings.Contains(mime, "avif"):
		return nil, false
	case strings.Contains(mime, "gif") && isAnimatedGIF(data):
		return nil, false
	}

	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, false
	}

	var out image.Image = flattenAlpha(img)
	if b := out.Bounds(); opts.maxWidth > 0 && b.Dx() > opts.maxWidth {
		h := int(math.Round(float64(b.Dy()) * float64(opts.maxWidth) / float64(b.Dx())))
		out = resize(out, opts.maxWidth, max(h, 1))
	}
	if opts.grayscale {
		out = toGrayscale(out)
	}

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, out, &jpeg.Options{Quality: opts.quality}); err != nil {
		return nil, false
	}
	return buf.Bytes(), true
}

func resize(src image.Image, w, h int) *image.NRGBA {
	dst := image.NewNRGBA(image.Rect(0, 0, w, h))
	xdraw.BiLinear.Scale(dst, dst.Bounds(), src, src.Bounds(), xdraw.Over, nil)
	return dst
}

func toGrayscale(src image.Image) *image.Gray {
	b := src.Bounds()
	gray := image.NewGray(b)
	draw.Draw(gray, b, src, b.Min, draw.Src)
	return gray
}

// flattenAlpha composites src onto white; JPEG has no alpha channel.
func flattenAlpha(src image.Image) *image.NRGBA {
	b := src.Bounds()
	dst := image.NewNRGBA(b)
	draw.Draw(dst, b, image.NewUniform(color.White), image.Point{}, draw.Src)
	draw.Draw(dst, b, src, b.Min, draw.Over)
	return dst
}

func isAnimatedGIF(data []byte) bool {
	g, err := gif.DecodeAll(bytes.NewReader(data))
	return err == nil && len(g.Image) > 1
}

// collapsePictures replaces each <picture> with its <img>, carrying over
// the widest srcset candidate from the <source> elements when the img has
// no usable src of its own.
func collapsePictures(doc *goquery.Document) {
	doc.Find("picture").Each(func(_ int, pic *goquery.Selection) {
		img := pic.Find("img").First()
		if img.Length() == 0 {
			pic.Remove()
			return
		}
		if strings.TrimSpace(img.AttrOr("src", "")) == "" {
			var candidates []string
			pic.Find("source").Each(func(_ int, s *goquery.Selection) {
				candidates = append(candidates, s.AttrOr("srcset", ""))
			})
			candidates = append(candidates, img.AttrOr("srcset", ""))
			if best := bestSrcset(strings.Join(candidates, ", ")); best != "" {
				img.SetAttr("src", best)
			}
		}
		pic.ReplaceWithSelection(img)
	})
}

// bestSrcset picks the widest candidate of a srcset value, skipping webp
// variants when anything else is on offer.
func bestSrcset(srcset string) string {
	type candidate struct {
		url   string
		width int
	}
	var all []candidate
	for _, part := range strings.Split(srcset, ",") {
		fields := strings.Fields(part)
		if len(fields) == 0 {
			continue
		}
		c := candidate{url: fields[0]}
		if len(fields) > 1 && strings.HasSuffix(fields[1], "w") {
			c.width, _ = strconv.Atoi(strings.TrimSuffix(fields[1], "w"))
		}
		all = append(all, c)
	}

	pick := func(skipWebp bool) string {
		best, bestW := "", -1
		for _, c := range all {
			if skipWebp && strings.Contains(c.url, "webp") {
				continue
			}
			if c.width > bestW {
				best, bestW = c.url, c.width
			}
		}
		return best
	}
	if best := pick(true); best != "" {
		return best
	}
	return pick(false)
}

// resolveRef makes ref absolute against base. Only http(s) results are
// returned.
func resolveRef(base *url.URL, ref string) string {
	u, err := url.Parse(ref)
	if err != nil {
		return ""
	}
	if base != nil {
		u = base.ResolveReference(u)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return ""
	}
	return u.String()
}

// splitDataURI decodes a base64 data URI into its media type and bytes.
func splitDataURI(uri string) (string, []byte, bool) {
	rest, ok := strings.CutPrefix(uri, "data:")
	if !ok {
		return "", nil, false
	}
	header, payload, ok := strings.Cut(rest, ",")
	if !ok {
		return "", nil, false
	}
	mime, isBase64 := strings.CutSuffix(header, ";base64")
	if !isBase64 {
		return "", nil, false
	}
	data, err := decodeBase64(payload)
	if err != nil {
		return "", nil, false
	}
	return mime, data, true
}

// decodeBase64 tries standard then raw (no-padding) base64.
func decodeBase64(s string) ([]byte, error) {
	raw, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		raw, err = base64.RawStdEncoding.DecodeString(s)
	}
	return raw, err
}
