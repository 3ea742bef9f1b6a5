package main

import (
	"context"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"
)

// Stage names the pipeline step a conversion stopped at.
type Stage string

const (
	StageFetch   Stage = "fetch"
	StageExtract Stage = "extract"
	StageCompose Stage = "compose"
	StageStage   Stage = "stage"
	StagePackage Stage = "package"
)

// Result is the outcome of converting one URL. Err is nil exactly when
// the output file was written.
type Result struct {
	URL      string
	Title    string
	BaseName string
	Output   string
	Stage    Stage
	Err      error
	Duration time.Duration
}

func (r Result) OK() bool { return r.Err == nil }

// converter runs the per-URL pipeline. images may be nil, in which case
// article images are left as remote references.
type converter struct {
	fetch       *fetcher
	images      *imageEmbedder
	stager      *stager
	engine      Engine
	outputDir   string
	concurrency int
	log         *slog.Logger
}

// convert fetches, extracts, composes, stages and packages one article.
// Stages run strictly in order and the first failure ends the conversion.
func (c *converter) convert(ctx context.Context, rawURL string) (res Result) {
	start := time.Now()
	res.URL = rawURL
	defer func() { res.Duration = time.Since(start) }()

	log := c.log.With("url", rawURL)
	fail := func(stage Stage, err error) Result {
		log.Error("conversion failed", "stage", stage, "err", err)
		res.Stage, res.Err = stage, err
		return res
	}

	page, pageURL, err := c.fetch.fetchHTML(ctx, rawURL)
	if err != nil {
		return fail(StageFetch, err)
	}

	article, err := extractArticle(page, pageURL)
	if err != nil {
		return fail(StageExtract, err)
	}
	res.Title = article.Title
	log.Info("extracted article", "title", article.Title)

	meta := deriveMetadata(article, pageURL)

	if c.images != nil {
		content, err := c.images.embed(ctx, article.Content, pageURL)
		if err != nil {
			log.Warn("image embedding skipped", "err", err)
		} else {
			article.Content = content
		}
	}

	doc, err := composeDocument(article, pageURL, meta)
	if err != nil {
		return fail(StageCompose, err)
	}

	name := c.stager.reserve(baseNameFor(article.Title))
	res.BaseName = name

	staged, err := c.stager.stage(doc, meta, name)
	if err != nil {
		c.stager.release(name)
		return fail(StageStage, err)
	}

	output := outputPathFor(c.outputDir, name, c.engine)
	if err := packageStaged(ctx, c.engine, staged, output, log); err != nil {
		return fail(StagePackage, err)
	}

	res.Output = output
	log.Info("converted", "output", output, "reading_time", meta.ReadingTime)
	return res
}

// convertAll converts every URL with at most c.concurrency in flight and
// returns the results in input order once all of them have finished.
func (c *converter) convertAll(ctx context.Context, urls []string) []Result {
	results := make([]Result, len(urls))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(max(c.concurrency, 1))
	for i, u := range urls {
		g.Go(func() error {
			pprintf("[%d/%d] %s\n", i+1, len(urls), shortURL(u))
			results[i] = c.convert(gctx, u)
			if r := results[i]; r.OK() {
				pprintf("  ✓ %s\n", truncateDisplay(r.Title))
			} else {
				pprintf("  ✗ %s: %v\n", r.Stage, r.Err)
			}
			return nil
		})
	}
	_ = g.Wait()
	return results
}
