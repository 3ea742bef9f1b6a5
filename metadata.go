package main

import (
	"net/url"
	"strings"
	"time"
)

const wordsPerMinute = 250

// Metadata is the bibliographic record attached to an article.
type Metadata struct {
	Title         string
	Author        string
	SiteName      string
	ReadingTime   int // minutes
	PublishedTime *time.Time
}

// deriveMetadata fills in author and site name fallbacks and estimates
// reading time. It does no I/O and never modifies article.
//
// Site name falls back to the page's hostname; author falls back to the
// site name.
func deriveMetadata(article Article, pageURL *url.URL) Metadata {
	domain := ""
	if pageURL != nil {
		domain = pageURL.Hostname()
	}

	siteName := article.SiteName
	if siteName == "" {
		siteName = domain
	}
	author := article.Byline
	if author == "" {
		author = siteName
	}

	var published *time.Time
	if article.PublishedTime != nil {
		t := *article.PublishedTime
		published = &t
	}

	return Metadata{
		Title:         article.Title,
		Author:        author,
		SiteName:      siteName,
		ReadingTime:   readingTime(article.TextContent),
		PublishedTime: published,
	}
}

// readingTime is ceil(words/250); empty text reads in zero minutes.
func readingTime(text string) int {
	words := len(strings.Fields(text))
	return (words + wordsPerMinute - 1) / wordsPerMinute
}
