package main

import (
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var vocabulary = strings.Fields("the reader opens a long article about rivers and " +
	"mountains while the editor checks every sentence for clarity word")

// words returns n space-separated words of plain prose.
func words(n int) string {
	out := make([]string, n)
	for i := range out {
		out[i] = vocabulary[i%len(vocabulary)]
	}
	return strings.Join(out, " ")
}

func TestReadingTime(t *testing.T) {
	tests := []struct {
		text string
		want int
	}{
		{"", 0},
		{"   \n\t ", 0},
		{"one", 1},
		{words(249), 1},
		{words(250), 1},
		{words(251), 2},
		{words(300), 2},
		{words(500), 2},
		{words(501), 3},
		{"spread\nover\tseveral   lines", 1},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, readingTime(tt.text), "words=%d", len(strings.Fields(tt.text)))
	}
}

func TestDeriveMetadata_AuthorFallback(t *testing.T) {
	u, err := url.Parse("https://example.com/a")
	require.NoError(t, err)

	tests := []struct {
		name         string
		article      Article
		wantAuthor   string
		wantSiteName string
	}{
		{
			name:         "byline",
			article:      Article{Title: "T", Byline: "Jane Doe", SiteName: "Example Blog"},
			wantAuthor:   "Jane Doe",
			wantSiteName: "Example Blog",
		},
		{
			name:         "site name",
			article:      Article{Title: "T", SiteName: "Example Blog"},
			wantAuthor:   "Example Blog",
			wantSiteName: "Example Blog",
		},
		{
			name:         "domain",
			article:      Article{Title: "T"},
			wantAuthor:   "example.com",
			wantSiteName: "example.com",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			meta := deriveMetadata(tt.article, u)
			assert.Equal(t, tt.wantAuthor, meta.Author)
			assert.Equal(t, tt.wantSiteName, meta.SiteName)
			assert.Equal(t, "T", meta.Title)
		})
	}
}

func TestDeriveMetadata_DomainIgnoresPort(t *testing.T) {
	u, err := url.Parse("http://blog.example:8080/post")
	require.NoError(t, err)
	assert.Equal(t, "blog.example", deriveMetadata(Article{}, u).SiteName)
}

func TestDeriveMetadata_Pure(t *testing.T) {
	u, err := url.Parse("https://blog.example/post")
	require.NoError(t, err)

	published := time.Date(2024, 3, 15, 0, 0, 0, 0, time.UTC)
	article := Article{
		Title:         "Hello World",
		TextContent:   words(300),
		PublishedTime: &published,
	}
	before := article

	a := deriveMetadata(article, u)
	b := deriveMetadata(article, u)
	assert.Equal(t, a, b)
	assert.Equal(t, before, article)
	assert.Equal(t, 2, a.ReadingTime)

	// The published time is copied, not shared with the article.
	require.NotNil(t, a.PublishedTime)
	assert.NotSame(t, article.PublishedTime, a.PublishedTime)
	assert.True(t, a.PublishedTime.Equal(published))
}

func TestDeriveMetadata_NoPublishedTime(t *testing.T) {
	u, _ := url.Parse("https://blog.example/post")
	assert.Nil(t, deriveMetadata(Article{Title: "x"}, u).PublishedTime)
}
