package main

import (
	"bufio"
	"context"
	"fmt"
	"log/slog"
	"os"
	"sort"
	"strings"
)

// URLSource produces an ordered list of article URLs.
type URLSource interface {
	ListURLs(ctx context.Context) ([]string, error)
}

// sourceRegistry maps source names accepted on the command line to their
// constructors.
var sourceRegistry = map[string]func(Config) (URLSource, error){
	"miniflux": func(cfg Config) (URLSource, error) { return newMinifluxSource(cfg) },
}

func sourceNames() []string {
	names := make([]string, 0, len(sourceRegistry))
	for name := range sourceRegistry {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// resolveURLs interprets the command-line argument: a URL, a .txt file of
// URLs, or the name of a registered source. An unknown name is logged and
// yields no URLs. Source failures come back as *AdapterError.
func resolveURLs(ctx context.Context, arg string, cfg Config, log *slog.Logger) ([]string, error) {
	if strings.HasPrefix(arg, "http") {
		return []string{arg}, nil
	}

	var (
		name string
		src  URLSource
		err  error
	)
	if strings.HasSuffix(arg, ".txt") {
		name, src = arg, urlFile(arg)
	} else {
		build, ok := sourceRegistry[arg]
		if !ok {
			log.Warn("unknown source", "source", arg, "known", sourceNames())
			return nil, nil
		}
		name = arg
		if src, err = build(cfg); err != nil {
			return nil, &AdapterError{Source: name, Cause: err}
		}
	}

	urls, err := src.ListURLs(ctx)
	if err != nil {
		return nil, &AdapterError{Source: name, Cause: err}
	}
	return urls, nil
}

// urlFile is a plain text file with one URL per line. Blank lines and
// lines starting with # are skipped.
type urlFile string

func (f urlFile) ListURLs(ctx context.Context) ([]string, error) {
	file, err := os.Open(string(f))
	if err != nil {
		return nil, err
	}
	defer file.Close()

	var urls []string
	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		urls = append(urls, line)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("reading %s: %w", string(f), err)
	}
	return urls, nil
}
