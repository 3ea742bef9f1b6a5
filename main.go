// article2epub: turn web articles into e-books.
//
//	article2epub [flags] <URL>
//	article2epub [flags] <urls.txt>
//	article2epub [flags] <source>
//	article2epub sources
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

// flagKeys maps command-line flags to their config keys.
var flagKeys = map[string]string{
	"output-dir":      "output_dir",
	"work-dir":        "work_dir",
	"engine":          "engine",
	"pandoc":          "pandoc_path",
	"concurrency":     "concurrency",
	"timeout":         "timeout",
	"package-timeout": "package_timeout",
	"user-agent":      "user_agent",
	"proxy":           "proxy",
	"browser":         "browser",
	"allow-private":   "allow_private",
	"log-level":       "log_level",
	"silent":          "silent",
	"report":          "report",
	"embed-images":    "images.embed",
	"max-width":       "images.max_width",
	"quality":         "images.quality",
	"grayscale":       "images.grayscale",
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "article2epub [flags] <url|file.txt|source>",
		Short: "Convert web articles into EPUB e-books",
		Long: `article2epub downloads a web page, extracts the readable article, adds a
reader-style header and packages it as an e-book in the output directory.

The argument is a URL, a .txt file with one URL per line, or the name of a
URL source such as "miniflux" (run "article2epub sources" for the list).`,
		Args:         cobra.ExactArgs(1),
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfgFile, _ := cmd.Flags().GetString("config")
			v := newViper(cfgFile)
			for flag, key := range flagKeys {
				if err := v.BindPFlag(key, cmd.Flags().Lookup(flag)); err != nil {
					return fmt.Errorf("binding --%s: %w", flag, err)
				}
			}

			cfg, err := loadConfig(v)
			if err != nil {
				return err
			}
			if cfg.Silent {
				progressOut = io.Discard
				cfg.LogLevel = "error"
			} else {
				progressOut = os.Stderr
				if f := v.ConfigFileUsed(); f != "" {
					fmt.Fprintln(logOut, "Using config file:", f)
				}
			}
			return run(cmd.Context(), cfg, args[0])
		},
	}

	f := root.Flags()
	f.String("config", "", "config file (default: ./article2epub.yaml or ~/.config/article2epub/article2epub.yaml)")
	f.StringP("output-dir", "o", "output", "output directory; relative paths are next to the executable")
	f.String("work-dir", "", "directory for intermediate files (default: <output-dir>/.staging)")
	f.StringP("engine", "e", "pandoc", "packaging engine: pandoc, native or markdown")
	f.String("pandoc", "pandoc", "pandoc executable")
	f.IntP("concurrency", "j", 4, "articles converted in parallel")
	f.Duration("timeout", defaultTimeout, "HTTP fetch timeout")
	f.Duration("package-timeout", defaultPackageTimeout, "packaging timeout per article")
	f.String("user-agent", defaultUA, "HTTP User-Agent header")
	f.String("proxy", "", "HTTP proxy URL")
	f.Bool("browser", false, "render pages in headless Chrome before extraction")
	f.Bool("allow-private", false, "allow fetching from private and loopback addresses")
	f.String("log-level", "info", "log level: debug, info, warn or error")
	f.Bool("silent", false, "only report errors")
	f.String("report", "", "write a YAML run report to this file")
	f.Bool("embed-images", true, "download and embed article images")
	f.Int("max-width", 800, "max image width in pixels")
	f.Int("quality", 60, "JPEG quality 1-95")
	f.Bool("grayscale", false, "convert images to grayscale")

	root.AddCommand(&cobra.Command{
		Use:   "sources",
		Short: "List the URL sources that can be named as the argument",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			for _, name := range sourceNames() {
				fmt.Fprintln(cmd.OutOrStdout(), name)
			}
		},
	})
	return root
}

// run converts everything arg refers to and returns an error if the source
// or any conversion failed. An unknown source name converts nothing and is
// not an error.
func run(ctx context.Context, cfg Config, arg string) error {
	log := newLogger(logOut, cfg.LogLevel)

	outputDir, err := resolveOutputDir(cfg.OutputDir)
	if err != nil {
		return err
	}

	report := newReport(arg)
	urls, err := resolveURLs(ctx, arg, cfg, log)
	if err != nil {
		log.Error("source failed", "err", err)
		report.SourceErr = err
	}
	log.Info(fmt.Sprintf("Extracting content from %d URLs", len(urls)), "run_id", report.RunID)

	// The engine is only needed, and pandoc only looked up, when there is
	// something to convert.
	var engine Engine
	if len(urls) > 0 {
		if engine, err = engineByName(cfg, log); err != nil {
			return err
		}
	}

	f := newFetcher(cfg, log)
	defer f.closeIdle()
	var images *imageEmbedder
	if cfg.Images.Embed {
		images = newImageEmbedder(f, cfg.Images, log)
	}
	c := &converter{
		fetch:       f,
		images:      images,
		stager:      newStager(stagingDir(cfg, outputDir)),
		engine:      engine,
		outputDir:   outputDir,
		concurrency: cfg.Concurrency,
		log:         log,
	}
	report.finish(c.convertAll(ctx, urls))

	if len(report.Results) > 0 || report.SourceErr != nil {
		report.writeSummary(progressOut)
	}
	if cfg.Report != "" {
		if err := report.writeYAML(cfg.Report); err != nil {
			log.Error("could not write report", "err", err)
		}
	}

	switch {
	case report.SourceErr != nil:
		return report.SourceErr
	case report.Failed() > 0:
		return fmt.Errorf("%d of %d conversions failed", report.Failed(), len(report.Results))
	}
	return nil
}

func main() {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		fmt.Fprintf(os.Stderr, "Warning: reading .env: %v\n", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := newRootCmd().ExecuteContext(ctx)
	stop()
	if err != nil {
		os.Exit(1)
	}
}
