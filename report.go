package main

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/google/uuid"
	"go.yaml.in/yaml/v3"
)

// Report collects the results of one batch.
type Report struct {
	RunID     string
	Source    string
	Started   time.Time
	Finished  time.Time
	SourceErr error
	Results   []Result
}

func newReport(source string) *Report {
	return &Report{RunID: uuid.NewString(), Source: source, Started: time.Now()}
}

func (r *Report) finish(results []Result) {
	r.Results = results
	r.Finished = time.Now()
}

func (r *Report) Converted() int {
	n := 0
	for _, res := range r.Results {
		if res.OK() {
			n++
		}
	}
	return n
}

func (r *Report) Failed() int { return len(r.Results) - r.Converted() }

// OK reports whether the source and every conversion succeeded.
func (r *Report) OK() bool { return r.SourceErr == nil && r.Failed() == 0 }

// writeSummary prints one aligned line per URL and a total.
func (r *Report) writeSummary(w io.Writer) {
	for _, res := range r.Results {
		label := res.Title
		if label == "" {
			label = shortURL(res.URL)
		}
		label = padDisplay(truncateDisplay(label), maxDisplayWidth)
		if res.OK() {
			fmt.Fprintf(w, "%s  %s\n", label, res.Output)
		} else {
			fmt.Fprintf(w, "%s  failed at %s: %v\n", label, res.Stage, res.Err)
		}
	}
	if r.SourceErr != nil {
		fmt.Fprintf(w, "source %s failed: %v\n", r.Source, r.SourceErr)
	}
	fmt.Fprintf(w, "%d converted, %d failed in %s\n",
		r.Converted(), r.Failed(), r.Finished.Sub(r.Started).Round(time.Millisecond))
}

type reportFile struct {
	RunID       string        `yaml:"run_id"`
	Source      string        `yaml:"source"`
	Started     time.Time     `yaml:"started"`
	Finished    time.Time     `yaml:"finished"`
	Converted   int           `yaml:"converted"`
	Failed      int           `yaml:"failed"`
	SourceError string        `yaml:"source_error,omitempty"`
	Results     []reportEntry `yaml:"results"`
}

type reportEntry struct {
	URL      string `yaml:"url"`
	Title    string `yaml:"title,omitempty"`
	Output   string `yaml:"output,omitempty"`
	Stage    string `yaml:"failed_stage,omitempty"`
	Error    string `yaml:"error,omitempty"`
	Duration string `yaml:"duration"`
}

func (r *Report) file() reportFile {
	f := reportFile{
		RunID:     r.RunID,
		Source:    r.Source,
		Started:   r.Started,
		Finished:  r.Finished,
		Converted: r.Converted(),
		Failed:    r.Failed(),
		Results:   make([]reportEntry, 0, len(r.Results)),
	}
	if r.SourceErr != nil {
		f.SourceError = r.SourceErr.Error()
	}
	for _, res := range r.Results {
		e := reportEntry{
			URL:      res.URL,
			Title:    res.Title,
			Output:   res.Output,
			Duration: res.Duration.Round(time.Millisecond).String(),
		}
		if res.Err != nil {
			e.Stage = string(res.Stage)
			e.Error = res.Err.Error()
		}
		f.Results = append(f.Results, e)
	}
	return f
}

// writeYAML saves the report for later inspection.
func (r *Report) writeYAML(path string) error {
	data, err := yaml.Marshal(r.file())
	if err != nil {
		return fmt.Errorf("encoding report: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("writing report: %w", err)
	}
	return nil
}
