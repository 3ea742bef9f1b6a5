package main

import (
	"bytes"
	"encoding/xml"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

const (
	dcNamespace = "http://purl.org/dc/elements/1.1/"
	dcDateForm  = "2006-01-02"
)

// StagedFiles are the two intermediates handed to a packaging engine.
type StagedFiles struct {
	Document string
	Metadata string
}

// stager writes intermediates into workDir and hands out base names that
// are unique for the lifetime of a batch, so two articles with the same
// title never write to the same staged or output path.
type stager struct {
	workDir string

	mu    sync.Mutex
	inUse map[string]bool
}

func newStager(workDir string) *stager {
	return &stager{workDir: workDir, inUse: make(map[string]bool)}
}

// reserve returns base, or base-2, base-3, ... if base is already taken.
func (s *stager) reserve(base string) string {
	s.mu.Lock()
	defer s.mu.Unlock()

	name := base
	for i := 2; s.inUse[name]; i++ {
		name = fmt.Sprintf("%s-%d", base, i)
	}
	s.inUse[name] = true
	return name
}

func (s *stager) release(name string) {
	s.mu.Lock()
	delete(s.inUse, name)
	s.mu.Unlock()
}

// stage writes <name>.html and <name>_metadata.xml, replacing any existing
// files of the same name.
func (s *stager) stage(doc string, meta Metadata, name string) (StagedFiles, error) {
	if err := os.MkdirAll(s.workDir, 0o755); err != nil {
		return StagedFiles{}, &StageError{Path: s.workDir, Cause: err}
	}

	files := StagedFiles{
		Document: filepath.Join(s.workDir, name+".html"),
		Metadata: filepath.Join(s.workDir, name+"_metadata.xml"),
	}

	if err := os.WriteFile(files.Document, []byte(doc), 0o644); err != nil {
		return StagedFiles{}, &StageError{Path: files.Document, Cause: err}
	}

	sidecar, err := renderSidecar(meta)
	if err != nil {
		os.Remove(files.Document)
		return StagedFiles{}, &StageError{Path: files.Metadata, Cause: err}
	}
	if err := os.WriteFile(files.Metadata, sidecar, 0o644); err != nil {
		os.Remove(files.Document)
		return StagedFiles{}, &StageError{Path: files.Metadata, Cause: err}
	}
	return files, nil
}

// renderSidecar produces the Dublin Core fragment pandoc reads through
// --epub-metadata. The date element is left out when the date is unknown.
func renderSidecar(meta Metadata) ([]byte, error) {
	var buf bytes.Buffer
	write := func(tag, value string) error {
		buf.WriteString("<dc:" + tag + ">")
		if err := xml.EscapeText(&buf, []byte(value)); err != nil {
			return err
		}
		buf.WriteString("</dc:" + tag + ">\n")
		return nil
	}

	if err := write("title", meta.Title); err != nil {
		return nil, err
	}
	if err := write("creator", meta.Author); err != nil {
		return nil, err
	}
	if meta.PublishedTime != nil {
		if err := write("date", meta.PublishedTime.Format(dcDateForm)); err != nil {
			return nil, err
		}
	}
	return buf.Bytes(), nil
}

// sidecarRecord is the decoded form of a metadata sidecar.
type sidecarRecord struct {
	Title   string `xml:"http://purl.org/dc/elements/1.1/ title"`
	Creator string `xml:"http://purl.org/dc/elements/1.1/ creator"`
	Date    string `xml:"http://purl.org/dc/elements/1.1/ date"`
}

// readSidecar parses a sidecar written by renderSidecar. The file holds
// bare dc elements, so it is wrapped in a root that declares the prefix.
func readSidecar(path string) (sidecarRecord, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return sidecarRecord{}, err
	}

	wrapped := `<metadata xmlns:dc="` + dcNamespace + `">` + string(data) + `</metadata>`
	var rec sidecarRecord
	if err := xml.NewDecoder(strings.NewReader(wrapped)).Decode(&rec); err != nil {
		return sidecarRecord{}, fmt.Errorf("parsing %s: %w", path, err)
	}
	return rec, nil
}

// published returns the sidecar date, or nil when absent or unparsable.
func (r sidecarRecord) published() *time.Time {
	if r.Date == "" {
		return nil
	}
	t, err := time.Parse(dcDateForm, r.Date)
	if err != nil {
		return nil
	}
	return &t
}
