package engine

import (
	"archive/tar"
	"bytes"
	"compress/gzip"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"
)

// buildSnapshot tars together the supplemental export format named in
// SPEC_FULL.md §4.x: the Factual layer's raw facts.db file, the Semantic
// layer's patterns as JSON, the Episodic layer's day logs as JSON, and a
// generated MEMORY.md rendering the curated notebook — gzip-compressed for
// upload to internal/objectstore. No corpus archive library beats
// archive/tar + compress/gzip for this: it's the standard way to bundle a
// heterogeneous snapshot in Go, and nothing in the example pack reaches for
// a third-party archiver.
func buildSnapshot(e *Engine) (*bytes.Buffer, error) {
	var buf bytes.Buffer
	gz := gzip.NewWriter(&buf)
	tw := tar.NewWriter(gz)

	if err := addFactsSnapshot(tw, e); err != nil {
		return nil, err
	}
	if err := addPatterns(tw, e); err != nil {
		return nil, err
	}
	if err := addEpisodicDays(tw, e); err != nil {
		return nil, err
	}
	if err := addNotebook(tw, e); err != nil {
		return nil, err
	}

	if err := tw.Close(); err != nil {
		return nil, fmt.Errorf("engine: close tar writer: %w", err)
	}
	if err := gz.Close(); err != nil {
		return nil, fmt.Errorf("engine: close gzip writer: %w", err)
	}
	return &buf, nil
}

func writeTarMember(tw *tar.Writer, name string, body []byte) error {
	hdr := &tar.Header{
		Name:    name,
		Size:    int64(len(body)),
		Mode:    0o644,
		ModTime: time.Now(),
	}
	if err := tw.WriteHeader(hdr); err != nil {
		return fmt.Errorf("engine: write tar header for %s: %w", name, err)
	}
	if _, err := tw.Write(body); err != nil {
		return fmt.Errorf("engine: write tar body for %s: %w", name, err)
	}
	return nil
}

func addFactsSnapshot(tw *tar.Writer, e *Engine) error {
	if e.Factual == nil {
		return nil
	}
	body, err := e.Factual.SnapshotBytes()
	if err != nil {
		return fmt.Errorf("engine: snapshot facts.db: %w", err)
	}
	return writeTarMember(tw, "facts.db", body)
}

func addPatterns(tw *tar.Writer, e *Engine) error {
	if e.Semantic == nil {
		return nil
	}
	body, err := json.MarshalIndent(e.Semantic.All(), "", "  ")
	if err != nil {
		return fmt.Errorf("engine: marshal patterns.json: %w", err)
	}
	return writeTarMember(tw, "patterns.json", body)
}

func addEpisodicDays(tw *tar.Writer, e *Engine) error {
	if e.Episodic == nil {
		return nil
	}
	days := e.Episodic.AllDays()
	dates := make([]string, 0, len(days))
	for d := range days {
		dates = append(dates, d)
	}
	sort.Strings(dates)
	for _, date := range dates {
		body, err := json.MarshalIndent(days[date], "", "  ")
		if err != nil {
			return fmt.Errorf("engine: marshal episodic day %s: %w", date, err)
		}
		if err := writeTarMember(tw, "episodic/"+date+".json", body); err != nil {
			return err
		}
	}
	return nil
}

func addNotebook(tw *tar.Writer, e *Engine) error {
	if e.Episodic == nil {
		return nil
	}
	var sb strings.Builder
	sb.WriteString("# MEMORY\n\n")
	for _, n := range e.Episodic.Notebook() {
		sb.WriteString("## " + n.Heading + "\n\n")
		sb.WriteString(n.Body)
		sb.WriteString("\n\n")
	}
	return writeTarMember(tw, "MEMORY.md", []byte(sb.String()))
}
