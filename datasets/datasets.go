/******************************************************************************
 * Copyright (c) 2025-2026 Tenebris Technologies Inc.                         *
 * Please see the LICENSE file for details                                    *
 ******************************************************************************/

// Package datasets stages input data for a run and describes it for the
// collaborators: type detection, previews, CSV shape and document conversion.
package datasets

import (
	"bufio"
	"bytes"
	"encoding/csv"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"mime"
	"net/http"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"unicode/utf8"

	"github.com/PivotLLM/Planwright/global"
	"github.com/PivotLLM/Planwright/logging"
	"github.com/tenebris-tech/x2md/convert"
)

// sniffLen is how much of a file is read for type and binary detection
const sniffLen = 8192

// FileInfo describes one staged data file
type FileInfo struct {
	Name      string   `json:"name"`
	Path      string   `json:"path"`
	Size      int64    `json:"size"`
	MIMEType  string   `json:"mime_type"`
	Binary    bool     `json:"binary"`
	Preview   string   `json:"preview,omitempty"`
	Columns   []string `json:"columns,omitempty"`
	Rows      int      `json:"rows,omitempty"`
	Converted string   `json:"converted,omitempty"` // markdown rendition of a document
}

// Stager copies input files into a run's data directory and describes them
type Stager struct {
	logger       *logging.Logger
	previewLines int
	hexBytes     int
	convertDocs  bool
}

// Option configures a Stager
type Option func(*Stager)

// WithPreviewLines sets how many lines of a text file are previewed
func WithPreviewLines(n int) Option {
	return func(s *Stager) {
		if n > 0 {
			s.previewLines = n
		}
	}
}

// WithConversion enables or disables markdown conversion of documents
func WithConversion(enabled bool) Option {
	return func(s *Stager) {
		s.convertDocs = enabled
	}
}

// New creates a Stager
func New(logger *logging.Logger, opts ...Option) *Stager {
	s := &Stager{
		logger:       logger,
		previewLines: global.DefaultPreviewLines,
		hexBytes:     global.DefaultHexPreviewBytes,
		convertDocs:  true,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Stage copies every file named by paths into dir. Directories are walked
// recursively and flattened; name collisions get a numeric suffix. It returns
// the staged paths in the order they were copied.
func (s *Stager) Stage(paths []string, dir string) ([]string, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	var sources []string
	for _, p := range paths {
		info, err := os.Stat(p)
		if err != nil {
			return nil, fmt.Errorf("data path %s: %w", p, err)
		}
		if !info.IsDir() {
			sources = append(sources, p)
			continue
		}
		err = filepath.WalkDir(p, func(path string, d fs.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if d.Type().IsRegular() && !strings.HasPrefix(d.Name(), ".") {
				sources = append(sources, path)
			}
			return nil
		})
		if err != nil {
			return nil, fmt.Errorf("failed to walk %s: %w", p, err)
		}
	}

	used := make(map[string]bool)
	staged := make([]string, 0, len(sources))
	for _, src := range sources {
		name := uniqueName(filepath.Base(src), used)
		dst := filepath.Join(dir, name)
		if err := global.CopyFile(src, dst); err != nil {
			return nil, fmt.Errorf("failed to stage %s: %w", src, err)
		}
		staged = append(staged, dst)
	}

	s.logger.Infof("Staged %d data file(s) into %s", len(staged), dir)
	return staged, nil
}

func uniqueName(name string, used map[string]bool) string {
	candidate := name
	ext := filepath.Ext(name)
	stem := strings.TrimSuffix(name, ext)
	for i := 2; used[candidate]; i++ {
		candidate = fmt.Sprintf("%s_%d%s", stem, i, ext)
	}
	used[candidate] = true
	return candidate
}

// DescribeAll describes every path, logging and skipping the ones that fail
func (s *Stager) DescribeAll(paths []string) []*FileInfo {
	infos := make([]*FileInfo, 0, len(paths))
	for _, p := range paths {
		info, err := s.Describe(p)
		if err != nil {
			s.logger.Warnf("Could not describe %s: %v", p, err)
			continue
		}
		infos = append(infos, info)
	}
	return infos
}

// Describe collects metadata and a preview for one file
func (s *Stager) Describe(path string) (*FileInfo, error) {
	st, err := os.Stat(path)
	if err != nil {
		return nil, err
	}
	if st.IsDir() {
		return nil, fmt.Errorf("%s is a directory", path)
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer func() { _ = f.Close() }()

	head := make([]byte, sniffLen)
	n, err := io.ReadFull(f, head)
	if err != nil && !errors.Is(err, io.ErrUnexpectedEOF) && !errors.Is(err, io.EOF) {
		return nil, err
	}
	head = head[:n]

	info := &FileInfo{
		Name:     filepath.Base(path),
		Path:     path,
		Size:     st.Size(),
		MIMEType: detectType(path, head),
		Binary:   isBinary(head),
	}

	ext := strings.ToLower(filepath.Ext(path))
	switch {
	case isDocument(ext):
		s.describeDocument(info, head)
	case info.Binary:
		info.Preview = hexPreview(head, s.hexBytes)
	default:
		info.Preview = s.textPreview(path)
		if ext == ".csv" || ext == ".tsv" {
			if err := describeTable(info, ext); err != nil {
				s.logger.Debugf("Could not parse %s as a table: %v", info.Name, err)
			}
		}
	}
	return info, nil
}

func (s *Stager) describeDocument(info *FileInfo, head []byte) {
	fallback := func() {
		if info.Binary {
			info.Preview = hexPreview(head, s.hexBytes)
		}
	}
	if !s.convertDocs {
		fallback()
		return
	}

	converter := convert.New(
		convert.WithRecursion(false),
		convert.WithSkipExisting(true),
	)
	result, err := converter.Convert(info.Path)
	if err != nil {
		s.logger.Warnf("Conversion of %s failed: %v", info.Name, err)
		fallback()
		return
	}

	md := markdownFor(info.Path)
	if md == "" {
		s.logger.Debugf("No markdown produced for %s (converted %d, skipped %d, failed %d)",
			info.Name, result.Converted, result.Skipped, result.Failed)
		fallback()
		return
	}
	info.Converted = filepath.Base(md)
	info.Preview = s.textPreview(md)
}

// markdownFor finds the markdown file written next to a converted document
func markdownFor(path string) string {
	stem := strings.TrimSuffix(path, filepath.Ext(path))
	for _, candidate := range []string{stem + ".md", path + ".md"} {
		if global.FileExists(candidate) {
			return candidate
		}
	}
	return ""
}

func isDocument(ext string) bool {
	switch ext {
	case ".pdf", ".docx", ".xlsx", ".pptx":
		return true
	}
	return false
}

func detectType(path string, head []byte) string {
	if t := mime.TypeByExtension(filepath.Ext(path)); t != "" {
		return t
	}
	return http.DetectContentType(head)
}

// isBinary treats NUL bytes or invalid UTF-8 in the sniffed prefix as binary
func isBinary(head []byte) bool {
	if bytes.IndexByte(head, 0) != -1 {
		return true
	}
	// a multi-byte rune may be cut at the end of the prefix
	trimmed := head
	for i := 0; i < utf8.UTFMax && len(trimmed) > 0 && !utf8.Valid(trimmed); i++ {
		trimmed = trimmed[:len(trimmed)-1]
	}
	return !utf8.Valid(trimmed)
}

func hexPreview(head []byte, n int) string {
	if len(head) > n {
		head = head[:n]
	}
	return hex.Dump(head)
}

func (s *Stager) textPreview(path string) string {
	f, err := os.Open(path)
	if err != nil {
		return ""
	}
	defer func() { _ = f.Close() }()

	var lines []string
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for len(lines) < s.previewLines && scanner.Scan() {
		lines = append(lines, strings.TrimRight(scanner.Text(), "\r"))
	}
	return strings.Join(lines, "\n")
}

func describeTable(info *FileInfo, ext string) error {
	f, err := os.Open(info.Path)
	if err != nil {
		return err
	}
	defer func() { _ = f.Close() }()

	r := csv.NewReader(f)
	if ext == ".tsv" {
		r.Comma = '\t'
	}
	r.FieldsPerRecord = -1
	r.LazyQuotes = true

	header, err := r.Read()
	if err != nil {
		return err
	}
	rows := 0
	for {
		_, err := r.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return err
		}
		rows++
	}

	for i := range header {
		header[i] = strings.TrimSpace(header[i])
	}
	if len(header) > 0 {
		header[0] = strings.TrimPrefix(header[0], "\ufeff")
	}
	info.Columns = header
	info.Rows = rows
	return nil
}

// Summary renders file descriptions as the dataset section of a prompt
func Summary(files []*FileInfo) string {
	if len(files) == 0 {
		return ""
	}

	sorted := append([]*FileInfo(nil), files...)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Name < sorted[j].Name })

	var b strings.Builder
	for i, f := range sorted {
		if i > 0 {
			b.WriteString("\n")
		}
		fmt.Fprintf(&b, "- %s (%s, %s)\n", f.Name, f.MIMEType, formatSize(f.Size))
		if f.Converted != "" {
			fmt.Fprintf(&b, "  Markdown version: %s\n", f.Converted)
		}
		if len(f.Columns) > 0 {
			cols := f.Columns
			more := ""
			if len(cols) > global.DefaultDatasetSummaryColumns {
				more = fmt.Sprintf(", ... (%d more)", len(cols)-global.DefaultDatasetSummaryColumns)
				cols = cols[:global.DefaultDatasetSummaryColumns]
			}
			fmt.Fprintf(&b, "  Columns (%d): %s%s\n", len(f.Columns), strings.Join(cols, ", "), more)
			fmt.Fprintf(&b, "  Rows: %d\n", f.Rows)
		}
		if f.Preview != "" {
			label := "Preview"
			if f.Binary && f.Converted == "" {
				label = "Hex preview"
			}
			fmt.Fprintf(&b, "  %s:\n", label)
			for _, line := range strings.Split(strings.TrimRight(f.Preview, "\n"), "\n") {
				b.WriteString("    ")
				b.WriteString(line)
				b.WriteString("\n")
			}
		}
	}
	return b.String()
}

func formatSize(n int64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%d B", n)
	}
	div, exp := int64(unit), 0
	for m := n / unit; m >= unit; m /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %cB", float64(n)/float64(div), "KMGT"[exp])
}
