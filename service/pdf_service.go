package service

import (
	"context"
	"encoding/csv"
	"fmt"
	"html"
	"log"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"

	"github.com/ledongthuc/pdf"
	"github.com/tieubaoca/docqa-be/types"
)

// PDFService extracts the text, images and tables of a PDF file page by
// page. A page that fails to parse is reported but does not abort the
// rest of the document; extraction only fails outright when no page
// yields anything usable.
type PDFService interface {
	Extract(ctx context.Context, path string) ([]types.PageRecord, []error, error)
}

type pdfService struct{}

func NewPDFService() PDFService {
	return &pdfService{}
}

func (s *pdfService) Extract(ctx context.Context, path string) ([]types.PageRecord, []error, error) {
	f, reader, err := pdf.Open(path)
	if err != nil {
		// Files the in-process parser rejects may still be readable by
		// poppler.
		return s.extractWithPoppler(ctx, path, err)
	}
	defer f.Close()

	total := reader.NumPage()
	if total == 0 {
		return nil, nil, fmt.Errorf("pdf %s has no pages", path)
	}

	images := s.extractImages(ctx, path, total)

	var records []types.PageRecord
	var pageErrs []error
	for i := 1; i <= total; i++ {
		if err := ctx.Err(); err != nil {
			return nil, pageErrs, err
		}
		raw, err := s.pageText(ctx, reader, path, i)
		if err != nil {
			pageErrs = append(pageErrs, &types.PageError{Page: i, Err: err})
			continue
		}
		records = append(records, types.PageRecord{
			PageNum: i,
			Text:    types.TextBlock{Page: i, Text: cleanText(raw)},
			Images:  images[i],
			// Tables are detected on the raw text; cleaning collapses the
			// column alignment the detector relies on.
			Tables: detectTables(i, raw),
		})
	}
	if len(records) == 0 {
		return nil, pageErrs, fmt.Errorf("pdf %s: no page could be extracted", path)
	}
	return records, pageErrs, nil
}

// pageText reads one page in-process, shelling out to pdftotext when the
// parser chokes on that page.
func (s *pdfService) pageText(ctx context.Context, reader *pdf.Reader, path string, pageNum int) (string, error) {
	page := reader.Page(pageNum)
	if !page.V.IsNull() {
		if raw, err := page.GetPlainText(nil); err == nil {
			return raw, nil
		}
	}
	return popplerPageText(ctx, path, pageNum)
}

// extractWithPoppler is the whole-document fallback: page count from
// pdfinfo, text page by page from pdftotext.
func (s *pdfService) extractWithPoppler(ctx context.Context, path string, openErr error) ([]types.PageRecord, []error, error) {
	total, err := popplerPageCount(ctx, path)
	if err != nil {
		return nil, nil, fmt.Errorf("open pdf %s: %w", path, openErr)
	}
	images := s.extractImages(ctx, path, total)

	var records []types.PageRecord
	var pageErrs []error
	for i := 1; i <= total; i++ {
		if err := ctx.Err(); err != nil {
			return nil, pageErrs, err
		}
		raw, err := popplerPageText(ctx, path, i)
		if err != nil {
			pageErrs = append(pageErrs, &types.PageError{Page: i, Err: err})
			continue
		}
		records = append(records, types.PageRecord{
			PageNum: i,
			Text:    types.TextBlock{Page: i, Text: cleanText(raw)},
			Images:  images[i],
			Tables:  detectTables(i, raw),
		})
	}
	if len(records) == 0 {
		return nil, pageErrs, fmt.Errorf("pdf %s: no page could be extracted", path)
	}
	return records, pageErrs, nil
}

func popplerPageCount(ctx context.Context, path string) (int, error) {
	bin, err := exec.LookPath("pdfinfo")
	if err != nil {
		return 0, fmt.Errorf("pdfinfo not available: %w", err)
	}
	out, err := exec.CommandContext(ctx, bin, path).Output()
	if err != nil {
		return 0, fmt.Errorf("pdfinfo: %w", err)
	}
	for _, line := range strings.Split(string(out), "\n") {
		if !strings.HasPrefix(line, "Pages:") {
			continue
		}
		n, err := strconv.Atoi(strings.TrimSpace(strings.TrimPrefix(line, "Pages:")))
		if err != nil || n <= 0 {
			break
		}
		return n, nil
	}
	return 0, fmt.Errorf("pdfinfo: no page count for %s", path)
}

func popplerPageText(ctx context.Context, path string, pageNum int) (string, error) {
	bin, err := exec.LookPath("pdftotext")
	if err != nil {
		return "", fmt.Errorf("pdftotext not available: %w", err)
	}
	out, err := exec.CommandContext(ctx, bin,
		"-f", fmt.Sprint(pageNum),
		"-l", fmt.Sprint(pageNum),
		"-layout",
		path, "-").Output()
	if err != nil {
		return "", fmt.Errorf("pdftotext page %d: %w", pageNum, err)
	}
	return string(out), nil
}

// extractImages shells out to pdfimages when poppler-utils is on the
// host. Image extraction is best effort; a missing binary or a failed
// run just means a text-only document.
func (s *pdfService) extractImages(ctx context.Context, path string, totalPages int) map[int][]types.ImageBlock {
	bin, err := exec.LookPath("pdfimages")
	if err != nil {
		return nil
	}
	tmpDir, err := os.MkdirTemp("", "docqa-images-*")
	if err != nil {
		log.Printf("pdfimages temp dir: %v", err)
		return nil
	}
	defer os.RemoveAll(tmpDir)

	out := make(map[int][]types.ImageBlock)
	for pageNum := 1; pageNum <= totalPages; pageNum++ {
		prefix := filepath.Join(tmpDir, fmt.Sprintf("p%d", pageNum))
		cmd := exec.CommandContext(ctx, bin,
			"-png",
			"-f", fmt.Sprint(pageNum),
			"-l", fmt.Sprint(pageNum),
			path, prefix)
		if err := cmd.Run(); err != nil {
			log.Printf("pdfimages page %d of %s: %v", pageNum, path, err)
			continue
		}
		matches, _ := filepath.Glob(prefix + "-*.png")
		for _, m := range matches {
			data, err := os.ReadFile(m)
			if err != nil || len(data) == 0 {
				continue
			}
			out[pageNum] = append(out[pageNum], types.ImageBlock{
				Page:   pageNum,
				Data:   data,
				Format: "png",
			})
		}
	}
	return out
}

var whitespaceRun = regexp.MustCompile(`[ \t]+`)

// cleanText normalizes line endings, collapses horizontal whitespace
// runs and squeezes blank-line runs down to one.
func cleanText(raw string) string {
	raw = strings.ReplaceAll(raw, "\r\n", "\n")
	raw = strings.ReplaceAll(raw, "\r", "\n")
	lines := strings.Split(raw, "\n")
	out := make([]string, 0, len(lines))
	blank := 0
	for _, line := range lines {
		line = strings.TrimRight(whitespaceRun.ReplaceAllString(line, " "), " ")
		if line == "" {
			blank++
			if blank > 1 {
				continue
			}
		} else {
			blank = 0
		}
		out = append(out, line)
	}
	return strings.TrimSpace(strings.Join(out, "\n"))
}

var columnSep = regexp.MustCompile(`\t|\s{2,}|\s\|\s`)

// detectTables scans the page text for runs of consecutive lines that
// split into the same number of columns. Two or more such lines with at
// least two columns are treated as one table. This is a heuristic over
// extracted text, not a layout analysis; it catches the common case of
// whitespace-aligned tables.
func detectTables(page int, text string) []types.TableBlock {
	lines := strings.Split(text, "\n")
	var tables []types.TableBlock
	var run [][]string
	flush := func() {
		if len(run) >= 2 {
			tables = append(tables, buildTable(page, run))
		}
		run = nil
	}
	for _, line := range lines {
		cols := splitColumns(line)
		if len(cols) >= 2 && (len(run) == 0 || len(cols) == len(run[0])) {
			run = append(run, cols)
			continue
		}
		flush()
		// A line with columns but a different width may start a new table.
		if len(cols) >= 2 {
			run = append(run, cols)
		}
	}
	flush()
	return tables
}

func splitColumns(line string) []string {
	parts := columnSep.Split(strings.TrimSpace(line), -1)
	cols := parts[:0]
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			cols = append(cols, p)
		}
	}
	return cols
}

func buildTable(page int, rows [][]string) types.TableBlock {
	var csvBuf strings.Builder
	w := csv.NewWriter(&csvBuf)
	for _, row := range rows {
		_ = w.Write(row)
	}
	w.Flush()

	var htmlBuf strings.Builder
	htmlBuf.WriteString("<table>")
	for i, row := range rows {
		tag := "td"
		if i == 0 {
			tag = "th"
		}
		htmlBuf.WriteString("<tr>")
		for _, cell := range row {
			htmlBuf.WriteString("<" + tag + ">" + html.EscapeString(cell) + "</" + tag + ">")
		}
		htmlBuf.WriteString("</tr>")
	}
	htmlBuf.WriteString("</table>")

	return types.TableBlock{
		Page: page,
		Rows: rows,
		CSV:  csvBuf.String(),
		HTML: htmlBuf.String(),
	}
}
