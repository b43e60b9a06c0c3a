// Package sheet loads desired placement state from an exported episode
// classification sheet (csv, xlsx, or legacy xls).
//
// Sheet shape, inherited from the classification workflow: the first header
// cell is the public thumbnails base URL for the episode, one column holds
// the frame code, and one or more classification columns hold human/ML
// labels resolved by a fixed precedence order.
package sheet

import (
	"bytes"
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"net/http"
	"path"
	"strings"

	xls "github.com/extrame/xls"
	"github.com/xuri/excelize/v2"
	"go.uber.org/zap"

	"github.com/yourorg/frame-sync/internal/assign"
	"github.com/yourorg/frame-sync/internal/frame"
	"github.com/yourorg/frame-sync/internal/iopkg"
)

// ErrUnavailable wraps failures to fetch the sheet at all.
var ErrUnavailable = errors.New("classification sheet unavailable")

// MalformedError reports sheet content that cannot be trusted. It aborts the
// whole unit: partial desired state would read as deletions downstream.
type MalformedError struct {
	Unit   frame.UnitCode
	Detail string
}

func (e *MalformedError) Error() string {
	return fmt.Sprintf("unit %s: malformed sheet: %s", e.Unit, e.Detail)
}

// Provider produces the desired placement state for one unit.
type Provider interface {
	LoadDesired(ctx context.Context, unit frame.UnitCode) ([]frame.DesiredRecord, error)
}

// Config shapes sheet interpretation.
type Config struct {
	// URITemplate locates a unit's sheet; "{unit}" expands to "S01E02" and
	// "{unit_lower}" to "s01e02".
	URITemplate string
	// FrameColumn is the header of the frame-code column.
	FrameColumn string
	// ClassColumns, most authoritative first. The first non-empty value per
	// row wins; a row with none is absent from desired state.
	ClassColumns []string
}

// DefaultConfig matches the production sheets.
func DefaultConfig(uriTemplate string) Config {
	return Config{
		URITemplate: uriTemplate,
		FrameColumn: "FRAME NUMBER",
		ClassColumns: []string{
			"JONNY's RECLASSIFICATION",
			"SUPERVISED CLASSIFICATION",
			"UNSUPERVISED CLASSIFICATION",
		},
	}
}

// SheetProvider implements Provider over iopkg URIs.
type SheetProvider struct {
	cfg      Config
	layout   frame.Layout
	assigner *assign.Assigner
	log      *zap.Logger

	// open is the sheet fetch; swapped in tests.
	open func(uri string) (io.ReadCloser, error)
}

func NewProvider(cfg Config, layout frame.Layout, assigner *assign.Assigner, log *zap.Logger) *SheetProvider {
	if log == nil {
		log = zap.NewNop()
	}
	return &SheetProvider{cfg: cfg, layout: layout, assigner: assigner, log: log, open: iopkg.OpenReader}
}

// LoadDesired reads the unit's sheet and emits one DesiredRecord per
// classified frame, with the bucket chosen by the assigner.
func (p *SheetProvider) LoadDesired(ctx context.Context, unit frame.UnitCode) ([]frame.DesiredRecord, error) {
	uri := strings.NewReplacer("{unit}", unit.String(), "{unit_lower}", unit.Lower()).Replace(p.cfg.URITemplate)
	rc, err := p.open(uri)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrUnavailable, uri, err)
	}
	defer rc.Close()
	raw, err := io.ReadAll(rc)
	if err != nil {
		return nil, fmt.Errorf("%w: read %s: %v", ErrUnavailable, uri, err)
	}

	rows, err := readRows(uri, raw)
	if err != nil {
		return nil, &MalformedError{Unit: unit, Detail: err.Error()}
	}
	if len(rows) < 2 {
		return nil, &MalformedError{Unit: unit, Detail: "no data rows"}
	}

	header := rows[0]
	srcBase, err := p.sourceBase(unit, header)
	if err != nil {
		return nil, err
	}

	frameIdx, classIdx, err := p.columns(unit, header)
	if err != nil {
		return nil, err
	}

	var out []frame.DesiredRecord
	skipped := 0
	for i, row := range rows[1:] {
		code := strings.TrimSpace(cell(row, frameIdx))
		if code == "" {
			continue
		}
		f, err := frame.ParseCode(code)
		if err != nil {
			return nil, &MalformedError{Unit: unit, Detail: fmt.Sprintf("row %d: %v", i+2, err)}
		}
		if f.Unit != unit {
			return nil, &MalformedError{Unit: unit, Detail: fmt.Sprintf("row %d: frame %s belongs to %s", i+2, code, f.Unit)}
		}
		class := ""
		for _, ci := range classIdx {
			if v := strings.TrimSpace(cell(row, ci)); v != "" {
				class = v
				break
			}
		}
		if class == "" {
			skipped++
			continue
		}
		bucket, err := p.assigner.Bucket(f)
		if err != nil {
			return nil, err
		}
		out = append(out, frame.DesiredRecord{
			Frame:     f,
			SrcKey:    srcBase + code + p.layout.Ext,
			Placement: frame.Placement{Bucket: bucket, Class: class},
		})
	}
	p.log.Info("loaded desired state",
		zap.String("unit", unit.String()),
		zap.String("uri", uri),
		zap.Int("frames", len(out)),
		zap.Int("unclassified", skipped))
	return out, nil
}

// sourceBase derives the stamps source-key base from the thumbnails base URL
// carried in the first header cell.
func (p *SheetProvider) sourceBase(unit frame.UnitCode, header []string) (string, error) {
	if len(header) == 0 {
		return "", &MalformedError{Unit: unit, Detail: "empty header row"}
	}
	baseURL := strings.TrimSpace(header[0])
	idx := strings.Index(baseURL, p.layout.RootPrefix)
	if idx < 0 {
		return "", &MalformedError{Unit: unit, Detail: fmt.Sprintf("header base URL %q lacks root prefix %q", baseURL, p.layout.RootPrefix)}
	}
	base := baseURL[idx:]
	if !strings.Contains(base, unit.Lower()) {
		return "", &MalformedError{Unit: unit, Detail: fmt.Sprintf("base URL %q is not for unit %s", base, unit.Lower())}
	}
	base = strings.Replace(base, "thumbnails", "stamps", 1)
	if !strings.HasSuffix(base, "/") {
		base += "/"
	}
	return base, nil
}

func (p *SheetProvider) columns(unit frame.UnitCode, header []string) (frameIdx int, classIdx []int, err error) {
	byName := make(map[string]int, len(header))
	for i, h := range header {
		byName[strings.TrimSpace(h)] = i
	}
	frameIdx, ok := byName[p.cfg.FrameColumn]
	if !ok {
		return 0, nil, &MalformedError{Unit: unit, Detail: "missing column " + p.cfg.FrameColumn}
	}
	for _, name := range p.cfg.ClassColumns {
		i, ok := byName[name]
		if !ok {
			return 0, nil, &MalformedError{Unit: unit, Detail: "missing classification column " + name}
		}
		classIdx = append(classIdx, i)
	}
	return frameIdx, classIdx, nil
}

func cell(row []string, i int) string {
	if i < len(row) {
		return row[i]
	}
	return ""
}

// readRows sniffs the export format by extension and content signature.
func readRows(uri string, raw []byte) ([][]string, error) {
	ext := strings.ToLower(path.Ext(uri))
	head := raw
	if len(head) > 512 {
		head = head[:512]
	}
	ct := http.DetectContentType(head)
	switch {
	case ext == ".xlsx" || strings.HasPrefix(ct, "application/zip"):
		return readXLSX(raw)
	case ext == ".xls" || bytes.HasPrefix(head, []byte{0xD0, 0xCF, 0x11, 0xE0}): // OLE Compound File
		return readXLS(raw)
	default:
		return readCSV(raw)
	}
}

func readCSV(raw []byte) ([][]string, error) {
	cr := csv.NewReader(bytes.NewReader(raw))
	cr.FieldsPerRecord = -1
	cr.LazyQuotes = true
	cr.TrimLeadingSpace = true
	var rows [][]string
	for {
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			return rows, nil
		}
		if err != nil {
			return nil, err
		}
		rows = append(rows, rec)
	}
}

func readXLSX(raw []byte) ([][]string, error) {
	f, err := excelize.OpenReader(bytes.NewReader(raw))
	if err != nil {
		return nil, err
	}
	defer f.Close()
	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return nil, errors.New("workbook has no sheets")
	}
	return f.GetRows(sheets[0])
}

func readXLS(raw []byte) ([][]string, error) {
	wb, err := xls.OpenReader(bytes.NewReader(raw), "utf-8")
	if err != nil {
		return nil, err
	}
	if wb.NumSheets() == 0 {
		return nil, errors.New("workbook has no sheets")
	}
	sh := wb.GetSheet(0)
	if sh == nil {
		return nil, errors.New("first sheet unreadable")
	}
	var rows [][]string
	for i := 0; i <= int(sh.MaxRow); i++ {
		row := sh.Row(i)
		if row == nil {
			continue
		}
		var cells []string
		for c := row.FirstCol(); c < row.LastCol(); c++ {
			cells = append(cells, row.Col(c))
		}
		rows = append(rows, cells)
	}
	return rows, nil
}
