package runner

import (
	"context"
	"fmt"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	"sdpdash/gateway"
)

// DefaultCount is the record count a new GeneratePage starts with.
const DefaultCount = 1000

// MaxCount is the largest count suggested to users. It is not enforced here;
// the backend decides.
const MaxCount = 1_000_000

// GeneratePage asks the backend for a synthetic Excel workbook.
type GeneratePage struct {
	*stage

	mu    sync.Mutex
	count int
}

// NewGeneratePage creates an idle page with DefaultCount selected.
func NewGeneratePage(deps Deps) *GeneratePage {
	return &GeneratePage{stage: newStage(Generate, deps), count: DefaultCount}
}

// SetCount sets the record count.
func (p *GeneratePage) SetCount(n int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.count = n
}

// Count returns the selected record count.
func (p *GeneratePage) Count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.count
}

// CanRun reports whether the action is enabled.
func (p *GeneratePage) CanRun() bool {
	return p.Count() > 0 && !p.loading()
}

// ActionLabel is the action button text.
func (p *GeneratePage) ActionLabel() string {
	if p.loading() {
		return "Generating..."
	}
	return "Generate Excel"
}

// Run generates synchronously. It returns ErrNoInput for a non-positive
// count and ErrBusy while a previous call is in flight, without calling the
// backend in either case.
func (p *GeneratePage) Run(ctx context.Context) error {
	count := p.Count()
	return p.run(ctx, strconv.Itoa(count), count > 0, p.call(count), p.preview)
}

// Start is Run in the background.
func (p *GeneratePage) Start(ctx context.Context) error {
	count := p.Count()
	return p.start(ctx, strconv.Itoa(count), count > 0, p.call(count), p.preview)
}

func (p *GeneratePage) call(count int) callFunc {
	return func(ctx context.Context) (outcome, error) {
		res, err := p.deps.Gateway.Generate(ctx, count)
		if err != nil {
			return outcome{}, err
		}
		return outcome{
			summary: fmt.Sprintf("Generated %d records. File: %s", count, res.Filename),
			file:    res.Filename,
			count:   count,
		}, nil
	}
}

func (p *GeneratePage) preview(_ context.Context, o outcome) Preview {
	return synthesizePreview(o.count, 0, newRand())
}

// filePage is the shared single-file selection of the process and upload
// pages. Selecting a file replaces any previous selection.
type filePage struct {
	*stage
	exts []string

	mu   sync.Mutex
	path string
}

// SelectFile stages path for the next run. Files with other extensions are
// rejected and leave the previous selection in place.
func (p *filePage) SelectFile(path string) error {
	ext := strings.ToLower(filepath.Ext(path))
	for _, allowed := range p.exts {
		if ext == allowed {
			p.mu.Lock()
			p.path = path
			p.mu.Unlock()
			return nil
		}
	}
	return fmt.Errorf("%w: %q (expected %s)", ErrWrongFileType, filepath.Base(path), strings.Join(p.exts, ", "))
}

// ClearFile removes the selection.
func (p *filePage) ClearFile() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.path = ""
}

// Selected returns the staged file path, or "".
func (p *filePage) Selected() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.path
}

// CanRun reports whether the action is enabled.
func (p *filePage) CanRun() bool {
	return p.Selected() != "" && !p.loading()
}

// withFile opens path for the duration of one multipart call.
func withFile[T any](ctx context.Context, path string, send func(context.Context, gateway.File) (*T, error)) (*T, error) {
	file, f, err := gateway.OpenFile(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return send(ctx, file)
}

// ProcessPage converts an Excel workbook to CSV.
type ProcessPage struct {
	*filePage
}

// NewProcessPage creates an idle page accepting .xlsx and .xls files.
func NewProcessPage(deps Deps) *ProcessPage {
	return &ProcessPage{&filePage{stage: newStage(Process, deps), exts: []string{".xlsx", ".xls"}}}
}

// ActionLabel is the action button text.
func (p *ProcessPage) ActionLabel() string {
	if p.loading() {
		return "Processing..."
	}
	return "Process File"
}

// Run processes the selected file synchronously.
func (p *ProcessPage) Run(ctx context.Context) error {
	path := p.Selected()
	return p.run(ctx, path, path != "", p.call(path), p.preview)
}

// Start is Run in the background.
func (p *ProcessPage) Start(ctx context.Context) error {
	path := p.Selected()
	return p.start(ctx, path, path != "", p.call(path), p.preview)
}

func (p *ProcessPage) call(path string) callFunc {
	return func(ctx context.Context) (outcome, error) {
		res, err := withFile(ctx, path, p.deps.Gateway.Process)
		if err != nil {
			return outcome{}, err
		}
		return outcome{
			summary: fmt.Sprintf("Processed successfully. CSV file: %s", res.File()),
			file:    res.File(),
		}, nil
	}
}

func (p *ProcessPage) preview(_ context.Context, _ outcome) Preview {
	return synthesizePreview(MaxPreviewRows, processBonus, newRand())
}

// UploadPage loads a CSV file into the database.
type UploadPage struct {
	*filePage
}

// NewUploadPage creates an idle page accepting .csv files.
func NewUploadPage(deps Deps) *UploadPage {
	return &UploadPage{&filePage{stage: newStage(Upload, deps), exts: []string{".csv"}}}
}

// ActionLabel is the action button text.
func (p *UploadPage) ActionLabel() string {
	if p.loading() {
		return "Uploading..."
	}
	return "Upload to Database"
}

// Run uploads the selected file synchronously.
func (p *UploadPage) Run(ctx context.Context) error {
	path := p.Selected()
	return p.run(ctx, path, path != "", p.call(path), p.preview)
}

// Start is Run in the background.
func (p *UploadPage) Start(ctx context.Context) error {
	path := p.Selected()
	return p.start(ctx, path, path != "", p.call(path), p.preview)
}

func (p *UploadPage) call(path string) callFunc {
	return func(ctx context.Context) (outcome, error) {
		res, err := withFile(ctx, path, p.deps.Gateway.Upload)
		if err != nil {
			return outcome{}, err
		}
		n := res.Inserted()
		return outcome{
			summary: fmt.Sprintf("Uploaded %d records to database.", n),
			count:   n,
		}, nil
	}
}

func (p *UploadPage) preview(ctx context.Context, o outcome) Preview {
	return fetchOrSynthesize(ctx, p.deps.Gateway, o.count, p.logger)
}
