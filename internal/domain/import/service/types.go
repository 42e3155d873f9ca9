package service

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/FACorreiaa/finance-importer/internal/domain/import/dedup"
	"github.com/FACorreiaa/finance-importer/internal/domain/import/mapping"
	"github.com/FACorreiaa/finance-importer/internal/domain/import/parser"
	"github.com/FACorreiaa/finance-importer/internal/domain/import/profiler"
	"github.com/FACorreiaa/finance-importer/internal/domain/import/repository"
)

// FormatAuto asks for detection instead of a named format.
const FormatAuto = "auto"

// FormatCustom labels files mapped from column profiling alone.
const FormatCustom = "custom"

// formatLabel names the format a suggested config came from.
func formatLabel(s mapping.SuggestedConfig) string {
	if s.Name != "" {
		return s.Name
	}
	return FormatCustom
}

// RawFile is an uploaded file.
type RawFile struct {
	Filename string
	Data     []byte
}

// PreviewRequest describes one file to preview.
type PreviewRequest struct {
	File          RawFile
	AccountSource string
	// FormatHint names a saved or built-in format. Empty or "auto" detects.
	FormatHint string
	// Config skips detection entirely when set.
	Config    *repository.ImportConfig
	Overrides mapping.Overrides
}

// PreviewTransaction is a parsed transaction with its dedup outcome.
type PreviewTransaction struct {
	repository.ParsedTransaction
	Status       dedup.Status `json:"status"`
	CrossAccount bool         `json:"cross_account,omitempty"`
}

// FilePreview is the outcome of running one file up to the confirm step.
type FilePreview struct {
	Filename       string         `json:"filename"`
	AccountSource  string         `json:"account_source"`
	DetectedFormat string         `json:"detected_format,omitempty"`
	FormatSource   mapping.Source `json:"format_source,omitempty"`
	State          State          `json:"state"`

	TransactionCount         int             `json:"transaction_count"`
	NewCount                 int             `json:"new_count"`
	DuplicateCount           int             `json:"duplicate_count"`
	CrossFileDuplicateCount  int             `json:"cross_file_duplicate_count"`
	CrossAccountWarningCount int             `json:"cross_account_warning_count"`
	TotalAmount              decimal.Decimal `json:"total_amount"`
	DateRangeStart           *time.Time      `json:"date_range_start,omitempty"`
	DateRangeEnd             *time.Time      `json:"date_range_end,omitempty"`
	TotalRows                int             `json:"total_rows"`
	SkippedRows              int             `json:"skipped_rows"`

	Transactions []PreviewTransaction    `json:"transactions"`
	Errors       []parser.RowError       `json:"errors"`
	Config       *mapping.SuggestedConfig `json:"config,omitempty"`
	Error        *FileError              `json:"error,omitempty"`

	parsed      []repository.ParsedTransaction
	result      dedup.FileResult
	saved       string // saved format the config came from
	fingerprint string // header fingerprint
	raw         []byte
	lc          *lifecycle
}

// Failed reports whether the file stopped before producing transactions.
func (p *FilePreview) Failed() bool {
	return p.Error != nil
}

// BatchPreview is the preview of every file of an upload, in submission order.
type BatchPreview struct {
	Files                    []FilePreview `json:"files"`
	TotalTransactions        int           `json:"total_transactions"`
	TotalNew                 int           `json:"total_new"`
	TotalDuplicates          int           `json:"total_duplicates"`
	CrossAccountWarningCount int           `json:"cross_account_warning_count"`
	FailedFiles              int           `json:"failed_files"`
}

// ConfirmRequest persists a single file.
type ConfirmRequest struct {
	File          RawFile
	FormatType    string
	AccountSource string
	Overrides     mapping.Overrides
	SaveFormat    bool
	// FormatName is the name to save under. Defaults to FormatType when that
	// is not a built-in, else to the file name.
	FormatName string
}

// FileSelection picks a previewed file for a batch confirm.
type FileSelection struct {
	Filename      string `json:"filename"`
	AccountSource string `json:"account_source"`
	FormatType    string `json:"format_type"`
}

// BatchConfirmRequest persists the selected files of an upload.
type BatchConfirmRequest struct {
	Files      []RawFile
	Selections []FileSelection
	SaveFormat bool
}

// FileImportResult is the outcome of persisting one file.
type FileImportResult struct {
	Filename   string     `json:"filename"`
	Imported   int        `json:"imported"`
	Duplicates int        `json:"duplicates"`
	State      State      `json:"state"`
	Error      *FileError `json:"error,omitempty"`
}

// ImportResult is returned by every confirm operation.
type ImportResult struct {
	Imported                 int                `json:"imported"`
	Duplicates               int                `json:"duplicates"`
	FormatSaved              *bool              `json:"format_saved,omitempty"`
	ConfigSaved              *bool              `json:"config_saved,omitempty"`
	TotalImported            *int               `json:"total_imported,omitempty"`
	TotalDuplicates          *int               `json:"total_duplicates,omitempty"`
	Files                    []FileImportResult `json:"files,omitempty"`
	CrossAccountWarningCount int                `json:"cross_account_warning_count,omitempty"`
}

// Analysis is what detection learned about a file.
type Analysis struct {
	Headers         []string                 `json:"headers"`
	SampleRows      [][]string               `json:"sample_rows"`
	ColumnHints     []profiler.ColumnHint    `json:"column_hints"`
	SuggestedConfig *mapping.SuggestedConfig `json:"suggested_config"`
	RowCount        int                      `json:"row_count"`
	Fingerprint     string                   `json:"fingerprint"`
	DetectedFormat  string                   `json:"detected_format,omitempty"`
}

// AutoDetectResult is the response of AutoDetect.
type AutoDetectResult struct {
	Analysis    Analysis                      `json:"analysis"`
	Config      *mapping.SuggestedConfig      `json:"config"`
	SkipRows    int                           `json:"skip_rows"`
	SavedFormat *repository.SavedCustomFormat `json:"saved_format,omitempty"`
}

// CustomPreviewResult is the response of CustomPreview.
type CustomPreviewResult struct {
	TransactionCount         int                  `json:"transaction_count"`
	TotalAmount              decimal.Decimal      `json:"total_amount"`
	DuplicateCount           int                  `json:"duplicate_count"`
	CrossAccountWarningCount int                  `json:"cross_account_warning_count"`
	Transactions             []PreviewTransaction `json:"transactions"`
	Errors                   []parser.RowError    `json:"errors"`
}

// CustomConfirmRequest persists a file under a caller-built config.
type CustomConfirmRequest struct {
	File       RawFile
	Config     repository.ImportConfig
	SaveConfig bool
	// Description is stored with the saved config.
	Description string
}
