package scraper

import (
	"net/http"
	"time"
)

// Sentinel field values. They are ordinary strings in the output workbook.
const (
	NotMentioned   = "Not mentioned"
	ErrorValue     = "Error"
	ExceptionValue = "Exception"
	// DoneMarker is reported as the current name once a job has finished.
	DoneMarker = "done"
)

// Output workbook column headers, in order.
const (
	ColumnCompanyName = "Company Name"
	ColumnCIN         = "CIN"
	ColumnURL         = "URL"
	ColumnEmail       = "Email"
	ColumnActivity    = "Activity"
	ColumnPAN         = "PAN"
	ColumnGST         = "GST"
)

// OutputColumns lists the output workbook header row.
var OutputColumns = []string{
	ColumnCompanyName,
	ColumnCIN,
	ColumnURL,
	ColumnEmail,
	ColumnActivity,
	ColumnPAN,
	ColumnGST,
}

// InputRow is one company read from the uploaded workbook.
type InputRow struct {
	Name string
	CIN  string
}

// Fields holds the four scraped values.
type Fields struct {
	Email    string `json:"email"`
	Activity string `json:"activity"`
	PAN      string `json:"pan"`
	GST      string `json:"gst"`
}

// DefaultFields returns a Fields value with every entry set to NotMentioned.
func DefaultFields() Fields {
	return Filled(NotMentioned)
}

// Filled returns a Fields value with every entry set to v.
func Filled(v string) Fields {
	return Fields{Email: v, Activity: v, PAN: v, GST: v}
}

// Outcome classifies how a single row lookup ended.
type Outcome string

// Row outcomes. Only OutcomeOK carries extracted data.
const (
	OutcomeOK         Outcome = "ok"
	OutcomeHTTPError  Outcome = "http_error"
	OutcomeTimeout    Outcome = "timeout"
	OutcomeConnection Outcome = "connection"
	OutcomeCanceled   Outcome = "canceled"
	OutcomeParse      Outcome = "parse"
	OutcomeTransport  Outcome = "transport"
)

// Sentinel returns the field value written for a failed outcome, or "" for OutcomeOK.
func (o Outcome) Sentinel() string {
	switch o {
	case OutcomeOK:
		return ""
	case OutcomeHTTPError:
		return ErrorValue
	default:
		return ExceptionValue
	}
}

// CompanyRecord is the result of looking up one company on the directory site.
type CompanyRecord struct {
	URL          string
	Fields       Fields
	Outcome      Outcome
	StatusCode   int
	Duration     time.Duration
	UsedHeadless bool
	// Err is the underlying failure for diagnostics; it never aborts a batch.
	Err error
}

// OutputRow is one row of the output workbook.
type OutputRow struct {
	InputRow
	URL string
	Fields
}

// Values returns the row in OutputColumns order.
func (r OutputRow) Values() []string {
	return []string{r.Name, r.CIN, r.URL, r.Email, r.Activity, r.PAN, r.GST}
}

// JobStatus represents the lifecycle state of an enrichment job.
type JobStatus string

// Job status values.
const (
	JobStatusQueued    JobStatus = "queued"
	JobStatusRunning   JobStatus = "running"
	JobStatusSucceeded JobStatus = "succeeded"
	JobStatusFailed    JobStatus = "failed"
	JobStatusCanceled  JobStatus = "canceled"
)

// Terminal reports whether no further transitions are expected.
func (s JobStatus) Terminal() bool {
	switch s {
	case JobStatusSucceeded, JobStatusFailed, JobStatusCanceled:
		return true
	default:
		return false
	}
}

// Progress is the per-job counter record polled by the operator.
type Progress struct {
	Total       int    `json:"total"`
	Current     int    `json:"current"`
	CurrentName string `json:"current_name"`
	OutputFile  string `json:"output_file"`
}

// Job is the state kept for each submitted spreadsheet.
type Job struct {
	ID             string          `json:"id"`
	Status         JobStatus       `json:"status"`
	InputName      string          `json:"input_name"`
	InputPath      string          `json:"-"`
	OutputName     string          `json:"output_name"`
	Submitted      time.Time       `json:"submitted_at"`
	Started        *time.Time      `json:"started_at,omitempty"`
	Finished       *time.Time      `json:"finished_at,omitempty"`
	ErrorText      string          `json:"error_text,omitempty"`
	Progress       Progress        `json:"progress"`
	ArtifactKey    string          `json:"artifact_key,omitempty"`
	ArtifactSHA256 string          `json:"artifact_sha256,omitempty"`
	Outcomes       map[Outcome]int `json:"outcomes,omitempty"`
}

// Artifact describes a stored output workbook.
type Artifact struct {
	Key      string
	Location string
	SHA256   string
	Size     int64
}

// FetchRequest captures everything needed to fetch a directory page.
type FetchRequest struct {
	JobID   string
	URL     string
	Headers http.Header
}

// FetchResponse is the result returned by a Fetcher implementation.
type FetchResponse struct {
	URL          string
	StatusCode   int
	Headers      http.Header
	Body         []byte
	Duration     time.Duration
	UsedHeadless bool
}

// QueueItem wraps a job ready to run.
type QueueItem struct {
	JobID      string
	InputPath  string
	OutputName string
	Submitted  int64
}
