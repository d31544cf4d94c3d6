package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/airframesio/sf-file-export/cmd/salesforce"
)

// AttachmentID identifies one ContentDocument
type AttachmentID string

// ParentLink associates an attachment with one parent record
type ParentLink struct {
	AttachmentID  AttachmentID
	ParentID      string
	ParentName    string
	Title         string
	FileExtension string
}

// AttachmentMetadata is what a download needs to know about one attachment
type AttachmentMetadata struct {
	ID             AttachmentID
	Title          string
	FileExtension  string
	PayloadLocator string // relative to the instance host
}

// DownloadOutcome is the result of one download attempt
type DownloadOutcome struct {
	AttachmentID AttachmentID
	Title        string
	Batch        int
	URL          string
	Path         string
	Success      bool
	StatusCode   int
	Bytes        int64
	Duration     time.Duration
	Err          error // *DownloadFailure when Success is false

	MirrorKey string
	MirrorErr error
}

// Reason returns the failure reason, or "" for a successful download
func (o DownloadOutcome) Reason() string {
	if o.Success || o.Err == nil {
		return ""
	}
	return o.Err.Error()
}

// DownloadFailure is an item-level failure. It is carried inside a
// DownloadOutcome and never aborts sibling downloads.
type DownloadFailure struct {
	AttachmentID AttachmentID
	URL          string
	StatusCode   int
	Err          error
}

func (e *DownloadFailure) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("download of %s from %s failed with status %d", e.AttachmentID, e.URL, e.StatusCode)
	}
	return fmt.Sprintf("download of %s from %s failed: %v", e.AttachmentID, e.URL, e.Err)
}

func (e *DownloadFailure) Unwrap() error {
	return e.Err
}

// newDownloadFailure records the status code when err came from the service
func newDownloadFailure(id AttachmentID, url string, err error) *DownloadFailure {
	failure := &DownloadFailure{AttachmentID: id, URL: url, Err: err}
	var apiErr *salesforce.APIError
	if errors.As(err, &apiErr) {
		failure.StatusCode = apiErr.StatusCode
	}
	return failure
}

// QueryRunner runs a query and returns every row across all result pages
type QueryRunner interface {
	QueryAll(ctx context.Context, soql string) ([]salesforce.Record, error)
}

// BlobFetcher resolves payload locators and performs authenticated GETs
type BlobFetcher interface {
	BlobURL(locator string) string
	Get(ctx context.Context, url string) (*http.Response, error)
}

// RemoteService is the full capability the exporter needs from the instance
type RemoteService interface {
	QueryRunner
	BlobFetcher
}
