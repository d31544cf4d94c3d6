package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
)

// Queries issued against the instance
const (
	linkQueryTemplate = "SELECT ContentDocumentId, LinkedEntityId, LinkedEntity.Name, " +
		"ContentDocument.Title, ContentDocument.FileExtension " +
		"FROM ContentDocumentLink WHERE LinkedEntityId in (%s)"

	// BaseMetadataQuery selects the latest version of every non-note file
	BaseMetadataQuery = "SELECT ContentDocumentId, Title, VersionData, FileExtension " +
		"FROM ContentVersion WHERE IsLatest = True AND FileExtension != 'snote'"
)

// BuildLinkQuery wraps a parent-record query into the link query
func BuildLinkQuery(parentQuery string) string {
	return fmt.Sprintf(linkQueryTemplate, strings.TrimSpace(parentQuery))
}

// BuildBatchQuery appends a ContentDocumentId IN (...) predicate for ids
func BuildBatchQuery(baseQuery string, ids []AttachmentID) string {
	quoted := make([]string, len(ids))
	for i, id := range ids {
		quoted[i] = "'" + escapeSOQL(string(id)) + "'"
	}
	return fmt.Sprintf("%s AND ContentDocumentId in (%s)", baseQuery, strings.Join(quoted, ","))
}

var soqlEscaper = strings.NewReplacer(`\`, `\\`, `'`, `\'`)

func escapeSOQL(s string) string {
	return soqlEscaper.Replace(s)
}

// BatchFetchError fails a single batch. The run continues with the next one.
type BatchFetchError struct {
	Batch int
	IDs   []AttachmentID
	Err   error
}

func (e *BatchFetchError) Error() string {
	return fmt.Sprintf("batch %d (%d ids) failed: %v", e.Batch, len(e.IDs), e.Err)
}

func (e *BatchFetchError) Unwrap() error {
	return e.Err
}

// MetadataFetcher retrieves download metadata one batch at a time
type MetadataFetcher struct {
	query     QueryRunner
	baseQuery string
	logger    *slog.Logger
}

// NewMetadataFetcher creates a fetcher; an empty baseQuery uses BaseMetadataQuery
func NewMetadataFetcher(query QueryRunner, baseQuery string, logger *slog.Logger) *MetadataFetcher {
	if baseQuery == "" {
		baseQuery = BaseMetadataQuery
	}
	return &MetadataFetcher{query: query, baseQuery: baseQuery, logger: logger}
}

// FetchBatch issues one query for the batch and returns rows in service order
func (f *MetadataFetcher) FetchBatch(ctx context.Context, index int, ids []AttachmentID) ([]AttachmentMetadata, error) {
	soql := BuildBatchQuery(f.baseQuery, ids)
	f.logger.Debug(fmt.Sprintf("Batch %d query: %s", index, soql))

	records, err := f.query.QueryAll(ctx, soql)
	if err != nil {
		return nil, &BatchFetchError{Batch: index, IDs: ids, Err: err}
	}

	metas := make([]AttachmentMetadata, 0, len(records))
	for _, rec := range records {
		metas = append(metas, AttachmentMetadata{
			ID:             AttachmentID(rec.String("ContentDocumentId")),
			Title:          rec.String("Title"),
			FileExtension:  rec.String("FileExtension"),
			PayloadLocator: rec.String("VersionData"),
		})
	}
	return metas, nil
}
