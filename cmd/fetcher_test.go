package cmd

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/airframesio/sf-file-export/cmd/salesforce"
)

func TestBuildLinkQuery(t *testing.T) {
	got := BuildLinkQuery("  SELECT Id FROM Account WHERE Type = 'Customer'\n")
	want := "SELECT ContentDocumentId, LinkedEntityId, LinkedEntity.Name, ContentDocument.Title, " +
		"ContentDocument.FileExtension FROM ContentDocumentLink " +
		"WHERE LinkedEntityId in (SELECT Id FROM Account WHERE Type = 'Customer')"
	if got != want {
		t.Errorf("unexpected link query:\n got: %s\nwant: %s", got, want)
	}
}

func TestBuildBatchQuery(t *testing.T) {
	tests := []struct {
		name string
		ids  []AttachmentID
		want string
	}{
		{"single", []AttachmentID{"069A"}, " AND ContentDocumentId in ('069A')"},
		{"several", []AttachmentID{"069A", "069B", "069C"}, " AND ContentDocumentId in ('069A','069B','069C')"},
		{"escaped", []AttachmentID{`a'b`, `c\d`}, ` AND ContentDocumentId in ('a\'b','c\\d')`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := BuildBatchQuery(BaseMetadataQuery, tt.ids)
			if got != BaseMetadataQuery+tt.want {
				t.Errorf("unexpected query %s", got)
			}
		})
	}
}

func TestFetchBatch(t *testing.T) {
	query := &stubQuery{records: []salesforce.Record{
		{"ContentDocumentId": "069B", "Title": "Logo", "FileExtension": "png", "VersionData": "/services/data/v59.0/sobjects/ContentVersion/068B/VersionData"},
		{"ContentDocumentId": "069A", "Title": "Contract", "FileExtension": "pdf", "VersionData": "/services/data/v59.0/sobjects/ContentVersion/068A/VersionData"},
	}}

	metas, err := NewMetadataFetcher(query, "", newTestLogger()).FetchBatch(context.Background(), 1, []AttachmentID{"069A", "069B"})
	if err != nil {
		t.Fatal(err)
	}

	if len(query.queries) != 1 {
		t.Fatalf("expected one round trip per batch, got %d", len(query.queries))
	}
	if !strings.HasPrefix(query.queries[0], BaseMetadataQuery) {
		t.Errorf("default base query not used: %s", query.queries[0])
	}
	if len(metas) != 2 || metas[0].ID != "069B" || metas[1].PayloadLocator != "/services/data/v59.0/sobjects/ContentVersion/068A/VersionData" {
		t.Errorf("unexpected metadata %+v", metas)
	}
}

func TestFetchBatchFailure(t *testing.T) {
	query := &stubQuery{err: salesforce.ErrQueryFailed}
	ids := []AttachmentID{"069A", "069B"}

	_, err := NewMetadataFetcher(query, "SELECT x FROM ContentVersion WHERE IsLatest = True", newTestLogger()).
		FetchBatch(context.Background(), 4, ids)

	var batchErr *BatchFetchError
	if !errors.As(err, &batchErr) {
		t.Fatalf("expected BatchFetchError, got %v", err)
	}
	if batchErr.Batch != 4 || len(batchErr.IDs) != 2 {
		t.Errorf("unexpected batch error %+v", batchErr)
	}
	if !errors.Is(err, salesforce.ErrQueryFailed) {
		t.Error("the query error should be wrapped")
	}
	if !strings.HasPrefix(query.queries[0], "SELECT x FROM ContentVersion") {
		t.Errorf("custom base query not used: %s", query.queries[0])
	}
}
