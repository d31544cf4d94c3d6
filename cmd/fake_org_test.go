package cmd

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"regexp"
	"strings"
	"sync"
	"testing"

	"github.com/airframesio/sf-file-export/cmd/salesforce"
)

func newTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
}

type fakeLink struct {
	attachment AttachmentID
	parentID   string
	parentName string
}

type fakeFile struct {
	title     string
	extension string
	body      string
}

// fakeOrg serves the query and blob endpoints of a tiny org
type fakeOrg struct {
	mu           sync.Mutex
	links        []fakeLink
	files        map[AttachmentID]fakeFile
	missing      map[AttachmentID]bool // blob returns 404
	failBatchFor AttachmentID          // batch query containing this id fails
	failLinks    bool
	linkQueries  []string
	batchQueries []string
	blobRequests int
}

var quotedID = regexp.MustCompile(`'((?:[^'\\]|\\.)*)'`)

func newFakeOrg() *fakeOrg {
	return &fakeOrg{
		files:   make(map[AttachmentID]fakeFile),
		missing: make(map[AttachmentID]bool),
	}
}

func (o *fakeOrg) addFile(id AttachmentID, title, extension, body string, parents ...string) {
	o.files[id] = fakeFile{title: title, extension: extension, body: body}
	for _, parent := range parents {
		o.links = append(o.links, fakeLink{attachment: id, parentID: parent, parentName: "Name of " + parent})
	}
}

func (o *fakeOrg) start(t *testing.T) *salesforce.Client {
	t.Helper()
	server := httptest.NewServer(http.HandlerFunc(o.serve))
	t.Cleanup(server.Close)

	session, err := salesforce.NewSessionFromToken(server.URL, "test-token")
	if err != nil {
		t.Fatal(err)
	}
	return salesforce.NewClient(session, salesforce.Options{})
}

func (o *fakeOrg) serve(w http.ResponseWriter, r *http.Request) {
	o.mu.Lock()
	defer o.mu.Unlock()

	switch {
	case r.URL.Path == "/services/data/v"+salesforce.DefaultAPIVersion+"/query":
		o.serveQuery(w, r.URL.Query().Get("q"))
	case r.URL.Path == "/services/data/v"+salesforce.DefaultAPIVersion+"/query/links-2":
		o.writeRecords(w, o.linkRecords()[2:], true, "")
	case strings.HasPrefix(r.URL.Path, "/blob/"):
		o.blobRequests++
		id := AttachmentID(strings.TrimPrefix(r.URL.Path, "/blob/"))
		file, ok := o.files[id]
		if !ok || o.missing[id] {
			w.WriteHeader(http.StatusNotFound)
			_, _ = w.Write([]byte(`[{"errorCode":"NOT_FOUND","message":"The requested resource does not exist"}]`))
			return
		}
		_, _ = w.Write([]byte(file.body))
	default:
		http.NotFound(w, r)
	}
}

func (o *fakeOrg) serveQuery(w http.ResponseWriter, soql string) {
	if strings.Contains(soql, "FROM ContentDocumentLink") {
		o.linkQueries = append(o.linkQueries, soql)
		if o.failLinks {
			w.WriteHeader(http.StatusUnauthorized)
			_, _ = w.Write([]byte(`[{"errorCode":"INVALID_SESSION_ID","message":"Session expired or invalid"}]`))
			return
		}
		records := o.linkRecords()
		// Split results over two pages to exercise pagination
		if len(records) > 2 {
			o.writeRecords(w, records[:2], false, "/services/data/v"+salesforce.DefaultAPIVersion+"/query/links-2")
			return
		}
		o.writeRecords(w, records, true, "")
		return
	}

	o.batchQueries = append(o.batchQueries, soql)
	_, predicate, _ := strings.Cut(soql, "ContentDocumentId in (")

	var records []map[string]any
	for _, match := range quotedID.FindAllStringSubmatch(predicate, -1) {
		id := AttachmentID(match[1])
		if id == o.failBatchFor && id != "" {
			w.WriteHeader(http.StatusBadRequest)
			_, _ = w.Write([]byte(`[{"errorCode":"QUERY_TIMEOUT","message":"Your query request was running for too long."}]`))
			return
		}
		file, ok := o.files[id]
		if !ok {
			continue
		}
		records = append(records, map[string]any{
			"attributes":        map[string]any{"type": "ContentVersion"},
			"ContentDocumentId": string(id),
			"Title":             file.title,
			"FileExtension":     file.extension,
			"VersionData":       "/blob/" + string(id),
		})
	}
	o.writeRecords(w, records, true, "")
}

func (o *fakeOrg) linkRecords() []map[string]any {
	records := make([]map[string]any, 0, len(o.links))
	for _, link := range o.links {
		file := o.files[link.attachment]
		records = append(records, map[string]any{
			"ContentDocumentId": string(link.attachment),
			"LinkedEntityId":    link.parentID,
			"LinkedEntity":      map[string]any{"Name": link.parentName},
			"ContentDocument":   map[string]any{"Title": file.title, "FileExtension": file.extension},
		})
	}
	return records
}

func (o *fakeOrg) writeRecords(w http.ResponseWriter, records []map[string]any, done bool, next string) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{
		"totalSize":      len(records),
		"done":           done,
		"nextRecordsUrl": next,
		"records":        records,
	})
}

func (o *fakeOrg) counts() (links, batches, blobs int) {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.linkQueries), len(o.batchQueries), o.blobRequests
}

func testConfig(dir string) *Config {
	return &Config{
		OutputDir:    dir,
		Query:        "SELECT Id FROM Account WHERE Type = 'Customer'",
		BatchSize:    100,
		Workers:      3,
		Dialect:      string(DialectPOSIX),
		Compression:  "none",
		ReportFormat: "jsonl",
	}
}
