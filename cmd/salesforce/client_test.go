package salesforce

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func testSession(t *testing.T, server *httptest.Server) Session {
	t.Helper()
	session, err := NewSessionFromToken(server.URL, "token-123")
	if err != nil {
		t.Fatal(err)
	}
	return session
}

func TestQueryAllFollowsPages(t *testing.T) {
	var calls int
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		if got := r.Header.Get("Authorization"); got != "Bearer token-123" {
			t.Errorf("unexpected authorization header %q", got)
		}
		w.Header().Set("Content-Type", "application/json")
		switch r.URL.Path {
		case "/services/data/v" + DefaultAPIVersion + "/query":
			if q := r.URL.Query().Get("q"); q != "SELECT Id FROM Account" {
				t.Errorf("unexpected query %q", q)
			}
			fmt.Fprint(w, `{"totalSize":3,"done":false,"nextRecordsUrl":"/services/data/v59.0/query/01g-2","records":[{"Id":"a"},{"Id":"b"}]}`)
		case "/services/data/v59.0/query/01g-2":
			fmt.Fprint(w, `{"totalSize":3,"done":true,"records":[{"Id":"c"}]}`)
		default:
			http.NotFound(w, r)
		}
	}))
	defer server.Close()

	client := NewClient(testSession(t, server), Options{})
	records, err := client.QueryAll(context.Background(), "SELECT Id FROM Account")
	if err != nil {
		t.Fatalf("QueryAll failed: %v", err)
	}

	if calls != 2 {
		t.Errorf("expected 2 round trips, got %d", calls)
	}
	if len(records) != 3 {
		t.Fatalf("expected 3 records, got %d", len(records))
	}
	for i, want := range []string{"a", "b", "c"} {
		if got := records[i].String("Id"); got != want {
			t.Errorf("record %d: expected %s, got %s", i, want, got)
		}
	}
}

func TestQueryReturnsAPIError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		fmt.Fprint(w, `[{"message":"unexpected token: FROM","errorCode":"MALFORMED_QUERY"}]`)
	}))
	defer server.Close()

	client := NewClient(testSession(t, server), Options{})
	_, err := client.Query(context.Background(), "SELECT FROM")
	if err == nil {
		t.Fatal("expected error for malformed query")
	}
	if !errors.Is(err, ErrQueryFailed) {
		t.Errorf("expected ErrQueryFailed, got %v", err)
	}

	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("expected *APIError in chain, got %T", err)
	}
	if apiErr.StatusCode != http.StatusBadRequest || apiErr.Code != "MALFORMED_QUERY" {
		t.Errorf("unexpected api error: %+v", apiErr)
	}
}

func TestGetSendsBlobHeaders(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Authorization"); got != "OAuth token-123" {
			t.Errorf("unexpected authorization header %q", got)
		}
		if got := r.Header.Get("Content-Type"); got != "application/octet-stream" {
			t.Errorf("unexpected content type %q", got)
		}
		if r.URL.Path == "/missing" {
			http.NotFound(w, r)
			return
		}
		fmt.Fprint(w, "payload")
	}))
	defer server.Close()

	client := NewClient(testSession(t, server), Options{})

	t.Run("success", func(t *testing.T) {
		resp, err := client.Get(context.Background(), client.BlobURL("/blob/1"))
		if err != nil {
			t.Fatal(err)
		}
		defer resp.Body.Close()
		body, _ := io.ReadAll(resp.Body)
		if string(body) != "payload" {
			t.Errorf("unexpected body %q", body)
		}
	})

	t.Run("not found", func(t *testing.T) {
		_, err := client.Get(context.Background(), client.BlobURL("missing"))
		var apiErr *APIError
		if !errors.As(err, &apiErr) {
			t.Fatalf("expected *APIError, got %v", err)
		}
		if apiErr.StatusCode != http.StatusNotFound {
			t.Errorf("expected 404, got %d", apiErr.StatusCode)
		}
		if !strings.HasSuffix(apiErr.URL, "/missing") {
			t.Errorf("expected URL to be recorded, got %q", apiErr.URL)
		}
	})
}

func TestBlobURL(t *testing.T) {
	client := NewClient(Session{InstanceHost: "acme.my.salesforce.com", SessionID: "x"}, Options{})

	got := client.BlobURL("/services/data/v59.0/sobjects/ContentVersion/068/VersionData")
	want := "https://acme.my.salesforce.com/services/data/v59.0/sobjects/ContentVersion/068/VersionData"
	if got != want {
		t.Errorf("expected %s, got %s", want, got)
	}
}

func TestLogin(t *testing.T) {
	t.Run("success", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.URL.Path != "/services/Soap/u/"+DefaultAPIVersion {
				t.Errorf("unexpected path %s", r.URL.Path)
			}
			body, _ := io.ReadAll(r.Body)
			if !strings.Contains(string(body), "<n1:password>s3cret&amp;TOKEN</n1:password>") {
				t.Errorf("password and token not concatenated and escaped: %s", body)
			}
			fmt.Fprint(w, `<?xml version="1.0" encoding="UTF-8"?>
<soapenv:Envelope xmlns:soapenv="http://schemas.xmlsoap.org/soap/envelope/" xmlns="urn:partner.soap.sforce.com">
<soapenv:Body><loginResponse><result>
<serverUrl>https://acme.my.salesforce.com/services/Soap/u/59.0/00D</serverUrl>
<sessionId>00D!session</sessionId>
<userInfo><sessionSecondsValid>7200</sessionSecondsValid></userInfo>
</result></loginResponse></soapenv:Body></soapenv:Envelope>`)
		}))
		defer server.Close()

		session, err := Login(context.Background(), LoginOptions{
			Username:      "user@example.com",
			Password:      "s3cret&",
			SecurityToken: "TOKEN",
			LoginURL:      server.URL,
		})
		if err != nil {
			t.Fatalf("login failed: %v", err)
		}
		if session.InstanceHost != "acme.my.salesforce.com" {
			t.Errorf("unexpected host %s", session.InstanceHost)
		}
		if session.SessionID != "00D!session" {
			t.Errorf("unexpected session id %s", session.SessionID)
		}
		if session.Expiry.Sub(session.IssuedAt) != 2*time.Hour {
			t.Errorf("unexpected session lifetime %v", session.Expiry.Sub(session.IssuedAt))
		}
		if session.Expired(session.IssuedAt.Add(time.Hour)) {
			t.Error("session should not be expired after one hour")
		}
	})

	t.Run("fault", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusInternalServerError)
			fmt.Fprint(w, `<?xml version="1.0" encoding="UTF-8"?>
<soapenv:Envelope xmlns:soapenv="http://schemas.xmlsoap.org/soap/envelope/">
<soapenv:Body><soapenv:Fault><faultcode>INVALID_LOGIN</faultcode>
<faultstring>INVALID_LOGIN: Invalid username, password, security token; or user locked out.</faultstring>
</soapenv:Fault></soapenv:Body></soapenv:Envelope>`)
		}))
		defer server.Close()

		_, err := Login(context.Background(), LoginOptions{
			Username: "user@example.com",
			Password: "wrong",
			LoginURL: server.URL,
		})
		if !errors.Is(err, ErrLoginFailed) {
			t.Fatalf("expected ErrLoginFailed, got %v", err)
		}
		if !strings.Contains(err.Error(), "INVALID_LOGIN") {
			t.Errorf("expected fault code in error, got %v", err)
		}
	})

	t.Run("missing credentials", func(t *testing.T) {
		_, err := Login(context.Background(), LoginOptions{Username: "user"})
		if !errors.Is(err, ErrMissingCredentials) {
			t.Fatalf("expected ErrMissingCredentials, got %v", err)
		}
	})
}

func TestNewSessionFromToken(t *testing.T) {
	session, err := NewSessionFromToken("https://acme.my.salesforce.com/", "tok")
	if err != nil {
		t.Fatal(err)
	}
	if session.BaseURL() != "https://acme.my.salesforce.com" {
		t.Errorf("unexpected base URL %s", session.BaseURL())
	}
	if session.Expired(time.Now().Add(24 * time.Hour)) {
		t.Error("session without expiry should never report expired")
	}

	if _, err := NewSessionFromToken("acme.my.salesforce.com", "tok"); !errors.Is(err, ErrInvalidInstanceURL) {
		t.Errorf("expected ErrInvalidInstanceURL for bare host, got %v", err)
	}
}

func TestRecordString(t *testing.T) {
	record := Record{
		"ContentDocumentId": "069A",
		"LinkedEntity":      map[string]any{"Name": "Acme", "attributes": map[string]any{"type": "Account"}},
		"ContentDocument":   nil,
		"ContentSize":       float64(42),
	}

	tests := []struct {
		path string
		want string
	}{
		{"ContentDocumentId", "069A"},
		{"LinkedEntity.Name", "Acme"},
		{"ContentDocument.Title", ""},
		{"Missing", ""},
		{"ContentSize", "42"},
		{"ContentDocumentId.Nested", ""},
	}

	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			if got := record.String(tt.path); got != tt.want {
				t.Errorf("expected %q, got %q", tt.want, got)
			}
		})
	}
}
