package salesforce

import (
	"bytes"
	"context"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// DefaultAPIVersion is the REST/SOAP API version used when none is configured
const DefaultAPIVersion = "59.0"

// Static errors for session handling
var (
	ErrLoginFailed        = errors.New("salesforce login failed")
	ErrMissingCredentials = errors.New("username and password are required to log in")
	ErrInvalidInstanceURL = errors.New("instance URL must be an absolute http(s) URL")
)

// Session is the authenticated capability shared by every worker.
// It is copied by value and never mutated after it has been established.
type Session struct {
	Scheme       string // "https" unless the instance URL says otherwise
	InstanceHost string // e.g. "acme.my.salesforce.com"
	SessionID    string
	IssuedAt     time.Time
	Expiry       time.Time // zero when the service did not report a lifetime
}

// BaseURL returns scheme://host for the instance
func (s Session) BaseURL() string {
	scheme := s.Scheme
	if scheme == "" {
		scheme = "https"
	}
	return scheme + "://" + s.InstanceHost
}

// Expired reports whether the session lifetime has elapsed at the given time
func (s Session) Expired(now time.Time) bool {
	return !s.Expiry.IsZero() && !now.Before(s.Expiry)
}

// NewSessionFromToken builds a session from a pre-issued OAuth access token
func NewSessionFromToken(instanceURL, accessToken string) (Session, error) {
	u, err := url.Parse(strings.TrimSpace(instanceURL))
	if err != nil || u.Host == "" || (u.Scheme != "https" && u.Scheme != "http") {
		return Session{}, fmt.Errorf("%w: %q", ErrInvalidInstanceURL, instanceURL)
	}
	return Session{
		Scheme:       u.Scheme,
		InstanceHost: u.Host,
		SessionID:    accessToken,
		IssuedAt:     time.Now(),
	}, nil
}

// LoginOptions configures a SOAP username/password login
type LoginOptions struct {
	Username      string
	Password      string
	SecurityToken string

	// Domain is the login subdomain: "login", "test" (sandbox) or "<mydomain>.my"
	Domain string

	// LoginURL overrides https://<Domain>.salesforce.com (used by tests)
	LoginURL string

	APIVersion string
	ClientName string
	HTTPClient *http.Client
}

type loginEnvelope struct {
	Body struct {
		Result struct {
			ServerURL string `xml:"serverUrl"`
			SessionID string `xml:"sessionId"`
			UserInfo  struct {
				SessionSecondsValid string `xml:"sessionSecondsValid"`
			} `xml:"userInfo"`
		} `xml:"loginResponse>result"`
		Fault *struct {
			Code   string `xml:"faultcode"`
			String string `xml:"faultstring"`
		} `xml:"Fault"`
	} `xml:"Body"`
}

const loginBodyTemplate = `<?xml version="1.0" encoding="utf-8" ?>
<env:Envelope
        xmlns:xsd="http://www.w3.org/2001/XMLSchema"
        xmlns:xsi="http://www.w3.org/2001/XMLSchema-instance"
        xmlns:env="http://schemas.xmlsoap.org/soap/envelope/"
        xmlns:urn="urn:partner.soap.sforce.com">
    <env:Header>
        <urn:CallOptions>
            <urn:client>%s</urn:client>
        </urn:CallOptions>
    </env:Header>
    <env:Body>
        <n1:login xmlns:n1="urn:partner.soap.sforce.com">
            <n1:username>%s</n1:username>
            <n1:password>%s%s</n1:password>
        </n1:login>
    </env:Body>
</env:Envelope>`

func xmlEscape(s string) string {
	var buf bytes.Buffer
	_ = xml.EscapeText(&buf, []byte(s))
	return buf.String()
}

// Login authenticates with the partner SOAP API and returns the session
func Login(ctx context.Context, opts LoginOptions) (Session, error) {
	if opts.Username == "" || opts.Password == "" {
		return Session{}, ErrMissingCredentials
	}
	if opts.APIVersion == "" {
		opts.APIVersion = DefaultAPIVersion
	}
	if opts.ClientName == "" {
		opts.ClientName = "sf-file-export"
	}
	if opts.Domain == "" {
		opts.Domain = "login"
	}
	if opts.HTTPClient == nil {
		opts.HTTPClient = http.DefaultClient
	}

	base := opts.LoginURL
	if base == "" {
		base = fmt.Sprintf("https://%s.salesforce.com", opts.Domain)
	}
	endpoint := strings.TrimRight(base, "/") + "/services/Soap/u/" + opts.APIVersion

	body := fmt.Sprintf(loginBodyTemplate,
		xmlEscape(opts.ClientName),
		xmlEscape(opts.Username),
		xmlEscape(opts.Password),
		xmlEscape(opts.SecurityToken),
	)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(body))
	if err != nil {
		return Session{}, fmt.Errorf("failed to create login request: %w", err)
	}
	req.Header.Set("Content-Type", "text/xml; charset=UTF-8")
	req.Header.Set("SOAPAction", "login")

	resp, err := opts.HTTPClient.Do(req)
	if err != nil {
		return Session{}, fmt.Errorf("%w: %w", ErrLoginFailed, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return Session{}, fmt.Errorf("%w: reading response: %w", ErrLoginFailed, err)
	}

	var envelope loginEnvelope
	if err := xml.Unmarshal(raw, &envelope); err != nil {
		return Session{}, fmt.Errorf("%w: status %d: unparseable response: %w", ErrLoginFailed, resp.StatusCode, err)
	}
	if fault := envelope.Body.Fault; fault != nil {
		return Session{}, fmt.Errorf("%w: %s: %s", ErrLoginFailed, fault.Code, fault.String)
	}
	if resp.StatusCode != http.StatusOK {
		return Session{}, fmt.Errorf("%w: status %d", ErrLoginFailed, resp.StatusCode)
	}

	result := envelope.Body.Result
	if result.SessionID == "" || result.ServerURL == "" {
		return Session{}, fmt.Errorf("%w: response did not contain a session", ErrLoginFailed)
	}

	server, err := url.Parse(result.ServerURL)
	if err != nil || server.Host == "" {
		return Session{}, fmt.Errorf("%w: invalid server URL %q", ErrLoginFailed, result.ServerURL)
	}

	issued := time.Now()
	session := Session{
		Scheme:       server.Scheme,
		InstanceHost: server.Host,
		SessionID:    result.SessionID,
		IssuedAt:     issued,
	}
	if secs, err := strconv.Atoi(strings.TrimSpace(result.UserInfo.SessionSecondsValid)); err == nil && secs > 0 {
		session.Expiry = issued.Add(time.Duration(secs) * time.Second)
	}

	return session, nil
}
