package cmd

import (
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/airframesio/sf-file-export/cmd/compressors"
	"github.com/airframesio/sf-file-export/cmd/formatters"
)

// Static errors for configuration validation
var (
	ErrCredentialsRequired     = errors.New("credentials are required: set username and password, or access token and instance URL")
	ErrInstanceURLRequired     = errors.New("instance URL is required when using an access token")
	ErrOutputDirRequired       = errors.New("output directory is required")
	ErrQueryRequired           = errors.New("parent record query is required")
	ErrQueryInvalid            = errors.New("parent record query must be a SELECT statement")
	ErrBatchSizeMinimum        = errors.New("batch size must be at least 1")
	ErrBatchSizeMaximum        = errors.New("batch size must not exceed 2000")
	ErrWorkersMinimum          = errors.New("workers must be at least 1")
	ErrWorkersMaximum          = errors.New("workers must not exceed 1000")
	ErrDialectInvalid          = errors.New("filename dialect must be one of: auto, windows, posix")
	ErrCompressionInvalid      = errors.New("compression must be one of: zstd, lz4, gzip, none")
	ErrCompressionLevelInvalid = errors.New("compression level must be between 1 and 22 (zstd), 1-9 (lz4/gzip), or 0 for the default")
	ErrReportFormatInvalid     = errors.New("report format must be one of: jsonl, csv, parquet, none")
	ErrLogLevelInvalid         = errors.New("log level must be one of: debug, info, warning, error")
	ErrS3SecretKeyRequired     = errors.New("S3 secret key is required when an access key is set")
	ErrS3RegionInvalid         = errors.New("S3 region contains invalid characters or is too long")
	ErrPathTemplateInvalid     = errors.New("path template must contain {file} placeholder")
)

const (
	maxBatchSize = 2000
	maxWorkers   = 1000
)

type Config struct {
	Debug            bool
	LogFormat        string
	LogLevel         string // debug, info, warning, error
	DryRun           bool
	Workers          int
	BatchSize        int // ids per metadata query
	OutputDir        string
	Query            string // selects the parent record ids
	BaseQuery        string // metadata query the batch predicate is appended to
	Dialect          string
	Compression      string
	CompressionLevel int // 0 selects the compressor's default
	ReportFormat     string
	Salesforce       SalesforceConfig
	S3               S3Config
}

type SalesforceConfig struct {
	Username      string
	Password      string
	SecurityToken string
	Domain        string // My Domain prefix, e.g. "acme" for acme.my.salesforce.com
	Sandbox       bool
	AccessToken   string
	InstanceURL   string
	APIVersion    string
}

type S3Config struct {
	Endpoint     string
	Bucket       string
	AccessKey    string
	SecretKey    string
	Region       string
	PathTemplate string
}

// Enabled reports whether files should be mirrored to S3
func (c S3Config) Enabled() bool {
	return c.Bucket != ""
}

// UsesToken reports whether a pre-issued access token replaces the login
func (c SalesforceConfig) UsesToken() bool {
	return c.AccessToken != ""
}

// LoginDomain returns the login subdomain: test for sandboxes, <domain>.my
// for My Domain orgs, login otherwise
func (c SalesforceConfig) LoginDomain() string {
	switch {
	case c.Sandbox:
		return "test"
	case c.Domain == "":
		return "login"
	case strings.HasSuffix(c.Domain, ".my"):
		return c.Domain
	default:
		return c.Domain + ".my"
	}
}

var validRegion = regexp.MustCompile(`^[a-zA-Z0-9_-]+$`)

// isValidRegion validates that an S3 region is reasonable
func isValidRegion(region string) bool {
	return region != "" && len(region) <= 50 && validRegion.MatchString(region)
}

// isValidPathTemplate validates that a path template contains required placeholders
func isValidPathTemplate(template string) bool {
	return strings.Contains(template, "{file}")
}

func isValidDialect(dialect string) bool {
	switch FilenameDialect(dialect) {
	case DialectAuto, DialectWindows, DialectPOSIX:
		return true
	}
	return false
}

func isValidReportFormat(format string) bool {
	if format == formatters.FormatNone {
		return true
	}
	_, err := formatters.GetFormatter(format)
	return err == nil
}

// isValidCompressionLevel validates compression level based on compression type
func isValidCompressionLevel(compression string, level int) bool {
	if level == 0 {
		return true
	}
	c, err := compressors.GetCompressor(compression)
	if err != nil {
		return false
	}
	return c.ValidLevel(level)
}

func (c *Config) Validate() error {
	// Credentials: either a token for a known instance, or a login
	sf := c.Salesforce
	if sf.UsesToken() {
		if sf.InstanceURL == "" {
			return ErrInstanceURLRequired
		}
	} else if sf.Username == "" || sf.Password == "" {
		return ErrCredentialsRequired
	}

	if c.OutputDir == "" {
		return ErrOutputDirRequired
	}

	query := strings.TrimSpace(c.Query)
	if query == "" {
		return ErrQueryRequired
	}
	if !strings.HasPrefix(strings.ToUpper(query), "SELECT ") {
		return fmt.Errorf("%w: '%s'", ErrQueryInvalid, c.Query)
	}

	if c.BatchSize < 1 {
		return fmt.Errorf("%w, got %d", ErrBatchSizeMinimum, c.BatchSize)
	}
	// Keeps the IN clause under the service's query length limit
	if c.BatchSize > maxBatchSize {
		return fmt.Errorf("%w, got %d", ErrBatchSizeMaximum, c.BatchSize)
	}

	if c.Workers < 1 {
		return ErrWorkersMinimum
	}
	if c.Workers > maxWorkers {
		return fmt.Errorf("%w, got %d", ErrWorkersMaximum, c.Workers)
	}

	if !isValidDialect(c.Dialect) {
		return fmt.Errorf("%w: '%s'", ErrDialectInvalid, c.Dialect)
	}

	if _, err := compressors.GetCompressor(c.Compression); err != nil {
		return fmt.Errorf("%w: '%s'", ErrCompressionInvalid, c.Compression)
	}
	if !isValidCompressionLevel(c.Compression, c.CompressionLevel) {
		return fmt.Errorf("%w for compression %s: got %d", ErrCompressionLevelInvalid, c.Compression, c.CompressionLevel)
	}

	if !isValidReportFormat(c.ReportFormat) {
		return fmt.Errorf("%w: '%s'", ErrReportFormatInvalid, c.ReportFormat)
	}

	if _, err := parseLogLevel(c.LogLevel); err != nil {
		return err
	}

	if c.S3.Enabled() {
		if c.S3.AccessKey != "" && c.S3.SecretKey == "" {
			return ErrS3SecretKeyRequired
		}
		if !isValidRegion(c.S3.Region) {
			return fmt.Errorf("%w: %s", ErrS3RegionInvalid, c.S3.Region)
		}
		if c.S3.PathTemplate != "" && !isValidPathTemplate(c.S3.PathTemplate) {
			return fmt.Errorf("%w: '%s'", ErrPathTemplateInvalid, c.S3.PathTemplate)
		}
	}

	return nil
}
