package cmd

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	mapset "github.com/deckarep/golang-set/v2"
)

// MappingFileName is the audit file written next to the downloads
const MappingFileName = "files.csv"

var mappingHeader = []string{
	"FirstPublicationId", "FirstPublicationName", "ContentDocumentId", "Title", "VersionData", "PathOnClient",
}

// ErrOutputNotDirectory is returned when the output path exists as a file
var ErrOutputNotDirectory = errors.New("output path exists and is not a directory")

// ResolutionError is fatal for a run: without resolved ids nothing can be exported
type ResolutionError struct {
	Op  string
	Err error
}

func (e *ResolutionError) Error() string {
	return fmt.Sprintf("resolution failed: %s: %v", e.Op, e.Err)
}

func (e *ResolutionError) Unwrap() error {
	return e.Err
}

// ResolvedIDSet is the deduplicated set of attachment ids found for a run.
// It keeps discovery order and is read-only once resolution returns.
type ResolvedIDSet struct {
	members mapset.Set[AttachmentID]
	order   []AttachmentID
}

func newResolvedIDSet() *ResolvedIDSet {
	return &ResolvedIDSet{members: mapset.NewThreadUnsafeSet[AttachmentID]()}
}

func (s *ResolvedIDSet) add(id AttachmentID) bool {
	if !s.members.Add(id) {
		return false
	}
	s.order = append(s.order, id)
	return true
}

// Len returns the number of distinct ids
func (s *ResolvedIDSet) Len() int {
	return len(s.order)
}

// Contains reports whether id was resolved
func (s *ResolvedIDSet) Contains(id AttachmentID) bool {
	return s.members.Contains(id)
}

// IDs returns a copy of the ids in discovery order
func (s *ResolvedIDSet) IDs() []AttachmentID {
	ids := make([]AttachmentID, len(s.order))
	copy(ids, s.order)
	return ids
}

// Equal reports whether both sets hold the same members, ignoring order
func (s *ResolvedIDSet) Equal(other *ResolvedIDSet) bool {
	return s.members.Equal(other.members)
}

// Resolution is everything the resolver learned about a run
type Resolution struct {
	IDs         *ResolvedIDSet
	Parents     map[AttachmentID]ParentLink // first parent seen per attachment
	LinkRows    int
	MappingPath string
}

// Resolver discovers attachment ids reachable from a parent filter
type Resolver struct {
	query  QueryRunner
	paths  PathBuilder
	logger *slog.Logger
}

// NewResolver creates a resolver writing its mapping file into paths.Dir
func NewResolver(query QueryRunner, paths PathBuilder, logger *slog.Logger) *Resolver {
	return &Resolver{query: query, paths: paths, logger: logger}
}

// Resolve runs linkQuery once, consuming every page, and writes files.csv
func (r *Resolver) Resolve(ctx context.Context, linkQuery string) (*Resolution, error) {
	if err := ensureOutputDir(r.paths.Dir); err != nil {
		return nil, &ResolutionError{Op: "prepare output directory", Err: err}
	}

	r.logger.Debug(fmt.Sprintf("Link query: %s", linkQuery))
	records, err := r.query.QueryAll(ctx, linkQuery)
	if err != nil {
		return nil, &ResolutionError{Op: "query links", Err: err}
	}

	res := &Resolution{
		IDs:         newResolvedIDSet(),
		Parents:     make(map[AttachmentID]ParentLink),
		MappingPath: filepath.Join(r.paths.Dir, MappingFileName),
	}

	links := make([]ParentLink, 0, len(records))
	for _, rec := range records {
		link := ParentLink{
			AttachmentID:  AttachmentID(rec.String("ContentDocumentId")),
			ParentID:      rec.String("LinkedEntityId"),
			ParentName:    rec.String("LinkedEntity.Name"),
			Title:         rec.String("ContentDocument.Title"),
			FileExtension: rec.String("ContentDocument.FileExtension"),
		}
		if link.AttachmentID == "" {
			r.logger.Warn(fmt.Sprintf("⚠️  Skipping link row without ContentDocumentId (parent %s)", link.ParentID))
			continue
		}
		if res.IDs.add(link.AttachmentID) {
			res.Parents[link.AttachmentID] = link
		}
		links = append(links, link)
	}
	res.LinkRows = len(links)

	if err := r.writeMapping(res.MappingPath, links); err != nil {
		return nil, &ResolutionError{Op: "write " + MappingFileName, Err: err}
	}

	r.logger.Info(fmt.Sprintf("🔎 Resolved %d attachments from %d links", res.IDs.Len(), res.LinkRows))
	return res, nil
}

func (r *Resolver) writeMapping(path string, links []ParentLink) error {
	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()

	writer := csv.NewWriter(file)
	if err := writer.Write(mappingHeader); err != nil {
		return err
	}
	for _, link := range links {
		target := r.paths.Path(link.AttachmentID, link.Title, link.FileExtension)
		record := []string{link.ParentID, link.ParentName, string(link.AttachmentID), link.Title, target, target}
		if err := writer.Write(record); err != nil {
			return err
		}
	}
	writer.Flush()
	if err := writer.Error(); err != nil {
		return err
	}
	return file.Close()
}

// ensureOutputDir creates dir if needed and rejects an existing non-directory
func ensureOutputDir(dir string) error {
	info, err := os.Stat(dir)
	switch {
	case err == nil && !info.IsDir():
		return fmt.Errorf("%w: %s", ErrOutputNotDirectory, dir)
	case err == nil:
		return nil
	case !errors.Is(err, os.ErrNotExist):
		return err
	}
	return os.MkdirAll(dir, 0o755)
}
