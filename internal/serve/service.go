// Package serve exposes the catalog, quota tracker and lifecycle engine
// over HTTP and NATS request-reply.
package serve

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/gftdcojp/tickstore/internal/catalog"
	"github.com/gftdcojp/tickstore/internal/config"
	"github.com/gftdcojp/tickstore/internal/lifecycle"
	"github.com/gftdcojp/tickstore/internal/meta"
	"github.com/gftdcojp/tickstore/internal/quota"
	"github.com/gftdcojp/tickstore/internal/types"
	"go.uber.org/zap"
)

// Deps are the components the API reads and drives. Quota, Engine and
// Meta may be nil; their endpoints then answer unavailable.
type Deps struct {
	Catalog *catalog.Catalog
	Quota   *quota.Tracker
	Engine  *lifecycle.Engine
	Meta    meta.Store
	// DryRun is the default for lifecycle passes triggered over the API.
	DryRun bool
	// ComputeChecksums is the default for API-triggered rebuilds.
	ComputeChecksums bool
	Logger           *zap.Logger
}

var (
	errNotFound    = errors.New("not found")
	errUnavailable = errors.New("component not configured")
)

// badRequest marks a caller error.
type badRequest struct{ err error }

func (e badRequest) Error() string { return e.err.Error() }
func (e badRequest) Unwrap() error { return e.err }

// SearchRequest is the wire form of catalog.SearchCriteria. Dates are
// YYYY-MM-DD; sizes accept ByteSize strings such as "10MB".
type SearchRequest struct {
	Symbols       []string `json:"symbols,omitempty"`
	EventTypes    []string `json:"eventTypes,omitempty"`
	Sources       []string `json:"sources,omitempty"`
	Tiers         []string `json:"tiers,omitempty"`
	From          string   `json:"from,omitempty"`
	To            string   `json:"to,omitempty"`
	MinSize       string   `json:"minSize,omitempty"`
	MaxSize       string   `json:"maxSize,omitempty"`
	SchemaVersion string   `json:"schemaVersion,omitempty"`
	// Limit caps the number of entries returned; 0 returns all.
	Limit int `json:"limit,omitempty"`
}

func (r SearchRequest) criteria() (catalog.SearchCriteria, error) {
	sc := catalog.SearchCriteria{
		Symbols:       r.Symbols,
		EventTypes:    r.EventTypes,
		Sources:       r.Sources,
		SchemaVersion: r.SchemaVersion,
	}
	for _, s := range r.Tiers {
		t, err := types.ParseTier(s)
		if err != nil {
			return sc, badRequest{err}
		}
		sc.Tiers = append(sc.Tiers, t)
	}
	var err error
	if sc.From, err = parseDate(r.From); err != nil {
		return sc, err
	}
	if sc.To, err = parseDate(r.To); err != nil {
		return sc, err
	}
	if sc.MinSize, err = parseSize(r.MinSize); err != nil {
		return sc, err
	}
	if sc.MaxSize, err = parseSize(r.MaxSize); err != nil {
		return sc, err
	}
	return sc, nil
}

func parseDate(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	t, err := time.Parse(time.DateOnly, s)
	if err != nil {
		return time.Time{}, badRequest{fmt.Errorf("invalid date %q", s)}
	}
	return t, nil
}

func parseSize(s string) (int64, error) {
	if s == "" {
		return 0, nil
	}
	n, err := config.ParseByteSize(s)
	if err != nil {
		return 0, badRequest{err}
	}
	return n, nil
}

// SearchResponse lists matching entries.
type SearchResponse struct {
	Files      []catalog.IndexedFileEntry `json:"files"`
	Total      int                        `json:"total"`
	TotalBytes int64                      `json:"totalBytes"`
}

// QuotaCheckRequest asks whether a write may proceed.
type QuotaCheckRequest struct {
	Symbol    string `json:"symbol"`
	Source    string `json:"source"`
	EventType string `json:"eventType"`
	Bytes     int64  `json:"bytes"`
}

// StatusResponse summarises the store.
type StatusResponse struct {
	CatalogID  string                     `json:"catalogId"`
	UpdatedAt  time.Time                  `json:"updatedAt"`
	Statistics catalog.CatalogStatistics  `json:"statistics"`
	LastRuns   map[string]*meta.RunRecord `json:"lastRuns,omitempty"`
	Violations int                        `json:"quotaViolations"`
}

type service struct {
	d Deps
}

func newService(d Deps) *service {
	if d.Logger == nil {
		d.Logger = zap.NewNop()
	}
	return &service{d: d}
}

func (s *service) status(ctx context.Context) (*StatusResponse, error) {
	m := s.d.Catalog.Manifest()
	resp := &StatusResponse{
		CatalogID:  m.CatalogID,
		UpdatedAt:  m.UpdatedAt,
		Statistics: m.Statistics,
	}
	if s.d.Meta != nil {
		resp.LastRuns = make(map[string]*meta.RunRecord)
		for _, kind := range []string{catalog.RunRebuild, catalog.RunVerify, lifecycle.RunLifecycle} {
			run, err := s.d.Meta.LastRun(ctx, kind)
			if err != nil {
				return nil, err
			}
			if run != nil {
				resp.LastRuns[kind] = run
			}
		}
	}
	if s.d.Quota != nil {
		resp.Violations = len(s.d.Quota.GetStatus().Violations)
	}
	return resp, nil
}

func (s *service) search(req SearchRequest) (*SearchResponse, error) {
	sc, err := req.criteria()
	if err != nil {
		return nil, err
	}
	found := s.d.Catalog.Search(sc)
	resp := &SearchResponse{Total: len(found)}
	for _, e := range found {
		resp.TotalBytes += e.SizeBytes
	}
	if req.Limit > 0 && len(found) > req.Limit {
		found = found[:req.Limit]
	}
	resp.Files = found
	if resp.Files == nil {
		resp.Files = []catalog.IndexedFileEntry{}
	}
	return resp, nil
}

func (s *service) file(rel string) (*catalog.IndexedFileEntry, error) {
	e, ok := s.d.Catalog.Get(rel)
	if !ok {
		return nil, fmt.Errorf("%s: %w", rel, errNotFound)
	}
	return &e, nil
}

func (s *service) quotaStatus() (*quota.Status, error) {
	if s.d.Quota == nil {
		return nil, errUnavailable
	}
	st := s.d.Quota.GetStatus()
	return &st, nil
}

func (s *service) quotaCheck(req QuotaCheckRequest) (*quota.Decision, error) {
	if s.d.Quota == nil {
		return nil, errUnavailable
	}
	if req.Bytes < 0 {
		return nil, badRequest{errors.New("bytes must be >= 0")}
	}
	d := s.d.Quota.CheckQuota(req.Symbol, req.Source, req.EventType, req.Bytes)
	return &d, nil
}

func (s *service) tiers() ([]lifecycle.TierStatistics, error) {
	if s.d.Engine == nil {
		return nil, errUnavailable
	}
	return s.d.Engine.GetTierStatistics(), nil
}

func (s *service) actions(ctx context.Context, limit int) ([]meta.ActionRecord, error) {
	if s.d.Meta == nil {
		return nil, errUnavailable
	}
	return s.d.Meta.ListActions(ctx, limit)
}

func (s *service) rebuild(ctx context.Context, checksums *bool) (*catalog.RebuildResult, error) {
	opts := catalog.RebuildOptions{ComputeChecksums: s.d.ComputeChecksums}
	if checksums != nil {
		opts.ComputeChecksums = *checksums
	}
	res, err := s.d.Catalog.RebuildCatalog(ctx, opts)
	if err != nil {
		return nil, err
	}
	if s.d.Quota != nil {
		if _, err := s.d.Quota.ScanAndUpdate(ctx); err != nil {
			s.d.Logger.Warn("quota rescan after rebuild failed", zap.Error(err))
		}
	}
	return res, nil
}

func (s *service) verify(ctx context.Context, stopOnFirst bool) (*catalog.VerifyResult, error) {
	return s.d.Catalog.VerifyIntegrity(ctx, catalog.VerifyOptions{StopOnFirstError: stopOnFirst})
}

func (s *service) lifecycle(ctx context.Context, dryRun *bool) (*lifecycle.PassResult, error) {
	if s.d.Engine == nil {
		return nil, errUnavailable
	}
	dr := s.d.DryRun
	if dryRun != nil {
		dr = *dryRun
	}
	return s.d.Engine.RunOnce(ctx, dr)
}
