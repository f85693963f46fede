// Package lookup fetches one company's directory profile and turns it into a
// classified record.
package lookup

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/company-scraper/internal/directory"
	"github.com/JakeFAU/company-scraper/internal/extract"
	"github.com/JakeFAU/company-scraper/internal/scraper"
)

// Config controls how profiles are requested.
type Config struct {
	BaseURL   string
	UserAgent string
}

// Service implements the per-row fetch pipeline.
type Service struct {
	cfg      Config
	fetcher  scraper.Fetcher
	headless scraper.Fetcher
	detector scraper.HeadlessDetector
	logger   *zap.Logger
}

// New constructs a Service. headless and detector may be nil.
func New(
	cfg Config,
	fetcher scraper.Fetcher,
	headless scraper.Fetcher,
	detector scraper.HeadlessDetector,
	logger *zap.Logger,
) *Service {
	if cfg.BaseURL == "" {
		cfg.BaseURL = directory.DefaultBaseURL
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		cfg:      cfg,
		fetcher:  fetcher,
		headless: headless,
		detector: detector,
		logger:   logger,
	}
}

// FetchRow looks up a single company. It never fails: every problem is folded
// into the record's outcome and sentinel field values.
func (s *Service) FetchRow(ctx context.Context, jobID, name, cin string) (record scraper.CompanyRecord) {
	url := directory.BuildURL(s.cfg.BaseURL, name, cin)
	record.URL = url
	start := time.Now()

	defer func() {
		if r := recover(); r != nil {
			record = failed(url, scraper.OutcomeTransport, fmt.Errorf("panic during lookup: %v", r))
			s.logger.Error("row lookup panicked", zap.String("job_id", jobID), zap.String("url", url), zap.Any("panic", r))
		}
		record.Duration = time.Since(start)
	}()

	if s.fetcher == nil {
		return failed(url, scraper.OutcomeTransport, errors.New("no fetcher configured"))
	}

	request := scraper.FetchRequest{JobID: jobID, URL: url, Headers: s.headers()}
	resp, err := s.fetcher.Fetch(ctx, request)
	if err != nil {
		outcome := Classify(err)
		s.logger.Warn("row fetch failed",
			zap.String("job_id", jobID),
			zap.String("url", url),
			zap.String("outcome", string(outcome)),
			zap.Error(err),
		)
		return failed(url, outcome, err)
	}

	resp = s.maybePromote(ctx, request, resp)

	if resp.StatusCode != http.StatusOK {
		s.logger.Debug("row returned non-200",
			zap.String("job_id", jobID),
			zap.String("url", url),
			zap.Int("status", resp.StatusCode),
		)
		record = failed(url, scraper.OutcomeHTTPError, fmt.Errorf("unexpected status %d", resp.StatusCode))
		record.StatusCode = resp.StatusCode
		return record
	}

	fields, err := extract.Extract(resp.Body)
	if err != nil {
		record = failed(url, scraper.OutcomeParse, err)
		record.StatusCode = resp.StatusCode
		return record
	}
	return scraper.CompanyRecord{
		URL:          url,
		Fields:       fields,
		Outcome:      scraper.OutcomeOK,
		StatusCode:   resp.StatusCode,
		UsedHeadless: resp.UsedHeadless,
	}
}

func (s *Service) headers() http.Header {
	if s.cfg.UserAgent == "" {
		return nil
	}
	return http.Header{"User-Agent": {s.cfg.UserAgent}}
}

// maybePromote re-fetches client-rendered shells with the headless fetcher. A
// failed promotion keeps the original response.
func (s *Service) maybePromote(
	ctx context.Context,
	request scraper.FetchRequest,
	resp scraper.FetchResponse,
) scraper.FetchResponse {
	if s.headless == nil || s.detector == nil || !s.detector.ShouldPromote(resp) {
		return resp
	}
	promoted, err := s.headless.Fetch(ctx, request)
	if err != nil {
		s.logger.Warn("headless promotion failed",
			zap.String("job_id", request.JobID),
			zap.String("url", request.URL),
			zap.Error(err),
		)
		return resp
	}
	promoted.UsedHeadless = true
	s.logger.Info("headless promotion applied", zap.String("job_id", request.JobID), zap.String("url", request.URL))
	return promoted
}

func failed(url string, outcome scraper.Outcome, err error) scraper.CompanyRecord {
	return scraper.CompanyRecord{
		URL:     url,
		Fields:  scraper.Filled(outcome.Sentinel()),
		Outcome: outcome,
		Err:     err,
	}
}

// Classify maps a fetch error onto a row outcome.
func Classify(err error) scraper.Outcome {
	if err == nil {
		return scraper.OutcomeOK
	}
	if errors.Is(err, extract.ErrParse) {
		return scraper.OutcomeParse
	}
	if errors.Is(err, context.Canceled) {
		return scraper.OutcomeCanceled
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return scraper.OutcomeTimeout
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return scraper.OutcomeTimeout
	}
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return scraper.OutcomeConnection
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return scraper.OutcomeConnection
	}
	return scraper.OutcomeTransport
}
