// Package report handles complaints about former chat partners: a reporter
// opens a draft, attaches screenshots and the finished report is stored and
// forwarded to the operator.
package report

import (
	"anonchat/backend/internal/metrics"
	"anonchat/backend/internal/models"
	"context"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"
)

var (
	// ErrNoDraft is returned when the reporter has no open draft.
	ErrNoDraft = errors.New("no report in progress")
	// ErrNoScreenshots is returned when a draft is finished without evidence.
	ErrNoScreenshots = errors.New("report has no screenshots")
	// ErrInvalidTarget is returned for reports against oneself or the operator.
	ErrInvalidTarget = errors.New("invalid report target")
)

// Store is the persistence the report service needs.
type Store interface {
	GetUser(ctx context.Context, id int64) (*models.User, error)
	SaveReport(ctx context.Context, report *models.Report) error
}

// Forwarder delivers a finished report to the operator.
type Forwarder interface {
	ForwardReport(ctx context.Context, operatorID int64, reporter, target *models.User, screenshots []string) error
}

type draft struct {
	targetID    int64
	screenshots []string
}

// Service keeps the open drafts, one per reporter.
type Service struct {
	mu     sync.Mutex
	drafts map[int64]*draft

	store      Store
	forwarder  Forwarder
	operatorID int64
	logger     *zap.Logger
}

// NewService creates a report service that forwards to operatorID.
func NewService(s Store, f Forwarder, operatorID int64, logger *zap.Logger) *Service {
	return &Service{
		drafts:     make(map[int64]*draft),
		store:      s,
		forwarder:  f,
		operatorID: operatorID,
		logger:     logger,
	}
}

// Start opens a draft against targetID, replacing any earlier one.
func (s *Service) Start(reporterID, targetID int64) error {
	if targetID == 0 || targetID == reporterID || targetID == s.operatorID {
		return ErrInvalidTarget
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.drafts[reporterID] = &draft{targetID: targetID}
	return nil
}

// Active reports whether reporterID is collecting screenshots.
func (s *Service) Active(reporterID int64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.drafts[reporterID]
	return ok
}

// AddScreenshot attaches a photo file id to the open draft.
func (s *Service) AddScreenshot(reporterID int64, fileID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.drafts[reporterID]
	if !ok {
		return ErrNoDraft
	}
	d.screenshots = append(d.screenshots, fileID)
	return nil
}

// Cancel drops the draft. It returns false when there was none.
func (s *Service) Cancel(reporterID int64) bool {
	s.mu.Lock()
	_, ok := s.drafts[reporterID]
	delete(s.drafts, reporterID)
	s.mu.Unlock()
	if ok {
		metrics.ReportsTotal.WithLabelValues("cancelled").Inc()
	}
	return ok
}

// Finish closes the draft, stores the report and forwards it to the
// operator. The draft is discarded whatever the result.
func (s *Service) Finish(ctx context.Context, reporterID int64) (*models.Report, error) {
	s.mu.Lock()
	d, ok := s.drafts[reporterID]
	delete(s.drafts, reporterID)
	s.mu.Unlock()

	if !ok {
		return nil, ErrNoDraft
	}
	if len(d.screenshots) == 0 {
		metrics.ReportsTotal.WithLabelValues("failed").Inc()
		return nil, ErrNoScreenshots
	}

	rep, err := s.submit(ctx, reporterID, d)
	if err != nil {
		metrics.ReportsTotal.WithLabelValues("failed").Inc()
		return nil, err
	}
	metrics.ReportsTotal.WithLabelValues("sent").Inc()
	return rep, nil
}

func (s *Service) submit(ctx context.Context, reporterID int64, d *draft) (*models.Report, error) {
	reporter, err := s.lookup(ctx, reporterID)
	if err != nil {
		return nil, err
	}
	target, err := s.lookup(ctx, d.targetID)
	if err != nil {
		return nil, err
	}

	rep := &models.Report{
		ReporterID:  reporterID,
		TargetID:    d.targetID,
		Screenshots: d.screenshots,
		Status:      models.ReportNew,
	}
	if err := s.store.SaveReport(ctx, rep); err != nil {
		return nil, fmt.Errorf("save report: %w", err)
	}

	if err := s.forwarder.ForwardReport(ctx, s.operatorID, reporter, target, d.screenshots); err != nil {
		// The report is stored; the operator can still find it later.
		s.logger.Error("forward report failed", zap.Uint("report_id", rep.ID), zap.Error(err))
		return nil, fmt.Errorf("forward report: %w", err)
	}
	s.logger.Info("report submitted",
		zap.Uint("report_id", rep.ID),
		zap.Int64("reporter_id", reporterID),
		zap.Int64("target_id", d.targetID),
		zap.Int("screenshots", len(d.screenshots)))
	return rep, nil
}

// lookup returns the stored user or a placeholder for unknown ids.
func (s *Service) lookup(ctx context.Context, id int64) (*models.User, error) {
	u, err := s.store.GetUser(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("load user %d: %w", id, err)
	}
	if u == nil {
		return &models.User{ID: id}, nil
	}
	return u, nil
}
