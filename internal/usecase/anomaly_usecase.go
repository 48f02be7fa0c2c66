package usecase

import (
	"context"
	"time"

	"github.com/clinicops/secobs/internal/domain"
	"github.com/clinicops/secobs/internal/logger"
	"github.com/clinicops/secobs/internal/ports"
)

const statisticsRecentWindow = 7 * 24 * time.Hour

// AnomalyUseCase serves the anomaly review workflow
type AnomalyUseCase struct {
	repo ports.AnomalyRepository
	log  logger.Logger
	now  func() time.Time
}

// NewAnomalyUseCase creates a new anomaly use case
func NewAnomalyUseCase(repo ports.AnomalyRepository, log logger.Logger) *AnomalyUseCase {
	return &AnomalyUseCase{
		repo: repo,
		log:  log.WithFields(map[string]interface{}{"component": "anomalies"}),
		now:  time.Now,
	}
}

// List returns one page of open or notified findings
func (uc *AnomalyUseCase) List(ctx context.Context, filter domain.AnomalyFilter) (*domain.AnomalyPage, error) {
	filter.Normalize()
	if filter.View != domain.ViewOpen && filter.View != domain.ViewNotified {
		return nil, domain.ErrInvalidArgument.WithDetail("view %q", filter.View)
	}

	rows, total, err := uc.repo.List(ctx, filter)
	if err != nil {
		uc.log.Error(ctx, "Failed to list anomalies", err, map[string]interface{}{"view": string(filter.View)})
		return nil, wrapPersistence("list anomalies", err)
	}
	if rows == nil {
		rows = []*domain.AnomalyFinding{}
	}

	return &domain.AnomalyPage{
		Anomalies: rows,
		Total:     total,
		Limit:     filter.Limit,
		Offset:    filter.Offset,
	}, nil
}

// UpdateStatus moves a finding to status. Any status other than new stamps reviewed_at.
func (uc *AnomalyUseCase) UpdateStatus(ctx context.Context, id int64, rawStatus string, reviewedBy *int64) (*domain.AnomalyFinding, error) {
	status, err := domain.ParseAnomalyStatus(rawStatus)
	if err != nil {
		return nil, err
	}
	if id <= 0 {
		return nil, domain.ErrInvalidArgument.WithDetail("anomaly id must be positive")
	}
	if reviewedBy != nil && *reviewedBy <= 0 {
		return nil, domain.ErrInvalidArgument.WithDetail("reviewedBy must be positive")
	}

	finding, err := uc.repo.UpdateStatus(ctx, id, status, reviewedBy, status.MarksReview(), uc.now().UTC())
	if err != nil {
		if domain.KindOf(err) == domain.KindNotFound {
			return nil, err
		}
		uc.log.Error(ctx, "Failed to update anomaly status", err, map[string]interface{}{
			"anomaly_id": id,
			"status":     string(status),
		})
		return nil, wrapPersistence("update anomaly status", err)
	}

	uc.log.Info(ctx, "Anomaly status updated", map[string]interface{}{
		"anomaly_id": id,
		"status":     string(status),
	})
	return finding, nil
}

// Statistics aggregates finding counts
func (uc *AnomalyUseCase) Statistics(ctx context.Context) (*domain.AnomalyStatistics, error) {
	stats, err := uc.repo.Statistics(ctx, uc.now().UTC().Add(-statisticsRecentWindow))
	if err != nil {
		uc.log.Error(ctx, "Failed to compute anomaly statistics", err, nil)
		return nil, wrapPersistence("anomaly statistics", err)
	}
	return stats, nil
}
