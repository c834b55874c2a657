package services

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	domain "github.com/style-suite/api/internal/domain"
	"github.com/style-suite/api/internal/repositories"
)

// BuildInfo is the release metadata reported by /healthz and /readyz.
type BuildInfo struct {
	Version     string
	CommitSHA   string
	Environment string
	StartedAt   time.Time
}

type SystemServiceDeps struct {
	HealthRepository repositories.HealthRepository
	Clock            func() time.Time
	Build            BuildInfo
	// ReportTTL lets probes that arrive close together share one dependency sweep. Zero disables it.
	ReportTTL time.Duration
}

type systemService struct {
	probes repositories.HealthRepository
	now    func() time.Time
	build  BuildInfo
	ttl    time.Duration

	sweeps singleflight.Group

	mu       sync.Mutex
	last     domain.SystemHealthReport
	lastTime time.Time
}

var _ SystemService = (*systemService)(nil)

func NewSystemService(deps SystemServiceDeps) (SystemService, error) {
	if deps.HealthRepository == nil {
		return nil, errors.New("system service: health repository is required")
	}
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	svc := &systemService{
		probes: deps.HealthRepository,
		now:    func() time.Time { return clock().UTC() },
		build:  deps.Build,
		ttl:    deps.ReportTTL,
	}
	if svc.build.StartedAt.IsZero() {
		svc.build.StartedAt = svc.now()
	}
	return svc, nil
}

// HealthReport sweeps the dependency probes and stamps the result with build metadata and uptime.
// Concurrent callers share one sweep. Failed sweeps are never cached.
func (s *systemService) HealthReport(ctx context.Context) (SystemHealthReport, error) {
	now := s.now()
	if report, ok := s.cached(now); ok {
		return s.stamp(report, now), nil
	}

	v, err, _ := s.sweeps.Do("health", func() (any, error) {
		report, err := s.probes.Collect(ctx)
		if err != nil {
			return nil, err
		}
		s.mu.Lock()
		s.last, s.lastTime = report, s.now()
		s.mu.Unlock()
		return report, nil
	})
	if err != nil {
		return SystemHealthReport{}, err
	}
	return s.stamp(v.(domain.SystemHealthReport), now), nil
}

func (s *systemService) cached(now time.Time) (domain.SystemHealthReport, bool) {
	if s.ttl <= 0 {
		return domain.SystemHealthReport{}, false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.lastTime.IsZero() || now.Sub(s.lastTime) >= s.ttl {
		return domain.SystemHealthReport{}, false
	}
	return s.last, true
}

// stamp fills whatever the probes left blank. The checks map is copied so callers cannot mutate the cache.
func (s *systemService) stamp(report domain.SystemHealthReport, now time.Time) domain.SystemHealthReport {
	checks := make(map[string]domain.SystemHealthCheck, len(report.Checks))
	for name, check := range report.Checks {
		checks[name] = check
	}
	report.Checks = checks

	if report.GeneratedAt.IsZero() {
		report.GeneratedAt = now
	}
	report.GeneratedAt = report.GeneratedAt.UTC()
	if strings.TrimSpace(report.Version) == "" {
		report.Version = s.build.Version
	}
	if strings.TrimSpace(report.CommitSHA) == "" {
		report.CommitSHA = s.build.CommitSHA
	}
	if strings.TrimSpace(report.Environment) == "" {
		report.Environment = s.build.Environment
	}
	if report.Uptime <= 0 {
		report.Uptime = now.Sub(s.build.StartedAt)
	}
	if strings.TrimSpace(report.Status) == "" {
		report.Status = rollUpHealth(checks)
	}
	return report
}

// rollUpHealth: any error wins, then any status other than ok (or blank) degrades.
func rollUpHealth(checks map[string]domain.SystemHealthCheck) string {
	worst := domain.HealthStatusOK
	for _, check := range checks {
		switch check.Status {
		case domain.HealthStatusError:
			return domain.HealthStatusError
		case domain.HealthStatusOK, "":
		default:
			worst = domain.HealthStatusDegraded
		}
	}
	return worst
}
