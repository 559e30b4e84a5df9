// Package api implements the sync gateway's gRPC service.
package api

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/solatis/pricekeeper/internal/core/config"
	"github.com/solatis/pricekeeper/internal/core/db"
	"github.com/solatis/pricekeeper/internal/core/observability"
	"github.com/solatis/pricekeeper/internal/policy"
	"github.com/solatis/pricekeeper/internal/syncapi"
)

// GatewayService implements syncapi.Server.
// Thin orchestration layer delegating to auth, the policy source, and the
// database.
type GatewayService struct {
	queries  *db.Queries
	policies policy.Source
	cfg      *config.GatewayConfig
	metrics  *observability.Metrics
	logger   *zap.Logger
	now      func() time.Time

	journalMutexes map[string]*sync.Mutex
	mutexLock      sync.Mutex
}

var _ syncapi.Server = (*GatewayService)(nil)

// NewGatewayService creates service instance with dependencies.
// Auto-creates the journal directory if not exists.
func NewGatewayService(queries *db.Queries, policies policy.Source, cfg *config.GatewayConfig, metrics *observability.Metrics, logger *zap.Logger) (*GatewayService, error) {
	if queries == nil {
		return nil, fmt.Errorf("queries cannot be nil")
	}
	if policies == nil {
		return nil, fmt.Errorf("policies cannot be nil")
	}
	if cfg == nil {
		return nil, fmt.Errorf("cfg cannot be nil")
	}

	if err := os.MkdirAll(journalDir(cfg.DataDir), 0755); err != nil {
		return nil, err
	}

	return &GatewayService{
		queries:        queries,
		policies:       policies,
		cfg:            cfg,
		metrics:        metrics,
		logger:         logger,
		now:            time.Now,
		journalMutexes: make(map[string]*sync.Mutex),
	}, nil
}

func journalDir(dataDir string) string {
	return filepath.Join(dataDir, "submissions")
}

// journalMutex returns mutex for given filename, creating if not exists.
// Per-file mutex protects concurrent writes to same daily JSONL file.
// Map grows by one entry per day.
func (s *GatewayService) journalMutex(filename string) *sync.Mutex {
	s.mutexLock.Lock()
	defer s.mutexLock.Unlock()

	if _, ok := s.journalMutexes[filename]; !ok {
		s.journalMutexes[filename] = &sync.Mutex{}
	}
	return s.journalMutexes[filename]
}
