package service

import (
	"context"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"permission_service/internal/models"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	auditWriteFailures = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "permission_audit_write_failures_total",
			Help: "Audit log entries that could not be persisted",
		},
	)

	auditQueueDropped = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "permission_audit_queue_dropped_total",
			Help: "Audit log entries dropped because the write queue was full",
		},
	)
)

// AuditService owns the access log. Writes go through a buffered queue and a
// background writer so a storage outage can never turn into an authorization
// outage; failures surface only through logs and metrics.
type AuditService struct {
	store     AuditStore
	queue     chan *models.AccessLogEntry
	done      chan struct{}
	seq       atomic.Int64
	mu        sync.RWMutex
	closed    bool
	closeOnce sync.Once
}

func NewAuditService(store AuditStore, queueSize int) *AuditService {
	if queueSize <= 0 {
		queueSize = 1024
	}
	s := &AuditService{
		store: store,
		queue: make(chan *models.AccessLogEntry, queueSize),
		done:  make(chan struct{}),
	}
	go s.writeLoop()
	return s
}

// Record enqueues an entry without blocking. When the queue is full, or the
// service has already shut down, the entry is dropped and counted; the
// caller's flow is never held up.
func (s *AuditService) Record(entry *models.AccessLogEntry) {
	if entry.Timestamp == 0 {
		entry.Timestamp = time.Now().UnixMilli()
	}
	entry.Seq = s.seq.Add(1)

	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		auditQueueDropped.Inc()
		log.Printf("Audit queue closed, dropped entry for actor %s on resource %s", entry.ActorID, entry.ResourceID)
		return
	}

	select {
	case s.queue <- entry:
	default:
		auditQueueDropped.Inc()
		log.Printf("Audit queue full, dropped entry for actor %s on resource %s", entry.ActorID, entry.ResourceID)
	}
}

func (s *AuditService) writeLoop() {
	defer close(s.done)
	for entry := range s.queue {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		err := s.store.Insert(ctx, entry)
		cancel()
		if err != nil {
			auditWriteFailures.Inc()
			log.Printf("Failed to persist audit entry for actor %s: %v", entry.ActorID, err)
		}
	}
}

// Close drains the queue and stops the writer. Safe to call more than once,
// and safe against Record calls arriving afterwards; those drop.
func (s *AuditService) Close() {
	s.closeOnce.Do(func() {
		s.mu.Lock()
		s.closed = true
		s.mu.Unlock()

		close(s.queue)
		<-s.done
	})
}

func (s *AuditService) Query(ctx context.Context, tenantID string, filter models.AuditLogFilter, page, limit int) ([]*models.AccessLogEntry, error) {
	if tenantID == "" {
		return nil, &models.ValidationError{Field: "tenantId", Message: "tenant id must not be empty"}
	}
	return s.store.Query(ctx, tenantID, filter, page, limit)
}

func (s *AuditService) Analytics(ctx context.Context, tenantID string, from, to int64, resourceID string) (*models.AccessAnalytics, error) {
	if tenantID == "" {
		return nil, &models.ValidationError{Field: "tenantId", Message: "tenant id must not be empty"}
	}
	if from != 0 && to != 0 && from >= to {
		return nil, &models.ValidationError{Field: "timeRange", Message: "range start must be before range end"}
	}
	return s.store.Analytics(ctx, tenantID, from, to, resourceID)
}
