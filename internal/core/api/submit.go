package api

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/solatis/pricekeeper/internal/core/auth"
	"github.com/solatis/pricekeeper/internal/core/db"
	"github.com/solatis/pricekeeper/internal/syncapi"
	"github.com/solatis/pricekeeper/internal/types"
)

type submissionRow struct {
	LocalID     string `db:"local_id"`
	CompanyID   int64  `db:"company_id"`
	Kind        string `db:"kind"`
	PayloadHash string `db:"payload_hash"`
	ReceivedAt  string `db:"received_at"`
}

type journalLine struct {
	LocalID    types.LocalID     `json:"local_id"`
	CompanyID  int64             `json:"company_id"`
	Kind       types.PayloadKind `json:"kind"`
	ReceivedAt string            `json:"received_at"`
	Payload    types.Payload     `json:"payload"`
}

// Submit records one device write keyed by its local id.
// The submissions table is the source of truth; the daily JSONL journal is
// a best-effort debugging aid.
func (s *GatewayService) Submit(ctx context.Context, kind types.PayloadKind, in *structpb.Struct) (*structpb.Struct, error) {
	companyID, ok := auth.CompanyIDFromContext(ctx)
	if !ok {
		return nil, status.Error(codes.Internal, "missing company_id in context")
	}

	req, err := syncapi.ParseSubmitRequest(in)
	if err != nil {
		s.metrics.RecordSubmission(string(kind), "rejected")
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}
	if req.Kind != kind {
		s.metrics.RecordSubmission(string(kind), "rejected")
		return nil, status.Errorf(codes.InvalidArgument, "%s entry sent to %s endpoint", req.Kind, kind)
	}

	receivedAt := s.now().UTC()
	sum := sha256.Sum256(req.Payload)
	hash := hex.EncodeToString(sum[:])

	res, err := s.queries.ExecContext(ctx, "insert-submission",
		string(req.LocalID), companyID, string(req.Kind), string(req.Payload), hash, db.FormatTime(receivedAt))
	if err != nil {
		s.metrics.RecordSubmission(string(kind), "error")
		return nil, status.Errorf(codes.Unavailable, "failed to record submission: %v", err)
	}
	inserted, err := res.RowsAffected()
	if err != nil {
		return nil, status.Errorf(codes.Unavailable, "failed to record submission: %v", err)
	}

	if inserted == 0 {
		return s.duplicate(ctx, companyID, req, hash)
	}

	s.journal(companyID, req, receivedAt)
	s.metrics.RecordSubmission(string(kind), syncapi.StatusAccepted)
	s.logger.Debug("submission accepted",
		zap.Int64("company_id", companyID),
		zap.String("local_id", string(req.LocalID)),
		zap.String("kind", string(kind)),
	)

	return syncapi.SubmitResponse{LocalID: req.LocalID, Status: syncapi.StatusAccepted, ReceivedAt: receivedAt}.Struct()
}

// duplicate acknowledges a redelivered local id without applying it again.
// First write wins: a redelivery with a different body is logged and
// acknowledged so the device stops retrying it.
func (s *GatewayService) duplicate(ctx context.Context, companyID int64, req syncapi.SubmitRequest, hash string) (*structpb.Struct, error) {
	var row submissionRow
	if err := s.queries.GetContext(ctx, "get-submission", &row, string(req.LocalID)); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, status.Errorf(codes.Aborted, "submission %s vanished after conflict", req.LocalID)
		}
		return nil, status.Errorf(codes.Unavailable, "failed to load submission: %v", err)
	}

	if row.CompanyID != companyID {
		s.metrics.RecordSubmission(string(req.Kind), "rejected")
		return nil, status.Errorf(codes.AlreadyExists, "local_id %s belongs to another company", req.LocalID)
	}
	if row.PayloadHash != hash || row.Kind != string(req.Kind) {
		s.logger.Warn("redelivered submission differs from first delivery",
			zap.String("local_id", string(req.LocalID)),
			zap.String("kind", string(req.Kind)),
		)
	}

	receivedAt, err := db.ParseTime(row.ReceivedAt)
	if err != nil {
		return nil, status.Errorf(codes.Internal, "corrupt received_at for %s: %v", req.LocalID, err)
	}

	s.metrics.RecordSubmission(string(req.Kind), syncapi.StatusDuplicate)
	return syncapi.SubmitResponse{LocalID: req.LocalID, Status: syncapi.StatusDuplicate, ReceivedAt: receivedAt}.Struct()
}

// journal appends the submission to the day's JSONL file.
// The filename is fixed by receivedAt so one request never spans two files.
func (s *GatewayService) journal(companyID int64, req syncapi.SubmitRequest, receivedAt time.Time) {
	filename := filepath.Join(journalDir(s.cfg.DataDir), receivedAt.Format("2006-01-02.jsonl"))
	mu := s.journalMutex(filename)
	mu.Lock()
	defer mu.Unlock()

	f, err := os.OpenFile(filename, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		s.logger.Warn("journal unavailable", zap.String("file", filename), zap.Error(err))
		return
	}
	defer f.Close()

	_ = json.NewEncoder(f).Encode(journalLine{
		LocalID:    req.LocalID,
		CompanyID:  companyID,
		Kind:       req.Kind,
		ReceivedAt: db.FormatTime(receivedAt),
		Payload:    req.Payload,
	})
}
