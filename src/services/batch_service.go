// src/services/batch_service.go
package services

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/username/transferbot/src/config"
	"github.com/username/transferbot/src/logger"
	"github.com/username/transferbot/src/model"
	"github.com/username/transferbot/src/models"
)

// batchService runs a set of requests to completion: one ordered pass over
// everything, then retry passes over whatever is still failed. There is no
// pass cap; the run ends when the failed set drains or the context is
// cancelled. A single bad item can never take the run down with it.
type batchService struct {
	transfers TransferService
	emit      Emitter
	db        *sql.DB
	delays    config.Settle
}

func NewBatchService(transfers TransferService, emit Emitter, db *sql.DB, delays config.Settle) BatchService {
	return &batchService{
		transfers: transfers,
		emit:      emit,
		db:        db,
		delays:    delays,
	}
}

func (s *batchService) Run(ctx context.Context, jobID string, requests []models.TransferRequest) (*models.BatchState, error) {
	if len(requests) == 0 {
		return nil, fmt.Errorf("batch: no requests to run")
	}

	log := logger.FromContext(ctx)
	state := models.NewBatchState(requests)
	bySeq := make(map[int]models.TransferRequest, len(requests))
	var order []int
	for _, r := range requests {
		bySeq[r.Sequence] = r
		order = append(order, r.Sequence)
	}

	log.Info("Batch run starting", "jobID", jobID, "items", len(requests))

	for {
		state.Pass++
		targets := order
		if state.Pass > 1 {
			targets = state.FailedSequences()
		}
		log.Info("Pass starting", "pass", state.Pass, "targets", len(targets))

		for i, seq := range targets {
			// An item that was never attempted keeps its prior status.
			if err := ctx.Err(); err != nil {
				return state, fmt.Errorf("%w: %v", models.ErrCancelled, err)
			}

			req := bySeq[seq]
			s.emit.TransferStart(seq)
			outcome := s.transfers.Run(ctx, req)

			if outcome.Succeeded {
				state.MarkDone(seq, outcome.OriginAccount)
				s.emit.TransferDone(seq, outcome.OriginAccount)
			} else {
				state.MarkFailed(seq, outcome.ErrorKind, outcome.Detail)
				s.emit.TransferFailed(seq, outcome.ErrorKind, outcome.Detail)
			}
			s.audit(ctx, jobID, req, outcome, state.Pass)

			if !outcome.Succeeded && outcome.ErrorKind == models.KindCancelled {
				return state, models.ErrCancelled
			}

			if i < len(targets)-1 {
				if err := sleepCtx(ctx, s.itemDelay(state.Pass)); err != nil {
					return state, fmt.Errorf("%w: %v", models.ErrCancelled, err)
				}
			}
		}

		s.emit.PassDone(state.Pass, state.DoneSequences(), state.FailedSequences())
		if len(state.Failed) == 0 {
			log.Info("Batch run complete", "jobID", jobID, "passes", state.Pass, "done", len(state.Done))
			return state, nil
		}

		log.Info("Retrying failed items after delay", "failed", len(state.Failed), "delay", s.delays.BetweenPasses)
		if err := sleepCtx(ctx, s.delays.BetweenPasses); err != nil {
			return state, fmt.Errorf("%w: %v", models.ErrCancelled, err)
		}
	}
}

// audit persists the attempt to the transfers ledger. Audit trouble is
// logged, never allowed to fail the run.
func (s *batchService) audit(ctx context.Context, jobID string, req models.TransferRequest, outcome models.TransferOutcome, pass int) {
	if s.db == nil {
		return
	}
	status := string(models.ItemDone)
	if !outcome.Succeeded {
		status = string(models.ItemFailed)
	}
	rec := &model.TransferRecord{
		JobID:         jobID,
		Sequence:      req.Sequence,
		Destination:   req.Destination,
		Amount:        req.AmountText,
		OriginAccount: outcome.OriginAccount,
		Status:        status,
		ErrorKind:     outcome.ErrorKind,
		Detail:        outcome.Detail,
		Pass:          pass,
	}
	if err := rec.Create(s.db); err != nil {
		logger.FromContext(ctx).Error("Failed to write transfer audit record", "sequence", req.Sequence, "error", err)
	}
}

// itemDelay is the wait between items within a pass. Retry passes space
// items out with the longer delay.
func (s *batchService) itemDelay(pass int) time.Duration {
	if pass > 1 {
		return s.delays.BetweenPasses
	}
	return s.delays.BetweenItems
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(d):
		return nil
	}
}
