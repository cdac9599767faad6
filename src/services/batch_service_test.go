package services

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/username/transferbot/src/config"
	"github.com/username/transferbot/src/models"
)

// scriptedTransfers runs a scripted outcome per (sequence, attempt).
type scriptedTransfers struct {
	mu       sync.Mutex
	attempts map[int]int
	script   func(seq, attempt int) models.TransferOutcome
}

func newScriptedTransfers(script func(seq, attempt int) models.TransferOutcome) *scriptedTransfers {
	return &scriptedTransfers{attempts: make(map[int]int), script: script}
}

func (s *scriptedTransfers) Run(ctx context.Context, req models.TransferRequest) models.TransferOutcome {
	s.mu.Lock()
	s.attempts[req.Sequence]++
	attempt := s.attempts[req.Sequence]
	s.mu.Unlock()
	out := s.script(req.Sequence, attempt)
	out.Sequence = req.Sequence
	return out
}

func (s *scriptedTransfers) RunGridFilter(ctx context.Context, from, to time.Time, account string) error {
	return nil
}

func (s *scriptedTransfers) ScanAccounts(ctx context.Context) ([]models.AccountOption, error) {
	return nil, nil
}

func (s *scriptedTransfers) attemptCount(seq int) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.attempts[seq]
}

func batchRequests(t *testing.T, n int) []models.TransferRequest {
	t.Helper()
	var out []models.TransferRequest
	for i := 1; i <= n; i++ {
		out = append(out, request(t, i, "100200300", "10"))
	}
	return out
}

func success(origin string) models.TransferOutcome {
	return models.TransferOutcome{Succeeded: true, OriginAccount: origin}
}

func failure(kind string) models.TransferOutcome {
	return models.TransferOutcome{ErrorKind: kind, Detail: kind}
}

func TestBatchRetriesFailedItemsUntilDone(t *testing.T) {
	// item 2 fails twice, succeeds on the third pass
	transfers := newScriptedTransfers(func(seq, attempt int) models.TransferOutcome {
		if seq == 2 && attempt < 3 {
			return failure(models.KindChannelTimeout)
		}
		return success("2222")
	})
	emitter := &recordingEmitter{}
	batch := NewBatchService(transfers, emitter, nil, config.Settle{})

	state, err := batch.Run(context.Background(), "job-1", batchRequests(t, 3))
	require.NoError(t, err)

	assert.Equal(t, 3, state.Pass)
	assert.Len(t, state.Done, 3)
	assert.Empty(t, state.Failed)

	// done is terminal: items 1 and 3 ran exactly once
	assert.Equal(t, 1, transfers.attemptCount(1))
	assert.Equal(t, 3, transfers.attemptCount(2))
	assert.Equal(t, 1, transfers.attemptCount(3))

	assert.Contains(t, emitter.events, "TRANSFE_START:2")
	assert.Contains(t, emitter.events, "TRANSFE_FAILED:2")
	assert.Contains(t, emitter.events, "TRANSFE_DONE:2")
	assert.Contains(t, emitter.events, "PASS_DONE:3")

	// each pass summary names the sequences, not just counts
	require.Len(t, emitter.passes, 3)
	assert.Equal(t, []int{1, 3}, emitter.passes[0].done)
	assert.Equal(t, []int{2}, emitter.passes[0].failed)
	assert.Equal(t, []int{1, 2, 3}, emitter.passes[2].done)
	assert.Empty(t, emitter.passes[2].failed)
}

func TestPassSummaryFormatsSequenceSets(t *testing.T) {
	assert.Equal(t, "{1,3}", formatSeqSet([]int{1, 3}))
	assert.Equal(t, "{2}", formatSeqSet([]int{2}))
	assert.Equal(t, "{}", formatSeqSet(nil))
}

func TestBatchNeverDropsAnAlwaysFailingItem(t *testing.T) {
	// item 2 never succeeds; the loop must keep retrying until the caller
	// cancels, not give up on its own
	ctx, cancel := context.WithCancel(context.Background())
	transfers := newScriptedTransfers(func(seq, attempt int) models.TransferOutcome {
		if seq == 2 {
			if attempt >= 4 {
				cancel()
			}
			return failure(models.KindControlNotFound)
		}
		return success("1111")
	})
	batch := NewBatchService(transfers, &recordingEmitter{}, nil, config.Settle{})

	state, err := batch.Run(ctx, "job-2", batchRequests(t, 3))
	require.Error(t, err)
	assert.True(t, models.IsCancellation(err))

	assert.GreaterOrEqual(t, transfers.attemptCount(2), 4)
	assert.True(t, state.Done[1])
	assert.True(t, state.Done[3])
	_, stillFailed := state.Failed[2]
	assert.True(t, stillFailed)

	// a sequence is never done and failed at once
	for seq := range state.Done {
		_, both := state.Failed[seq]
		assert.False(t, both, "sequence %d in both sets", seq)
	}
}

func TestBatchItemFailureIsIsolated(t *testing.T) {
	// one bad item does not stop the pass; the rest still run
	transfers := newScriptedTransfers(func(seq, attempt int) models.TransferOutcome {
		if seq == 1 && attempt == 1 {
			return failure(models.KindSessionFault)
		}
		return success("3333")
	})
	batch := NewBatchService(transfers, &recordingEmitter{}, nil, config.Settle{})

	state, err := batch.Run(context.Background(), "job-3", batchRequests(t, 3))
	require.NoError(t, err)

	assert.Equal(t, 2, state.Pass)
	assert.Len(t, state.Done, 3)
	// items 2 and 3 ran on pass 1 even though item 1 failed first
	assert.Equal(t, 1, transfers.attemptCount(2))
	assert.Equal(t, 1, transfers.attemptCount(3))
}

func TestBatchCancelledOutcomeStopsTheRun(t *testing.T) {
	transfers := newScriptedTransfers(func(seq, attempt int) models.TransferOutcome {
		if seq == 2 {
			return failure(models.KindCancelled)
		}
		return success("1111")
	})
	batch := NewBatchService(transfers, &recordingEmitter{}, nil, config.Settle{})

	state, err := batch.Run(context.Background(), "job-4", batchRequests(t, 3))
	require.Error(t, err)
	assert.True(t, models.IsCancellation(err))

	// item 3 was never attempted
	assert.Equal(t, 0, transfers.attemptCount(3))
	assert.True(t, state.Done[1])
}

func TestBatchCancelBeforeAttemptLeavesItemsPending(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	transfers := newScriptedTransfers(func(int, int) models.TransferOutcome {
		return success("1111")
	})
	batch := NewBatchService(transfers, &recordingEmitter{}, nil, config.Settle{})

	state, err := batch.Run(ctx, "job-6", batchRequests(t, 2))
	require.Error(t, err)
	assert.True(t, models.IsCancellation(err))

	// never-attempted items are not marked failed
	assert.Equal(t, 0, transfers.attemptCount(1))
	assert.Empty(t, state.Failed)
	assert.Equal(t, models.ItemPending, state.Status[1])
	assert.Equal(t, models.ItemPending, state.Status[2])
}

func TestRetryPassesUseTheLongerItemDelay(t *testing.T) {
	b := &batchService{delays: config.Settle{
		BetweenItems:  5 * time.Second,
		BetweenPasses: 30 * time.Second,
	}}
	assert.Equal(t, 5*time.Second, b.itemDelay(1))
	assert.Equal(t, 30*time.Second, b.itemDelay(2))
	assert.Equal(t, 30*time.Second, b.itemDelay(7))
}

func TestBatchRejectsEmptyInput(t *testing.T) {
	batch := NewBatchService(newScriptedTransfers(func(int, int) models.TransferOutcome {
		return success("")
	}), &recordingEmitter{}, nil, config.Settle{})

	_, err := batch.Run(context.Background(), "job-5", nil)
	assert.Error(t, err)
}
