// src/models/transfer.go
package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// TransferRequest is one row of a batch: send Amount to Destination.
// Sequence is 1-based and stable across retry passes.
type TransferRequest struct {
	Sequence    int             `json:"sequence"`
	Destination string          `json:"destination"`
	Amount      decimal.Decimal `json:"amount"`
	// AmountText is the amount exactly as provided, pasted verbatim into the
	// portal's amount field so its own parsing rules apply.
	AmountText string            `json:"amountText"`
	Extra      map[string]string `json:"extra,omitempty"`
}

// TransferOutcome is the reduction of one workflow attempt.
type TransferOutcome struct {
	Sequence      int           `json:"sequence"`
	Succeeded     bool          `json:"succeeded"`
	OriginAccount string        `json:"originAccount,omitempty"`
	ErrorKind     string        `json:"errorKind,omitempty"`
	Detail        string        `json:"detail,omitempty"`
	Elapsed       time.Duration `json:"elapsed"`
}

// OriginAccountCandidate is one option of the portal's origin-account
// selector, with its balance already parsed.
type OriginAccountCandidate struct {
	Value   string          `json:"value"`
	Label   string          `json:"label"`
	Balance decimal.Decimal `json:"balance"`
}

// AccountOption is a raw selector option as shown to the dashboard.
type AccountOption struct {
	Value string `json:"value"`
	Text  string `json:"text"`
}

// ConfirmationCode is a code lifted from a mailbox message together with the
// message's header time, which the transfer stage checks for freshness.
type ConfirmationCode struct {
	Code        string    `json:"code"`
	MessageTime time.Time `json:"messageTime"`
}

// ItemStatus tracks one request across orchestrator passes.
type ItemStatus string

const (
	ItemPending ItemStatus = "pending"
	ItemDone    ItemStatus = "done"
	ItemFailed  ItemStatus = "failed"
)

// BatchState is the orchestrator's bookkeeping for one run. Done is
// terminal: a sequence number never moves out of Done, and no sequence is
// ever in Done and Failed at once.
type BatchState struct {
	Pass    int                `json:"pass"`
	Done    map[int]bool       `json:"done"`
	Failed  map[int]ItemError  `json:"failed"`
	Started time.Time          `json:"started"`
	Origin  map[int]string     `json:"origin"`
	Status  map[int]ItemStatus `json:"status"`
}

// ItemError records why a sequence failed on its most recent attempt.
type ItemError struct {
	Kind   string `json:"kind"`
	Detail string `json:"detail"`
	Pass   int    `json:"pass"`
}

// NewBatchState initializes bookkeeping for a set of requests.
func NewBatchState(requests []TransferRequest) *BatchState {
	s := &BatchState{
		Pass:    0,
		Done:    make(map[int]bool),
		Failed:  make(map[int]ItemError),
		Origin:  make(map[int]string),
		Status:  make(map[int]ItemStatus),
		Started: time.Now(),
	}
	for _, r := range requests {
		s.Status[r.Sequence] = ItemPending
	}
	return s
}

// MarkDone moves a sequence to the terminal Done set.
func (s *BatchState) MarkDone(seq int, origin string) {
	s.Done[seq] = true
	delete(s.Failed, seq)
	s.Status[seq] = ItemDone
	if origin != "" {
		s.Origin[seq] = origin
	}
}

// MarkFailed records a failure unless the sequence already completed.
func (s *BatchState) MarkFailed(seq int, kind, detail string) {
	if s.Done[seq] {
		return
	}
	s.Failed[seq] = ItemError{Kind: kind, Detail: detail, Pass: s.Pass}
	s.Status[seq] = ItemFailed
}

// FailedSequences returns the failed set in ascending sequence order.
func (s *BatchState) FailedSequences() []int {
	out := make([]int, 0, len(s.Failed))
	for seq := range s.Failed {
		out = append(out, seq)
	}
	return sortSeqs(out)
}

// DoneSequences returns the done set in ascending sequence order.
func (s *BatchState) DoneSequences() []int {
	out := make([]int, 0, len(s.Done))
	for seq := range s.Done {
		out = append(out, seq)
	}
	return sortSeqs(out)
}

func sortSeqs(out []int) []int {
	for i := 1; i < len(out); i++ {
		for j := i; j > 0 && out[j-1] > out[j]; j-- {
			out[j-1], out[j] = out[j], out[j-1]
		}
	}
	return out
}
