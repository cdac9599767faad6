// src/services/interfaces.go
package services

import (
	"context"
	"time"

	"github.com/username/transferbot/src/browser"
	"github.com/username/transferbot/src/models"
)

// BrowserDriver is what the workflow needs from a browser session. One
// driver instance is one session; every attempt gets a fresh one from a
// DriverFactory and closes it on the way out, success or not.
type BrowserDriver interface {
	Open(ctx context.Context) error
	Close() error
	Navigate(url string) error
	CurrentURL() (string, error)
	WaitURLContains(fragment string, timeout time.Duration) bool
	Sleep(d time.Duration) error
	Find(q browser.Query, timeout time.Duration) (browser.Handle, error)
	Describe(h browser.Handle) string
	Click(h browser.Handle) error
	SetValue(h browser.Handle, value string) error
	ClearValue(h browser.Handle) error
	Value(h browser.Handle) (string, error)
	ReadOptions(h browser.Handle) ([]models.AccountOption, error)
	ReadBalanceText(h browser.Handle) (string, error)
	FindOTPHeuristic() (browser.Handle, error)
	FindAmountHeuristic() (browser.Handle, error)
	ListDropdownOptions() ([]string, error)
	ChooseDropdownOption(preferred string) error
}

// DriverFactory builds a fresh browser session for one attempt.
type DriverFactory func(headless bool) BrowserDriver

// CodeMailbox is the mail channel the portal sends its codes through.
// Baseline marks the current high-water UID; Await calls only look above it.
type CodeMailbox interface {
	Baseline(ctx context.Context) (uint32, error)
	AwaitLoginCode(ctx context.Context, baseline uint32, timeout time.Duration) (models.ConfirmationCode, error)
	AwaitTransferCode(ctx context.Context, baseline uint32, timeout time.Duration) (models.ConfirmationCode, error)
}

// Emitter publishes the closed set of lifecycle events consumers may parse.
type Emitter interface {
	TransferStart(seq int)
	TransferDone(seq int, origin string)
	TransferFailed(seq int, kind, detail string)
	PassDone(pass int, done, failed []int)
	Debug(msg string, args ...any)
}

// TransferService runs portal workflows: a full transfer, the movements
// grid date filter, or a bare account scan.
type TransferService interface {
	Run(ctx context.Context, req models.TransferRequest) models.TransferOutcome
	RunGridFilter(ctx context.Context, from, to time.Time, account string) error
	ScanAccounts(ctx context.Context) ([]models.AccountOption, error)
}

// BatchService drives a set of requests to completion across retry passes.
type BatchService interface {
	Run(ctx context.Context, jobID string, requests []models.TransferRequest) (*models.BatchState, error)
}
