// src/services/job_service.go
package services

import (
	"context"
	"database/sql"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/patrickmn/go-cache"
	"github.com/username/transferbot/src/config"
	"github.com/username/transferbot/src/logger"
	"github.com/username/transferbot/src/model"
	"github.com/username/transferbot/src/models"
	"github.com/username/transferbot/src/parsers/batchcsv"
	"github.com/username/transferbot/src/utils"
)

// Finished jobs stay visible in the registry for a day.
const (
	DefaultCacheExpiration = 24 * time.Hour
	CacheCleanupInterval   = 1 * time.Hour
)

// LogTailBytes is how much of a run log the dashboard gets per request.
const LogTailBytes int64 = 20000

type JobType string

const (
	JobTransfer JobType = "transfer"
	JobBatch    JobType = "batch"
	JobGrid     JobType = "grid"
	JobScan     JobType = "scan"
)

type JobStatus string

const (
	JobStarted  JobStatus = "started"
	JobRunning  JobStatus = "running"
	JobFinished JobStatus = "finished"
	JobFailed   JobStatus = "failed"
	JobKilled   JobStatus = "killed"
)

// JobParams is the launch request for a background job.
type JobParams struct {
	Type        JobType `json:"type"`
	DateFrom    string  `json:"dateFrom,omitempty"`
	DateTo      string  `json:"dateTo,omitempty"`
	Account     string  `json:"account,omitempty"`
	Headless    *bool   `json:"headless,omitempty"`
	CSVPath     string  `json:"csvPath,omitempty"`
	Destination string  `json:"destination,omitempty"`
	Amount      string  `json:"amount,omitempty"`
}

// JobView is the externally visible state of a job.
type JobView struct {
	ID         string                 `json:"id"`
	Type       JobType                `json:"type"`
	Status     JobStatus              `json:"status"`
	StartedAt  time.Time              `json:"startedAt"`
	FinishedAt *time.Time             `json:"finishedAt,omitempty"`
	Error      string                 `json:"error,omitempty"`
	Accounts   []models.AccountOption `json:"accounts,omitempty"`
}

type job struct {
	mu         sync.Mutex
	id         string
	jobType    JobType
	status     JobStatus
	startedAt  time.Time
	finishedAt time.Time
	errText    string
	accounts   []models.AccountOption
	cancel     context.CancelFunc
}

func (j *job) view() JobView {
	j.mu.Lock()
	defer j.mu.Unlock()
	v := JobView{
		ID:        j.id,
		Type:      j.jobType,
		Status:    j.status,
		StartedAt: j.startedAt,
		Error:     j.errText,
		Accounts:  j.accounts,
	}
	if !j.finishedAt.IsZero() {
		t := j.finishedAt
		v.FinishedAt = &t
	}
	return v
}

func (j *job) setStatus(status JobStatus, errText string) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.status = status
	j.errText = errText
	if status == JobFinished || status == JobFailed || status == JobKilled {
		j.finishedAt = time.Now()
	}
}

// JobService launches workflows as background jobs and tracks them until
// they age out of the registry.
type JobService struct {
	mu        sync.Mutex
	registry  *cache.Cache
	active    map[string]*job
	cfg       *config.AppConfig
	db        *sql.DB
	mailbox   CodeMailbox
	newDriver DriverFactory
}

func NewJobService(cfg *config.AppConfig, db *sql.DB, mailbox CodeMailbox, factory DriverFactory) *JobService {
	return &JobService{
		registry:  cache.New(DefaultCacheExpiration, CacheCleanupInterval),
		active:    make(map[string]*job),
		cfg:       cfg,
		db:        db,
		mailbox:   mailbox,
		newDriver: factory,
	}
}

// Launch starts a job and returns its id immediately.
func (s *JobService) Launch(params JobParams) (string, error) {
	if !s.cfg.HasPortalCredentials() {
		return "", fmt.Errorf("portal credentials are not configured")
	}
	if params.Type != JobScan && !s.cfg.HasMailCredentials() {
		return "", fmt.Errorf("mailbox credentials are not configured")
	}

	id := uuid.New().String()
	runLogger, closer, err := logger.NewRunLogger(s.cfg.RunLogDir, id)
	if err != nil {
		return "", fmt.Errorf("creating run log: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	ctx = logger.ToContext(ctx, runLogger)

	jobCfg := *s.cfg
	if params.Headless != nil {
		jobCfg.Headless = *params.Headless
	}
	emitter := NewLogEmitter(runLogger)
	transfers := NewTransferService(s.newDriver, s.mailbox, &jobCfg, emitter)

	j := &job{
		id:        id,
		jobType:   params.Type,
		status:    JobStarted,
		startedAt: time.Now(),
		cancel:    cancel,
	}
	s.mu.Lock()
	s.registry.Set(id, j, cache.DefaultExpiration)
	s.active[id] = j
	s.mu.Unlock()

	logger.L.Info("Job launched", "jobID", id, "type", params.Type)
	go s.run(ctx, j, params, transfers, emitter, closer)
	return id, nil
}

func (s *JobService) run(ctx context.Context, j *job, params JobParams, transfers TransferService, emitter Emitter, closer io.Closer) {
	defer closer.Close()
	defer func() {
		s.mu.Lock()
		delete(s.active, j.id)
		s.mu.Unlock()
		j.cancel()
	}()

	j.setStatus(JobRunning, "")
	err := s.execute(ctx, j, params, transfers, emitter)

	switch {
	case err == nil:
		j.setStatus(JobFinished, "")
	case ctx.Err() != nil:
		j.setStatus(JobKilled, err.Error())
	default:
		j.setStatus(JobFailed, err.Error())
	}
	logger.L.Info("Job ended", "jobID", j.id, "status", j.view().Status)
}

func (s *JobService) execute(ctx context.Context, j *job, params JobParams, transfers TransferService, emitter Emitter) error {
	switch params.Type {
	case JobTransfer:
		req, err := s.singleRequest(params)
		if err != nil {
			return err
		}
		emitter.TransferStart(req.Sequence)
		outcome := transfers.Run(ctx, req)
		s.auditSingle(ctx, j.id, req, outcome)
		if !outcome.Succeeded {
			emitter.TransferFailed(req.Sequence, outcome.ErrorKind, outcome.Detail)
			return fmt.Errorf("%s: %s", outcome.ErrorKind, outcome.Detail)
		}
		emitter.TransferDone(req.Sequence, outcome.OriginAccount)
		return nil

	case JobBatch:
		f, err := os.Open(params.CSVPath)
		if err != nil {
			return fmt.Errorf("opening batch file: %w", err)
		}
		defer f.Close()
		requests, err := batchcsv.NewParser().Parse(f)
		if err != nil {
			return err
		}
		batch := NewBatchService(transfers, emitter, s.db, s.cfg.Delays)
		_, err = batch.Run(ctx, j.id, requests)
		return err

	case JobGrid:
		from, err := time.Parse("2006-01-02", params.DateFrom)
		if err != nil {
			return fmt.Errorf("invalid dateFrom %q: %w", params.DateFrom, err)
		}
		to, err := time.Parse("2006-01-02", params.DateTo)
		if err != nil {
			return fmt.Errorf("invalid dateTo %q: %w", params.DateTo, err)
		}
		return transfers.RunGridFilter(ctx, from, to, params.Account)

	case JobScan:
		accounts, err := transfers.ScanAccounts(ctx)
		if err != nil {
			return err
		}
		j.mu.Lock()
		j.accounts = accounts
		j.mu.Unlock()
		return nil

	default:
		return fmt.Errorf("unknown job type %q", params.Type)
	}
}

func (s *JobService) singleRequest(params JobParams) (models.TransferRequest, error) {
	destination := params.Destination
	if destination == "" {
		destination = s.cfg.DefaultDestination
	}
	amountText := params.Amount
	if amountText == "" {
		amountText = s.cfg.DefaultAmount
	}
	if destination == "" || amountText == "" {
		return models.TransferRequest{}, fmt.Errorf("transfer needs a destination and an amount")
	}
	amount, err := utils.ParseLocaleDecimal(amountText)
	if err != nil {
		return models.TransferRequest{}, err
	}
	if !amount.IsPositive() {
		return models.TransferRequest{}, fmt.Errorf("amount must be positive, got %q", amountText)
	}
	return models.TransferRequest{
		Sequence:    1,
		Destination: destination,
		Amount:      amount,
		AmountText:  amountText,
	}, nil
}

func (s *JobService) auditSingle(ctx context.Context, jobID string, req models.TransferRequest, outcome models.TransferOutcome) {
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
		Pass:          1,
	}
	if err := rec.Create(s.db); err != nil {
		logger.FromContext(ctx).Error("Failed to write transfer audit record", "jobID", jobID, "error", err)
	}
}

// Get returns a job's current state.
func (s *JobService) Get(id string) (JobView, bool) {
	if v, ok := s.registry.Get(id); ok {
		return v.(*job).view(), true
	}
	return JobView{}, false
}

// Accounts returns the result of a finished scan job.
func (s *JobService) Accounts(id string) ([]models.AccountOption, bool) {
	v, ok := s.registry.Get(id)
	if !ok {
		return nil, false
	}
	view := v.(*job).view()
	return view.Accounts, view.Status == JobFinished
}

// List returns all jobs still in the registry, newest first.
func (s *JobService) List() []JobView {
	items := s.registry.Items()
	out := make([]JobView, 0, len(items))
	for _, item := range items {
		out = append(out, item.Object.(*job).view())
	}
	for i := 1; i < len(out); i++ {
		for k := i; k > 0 && out[k-1].StartedAt.Before(out[k].StartedAt); k-- {
			out[k-1], out[k] = out[k], out[k-1]
		}
	}
	return out
}

// StopAll cancels every active job and reports how many were signalled.
func (s *JobService) StopAll() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, j := range s.active {
		j.cancel()
	}
	n := len(s.active)
	logger.L.Info("Stop-all requested", "activeJobs", n)
	return n
}

// LogsTail returns up to LogTailBytes from the end of a job's run log.
func (s *JobService) LogsTail(id string) (string, error) {
	path := logger.RunLogPath(s.cfg.RunLogDir, id)
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return "", err
	}
	if info.Size() > LogTailBytes {
		if _, err := f.Seek(info.Size()-LogTailBytes, io.SeekStart); err != nil {
			return "", err
		}
	}
	b, err := io.ReadAll(f)
	if err != nil {
		return "", err
	}
	return string(b), nil
}
