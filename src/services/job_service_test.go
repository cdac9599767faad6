package services

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/username/transferbot/src/models"
)

func waitForTerminal(t *testing.T, jobs *JobService, id string) JobView {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for {
		view, ok := jobs.Get(id)
		require.True(t, ok)
		switch view.Status {
		case JobFinished, JobFailed, JobKilled:
			return view
		}
		require.True(t, time.Now().Before(deadline), "job %s never finished, status %s", id, view.Status)
		time.Sleep(10 * time.Millisecond)
	}
}

func TestJobServiceScanLifecycle(t *testing.T) {
	cfg := testConfig()
	cfg.RunLogDir = t.TempDir()
	cfg.MailUser = "bot@example.com"
	cfg.MailPassword = "app-password"

	d := newFakeDriver([]models.AccountOption{
		{Value: "1111", Text: "1111 - Caja de Ahorro ($ 50,00)"},
	})
	mb := &fakeMailbox{loginCode: "482913", transferCode: "660214"}
	jobs := NewJobService(cfg, nil, mb, func(bool) BrowserDriver { return d })

	id, err := jobs.Launch(JobParams{Type: JobScan})
	require.NoError(t, err)

	view := waitForTerminal(t, jobs, id)
	assert.Equal(t, JobFinished, view.Status)

	accounts, ready := jobs.Accounts(id)
	assert.True(t, ready)
	require.Len(t, accounts, 1)
	assert.Equal(t, "1111", accounts[0].Value)

	list := jobs.List()
	require.Len(t, list, 1)
	assert.Equal(t, id, list[0].ID)
}

func TestJobServiceRejectsLaunchWithoutCredentials(t *testing.T) {
	cfg := testConfig()
	cfg.RunLogDir = t.TempDir()
	cfg.PortalUser = ""

	jobs := NewJobService(cfg, nil, &fakeMailbox{}, func(bool) BrowserDriver {
		return newFakeDriver(nil)
	})

	_, err := jobs.Launch(JobParams{Type: JobTransfer})
	assert.Error(t, err)
}

func TestJobServiceFailedJobKeepsError(t *testing.T) {
	cfg := testConfig()
	cfg.RunLogDir = t.TempDir()
	cfg.MailUser = "bot@example.com"
	cfg.MailPassword = "app-password"

	jobs := NewJobService(cfg, nil, &fakeMailbox{}, func(bool) BrowserDriver {
		return newFakeDriver(nil)
	})

	// transfer without destination or amount fails fast
	id, err := jobs.Launch(JobParams{Type: JobTransfer})
	require.NoError(t, err)

	view := waitForTerminal(t, jobs, id)
	assert.Equal(t, JobFailed, view.Status)
	assert.NotEmpty(t, view.Error)
}
