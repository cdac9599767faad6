package services

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/username/transferbot/src/browser"
	"github.com/username/transferbot/src/config"
	"github.com/username/transferbot/src/models"
	"github.com/username/transferbot/src/utils"
)

func testConfig() *config.AppConfig {
	return &config.AppConfig{
		PortalBaseURL:    "https://portal.test",
		LoginURL:         "https://portal.test/app_Login",
		TransferFormURL:  "https://portal.test/form_transferencias/",
		MovementsGridURL: "https://portal.test/grid_movimientos_cuenta_usuario/",
		PortalUser:       "operator",
		PortalPassword:   "secret",

		ElementWaitTimeout:  10 * time.Millisecond,
		VerifyDetectTimeout: 10 * time.Millisecond,
		LoginCodeTimeout:    time.Second,
		TransferCodeTimeout: time.Second,
		TokenPasteTimeout:   100 * time.Millisecond,
		MailPollInterval:    time.Millisecond,

		Selectors: config.Selectors{
			LoginField:       "id_sc_field_login",
			PasswordField:    "id_sc_field_pswd",
			LoginButton:      `input.button[onclick*="nm_atualiza"]`,
			OTPFieldID:       "id_sc_field_code",
			OTPFieldName:     "code",
			AcceptButton:     "sc_submit_ajax_bot",
			ConfirmButton:    "sub_form_b",
			DestinationField: "id_sc_field_cuenta",
			NextButton:       "sc_b_stepavc_b",
			ConceptCombo:     "span.concept-combo",
			TokenField:       "id_sc_field_token_cliente",
			FinalConfirm:     "sc_confirmar_bot",
			AccountsSelect:   "select#account",
		},
	}
}

type setCall struct {
	query string
	value string
}

// fakeDriver resolves every lookup immediately and records what the
// workflow did to the page.
type fakeDriver struct {
	failQueries map[string]bool
	options     []models.AccountOption

	nextHandle int
	byHandle   map[browser.Handle]browser.Query
	values     map[browser.Handle]string

	opens    int
	closes   int
	setCalls []setCall
	clicks   []string
}

func newFakeDriver(options []models.AccountOption) *fakeDriver {
	return &fakeDriver{
		failQueries: make(map[string]bool),
		options:     options,
		byHandle:    make(map[browser.Handle]browser.Query),
		values:      make(map[browser.Handle]string),
	}
}

func (d *fakeDriver) Open(ctx context.Context) error { d.opens++; return nil }
func (d *fakeDriver) Close() error                   { d.closes++; return nil }
func (d *fakeDriver) Navigate(url string) error      { return nil }
func (d *fakeDriver) CurrentURL() (string, error)    { return "https://portal.test/home", nil }
func (d *fakeDriver) WaitURLContains(fragment string, timeout time.Duration) bool { return true }
func (d *fakeDriver) Sleep(t time.Duration) error    { return nil }

func (d *fakeDriver) Find(q browser.Query, timeout time.Duration) (browser.Handle, error) {
	if d.failQueries[q.String()] {
		return browser.NoHandle, fmt.Errorf("%w: %s", models.ErrControlNotFound, q)
	}
	d.nextHandle++
	h := browser.Handle(d.nextHandle)
	d.byHandle[h] = q
	return h, nil
}

func (d *fakeDriver) Describe(h browser.Handle) string { return d.byHandle[h].String() }

func (d *fakeDriver) Click(h browser.Handle) error {
	d.clicks = append(d.clicks, d.byHandle[h].Value)
	return nil
}

func (d *fakeDriver) SetValue(h browser.Handle, value string) error {
	d.values[h] = value
	d.setCalls = append(d.setCalls, setCall{query: d.byHandle[h].Value, value: value})
	return nil
}

func (d *fakeDriver) ClearValue(h browser.Handle) error { d.values[h] = ""; return nil }

func (d *fakeDriver) Value(h browser.Handle) (string, error) { return d.values[h], nil }

func (d *fakeDriver) ReadOptions(h browser.Handle) ([]models.AccountOption, error) {
	return d.options, nil
}

// ReadBalanceText reports the label of whichever option is selected, the
// way the portal shows the chosen account's balance.
func (d *fakeDriver) ReadBalanceText(h browser.Handle) (string, error) {
	for _, opt := range d.options {
		if opt.Value == d.values[h] {
			return opt.Text, nil
		}
	}
	return "", nil
}

func (d *fakeDriver) FindOTPHeuristic() (browser.Handle, error) {
	return browser.NoHandle, fmt.Errorf("%w: no OTP-like input", models.ErrControlNotFound)
}

func (d *fakeDriver) FindAmountHeuristic() (browser.Handle, error) {
	return browser.NoHandle, fmt.Errorf("%w: no amount-like input", models.ErrControlNotFound)
}

func (d *fakeDriver) ListDropdownOptions() ([]string, error) { return []string{"Varios"}, nil }
func (d *fakeDriver) ChooseDropdownOption(preferred string) error { return nil }

func (d *fakeDriver) valuesSetOn(query string) []string {
	var out []string
	for _, c := range d.setCalls {
		if c.query == query {
			out = append(out, c.value)
		}
	}
	return out
}

// fakeMailbox hands out fixed codes.
type fakeMailbox struct {
	loginCode     string
	transferCode  string
	baselineCalls int
}

func (m *fakeMailbox) Baseline(ctx context.Context) (uint32, error) {
	m.baselineCalls++
	return 40, nil
}

func (m *fakeMailbox) AwaitLoginCode(ctx context.Context, baseline uint32, timeout time.Duration) (models.ConfirmationCode, error) {
	return models.ConfirmationCode{Code: m.loginCode, MessageTime: time.Now()}, nil
}

func (m *fakeMailbox) AwaitTransferCode(ctx context.Context, baseline uint32, timeout time.Duration) (models.ConfirmationCode, error) {
	return models.ConfirmationCode{Code: m.transferCode, MessageTime: time.Now()}, nil
}

func discardEmitter() Emitter {
	return &recordingEmitter{}
}

type passSummary struct {
	pass   int
	done   []int
	failed []int
}

type recordingEmitter struct {
	events []string
	passes []passSummary
}

func (e *recordingEmitter) TransferStart(seq int) {
	e.events = append(e.events, fmt.Sprintf("TRANSFE_START:%d", seq))
}
func (e *recordingEmitter) TransferDone(seq int, origin string) {
	e.events = append(e.events, fmt.Sprintf("TRANSFE_DONE:%d", seq))
}
func (e *recordingEmitter) TransferFailed(seq int, kind, detail string) {
	e.events = append(e.events, fmt.Sprintf("TRANSFE_FAILED:%d", seq))
}
func (e *recordingEmitter) PassDone(pass int, done, failed []int) {
	e.events = append(e.events, fmt.Sprintf("PASS_DONE:%d", pass))
	e.passes = append(e.passes, passSummary{pass: pass, done: done, failed: failed})
}
func (e *recordingEmitter) Debug(msg string, args ...any) {}

func request(t *testing.T, seq int, destination, amountText string) models.TransferRequest {
	t.Helper()
	amount, err := utils.ParseLocaleDecimal(amountText)
	require.NoError(t, err)
	return models.TransferRequest{
		Sequence:    seq,
		Destination: destination,
		Amount:      amount,
		AmountText:  amountText,
	}
}

func TestRunPicksFirstAccountWithSufficientBalance(t *testing.T) {
	options := []models.AccountOption{
		{Value: "1111", Text: "1111 - Caja de Ahorro ($ 50,00)"},
		{Value: "2222", Text: "2222 - Cuenta Corriente ($ 200,00)"},
		{Value: "3333", Text: "3333 - Caja de Ahorro ($ 150,00)"},
	}
	d := newFakeDriver(options)
	// skip the optional validate control
	d.failQueries[browser.ByText("validar").String()] = true
	mb := &fakeMailbox{loginCode: "482913", transferCode: "660214"}

	svc := NewTransferService(func(bool) BrowserDriver { return d }, mb, testConfig(), discardEmitter())
	outcome := svc.Run(context.Background(), request(t, 1, "1009876543", "120"))

	require.True(t, outcome.Succeeded, "detail: %s", outcome.Detail)
	assert.Equal(t, "2222", outcome.OriginAccount)
	assert.Empty(t, outcome.ErrorKind)

	// candidates were tried in display order and the walk stopped at the
	// first sufficient balance, leaving it selected
	assert.Equal(t, []string{"1111", "2222"}, d.valuesSetOn("select#account"))
	// destination and codes reached the page
	assert.Contains(t, d.valuesSetOn("id_sc_field_cuenta"), "1009876543")
	assert.Contains(t, d.valuesSetOn("id_sc_field_code"), "482913")
	assert.Contains(t, d.valuesSetOn("id_sc_field_token_cliente"), "660214")

	// one session per attempt, opened and closed
	assert.Equal(t, 1, d.opens)
	assert.Equal(t, 1, d.closes)
	// one baseline for the login code, one before the transfer code
	assert.Equal(t, 2, mb.baselineCalls)
}

func TestRunInsufficientFundsLeavesDestinationUntouched(t *testing.T) {
	options := []models.AccountOption{
		{Value: "1111", Text: "1111 - Caja de Ahorro ($ 50,00)"},
		{Value: "2222", Text: "2222 - Caja de Ahorro ($ 80,00)"},
	}
	d := newFakeDriver(options)
	d.failQueries[browser.ByText("validar").String()] = true
	mb := &fakeMailbox{loginCode: "482913", transferCode: "660214"}

	svc := NewTransferService(func(bool) BrowserDriver { return d }, mb, testConfig(), discardEmitter())
	outcome := svc.Run(context.Background(), request(t, 1, "1009876543", "120"))

	require.False(t, outcome.Succeeded)
	assert.Equal(t, models.KindInsufficientFunds, outcome.ErrorKind)
	assert.Empty(t, outcome.OriginAccount)

	// every candidate was inspected, but the destination was never typed
	assert.Equal(t, []string{"1111", "2222"}, d.valuesSetOn("select#account"))
	assert.Empty(t, d.valuesSetOn("id_sc_field_cuenta"))

	// the session still gets torn down
	assert.Equal(t, 1, d.opens)
	assert.Equal(t, 1, d.closes)
}

func TestRunMissingOTPInputIsControlNotFound(t *testing.T) {
	d := newFakeDriver(nil)
	d.failQueries[browser.ByID("id_sc_field_code").String()] = true
	d.failQueries[browser.ByName("code").String()] = true
	mb := &fakeMailbox{loginCode: "482913", transferCode: "660214"}

	cfg := testConfig()
	svc := NewTransferService(func(bool) BrowserDriver { return d }, mb, cfg, discardEmitter())
	outcome := svc.Run(context.Background(), request(t, 7, "1009876543", "10"))

	require.False(t, outcome.Succeeded)
	assert.Equal(t, models.KindControlNotFound, outcome.ErrorKind)
	assert.Equal(t, 1, d.opens)
	assert.Equal(t, 1, d.closes)
}

func TestBalanceFromLabel(t *testing.T) {
	tests := []struct {
		label string
		want  string
		ok    bool
	}{
		{"1002003004 - Cuenta Corriente ($ 1.234,56)", "1234.56", true},
		{"2222 - Caja de Ahorro ($ 200,00)", "200", true},
		{"Cuenta sin saldo", "", false},
		{"9999 saldo: -1.000,50", "-1000.5", true},
	}
	for _, tt := range tests {
		got, ok := balanceFromLabel(tt.label)
		assert.Equal(t, tt.ok, ok, tt.label)
		if tt.ok {
			assert.Equal(t, tt.want, got.String(), tt.label)
		}
	}
}
