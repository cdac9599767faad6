// src/services/transfer_service.go
package services

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/username/transferbot/src/browser"
	"github.com/username/transferbot/src/config"
	"github.com/username/transferbot/src/logger"
	"github.com/username/transferbot/src/models"
	"github.com/username/transferbot/src/utils"
)

// transferService runs the portal workflows. Every attempt opens its own
// browser session and always closes it, so a failed attempt leaves nothing
// behind for the next one to trip over.
type transferService struct {
	newDriver DriverFactory
	mailbox   CodeMailbox
	cfg       *config.AppConfig
	emit      Emitter
}

func NewTransferService(factory DriverFactory, mailbox CodeMailbox, cfg *config.AppConfig, emit Emitter) TransferService {
	return &transferService{
		newDriver: factory,
		mailbox:   mailbox,
		cfg:       cfg,
		emit:      emit,
	}
}

// Run performs one full transfer attempt and reduces it to an outcome.
func (s *transferService) Run(ctx context.Context, req models.TransferRequest) models.TransferOutcome {
	start := time.Now()
	origin, err := s.attempt(ctx, req)
	outcome := models.TransferOutcome{
		Sequence:      req.Sequence,
		OriginAccount: origin,
		Elapsed:       time.Since(start),
	}
	if err != nil {
		outcome.ErrorKind = models.ErrorKind(err)
		outcome.Detail = err.Error()
		return outcome
	}
	outcome.Succeeded = true
	return outcome
}

func (s *transferService) attempt(ctx context.Context, req models.TransferRequest) (string, error) {
	d := s.newDriver(s.cfg.Headless)
	if err := d.Open(ctx); err != nil {
		return "", err
	}
	defer d.Close()

	if err := s.authenticate(ctx, d); err != nil {
		return "", err
	}

	if err := d.Navigate(s.cfg.TransferFormURL); err != nil {
		return "", err
	}
	if err := d.Sleep(s.cfg.Delays.AfterStep); err != nil {
		return "", err
	}

	origin, err := s.selectOrigin(ctx, d, req.Amount)
	if err != nil {
		return "", err
	}

	if err := s.fillDestinationAndAmount(ctx, d, req); err != nil {
		return origin, err
	}

	// The transfer-code mail is triggered by the concept step's Next click,
	// so the baseline has to be taken before it.
	baseline, err := s.mailbox.Baseline(ctx)
	if err != nil {
		return origin, err
	}

	if err := s.chooseConcept(ctx, d); err != nil {
		return origin, err
	}

	code, err := s.mailbox.AwaitTransferCode(ctx, baseline, s.cfg.TransferCodeTimeout)
	if err != nil {
		return origin, err
	}

	if err := s.submitConfirmation(ctx, d, code.Code); err != nil {
		return origin, err
	}

	logger.FromContext(ctx).Info("Transfer attempt completed", "sequence", req.Sequence, "origin", origin)
	return origin, nil
}

// authenticate walks login, OTP and the double accept. Shared by the full
// transfer, the grid filter and (best effort) the account scan.
func (s *transferService) authenticate(ctx context.Context, d BrowserDriver) error {
	log := logger.FromContext(ctx)
	sel := s.cfg.Selectors

	if err := d.Navigate(s.cfg.LoginURL); err != nil {
		return err
	}

	userField, err := d.Find(browser.ByID(sel.LoginField), s.cfg.ElementWaitTimeout)
	if err != nil {
		return err
	}
	if err := d.SetValue(userField, s.cfg.PortalUser); err != nil {
		return err
	}
	passField, err := d.Find(browser.ByID(sel.PasswordField), s.cfg.ElementWaitTimeout)
	if err != nil {
		return err
	}
	if err := d.SetValue(passField, s.cfg.PortalPassword); err != nil {
		return err
	}

	if err := s.clickTiered(ctx, d, "login", []browser.Query{
		browser.ByCSS(sel.LoginButton),
		browser.ByText("ingresar"),
		browser.ByText("entrar"),
	}); err != nil {
		return err
	}
	if err := d.Sleep(s.cfg.Delays.AfterLogin); err != nil {
		return err
	}

	if d.WaitURLContains("app_control_2fa", s.cfg.VerifyDetectTimeout) {
		log.Debug("Verification page detected by URL")
	} else {
		log.Debug("No URL change to verification page, continuing by control presence")
	}

	otpField, err := s.findOTPInput(ctx, d)
	if err != nil {
		return err
	}

	baseline, err := s.mailbox.Baseline(ctx)
	if err != nil {
		return err
	}
	code, err := s.mailbox.AwaitLoginCode(ctx, baseline, s.cfg.LoginCodeTimeout)
	if err != nil {
		return err
	}

	if err := s.pasteOTP(ctx, d, otpField, code.Code); err != nil {
		return err
	}
	if err := d.Sleep(s.cfg.Delays.AfterOTP); err != nil {
		return err
	}

	// Some portal builds show an extra validate control before Accept.
	if h, err := d.Find(browser.ByText("validar"), 2*time.Second); err == nil {
		if err := d.Click(h); err == nil {
			log.Debug("Clicked optional validate control")
		}
	}

	if err := s.clickTiered(ctx, d, "accept", []browser.Query{
		browser.ByID(sel.AcceptButton),
		browser.ByCSS("#" + sel.AcceptButton),
		browser.ByText("aceptar"),
	}); err != nil {
		return err
	}
	if err := d.Sleep(s.cfg.Delays.AfterStep); err != nil {
		return err
	}

	if err := s.clickTiered(ctx, d, "confirm", []browser.Query{
		browser.ByID(sel.ConfirmButton),
		browser.ByCSS("#" + sel.ConfirmButton),
		browser.ByText("confirmar"),
	}); err != nil {
		return err
	}
	return d.Sleep(s.cfg.Delays.AfterStep)
}

// findOTPInput resolves the OTP field: known id, then known name, then the
// scored scan over every reachable input.
func (s *transferService) findOTPInput(ctx context.Context, d BrowserDriver) (browser.Handle, error) {
	log := logger.FromContext(ctx)
	sel := s.cfg.Selectors

	if h, err := d.Find(browser.ByID(sel.OTPFieldID), 3*time.Second); err == nil {
		return h, nil
	} else if !errors.Is(err, models.ErrControlNotFound) {
		return browser.NoHandle, err
	}
	if h, err := d.Find(browser.ByName(sel.OTPFieldName), 2*time.Second); err == nil {
		return h, nil
	} else if !errors.Is(err, models.ErrControlNotFound) {
		return browser.NoHandle, err
	}

	log.Debug("OTP field not found by id or name, running heuristic scan")
	deadline := time.Now().Add(s.cfg.ElementWaitTimeout)
	for {
		h, err := d.FindOTPHeuristic()
		if err == nil {
			log.Debug("OTP field found by heuristic", "element", d.Describe(h))
			return h, nil
		}
		if !errors.Is(err, models.ErrControlNotFound) {
			return browser.NoHandle, err
		}
		if time.Now().After(deadline) {
			return browser.NoHandle, fmt.Errorf("%w: OTP input", models.ErrControlNotFound)
		}
		if err := d.Sleep(time.Second); err != nil {
			return browser.NoHandle, err
		}
	}
}

// pasteOTP writes the code and verifies it stuck; on a mismatch the field is
// re-located once and the write retried.
func (s *transferService) pasteOTP(ctx context.Context, d BrowserDriver, h browser.Handle, code string) error {
	writeAndCheck := func(h browser.Handle) bool {
		if err := d.SetValue(h, code); err != nil {
			return false
		}
		v, err := d.Value(h)
		return err == nil && v == code
	}

	if writeAndCheck(h) {
		return nil
	}
	logger.FromContext(ctx).Debug("OTP paste did not stick, re-locating field")
	h, err := s.findOTPInput(ctx, d)
	if err != nil {
		return err
	}
	if !writeAndCheck(h) {
		return fmt.Errorf("%w: OTP input rejected the code", models.ErrControlNotFound)
	}
	return nil
}

// clickTiered tries each locator in order and clicks the first that
// resolves. Later tiers get a shorter wait than the first.
func (s *transferService) clickTiered(ctx context.Context, d BrowserDriver, label string, tiers []browser.Query) error {
	log := logger.FromContext(ctx)
	for i, q := range tiers {
		timeout := s.cfg.ElementWaitTimeout
		if i > 0 {
			timeout = 6 * time.Second
		}
		h, err := d.Find(q, timeout)
		if err != nil {
			if errors.Is(err, models.ErrControlNotFound) {
				continue
			}
			return err
		}
		if err := d.Click(h); err != nil {
			if errors.Is(err, models.ErrControlNotFound) {
				log.Debug("Click strategy exhausted, trying next locator", "control", label, "query", q.String())
				continue
			}
			return err
		}
		log.Debug("Clicked control", "control", label, "query", q.String())
		return nil
	}
	return fmt.Errorf("%w: %s control", models.ErrControlNotFound, label)
}

var moneyTokenRe = regexp.MustCompile(`-?\d[\d.,]*`)

// balanceFromLabel parses the balance out of an account option label like
// "1002003004 - Cuenta Corriente ($ 1.234,56)". The last numeric token is
// the balance; earlier ones belong to the account identifier.
func balanceFromLabel(label string) (decimal.Decimal, bool) {
	tokens := moneyTokenRe.FindAllString(label, -1)
	if len(tokens) == 0 {
		return decimal.Zero, false
	}
	d, err := utils.ParseLocaleDecimal(tokens[len(tokens)-1])
	if err != nil {
		return decimal.Zero, false
	}
	return d, true
}

// selectOrigin walks the origin-account selector in displayed order. Each
// candidate is selected, given time to settle, and its displayed balance
// read back; the first whose balance covers the amount wins.
func (s *transferService) selectOrigin(ctx context.Context, d BrowserDriver, amount decimal.Decimal) (string, error) {
	log := logger.FromContext(ctx)

	var selectHandle = browser.NoHandle
	for _, css := range strings.Split(s.cfg.Selectors.AccountsSelect, ",") {
		css = strings.TrimSpace(css)
		if css == "" {
			continue
		}
		if h, err := d.Find(browser.ByCSS(css), 2*time.Second); err == nil {
			selectHandle = h
			break
		} else if !errors.Is(err, models.ErrControlNotFound) {
			return "", err
		}
	}
	if selectHandle == browser.NoHandle {
		return "", fmt.Errorf("%w: origin accounts selector", models.ErrControlNotFound)
	}

	options, err := d.ReadOptions(selectHandle)
	if err != nil {
		return "", err
	}

	for _, opt := range options {
		if err := d.SetValue(selectHandle, opt.Value); err != nil {
			return "", err
		}
		if err := d.Sleep(s.cfg.Delays.AfterStep); err != nil {
			return "", err
		}
		label, err := d.ReadBalanceText(selectHandle)
		if err != nil {
			return "", err
		}
		if label == "" {
			label = opt.Text
		}
		balance, ok := balanceFromLabel(label)
		if !ok {
			log.Debug("Skipping account without a parsable balance", "account", opt.Value, "label", label)
			continue
		}
		if balance.GreaterThanOrEqual(amount) {
			log.Info("Origin account selected", "account", opt.Value, "balance", balance.String(), "amount", amount.String())
			return opt.Value, nil
		}
		log.Debug("Account balance below amount, trying next", "account", opt.Value, "balance", balance.String())
	}
	return "", fmt.Errorf("%w: no account covers %s", models.ErrInsufficientFunds, amount.String())
}

func (s *transferService) fillDestinationAndAmount(ctx context.Context, d BrowserDriver, req models.TransferRequest) error {
	log := logger.FromContext(ctx)
	sel := s.cfg.Selectors

	destField, err := d.Find(browser.ByID(sel.DestinationField), s.cfg.ElementWaitTimeout)
	if err != nil {
		return err
	}
	if err := d.ClearValue(destField); err != nil {
		return err
	}
	if err := d.SetValue(destField, req.Destination); err != nil {
		return err
	}

	nextTiers := []browser.Query{
		browser.ByID(sel.NextButton),
		browser.ByCSS("#" + sel.NextButton),
		browser.ByText("próximo"),
	}
	if err := s.clickTiered(ctx, d, "next", nextTiers); err != nil {
		return err
	}
	if err := d.Sleep(s.cfg.Delays.AfterNext); err != nil {
		return err
	}
	if err := s.clickTiered(ctx, d, "next", nextTiers); err != nil {
		return err
	}
	if err := d.Sleep(s.cfg.Delays.AfterStep); err != nil {
		return err
	}

	amountField, err := s.findAmountInput(ctx, d)
	if err != nil {
		return err
	}
	if err := d.SetValue(amountField, req.AmountText); err != nil {
		return err
	}
	log.Debug("Destination and amount filled", "destination", req.Destination, "amount", req.AmountText)
	return nil
}

// findAmountInput tries the identifiers the vendor generator uses for the
// amount field, then falls back to the heuristic scan.
func (s *transferService) findAmountInput(ctx context.Context, d BrowserDriver) (browser.Handle, error) {
	candidates := []browser.Query{
		browser.ByID("id_sc_field_importe"),
		browser.ByID("id_sc_field_monto"),
		browser.ByID("id_sc_field_valor"),
		browser.ByName("importe"),
		browser.ByName("monto"),
	}
	for _, q := range candidates {
		if h, err := d.Find(q, time.Second); err == nil {
			return h, nil
		} else if !errors.Is(err, models.ErrControlNotFound) {
			return browser.NoHandle, err
		}
	}
	logger.FromContext(ctx).Debug("Amount field not found by known identifiers, running heuristic scan")
	return d.FindAmountHeuristic()
}

// chooseConcept opens the concept combo and picks the catch-all option if
// present, else the last one, then advances.
func (s *transferService) chooseConcept(ctx context.Context, d BrowserDriver) error {
	combo, err := d.Find(browser.ByCSS(s.cfg.Selectors.ConceptCombo), 8*time.Second)
	if err != nil {
		return err
	}
	if err := d.Click(combo); err != nil {
		return err
	}
	if err := d.Sleep(time.Second); err != nil {
		return err
	}

	if err := d.ChooseDropdownOption("Varios"); err != nil {
		if !errors.Is(err, models.ErrControlNotFound) {
			return err
		}
		// No rendered dropdown; drive the backing select directly.
		options, optErr := d.ReadOptions(combo)
		if optErr != nil {
			return optErr
		}
		if len(options) == 0 {
			return fmt.Errorf("%w: concept options", models.ErrControlNotFound)
		}
		chosen := options[len(options)-1]
		for _, opt := range options {
			if strings.Contains(strings.ToLower(opt.Text), "varios") {
				chosen = opt
				break
			}
		}
		if err := d.SetValue(combo, chosen.Value); err != nil {
			return err
		}
	}

	if err := s.clickTiered(ctx, d, "next", []browser.Query{
		browser.ByID(s.cfg.Selectors.NextButton),
		browser.ByCSS("#" + s.cfg.Selectors.NextButton),
		browser.ByText("próximo"),
	}); err != nil {
		return err
	}
	return d.Sleep(s.cfg.Delays.AfterConcept)
}

// submitConfirmation focuses the token field, pastes the code until the
// field holds it (bounded), then fires the final confirm.
func (s *transferService) submitConfirmation(ctx context.Context, d BrowserDriver, code string) error {
	sel := s.cfg.Selectors

	tokenField, err := d.Find(browser.ByID(sel.TokenField), s.cfg.ElementWaitTimeout)
	if err != nil {
		return err
	}
	if err := d.Click(tokenField); err != nil {
		return err
	}
	if err := d.Sleep(time.Second); err != nil {
		return err
	}

	deadline := time.Now().Add(s.cfg.TokenPasteTimeout)
	for {
		if err := d.SetValue(tokenField, code); err == nil {
			if v, verr := d.Value(tokenField); verr == nil && v == code {
				break
			}
		}
		if time.Now().After(deadline) {
			return fmt.Errorf("%w: token input never accepted the code", models.ErrControlNotFound)
		}
		if err := d.Sleep(3 * time.Second); err != nil {
			return err
		}
		if h, ferr := d.Find(browser.ByID(sel.TokenField), 2*time.Second); ferr == nil {
			tokenField = h
		}
	}

	if err := s.clickTiered(ctx, d, "final confirm", []browser.Query{
		browser.ByID(sel.FinalConfirm),
		browser.ByCSS("#" + sel.FinalConfirm),
		browser.ByText("confirmar"),
	}); err != nil {
		return err
	}
	return d.Sleep(s.cfg.Delays.AfterFinal)
}

// RunGridFilter authenticates and fills the movements grid date range.
func (s *transferService) RunGridFilter(ctx context.Context, from, to time.Time, account string) error {
	d := s.newDriver(s.cfg.Headless)
	if err := d.Open(ctx); err != nil {
		return err
	}
	defer d.Close()

	if err := s.authenticate(ctx, d); err != nil {
		return err
	}
	if err := d.Navigate(s.cfg.MovementsGridURL); err != nil {
		return err
	}
	if err := d.Sleep(s.cfg.Delays.AfterConcept); err != nil {
		return err
	}

	if account != "" {
		for _, css := range strings.Split(s.cfg.Selectors.AccountsSelect, ",") {
			css = strings.TrimSpace(css)
			if css == "" {
				continue
			}
			if h, err := d.Find(browser.ByCSS(css), 2*time.Second); err == nil {
				if err := d.SetValue(h, account); err != nil {
					return err
				}
				break
			}
		}
	}

	values := [6]string{
		fmt.Sprintf("%02d", from.Day()), fmt.Sprintf("%02d", int(from.Month())), fmt.Sprintf("%04d", from.Year()),
		fmt.Sprintf("%02d", to.Day()), fmt.Sprintf("%02d", int(to.Month())), fmt.Sprintf("%04d", to.Year()),
	}
	for i, id := range s.cfg.Selectors.DateFields {
		h, err := d.Find(browser.ByID(id), s.cfg.ElementWaitTimeout)
		if err != nil {
			return err
		}
		if err := d.SetValue(h, values[i]); err != nil {
			return err
		}
	}
	logger.FromContext(ctx).Info("Movements grid filtered",
		"from", from.Format("2006-01-02"), "to", to.Format("2006-01-02"), "account", account)
	return d.Sleep(s.cfg.Delays.AfterStep)
}

// ScanAccounts logs in (best effort) and lists the accounts selector
// options for the dashboard.
func (s *transferService) ScanAccounts(ctx context.Context) ([]models.AccountOption, error) {
	log := logger.FromContext(ctx)
	d := s.newDriver(true)
	if err := d.Open(ctx); err != nil {
		return nil, err
	}
	defer d.Close()

	if err := d.Navigate(s.cfg.LoginURL); err != nil {
		return nil, err
	}
	if h, err := d.Find(browser.ByID(s.cfg.Selectors.LoginField), s.cfg.ElementWaitTimeout); err == nil {
		d.SetValue(h, s.cfg.PortalUser)
	}
	if h, err := d.Find(browser.ByID(s.cfg.Selectors.PasswordField), 3*time.Second); err == nil {
		d.SetValue(h, s.cfg.PortalPassword)
	}
	if h, err := d.Find(browser.ByCSS(s.cfg.Selectors.LoginButton), 3*time.Second); err == nil {
		d.Click(h)
	}
	if err := d.Sleep(s.cfg.Delays.AfterOTP); err != nil {
		return nil, err
	}

	for _, css := range strings.Split(s.cfg.Selectors.AccountsSelect, ",") {
		css = strings.TrimSpace(css)
		if css == "" {
			continue
		}
		h, err := d.Find(browser.ByCSS(css), 3*time.Second)
		if err != nil {
			if errors.Is(err, models.ErrControlNotFound) {
				continue
			}
			return nil, err
		}
		options, err := d.ReadOptions(h)
		if err != nil {
			return nil, err
		}
		log.Info("Accounts scanned", "count", len(options))
		return options, nil
	}
	return nil, fmt.Errorf("%w: accounts selector", models.ErrControlNotFound)
}
