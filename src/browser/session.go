// src/browser/session.go
package browser

import (
	"context"
	_ "embed"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/chromedp/chromedp"
	"github.com/username/transferbot/src/logger"
	"github.com/username/transferbot/src/models"
)

//go:embed assets/deepquery.js
var deepQueryJS string

// Query names one element lookup. The search runs recursively over the top
// document, every reachable same-origin iframe and every open shadow root.
type Query struct {
	By            string `json:"by"` // id | name | css | text
	Value         string `json:"value"`
	MustBeVisible bool   `json:"mustBeVisible,omitempty"`
}

func ByID(v string) Query   { return Query{By: "id", Value: v} }
func ByName(v string) Query { return Query{By: "name", Value: v} }
func ByCSS(v string) Query  { return Query{By: "css", Value: v} }
func ByText(v string) Query { return Query{By: "text", Value: v, MustBeVisible: true} }

func (q Query) String() string { return fmt.Sprintf("%s=%q", q.By, q.Value) }

// Handle references an element found by a previous query. Handles do not
// survive navigation.
type Handle int

const NoHandle Handle = -1

// Session drives one Chrome instance. A Session is single-use: Open, work,
// Close.
type Session struct {
	headless bool
	ctx      context.Context
	cancels  []context.CancelFunc
}

func NewSession(headless bool) *Session {
	return &Session{headless: headless}
}

// Open launches the browser. The session dies with ctx, so cancelling a job
// tears its Chrome down as well.
func (s *Session) Open(ctx context.Context) error {
	opts := []chromedp.ExecAllocatorOption{
		chromedp.NoFirstRun,
		chromedp.NoDefaultBrowserCheck,
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("disable-blink-features", "AutomationControlled"),
		chromedp.WindowSize(1366, 900),
	}
	if s.headless {
		opts = append(opts, chromedp.Headless)
	}

	allocCtx, cancelAlloc := chromedp.NewExecAllocator(ctx, opts...)
	browserCtx, cancelBrowser := chromedp.NewContext(allocCtx)
	s.cancels = []context.CancelFunc{cancelBrowser, cancelAlloc}
	s.ctx = browserCtx

	if err := chromedp.Run(browserCtx); err != nil {
		s.Close()
		return fmt.Errorf("%w: launching browser: %v", models.ErrSessionFault, err)
	}
	logger.FromContext(ctx).Debug("Browser session opened", "headless", s.headless)
	return nil
}

// Close tears the browser down. Safe to call more than once.
func (s *Session) Close() error {
	for _, cancel := range s.cancels {
		cancel()
	}
	s.cancels = nil
	return nil
}

func (s *Session) run(actions ...chromedp.Action) error {
	if s.ctx == nil {
		return fmt.Errorf("%w: session not open", models.ErrSessionFault)
	}
	if err := chromedp.Run(s.ctx, actions...); err != nil {
		if s.ctx.Err() != nil {
			return s.ctx.Err()
		}
		return fmt.Errorf("%w: %v", models.ErrSessionFault, err)
	}
	return nil
}

// ensureLib injects the deep-query helpers; pages reset them on navigation.
func (s *Session) ensureLib() error {
	var present bool
	if err := s.run(chromedp.Evaluate(`!!window.__dq`, &present)); err != nil {
		return err
	}
	if present {
		return nil
	}
	return s.run(chromedp.Evaluate(deepQueryJS, nil))
}

func (s *Session) eval(expr string, out any) error {
	if err := s.ensureLib(); err != nil {
		return err
	}
	if out == nil {
		return s.run(chromedp.Evaluate(expr, nil))
	}
	return s.run(chromedp.Evaluate(expr, out))
}

func (s *Session) Navigate(url string) error {
	return s.run(chromedp.Navigate(url))
}

func (s *Session) CurrentURL() (string, error) {
	var url string
	err := s.run(chromedp.Location(&url))
	return url, err
}

// WaitURLContains polls the location until the fragment shows up or the
// timeout lapses. A false return is not an error: callers treat it as "the
// page did not go where we hoped" and carry on.
func (s *Session) WaitURLContains(fragment string, timeout time.Duration) bool {
	deadline := time.Now().Add(timeout)
	for {
		url, err := s.CurrentURL()
		if err == nil && url != "" && strings.Contains(url, fragment) {
			return true
		}
		if time.Now().After(deadline) {
			return false
		}
		if s.Sleep(500*time.Millisecond) != nil {
			return false
		}
	}
}

// Sleep waits out a settle delay, aborting early if the session dies.
func (s *Session) Sleep(d time.Duration) error {
	if s.ctx == nil {
		return fmt.Errorf("%w: session not open", models.ErrSessionFault)
	}
	select {
	case <-s.ctx.Done():
		return s.ctx.Err()
	case <-time.After(d):
		return nil
	}
}

// Find polls for an element until the timeout lapses.
func (s *Session) Find(q Query, timeout time.Duration) (Handle, error) {
	enc, err := json.Marshal(q)
	if err != nil {
		return NoHandle, fmt.Errorf("%w: bad query: %v", models.ErrSessionFault, err)
	}
	deadline := time.Now().Add(timeout)
	for {
		var idx int
		if err := s.eval(fmt.Sprintf(`window.__dq.find(%s)`, enc), &idx); err != nil {
			return NoHandle, err
		}
		if idx >= 0 {
			return Handle(idx), nil
		}
		if time.Now().After(deadline) {
			return NoHandle, fmt.Errorf("%w: %s", models.ErrControlNotFound, q)
		}
		if err := s.Sleep(500 * time.Millisecond); err != nil {
			return NoHandle, err
		}
	}
}

// Describe returns a short label for a found element, for logging.
func (s *Session) Describe(h Handle) string {
	var desc string
	if err := s.eval(fmt.Sprintf(`window.__dq.describe(%d)`, h), &desc); err != nil {
		return ""
	}
	return desc
}

var clickStrategies = []string{"native", "event", "onclick"}

// Click tries each click strategy in order until one lands.
func (s *Session) Click(h Handle) error {
	for _, strategy := range clickStrategies {
		var ok bool
		if err := s.eval(fmt.Sprintf(`window.__dq.click(%d, %q)`, h, strategy), &ok); err != nil {
			return err
		}
		if ok {
			return nil
		}
	}
	return fmt.Errorf("%w: element %d not clickable by any strategy", models.ErrControlNotFound, h)
}

// SetValue writes a value into a control. Text-like inputs are typed into
// with real key events first (focus, clear, CDP key dispatch) so portal
// listeners see genuine keystrokes; when the typed value does not stick, or
// the control is not typeable (selects), it falls back to scripted
// assignment with synthetic input/change events.
func (s *Session) SetValue(h Handle, value string) error {
	var typeable bool
	if err := s.eval(fmt.Sprintf(`window.__dq.beginTyping(%d)`, h), &typeable); err != nil {
		return err
	}
	if typeable {
		if err := s.run(chromedp.KeyEvent(value)); err != nil {
			return err
		}
		if v, err := s.Value(h); err == nil && v == value {
			return nil
		}
	}

	v, _ := json.Marshal(value)
	var ok bool
	if err := s.eval(fmt.Sprintf(`window.__dq.setValue(%d, %s)`, h, v), &ok); err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%w: could not set value on element %d", models.ErrControlNotFound, h)
	}
	return nil
}

func (s *Session) ClearValue(h Handle) error {
	var ok bool
	if err := s.eval(fmt.Sprintf(`window.__dq.clear(%d)`, h), &ok); err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%w: could not clear element %d", models.ErrControlNotFound, h)
	}
	return nil
}

func (s *Session) Value(h Handle) (string, error) {
	var v string
	err := s.eval(fmt.Sprintf(`window.__dq.value(%d)`, h), &v)
	return v, err
}

// ReadOptions lists a select's options, resolving select2 presentation
// elements to their backing select.
func (s *Session) ReadOptions(h Handle) ([]models.AccountOption, error) {
	var opts []models.AccountOption
	if err := s.eval(fmt.Sprintf(`window.__dq.options(%d)`, h), &opts); err != nil {
		return nil, err
	}
	return opts, nil
}

// ReadBalanceText returns what the page displays as the selected account's
// balance: a dedicated balance element when one is rendered, else the
// selected option's own label.
func (s *Session) ReadBalanceText(h Handle) (string, error) {
	var text string
	err := s.eval(fmt.Sprintf(`window.__dq.balanceText(%d)`, h), &text)
	return text, err
}

// FindOTPHeuristic runs the scored OTP-input scan once.
func (s *Session) FindOTPHeuristic() (Handle, error) {
	var idx int
	if err := s.eval(`window.__dq.findOtpInput()`, &idx); err != nil {
		return NoHandle, err
	}
	if idx < 0 {
		return NoHandle, fmt.Errorf("%w: no OTP-like input", models.ErrControlNotFound)
	}
	return Handle(idx), nil
}

// FindAmountHeuristic runs the amount-input scan once.
func (s *Session) FindAmountHeuristic() (Handle, error) {
	var idx int
	if err := s.eval(`window.__dq.findAmountInput()`, &idx); err != nil {
		return NoHandle, err
	}
	if idx < 0 {
		return NoHandle, fmt.Errorf("%w: no amount-like input", models.ErrControlNotFound)
	}
	return Handle(idx), nil
}

// ListDropdownOptions returns the labels of an open select2 dropdown.
func (s *Session) ListDropdownOptions() ([]string, error) {
	var opts []string
	err := s.eval(`window.__dq.listDropdownOptions()`, &opts)
	return opts, err
}

// ChooseDropdownOption clicks the dropdown option containing preferred, or
// the last option when none matches.
func (s *Session) ChooseDropdownOption(preferred string) error {
	var ok bool
	if err := s.eval(fmt.Sprintf(`window.__dq.clickDropdownOption(%q)`, preferred), &ok); err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%w: dropdown has no options", models.ErrControlNotFound)
	}
	return nil
}
