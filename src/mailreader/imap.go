// src/mailreader/imap.go
package mailreader

import (
	"context"
	"fmt"
	"io"
	"regexp"
	"strings"
	"time"

	"github.com/emersion/go-imap"
	"github.com/emersion/go-imap/client"
	"github.com/emersion/go-message/mail"
	"github.com/username/transferbot/src/logger"
	"github.com/username/transferbot/src/models"
)

// Mailbox reads confirmation codes from an IMAP INBOX. Each Await call owns
// its own connection so a dropped session never poisons a later attempt.
type Mailbox struct {
	addr     string
	user     string
	password string
	sender   string
	poll     time.Duration
}

func New(host string, port int, user, password, sender string, poll time.Duration) *Mailbox {
	if poll <= 0 {
		poll = 5 * time.Second
	}
	return &Mailbox{
		addr:     fmt.Sprintf("%s:%d", host, port),
		user:     user,
		password: password,
		sender:   sender,
		poll:     poll,
	}
}

func (m *Mailbox) connect() (*client.Client, error) {
	c, err := client.DialTLS(m.addr, nil)
	if err != nil {
		return nil, fmt.Errorf("imap dial %s: %w", m.addr, err)
	}
	if err := c.Login(m.user, m.password); err != nil {
		c.Logout()
		return nil, fmt.Errorf("imap login as %s: %w", m.user, err)
	}
	if _, err := c.Select("INBOX", true); err != nil {
		c.Logout()
		return nil, fmt.Errorf("imap select INBOX: %w", err)
	}
	return c, nil
}

// Baseline returns the highest UID currently in the INBOX. Await calls only
// consider messages above this marker, so codes from earlier attempts are
// invisible.
func (m *Mailbox) Baseline(ctx context.Context) (uint32, error) {
	c, err := m.connect()
	if err != nil {
		return 0, err
	}
	defer c.Logout()

	uids, err := c.UidSearch(imap.NewSearchCriteria())
	if err != nil {
		return 0, fmt.Errorf("imap baseline search: %w", err)
	}
	var max uint32
	for _, uid := range uids {
		if uid > max {
			max = uid
		}
	}
	logger.FromContext(ctx).Debug("Mailbox baseline taken", "uid", max)
	return max, nil
}

// AwaitLoginCode polls for the login OTP mail until timeout. Sender-filtered
// messages are checked first, then any unseen message as a fallback.
func (m *Mailbox) AwaitLoginCode(ctx context.Context, baseline uint32, timeout time.Duration) (models.ConfirmationCode, error) {
	return m.await(ctx, baseline, timeout, func(c *client.Client) (models.ConfirmationCode, bool, error) {
		rounds := []*imap.SearchCriteria{
			m.afterBaseline(baseline, func(cr *imap.SearchCriteria) {
				if m.sender != "" {
					cr.Header.Add("From", m.sender)
				}
			}),
			m.afterBaseline(baseline, func(cr *imap.SearchCriteria) {
				cr.WithoutFlags = []string{imap.SeenFlag}
			}),
		}
		for _, criteria := range rounds {
			msgs, err := m.fetchMatching(c, criteria)
			if err != nil {
				return models.ConfirmationCode{}, false, err
			}
			for _, msg := range msgs {
				if code, ok := ExtractLoginCode(msg.subject, msg.body); ok {
					return models.ConfirmationCode{Code: code, MessageTime: msg.date}, true, nil
				}
			}
		}
		return models.ConfirmationCode{}, false, nil
	})
}

// AwaitTransferCode polls for the transfer confirmation mail until timeout.
// Subject-matched messages are tried first, then a body-phrase fallback.
// Either way the message header time must be fresh, so a code minted for an
// earlier transfer is never reused.
func (m *Mailbox) AwaitTransferCode(ctx context.Context, baseline uint32, timeout time.Duration) (models.ConfirmationCode, error) {
	return m.await(ctx, baseline, timeout, func(c *client.Client) (models.ConfirmationCode, bool, error) {
		now := time.Now()
		log := logger.FromContext(ctx)

		bySubject := m.afterBaseline(baseline, func(cr *imap.SearchCriteria) {
			cr.Header.Add("Subject", TransferSubjectNeedle)
		})
		msgs, err := m.fetchMatching(c, bySubject)
		if err != nil {
			return models.ConfirmationCode{}, false, err
		}
		for _, msg := range msgs {
			code, ok := ExtractTransferCode(msg.body)
			if !ok {
				continue
			}
			if !TimeConsistent(msg.date, now) {
				log.Debug("Skipping stale transfer-code mail", "messageTime", msg.date, "subject", msg.subject)
				continue
			}
			return models.ConfirmationCode{Code: code, MessageTime: msg.date}, true, nil
		}

		byBody := m.afterBaseline(baseline, func(cr *imap.SearchCriteria) {
			if m.sender != "" {
				cr.Header.Add("From", m.sender)
			}
		})
		msgs, err = m.fetchMatching(c, byBody)
		if err != nil {
			return models.ConfirmationCode{}, false, err
		}
		for _, msg := range msgs {
			matched := transferPhraseRe.FindStringSubmatch(msg.body)
			if matched == nil {
				continue
			}
			if !TimeConsistent(msg.date, now) {
				log.Debug("Skipping stale transfer-code mail", "messageTime", msg.date, "subject", msg.subject)
				continue
			}
			return models.ConfirmationCode{Code: matched[1], MessageTime: msg.date}, true, nil
		}
		return models.ConfirmationCode{}, false, nil
	})
}

// await runs one connection and polls check until it yields, the timeout
// lapses, or the context is cancelled.
func (m *Mailbox) await(ctx context.Context, baseline uint32, timeout time.Duration,
	check func(*client.Client) (models.ConfirmationCode, bool, error)) (models.ConfirmationCode, error) {

	c, err := m.connect()
	if err != nil {
		return models.ConfirmationCode{}, err
	}
	defer c.Logout()

	deadline := time.Now().Add(timeout)
	log := logger.FromContext(ctx)
	attempt := 0
	for {
		attempt++
		code, found, err := check(c)
		if err != nil {
			return models.ConfirmationCode{}, err
		}
		if found {
			log.Info("Code extracted from mailbox", "attempt", attempt, "messageTime", code.MessageTime)
			return code, nil
		}
		if time.Now().After(deadline) {
			return models.ConfirmationCode{}, fmt.Errorf("%w: no code after %s (%d polls)", models.ErrChannelTimeout, timeout, attempt)
		}
		log.Debug("No code yet, waiting before next poll", "attempt", attempt, "poll", m.poll)
		select {
		case <-ctx.Done():
			return models.ConfirmationCode{}, ctx.Err()
		case <-time.After(m.poll):
		}
	}
}

func (m *Mailbox) afterBaseline(baseline uint32, mod func(*imap.SearchCriteria)) *imap.SearchCriteria {
	criteria := imap.NewSearchCriteria()
	uids := new(imap.SeqSet)
	uids.AddRange(baseline+1, 0)
	criteria.Uid = uids
	if mod != nil {
		mod(criteria)
	}
	return criteria
}

type fetchedMessage struct {
	uid     uint32
	subject string
	body    string
	date    time.Time
}

// fetchMatching searches and downloads the matching messages in UID order.
func (m *Mailbox) fetchMatching(c *client.Client, criteria *imap.SearchCriteria) ([]fetchedMessage, error) {
	uids, err := c.UidSearch(criteria)
	if err != nil {
		return nil, fmt.Errorf("imap search: %w", err)
	}
	if len(uids) == 0 {
		return nil, nil
	}

	seqset := new(imap.SeqSet)
	seqset.AddNum(uids...)
	section := &imap.BodySectionName{Peek: true}
	items := []imap.FetchItem{imap.FetchEnvelope, imap.FetchUid, section.FetchItem()}

	messages := make(chan *imap.Message, len(uids))
	done := make(chan error, 1)
	go func() {
		done <- c.UidFetch(seqset, items, messages)
	}()

	var out []fetchedMessage
	for msg := range messages {
		fm := fetchedMessage{uid: msg.Uid}
		if msg.Envelope != nil {
			fm.subject = msg.Envelope.Subject
			fm.date = msg.Envelope.Date
		}
		if r := msg.GetBody(section); r != nil {
			fm.body = readTextBody(r)
		}
		out = append(out, fm)
	}
	if err := <-done; err != nil {
		return nil, fmt.Errorf("imap fetch: %w", err)
	}
	return out, nil
}

var htmlTagRe = regexp.MustCompile(`<[^>]*>`)

// readTextBody walks the MIME tree and returns the text content, preferring
// text/plain parts over tag-stripped HTML.
func readTextBody(r io.Reader) string {
	mr, err := mail.CreateReader(r)
	if err != nil {
		return ""
	}
	var plain, html strings.Builder
	for {
		p, err := mr.NextPart()
		if err == io.EOF {
			break
		}
		if err != nil {
			break
		}
		if h, ok := p.Header.(*mail.InlineHeader); ok {
			ct, _, _ := h.ContentType()
			b, _ := io.ReadAll(p.Body)
			switch ct {
			case "text/plain":
				plain.Write(b)
			case "text/html":
				html.Write(b)
			}
		}
	}
	if plain.Len() > 0 {
		return plain.String()
	}
	return htmlTagRe.ReplaceAllString(html.String(), " ")
}
