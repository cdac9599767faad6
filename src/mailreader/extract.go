// src/mailreader/extract.go
package mailreader

import (
	"regexp"
	"time"
)

// The portal's notification mails carry the codes inside fixed Spanish
// phrases. Accents are optional because some mail clients strip them.
var (
	loginPhraseRe    = regexp.MustCompile(`(?i)su\s+c[oó]digo\s+de\s+inicio\s+de\s+sesi[oó]n\s+es\s*[:\s,-]*?(\d{4,8})`)
	transferPhraseRe = regexp.MustCompile(`(?i)Se\s+env[ií]a\s+el\s+c[oó]digo\s+para\s+confirmar\s+la\s+transferencia\s*[:\s-]*?(\d{4,8})`)
	digitsRe         = regexp.MustCompile(`\b(\d{4,8})\b`)
)

// TransferSubjectNeedle is the subject fragment of transfer-code mails.
const TransferSubjectNeedle = "Envío de código"

// ExtractLoginCode pulls the login OTP out of a message. The anchored
// phrase is tried on the body and then the subject; if neither matches, the
// first free-standing 4-8 digit run wins, body first. The fallback is
// deliberately loose: a message from the known sender with a bare digit run
// is still a usable code.
func ExtractLoginCode(subject, body string) (string, bool) {
	for _, text := range []string{body, subject} {
		if m := loginPhraseRe.FindStringSubmatch(text); m != nil {
			return m[1], true
		}
	}
	for _, text := range []string{body, subject} {
		if m := digitsRe.FindStringSubmatch(text); m != nil {
			return m[1], true
		}
	}
	return "", false
}

// ExtractTransferCode pulls the transfer confirmation code out of a message
// body, phrase-anchored first, digit-run fallback second.
func ExtractTransferCode(body string) (string, bool) {
	if m := transferPhraseRe.FindStringSubmatch(body); m != nil {
		return m[1], true
	}
	if m := digitsRe.FindStringSubmatch(body); m != nil {
		return m[1], true
	}
	return "", false
}

// TimeConsistent reports whether a message's header time is fresh relative
// to now: same calendar day and hour, and the same or the immediately
// following minute. Transfer codes from an earlier attempt fail this check.
func TimeConsistent(messageTime, now time.Time) bool {
	m := messageTime.In(now.Location())
	if m.Year() != now.Year() || m.Month() != now.Month() || m.Day() != now.Day() {
		return false
	}
	if m.Hour() != now.Hour() {
		return false
	}
	dm := now.Minute() - m.Minute()
	return dm == 0 || dm == 1
}
