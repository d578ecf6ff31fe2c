package webhook

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/punchamoorthee/remitledger/internal/clock"
	"github.com/punchamoorthee/remitledger/internal/domain"
)

// SignatureHeader carries "t=<unix seconds>,v1=<hex hmac>".
const SignatureHeader = "X-Remit-Signature"

// Verifier checks HMAC-SHA256 signatures over "<timestamp>.<payload>" with a
// per-provider secret.
type Verifier struct {
	secrets   map[string]string
	tolerance time.Duration
	clock     clock.Clock
}

func NewVerifier(secrets map[string]string, tolerance time.Duration, c clock.Clock) *Verifier {
	return &Verifier{secrets: secrets, tolerance: tolerance, clock: c}
}

// Sign produces a header value for payload at time at.
func (v *Verifier) Sign(provider string, payload []byte, at time.Time) (string, error) {
	secret, ok := v.secrets[provider]
	if !ok || secret == "" {
		return "", fmt.Errorf("%w: no secret for provider %q", domain.ErrInvalidSignature, provider)
	}
	ts := strconv.FormatInt(at.Unix(), 10)
	return "t=" + ts + ",v1=" + mac(secret, ts, payload), nil
}

func (v *Verifier) Verify(provider string, payload []byte, header string) error {
	secret, ok := v.secrets[provider]
	if !ok || secret == "" {
		return fmt.Errorf("%w: unknown provider %q", domain.ErrInvalidSignature, provider)
	}
	if header == "" {
		return fmt.Errorf("%w: missing signature", domain.ErrInvalidSignature)
	}

	var ts string
	var sigs []string
	for _, part := range strings.Split(header, ",") {
		k, val, found := strings.Cut(strings.TrimSpace(part), "=")
		if !found {
			continue
		}
		switch k {
		case "t":
			ts = val
		case "v1":
			sigs = append(sigs, val)
		}
	}
	if ts == "" || len(sigs) == 0 {
		return fmt.Errorf("%w: malformed signature header", domain.ErrInvalidSignature)
	}

	unix, err := strconv.ParseInt(ts, 10, 64)
	if err != nil {
		return fmt.Errorf("%w: bad timestamp", domain.ErrInvalidSignature)
	}
	age := v.clock.Now().Sub(time.Unix(unix, 0))
	if age < 0 {
		age = -age
	}
	if v.tolerance > 0 && age > v.tolerance {
		return fmt.Errorf("%w: timestamp outside tolerance", domain.ErrInvalidSignature)
	}

	expected := mac(secret, ts, payload)
	for _, sig := range sigs {
		if hmac.Equal([]byte(sig), []byte(expected)) {
			return nil
		}
	}
	return fmt.Errorf("%w: signature mismatch", domain.ErrInvalidSignature)
}

func mac(secret, ts string, payload []byte) string {
	h := hmac.New(sha256.New, []byte(secret))
	h.Write([]byte(ts))
	h.Write([]byte("."))
	h.Write(payload)
	return hex.EncodeToString(h.Sum(nil))
}
