package stripe

import (
	"errors"
	"strings"
	"time"

	"github.com/stripe/stripe-go/v84"
	"github.com/stripe/stripe-go/v84/webhook"

	"github.com/tabletopforge/storefront-backend/pkg/config"
	pkgerrors "github.com/tabletopforge/storefront-backend/pkg/errors"
)

// SignatureHeader is the request header carrying the webhook signature.
const SignatureHeader = "Stripe-Signature"

var errSecretRequired = errors.New("stripe webhook secret is required")

// Verifier authenticates webhook payloads against the endpoint signing secret.
type Verifier struct {
	signingSecret string
	tolerance     time.Duration
}

// NewVerifier builds a verifier from config. A zero tolerance falls back to
// the library default of five minutes.
func NewVerifier(cfg config.StripeConfig) (*Verifier, error) {
	secret := strings.TrimSpace(cfg.WebhookSecret)
	if secret == "" {
		return nil, errSecretRequired
	}
	tolerance := cfg.WebhookTolerance
	if tolerance <= 0 {
		tolerance = webhook.DefaultTolerance
	}
	return &Verifier{signingSecret: secret, tolerance: tolerance}, nil
}

// ConstructEvent checks the HMAC signature and timestamp, then decodes the
// event. Any failure is reported as INVALID_SIGNATURE.
func (v *Verifier) ConstructEvent(payload []byte, signature string) (stripe.Event, error) {
	if strings.TrimSpace(signature) == "" {
		return stripe.Event{}, pkgerrors.New(pkgerrors.CodeInvalidSignature, "stripe signature missing")
	}
	event, err := webhook.ConstructEventWithOptions(payload, signature, v.signingSecret, webhook.ConstructEventOptions{
		Tolerance:                v.tolerance,
		IgnoreAPIVersionMismatch: true,
	})
	if err != nil {
		return stripe.Event{}, pkgerrors.Wrap(pkgerrors.CodeInvalidSignature, err, "stripe signature verification failed")
	}
	return event, nil
}
