package webhooks

import (
	"context"
	"errors"
	"io"
	"net/http"

	"github.com/stripe/stripe-go/v84"

	"github.com/tabletopforge/storefront-backend/api/responses"
	stripewebhook "github.com/tabletopforge/storefront-backend/internal/webhooks/stripe"
	pkgerrors "github.com/tabletopforge/storefront-backend/pkg/errors"
	"github.com/tabletopforge/storefront-backend/pkg/logger"
	pkgstripe "github.com/tabletopforge/storefront-backend/pkg/stripe"
)

// maxPayloadBytes matches the provider's documented event size ceiling.
const maxPayloadBytes = 64 << 10

type eventVerifier interface {
	ConstructEvent(payload []byte, signature string) (stripe.Event, error)
}

type eventProcessor interface {
	Process(ctx context.Context, event stripe.Event) (stripewebhook.Outcome, error)
}

// StripeWebhook verifies and reconciles payment events. Only verified,
// handled (or deliberately skipped) events get a 2xx; infrastructure
// failures return 5xx so the provider redelivers.
func StripeWebhook(svc eventProcessor, verifier eventVerifier, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		if svc == nil || verifier == nil {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeInternal, "stripe webhook unavailable"))
			return
		}

		payload, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxPayloadBytes))
		if err != nil {
			var tooLarge *http.MaxBytesError
			if errors.As(err, &tooLarge) {
				responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeValidation, "payload too large"))
				return
			}
			responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "read request body"))
			return
		}

		event, err := verifier.ConstructEvent(payload, r.Header.Get(pkgstripe.SignatureHeader))
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		outcome, err := svc.Process(ctx, event)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		if logg != nil {
			ctx = logg.WithEvent(ctx, event.ID, string(event.Type))
			logg.Info(logg.WithField(ctx, "outcome", string(outcome)), "stripe event acknowledged")
		}
		responses.WriteWebhookAck(w, outcome == stripewebhook.OutcomeDuplicate)
	}
}
