package orders

import (
	"net/http"
	"strings"

	"github.com/google/uuid"

	"github.com/tabletopforge/storefront-backend/api/middleware"
	"github.com/tabletopforge/storefront-backend/api/responses"
	"github.com/tabletopforge/storefront-backend/api/validators"
	internalorders "github.com/tabletopforge/storefront-backend/internal/orders"
	"github.com/tabletopforge/storefront-backend/pkg/enums"
	pkgerrors "github.com/tabletopforge/storefront-backend/pkg/errors"
	"github.com/tabletopforge/storefront-backend/pkg/logger"
	"github.com/tabletopforge/storefront-backend/pkg/pagination"
	"github.com/tabletopforge/storefront-backend/pkg/types"
)

type customerRequest struct {
	Name  string  `json:"name" validate:"required,max=200"`
	Email string  `json:"email" validate:"required,email,max=254"`
	Phone *string `json:"phone,omitempty" validate:"omitempty,max=40"`
}

type lineRequest struct {
	Kind     string `json:"kind" validate:"required,oneof=game merch"`
	ID       string `json:"id" validate:"required,uuid"`
	Quantity int    `json:"quantity" validate:"gt=0,max=1000"`
	Variant  string `json:"variant,omitempty" validate:"max=20"`
}

type createOrderRequest struct {
	Customer        customerRequest `json:"customer"`
	ShippingAddress types.Address   `json:"shippingAddress"`
	BillingAddress  *types.Address  `json:"billingAddress,omitempty"`
	Items           []lineRequest   `json:"items" validate:"required,min=1,max=50,dive"`
}

type updateStatusRequest struct {
	Status         string `json:"status" validate:"required"`
	TrackingNumber string `json:"trackingNumber,omitempty" validate:"max=100"`
	Note           string `json:"note,omitempty" validate:"max=500"`
	RefundedCents  *int   `json:"refundedCents,omitempty" validate:"omitempty,gte=0"`
}

// Create places an order and returns it with 201.
func Create(svc internalorders.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "orders service unavailable"))
			return
		}

		var req createOrderRequest
		if err := validators.DecodeJSONBody(w, r, &req); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		input, err := req.toInput()
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		order, err := svc.CreateOrder(r.Context(), input)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccessStatus(w, http.StatusCreated, order)
	}
}

// List returns a page of orders filtered by status and customer email.
func List(svc internalorders.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "orders service unavailable"))
			return
		}

		limit, err := validators.ParseQueryInt(r, "limit", pagination.DefaultLimit, 1, pagination.MaxLimit)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		query := r.URL.Query()
		filters := internalorders.ListFilters{
			Email: validators.SanitizeString(query.Get("email"), 254),
		}
		if raw := strings.TrimSpace(query.Get("status")); raw != "" {
			status, err := enums.ParseOrderStatus(raw)
			if err != nil {
				responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid status filter"))
				return
			}
			filters.Status = &status
		}

		list, err := svc.List(r.Context(), filters, pagination.Params{
			Limit:  limit,
			Cursor: strings.TrimSpace(query.Get("cursor")),
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, list)
	}
}

// UpdateStatus applies an operator-requested transition to the order named
// by the id query parameter.
func UpdateStatus(svc internalorders.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "orders service unavailable"))
			return
		}

		orderID, err := validators.ParseQueryUUID(r, "id")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		var req updateStatusRequest
		if err := validators.DecodeJSONBody(w, r, &req); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		status, err := enums.ParseOrderStatus(strings.TrimSpace(req.Status))
		if err != nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid status").
				WithDetails(map[string]string{"status": "is invalid"}))
			return
		}

		input := internalorders.TransitionInput{
			OrderID:        orderID,
			To:             status,
			Note:           strings.TrimSpace(req.Note),
			TrackingNumber: strings.TrimSpace(req.TrackingNumber),
			Source:         "admin",
		}
		if subject := middleware.SubjectFromContext(r.Context()); subject != "" {
			input.Source = "admin:" + subject
		}
		if req.RefundedCents != nil {
			input.RefundedCents = *req.RefundedCents
		}

		ctx := r.Context()
		if logg != nil {
			ctx = logg.WithOrderID(ctx, orderID.String())
		}
		result, err := svc.Transition(ctx, input)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		responses.WriteSuccess(w, result.Order)
	}
}

func (req createOrderRequest) toInput() (internalorders.CreateOrderInput, error) {
	input := internalorders.CreateOrderInput{
		Customer: internalorders.CustomerInput{
			Name:  req.Customer.Name,
			Email: req.Customer.Email,
			Phone: req.Customer.Phone,
		},
		ShippingAddress: req.ShippingAddress,
		BillingAddress:  req.BillingAddress,
		Items:           make([]internalorders.LineInput, 0, len(req.Items)),
	}
	for _, line := range req.Items {
		kind, err := enums.ParseItemKind(line.Kind)
		if err != nil {
			return input, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid item kind")
		}
		id, err := uuid.Parse(line.ID)
		if err != nil {
			return input, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid item id")
		}
		input.Items = append(input.Items, internalorders.LineInput{
			Kind:     kind,
			ItemID:   id,
			Size:     strings.TrimSpace(line.Variant),
			Quantity: line.Quantity,
		})
	}
	return input, nil
}
