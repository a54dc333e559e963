package orderserver

import (
	"errors"

	"github.com/gin-gonic/gin"

	ordersapp "github.com/Apurer/go-order-reconciler/internal/domains/orders/application"
	"github.com/Apurer/go-order-reconciler/internal/domains/orders/domain"
	"github.com/Apurer/go-order-reconciler/internal/domains/orders/ports"
	apierrors "github.com/Apurer/go-order-reconciler/internal/shared/errors"
)

var orderResponder = apierrors.NewChainedResponder("", orderProblem)

// orderProblem maps order lifecycle errors to problem details.
func orderProblem(err error) (apierrors.ProblemDetail, bool) {
	switch {
	case errors.Is(err, ports.ErrNotFound):
		return apierrors.ErrNotFound.WithDetail(err.Error()), true
	case errors.Is(err, ordersapp.ErrInvalidInput):
		return apierrors.ErrValidation.WithDetail(err.Error()), true
	case errors.Is(err, ports.ErrIdempotencyConflict):
		return apierrors.ErrUnprocessable.WithDetail(err.Error()), true
	case errors.Is(err, ports.ErrRejected):
		return apierrors.ErrPaymentFailed.WithDetail(err.Error()), true
	case errors.Is(err, ports.ErrGatewayUnavailable):
		return apierrors.ErrUnavailable.WithDetail(err.Error()), true
	case errors.Is(err, domain.ErrIllegalTransition),
		errors.Is(err, domain.ErrNotCancellable),
		errors.Is(err, domain.ErrInvalidState),
		errors.Is(err, ordersapp.ErrPaymentNotRetryable),
		errors.Is(err, ports.ErrConcurrentUpdate):
		return apierrors.ErrConflict.WithDetail(err.Error()), true
	}
	return apierrors.ProblemDetail{}, false
}

// respondOrderServiceError answers with the mapped problem, or 500.
func respondOrderServiceError(c *gin.Context, err error) {
	if err == nil {
		return
	}
	orderResponder.RespondError(c, err)
}

// respondOrderServiceErrorFor attaches the affected order id, so a client whose
// payment failed still learns which order was created.
func respondOrderServiceErrorFor(c *gin.Context, orderID string, err error) {
	if err == nil {
		return
	}
	problem, ok := orderResponder.Map(err)
	if !ok {
		orderResponder.RespondError(c, err)
		return
	}
	if orderID != "" {
		problem = problem.WithExtension("orderId", orderID)
	}
	orderResponder.Respond(c, problem)
}

func respondBadRequest(c *gin.Context, err error) {
	orderResponder.BadRequest(c, err)
}
