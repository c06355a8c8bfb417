package api

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/paddyledger/paddy_backend/ledger"
	"github.com/paddyledger/paddy_backend/models"
	"github.com/paddyledger/paddy_backend/utils"
	"github.com/paddyledger/paddy_backend/workflow"
)

type errorBody struct {
	Error         string            `json:"error"`
	Fields        map[string]string `json:"fields,omitempty"`
	OperationRef  string            `json:"operation_ref,omitempty"`
	LedgerTxHash  string            `json:"ledger_tx_hash,omitempty"`
	BlockNumber   uint64            `json:"block_number,omitempty"`
	CorrelationId string            `json:"correlation_id,omitempty"`
}

// StatusFor maps the error taxonomy onto HTTP status codes.
func StatusFor(err error) int {
	switch {
	case err == nil:
		return http.StatusOK
	case errors.Is(err, models.ErrPartiallyCommitted):
		return http.StatusInternalServerError
	case errors.Is(err, models.ErrInvalidDraft),
		errors.Is(err, models.ErrInvalidQuantity),
		errors.Is(err, models.ErrInvalidConversion),
		errors.Is(err, models.ErrInvalidTransfer),
		errors.Is(err, ledger.ErrUnsupported):
		return http.StatusBadRequest
	case errors.Is(err, models.ErrNotFound), errors.Is(err, ledger.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, models.ErrDuplicateAccount),
		errors.Is(err, workflow.ErrOperationInProgress),
		errors.Is(err, workflow.ErrOperationConflict):
		return http.StatusConflict
	case errors.Is(err, models.ErrInsufficientStock),
		errors.Is(err, models.ErrRoleNotPermitted),
		errors.Is(err, models.ErrLedgerRejected):
		return http.StatusUnprocessableEntity
	case errors.Is(err, utils.ErrLockBusy):
		return http.StatusTooManyRequests
	case errors.Is(err, models.ErrConnection), errors.Is(err, ledger.ErrUnavailable):
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

func writeError(c *gin.Context, err error) {
	status := StatusFor(err)
	body := errorBody{Error: err.Error()}

	var de *models.DraftError
	if errors.As(err, &de) {
		body.Fields = de.Fields
	}
	var pce *models.PartiallyCommittedError
	if errors.As(err, &pce) {
		body.OperationRef = pce.OperationRef
		body.LedgerTxHash = pce.TxHash
		body.BlockNumber = pce.BlockNumber
	}
	body.CorrelationId, _ = utils.GetCorrelationIdFromContext(c.Request.Context())

	if status >= http.StatusInternalServerError {
		_ = c.Error(err)
	}
	c.AbortWithStatusJSON(status, body)
}

func badRequest(c *gin.Context, msg string) {
	c.AbortWithStatusJSON(http.StatusBadRequest, errorBody{Error: msg})
}
