package api

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/paddyledger/paddy_backend/ledger"
	"github.com/paddyledger/paddy_backend/models"
	"github.com/paddyledger/paddy_backend/workflow"
)

// HeaderIdempotencyKey carries the operation ref of a stock operation.
const HeaderIdempotencyKey = "Idempotency-Key"

type Handler struct {
	svc *workflow.Service
}

func NewHandler(svc *workflow.Service) *Handler {
	return &Handler{svc: svc}
}

// Register mounts the routes under /api.
func (h *Handler) Register(r gin.IRouter) {
	g := r.Group("/api")

	g.POST("/parties", h.registerParty)
	g.GET("/parties", h.listParties)
	g.GET("/parties/:id", h.getParty)
	g.PUT("/parties/:id", h.updateContact)
	g.GET("/parties/:id/stock", h.getStock)

	g.POST("/transactions", h.transfer)
	g.GET("/transactions", h.listTransactions)
	g.POST("/milling", h.mill)
	g.GET("/milling", h.listMilling)
	g.POST("/damages", h.recordDamage)
	g.GET("/damages", h.listDamages)

	g.GET("/paddy-types", h.listPaddyTypes)
	g.GET("/stock/summary", h.stockSummary)
	g.GET("/stats", h.partyStats)

	g.GET("/operations", h.listOperations)
	g.GET("/operations/:ref", h.getOperation)

	g.POST("/reconcile/:kind", h.reconcile)
	g.POST("/drift", h.checkDrift)
	g.GET("/reports", h.listReports)
	g.GET("/runs", h.listRuns)
}

// decodeRegistration picks the draft type from the "role" field.
func decodeRegistration(body []byte) (models.PartyDraft, error) {
	var head struct {
		Role string `json:"role"`
	}
	if err := json.Unmarshal(body, &head); err != nil {
		return nil, fmt.Errorf("%w: %v", models.ErrInvalidDraft, err)
	}
	role, err := models.ParseRole(head.Role)
	if err != nil {
		return nil, err
	}

	switch role {
	case models.RoleFarmer:
		var d models.FarmerRegistration
		err = json.Unmarshal(body, &d)
		return d, wrapDecode(err)
	case models.RoleCollector:
		var d models.CollectorRegistration
		err = json.Unmarshal(body, &d)
		return d, wrapDecode(err)
	case models.RolePMB:
		var d models.PMBRegistration
		err = json.Unmarshal(body, &d)
		return d, wrapDecode(err)
	}
	var d models.CompanyRegistration
	err = json.Unmarshal(body, &d)
	d.Role = role
	return d, wrapDecode(err)
}

func wrapDecode(err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%w: %v", models.ErrInvalidDraft, err)
}

func (h *Handler) registerParty(c *gin.Context) {
	body, err := io.ReadAll(c.Request.Body)
	if err != nil {
		badRequest(c, "invalid request")
		return
	}
	draft, err := decodeRegistration(body)
	if err != nil {
		writeError(c, err)
		return
	}
	party, err := h.svc.RegisterParty(c.Request.Context(), draft)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, party)
}

func (h *Handler) listParties(c *gin.Context) {
	var role models.Role
	if raw := c.Query("role"); raw != "" {
		r, err := models.ParseRole(raw)
		if err != nil {
			writeError(c, err)
			return
		}
		role = r
	}
	c.JSON(http.StatusOK, h.svc.ListParties(c.Request.Context(), role))
}

func (h *Handler) getParty(c *gin.Context) {
	party, err := h.svc.GetParty(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, party)
}

func (h *Handler) updateContact(c *gin.Context) {
	var in models.ContactUpdate
	if err := c.ShouldBindJSON(&in); err != nil {
		badRequest(c, "invalid request")
		return
	}
	party, err := h.svc.UpdatePartyContact(c.Request.Context(), c.Param("id"), in)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, party)
}

func (h *Handler) getStock(c *gin.Context) {
	stock, err := h.svc.GetStock(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, stock)
}

func (h *Handler) transfer(c *gin.Context) {
	var in models.TransferInput
	if err := c.ShouldBindJSON(&in); err != nil {
		badRequest(c, "invalid request")
		return
	}
	res, err := h.svc.Transfer(c.Request.Context(), in, c.GetHeader(HeaderIdempotencyKey))
	writeOperation(c, res, err)
}

func (h *Handler) mill(c *gin.Context) {
	var in models.MillInput
	if err := c.ShouldBindJSON(&in); err != nil {
		badRequest(c, "invalid request")
		return
	}
	res, err := h.svc.Mill(c.Request.Context(), in, c.GetHeader(HeaderIdempotencyKey))
	writeOperation(c, res, err)
}

func (h *Handler) recordDamage(c *gin.Context) {
	var in models.DamageInput
	if err := c.ShouldBindJSON(&in); err != nil {
		badRequest(c, "invalid request")
		return
	}
	res, err := h.svc.RecordDamage(c.Request.Context(), in, c.GetHeader(HeaderIdempotencyKey))
	writeOperation(c, res, err)
}

// writeOperation answers 201 for a new write and 200 for a replayed ref.
func writeOperation(c *gin.Context, res *workflow.OperationResult, err error) {
	if err != nil {
		writeError(c, err)
		return
	}
	if res.Replayed {
		c.JSON(http.StatusOK, res)
		return
	}
	c.JSON(http.StatusCreated, res)
}

func parseTime(raw string) (*time.Time, error) {
	if raw == "" {
		return nil, nil
	}
	for _, layout := range []string{time.RFC3339, "2006-01-02"} {
		if t, err := time.Parse(layout, raw); err == nil {
			return &t, nil
		}
	}
	return nil, fmt.Errorf("invalid time %q", raw)
}

func parseLimit(c *gin.Context) (int, error) {
	raw := c.Query("limit")
	if raw == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return 0, fmt.Errorf("invalid limit %q", raw)
	}
	return n, nil
}

func historyFilter(c *gin.Context) (models.HistoryFilter, error) {
	f := models.HistoryFilter{
		PartyId:   c.Query("party_id"),
		Commodity: c.Query("commodity"),
		Bucket:    models.Bucket(strings.ToLower(c.Query("bucket"))),
	}
	if f.Bucket != "" && !f.Bucket.IsValid() {
		return f, fmt.Errorf("invalid bucket %q", f.Bucket)
	}
	var err error
	if f.From, err = parseTime(c.Query("from")); err != nil {
		return f, err
	}
	if f.To, err = parseTime(c.Query("to")); err != nil {
		return f, err
	}
	f.Limit, err = parseLimit(c)
	return f, err
}

func (h *Handler) listTransactions(c *gin.Context) {
	f, err := historyFilter(c)
	if err != nil {
		badRequest(c, err.Error())
		return
	}
	c.JSON(http.StatusOK, h.svc.ListTransactions(c.Request.Context(), f))
}

func (h *Handler) listMilling(c *gin.Context) {
	f, err := historyFilter(c)
	if err != nil {
		badRequest(c, err.Error())
		return
	}
	c.JSON(http.StatusOK, h.svc.ListMilling(c.Request.Context(), f))
}

func (h *Handler) listDamages(c *gin.Context) {
	f, err := historyFilter(c)
	if err != nil {
		badRequest(c, err.Error())
		return
	}
	c.JSON(http.StatusOK, h.svc.ListDamages(c.Request.Context(), f))
}

func (h *Handler) listPaddyTypes(c *gin.Context) {
	c.JSON(http.StatusOK, h.svc.ListPaddyTypes(c.Request.Context()))
}

func (h *Handler) stockSummary(c *gin.Context) {
	c.JSON(http.StatusOK, h.svc.StockSummary(c.Request.Context(), c.Query("by") == "district"))
}

func (h *Handler) partyStats(c *gin.Context) {
	c.JSON(http.StatusOK, h.svc.PartyStats(c.Request.Context()))
}

func (h *Handler) listOperations(c *gin.Context) {
	limit, err := parseLimit(c)
	if err != nil {
		badRequest(c, err.Error())
		return
	}
	c.JSON(http.StatusOK, h.svc.ListOperations(c.Request.Context(), limit, c.QueryArray("state")...))
}

func (h *Handler) getOperation(c *gin.Context) {
	m, err := h.svc.GetOperation(c.Request.Context(), c.Param("ref"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, m)
}

func parseKind(raw string) (ledger.EntityKind, error) {
	k, ok := ledger.ParseKind(raw)
	if !ok {
		return "", fmt.Errorf("%w: entity kind %q", ledger.ErrUnsupported, raw)
	}
	return k, nil
}

func (h *Handler) reconcile(c *gin.Context) {
	kind, err := parseKind(c.Param("kind"))
	if err != nil {
		writeError(c, err)
		return
	}
	opts := workflow.ReconcileOptions{
		Resume:      c.Query("resume") == "true",
		TriggeredBy: models.RunTriggeredManual,
	}
	if raw := c.Query("from_block"); raw != "" {
		n, err := strconv.ParseUint(raw, 10, 64)
		if err != nil {
			badRequest(c, "invalid from_block")
			return
		}
		opts.FromBlock = n
	}
	res, drift, err := h.svc.ReconcileKind(c.Request.Context(), kind, opts)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"result": res, "drift": drift})
}

func (h *Handler) checkDrift(c *gin.Context) {
	var kinds []ledger.EntityKind
	for _, raw := range c.QueryArray("kind") {
		k, err := parseKind(raw)
		if err != nil {
			writeError(c, err)
			return
		}
		kinds = append(kinds, k)
	}
	report, err := h.svc.CheckDrift(c.Request.Context(), kinds...)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, report)
}

func (h *Handler) listReports(c *gin.Context) {
	limit, err := parseLimit(c)
	if err != nil {
		badRequest(c, err.Error())
		return
	}
	c.JSON(http.StatusOK, h.svc.ListReports(c.Request.Context(), c.Query("check_type"), limit))
}

func (h *Handler) listRuns(c *gin.Context) {
	limit, err := parseLimit(c)
	if err != nil {
		badRequest(c, err.Error())
		return
	}
	kind := c.Query("kind")
	if kind != "" {
		k, err := parseKind(kind)
		if err != nil {
			writeError(c, err)
			return
		}
		kind = string(k)
	}
	c.JSON(http.StatusOK, h.svc.ListRuns(c.Request.Context(), kind, limit))
}
