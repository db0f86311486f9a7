package handlers

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/upb/authaudit/middleware"
	"github.com/upb/authaudit/models"
	"github.com/upb/authaudit/repositories"
	"github.com/upb/authaudit/services"
	"github.com/upb/authaudit/services/audit"
	"github.com/upb/authaudit/utils"
	"go.uber.org/zap"
)

// maxAuthFailureBody bounds the ingest request body
const maxAuthFailureBody = 8 << 10

// RecordAuthFailureRequest is the body of POST /v1/auth/failures
type RecordAuthFailureRequest struct {
	Principal string `json:"principal" validate:"max=1024"`
	Kind      string `json:"kind,omitempty"`
	Wait      bool   `json:"wait"`
}

// QueuedResponse acknowledges an event handed to the dispatcher
type QueuedResponse struct {
	Principal string `json:"principal"`
	Status    string `json:"status"`
}

// RecordListResponse is a page of audit records
type RecordListResponse struct {
	Records []*models.AuditRecord `json:"records"`
	Count   int                   `json:"count"`
	Limit   int                   `json:"limit"`
	Offset  int                   `json:"offset"`
}

// StatsResponse reports recorder and dispatcher counters
type StatsResponse struct {
	Recorder   audit.RecorderStats   `json:"recorder"`
	Dispatcher audit.DispatcherStats `json:"dispatcher"`
}

// EventRecorder records audit events synchronously
type EventRecorder interface {
	Record(ctx context.Context, kind models.EventKind, principal string) (models.Ack, error)
	Stats() audit.RecorderStats
}

// EventSubmitter queues failed login attempts for background recording
type EventSubmitter interface {
	Submit(principal string, done audit.CompletionFunc) error
	GetStats() audit.DispatcherStats
}

// AuditHandler handles the ingest and operator read endpoints
type AuditHandler struct {
	recorder   EventRecorder
	dispatcher EventSubmitter
	records    repositories.AuditRepository
	logger     *zap.Logger
}

// NewAuditHandler creates a new AuditHandler. records is nil when the
// configured sink cannot be queried.
func NewAuditHandler(recorder EventRecorder, dispatcher EventSubmitter, records repositories.AuditRepository, logger *zap.Logger) *AuditHandler {
	return &AuditHandler{
		recorder:   recorder,
		dispatcher: dispatcher,
		records:    records,
		logger:     logger,
	}
}

// HandleRecordAuthFailure handles POST /v1/auth/failures
func (h *AuditHandler) HandleRecordAuthFailure(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := middleware.GetRequestIDFromContext(ctx)

	var req RecordAuthFailureRequest
	if err := utils.DecodeJSON(r, &req, maxAuthFailureBody); err != nil {
		_ = utils.WriteBadRequest(w, err.Error(), nil)
		return
	}
	if err := utils.ValidateStruct(req); err != nil {
		HandleValidationError(w, err, h.logger)
		return
	}

	kind := models.EventKindAuthFail
	if req.Kind != "" {
		kind = models.EventKind(req.Kind)
	}

	if req.Wait {
		ack, err := h.recorder.Record(ctx, kind, req.Principal)
		if err != nil {
			h.logger.Debug("synchronous audit record failed",
				zap.String("request_id", requestID),
				zap.Error(err))
			HandleServiceError(w, err, h.logger)
			return
		}
		_ = utils.WriteCreated(w, ack)
		return
	}

	if !kind.Valid() {
		HandleServiceError(w, services.NewDomainError(services.ErrorTypeMalformed,
			"unsupported event kind", nil).WithDetail("kind", req.Kind), h.logger)
		return
	}

	if err := h.dispatcher.Submit(req.Principal, nil); err != nil {
		HandleServiceError(w, err, h.logger)
		return
	}

	_ = utils.WriteAccepted(w, QueuedResponse{
		Principal: audit.SanitizePrincipal(req.Principal),
		Status:    "queued",
	})
}

// HandleListRecords handles GET /v1/audit/records
func (h *AuditHandler) HandleListRecords(w http.ResponseWriter, r *http.Request) {
	if h.records == nil {
		HandleServiceError(w, services.ErrQueryUnsupported, h.logger)
		return
	}

	query := r.URL.Query()
	limit, err := utils.ParseNonNegativeInt(query.Get("limit"), "limit", repositories.DefaultListLimit)
	if err != nil {
		_ = utils.WriteBadRequest(w, err.Error(), nil)
		return
	}
	offset, err := utils.ParseNonNegativeInt(query.Get("offset"), "offset", 0)
	if err != nil {
		_ = utils.WriteBadRequest(w, err.Error(), nil)
		return
	}

	q := repositories.RecordQuery{
		Principal: query.Get("principal"),
		Limit:     limit,
		Offset:    offset,
	}.Normalize()

	records, err := h.records.List(r.Context(), q)
	if err != nil {
		h.logger.Error("failed to list audit records",
			zap.String("request_id", middleware.GetRequestIDFromContext(r.Context())),
			zap.Error(err))
		HandleServiceError(w, err, h.logger)
		return
	}
	if records == nil {
		records = []*models.AuditRecord{}
	}

	_ = utils.WriteOK(w, RecordListResponse{
		Records: records,
		Count:   len(records),
		Limit:   q.Limit,
		Offset:  q.Offset,
	})
}

// HandleGetRecord handles GET /v1/audit/records/{id}
func (h *AuditHandler) HandleGetRecord(w http.ResponseWriter, r *http.Request) {
	if h.records == nil {
		HandleServiceError(w, services.ErrQueryUnsupported, h.logger)
		return
	}

	id, err := utils.ValidateUUID(chi.URLParam(r, "id"))
	if err != nil {
		_ = utils.WriteBadRequest(w, "Invalid record ID", nil)
		return
	}

	record, err := h.records.GetByID(r.Context(), id)
	if err != nil {
		HandleServiceError(w, err, h.logger)
		return
	}

	_ = utils.WriteOK(w, record)
}

// HandleStats handles GET /v1/audit/stats
func (h *AuditHandler) HandleStats(w http.ResponseWriter, r *http.Request) {
	_ = utils.WriteOK(w, StatsResponse{
		Recorder:   h.recorder.Stats(),
		Dispatcher: h.dispatcher.GetStats(),
	})
}
