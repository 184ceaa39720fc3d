package http

import (
	"context"

	"github.com/gofiber/fiber/v2"

	"github.com/jhoicas/nfse-gateway/internal/application/dto"
	appnfse "github.com/jhoicas/nfse-gateway/internal/application/nfse"
	"github.com/jhoicas/nfse-gateway/internal/domain/entity"
	domainnfse "github.com/jhoicas/nfse-gateway/internal/domain/nfse"
	"github.com/jhoicas/nfse-gateway/internal/domain/repository"
)

// nfseIssuer contrato mínimo del caso de uso de emisión (lo implementa *appnfse.IssueUseCase).
type nfseIssuer interface {
	Issue(ctx context.Context, in appnfse.IssueRequest) (*entity.Nfse, bool, error)
	Get(ctx context.Context, id string) (*entity.Nfse, error)
	List(ctx context.Context, filter repository.NfseFilter) ([]*entity.Nfse, error)
	History(ctx context.Context, id string) ([]*entity.NfseEvent, error)
}

// nfseLifecycle contrato mínimo del coordinador (lo implementa *appnfse.LifecycleCoordinator).
type nfseLifecycle interface {
	Submit(ctx context.Context, id string) (*entity.Nfse, error)
	SubmitAsync(id string)
	Cancel(ctx context.Context, id string, req entity.CancelRequest) (*entity.Nfse, error)
	Substitute(ctx context.Context, id, replacementID string, req entity.CancelRequest) (*appnfse.SubstitutionResult, error)
	Query(ctx context.Context, id string) (*entity.Nfse, *entity.ResponseEnvelope, error)
	Delete(ctx context.Context, id string) error
	Reconcile(ctx context.Context, businessID string) (*appnfse.ReconcileReport, error)
}

// NfseHandler maneja las peticiones HTTP del ciclo de vida de la NFS-e.
type NfseHandler struct {
	issuer    nfseIssuer
	lifecycle nfseLifecycle
}

// NewNfseHandler construye el handler.
func NewNfseHandler(issuer nfseIssuer, lifecycle nfseLifecycle) *NfseHandler {
	return &NfseHandler{issuer: issuer, lifecycle: lifecycle}
}

// Issue crea (o devuelve, si ya existe) el borrador de una NFS-e.
// POST /api/nfse
func (h *NfseHandler) Issue(c *fiber.Ctx) error {
	var in dto.IssueNfseRequest
	if err := c.BodyParser(&in); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Code: "INVALID_BODY", Message: "cuerpo inválido"})
	}
	doc, created, err := h.issuer.Issue(c.Context(), appnfse.IssueRequest{
		BusinessID:                    GetBusinessID(c),
		CityConfigurationID:           in.CityConfigurationID,
		CityIBGECode:                  in.CityIBGECode,
		RpsNumber:                     in.RpsNumber,
		RpsSeries:                     in.RpsSeries,
		RpsType:                       in.RpsType,
		ServiceItemCode:               in.ServiceItemCode,
		MunicipalTaxCode:              in.MunicipalTaxCode,
		Description:                   in.Description,
		ProviderCnpj:                  in.ProviderCnpj,
		ProviderMunicipalRegistration: in.ProviderMunicipalRegistration,
		TakerDocument:                 in.TakerDocument,
		TakerName:                     in.TakerName,
		ServiceAmount:                 in.ServiceAmount,
		Deductions:                    in.Deductions,
		IssRate:                       in.IssRate,
		IssAmount:                     in.IssAmount,
		IssWithheld:                   in.IssWithheld,
		IssueDate:                     in.IssueDate,
	})
	if err != nil {
		return writeError(c, err)
	}
	status := fiber.StatusOK
	if created {
		status = fiber.StatusCreated
	}
	return c.Status(status).JSON(dto.ToNfseResponse(doc, false))
}

// List lista los documentos de la empresa.
// GET /api/nfse?status=&limit=&offset=
func (h *NfseHandler) List(c *fiber.Ctx) error {
	page := dto.PageRequest{Limit: c.QueryInt("limit", 20), Offset: c.QueryInt("offset", 0)}
	page.DefaultPage()
	if page.Limit > 100 {
		page.Limit = 100
	}
	docs, err := h.issuer.List(c.Context(), repository.NfseFilter{
		BusinessID: GetBusinessID(c),
		Status:     c.Query("status"),
		Limit:      page.Limit,
		Offset:     page.Offset,
	})
	if err != nil {
		return writeError(c, err)
	}
	items := make([]*dto.NfseResponse, 0, len(docs))
	for _, d := range docs {
		items = append(items, dto.ToNfseResponse(d, false))
	}
	return c.JSON(dto.NfseListResponse{Items: items, Page: dto.PageResponse{Limit: page.Limit, Offset: page.Offset}})
}

// GetByID detalle del documento; ?xml=true incluye los XML.
// GET /api/nfse/:id
func (h *NfseHandler) GetByID(c *fiber.Ctx) error {
	doc, err := h.owned(c)
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(dto.ToNfseResponse(doc, c.QueryBool("xml")))
}

// History bitácora de transiciones.
// GET /api/nfse/:id/events
func (h *NfseHandler) History(c *fiber.Ctx) error {
	doc, err := h.owned(c)
	if err != nil {
		return writeError(c, err)
	}
	events, err := h.issuer.History(c.Context(), doc.ID)
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(dto.ToEventResponses(events))
}

// Submit transmite el documento. Con ?async=true responde 202 y transmite en segundo plano.
// POST /api/nfse/:id/submit
func (h *NfseHandler) Submit(c *fiber.Ctx) error {
	doc, err := h.owned(c)
	if err != nil {
		return writeError(c, err)
	}
	if c.QueryBool("async") {
		if err := domainnfse.Guard(doc, domainnfse.OpSubmit); err != nil {
			return writeError(c, err)
		}
		h.lifecycle.SubmitAsync(doc.ID)
		return c.Status(fiber.StatusAccepted).JSON(dto.ToNfseResponse(doc, false))
	}
	doc, err = h.lifecycle.Submit(c.Context(), doc.ID)
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(dto.ToNfseResponse(doc, false))
}

// Cancel solicita el cancelamento.
// POST /api/nfse/:id/cancel
func (h *NfseHandler) Cancel(c *fiber.Ctx) error {
	var in dto.CancelNfseRequest
	if err := c.BodyParser(&in); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Code: "INVALID_BODY", Message: "cuerpo inválido"})
	}
	doc, err := h.owned(c)
	if err != nil {
		return writeError(c, err)
	}
	doc, err = h.lifecycle.Cancel(c.Context(), doc.ID, entity.CancelRequest{Code: in.Code, Reason: in.Reason})
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(dto.ToNfseResponse(doc, false))
}

// Substitute reemplaza la NFS-e por el borrador replacement_id.
// POST /api/nfse/:id/substitute
func (h *NfseHandler) Substitute(c *fiber.Ctx) error {
	var in dto.SubstituteNfseRequest
	if err := c.BodyParser(&in); err != nil || in.ReplacementID == "" {
		return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Code: "INVALID_BODY", Message: "replacement_id requerido"})
	}
	doc, err := h.owned(c)
	if err != nil {
		return writeError(c, err)
	}
	res, err := h.lifecycle.Substitute(c.Context(), doc.ID, in.ReplacementID, entity.CancelRequest{Code: in.Code, Reason: in.Reason})
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(dto.SubstitutionResponse{
		Original:    dto.ToNfseResponse(res.Original, false),
		Replacement: dto.ToNfseResponse(res.Replacement, false),
	})
}

// Query consulta la prefeitura y reconcilia el estado local.
// POST /api/nfse/:id/query
func (h *NfseHandler) Query(c *fiber.Ctx) error {
	doc, err := h.owned(c)
	if err != nil {
		return writeError(c, err)
	}
	doc, env, err := h.lifecycle.Query(c.Context(), doc.ID)
	if err != nil {
		return writeError(c, err)
	}
	out := dto.QueryNfseResponse{Nfse: dto.ToNfseResponse(doc, false), Messages: []dto.NfseMessageResponse{}}
	if env != nil {
		out.Outcome = env.Outcome
		out.Protocol = env.Protocol
		out.Messages = dto.ToMessages(env.Messages)
		out.Cancelled = env.CancelledAt != nil
	}
	return c.JSON(out)
}

// Delete borra un documento que nunca fue autorizado.
// DELETE /api/nfse/:id
func (h *NfseHandler) Delete(c *fiber.Ctx) error {
	doc, err := h.owned(c)
	if err != nil {
		return writeError(c, err)
	}
	if err := h.lifecycle.Delete(c.Context(), doc.ID); err != nil {
		return writeError(c, err)
	}
	return c.SendStatus(fiber.StatusNoContent)
}

// Reconcile resuelve los documentos de la empresa abandonados en un estado en curso.
// POST /api/nfse/reconcile
func (h *NfseHandler) Reconcile(c *fiber.Ctx) error {
	report, err := h.lifecycle.Reconcile(c.Context(), GetBusinessID(c))
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(dto.ReconcileResponse{Checked: report.Checked, Resolved: report.Resolved, Skipped: report.Skipped, Failed: report.Failed})
}

// owned carga el documento :id y verifica que pertenezca a la empresa; si no, ErrNotFound.
func (h *NfseHandler) owned(c *fiber.Ctx) (*entity.Nfse, error) {
	doc, err := h.issuer.Get(c.Context(), c.Params("id"))
	if err != nil {
		return nil, err
	}
	if doc.BusinessID != GetBusinessID(c) {
		return nil, errNotOwned
	}
	return doc, nil
}
