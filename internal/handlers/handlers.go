package handlers

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/doofx0071/doofs-dns/internal/services"
)

// Handler wires the developer-facing HTTP API onto the service layer. Every
// mutation returns synchronously for the write intent; provider convergence
// happens asynchronously through the job queue and is observable via record
// and job status.
type Handler struct {
	claims   *services.ClaimService
	records  *services.RecordService
	queue    *services.JobQueue
	platform *services.PlatformService
}

func RegisterRoutes(api *echo.Group, claims *services.ClaimService, records *services.RecordService,
	queue *services.JobQueue, platform *services.PlatformService) {
	h := &Handler{claims: claims, records: records, queue: queue, platform: platform}

	api.GET("/availability", h.CheckAvailability)

	api.GET("/domains", h.ListDomains)
	api.POST("/domains", h.ClaimDomain)
	api.GET("/domains/:id", h.GetDomain)
	api.DELETE("/domains/:id", h.ReleaseDomain)
	api.POST("/domains/:id/rebuild", h.RebuildDomain)
	api.GET("/domains/:id/jobs", h.ListDomainJobs)

	api.GET("/domains/:id/dns", h.ListRecords)
	api.POST("/domains/:id/dns", h.UpsertRecord)
	api.PUT("/domains/:id/dns/:recordId", h.UpdateRecord)
	api.DELETE("/domains/:id/dns/:recordId", h.DeleteRecord)

	api.GET("/platform-domains", h.ListPlatformDomains)
	api.POST("/platform-domains", h.CreatePlatformDomain)
	api.POST("/platform-domains/:id/sync", h.SyncPlatformDomain)
}

func (h *Handler) CheckAvailability(c echo.Context) error {
	avail, err := h.claims.CheckAvailability(c.Request().Context(),
		c.QueryParam("subdomain"), c.QueryParam("rootDomain"))
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, avail)
}

func (h *Handler) ListDomains(c echo.Context) error {
	domains, err := h.claims.ListDomains(c.Request().Context(), c.QueryParam("owner"))
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, domains)
}

func (h *Handler) ClaimDomain(c echo.Context) error {
	var req struct {
		Subdomain  string `json:"subdomain"`
		RootDomain string `json:"root_domain"`
		OwnerEmail string `json:"owner_email"`
	}
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, errorBody("invalid request body"))
	}

	domain, err := h.claims.Claim(c.Request().Context(), req.Subdomain, req.RootDomain, req.OwnerEmail)
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusCreated, domain)
}

func (h *Handler) GetDomain(c echo.Context) error {
	id, err := paramID(c, "id")
	if err != nil {
		return err
	}
	domain, err := h.claims.GetDomain(c.Request().Context(), id)
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, domain)
}

func (h *Handler) ReleaseDomain(c echo.Context) error {
	id, err := paramID(c, "id")
	if err != nil {
		return err
	}
	if err := h.claims.Release(c.Request().Context(), id); err != nil {
		return writeError(c, err)
	}
	return c.NoContent(http.StatusAccepted)
}

func (h *Handler) RebuildDomain(c echo.Context) error {
	id, err := paramID(c, "id")
	if err != nil {
		return err
	}
	job, err := h.records.RebuildDomain(c.Request().Context(), id)
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusAccepted, job)
}

func (h *Handler) ListDomainJobs(c echo.Context) error {
	id, err := paramID(c, "id")
	if err != nil {
		return err
	}
	jobs, err := h.queue.ListJobsForDomain(c.Request().Context(), id)
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, jobs)
}

func (h *Handler) ListRecords(c echo.Context) error {
	id, err := paramID(c, "id")
	if err != nil {
		return err
	}
	if _, err := h.claims.GetDomain(c.Request().Context(), id); err != nil {
		return writeError(c, err)
	}
	records, err := h.records.ListRecords(c.Request().Context(), id)
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, records)
}

func (h *Handler) UpsertRecord(c echo.Context) error {
	id, err := paramID(c, "id")
	if err != nil {
		return err
	}
	var in services.RecordInput
	if err := c.Bind(&in); err != nil {
		return c.JSON(http.StatusBadRequest, errorBody("invalid request body"))
	}
	rec, err := h.records.UpsertRecord(c.Request().Context(), id, in)
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusCreated, rec)
}

// UpdateRecord targets an existing record by ID and reuses the upsert path.
// The (domain, type, name) slot is the record's identity: omitted type/name
// default to the addressed record's, and a body naming a different slot is
// rejected rather than silently creating a second record.
func (h *Handler) UpdateRecord(c echo.Context) error {
	domainID, err := paramID(c, "id")
	if err != nil {
		return err
	}
	recordID, err := paramID(c, "recordId")
	if err != nil {
		return err
	}

	rec, err := h.records.GetRecord(c.Request().Context(), recordID)
	if err != nil {
		return writeError(c, err)
	}
	if rec.DomainID != domainID {
		return c.JSON(http.StatusNotFound, errorBody("record does not belong to this domain"))
	}

	var in services.RecordInput
	if err := c.Bind(&in); err != nil {
		return c.JSON(http.StatusBadRequest, errorBody("invalid request body"))
	}
	if in.Type == "" {
		in.Type = rec.Type
	}
	if in.Name == "" {
		in.Name = rec.Name
	}
	if in.Type != rec.Type || strings.ToLower(strings.TrimSpace(in.Name)) != rec.Name {
		return c.JSON(http.StatusUnprocessableEntity,
			errorBody("record type and name cannot be changed, delete the record and create a new one"))
	}
	updated, err := h.records.UpsertRecord(c.Request().Context(), domainID, in)
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, updated)
}

func (h *Handler) DeleteRecord(c echo.Context) error {
	domainID, err := paramID(c, "id")
	if err != nil {
		return err
	}
	recordID, err := paramID(c, "recordId")
	if err != nil {
		return err
	}

	rec, err := h.records.GetRecord(c.Request().Context(), recordID)
	if err != nil {
		return writeError(c, err)
	}
	if rec.DomainID != domainID {
		return c.JSON(http.StatusNotFound, errorBody("record does not belong to this domain"))
	}

	if err := h.records.DeleteRecord(c.Request().Context(), recordID); err != nil {
		return writeError(c, err)
	}
	return c.NoContent(http.StatusAccepted)
}

func (h *Handler) ListPlatformDomains(c echo.Context) error {
	domains, err := h.platform.ListPlatformDomains(c.Request().Context())
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, domains)
}

func (h *Handler) CreatePlatformDomain(c echo.Context) error {
	var req struct {
		Domain      string `json:"domain"`
		Description string `json:"description"`
	}
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, errorBody("invalid request body"))
	}
	pd, err := h.platform.CreatePlatformDomain(c.Request().Context(), req.Domain, req.Description)
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusCreated, pd)
}

func (h *Handler) SyncPlatformDomain(c echo.Context) error {
	id, err := paramID(c, "id")
	if err != nil {
		return err
	}
	pd, err := h.platform.SyncZone(c.Request().Context(), id)
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, pd)
}

func paramID(c echo.Context, name string) (uint, error) {
	id, err := strconv.ParseUint(c.Param(name), 10, 32)
	if err != nil {
		return 0, echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	return uint(id), nil
}

func errorBody(msg string) map[string]string {
	return map[string]string{"error": msg}
}

func writeError(c echo.Context, err error) error {
	switch {
	case services.IsValidation(err):
		return c.JSON(http.StatusUnprocessableEntity, errorBody(err.Error()))
	case services.IsConflict(err):
		return c.JSON(http.StatusConflict, errorBody(err.Error()))
	case errors.Is(err, services.ErrNotFound):
		return c.JSON(http.StatusNotFound, errorBody("not found"))
	default:
		return c.JSON(http.StatusInternalServerError, errorBody(err.Error()))
	}
}
