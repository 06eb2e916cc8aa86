package era

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/remit/remit/internal/platform/auth"
	"github.com/remit/remit/internal/platform/erafiles"
	"github.com/remit/remit/internal/platform/reporting"
	"github.com/remit/remit/pkg/pagination"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	g := api.Group("", auth.RequireRole("admin", "billing"))
	g.POST("/era-files", h.Upload)
	g.GET("/era-files", h.List)
	g.GET("/era-files/:id", h.Get)
	g.GET("/era-files/:id/parse", h.Parse)
	g.POST("/era-files/:id/post", h.Post)
	g.GET("/era-files/:id/results", h.Results)
	g.GET("/era-files/:id/report", h.Report)
}

type uploadResponse struct {
	File  *erafiles.FileRecord `json:"file"`
	Parse *ParseResult         `json:"parse"`
}

func (h *Handler) Upload(c echo.Context) error {
	file, err := c.FormFile("file")
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "file is required")
	}
	src, err := file.Open()
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, "failed to open uploaded file")
	}
	defer src.Close()

	data, err := io.ReadAll(io.LimitReader(src, erafiles.MaxFileSize+1))
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, "failed to read uploaded file")
	}

	uploadedBy := auth.UserIDFromContext(c.Request().Context())
	rec, res, err := h.svc.Upload(c.Request().Context(), file.Filename, uploadedBy, data)
	switch {
	case errors.Is(err, ErrDuplicateFile):
		return c.JSON(http.StatusConflict, map[string]interface{}{
			"error":         err.Error(),
			"existing_file": rec,
		})
	case errors.Is(err, erafiles.ErrUnsupportedFileType), errors.Is(err, erafiles.ErrMissingFileName):
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	case errors.Is(err, erafiles.ErrFileTooLarge):
		return echo.NewHTTPError(http.StatusRequestEntityTooLarge, err.Error())
	case err != nil:
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusCreated, uploadResponse{File: rec, Parse: res})
}

func (h *Handler) Get(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	rec, err := h.svc.Get(c.Request().Context(), id)
	if err != nil {
		return fileError(err)
	}
	return c.JSON(http.StatusOK, rec)
}

func (h *Handler) List(c echo.Context) error {
	pg := pagination.FromContext(c)
	items, total, err := h.svc.List(c.Request().Context(), c.QueryParam("status"), pg.Limit, pg.Offset)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(items, total, pg.Limit, pg.Offset))
}

func (h *Handler) Parse(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	res, err := h.svc.Parse(c.Request().Context(), id)
	if err != nil {
		return fileError(err)
	}
	return c.JSON(http.StatusOK, res)
}

func (h *Handler) Post(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	postedBy := auth.UserIDFromContext(c.Request().Context())
	pr, err := h.svc.Post(c.Request().Context(), id, postedBy)
	if err != nil {
		if errors.Is(err, ErrNotParsed) {
			return echo.NewHTTPError(http.StatusUnprocessableEntity, err.Error())
		}
		return fileError(err)
	}
	return c.JSON(http.StatusOK, pr)
}

func (h *Handler) Results(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	results, err := h.svc.Results(c.Request().Context(), id)
	if err != nil {
		return fileError(err)
	}
	if results == nil {
		results = []*PostingResult{}
	}
	return c.JSON(http.StatusOK, results)
}

// Report renders the latest posting run as an xlsx workbook.
func (h *Handler) Report(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	ctx := c.Request().Context()

	rec, err := h.svc.Get(ctx, id)
	if err != nil {
		return fileError(err)
	}
	results, err := h.svc.Results(ctx, id)
	if err != nil {
		return fileError(err)
	}
	if len(results) == 0 {
		return echo.NewHTTPError(http.StatusNotFound, "file has not been posted")
	}
	latest := results[len(results)-1]

	var payer, total, checkNumber string
	if parsed, err := h.svc.Parse(ctx, id); err == nil && parsed.Success {
		payer = parsed.Data.Payer.Name
		total = parsed.Data.TotalPaymentAmount.StringFixed(2)
		checkNumber = parsed.Data.CheckNumber
	}

	sum := reporting.PostingSummary{
		FileName:        rec.FileName,
		CheckNumber:     checkNumber,
		PayerName:       payer,
		PostedBy:        latest.PostedBy,
		PostedAt:        latest.PostedAt,
		TotalPayment:    total,
		TotalClaims:     latest.TotalClaims,
		SuccessfulPosts: latest.SuccessfulPosts,
		FailedPosts:     latest.FailedPosts,
		Repost:          latest.Repost,
	}
	rows := make([]reporting.ClaimRow, 0, len(latest.Results))
	for _, cr := range latest.Results {
		rows = append(rows, reporting.ClaimRow{
			PatientControlNumber: cr.PatientControlNumber,
			PayerControlNumber:   cr.PayerControlNumber,
			Status:               cr.Status,
			Reason:               cr.Reason,
			Detail:               cr.Detail,
			PaidAmount:           cr.PaidAmount,
			AllowedAmount:        cr.AllowedAmount,
			ClaimStatus:          cr.ClaimStatus,
		})
	}

	data, err := reporting.BuildPostingWorkbook(sum, rows)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}

	name := strings.TrimSuffix(rec.FileName, "."+fileExt(rec.FileName)) + "-posting-report.xlsx"
	c.Response().Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename=%q`, name))
	return c.Blob(http.StatusOK, "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet", data)
}

func parseID(c echo.Context) (uuid.UUID, error) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return uuid.Nil, echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	return id, nil
}

func fileError(err error) error {
	if errors.Is(err, erafiles.ErrFileNotFound) {
		return echo.NewHTTPError(http.StatusNotFound, "era file not found")
	}
	return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
}

func fileExt(name string) string {
	if i := strings.LastIndex(name, "."); i >= 0 {
		return name[i+1:]
	}
	return ""
}
