package handler

import (
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/feelware/dvp/internal/api/domain"
	"github.com/feelware/dvp/internal/api/dto"
	"github.com/feelware/dvp/internal/api/service"
	"github.com/gin-gonic/gin"
)

// SubmitJob handles POST /api/v1/jobs
// Accepts a multipart upload with fields file, task and params
func (h *JobHandler) SubmitJob(c *gin.Context) {
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, h.maxBodySize)

	fileHeader, err := c.FormFile("file")
	if err != nil {
		var maxBytesErr *http.MaxBytesError
		if errors.As(err, &maxBytesErr) {
			h.writeError(c, &domain.SubmitError{Kind: domain.ErrValidation, Step: domain.StepValidate, Err: domain.ErrFileTooLarge})
			return
		}
		h.writeError(c, domain.NewValidationError("file is required"))
		return
	}

	file, err := fileHeader.Open()
	if err != nil {
		h.logger.Error("Failed to open uploaded file", slog.Any("error", err))
		h.writeError(c, err)
		return
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		h.logger.Error("Failed to read uploaded file", slog.Any("error", err))
		h.writeError(c, err)
		return
	}

	result, err := h.service.Submit(c.Request.Context(), service.SubmitRequest{
		File:     data,
		Filename: fileHeader.Filename,
		Task:     c.PostForm("task"),
		Params:   c.PostForm("params"),
	})
	if err != nil {
		h.writeError(c, err)
		return
	}

	c.JSON(http.StatusCreated, dto.NewSubmitJobResponse(result))
}

// GetJob handles GET /api/v1/jobs/:job_id
func (h *JobHandler) GetJob(c *gin.Context) {
	job, err := h.service.GetStatus(c.Request.Context(), c.Param("job_id"))
	if err != nil {
		h.writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, dto.NewJobDTO(job))
}

// ListJobs handles GET /api/v1/jobs
// Lists jobs newest first with optional status filter and limit/offset paging
func (h *JobHandler) ListJobs(c *gin.Context) {
	var req dto.ListJobsRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		h.writeError(c, domain.NewValidationError("invalid query parameters: %v", err))
		return
	}

	limit := h.defaultPageSize
	if req.Limit != nil {
		limit = *req.Limit
	}
	if limit > h.maxPageSize {
		limit = h.maxPageSize
	}

	result, err := h.service.ListJobs(c.Request.Context(), service.ListRequest{
		Status: domain.JobStatus(req.Status),
		Limit:  limit,
		Offset: req.Offset,
	})
	if err != nil {
		h.writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, dto.NewListJobsResponse(result))
}

// writeError maps an error to its HTTP status and JSON body
func (h *JobHandler) writeError(c *gin.Context, err error) {
	status, kind := classify(err)

	body := dto.ErrorBody{Kind: kind, Message: err.Error()}

	var submitErr *domain.SubmitError
	if errors.As(err, &submitErr) {
		body.Step = string(submitErr.Step)
		body.Message = submitErr.Message()
		body.JobID = submitErr.JobID
		body.VideoPath = submitErr.VideoPath
	}

	switch {
	case status == http.StatusInternalServerError:
		body.Message = "internal server error"
		h.logger.Error("Request failed",
			slog.String("path", c.Request.URL.Path),
			slog.Any("error", err),
		)
	case status == http.StatusNotFound:
		body.Message = domain.ErrJobNotFound.Error()
	}

	c.JSON(status, dto.ErrorResponse{Error: body})
}

func classify(err error) (int, string) {
	switch {
	case errors.Is(err, domain.ErrValidation):
		if errors.Is(err, domain.ErrFileTooLarge) {
			return http.StatusRequestEntityTooLarge, "validation_error"
		}
		return http.StatusBadRequest, "validation_error"
	case errors.Is(err, domain.ErrMalformedInput):
		return http.StatusBadRequest, "malformed_input"
	case errors.Is(err, domain.ErrJobNotFound):
		return http.StatusNotFound, "not_found"
	case errors.Is(err, domain.ErrStorageWrite):
		return http.StatusBadGateway, "storage_write_error"
	case errors.Is(err, domain.ErrRecordCreation):
		return http.StatusBadGateway, "record_creation_error"
	case errors.Is(err, domain.ErrPublish):
		return http.StatusBadGateway, "publish_error"
	default:
		return http.StatusInternalServerError, "internal_error"
	}
}
