package httpapi

import (
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"

	"medremind/internal/app"
	"medremind/internal/reminder"
	logx "medremind/pkg/logx"
)

type handler struct {
	ops Operations
	mon Monitor
	log logx.Logger
}

type healthResponse struct {
	OK     bool            `json:"ok"`
	Agent  string          `json:"agent"`
	Status string          `json:"status"`
	Store  app.StoreStatus `json:"store"`
}

type scheduleBody struct {
	SubjectName    string `json:"subject_name" validate:"required"`
	Address        string `json:"delivery_address" validate:"required,email"`
	Medication     string `json:"medication_label" validate:"required,max=200"`
	TimeExpression string `json:"time_expression" validate:"required"`
	Timezone       string `json:"timezone,omitempty"`
}

type listResponse[T any] struct {
	OK      bool          `json:"ok"`
	Kind    reminder.Kind `json:"kind,omitempty"`
	Message string        `json:"message,omitempty"`
	Count   int           `json:"count"`
	Items   []T           `json:"items"`
}

type errorResponse struct {
	OK      bool          `json:"ok"`
	Kind    reminder.Kind `json:"kind"`
	Message string        `json:"message"`
}

// statusFor maps a failure kind onto an HTTP status code.
func statusFor(k reminder.Kind) int {
	switch k {
	case reminder.KindNone:
		return http.StatusOK
	case reminder.KindUnparsableTime, reminder.KindInvalidTimezone, reminder.KindInvalidInput:
		return http.StatusBadRequest
	case reminder.KindNotFound:
		return http.StatusNotFound
	case reminder.KindStoreUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func badRequest(c echo.Context, msg string) error {
	return c.JSON(http.StatusBadRequest, errorResponse{Kind: reminder.KindInvalidInput, Message: msg})
}

func writeOutcome[T any](c echo.Context, okStatus int, out reminder.Outcome[T]) error {
	if out.OK {
		return c.JSON(okStatus, out)
	}
	return c.JSON(statusFor(out.Kind), out)
}

func writeList[T any](c echo.Context, out reminder.Outcome[[]T]) error {
	items := out.Value
	if items == nil {
		items = []T{}
	}
	body := listResponse[T]{OK: out.OK, Kind: out.Kind, Message: out.Message, Count: len(items), Items: items}
	if !out.OK {
		return c.JSON(statusFor(out.Kind), body)
	}
	return c.JSON(http.StatusOK, body)
}

func (h *handler) health(c echo.Context) error {
	status, store := h.mon.Health(c.Request().Context())
	code := http.StatusOK
	if status != "healthy" {
		code = http.StatusServiceUnavailable
	}
	return c.JSON(code, healthResponse{
		OK:     code == http.StatusOK,
		Agent:  app.Agent,
		Status: status,
		Store:  store,
	})
}

func (h *handler) status(c echo.Context) error {
	return c.JSON(http.StatusOK, h.mon.Status(c.Request().Context()))
}

func (h *handler) listActive(c echo.Context) error {
	return writeList(c, h.ops.ListActive())
}

func (h *handler) listFor(c echo.Context) error {
	address := strings.TrimSpace(c.QueryParam("address"))
	if address == "" {
		return badRequest(c, "address query parameter is required")
	}
	return writeList(c, h.ops.ListFor(c.Request().Context(), address))
}

func (h *handler) schedule(c echo.Context) error {
	var body scheduleBody
	if err := c.Bind(&body); err != nil {
		return badRequest(c, "malformed request body")
	}
	if err := c.Validate(&body); err != nil {
		return badRequest(c, err.Error())
	}
	out := h.ops.Schedule(c.Request().Context(), reminder.ScheduleRequest{
		SubjectName:    body.SubjectName,
		Address:        body.Address,
		Medication:     body.Medication,
		TimeExpression: body.TimeExpression,
		Timezone:       body.Timezone,
	})
	if out.OK {
		h.log.Info("reminder scheduled over http", logx.String("job_id", out.Value.JobID))
	}
	return writeOutcome(c, http.StatusCreated, out)
}

// cancel removes one medication, or every reminder for the address when no
// medication is given.
func (h *handler) cancel(c echo.Context) error {
	ctx := c.Request().Context()
	address := strings.TrimSpace(c.QueryParam("address"))
	if address == "" {
		return badRequest(c, "address query parameter is required")
	}
	medication := strings.TrimSpace(c.QueryParam("medication"))
	if medication == "" {
		return writeOutcome(c, http.StatusOK, h.ops.Purge(ctx, address))
	}
	return writeOutcome(c, http.StatusOK, h.ops.Cancel(ctx, address, medication))
}
