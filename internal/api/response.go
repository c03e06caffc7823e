package api

import (
	"net/http"

	"github.com/labstack/echo/v4"
)

// Response is the envelope of every JSON reply.
type Response struct {
	Status  int         `json:"status"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

// ValidationError describes one rejected request field.
type ValidationError struct {
	Code    string                 `json:"code,omitempty"`
	Field   string                 `json:"field,omitempty"`
	Message string                 `json:"message,omitempty"`
	Params  map[string]interface{} `json:"params,omitempty"`
}

func respond(c echo.Context, status int, data interface{}) error {
	return c.JSON(status, Response{
		Status:  status,
		Message: http.StatusText(status),
		Data:    data,
	})
}

func success(c echo.Context, data interface{}) error {
	return respond(c, http.StatusOK, data)
}

func badRequest(c echo.Context, errs []ValidationError) error {
	return respond(c, http.StatusBadRequest, errs)
}

func notFound(c echo.Context, what string) error {
	return respond(c, http.StatusNotFound, []ValidationError{{Code: "ERR_NOT_FOUND", Message: what}})
}
