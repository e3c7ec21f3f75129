package api

import (
	"net/http"

	apierrors "github.com/narvanalabs/keyrelay/internal/api/errors"
)

var (
	apiNotFound = &apierrors.APIError{
		Code:    apierrors.CodeNotFound,
		Message: "route not found",
		Status:  http.StatusNotFound,
	}
	apiMethodNotAllowed = &apierrors.APIError{
		Code:    "METHOD_NOT_ALLOWED",
		Message: "method not allowed",
		Status:  http.StatusMethodNotAllowed,
	}
)
