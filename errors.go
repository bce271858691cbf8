package hostmux

import (
	"net/http"
	"strings"

	"github.com/monzo/terrors"
)

var mapTerr2Status = map[string]int{
	terrors.ErrBadRequest:         http.StatusBadRequest,          // 400
	terrors.ErrForbidden:          http.StatusForbidden,           // 403
	terrors.ErrInternalService:    http.StatusInternalServerError, // 500
	terrors.ErrNotFound:           http.StatusNotFound,            // 404
	terrors.ErrPreconditionFailed: http.StatusPreconditionFailed,  // 412
	terrors.ErrTimeout:            http.StatusGatewayTimeout,      // 504
	terrors.ErrUnauthorized:       http.StatusUnauthorized,        // 401
	errNotSupported:               http.StatusNotImplemented,      // 501
}

// ErrorStatusCode returns a HTTP status code for the given error.
//
// If the error is not a terror, this will always be 500 (Internal Server Error).
func ErrorStatusCode(err error) int {
	code := terrors.Wrap(err, nil).(*terrors.Error).Code
	if c, ok := mapTerr2Status[strings.SplitN(code, ".", 2)[0]]; ok {
		return c
	}
	return http.StatusInternalServerError
}
