package engine

import stderrors "errors"

func asHTTPError(err error, target **HTTPError) bool {
	return stderrors.As(err, target)
}

// AsHTTPError reports whether err carries an engine HTTP error.
func AsHTTPError(err error) (*HTTPError, bool) {
	var httpErr *HTTPError
	if stderrors.As(err, &httpErr) {
		return httpErr, true
	}
	return nil, false
}
