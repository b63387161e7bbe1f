package util

import (
	"context"
	"io"
	"net/http"
	"strings"

	"github.com/permadeploy/deployer/code/go/permadeploy/core/common"
)

// maxErrorBody bounds how much of an error response is kept for the error message.
const maxErrorBody = 64 << 10

// NewHTTPRequest builds a request bound to ctx, so cancelling ctx aborts the transfer.
func NewHTTPRequest(ctx context.Context, method, url string, body io.Reader, headers map[string]string) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, url, body)
	if err != nil {
		return nil, common.NewErrorf("invalid_request", "build %s %s: %v", method, url, err)
	}
	req.Header.Set("Accept", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	return req, nil
}

// IsSuccess reports a 2xx status.
func IsSuccess(status int) bool {
	return status >= 200 && status <= 299
}

// ReadBody reads and closes the response body.
func ReadBody(resp *http.Response) ([]byte, error) {
	if resp.Body == nil {
		return nil, common.NewError("empty_body", "empty body returned")
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, common.NewError("read_error", err.Error())
	}
	return body, nil
}

// NewHTTPError drains a bounded prefix of a non-2xx response into an error that keeps
// the status code.
func NewHTTPError(resp *http.Response) *common.Error {
	var msg string
	if resp.Body != nil {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		resp.Body.Close()
		msg = strings.TrimSpace(string(b))
	}
	if msg == "" {
		msg = http.StatusText(resp.StatusCode)
	}
	return common.NewErrorfWithStatusCode(resp.StatusCode, "http_error", "%s %s: %d %s",
		resp.Request.Method, resp.Request.URL.Path, resp.StatusCode, msg)
}
