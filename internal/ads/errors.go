package ads

import (
	"fmt"
	"io"
	"strings"

	"github.com/tidwall/gjson"
)

// ErrorDetail is one entry of a Google Ads failure.
type ErrorDetail struct {
	Message   string
	Code      string
	FieldPath []string
}

// APIError is a non-2xx answer from the Ads API.
type APIError struct {
	StatusCode int
	Status     string
	Message    string
	RequestID  string
	Details    []ErrorDetail
}

func (e *APIError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "ads: request %q failed with status %s (%d)", e.RequestID, e.Status, e.StatusCode)
	if e.Message != "" {
		b.WriteString(": " + e.Message)
	}
	for _, d := range e.Details {
		b.WriteString("; " + d.Message)
		if len(d.FieldPath) > 0 {
			b.WriteString(" [" + strings.Join(d.FieldPath, ".") + "]")
		}
	}
	return b.String()
}

// Report prints the failure in the operator-facing layout used by adsctl.
func (e *APIError) Report(w io.Writer) {
	fmt.Fprintf(w, "Request con ID %q falló con estado %q e incluye los siguientes errores:\n", e.RequestID, e.Status)
	if len(e.Details) == 0 && e.Message != "" {
		fmt.Fprintf(w, "Error con mensaje %q.\n", e.Message)
	}
	for _, d := range e.Details {
		fmt.Fprintf(w, "Error con mensaje %q.\n", d.Message)
		for _, f := range d.FieldPath {
			fmt.Fprintf(w, "En el campo: %s\n", f)
		}
	}
}

// parseAPIError decodes the google.rpc.Status body, including the
// GoogleAdsFailure details when present.
func parseAPIError(statusCode int, body []byte) *APIError {
	e := &APIError{StatusCode: statusCode, Status: fmt.Sprintf("HTTP_%d", statusCode)}
	if !gjson.ValidBytes(body) {
		e.Message = strings.TrimSpace(string(body))
		return e
	}
	root := gjson.GetBytes(body, "error")
	if s := root.Get("status").String(); s != "" {
		e.Status = s
	}
	e.Message = root.Get("message").String()
	root.Get("details").ForEach(func(_, detail gjson.Result) bool {
		if id := detail.Get("requestId").String(); id != "" {
			e.RequestID = id
		}
		detail.Get("errors").ForEach(func(_, item gjson.Result) bool {
			d := ErrorDetail{Message: item.Get("message").String()}
			item.Get("errorCode").ForEach(func(_, v gjson.Result) bool {
				d.Code = v.String()
				return false
			})
			item.Get("location.fieldPathElements").ForEach(func(_, f gjson.Result) bool {
				d.FieldPath = append(d.FieldPath, f.Get("fieldName").String())
				return true
			})
			e.Details = append(e.Details, d)
			return true
		})
		return true
	})
	return e
}
