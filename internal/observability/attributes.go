// Package observability provides metrics instruments and the Prometheus
// exporter.
package observability

import (
	"fmt"

	"go.opentelemetry.io/otel/attribute"
)

// Attribute keys
const (
	attrQueue     = "queue"
	attrPayload   = "payload"
	attrStatus    = "status"
	attrOperation = "operation"
	attrSuccess   = "success"
	attrMethod    = "method"
	attrRoute     = "route"
	attrHTTPCode  = "code"
)

func queueAttr(queue string) attribute.KeyValue {
	return attribute.String(attrQueue, queue)
}

func payloadAttr(payload string) attribute.KeyValue {
	return attribute.String(attrPayload, payload)
}

func statusAttr(status string) attribute.KeyValue {
	return attribute.String(attrStatus, status)
}

func operationAttr(op string) attribute.KeyValue {
	return attribute.String(attrOperation, op)
}

func successAttr(success bool) attribute.KeyValue {
	return attribute.Bool(attrSuccess, success)
}

func methodAttr(method string) attribute.KeyValue {
	return attribute.String(attrMethod, method)
}

// routeAttr expects the router pattern (e.g. /v1/jobs/{jobId}), not the raw
// path, to keep cardinality bounded.
func routeAttr(route string) attribute.KeyValue {
	if route == "" {
		route = "unmatched"
	}
	return attribute.String(attrRoute, route)
}

func httpStatusAttr(code int) attribute.KeyValue {
	// 200-299 -> 2xx, 400-499 -> 4xx, 500-599 -> 5xx
	return attribute.String(attrHTTPCode, fmt.Sprintf("%dxx", code/100))
}
