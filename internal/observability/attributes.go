// Package observability exposes relay metrics through OpenTelemetry and a
// Prometheus scrape endpoint.
package observability

import (
	"fmt"
	"strings"

	"go.opentelemetry.io/otel/attribute"
)

// Attribute keys
const (
	attrMethod      = "method"
	attrPath        = "path"
	attrStatus      = "status"
	attrOutcome     = "outcome"
	attrResult      = "result"
	attrDestination = "destination_id"
	attrReplay      = "replay"
)

func methodAttr(method string) attribute.KeyValue {
	return attribute.String(attrMethod, method)
}

func pathAttr(path string) attribute.KeyValue {
	return attribute.String(attrPath, normalizePath(path))
}

func statusAttr(code int) attribute.KeyValue {
	// 200-299 -> 2xx, 400-499 -> 4xx, 500-599 -> 5xx
	return attribute.String(attrStatus, fmt.Sprintf("%dxx", code/100))
}

// attributeForStatus labels a transport error (status 0) as "error".
func attributeForStatus(code int) attribute.KeyValue {
	if code == 0 {
		return attribute.String(attrStatus, "error")
	}
	return statusAttr(code)
}

func outcomeAttr(outcome string) attribute.KeyValue {
	return attribute.String(attrOutcome, outcome)
}

func resultAttr(result string) attribute.KeyValue {
	return attribute.String(attrResult, result)
}

func destinationAttr(id string) attribute.KeyValue {
	return attribute.String(attrDestination, id)
}

func replayAttr(replay bool) attribute.KeyValue {
	return attribute.Bool(attrReplay, replay)
}

// normalizePath keeps ingest tokens out of metric labels. Paths that
// already are route templates pass through.
func normalizePath(path string) string {
	if path == "/ingest" || strings.HasPrefix(path, "/ingest/") {
		return "/ingest"
	}
	return path
}
