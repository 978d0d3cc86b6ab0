package eventing

import (
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
)

var tracer = otel.Tracer("marketbroker/eventing")

var propagator = propagation.TraceContext{}
