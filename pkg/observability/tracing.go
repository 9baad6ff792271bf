package observability

import (
	"context"
	"fmt"

	"github.com/aws/aws-xray-sdk-go/xray"
)

// Tracer provides distributed tracing capabilities
type Tracer struct {
	serviceName string
	enabled     bool
}

// NewTracer creates a new tracer instance. A disabled tracer runs traced
// functions directly and records nothing.
func NewTracer(serviceName string, enabled bool) *Tracer {
	return &Tracer{
		serviceName: serviceName,
		enabled:     enabled,
	}
}

// TraceFunction wraps a function in a subsegment, or in a new segment when
// the context carries none (for example outside Lambda).
func (t *Tracer) TraceFunction(ctx context.Context, name string, fn func(context.Context) error) error {
	if t == nil || !t.enabled {
		return fn(ctx)
	}

	var seg *xray.Segment
	if xray.GetSegment(ctx) != nil {
		ctx, seg = xray.BeginSubsegment(ctx, name)
	} else {
		ctx, seg = xray.BeginSegment(ctx, fmt.Sprintf("%s.%s", t.serviceName, name))
	}
	if seg == nil {
		return fn(ctx)
	}

	err := fn(ctx)
	seg.Close(err)
	return err
}

// AddAnnotation adds an indexed annotation to the current segment
func (t *Tracer) AddAnnotation(ctx context.Context, key string, value string) {
	if t == nil || !t.enabled {
		return
	}
	if seg := xray.GetSegment(ctx); seg != nil {
		_ = seg.AddAnnotation(key, value)
	}
}

// AddMetadata adds metadata to the current segment
func (t *Tracer) AddMetadata(ctx context.Context, key string, value interface{}) {
	if t == nil || !t.enabled {
		return
	}
	if seg := xray.GetSegment(ctx); seg != nil {
		_ = seg.AddMetadata(key, value)
	}
}
