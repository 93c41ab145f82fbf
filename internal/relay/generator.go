package relay

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/wolfman30/whatsapp-gemini-relay/pkg/logging"
)

// FallbackPrefix starts every reply built from a completion failure.
const FallbackPrefix = "Sorry, I couldn't process that."

var generateTracer = otel.Tracer("relay.internal.relay.generate")

// Generation is the outcome of one reply generation. Err is set only when
// Fallback is true.
type Generation struct {
	Text     string
	Fallback bool
	Err      error
}

// Generator wraps a Completer so that callers always receive a reply.
type Generator struct {
	completer Completer
	logger    *logging.Logger
}

func NewGenerator(completer Completer, logger *logging.Logger) *Generator {
	if completer == nil {
		panic("relay: completer cannot be nil")
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &Generator{completer: completer, logger: logger}
}

// Generate returns the completion for text, or a fallback reply embedding the
// completion error.
func (g *Generator) Generate(ctx context.Context, text string) Generation {
	ctx, span := generateTracer.Start(ctx, "relay.generate")
	defer span.End()

	reply, err := g.completer.Complete(ctx, text)
	if err != nil {
		span.RecordError(err)
		span.SetAttributes(attribute.Bool("relay.fallback", true))
		g.logger.Warn("completion failed, using fallback reply", "error", err)
		return Generation{
			Text:     FallbackReply(err),
			Fallback: true,
			Err:      err,
		}
	}
	return Generation{Text: reply}
}

// FallbackReply formats the user-visible reply for a completion error.
func FallbackReply(err error) string {
	return fmt.Sprintf("%s Error: %v", FallbackPrefix, err)
}
