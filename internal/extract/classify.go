package extract

import (
	"errors"
	"time"

	"github.com/sells-group/extract-cli/internal/model"
	"github.com/sells-group/extract-cli/internal/resilience"
	"github.com/sells-group/extract-cli/internal/schema"
	"github.com/sells-group/extract-cli/pkg/completion"
)

// Classify decides whether the failure of one attempt is worth another.
// Malformed output is retryable; bad content and unknown schemas are
// terminal; transport failures follow resilience.Classify.
func Classify(err error) resilience.Class {
	var pe *ParseError
	var ve *schema.ValidationError
	switch {
	case err == nil:
		return resilience.Terminal
	case errors.As(err, &pe):
		return resilience.Retryable
	case errors.As(err, &ve), errors.Is(err, schema.ErrUnknownSchema):
		return resilience.Terminal
	default:
		return resilience.Classify(err)
	}
}

// outcomeFor maps a failed attempt's error to its outcome kind.
func outcomeFor(err error) model.Outcome {
	var pe *ParseError
	var ve *schema.ValidationError
	switch {
	case errors.As(err, &pe):
		return model.OutcomeParseFailure
	case errors.As(err, &ve):
		return model.OutcomeValidationFailure
	case errors.Is(err, schema.ErrUnknownSchema):
		return model.OutcomeUnknownSchema
	default:
		return model.OutcomeNetworkFailure
	}
}

// retryAfter returns the server's Retry-After hint carried by err, if any.
func retryAfter(err error) time.Duration {
	var ue *completion.UpstreamError
	if errors.As(err, &ue) {
		return ue.RetryAfter
	}
	return 0
}
