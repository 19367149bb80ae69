package errors

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSentinelErrors(t *testing.T) {
	tests := []struct {
		name    string
		err     error
		wantMsg string
	}{
		{"ErrConfigRequired", ErrConfigRequired, "eventdispatch: configuration is required"},
		{"ErrLoggerRequired", ErrLoggerRequired, "eventdispatch: logger is required"},
		{"ErrRegistryRequired", ErrRegistryRequired, "eventdispatch: registry is required"},
		{"ErrHandlerRequired", ErrHandlerRequired, "eventdispatch: handler is required"},
		{"ErrPublisherRequired", ErrPublisherRequired, "eventdispatch: publisher is required"},
		{"ErrSubscriberRequired", ErrSubscriberRequired, "eventdispatch: subscriber is required"},
		{"ErrTopicRequired", ErrTopicRequired, "eventdispatch: topic is required"},
		{"ErrResolverRequired", ErrResolverRequired, "eventdispatch: resolver is required"},
		{"ErrRegistryFrozen", ErrRegistryFrozen, "eventdispatch: registry is frozen"},
		{"ErrRegistryBuilt", ErrRegistryBuilt, "eventdispatch: registry already built"},
		{"ErrRegistryNotBuilt", ErrRegistryNotBuilt, "eventdispatch: registry has not been built"},
		{"ErrMetadataNotFound", ErrMetadataNotFound, "eventdispatch: no metadata registered for type"},
		{"ErrPoolClosed", ErrPoolClosed, "eventdispatch: worker pool is closed"},
		{"ErrSubmitTimeout", ErrSubmitTimeout, "eventdispatch: worker pool submit timed out"},
		{"ErrEventPayloadMissing", ErrEventPayloadMissing, "eventdispatch: event payload is required"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.wantMsg, tt.err.Error())
		})
	}
}

func TestConfigValidationError(t *testing.T) {
	inner := errors.New("invalid port")
	err := ConfigValidationError{Err: inner}

	assert.Equal(t, "eventdispatch: invalid configuration: invalid port", err.Error())
	assert.Equal(t, inner, err.Unwrap())
}

func TestNewConfigValidationError(t *testing.T) {
	t.Run("nil error returns nil", func(t *testing.T) {
		assert.NoError(t, NewConfigValidationError(nil))
	})

	t.Run("wraps error correctly", func(t *testing.T) {
		inner := errors.New("bad config")
		err := NewConfigValidationError(inner)

		var cfgErr ConfigValidationError
		require.ErrorAs(t, err, &cfgErr)
		assert.Equal(t, inner, cfgErr.Err)
		assert.ErrorIs(t, err, inner)
	})
}
