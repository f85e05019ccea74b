package sensorthings_test

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/syssam/sensorthings"
)

func TestIncompleteEntityError(t *testing.T) {
	t.Run("Error", func(t *testing.T) {
		err := sensorthings.NewIncompleteEntityError("Thing", "name")
		assert.Equal(t, `sensorthings: incomplete Thing: missing required property "name"`, err.Error())
	})

	t.Run("Is", func(t *testing.T) {
		err := sensorthings.NewIncompleteEntityError("Datastream", "Thing")
		assert.True(t, errors.Is(err, sensorthings.ErrIncompleteEntity))
	})

	t.Run("IsIncompleteEntity", func(t *testing.T) {
		err := sensorthings.NewIncompleteEntityError("Sensor", "metadata")
		assert.True(t, sensorthings.IsIncompleteEntity(err))

		// Wrapped error
		wrapped := fmt.Errorf("wrapper: %w", err)
		assert.True(t, sensorthings.IsIncompleteEntity(wrapped))
		assert.True(t, sensorthings.IsValidationError(wrapped))

		assert.False(t, sensorthings.IsIncompleteEntity(errors.New("other error")))
		assert.False(t, sensorthings.IsIncompleteEntity(nil))
	})
}

func TestNoSuchEntityError(t *testing.T) {
	t.Run("Error", func(t *testing.T) {
		err := sensorthings.NewNoSuchEntityError("Datastream", int64(42))
		assert.Equal(t, "sensorthings: no such Datastream (id=42)", err.Error())

		err = sensorthings.NewNoSuchEntityError("Datastream", nil)
		assert.Equal(t, "sensorthings: no such Datastream", err.Error())
	})

	t.Run("IsNoSuchEntity", func(t *testing.T) {
		err := sensorthings.NewNoSuchEntityError("Thing", 1)
		assert.True(t, errors.Is(err, sensorthings.ErrNoSuchEntity))
		assert.True(t, sensorthings.IsNoSuchEntity(fmt.Errorf("insert: %w", err)))
		assert.True(t, sensorthings.IsValidationError(err))
		assert.False(t, sensorthings.IsNoSuchEntity(nil))
	})
}

func TestUnsupportedRelationError(t *testing.T) {
	err := sensorthings.NewUnsupportedRelationError("Datastreams", "unlink", "one-to-many")
	assert.Equal(t, "sensorthings: relation Datastreams does not support unlink: one-to-many", err.Error())
	assert.True(t, sensorthings.IsUnsupportedRelation(err))
	assert.True(t, errors.Is(err, sensorthings.ErrUnsupportedRelation))
	assert.False(t, sensorthings.IsValidationError(err))
}

func TestTransactionError(t *testing.T) {
	cause := errors.New("connection reset")
	err := sensorthings.NewTransactionError("commit", cause)
	assert.Equal(t, "sensorthings: transaction commit: connection reset", err.Error())
	assert.True(t, sensorthings.IsTransactionError(err))
	assert.ErrorIs(t, err, cause)
	assert.False(t, sensorthings.IsTransactionError(cause))
}

func TestNotFoundError(t *testing.T) {
	err := sensorthings.NewNotFoundError("Thing", 7)
	assert.Equal(t, "sensorthings: Thing not found (id=7)", err.Error())
	assert.Equal(t, "Thing", err.Label())
	assert.Equal(t, 7, err.ID())
	assert.True(t, sensorthings.IsNotFound(fmt.Errorf("get: %w", err)))
	assert.False(t, sensorthings.IsNotFound(nil))
}

func TestPrivacyError(t *testing.T) {
	decision := errors.New("deny rule")
	err := sensorthings.NewPrivacyError("Observation", "delete", decision)
	assert.Equal(t, "sensorthings: privacy denied delete on Observation: deny rule", err.Error())
	assert.True(t, sensorthings.IsPrivacyError(err))
	assert.ErrorIs(t, err, decision)
}
