package persistence

import (
	"testing"
	"time"

	"github.com/nexocrm/flowd/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCursorRoundTrip(t *testing.T) {
	cursor := Cursor{
		StartedAt: time.Date(2026, 3, 2, 10, 30, 0, 0, time.UTC),
		ID:        "exec-42",
	}

	token := EncodeCursor(cursor)
	assert.NotEmpty(t, token)

	decoded, err := DecodeCursor(token)
	require.NoError(t, err)
	assert.Equal(t, cursor.ID, decoded.ID)
	assert.True(t, cursor.StartedAt.Equal(decoded.StartedAt))
}

func TestDecodeCursor_Invalid(t *testing.T) {
	tests := []struct {
		name  string
		token string
	}{
		{"not base64", "!!!"},
		{"missing separator", "MTIzNDU"},
		{"empty id", "MTIzOg"}, // "123:"
		{"non-numeric millis", "YWJjOmRlZg"}, // "abc:def"
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := DecodeCursor(tt.token)
			require.Error(t, err)
			assert.ErrorIs(t, err, ErrInvalidCursor)
		})
	}
}

func TestSelectExecutionIndex(t *testing.T) {
	base := ListExecutionsOptions{DefinitionID: "def-1"}
	assert.Equal(t, ExecutionIndexByDefinition, SelectExecutionIndex(base))

	withTrigger := base
	withTrigger.TriggeredBy = models.TriggeredBySchedule
	assert.Equal(t, ExecutionIndexByDefinitionTriggeredBy, SelectExecutionIndex(withTrigger))

	// A status filter is residual: it never changes the index.
	withStatus := base
	withStatus.Statuses = []models.ExecutionStatus{models.ExecutionStatusFailed}
	assert.Equal(t, ExecutionIndexByDefinition, SelectExecutionIndex(withStatus))

	both := withStatus
	both.TriggeredBy = models.TriggeredByManual
	assert.Equal(t, ExecutionIndexByDefinitionTriggeredBy, SelectExecutionIndex(both))
}
