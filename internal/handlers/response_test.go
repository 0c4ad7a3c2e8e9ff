package handlers

import (
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-sql-driver/mysql"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"lankatrips/internal/models"
)

func TestStatusForKind(t *testing.T) {
	cases := map[models.ErrorKind]int{
		models.KindValidation:             http.StatusBadRequest,
		models.KindInvalidApprovalCost:    http.StatusBadRequest,
		models.KindUnauthenticated:        http.StatusUnauthorized,
		models.KindAuthorization:          http.StatusForbidden,
		models.KindNotFound:               http.StatusNotFound,
		models.KindUnknownUser:            http.StatusNotFound,
		models.KindInvalidStateTransition: http.StatusConflict,
		models.KindEditNotAllowed:         http.StatusConflict,
		models.KindRequestNotApproved:     http.StatusConflict,
		models.KindNoRecipients:           http.StatusUnprocessableEntity,
		models.KindBookingCreationFailed:  http.StatusBadGateway,
		models.KindInternal:               http.StatusInternalServerError,
	}
	for kind, want := range cases {
		assert.Equal(t, want, statusForKind(kind), kind)
	}
}

func TestWriteError(t *testing.T) {
	tests := []struct {
		name    string
		err     error
		status  int
		kind    models.ErrorKind
		message string
	}{
		{
			name:   "wrapped domain error",
			err:    fmt.Errorf("approve: %w", models.NewInvalidStateTransitionError("booked", "approved")),
			status: http.StatusConflict,
			kind:   models.KindInvalidStateTransition,
		},
		{
			name:    "plain error is hidden",
			err:     errors.New("dial tcp 10.0.0.5:3306: connection refused"),
			status:  http.StatusInternalServerError,
			kind:    models.KindInternal,
			message: "an unexpected error occurred",
		},
		{
			name:   "duplicate entry",
			err:    &mysql.MySQLError{Number: 1062, Message: "Duplicate entry"},
			status: http.StatusBadRequest,
			kind:   models.KindValidation,
		},
		{
			name:   "foreign key",
			err:    fmt.Errorf("insert: %w", &mysql.MySQLError{Number: 1452}),
			status: http.StatusBadRequest,
			kind:   models.KindValidation,
		},
		{
			name:    "booking failure keeps upstream detail",
			err:     models.NewBookingCreationFailedError(errors.New("merchant suspended")),
			status:  http.StatusBadGateway,
			kind:    models.KindBookingCreationFailed,
			message: "merchant suspended",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			writeError(rec, zap.NewNop(), httptest.NewRequest(http.MethodGet, "/", nil), tt.err)

			require.Equal(t, tt.status, rec.Code)
			assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
			env := decodeEnvelope(t, rec)
			require.NotNil(t, env.Error)
			assert.Equal(t, tt.kind, env.Error.Kind)
			assert.Nil(t, env.Meta)
			if tt.message != "" {
				assert.Contains(t, env.Error.Message, tt.message)
			}
			assert.NotContains(t, env.Error.Message, "10.0.0.5")
		})
	}
}

func TestWriteDataDropsEmptyMeta(t *testing.T) {
	rec := httptest.NewRecorder()
	writeData(rec, http.StatusOK, map[string]int{"unreadCount": 2}, warningsMeta(nil))
	assert.JSONEq(t, `{"data":{"unreadCount":2}}`, rec.Body.String())

	rec = httptest.NewRecorder()
	writeData(rec, http.StatusOK, []string{}, warningsMeta([]string{"notification failed"}))
	assert.JSONEq(t, `{"data":[],"meta":{"warnings":["notification failed"]}}`, rec.Body.String())
}
