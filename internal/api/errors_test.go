package api

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/atmx/liquidity-pool/internal/model"
	"github.com/atmx/liquidity-pool/internal/settlement"
)

func TestStatusFor(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{fmt.Errorf("%w: 0xabc", model.ErrUnauthorized), http.StatusForbidden},
		{model.ErrOrderNotFound, http.StatusNotFound},
		{fmt.Errorf("place: %w", model.ErrZeroAmount), http.StatusBadRequest},
		{model.ErrInvalidSubAccountID, http.StatusBadRequest},
		{model.ErrInsufficientMargin, http.StatusConflict},
		{fmt.Errorf("fill: %w", model.ErrPoolValueMismatch), http.StatusConflict},
		{fmt.Errorf("%w: %w", model.ErrInvalidParams, model.ErrInsufficientMargin), http.StatusBadRequest},
		{settlement.ErrNothingToRedeem, http.StatusConflict},
		{errors.New("disk on fire"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		if got := statusFor(tt.err); got != tt.want {
			t.Errorf("statusFor(%v) = %d, want %d", tt.err, got, tt.want)
		}
	}
}
