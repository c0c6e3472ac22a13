package handler

import (
	"errors"
	"net/http"

	"github.com/zeromicro/go-zero/rest/httpx"

	"marketpulse/internal/logic"
	"marketpulse/internal/types"
)

func writeError(w http.ResponseWriter, r *http.Request, err error) {
	if errors.Is(err, logic.ErrNotFound) {
		httpx.WriteJsonCtx(r.Context(), w, http.StatusNotFound, types.ErrorResponse{
			Code:    http.StatusNotFound,
			Message: err.Error(),
		})
		return
	}
	httpx.ErrorCtx(r.Context(), w, err)
}
