package api

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/koopa0/nimbus/internal/quiz"
)

// QuizGenerator produces practice questions. Satisfied by *quiz.Service.
type QuizGenerator interface {
	Generate(ctx context.Context) (*quiz.Question, error)
}

type quizHandler struct {
	logger *slog.Logger
	quiz   QuizGenerator
}

// generate handles POST /api/v1/quiz.
func (h *quizHandler) generate(w http.ResponseWriter, r *http.Request) {
	q, err := h.quiz.Generate(r.Context())
	if err != nil {
		h.logger.Error("quiz generation failed", "error", err)
		writeError(w, http.StatusInternalServerError, "model_failure", "Failed to generate question")
		return
	}
	writeJSON(w, http.StatusOK, q)
}
