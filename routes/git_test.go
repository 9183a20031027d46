package routes

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"

	"git-context-agent/services"
)

type fakeChatResponder struct {
	answer string
	err    error
}

func (r *fakeChatResponder) GenerateChatResponse(ctx context.Context, userID, url, prompt string) (string, error) {
	return r.answer, r.err
}

func newTestRouter() *gin.Engine {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.GET("/health", HandleHealth())
	router.PUT("/git", HandleUpdateRepositoryStatus(nil))
	router.POST("/git", HandleIngestRepository(nil))
	return router
}

func TestHandleHealth(t *testing.T) {
	router := newTestRouter()

	recorder := httptest.NewRecorder()
	request := httptest.NewRequest(http.MethodGet, "/health", nil)
	router.ServeHTTP(recorder, request)

	if recorder.Code != http.StatusOK {
		t.Fatalf("status = %d", recorder.Code)
	}
	if !strings.Contains(recorder.Body.String(), `"ok"`) {
		t.Fatalf("body = %s", recorder.Body.String())
	}
}

func TestIngestRejectsMalformedBody(t *testing.T) {
	router := newTestRouter()

	recorder := httptest.NewRecorder()
	request := httptest.NewRequest(http.MethodPost, "/git", strings.NewReader(`{"id": "u1"`))
	request.Header.Set("Content-Type", "application/json")
	router.ServeHTTP(recorder, request)

	if recorder.Code != http.StatusBadRequest {
		t.Fatalf("status = %d", recorder.Code)
	}
}

func TestIngestRejectsMissingFields(t *testing.T) {
	router := newTestRouter()

	recorder := httptest.NewRecorder()
	request := httptest.NewRequest(http.MethodPost, "/git", strings.NewReader(`{"id": "u1"}`))
	request.Header.Set("Content-Type", "application/json")
	router.ServeHTTP(recorder, request)

	if recorder.Code != http.StatusBadRequest {
		t.Fatalf("status = %d", recorder.Code)
	}
}

func TestStatusUpdateRejectsUnknownStatus(t *testing.T) {
	router := newTestRouter()

	recorder := httptest.NewRecorder()
	request := httptest.NewRequest(http.MethodPut, "/git", strings.NewReader(`{"repository_id": "r1", "status": "finished"}`))
	request.Header.Set("Content-Type", "application/json")
	router.ServeHTTP(recorder, request)

	if recorder.Code != http.StatusBadRequest {
		t.Fatalf("status = %d", recorder.Code)
	}
	if !strings.Contains(recorder.Body.String(), "error_code") {
		t.Fatalf("body = %s", recorder.Body.String())
	}
}

func serveChat(t *testing.T, responder *fakeChatResponder) *httptest.ResponseRecorder {
	t.Helper()
	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.POST("/git/question", HandleChat(responder))

	recorder := httptest.NewRecorder()
	body := `{"id": "u1", "url": "https://example.com/repo.git", "prompt": "what does this do"}`
	request := httptest.NewRequest(http.MethodPost, "/git/question", strings.NewReader(body))
	request.Header.Set("Content-Type", "application/json")
	router.ServeHTTP(recorder, request)
	return recorder
}

func TestChatAnswersCompletedContext(t *testing.T) {
	recorder := serveChat(t, &fakeChatResponder{answer: "it ingests repositories"})

	if recorder.Code != http.StatusOK {
		t.Fatalf("status = %d", recorder.Code)
	}
	if !strings.Contains(recorder.Body.String(), "it ingests repositories") {
		t.Fatalf("body = %s", recorder.Body.String())
	}
}

func TestChatNotReadyContextConflicts(t *testing.T) {
	err := fmt.Errorf("%w: current state is (processing)", services.ErrContextNotReady)
	recorder := serveChat(t, &fakeChatResponder{err: err})

	if recorder.Code != http.StatusConflict {
		t.Fatalf("status = %d, want 409", recorder.Code)
	}
	if !strings.Contains(recorder.Body.String(), "context_not_ready") {
		t.Fatalf("body = %s", recorder.Body.String())
	}
}

func TestChatStoreFailureIsServerError(t *testing.T) {
	recorder := serveChat(t, &fakeChatResponder{err: errors.New("failed to read metadata: connection reset")})

	if recorder.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d, want 500", recorder.Code)
	}
	if strings.Contains(recorder.Body.String(), "context_not_ready") {
		t.Fatalf("store failure reported as not-ready: %s", recorder.Body.String())
	}
}
