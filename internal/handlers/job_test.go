package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/LCodingX/influence-dashboard/internal/requestdata"
	"github.com/LCodingX/influence-dashboard/internal/services"
	"github.com/LCodingX/influence-dashboard/internal/types"
)

type stubOrchestrator struct {
	services.JobOrchestrator

	resultsFn func(ctx context.Context, ownerUserID, jobID uuid.UUID) (json.RawMessage, error)
}

func (s *stubOrchestrator) Results(ctx context.Context, ownerUserID, jobID uuid.UUID) (json.RawMessage, error) {
	return s.resultsFn(ctx, ownerUserID, jobID)
}

func resultsRouter(stub *stubOrchestrator, userID uuid.UUID) *gin.Engine {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.Use(func(c *gin.Context) {
		ctx := requestdata.WithRequestData(c.Request.Context(), &requestdata.RequestData{UserID: userID})
		c.Request = c.Request.WithContext(ctx)
		c.Next()
	})
	router.GET("/api/jobs/:id/results", NewJobHandler(stub).GetResults)
	return router
}

func TestGetResultsAttachesInfluenceViews(t *testing.T) {
	payload := types.ResultsPayload{
		Influence: types.InfluenceMatrix{
			TrainingLabels: []string{"t0", "t1"},
			EvalLabels:     []string{"q0", "q1"},
			Scores:         [][]float64{{0.5, -0.25}, {1.0, 0.75}},
		},
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		t.Fatalf("marshal payload: %v", err)
	}

	stub := &stubOrchestrator{resultsFn: func(ctx context.Context, ownerUserID, jobID uuid.UUID) (json.RawMessage, error) {
		return raw, nil
	}}
	router := resultsRouter(stub, uuid.New())

	req := httptest.NewRequest(http.MethodGet, "/api/jobs/"+uuid.NewString()+"/results", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status: got %d body %s", w.Code, w.Body.String())
	}
	var body struct {
		Summary *struct {
			MostInfluentialRow int       `json:"most_influential_row"`
			RowMagnitudes      []float64 `json:"row_magnitudes"`
		} `json:"influence_summary"`
		Histogram []struct {
			Count int `json:"count"`
		} `json:"influence_histogram"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if body.Summary == nil {
		t.Fatalf("missing influence_summary: %s", w.Body.String())
	}
	if body.Summary.MostInfluentialRow != 1 {
		t.Fatalf("most influential row: got %d want 1", body.Summary.MostInfluentialRow)
	}
	total := 0
	for _, bin := range body.Histogram {
		total += bin.Count
	}
	if total != 4 {
		t.Fatalf("histogram counts sum to %d, want 4", total)
	}
}

func TestGetResultsServesRawWhenMatrixMalformed(t *testing.T) {
	// One score row for two training labels: the raw document still serves,
	// the derived views are dropped.
	raw := json.RawMessage(`{"influence":{"training_labels":["t0","t1"],"eval_labels":["q0"],"scores":[[0.5]]}}`)
	stub := &stubOrchestrator{resultsFn: func(ctx context.Context, ownerUserID, jobID uuid.UUID) (json.RawMessage, error) {
		return raw, nil
	}}
	router := resultsRouter(stub, uuid.New())

	req := httptest.NewRequest(http.MethodGet, "/api/jobs/"+uuid.NewString()+"/results", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status: got %d body %s", w.Code, w.Body.String())
	}
	var body map[string]json.RawMessage
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if _, ok := body["results"]; !ok {
		t.Fatalf("raw results missing: %s", w.Body.String())
	}
	if _, ok := body["influence_summary"]; ok {
		t.Fatalf("summary derived from malformed matrix")
	}
}
