package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/customeros/mailpulse/interfaces"
	"github.com/customeros/mailpulse/internal/enum"
	er "github.com/customeros/mailpulse/internal/errors"
	"github.com/customeros/mailpulse/internal/models"
	"github.com/customeros/mailpulse/internal/repository"
	"github.com/customeros/mailpulse/internal/testdb"
	"github.com/customeros/mailpulse/services/insights"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type mockInsights struct {
	mock.Mock
}

func (m *mockInsights) LatencyP95(ctx context.Context, from, to time.Time, filter interfaces.LatencyFilter) (*insights.LatencyStat, error) {
	args := m.Called(ctx, from, to, filter)
	result, _ := args.Get(0).(*insights.LatencyStat)
	return result, args.Error(1)
}

func (m *mockInsights) OpenIncidents(ctx context.Context, limit int) ([]*models.Incident, error) {
	args := m.Called(ctx, limit)
	result, _ := args.Get(0).([]*models.Incident)
	return result, args.Error(1)
}

func (m *mockInsights) TopRiskSenders(ctx context.Context, limit int) ([]*models.RiskScore, error) {
	args := m.Called(ctx, limit)
	result, _ := args.Get(0).([]*models.RiskScore)
	return result, args.Error(1)
}

type resolverFunc func(ctx context.Context, id string) (*models.Incident, error)

func (f resolverFunc) ResolveIncident(ctx context.Context, id string) (*models.Incident, error) {
	return f(ctx, id)
}

type reaggregatorFunc func(ctx context.Context, fileID string) error

func (f reaggregatorFunc) Reaggregate(ctx context.Context, fileID string) error {
	return f(ctx, fileID)
}

func serve(t *testing.T, router *gin.Engine, method, target string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, target, nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func TestStatus_CountsFilesByStatus(t *testing.T) {
	repos := repository.InitRepositories(testdb.New(t))
	require.NoError(t, repos.FileRepository.Create(context.Background(), &models.UploadedFile{
		FileName:    "acct.csv",
		ContentHash: "hash-1",
		Status:      enum.FileStatusPending,
	}))

	router := gin.New()
	router.GET("/status", Status(repos.FileRepository))

	rec := serve(t, router, http.MethodGet, "/status")
	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		Status string           `json:"status"`
		Files  map[string]int64 `json:"files"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "ok", body.Status)
	assert.Equal(t, int64(1), body.Files["pending"])
	assert.Equal(t, int64(0), body.Files["completed"])
}

func TestLatencyP95_BindsWindowAndFilter(t *testing.T) {
	reader := &mockInsights{}
	from := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	to := from.Add(time.Hour)
	p95 := 1250.0
	reader.On("LatencyP95", mock.Anything, mock.MatchedBy(from.Equal), mock.MatchedBy(to.Equal),
		interfaces.LatencyFilter{RecipientDomain: "gmail.com"}).
		Return(&insights.LatencyStat{From: from, To: to, Samples: 4, P95Ms: &p95}, nil)

	router := gin.New()
	router.GET("/p95", LatencyP95(reader))

	rec := serve(t, router, http.MethodGet, "/p95?from=2024-05-01T10:00:00Z&to=2024-05-01T11:00:00Z&domain=gmail.com")
	require.Equal(t, http.StatusOK, rec.Code)
	var stat insights.LatencyStat
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &stat))
	assert.Equal(t, 4, stat.Samples)
	require.NotNil(t, stat.P95Ms)
	assert.Equal(t, 1250.0, *stat.P95Ms)

	rec = serve(t, router, http.MethodGet, "/p95?from=2024-05-01T11:00:00Z&to=2024-05-01T10:00:00Z")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = serve(t, router, http.MethodGet, "/p95")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestTopRiskSenders_DefaultAndInvalidLimit(t *testing.T) {
	reader := &mockInsights{}
	reader.On("TopRiskSenders", mock.Anything, 20).
		Return([]*models.RiskScore{{EntityValue: "news@brand.com", Score: 90}}, nil)

	router := gin.New()
	router.GET("/risk", TopRiskSenders(reader))

	rec := serve(t, router, http.MethodGet, "/risk")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "news@brand.com")

	rec = serve(t, router, http.MethodGet, "/risk?limit=0")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestResolveIncident_NotFound(t *testing.T) {
	router := gin.New()
	router.POST("/incidents/:id/resolve", ResolveIncident(resolverFunc(func(ctx context.Context, id string) (*models.Incident, error) {
		if id == "inc-1" {
			return &models.Incident{ID: id, Status: enum.IncidentStatusResolved}, nil
		}
		return nil, errors.Wrap(repository.ErrIncidentNotFound, id)
	})))

	rec := serve(t, router, http.MethodPost, "/incidents/inc-1/resolve")
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = serve(t, router, http.MethodPost, "/incidents/inc-2/resolve")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestReaggregate(t *testing.T) {
	var got string
	router := gin.New()
	router.POST("/files/:id/reaggregate", Reaggregate(reaggregatorFunc(func(ctx context.Context, fileID string) error {
		got = fileID
		switch fileID {
		case "missing":
			return repository.ErrFileNotFound
		case "busy":
			return errors.Wrap(er.ErrAggregationInProgress, "claim")
		}
		return nil
	})))

	rec := serve(t, router, http.MethodPost, "/files/file-1/reaggregate")
	assert.Equal(t, http.StatusAccepted, rec.Code)
	assert.Equal(t, "file-1", got)

	rec = serve(t, router, http.MethodPost, "/files/missing/reaggregate")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = serve(t, router, http.MethodPost, "/files/busy/reaggregate")
	assert.Equal(t, http.StatusConflict, rec.Code)
}
