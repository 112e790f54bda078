package health

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/devrev/gamecatalog/internal/model"
	"github.com/devrev/gamecatalog/internal/store/storetest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fixedPending int

func (f fixedPending) PendingCount(ctx context.Context) (int, error) {
	return int(f), nil
}

func newProber(t *testing.T) (*NodeProber, *storetest.Nodes) {
	nodes := storetest.NewNodes(t)
	return NewNodeProber(nodes.Connector, nodes.All(), 0, nil, zap.NewNop()), nodes
}

func TestNodeProber_AllReachable(t *testing.T) {
	prober, nodes := newProber(t)
	ctx := context.Background()

	assert.True(t, prober.AllReachable(ctx))

	nodes.Connector.SetDown(model.EarlyPartition, true)
	before := nodes.Connector.Opens(model.LatePartition)
	assert.False(t, prober.AllReachable(ctx))

	// stops at the first unreachable node
	assert.Equal(t, before, nodes.Connector.Opens(model.LatePartition))

	nodes.Connector.SetDown(model.EarlyPartition, false)
	assert.True(t, prober.AllReachable(ctx))
}

func TestNodeProber_ProbeAll(t *testing.T) {
	prober, nodes := newProber(t)
	nodes.Connector.SetDown(model.Central, true)

	results := prober.ProbeAll(context.Background())
	require.Len(t, results, 3)
	assert.Error(t, results[model.Central])
	assert.NoError(t, results[model.EarlyPartition])
	assert.NoError(t, results[model.LatePartition])
}

func TestHealthChecker_Liveness(t *testing.T) {
	prober, _ := newProber(t)
	hc := NewHealthChecker(prober, nil, zap.NewNop())

	rec := httptest.NewRecorder()
	hc.LivenessHandler(rec, httptest.NewRequest(http.MethodGet, "/health/live", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	var status HealthStatus
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&status))
	assert.Equal(t, "alive", status.Status)
}

func TestHealthChecker_Readiness(t *testing.T) {
	tests := []struct {
		name       string
		down       model.NodeRole
		wantCode   int
		wantStatus string
	}{
		{"all up", "", http.StatusOK, "ready"},
		{"partition down", model.LatePartition, http.StatusOK, "degraded"},
		{"central down", model.Central, http.StatusServiceUnavailable, "not_ready"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			prober, nodes := newProber(t)
			if tt.down != "" {
				nodes.Connector.SetDown(tt.down, true)
			}
			hc := NewHealthChecker(prober, fixedPending(2), zap.NewNop())

			rec := httptest.NewRecorder()
			hc.ReadinessHandler(rec, httptest.NewRequest(http.MethodGet, "/health/ready", nil))

			assert.Equal(t, tt.wantCode, rec.Code)
			var status HealthStatus
			require.NoError(t, json.NewDecoder(rec.Body).Decode(&status))
			assert.Equal(t, tt.wantStatus, status.Status)
			require.NotNil(t, status.Pending)
			assert.Equal(t, 2, *status.Pending)
		})
	}
}
