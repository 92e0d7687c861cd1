package metrics

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClassifyMetric(t *testing.T) {
	cases := map[string]Technology{
		"redis_connected_clients":        TechRedis,
		"pg_stat_activity_count":         TechPostgres,
		"kafka_consumer_lag":             TechKafka,
		"http_requests_total":            TechHTTP,
		"grpc_server_handled_total":      TechGRPC,
		"go_goroutines":                  TechGoRuntime,
		"jvm_memory_used_bytes":          TechJVM,
		"HTTP_REQUESTS_TOTAL":            TechHTTP,
		"my_custom_business_metric":      TechOther,
		"elasticsearch_cluster_health":   TechElasticsearch,
		"rabbitmq_queue_messages_ready":  TechRabbitMQ,
		"mongodb_connections":            TechMongo,
	}
	for name, want := range cases {
		assert.Equal(t, want, ClassifyMetric(name), "metric=%s", name)
	}

	// Determinism: repeated calls agree.
	for i := 0; i < 5; i++ {
		assert.Equal(t, TechRedis, ClassifyMetric("redis_keyspace_hits_total"))
	}
}

// fakePrometheus serves canned Prometheus API v1 JSON.
func fakePrometheus(t *testing.T, handlers map[string]string) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, ok := handlers[r.URL.Path]
		if !ok {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(body))
	}))
}

func TestDiscoverForService(t *testing.T) {
	srv := fakePrometheus(t, map[string]string{
		"/api/v1/series": `{"status":"success","data":[
			{"__name__":"http_requests_total","service":"checkout"},
			{"__name__":"http_requests_total","service":"checkout","code":"500"},
			{"__name__":"redis_connected_clients","service":"checkout"}
		]}`,
	})
	defer srv.Close()

	client, err := NewClient(ClientConfig{URL: srv.URL})
	require.NoError(t, err)

	names, err := client.DiscoverForService(context.Background(), "checkout")
	require.NoError(t, err)
	assert.Len(t, names, 2)
	assert.Contains(t, names, "http_requests_total")
	assert.Contains(t, names, "redis_connected_clients")
}

func TestDiscoverForService_Cached(t *testing.T) {
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"status":"success","data":[{"__name__":"up","service":"checkout"}]}`))
	}))
	defer srv.Close()

	client, err := NewClient(ClientConfig{URL: srv.URL})
	require.NoError(t, err)

	_, err = client.DiscoverForService(context.Background(), "checkout")
	require.NoError(t, err)
	_, err = client.DiscoverForService(context.Background(), "checkout")
	require.NoError(t, err)
	assert.Equal(t, 1, calls)
}

func TestLabelValues(t *testing.T) {
	srv := fakePrometheus(t, map[string]string{
		"/api/v1/label/service/values": `{"status":"success","data":["payment","checkout","billing"]}`,
	})
	defer srv.Close()

	client, err := NewClient(ClientConfig{URL: srv.URL})
	require.NoError(t, err)

	values, err := client.LabelValues(context.Background(), "service")
	require.NoError(t, err)
	// Sorted at the boundary
	assert.Equal(t, []string{"billing", "checkout", "payment"}, values)
}

func TestRangeQuery(t *testing.T) {
	srv := fakePrometheus(t, map[string]string{
		"/api/v1/query_range": `{"status":"success","data":{"resultType":"matrix","result":[
			{"metric":{"service":"checkout"},"values":[[1700000000,"0.95"],[1700003600,"0.94"]]}
		]}}`,
	})
	defer srv.Close()

	client, err := NewClient(ClientConfig{URL: srv.URL})
	require.NoError(t, err)

	end := time.Now()
	series, err := client.RangeQuery(context.Background(), "nthlayer:budget", end.Add(-2*time.Hour), end, time.Hour)
	require.NoError(t, err)
	require.Len(t, series.Points, 2)
	assert.Equal(t, 0.95, series.Points[0].Value)
	assert.Equal(t, 0.94, series.Points[1].Value)
	assert.Equal(t, time.Hour, series.Step)
}

func TestRangeQuery_InvalidWindow(t *testing.T) {
	client, err := NewClient(ClientConfig{URL: "http://localhost:9090"})
	require.NoError(t, err)

	now := time.Now()
	_, err = client.RangeQuery(context.Background(), "up", now, now, time.Hour)
	require.Error(t, err)
	var derr *DiscoveryError
	assert.ErrorAs(t, err, &derr)

	_, err = client.RangeQuery(context.Background(), "up", now.Add(-time.Hour), now, 0)
	assert.Error(t, err)
}

func TestRangeQuery_BackendError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer srv.Close()

	client, err := NewClient(ClientConfig{URL: srv.URL})
	require.NoError(t, err)

	end := time.Now()
	_, err = client.RangeQuery(context.Background(), "up", end.Add(-time.Hour), end, time.Minute)
	require.Error(t, err)
	var derr *DiscoveryError
	require.ErrorAs(t, err, &derr)
	assert.Equal(t, "metric_discovery", derr.Kind())
}
