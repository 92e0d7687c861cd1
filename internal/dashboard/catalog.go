package dashboard

import "github.com/nthlayer/nthlayer/internal/metrics"

// histogramQuantile is the canonical quantile pattern every histogram intent
// uses.
const histogramQuantile = `histogram_quantile(0.99, sum by (le) (rate($metric{service="$service"}[5m])))`

// intentCatalog maps a technology to its monitoring intents. Order within a
// technology is the panel order on the generated dashboard.
var intentCatalog = map[metrics.Technology][]Intent{
	metrics.TechRedis: {
		{
			Name: "redis_connected_clients", Title: "Redis Connected Clients",
			Technology: metrics.TechRedis, MetricType: TypeGauge, Unit: "short",
			Candidates: []Candidate{
				{Metric: "redis_connected_clients", Expr: `redis_connected_clients{service="$service"}`},
				{Metric: "redis_clients_connected", Expr: `redis_clients_connected{service="$service"}`},
			},
			Guidance: "Install redis_exporter (oliver006/redis_exporter) next to the Redis instance and label its metrics with service=\"$service\".",
		},
		{
			Name: "redis_memory", Title: "Redis Memory Usage",
			Technology: metrics.TechRedis, MetricType: TypeGauge, Unit: "bytes",
			Candidates: []Candidate{
				{Metric: "redis_memory_used_bytes", Expr: `redis_memory_used_bytes{service="$service"}`},
			},
			Guidance: "Install redis_exporter to expose redis_memory_used_bytes.",
		},
		{
			Name: "redis_command_rate", Title: "Redis Command Rate",
			Technology: metrics.TechRedis, MetricType: TypeCounter, Unit: "ops",
			Candidates: []Candidate{
				{Metric: "redis_commands_processed_total", Expr: `rate(redis_commands_processed_total{service="$service"}[5m])`},
				{Metric: "redis_commands_total", Expr: `sum(rate(redis_commands_total{service="$service"}[5m]))`},
			},
			Guidance: "Install redis_exporter to expose command counters.",
		},
	},
	metrics.TechPostgres: {
		{
			Name: "postgres_connections", Title: "Postgres Connections",
			Technology: metrics.TechPostgres, MetricType: TypeGauge, Unit: "short",
			Candidates: []Candidate{
				{Metric: "pg_stat_database_numbackends", Expr: `sum(pg_stat_database_numbackends{service="$service"})`},
				{Metric: "pg_stat_activity_count", Expr: `sum(pg_stat_activity_count{service="$service"})`},
			},
			Guidance: "Install postgres_exporter (prometheus-community/postgres_exporter) and label its metrics with service=\"$service\".",
		},
		{
			Name: "postgres_transaction_rate", Title: "Postgres Transaction Rate",
			Technology: metrics.TechPostgres, MetricType: TypeCounter, Unit: "ops",
			Candidates: []Candidate{
				{Metric: "pg_stat_database_xact_commit", Expr: `sum(rate(pg_stat_database_xact_commit{service="$service"}[5m]))`},
			},
			Guidance: "Install postgres_exporter to expose transaction counters.",
		},
	},
	metrics.TechKafka: {
		{
			Name: "kafka_consumer_lag", Title: "Kafka Consumer Lag",
			Technology: metrics.TechKafka, MetricType: TypeGauge, Unit: "short",
			Candidates: []Candidate{
				{Metric: "kafka_consumergroup_lag", Expr: `sum(kafka_consumergroup_lag{service="$service"})`},
				{Metric: "kafka_consumer_lag_sum", Expr: `sum(kafka_consumer_lag_sum{service="$service"})`},
			},
			Guidance: "Install kafka_exporter (danielqsj/kafka_exporter) and label consumer-group metrics with service=\"$service\".",
		},
		{
			Name: "kafka_message_rate", Title: "Kafka Messages In",
			Technology: metrics.TechKafka, MetricType: TypeCounter, Unit: "ops",
			Candidates: []Candidate{
				{Metric: "kafka_topic_partition_current_offset", Expr: `sum(rate(kafka_topic_partition_current_offset{service="$service"}[5m]))`},
			},
			Guidance: "Install kafka_exporter to expose topic offsets.",
		},
	},
	metrics.TechHTTP: {
		{
			Name: "http_request_rate", Title: "Request Rate",
			Technology: metrics.TechHTTP, MetricType: TypeCounter, Unit: "reqps",
			Candidates: []Candidate{
				{Metric: "http_requests_total", Expr: `sum(rate(http_requests_total{service="$service"}[5m]))`},
				{Metric: "http_server_requests_total", Expr: `sum(rate(http_server_requests_total{service="$service"}[5m]))`},
			},
			Guidance: "Instrument the HTTP server with a request counter (http_requests_total) labelled with service=\"$service\".",
		},
		{
			Name: "http_error_ratio", Title: "Error Ratio",
			Technology: metrics.TechHTTP, MetricType: TypeCounter, Unit: "percentunit",
			Candidates: []Candidate{
				{Metric: "http_requests_total", Expr: `sum(rate(http_requests_total{service="$service",code=~"5.."}[5m])) / sum(rate(http_requests_total{service="$service"}[5m]))`},
			},
			Guidance: "Instrument the HTTP server with a request counter carrying a status-code label.",
		},
		{
			Name: "http_latency_p99", Title: "Latency p99",
			Technology: metrics.TechHTTP, MetricType: TypeHistogram, Unit: "s",
			Candidates: []Candidate{
				{Metric: "http_request_duration_seconds_bucket", Expr: histogramQuantile},
				{Metric: "http_server_duration_seconds_bucket", Expr: histogramQuantile},
			},
			Guidance: "Instrument the HTTP server with a duration histogram (http_request_duration_seconds).",
		},
	},
	metrics.TechGRPC: {
		{
			Name: "grpc_request_rate", Title: "gRPC Request Rate",
			Technology: metrics.TechGRPC, MetricType: TypeCounter, Unit: "reqps",
			Candidates: []Candidate{
				{Metric: "grpc_server_handled_total", Expr: `sum(rate(grpc_server_handled_total{service="$service"}[5m]))`},
			},
			Guidance: "Use go-grpc-prometheus server interceptors and label metrics with service=\"$service\".",
		},
		{
			Name: "grpc_error_ratio", Title: "gRPC Error Ratio",
			Technology: metrics.TechGRPC, MetricType: TypeCounter, Unit: "percentunit",
			Candidates: []Candidate{
				{Metric: "grpc_server_handled_total", Expr: `sum(rate(grpc_server_handled_total{service="$service",grpc_code!="OK"}[5m])) / sum(rate(grpc_server_handled_total{service="$service"}[5m]))`},
			},
			Guidance: "Use go-grpc-prometheus server interceptors to expose per-code counters.",
		},
		{
			Name: "grpc_latency_p99", Title: "gRPC Latency p99",
			Technology: metrics.TechGRPC, MetricType: TypeHistogram, Unit: "s",
			Candidates: []Candidate{
				{Metric: "grpc_server_handling_seconds_bucket", Expr: histogramQuantile},
			},
			Guidance: "Enable the go-grpc-prometheus handling-time histogram.",
		},
	},
	metrics.TechGoRuntime: {
		{
			Name: "go_goroutines", Title: "Goroutines",
			Technology: metrics.TechGoRuntime, MetricType: TypeGauge, Unit: "short",
			Candidates: []Candidate{
				{Metric: "go_goroutines", Expr: `go_goroutines{service="$service"}`},
			},
			Guidance: "Expose the Go runtime collector (promhttp default registry).",
		},
		{
			Name: "go_heap", Title: "Heap In Use",
			Technology: metrics.TechGoRuntime, MetricType: TypeGauge, Unit: "bytes",
			Candidates: []Candidate{
				{Metric: "go_memstats_heap_inuse_bytes", Expr: `go_memstats_heap_inuse_bytes{service="$service"}`},
			},
			Guidance: "Expose the Go runtime collector (promhttp default registry).",
		},
	},
}

// IntentsFor returns the catalog intents for a technology, or nil when the
// technology has no curated intents.
func IntentsFor(tech metrics.Technology) []Intent {
	return intentCatalog[tech]
}
