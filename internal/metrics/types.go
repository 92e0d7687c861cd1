// Package metrics queries a PromQL-compatible backend for the series that
// exist for a service, classifies metric families by technology, and executes
// the range queries the drift analyzer consumes.
package metrics

import (
	"fmt"
	"time"
)

// Technology buckets a metric family by the technology that emits it.
// Classification is a deterministic function of the metric name; unknown
// metrics land in TechOther.
type Technology string

const (
	TechHTTP          Technology = "http"
	TechGRPC          Technology = "grpc"
	TechRedis         Technology = "redis"
	TechPostgres      Technology = "postgres"
	TechMySQL         Technology = "mysql"
	TechKafka         Technology = "kafka"
	TechRabbitMQ      Technology = "rabbitmq"
	TechMongo         Technology = "mongodb"
	TechElasticsearch Technology = "elasticsearch"
	TechGoRuntime     Technology = "go"
	TechJVM           Technology = "jvm"
	TechOther         Technology = "other"
)

// Point is one sample of a budget time series.
type Point struct {
	Timestamp time.Time
	Value     float64
}

// BudgetSeries is a time-indexed sequence of error-budget values at a fixed
// resolution step.
type BudgetSeries struct {
	Points []Point
	Step   time.Duration
}

// Values returns just the sample values, in time order.
func (s *BudgetSeries) Values() []float64 {
	out := make([]float64, len(s.Points))
	for i, p := range s.Points {
		out[i] = p.Value
	}
	return out
}

// DiscoveryError reports a metrics-backend failure: the backend was
// unavailable or returned a malformed response.
type DiscoveryError struct {
	Op      string
	Message string
	Err     error
}

// Kind returns the stable error-kind label.
func (e *DiscoveryError) Kind() string { return "metric_discovery" }

func (e *DiscoveryError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("metric discovery %s: %s: %v", e.Op, e.Message, e.Err)
	}
	return fmt.Sprintf("metric discovery %s: %s", e.Op, e.Message)
}

func (e *DiscoveryError) Unwrap() error { return e.Err }
