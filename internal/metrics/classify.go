package metrics

import "strings"

// prefixTable maps metric-name prefixes to technologies. Order matters: more
// specific prefixes come first within each family.
var prefixTable = []struct {
	prefix string
	tech   Technology
}{
	{"redis_", TechRedis},
	{"pg_", TechPostgres},
	{"postgres_", TechPostgres},
	{"postgresql_", TechPostgres},
	{"mysql_", TechMySQL},
	{"kafka_", TechKafka},
	{"rabbitmq_", TechRabbitMQ},
	{"amqp_", TechRabbitMQ},
	{"mongodb_", TechMongo},
	{"mongo_", TechMongo},
	{"elasticsearch_", TechElasticsearch},
	{"es_", TechElasticsearch},
	{"grpc_", TechGRPC},
	{"http_", TechHTTP},
	{"nginx_", TechHTTP},
	{"traefik_", TechHTTP},
	{"go_", TechGoRuntime},
	{"process_", TechGoRuntime},
	{"jvm_", TechJVM},
}

// ClassifyMetric buckets a metric family by technology. Deterministic: the
// same name always yields the same technology.
func ClassifyMetric(name string) Technology {
	lower := strings.ToLower(name)
	for _, entry := range prefixTable {
		if strings.HasPrefix(lower, entry.prefix) {
			return entry.tech
		}
	}
	return TechOther
}
