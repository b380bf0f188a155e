package telemetry

import "github.com/prometheus/client_golang/prometheus"

var HTTPRequestDuration = prometheus.NewHistogramVec(
	prometheus.HistogramOpts{
		Namespace: "controlplane",
		Subsystem: "api",
		Name:      "request_duration_seconds",
		Help:      "HTTP request duration in seconds.",
		Buckets:   prometheus.DefBuckets,
	},
	[]string{"method", "path", "status"},
)

var WebhooksReceivedTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "controlplane",
		Subsystem: "webhook",
		Name:      "received_total",
		Help:      "Total number of webhook deliveries received by vendor.",
	},
	[]string{"vendor"},
)

var WebhookSignatureFailuresTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "controlplane",
		Subsystem: "webhook",
		Name:      "signature_failures_total",
		Help:      "Total number of webhook signature verification failures by vendor.",
	},
	[]string{"vendor", "reason"},
)

var ProvisioningRunsTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "controlplane",
		Subsystem: "provisioning",
		Name:      "runs_total",
		Help:      "Total number of provisioning runs by outcome.",
	},
	[]string{"status"},
)

var AgentRunsTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "controlplane",
		Subsystem: "agent",
		Name:      "runs_total",
		Help:      "Total number of agent dispatcher runs by outcome.",
	},
	[]string{"status", "trigger_source"},
)

var SchedulerJobsDispatchedTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "controlplane",
		Subsystem: "scheduler",
		Name:      "jobs_dispatched_total",
		Help:      "Total number of scheduled jobs dispatched by outcome.",
	},
	[]string{"status"},
)

var CredentialProxyRequestsTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "controlplane",
		Subsystem: "credential_proxy",
		Name:      "requests_total",
		Help:      "Total number of credential proxy requests by provider and upstream status class.",
	},
	[]string{"provider", "status_class"},
)

var FanoutPostsTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "controlplane",
		Subsystem: "fanout",
		Name:      "posts_total",
		Help:      "Total number of result fan-out posts by destination kind and outcome.",
	},
	[]string{"kind", "outcome"},
)

// All returns every control-plane-specific metric for registration.
func All() []prometheus.Collector {
	return []prometheus.Collector{
		HTTPRequestDuration,
		WebhooksReceivedTotal,
		WebhookSignatureFailuresTotal,
		ProvisioningRunsTotal,
		AgentRunsTotal,
		SchedulerJobsDispatchedTotal,
		CredentialProxyRequestsTotal,
		FanoutPostsTotal,
	}
}
