package metrics

import "github.com/prometheus/client_golang/prometheus"

func init() {
	register(jobsProcessedTotal, jobsClaimedTotal, jobsReclaimedTotal, jobsSupersededTotal)
}

var jobsProcessedTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "triage_jobs_processed_total",
		Help: "Pipeline jobs finished, labeled by resulting status.",
	},
	[]string{"status"},
)

var jobsClaimedTotal = prometheus.NewCounter(
	prometheus.CounterOpts{
		Name: "triage_jobs_claimed_total",
		Help: "Pipeline jobs claimed for processing.",
	},
)

var jobsReclaimedTotal = prometheus.NewCounter(
	prometheus.CounterOpts{
		Name: "triage_jobs_reclaimed_total",
		Help: "Stuck processing jobs returned to the queue by the lease sweeper.",
	},
)

var jobsSupersededTotal = prometheus.NewCounter(
	prometheus.CounterOpts{
		Name: "triage_jobs_superseded_total",
		Help: "Pending jobs canceled because a newer job for the same thread arrived.",
	},
)

func IncJobProcessed(status string) { jobsProcessedTotal.WithLabelValues(norm(status)).Inc() }
func AddJobsClaimed(n int)          { jobsClaimedTotal.Add(float64(n)) }
func AddJobsReclaimed(n int)        { jobsReclaimedTotal.Add(float64(n)) }
func AddJobsSuperseded(n int)       { jobsSupersededTotal.Add(float64(n)) }
