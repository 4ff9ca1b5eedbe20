package messaging

import "github.com/cashflow/platform/internal/platform/metrics"

var (
	messagesTotal = metrics.NewCounterVec(metrics.Opts{
		Name: "replication_messages_total",
		Help: "Deliveries handled, by consumer, outcome and reason.",
	}, []string{"consumer", "outcome", "reason"})
	handleSeconds = metrics.NewHistogramVec(metrics.HistogramOpts{
		Opts: metrics.Opts{
			Name: "replication_handle_seconds",
			Help: "Time spent handling one delivery.",
		},
	}, []string{"consumer"})
	inflight = metrics.NewGaugeVec(metrics.Opts{
		Name: "replication_inflight",
		Help: "Deliveries currently held by workers.",
	}, []string{"consumer"})
	deadLetters = metrics.NewCounterVec(metrics.Opts{
		Name: "replication_dead_letters_total",
		Help: "Deliveries parked on the dead-letter stream.",
	}, []string{"consumer"})
)

func init() {
	metrics.Default.MustRegister(messagesTotal, handleSeconds, inflight, deadLetters)
}
