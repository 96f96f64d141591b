package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics agrupa as métricas Prometheus do serviço. Um *Metrics nil é válido:
// os métodos viram no-op.
type Metrics struct {
	TradesExecuted *prometheus.CounterVec
	EscrowEvents   *prometheus.CounterVec
	EventQueueLen  prometheus.Gauge
	ChainTxs       *prometheus.CounterVec
	YieldPayouts   *prometheus.CounterVec
	YieldPaidDNR   prometheus.Counter
	YieldRuns      prometheus.Counter
}

func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		TradesExecuted: f.NewCounterVec(prometheus.CounterOpts{
			Name: "aether_trades_total",
			Help: "Execuções de ordens por resultado.",
		}, []string{"result"}),
		EscrowEvents: f.NewCounterVec(prometheus.CounterOpts{
			Name: "aether_escrow_events_total",
			Help: "Eventos de escrow processados por tipo e resultado.",
		}, []string{"kind", "result"}),
		EventQueueLen: f.NewGauge(prometheus.GaugeOpts{
			Name: "aether_escrow_event_queue_length",
			Help: "Eventos aguardando na fila de reconciliação.",
		}),
		ChainTxs: f.NewCounterVec(prometheus.CounterOpts{
			Name: "aether_chain_transactions_total",
			Help: "Transações enviadas à rede por ação e resultado.",
		}, []string{"action", "result"}),
		YieldPayouts: f.NewCounterVec(prometheus.CounterOpts{
			Name: "aether_yield_payouts_total",
			Help: "Pagamentos de rendimento por status.",
		}, []string{"status"}),
		YieldPaidDNR: f.NewCounter(prometheus.CounterOpts{
			Name: "aether_yield_paid_dnr_total",
			Help: "Total de DNR pago em rendimentos confirmados.",
		}),
		YieldRuns: f.NewCounter(prometheus.CounterOpts{
			Name: "aether_yield_runs_total",
			Help: "Rodadas de distribuição iniciadas.",
		}),
	}
}

func (m *Metrics) Trade(result string) {
	if m == nil {
		return
	}
	m.TradesExecuted.WithLabelValues(result).Inc()
}

func (m *Metrics) EscrowEvent(kind, result string) {
	if m == nil {
		return
	}
	m.EscrowEvents.WithLabelValues(kind, result).Inc()
}

func (m *Metrics) QueueLen(n int) {
	if m == nil {
		return
	}
	m.EventQueueLen.Set(float64(n))
}

func (m *Metrics) ChainTx(action, result string) {
	if m == nil {
		return
	}
	m.ChainTxs.WithLabelValues(action, result).Inc()
}

func (m *Metrics) Payout(status string, amount float64) {
	if m == nil {
		return
	}
	m.YieldPayouts.WithLabelValues(status).Inc()
	if status == "SUCCESS" {
		m.YieldPaidDNR.Add(amount)
	}
}

func (m *Metrics) YieldRun() {
	if m == nil {
		return
	}
	m.YieldRuns.Inc()
}
