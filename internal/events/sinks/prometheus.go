package sinks

import (
	"context"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/JakeFAU/marketmaster/internal/events"
)

// PrometheusSink counts user-facing events.
type PrometheusSink struct {
	searches      *prometheus.CounterVec
	toasts        *prometheus.CounterVec
	crawlNotices  prometheus.Counter
	notifications prometheus.Counter
	savedSize     prometheus.Gauge
	channelStates *prometheus.CounterVec
}

// NewPrometheusSink registers the collectors against reg.
func NewPrometheusSink(reg prometheus.Registerer) (*PrometheusSink, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	s := &PrometheusSink{
		searches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "marketmaster_ui_searches_total",
			Help: "Searches that reached a settled phase, partitioned by phase.",
		}, []string{"phase"}),
		toasts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "marketmaster_ui_toasts_total",
			Help: "Toasts shown, partitioned by level.",
		}, []string{"level"}),
		crawlNotices: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "marketmaster_ui_crawl_notices_total",
			Help: "Searches that scheduled a background crawl.",
		}),
		notifications: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "marketmaster_ui_notifications_total",
			Help: "Crawl-complete notifications delivered.",
		}),
		savedSize: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "marketmaster_ui_saved_list_size",
			Help: "Saved-list size as last shown.",
		}),
		channelStates: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "marketmaster_ui_channel_transitions_total",
			Help: "Notification channel state transitions.",
		}, []string{"state"}),
	}
	for _, collector := range []prometheus.Collector{
		s.searches,
		s.toasts,
		s.crawlNotices,
		s.notifications,
		s.savedSize,
		s.channelStates,
	} {
		if err := reg.Register(collector); err != nil {
			return nil, fmt.Errorf("register event collector: %w", err)
		}
	}
	return s, nil
}

// Consume updates the collectors from batch.
func (s *PrometheusSink) Consume(_ context.Context, batch []events.Event) error {
	for _, evt := range batch {
		switch evt.Kind {
		case events.KindSearchPhase:
			if settledPhase(evt.Phase) {
				s.searches.WithLabelValues(evt.Phase).Inc()
			}
		case events.KindToast:
			level := string(evt.Level)
			if level == "" {
				level = string(events.LevelInfo)
			}
			s.toasts.WithLabelValues(level).Inc()
		case events.KindCrawlNotice:
			s.crawlNotices.Inc()
		case events.KindNotification:
			s.notifications.Inc()
		case events.KindSavedChanged:
			s.savedSize.Set(float64(evt.Count))
		case events.KindChannelState:
			s.channelStates.WithLabelValues(evt.State).Inc()
		}
	}
	return nil
}

// Close implements the Sink interface; it performs no action.
func (s *PrometheusSink) Close(context.Context) error {
	return nil
}

// settledPhase mirrors search.Phase.Settled without importing the search package.
func settledPhase(phase string) bool {
	switch phase {
	case "displaying", "awaiting-crawl", "failed":
		return true
	}
	return false
}
