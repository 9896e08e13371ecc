package service

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	accountEventsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "snippetkeeper_account_events_total",
			Help: "Account lifecycle transitions by event",
		},
		[]string{"event"},
	)
	mailsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "snippetkeeper_mails_total",
			Help: "Verification and reset mails by kind and result",
		},
		[]string{"kind", "result"},
	)
	loginAttemptsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "snippetkeeper_login_attempts_total",
			Help: "Credential and OAuth sign-in attempts by method and result",
		},
		[]string{"method", "result"},
	)
)
