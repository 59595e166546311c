// Package metrics declares the Prometheus instruments of the performer service.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	QueueDepth = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "performer_queue_depth",
			Help: "Number of chat requests waiting for the performer",
		},
	)

	Responses = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "performer_responses_total",
			Help: "Requests seen by the response pipeline, by outcome",
		},
		[]string{"outcome"},
	)

	Songs = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "performer_songs_total",
			Help: "Song requests by final outcome",
		},
		[]string{"outcome"},
	)

	SpeechFailures = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "performer_speech_failures_total",
			Help: "Lines that could not be spoken after every retry",
		},
	)

	SoundEffects = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "performer_sound_effects_total",
			Help: "Sound-effect repetitions played",
		},
	)

	ChatMessages = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "performer_chat_messages_total",
			Help: "Chat messages received over NATS, by admission status",
		},
		[]string{"status"},
	)

	UIClients = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "performer_ui_clients",
			Help: "Connected UI websocket clients",
		},
	)
)
