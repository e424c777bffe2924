package security

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/Sam-Ezzat/conference-accommodation-app-sub001/pkg/logger"
	sec "github.com/Sam-Ezzat/conference-accommodation-app-sub001/pkg/security"
)

// AlertManager fans alerts out to the configured sinks. Dispatch is
// asynchronous through a bounded queue; a full queue drops the alert and
// records the drop rather than blocking the caller.
type AlertManager struct {
	sinks   []sec.AlertSink
	queue   chan *sec.SecurityAlert
	logger  *logger.Logger
	metrics *Metrics

	mu     sync.RWMutex
	recent []*sec.SecurityAlert

	stopChan  chan struct{}
	wg        sync.WaitGroup
	startOnce sync.Once
	stopOnce  sync.Once
}

const recentAlertCap = 100

// NewAlertManager creates an alert manager with the given sinks and queue
// capacity
func NewAlertManager(sinks []sec.AlertSink, queueSize int, log *logger.Logger, metrics *Metrics) *AlertManager {
	if queueSize <= 0 {
		queueSize = 500
	}
	return &AlertManager{
		sinks:    sinks,
		queue:    make(chan *sec.SecurityAlert, queueSize),
		logger:   log,
		metrics:  metrics,
		stopChan: make(chan struct{}),
	}
}

// Start launches the dispatch worker
func (m *AlertManager) Start() {
	m.startOnce.Do(func() {
		m.wg.Add(1)
		go m.worker()
	})
}

// Stop drains the queue and terminates the worker
func (m *AlertManager) Stop() {
	m.stopOnce.Do(func() {
		close(m.stopChan)
		m.wg.Wait()
	})
}

// Raise enqueues an alert for dispatch. Never blocks.
func (m *AlertManager) Raise(alert *sec.SecurityAlert) {
	if alert.Timestamp.IsZero() {
		alert.Timestamp = time.Now()
	}
	if alert.Status == "" {
		alert.Status = sec.AlertStatusNew
	}

	m.mu.Lock()
	m.recent = append(m.recent, alert)
	if len(m.recent) > recentAlertCap {
		m.recent = m.recent[len(m.recent)-recentAlertCap:]
	}
	m.mu.Unlock()

	if m.metrics != nil {
		m.metrics.AlertsRaised.WithLabelValues(alert.Type, string(alert.Severity)).Inc()
	}

	select {
	case m.queue <- alert:
	default:
		if m.metrics != nil {
			m.metrics.AlertsDropped.Inc()
		}
		m.logger.WithFields(map[string]interface{}{
			"component": "alert_manager",
			"alert_id":  alert.ID,
			"type":      alert.Type,
		}).Warn("Alert queue full, alert dropped")
	}
}

// Recent returns up to limit most recent alerts, newest first
func (m *AlertManager) Recent(limit int) []*sec.SecurityAlert {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if limit <= 0 || limit > len(m.recent) {
		limit = len(m.recent)
	}
	out := make([]*sec.SecurityAlert, 0, limit)
	for i := len(m.recent) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, m.recent[i])
	}
	return out
}

// Acknowledge marks a recent alert as acknowledged by the given user
func (m *AlertManager) Acknowledge(alertID, userID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, a := range m.recent {
		if a.ID == alertID {
			now := time.Now()
			a.Status = sec.AlertStatusAcknowledged
			a.AcknowledgedBy = userID
			a.AcknowledgedAt = &now
			return nil
		}
	}
	return sec.NewError(sec.ErrorTypeNotFound, "alert %q not found", alertID).WithSubject(alertID)
}

func (m *AlertManager) worker() {
	defer m.wg.Done()
	for {
		select {
		case alert := <-m.queue:
			m.dispatch(alert)
		case <-m.stopChan:
			// Drain whatever is already queued before exiting.
			for {
				select {
				case alert := <-m.queue:
					m.dispatch(alert)
				default:
					return
				}
			}
		}
	}
}

func (m *AlertManager) dispatch(alert *sec.SecurityAlert) {
	for _, sink := range m.sinks {
		if !sink.Enabled() {
			continue
		}
		if err := sink.Send(alert); err != nil {
			m.logger.WithFields(map[string]interface{}{
				"component": "alert_manager",
				"alert_id":  alert.ID,
				"channel":   sink.ChannelType(),
				"error":     err.Error(),
			}).Error("Failed to deliver alert")
		}
	}
}

// LogSink writes alerts to the structured log. Always enabled; serves as the
// delivery floor when no other sink is configured.
type LogSink struct {
	Logger *logger.Logger
}

func (s *LogSink) ChannelType() string { return "log" }
func (s *LogSink) Enabled() bool       { return true }

func (s *LogSink) Send(alert *sec.SecurityAlert) error {
	s.Logger.Security("security_alert", alert.UserID, map[string]interface{}{
		"alert_id":    alert.ID,
		"alert_type":  alert.Type,
		"severity":    string(alert.Severity),
		"title":       alert.Title,
		"description": alert.Description,
	})
	return nil
}

// WebhookSink POSTs alerts as JSON to a configured endpoint with retries
type WebhookSink struct {
	URL        string
	Client     *http.Client
	MaxRetries int
	Backoff    time.Duration
}

// NewWebhookSink creates a webhook sink. An empty URL disables the sink.
func NewWebhookSink(url string, timeout time.Duration) *WebhookSink {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &WebhookSink{
		URL:        url,
		Client:     &http.Client{Timeout: timeout},
		MaxRetries: 3,
		Backoff:    time.Second,
	}
}

func (s *WebhookSink) ChannelType() string { return "webhook" }
func (s *WebhookSink) Enabled() bool       { return s.URL != "" }

func (s *WebhookSink) Send(alert *sec.SecurityAlert) error {
	payload, err := json.Marshal(alert)
	if err != nil {
		return fmt.Errorf("failed to marshal alert: %w", err)
	}

	var lastErr error
	for attempt := 0; attempt < s.MaxRetries; attempt++ {
		if attempt > 0 {
			time.Sleep(time.Duration(attempt) * s.Backoff)
		}
		resp, err := s.Client.Post(s.URL, "application/json", bytes.NewReader(payload))
		if err != nil {
			lastErr = err
			continue
		}
		resp.Body.Close()
		if resp.StatusCode >= 200 && resp.StatusCode < 300 {
			return nil
		}
		lastErr = fmt.Errorf("webhook returned status %d", resp.StatusCode)
	}
	return fmt.Errorf("webhook delivery failed after %d attempts: %w", s.MaxRetries, lastErr)
}
