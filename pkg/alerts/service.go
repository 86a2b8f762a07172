package alerts

import (
	"crypto/tls"
	"fmt"
	"time"

	"gopkg.in/mail.v2"

	"github.com/OpenSeneca/squadwatch/pkg/config"
	"github.com/OpenSeneca/squadwatch/pkg/logger"
	"github.com/OpenSeneca/squadwatch/pkg/monitor"
)

// sendTimeout bounds one SMTP conversation.
const sendTimeout = 15 * time.Second

// Service sends email alerts on node downtime and recovery. It implements
// monitor.Alerter; send failures are logged and never propagate into the
// probing loop.
type Service struct {
	config config.AlertsConfig
	logger *logger.Logger
}

// NewService creates an alert service. With Enabled false every call is a
// no-op.
func NewService(cfg config.AlertsConfig, log *logger.Logger) *Service {
	return &Service{
		config: cfg,
		logger: log,
	}
}

// NodeDown reports a node that crossed the consecutive-failure threshold.
func (s *Service) NodeDown(node monitor.Node, result monitor.ProbeResult, consecutive int) {
	if !s.config.Enabled {
		return
	}

	subject := fmt.Sprintf("[squadwatch] %s is down", displayName(node))
	body := fmt.Sprintf(
		"Node %s (%s) has failed %d consecutive health probes.\n\n"+
			"Last failure: %s\nError class: %s\nChecked at: %s\n",
		displayName(node), node.Address, consecutive,
		result.Activity, result.ErrorClass,
		result.Timestamp.Format(time.RFC3339))

	go s.send(subject, body, "node", node.ID)
}

// NodeRecovered reports a node coming back online after being offline.
func (s *Service) NodeRecovered(node monitor.Node, result monitor.ProbeResult) {
	if !s.config.Enabled {
		return
	}

	subject := fmt.Sprintf("[squadwatch] %s has recovered", displayName(node))
	body := fmt.Sprintf(
		"Node %s (%s) is back online.\n\n"+
			"Response time: %dms\nActivity: %s\nChecked at: %s\n",
		displayName(node), node.Address,
		result.ResponseTimeMs, result.Activity,
		result.Timestamp.Format(time.RFC3339))

	go s.send(subject, body, "node", node.ID)
}

func (s *Service) send(subject, body string, keysAndValues ...interface{}) {
	m := mail.NewMessage()
	m.SetHeader("From", s.config.From)
	m.SetHeader("To", s.config.To...)
	m.SetHeader("Subject", subject)
	m.SetBody("text/plain", body)

	d := mail.NewDialer(s.config.SMTPHost, s.config.SMTPPort, s.config.SMTPUser, s.config.SMTPPassword)
	d.Timeout = sendTimeout
	d.TLSConfig = &tls.Config{ServerName: s.config.SMTPHost}
	if s.config.TLS {
		d.SSL = true
	} else {
		d.StartTLSPolicy = mail.OpportunisticStartTLS
	}

	if err := d.DialAndSend(m); err != nil {
		// Log only; an alerting outage must not look like a monitoring one.
		s.logger.Error("could not send alert email",
			append([]interface{}{"subject", subject, "error", err}, keysAndValues...)...)
		return
	}
	s.logger.Info("alert sent", append([]interface{}{"subject", subject}, keysAndValues...)...)
}

func displayName(node monitor.Node) string {
	if node.Name != "" {
		return node.Name
	}
	return node.ID
}
