package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/smtp"
	"net/textproto"
	"slices"
	"strings"
	"time"

	"github.com/kbukum/taskguard/logger"
	"github.com/kbukum/taskguard/queue"
	"github.com/kbukum/taskguard/resilience"
)

// Queue and job names served by this binary.
const (
	mailQueue    = "mail"
	sendJob      = "send"
	domainsQueue = "domains"
	verifyMXJob  = "verify-mx"
)

// MailJob is the payload of mail/send.
type MailJob struct {
	To      string `json:"to"`
	Subject string `json:"subject"`
	Body    string `json:"body"`
}

// MailResult is stored as the return value of a sent mail.
type MailResult struct {
	To     string `json:"to"`
	SentAt string `json:"sent_at"`
}

// DomainJob is the payload of domains/verify-mx.
type DomainJob struct {
	Domain string `json:"domain"`
}

// MXResult is stored as the return value of a verified domain.
type MXResult struct {
	Domain string   `json:"domain"`
	Valid  bool     `json:"valid"`
	Hosts  []string `json:"hosts,omitempty"`
}

// Mailer delivers one message.
type Mailer interface {
	Send(ctx context.Context, from string, to []string, msg []byte) error
}

// MXResolver looks up mail exchangers. *net.Resolver satisfies it.
type MXResolver interface {
	LookupMX(ctx context.Context, name string) ([]*net.MX, error)
}

// smtpMailer talks to a relay with net/smtp over a context-aware dial.
type smtpMailer struct {
	addr string
}

func (m smtpMailer) Send(ctx context.Context, from string, to []string, msg []byte) error {
	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", m.addr)
	if err != nil {
		return fmt.Errorf("dial %s: %w", m.addr, err)
	}
	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(deadline)
	}
	stop := context.AfterFunc(ctx, func() { _ = conn.Close() })
	defer stop()

	host, _, _ := net.SplitHostPort(m.addr)
	c, err := smtp.NewClient(conn, host)
	if err != nil {
		_ = conn.Close()
		return fmt.Errorf("smtp handshake: %w", err)
	}
	defer c.Close()

	if err := c.Mail(from); err != nil {
		return fmt.Errorf("smtp MAIL: %w", err)
	}
	for _, rcpt := range to {
		if err := c.Rcpt(rcpt); err != nil {
			return fmt.Errorf("smtp RCPT %s: %w", rcpt, err)
		}
	}
	w, err := c.Data()
	if err != nil {
		return fmt.Errorf("smtp DATA: %w", err)
	}
	if _, err := w.Write(msg); err != nil {
		return fmt.Errorf("smtp write: %w", err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("smtp DATA end: %w", err)
	}
	return c.Quit()
}

// newResolver returns the system resolver, or one pinned to server.
func newResolver(server string) *net.Resolver {
	if server == "" {
		return net.DefaultResolver
	}
	return &net.Resolver{
		PreferGo: true,
		Dial: func(ctx context.Context, network, _ string) (net.Conn, error) {
			var d net.Dialer
			return d.DialContext(ctx, network, server)
		},
	}
}

// dependency bundles what a handler needs to call one protected service.
type dependency struct {
	breaker  *resilience.CircuitBreaker
	bulkhead *resilience.Bulkhead
	timeout  time.Duration
	attempts int
	// retryDelay is the first in-call retry delay; it doubles up to 2s.
	retryDelay time.Duration
	log        *logger.Logger
}

func (d dependency) retryConfig(retryIf func(error) bool) *resilience.RetryConfig {
	cfg := resilience.DefaultRetryConfig()
	cfg.InitialDelay = d.retryDelay
	if cfg.InitialDelay <= 0 {
		cfg.InitialDelay = 200 * time.Millisecond
	}
	cfg.MaxDelay = 2 * time.Second
	cfg.Jitter = 0.2
	cfg.RetryIf = retryIf
	return &cfg
}

// retryableSMTP gives up on 5xx replies; the relay has refused the
// message and asking again will not change that.
func retryableSMTP(err error) bool {
	var reply *textproto.Error
	if errors.As(err, &reply) {
		return reply.Code < 500
	}
	return true
}

// retryableDNS retries timeouts and temporary resolver failures only.
func retryableDNS(err error) bool {
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return dnsErr.IsTimeout || dnsErr.IsTemporary
	}
	return true
}

// sendMailHandler delivers MailJob through the "smtp" breaker and bulkhead.
func sendMailHandler(mailer Mailer, from string, dep dependency) queue.Handler[MailJob] {
	return func(ctx context.Context, job *queue.Job[MailJob]) (any, error) {
		to := strings.TrimSpace(job.Data.To)
		if to == "" || !strings.Contains(to, "@") {
			return nil, fmt.Errorf("invalid recipient %q", job.Data.To)
		}
		msg := buildMessage(from, to, job.Data.Subject, job.Data.Body, job.ID)

		_, err := resilience.Resilient(ctx, func(ctx context.Context) (struct{}, error) {
			return struct{}{}, mailer.Send(ctx, from, []string{to}, msg)
		}, resilience.ResilientOptions[struct{}]{
			CircuitBreaker: dep.breaker,
			Bulkhead:       dep.bulkhead,
			Timeout:        dep.timeout,
			RetryAttempts:  dep.attempts,
			Retry:          dep.retryConfig(retryableSMTP),
		})
		if err != nil {
			dep.log.Warn("Mail delivery failed", logger.MergeWithError(
				logger.JobFields(job.Queue, job.ID, job.Name), err))
			return nil, resilience.WrapError(err)
		}
		return MailResult{To: to, SentAt: time.Now().UTC().Format(time.RFC3339)}, nil
	}
}

func buildMessage(from, to, subject, body, id string) []byte {
	var b strings.Builder
	fmt.Fprintf(&b, "From: %s\r\n", from)
	fmt.Fprintf(&b, "To: %s\r\n", to)
	fmt.Fprintf(&b, "Subject: %s\r\n", strings.ReplaceAll(subject, "\n", " "))
	fmt.Fprintf(&b, "Message-ID: <%s@taskguard>\r\n", id)
	b.WriteString("MIME-Version: 1.0\r\n")
	b.WriteString("Content-Type: text/plain; charset=utf-8\r\n\r\n")
	b.WriteString(strings.ReplaceAll(body, "\n", "\r\n"))
	return []byte(b.String())
}

// verifyMXHandler looks up DomainJob's MX records through the "dns"
// breaker and bulkhead. A domain that does not exist is a valid answer,
// not a failure.
func verifyMXHandler(resolver MXResolver, dep dependency) queue.Handler[DomainJob] {
	return func(ctx context.Context, job *queue.Job[DomainJob]) (any, error) {
		domain := strings.TrimSuffix(strings.ToLower(strings.TrimSpace(job.Data.Domain)), ".")
		if domain == "" {
			return nil, errors.New("domain is required")
		}

		records, err := resilience.Resilient(ctx, func(ctx context.Context) ([]*net.MX, error) {
			mx, err := resolver.LookupMX(ctx, domain)
			var dnsErr *net.DNSError
			if errors.As(err, &dnsErr) && dnsErr.IsNotFound {
				return nil, nil
			}
			return mx, err
		}, resilience.ResilientOptions[[]*net.MX]{
			CircuitBreaker: dep.breaker,
			Bulkhead:       dep.bulkhead,
			Timeout:        dep.timeout,
			RetryAttempts:  dep.attempts,
			Retry:          dep.retryConfig(retryableDNS),
		})
		if err != nil {
			return nil, resilience.WrapError(err)
		}

		res := MXResult{Domain: domain}
		for _, mx := range records {
			host := strings.TrimSuffix(mx.Host, ".")
			if host != "" && !slices.Contains(res.Hosts, host) {
				res.Hosts = append(res.Hosts, host)
			}
		}
		res.Valid = len(res.Hosts) > 0
		return res, nil
	}
}
