package oauthcontainer

import (
	"context"
	"encoding/json"
	"time"

	"github.com/Abraxas-365/manifesto/pkg/jobx"
	"github.com/Abraxas-365/manifesto/pkg/jobx/jobxredis"
	"github.com/Abraxas-365/manifesto/pkg/logx"
	"github.com/Abraxas-365/manifesto/pkg/notifx"
	"github.com/redis/go-redis/v9"
)

const emailJobType = "notifx.send_email"

// EmailJobQueue moves outgoing email off the request path: SendEmail
// enqueues the message on a redis-backed jobx queue instead of calling the
// underlying provider inline, so a slow or failing SES/SMTP round trip
// never holds up a password-reset or email-verification HTTP response.
type EmailJobQueue struct {
	client *jobx.Client
	inner  notifx.EmailSender
}

// NewEmailJobQueue wires a jobx.Client on top of a redis queue backend,
// registering a handler that replays enqueued messages through inner.
func NewEmailJobQueue(rdb *redis.Client, inner notifx.EmailSender, cfg JobxOptions) *EmailJobQueue {
	queue := jobxredis.NewRedisQueue(rdb)
	client := jobx.NewClient(queue,
		jobx.WithQueues(cfg.Queues...),
		jobx.WithConcurrency(cfg.Concurrency),
		jobx.WithPollInterval(cfg.PollInterval),
		jobx.WithShutdownTimeout(cfg.ShutdownTimeout),
		jobx.WithDequeueTimeout(cfg.DequeueTimeout),
		jobx.WithDefaultRetryDelay(cfg.DefaultRetryDelay),
	)

	q := &EmailJobQueue{client: client, inner: inner}
	client.Register(emailJobType, q.handle)
	return q
}

// JobxOptions is the subset of config.JobxConfig the email queue needs,
// kept separate so this package never imports pkg/config directly.
type JobxOptions struct {
	Queues            []string
	Concurrency       int
	PollInterval      time.Duration
	ShutdownTimeout   time.Duration
	DequeueTimeout    time.Duration
	DefaultRetryDelay time.Duration
}

// SendEmail implements notifx.EmailSender by enqueuing the message.
func (q *EmailJobQueue) SendEmail(ctx context.Context, msg notifx.EmailMessage, opts ...notifx.Option) error {
	payload, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	_, err = q.client.Enqueue(ctx, jobx.Job{Type: emailJobType, Payload: payload})
	return err
}

func (q *EmailJobQueue) handle(ctx context.Context, job *jobx.JobInfo) error {
	var msg notifx.EmailMessage
	if err := json.Unmarshal(job.Payload, &msg); err != nil {
		return err
	}
	return q.inner.SendEmail(ctx, msg)
}

// Start runs the worker loop until ctx is cancelled.
func (q *EmailJobQueue) Start(ctx context.Context) {
	if err := q.client.Start(ctx); err != nil {
		logx.WithError(err).Warn("oauthcontainer: email job queue stopped")
	}
}
