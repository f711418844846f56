// Package notify delivers challenge codes to their owners.
package notify

import (
	"context"
	"encoding/json"
	"time"

	"github.com/sirupsen/logrus"

	"authcore.org/internal/auth"
	"authcore.org/internal/obs"
	"authcore.org/internal/queue"
)

// Notifier sends a challenge code. Delivery failures are logged, never returned.
type Notifier interface {
	SendChallenge(ctx context.Context, flow, destination, code string)
}

// Job is the email request picked up by the mailer.
type Job struct {
	Flow      string    `json:"flow"`
	Email     string    `json:"email"`
	Subject   string    `json:"subject"`
	Code      string    `json:"code"`
	CreatedAt time.Time `json:"created_at"`
}

var subjects = map[string]string{
	auth.FlowSignup:   "Complete your signup",
	auth.FlowPassword: "Restore your password",
	auth.FlowEmail:    "Confirm your new email",
}

// NewJob builds the email request for flow.
func NewJob(flow, destination, code string, now time.Time) Job {
	subject, ok := subjects[flow]
	if !ok {
		subject = "Your verification code"
	}
	return Job{Flow: flow, Email: destination, Subject: subject, Code: code, CreatedAt: now.UTC()}
}

// Queue pushes email jobs onto a Redis list.
type Queue struct {
	list *queue.List
	now  func() time.Time
}

// NewQueue returns a notifier enqueueing onto list.
func NewQueue(list *queue.List, now func() time.Time) *Queue {
	if now == nil {
		now = time.Now
	}
	return &Queue{list: list, now: now}
}

func (q *Queue) SendChallenge(ctx context.Context, flow, destination, code string) {
	entry := obs.Component("notify", "adapter").WithFields(logrus.Fields{"flow": flow})
	payload, err := json.Marshal(NewJob(flow, destination, code, q.now()))
	if err != nil {
		entry.WithError(err).WithField("event", "email_job_encode_failed").Error("encode email job")
		return
	}
	if err := q.list.Push(ctx, payload); err != nil {
		entry.WithError(err).WithField("event", "email_job_enqueue_failed").Error("enqueue email job")
		return
	}
	entry.WithField("event", "email_job_enqueued").Debug("email job enqueued")
}

// Log writes codes to the log. Demo deployments only.
type Log struct {
	logger *logrus.Logger
}

// NewLog returns a notifier writing to logger, or the shared logger when nil.
func NewLog(logger *logrus.Logger) *Log {
	if logger == nil {
		logger = obs.Logger()
	}
	return &Log{logger: logger}
}

func (l *Log) SendChallenge(_ context.Context, flow, destination, code string) {
	l.logger.WithFields(logrus.Fields{
		"event":       "challenge_issued",
		"module":      "notify",
		"layer":       "adapter",
		"flow":        flow,
		"destination": destination,
		"code":        code,
	}).Info("challenge code issued")
}

// Recorder keeps every notification in memory for tests.
type Recorder struct {
	Sent []Job
}

func (r *Recorder) SendChallenge(_ context.Context, flow, destination, code string) {
	r.Sent = append(r.Sent, NewJob(flow, destination, code, time.Time{}))
}

// Last returns the most recent notification.
func (r *Recorder) Last() (Job, bool) {
	if len(r.Sent) == 0 {
		return Job{}, false
	}
	return r.Sent[len(r.Sent)-1], true
}
