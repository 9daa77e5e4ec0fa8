/*
Copyright 2024 Nullroute Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

	http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package nullroute

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/hibiken/asynq"
	"github.com/sirupsen/logrus"

	"github.com/nullroute/nullroute/config"
	"github.com/nullroute/nullroute/internal/apierror"
	redlock "github.com/nullroute/nullroute/internal/lock"
	redis_db "github.com/nullroute/nullroute/internal/redis-db"
)

// StatusPollTask is the asynq task type that re-checks a transfer's status.
const StatusPollTask = "transfer:status_poll"

const pollLockTTL = time.Minute

// StatusPollPayload identifies the transfer to poll and how many polls came before.
type StatusPollPayload struct {
	TransferID string `json:"transfer_id"`
	Attempt    int    `json:"attempt"`
}

// Queue schedules status polls on asynq.
type Queue struct {
	Client    *asynq.Client
	Inspector *asynq.Inspector
	name      string
	interval  time.Duration
}

// NewQueue connects to the Redis instance in conf.
func NewQueue(conf *config.Configuration) (*Queue, error) {
	opt, err := redis_db.AsynqOpt(conf.Redis.Dns, conf.Redis.SkipTLSVerify)
	if err != nil {
		return nil, err
	}
	return &Queue{
		Client:    asynq.NewClient(opt),
		Inspector: asynq.NewInspector(opt),
		name:      conf.Queue.StatusPollQueue,
		interval:  time.Duration(conf.Queue.PollIntervalSec) * time.Second,
	}, nil
}

func pollTaskID(transferID string, attempt int) string {
	return fmt.Sprintf("%s:%d", transferID, attempt)
}

// SchedulePoll enqueues poll number attempt for transferID to run after the poll interval.
// Scheduling the same attempt twice is a no-op.
func (q *Queue) SchedulePoll(ctx context.Context, transferID string, attempt int) error {
	payload, err := json.Marshal(StatusPollPayload{TransferID: transferID, Attempt: attempt})
	if err != nil {
		return err
	}

	task := asynq.NewTask(StatusPollTask, payload)
	info, err := q.Client.EnqueueContext(ctx, task,
		asynq.TaskID(pollTaskID(transferID, attempt)),
		asynq.Queue(q.name),
		asynq.ProcessIn(q.interval),
	)
	if errors.Is(err, asynq.ErrTaskIDConflict) {
		return nil
	}
	if err != nil {
		return err
	}

	logrus.WithFields(logrus.Fields{
		"transfer_id": transferID,
		"attempt":     attempt,
		"task_id":     info.ID,
	}).Debug("status poll scheduled")
	return nil
}

func (q *Queue) Close() error {
	if err := q.Inspector.Close(); err != nil {
		return err
	}
	return q.Client.Close()
}

// ProcessStatusPoll handles a StatusPollTask. It polls once and schedules the next poll until
// the transfer reaches a terminal status or the poll budget is spent.
func (n *Nullroute) ProcessStatusPoll(ctx context.Context, t *asynq.Task) error {
	var payload StatusPollPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return fmt.Errorf("invalid status poll payload: %v: %w", err, asynq.SkipRetry)
	}
	if payload.TransferID == "" {
		return fmt.Errorf("status poll without transfer id: %w", asynq.SkipRetry)
	}

	entry := logrus.WithFields(logrus.Fields{
		"transfer_id": payload.TransferID,
		"attempt":     payload.Attempt,
	})

	if n.redis != nil {
		locker := redlock.NewTransferLocker(n.redis, payload.TransferID)
		if err := locker.Lock(ctx, pollLockTTL); err != nil {
			if errors.Is(err, redlock.ErrLockHeld) {
				entry.Debug("transfer is being polled elsewhere")
				return nil
			}
			return err
		}
		defer func() {
			if err := locker.Unlock(context.Background()); err != nil {
				entry.WithError(err).Warn("failed to release poll lock")
			}
		}()
		// A poll can wait behind a long governor line.
		defer holdLock(ctx, locker, pollLockTTL, entry)()
	}

	record, err := n.GetTransferStatus(ctx, payload.TransferID)
	if err != nil {
		if apierror.IsCode(err, apierror.ErrNotFound) || apierror.IsCode(err, apierror.ErrValidation) {
			return fmt.Errorf("%v: %w", err, asynq.SkipRetry)
		}
		entry.WithError(err).Warn("status poll failed")
		return n.nextPoll(ctx, payload)
	}

	if record.Status.IsTerminal() {
		entry.WithField("status", record.Status).Info("transfer reached a terminal status")
		return nil
	}
	return n.nextPoll(ctx, payload)
}

// holdLock extends the lock by ttl every ttl/2 until the returned stop func is called.
func holdLock(ctx context.Context, locker *redlock.Locker, ttl time.Duration, entry *logrus.Entry) func() {
	done := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		ticker := time.NewTicker(ttl / 2)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ctx.Done():
				return
			case <-ticker.C:
				if err := locker.ExtendLock(ctx, ttl); err != nil {
					entry.WithError(err).Warn("failed to extend poll lock")
					return
				}
			}
		}
	}()
	return func() {
		close(done)
		wg.Wait()
	}
}

func (n *Nullroute) nextPoll(ctx context.Context, payload StatusPollPayload) error {
	if payload.Attempt >= n.maxPollAttempts {
		logrus.WithField("transfer_id", payload.TransferID).Warn("status poll budget exhausted")
		if err := n.datasource.FlagTransferForReconciliation(ctx, payload.TransferID, "status polling exhausted"); err != nil {
			logrus.WithField("transfer_id", payload.TransferID).WithError(err).Error("failed to flag transfer")
		}
		return nil
	}
	if n.poller == nil {
		return nil
	}
	return n.poller.SchedulePoll(ctx, payload.TransferID, payload.Attempt+1)
}
