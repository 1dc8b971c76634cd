// Package worker implements the broker's worker subprocesses: the consumer
// workers that turn submission messages into SLURM batch jobs, and the
// status checker that advances the workflow job state machine.
//
// Scheduling model: one OS process per worker, one message in flight at a
// time (prefetch=1, manual acknowledgement). A worker holds no shared memory
// with its peers; all cross-process state lives in the database or on the
// message bus.
//
// Delivery discipline: every consumed delivery is acknowledged exactly once
// before the handler loop moves on, or the connection is torn down and the
// broker redelivers (at-least-once). Poison messages — undecodable bodies or
// references to missing database rows — are acknowledged and logged; they
// would never succeed on retry.
//
// On SIGINT/SIGTERM the in-flight delivery is acknowledged rather than
// requeued: a partially executed upload cannot be retried safely without a
// workspace backup mechanism, so the interrupted job is marked FAILED and
// the message is considered spent. The worker then closes its channel and
// exits 0.
package worker

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"
	"github.com/streadway/amqp"

	"operandi.gwdg.de/broker/common"
	"operandi.gwdg.de/broker/db"
	"operandi.gwdg.de/broker/hpc"
	"operandi.gwdg.de/broker/queue"
	"operandi.gwdg.de/broker/states"
)

// Worker couples a queue consumer with a message handler. It owns its AMQP
// channel and HPC sessions exclusively.
type Worker struct {
	log        *logrus.Entry
	queueName  string
	durable    bool
	autoDelete bool
	service    *queue.Service
	handler    Handler
	store      Datastore
}

// Run is the worker subprocess entry point: it configures per-process
// logging, installs signal handling, connects the database, the HPC gateway
// and the message bus, and consumes until interrupted. A returned error
// means the worker could not come up or lost a connection it could not
// re-establish; the supervisor reacts by respawning it.
func Run(cfg common.Config, queueName string, statusChecker bool) error {
	logPath, err := common.ConfigureProcessLogging(cfg.LogsDir, common.ProcessKindWorker, queueName)
	if err != nil {
		return err
	}
	log := common.Logger.WithFields(logrus.Fields{
		"queue": queueName,
		"pid":   os.Getpid(),
	})
	log.Infof("Worker starting, logging to %s", logPath)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := hpc.CheckKeyfile(cfg.HPCSSHKeyPath); err != nil {
		return err
	}

	store, err := db.Connect(ctx, cfg.DatabaseURL)
	if err != nil {
		return err
	}
	defer store.Close(context.Background())

	if err := store.EnsureDefaultUsers(ctx, cfg); err != nil {
		log.Warnf("Failed to ensure default user accounts: %v", err)
	}

	hpcConfig := hpc.NewConfig(cfg)
	executor, err := hpc.NewExecutor(hpcConfig)
	if err != nil {
		return err
	}
	defer executor.Close()
	log.Info("HPC executor connection successful")

	transfer, err := hpc.NewTransfer(hpcConfig)
	if err != nil {
		return err
	}
	defer transfer.Close()
	log.Info("HPC transfer connection successful")

	var handler Handler
	if statusChecker {
		handler = NewStatusChecker(store, executor, transfer, cfg.HPCRemoteCleanup)
	} else {
		handler = NewSubmissionHandler(store, executor, transfer)
	}

	worker := &Worker{
		log:        log,
		queueName:  queueName,
		durable:    queueName != common.QueueJobStatuses,
		autoDelete: queueName == common.QueueJobStatuses,
		service:    queue.NewService(cfg.RabbitMQURL),
		handler:    handler,
		store:      store,
	}
	return worker.consume(ctx)
}

// consume connects the bus, declares the worker's queue and processes
// deliveries strictly sequentially until the context is cancelled by a
// signal. A closed delivery channel outside shutdown triggers a reconnect
// with bounded backoff.
func (w *Worker) consume(ctx context.Context) error {
	if err := w.service.Connect(); err != nil {
		return err
	}
	defer w.service.Close()

	deliveries, err := w.prepareConsuming()
	if err != nil {
		return err
	}
	w.log.Infof("Started consuming from queue: %s", w.queueName)

	for {
		select {
		case <-ctx.Done():
			w.log.Info("Signal received, closing channel and exiting")
			w.service.CancelConsumer()
			return nil
		case delivery, open := <-deliveries:
			if !open {
				if ctx.Err() != nil {
					return nil
				}
				w.log.Warn("Delivery channel closed, reconnecting")
				if err := w.service.Reconnect(ctx); err != nil {
					return err
				}
				deliveries, err = w.prepareConsuming()
				if err != nil {
					return err
				}
				continue
			}
			w.handleDelivery(ctx, delivery)
			if ctx.Err() != nil {
				w.log.Info("Signal received during message handling, exiting")
				return nil
			}
		}
	}
}

// prepareConsuming declares the worker's queue and registers the consumer.
func (w *Worker) prepareConsuming() (<-chan amqp.Delivery, error) {
	if err := w.service.DeclareQueue(w.queueName, w.durable, w.autoDelete); err != nil {
		return nil, err
	}
	deliveries, err := w.service.Consume(w.queueName)
	if err != nil {
		return nil, fmt.Errorf("failed to start consuming from %s: %w", w.queueName, err)
	}
	return deliveries, nil
}

// handleDelivery runs the handler for one delivery and acknowledges it
// exactly once, regardless of the outcome. Failures are classified by their
// context: an interrupt marks the in-flight job FAILED, everything else is
// poison or an exhausted retry whose side effects the handler already
// recorded.
func (w *Worker) handleDelivery(ctx context.Context, delivery amqp.Delivery) {
	log := w.log.WithField("delivery_tag", delivery.DeliveryTag)
	log.Debugf("Consumed message: %s", string(delivery.Body))

	err := w.handler.Handle(ctx, delivery.Body)
	switch {
	case err == nil:
	case ctx.Err() != nil:
		log.Warnf("Message handling interrupted: %v", err)
		w.markInterrupted()
	default:
		log.Errorf("Message handling failed: %v", err)
	}

	log.Debugf("Acking delivery tag: %d", delivery.DeliveryTag)
	if ackErr := w.service.Ack(delivery.DeliveryTag); ackErr != nil {
		log.Errorf("Failed to ack delivery: %v", ackErr)
	}
}

// markInterrupted records a FAILED state for the job whose handling a
// signal cut short. The acknowledged message will not be redelivered, so
// without this write the job would appear stuck in a transfer state
// forever.
func (w *Worker) markInterrupted() {
	jobID := w.handler.CurrentJobID()
	if jobID == "" {
		return
	}
	if _, err := w.store.UpdateWorkflowJob(context.Background(), jobID, map[string]interface{}{
		"job_state": states.StateJobFailed,
	}); err != nil {
		w.log.WithField("job_id", jobID).Errorf("Failed to mark interrupted job as failed: %v", err)
	}
}
