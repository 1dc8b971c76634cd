// Package broker implements the supervisor process of the OPERANDI broker.
// The supervisor forks one worker subprocess per known queue, then parks: it
// wakes only for signals, which it fans out to the workers in reverse spawn
// order, and for child exits, which it answers with bounded-backoff respawns.
//
// The supervisor itself never opens a database, message bus or SSH
// connection; all external I/O lives inside the worker subprocesses. A
// crashing external-service client therefore takes down only its own
// process, and the operating system reclaims its sockets, file handles and
// stale SSH channels wholesale before the respawn.
package broker

import (
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/sirupsen/logrus"

	"operandi.gwdg.de/broker/common"
)

// Role distinguishes the two worker kinds.
type Role string

const (
	RoleConsumer      Role = "consumer"
	RoleStatusChecker Role = "status_checker"
)

// QueueSpec names one queue and the worker role consuming it.
type QueueSpec struct {
	Name string
	Role Role
}

// KnownQueues is the fixed queue-to-role assignment. Order matters: workers
// are spawned in this order and signalled in reverse.
func KnownQueues() []QueueSpec {
	return []QueueSpec{
		{Name: common.QueueHarvester, Role: RoleConsumer},
		{Name: common.QueueUsers, Role: RoleConsumer},
		{Name: common.QueueJobStatuses, Role: RoleStatusChecker},
	}
}

// maxConsecutiveFailures is how many times in a row a worker may die with a
// non-zero exit before its queue is marked unhealthy and given up on.
const maxConsecutiveFailures = 5

// healthyUptime is how long a worker must live for its failure streak to
// reset.
const healthyUptime = 60 * time.Second

// DefaultGracePeriod is how long the supervisor waits for workers to exit
// after fanning out SIGINT.
const DefaultGracePeriod = 3 * time.Second

// workerHandle tracks one supervised worker subprocess.
type workerHandle struct {
	spec      QueueSpec
	proc      WorkerProcess
	startedAt time.Time
	failures  int
	unhealthy bool
	backoff   *backoff.ExponentialBackOff
}

// exitEvent reports a worker's death to the supervisor loop.
type exitEvent struct {
	handle *workerHandle
	err    error
}

// Supervisor owns the worker handles. All I/O happens in the workers; the
// supervisor only forks, signals and waits.
type Supervisor struct {
	log      *logrus.Entry
	launcher ProcessLauncher
	grace    time.Duration

	mu           sync.Mutex
	workers      []*workerHandle
	shuttingDown bool
	liveWorkers  int

	exitEvents chan exitEvent
	respawns   chan *workerHandle

	// respawnInitial seeds the respawn backoff; tests shrink it.
	respawnInitial time.Duration
}

// NewSupervisor creates a supervisor using the given process launcher.
func NewSupervisor(launcher ProcessLauncher, grace time.Duration) *Supervisor {
	if grace == 0 {
		grace = DefaultGracePeriod
	}
	return &Supervisor{
		log:            common.Logger.WithField("pid", os.Getpid()),
		launcher:       launcher,
		grace:          grace,
		exitEvents:     make(chan exitEvent, 16),
		respawns:       make(chan *workerHandle, 16),
		respawnInitial: 1 * time.Second,
	}
}

// Start spawns one worker per known queue.
func (s *Supervisor) Start() error {
	for _, spec := range KnownQueues() {
		policy := backoff.NewExponentialBackOff()
		policy.InitialInterval = s.respawnInitial
		policy.MaxInterval = 30 * time.Second
		policy.RandomizationFactor = 0.2
		policy.MaxElapsedTime = 0

		handle := &workerHandle{spec: spec, backoff: policy}
		s.log.Infof("Creating a worker process to consume from queue: %s", spec.Name)
		if err := s.spawn(handle); err != nil {
			return fmt.Errorf("failed to spawn worker for queue %s: %w", spec.Name, err)
		}
		s.mu.Lock()
		s.workers = append(s.workers, handle)
		s.mu.Unlock()
	}
	return nil
}

// spawn launches a worker subprocess for a handle and starts the goroutine
// that reports its exit.
func (s *Supervisor) spawn(handle *workerHandle) error {
	proc, err := s.launcher.Launch(handle.spec)
	if err != nil {
		return err
	}

	s.mu.Lock()
	handle.proc = proc
	handle.startedAt = time.Now()
	s.liveWorkers++
	s.mu.Unlock()

	s.log.Infof("Worker for queue %s running with pid %d", handle.spec.Name, proc.Pid())
	go func() {
		err := proc.Wait()
		s.exitEvents <- exitEvent{handle: handle, err: err}
	}()
	return nil
}

// Run parks the supervisor until SIGINT/SIGTERM, handling child exits and
// scheduled respawns in between. It returns nil on a clean shutdown.
func (s *Supervisor) Run() error {
	signals := make(chan os.Signal, 1)
	signal.Notify(signals, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(signals)
	return s.run(signals)
}

// run is the supervisor event loop, split out so tests can drive it with a
// plain channel instead of process signals.
func (s *Supervisor) run(signals <-chan os.Signal) error {
	for {
		select {
		case sig := <-signals:
			s.log.Infof("%s received, shutting down workers", sig)
			s.shutdown()
			return nil
		case event := <-s.exitEvents:
			s.handleExit(event)
		case handle := <-s.respawns:
			s.handleRespawn(handle)
		}
	}
}

// handleExit reacts to a worker's death: clean exits are final, crashes are
// respawned after a bounded backoff until the failure budget is spent.
func (s *Supervisor) handleExit(event exitEvent) {
	s.mu.Lock()
	s.liveWorkers--
	shuttingDown := s.shuttingDown
	s.mu.Unlock()

	handle := event.handle
	queueName := handle.spec.Name

	if shuttingDown {
		s.log.Infof("Worker for queue %s exited during shutdown", queueName)
		return
	}
	if event.err == nil {
		// A zero exit is deliberate (the worker handled its own signal);
		// respawning it would resurrect work nobody asked for.
		s.log.Infof("Worker for queue %s exited cleanly, not respawning", queueName)
		return
	}

	uptime := time.Since(handle.startedAt)
	s.mu.Lock()
	if uptime >= healthyUptime {
		handle.failures = 0
		handle.backoff.Reset()
	}
	handle.failures++
	failures := handle.failures
	gaveUp := failures >= maxConsecutiveFailures
	handle.unhealthy = gaveUp
	s.mu.Unlock()

	s.log.Errorf("Worker for queue %s died after %s: %v (consecutive failures: %d)",
		queueName, uptime.Round(time.Millisecond), event.err, failures)

	if gaveUp {
		s.log.Errorf("Queue %s marked unhealthy after %d consecutive failures, giving up on it",
			queueName, failures)
		return
	}

	delay := handle.backoff.NextBackOff()
	s.log.Infof("Respawning worker for queue %s in %s", queueName, delay.Round(time.Millisecond))
	time.AfterFunc(delay, func() {
		s.respawns <- handle
	})
}

// handleRespawn relaunches a worker whose backoff delay elapsed.
func (s *Supervisor) handleRespawn(handle *workerHandle) {
	s.mu.Lock()
	skip := s.shuttingDown || handle.unhealthy
	s.mu.Unlock()
	if skip {
		return
	}
	if err := s.spawn(handle); err != nil {
		s.mu.Lock()
		handle.failures++
		failures := handle.failures
		gaveUp := failures >= maxConsecutiveFailures
		handle.unhealthy = gaveUp
		s.mu.Unlock()

		s.log.Errorf("Failed to respawn worker for queue %s: %v (consecutive failures: %d)",
			handle.spec.Name, err, failures)
		if gaveUp {
			s.log.Errorf("Queue %s marked unhealthy after %d consecutive failures, giving up on it",
				handle.spec.Name, failures)
			return
		}
		delay := handle.backoff.NextBackOff()
		time.AfterFunc(delay, func() {
			s.respawns <- handle
		})
	}
}

// shutdown signals the workers in reverse spawn order and waits up to the
// grace period for them to exit.
func (s *Supervisor) shutdown() {
	s.mu.Lock()
	s.shuttingDown = true
	workers := make([]*workerHandle, len(s.workers))
	copy(workers, s.workers)
	s.mu.Unlock()

	for i := len(workers) - 1; i >= 0; i-- {
		handle := workers[i]
		if handle.proc == nil || handle.unhealthy {
			continue
		}
		s.log.Infof("Sending SIGINT to worker for queue %s (pid %d)", handle.spec.Name, handle.proc.Pid())
		if err := handle.proc.Signal(syscall.SIGINT); err != nil {
			s.log.Warnf("Failed to signal worker for queue %s: %v", handle.spec.Name, err)
		}
	}

	deadline := time.After(s.grace)
	for {
		s.mu.Lock()
		live := s.liveWorkers
		s.mu.Unlock()
		if live <= 0 {
			s.log.Info("All workers exited")
			return
		}
		select {
		case event := <-s.exitEvents:
			s.handleExit(event)
		case <-deadline:
			s.log.Warnf("Grace period expired with %d workers still running", live)
			return
		}
	}
}

// UnhealthyQueues lists the queues the supervisor has given up on.
func (s *Supervisor) UnhealthyQueues() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	var unhealthy []string
	for _, handle := range s.workers {
		if handle.unhealthy {
			unhealthy = append(unhealthy, handle.spec.Name)
		}
	}
	return unhealthy
}
