package broker

import (
	"errors"
	"os"
	"sync"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"operandi.gwdg.de/broker/common"
)

// fakeProcess is a controllable stand-in for a worker subprocess. Wait
// blocks until the test (or a signal) releases it with an exit result.
type fakeProcess struct {
	pid      int
	queue    string
	exitOnce sync.Once
	exited   chan error
	recorder *signalRecorder
}

func newFakeProcess(pid int, queue string, recorder *signalRecorder) *fakeProcess {
	return &fakeProcess{
		pid:      pid,
		queue:    queue,
		exited:   make(chan error, 1),
		recorder: recorder,
	}
}

func (p *fakeProcess) Pid() int { return p.pid }

func (p *fakeProcess) Signal(sig os.Signal) error {
	if p.recorder != nil {
		p.recorder.record(p.queue)
	}
	// Workers exit 0 on SIGINT
	p.exit(nil)
	return nil
}

func (p *fakeProcess) Wait() error { return <-p.exited }

func (p *fakeProcess) exit(err error) {
	p.exitOnce.Do(func() { p.exited <- err })
}

type signalRecorder struct {
	mu     sync.Mutex
	queues []string
}

func (r *signalRecorder) record(queue string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.queues = append(r.queues, queue)
}

func (r *signalRecorder) recorded() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.queues...)
}

// fakeLauncher hands out fakeProcesses and records every launch.
type fakeLauncher struct {
	mu        sync.Mutex
	launched  []QueueSpec
	processes []*fakeProcess
	recorder  *signalRecorder
	launchErr error
	nextPid   int
}

func (l *fakeLauncher) Launch(spec QueueSpec) (WorkerProcess, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.launchErr != nil {
		return nil, l.launchErr
	}
	l.nextPid++
	proc := newFakeProcess(l.nextPid, spec.Name, l.recorder)
	l.launched = append(l.launched, spec)
	l.processes = append(l.processes, proc)
	return proc, nil
}

func (l *fakeLauncher) launchCount() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.launched)
}

func (l *fakeLauncher) process(i int) *fakeProcess {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.processes[i]
}

func (l *fakeLauncher) launchedSpec(i int) QueueSpec {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.launched[i]
}

func (l *fakeLauncher) latestForQueue(queue string) *fakeProcess {
	l.mu.Lock()
	defer l.mu.Unlock()
	for i := len(l.processes) - 1; i >= 0; i-- {
		if l.processes[i].queue == queue {
			return l.processes[i]
		}
	}
	return nil
}

func TestKnownQueues(t *testing.T) {
	queues := KnownQueues()
	require.Len(t, queues, 3)
	assert.Equal(t, QueueSpec{Name: common.QueueHarvester, Role: RoleConsumer}, queues[0])
	assert.Equal(t, QueueSpec{Name: common.QueueUsers, Role: RoleConsumer}, queues[1])
	assert.Equal(t, QueueSpec{Name: common.QueueJobStatuses, Role: RoleStatusChecker}, queues[2])
}

func TestStartSpawnsOneWorkerPerQueue(t *testing.T) {
	launcher := &fakeLauncher{recorder: &signalRecorder{}}
	supervisor := NewSupervisor(launcher, DefaultGracePeriod)

	require.NoError(t, supervisor.Start())
	assert.Equal(t, KnownQueues(), launcher.launched)
}

func TestStartFailsWhenLaunchFails(t *testing.T) {
	launcher := &fakeLauncher{launchErr: errors.New("fork bomb protection")}
	supervisor := NewSupervisor(launcher, DefaultGracePeriod)
	assert.Error(t, supervisor.Start())
}

func TestShutdownSignalsWorkersInReverseOrder(t *testing.T) {
	recorder := &signalRecorder{}
	launcher := &fakeLauncher{recorder: recorder}
	supervisor := NewSupervisor(launcher, DefaultGracePeriod)
	require.NoError(t, supervisor.Start())

	signals := make(chan os.Signal, 1)
	done := make(chan error, 1)
	go func() { done <- supervisor.run(signals) }()

	signals <- syscall.SIGTERM
	require.NoError(t, <-done)

	assert.Equal(t, []string{
		common.QueueJobStatuses,
		common.QueueUsers,
		common.QueueHarvester,
	}, recorder.recorded())
}

func TestCrashedWorkerIsRespawned(t *testing.T) {
	launcher := &fakeLauncher{recorder: &signalRecorder{}}
	supervisor := NewSupervisor(launcher, DefaultGracePeriod)
	supervisor.respawnInitial = 5 * time.Millisecond
	require.NoError(t, supervisor.Start())

	signals := make(chan os.Signal, 1)
	done := make(chan error, 1)
	go func() { done <- supervisor.run(signals) }()

	// Kill the harvester worker with a non-zero exit
	launcher.process(0).exit(errors.New("exit status 1"))

	require.Eventually(t, func() bool {
		return launcher.launchCount() == 4
	}, 2*time.Second, 5*time.Millisecond, "crashed worker must be respawned")

	respawned := launcher.launchedSpec(3)
	assert.Equal(t, common.QueueHarvester, respawned.Name)

	signals <- syscall.SIGTERM
	require.NoError(t, <-done)
}

func TestCleanExitIsNotRespawned(t *testing.T) {
	launcher := &fakeLauncher{recorder: &signalRecorder{}}
	supervisor := NewSupervisor(launcher, DefaultGracePeriod)
	supervisor.respawnInitial = 5 * time.Millisecond
	require.NoError(t, supervisor.Start())

	signals := make(chan os.Signal, 1)
	done := make(chan error, 1)
	go func() { done <- supervisor.run(signals) }()

	launcher.process(1).exit(nil)

	// Give a would-be respawn ample time to happen, then verify it didn't
	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, 3, launcher.launchCount())

	signals <- syscall.SIGTERM
	require.NoError(t, <-done)
}

func TestQueueMarkedUnhealthyAfterRepeatedCrashes(t *testing.T) {
	launcher := &fakeLauncher{recorder: &signalRecorder{}}
	supervisor := NewSupervisor(launcher, DefaultGracePeriod)
	supervisor.respawnInitial = 1 * time.Millisecond
	require.NoError(t, supervisor.Start())

	signals := make(chan os.Signal, 1)
	done := make(chan error, 1)
	go func() { done <- supervisor.run(signals) }()

	// Crash every incarnation of the users worker until the supervisor
	// gives up on the queue.
	lastCrashedPid := 0
	for crashed := 0; crashed < maxConsecutiveFailures; crashed++ {
		var target *fakeProcess
		require.Eventually(t, func() bool {
			target = launcher.latestForQueue(common.QueueUsers)
			return target != nil && target.pid > lastCrashedPid
		}, 2*time.Second, time.Millisecond, "waiting for users worker incarnation %d", crashed+1)
		lastCrashedPid = target.pid
		target.exit(errors.New("exit status 1"))
	}

	require.Eventually(t, func() bool {
		return len(supervisor.UnhealthyQueues()) == 1
	}, 2*time.Second, time.Millisecond)
	assert.Equal(t, []string{common.QueueUsers}, supervisor.UnhealthyQueues())

	signals <- syscall.SIGTERM
	require.NoError(t, <-done)
}
