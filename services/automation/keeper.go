package automation

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/R3E-Network/neoraffle/internal/logging"
	"github.com/R3E-Network/neoraffle/internal/metrics"
)

// DefaultRunTimeout bounds a single check-and-perform cycle.
const DefaultRunTimeout = 30 * time.Second

var scheduleParser = cron.NewParser(
	cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor,
)

type registration struct {
	upkeep    Upkeep
	checkData []byte
	entryID   cron.EntryID
	status    Status
	running   sync.Mutex
}

// Keeper drives registered upkeeps. Each tick calls CheckUpkeep and, only when
// it reports work, PerformUpkeep. Failures are recorded, never retried: the
// next tick simply checks again.
type Keeper struct {
	mu      sync.RWMutex
	cron    *cron.Cron
	upkeeps map[string]*registration
	timeout time.Duration
	log     *logging.Logger
	started bool
	now     func() time.Time
}

// NewKeeper creates a stopped keeper.
func NewKeeper(log *logging.Logger) *Keeper {
	if log == nil {
		log = logging.NewDefault("automation")
	}
	return &Keeper{
		cron: cron.New(
			cron.WithParser(scheduleParser),
			cron.WithChain(cron.Recover(cron.PrintfLogger(log))),
		),
		upkeeps: make(map[string]*registration),
		timeout: DefaultRunTimeout,
		log:     log,
		now:     time.Now,
	}
}

// Register schedules upkeep under name. schedule accepts cron expressions with
// optional seconds and descriptors such as "@every 5s".
func (k *Keeper) Register(name string, upkeep Upkeep, schedule string, checkData []byte) error {
	if name == "" || upkeep == nil {
		return ErrInvalidUpkeep
	}
	sched, err := scheduleParser.Parse(schedule)
	if err != nil {
		return fmt.Errorf("%w: %q: %v", ErrInvalidSchedule, schedule, err)
	}

	k.mu.Lock()
	defer k.mu.Unlock()
	if _, exists := k.upkeeps[name]; exists {
		return fmt.Errorf("%w: %s", ErrUpkeepExists, name)
	}

	reg := &registration{
		upkeep:    upkeep,
		checkData: append([]byte(nil), checkData...),
		status:    Status{Name: name, Schedule: schedule},
	}
	reg.entryID = k.cron.Schedule(sched, cron.FuncJob(func() {
		k.tick(name, reg)
	}))
	k.upkeeps[name] = reg

	k.log.WithField("upkeep", name).WithField("schedule", schedule).Info("upkeep registered")
	return nil
}

// Unregister removes the upkeep.
func (k *Keeper) Unregister(name string) error {
	k.mu.Lock()
	defer k.mu.Unlock()
	reg, ok := k.upkeeps[name]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUpkeepNotFound, name)
	}
	k.cron.Remove(reg.entryID)
	delete(k.upkeeps, name)
	return nil
}

// Start begins scheduling. It is a no-op when already started.
func (k *Keeper) Start() {
	k.mu.Lock()
	defer k.mu.Unlock()
	if k.started {
		return
	}
	k.started = true
	k.cron.Start()
	k.log.WithField("upkeeps", len(k.upkeeps)).Info("keeper started")
}

// Stop halts scheduling and waits for running ticks or ctx, whichever ends first.
func (k *Keeper) Stop(ctx context.Context) error {
	k.mu.Lock()
	if !k.started {
		k.mu.Unlock()
		return ErrKeeperNotRunning
	}
	k.started = false
	done := k.cron.Stop()
	k.mu.Unlock()

	select {
	case <-done.Done():
		k.log.Info("keeper stopped")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// RunOnce runs one check-and-perform cycle for name immediately.
func (k *Keeper) RunOnce(ctx context.Context, name string) (Status, error) {
	k.mu.RLock()
	reg, ok := k.upkeeps[name]
	k.mu.RUnlock()
	if !ok {
		return Status{}, fmt.Errorf("%w: %s", ErrUpkeepNotFound, name)
	}
	k.run(ctx, name, reg)
	return k.Status(name)
}

// Status returns the run record of name.
func (k *Keeper) Status(name string) (Status, error) {
	k.mu.RLock()
	defer k.mu.RUnlock()
	reg, ok := k.upkeeps[name]
	if !ok {
		return Status{}, fmt.Errorf("%w: %s", ErrUpkeepNotFound, name)
	}
	return k.statusLocked(reg), nil
}

// List returns the run records of all upkeeps sorted by name.
func (k *Keeper) List() []Status {
	k.mu.RLock()
	defer k.mu.RUnlock()
	out := make([]Status, 0, len(k.upkeeps))
	for _, reg := range k.upkeeps {
		out = append(out, k.statusLocked(reg))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

func (k *Keeper) statusLocked(reg *registration) Status {
	st := reg.status
	if k.started {
		st.NextRunAt = k.cron.Entry(reg.entryID).Next
	}
	return st
}

func (k *Keeper) tick(name string, reg *registration) {
	ctx, cancel := context.WithTimeout(context.Background(), k.timeout)
	defer cancel()
	k.run(ctx, name, reg)
}

// run serialises cycles of the same upkeep; overlapping ticks wait their turn.
func (k *Keeper) run(ctx context.Context, name string, reg *registration) {
	reg.running.Lock()
	defer reg.running.Unlock()

	start := k.now()
	result, err := k.cycle(ctx, reg)

	k.mu.Lock()
	reg.status.RunCount++
	reg.status.LastRunAt = start.UTC()
	reg.status.LastResult = result
	switch result {
	case ResultPerformed:
		reg.status.PerformCount++
		reg.status.LastPerformAt = start.UTC()
		reg.status.LastError = ""
	case ResultFailed:
		reg.status.ErrorCount++
		reg.status.LastError = err.Error()
	}
	k.mu.Unlock()

	metrics.RecordUpkeep(name, string(result), k.now().Sub(start))

	entry := k.log.WithField("upkeep", name).WithField("result", result)
	switch result {
	case ResultFailed:
		entry.WithError(err).Warn("upkeep failed")
	case ResultPerformed:
		entry.Info("upkeep performed")
	default:
		entry.Debug("upkeep not needed")
	}
}

func (k *Keeper) cycle(ctx context.Context, reg *registration) (Result, error) {
	needed, performData, err := reg.upkeep.CheckUpkeep(ctx, reg.checkData)
	if err != nil {
		return ResultFailed, fmt.Errorf("check upkeep: %w", err)
	}
	if !needed {
		return ResultSkipped, nil
	}
	if err := reg.upkeep.PerformUpkeep(ctx, performData); err != nil {
		return ResultFailed, fmt.Errorf("perform upkeep: %w", err)
	}
	return ResultPerformed, nil
}
