package scheduler

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// Task interface for scheduled tasks
type Task interface {
	Run(ctx context.Context) error
	Interval() time.Duration
	Name() string
}

// TaskStatus records the outcome of a task's most recent run
type TaskStatus struct {
	Name      string        `json:"name"`
	Interval  time.Duration `json:"interval"`
	Runs      int           `json:"runs"`
	LastRun   time.Time     `json:"lastRun"`
	LastError string        `json:"lastError,omitempty"`
}

// Scheduler runs each task on its own ticker. Tasks first run one interval
// after Start.
type Scheduler struct {
	ctx    context.Context
	cancel context.CancelFunc
	tasks  []Task
	wg     sync.WaitGroup

	mu       sync.Mutex
	status   map[string]*TaskStatus
	started  bool
	stopOnce sync.Once
}

// New creates a new task scheduler
func New(ctx context.Context) *Scheduler {
	ctx, cancel := context.WithCancel(ctx)
	return &Scheduler{
		ctx:    ctx,
		cancel: cancel,
		tasks:  make([]Task, 0),
		status: make(map[string]*TaskStatus),
	}
}

// AddTask adds a task to the scheduler. Tasks added after Start are ignored.
func (s *Scheduler) AddTask(task Task) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		slog.Warn("Ignoring task added after start", "task", task.Name())
		return
	}
	s.tasks = append(s.tasks, task)
	s.status[task.Name()] = &TaskStatus{Name: task.Name(), Interval: task.Interval()}
}

// Start begins running all scheduled tasks
func (s *Scheduler) Start() {
	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		return
	}
	s.started = true
	tasks := append([]Task(nil), s.tasks...)
	s.mu.Unlock()

	for _, task := range tasks {
		s.wg.Add(1)
		go s.runTask(task)
	}
	slog.Info("Task scheduler started", "task_count", len(tasks))
}

// Stop cancels all tasks and waits for running ones to return
func (s *Scheduler) Stop() {
	s.stopOnce.Do(func() {
		s.cancel()
		s.wg.Wait()
		slog.Info("Task scheduler stopped")
	})
}

// Status returns the run record of every task in registration order
func (s *Scheduler) Status() []TaskStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]TaskStatus, 0, len(s.tasks))
	for _, task := range s.tasks {
		out = append(out, *s.status[task.Name()])
	}
	return out
}

// runTask runs a single task on its schedule
func (s *Scheduler) runTask(task Task) {
	defer s.wg.Done()

	ticker := time.NewTicker(task.Interval())
	defer ticker.Stop()

	for {
		select {
		case <-s.ctx.Done():
			return
		case <-ticker.C:
			s.execute(task)
		}
	}
}

func (s *Scheduler) execute(task Task) {
	err := task.Run(s.ctx)
	if err != nil {
		slog.Error("Error running task", "task", task.Name(), "error", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	st := s.status[task.Name()]
	st.Runs++
	st.LastRun = time.Now()
	st.LastError = ""
	if err != nil {
		st.LastError = err.Error()
	}
}
