package scheduler

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/plesner/jetnewt/internal/task/engine"
	logx "github.com/plesner/jetnewt/pkg/logx"
)

// ErrOverlapSkip is reported when a trigger fires while the previous run of
// the same schedule is still queued or executing.
var ErrOverlapSkip = errors.New("schedule still running")

// Config controls the trigger service.
type Config struct {
	Timezone string // IANA TZ, e.g. "Europe/Copenhagen"
}

// Job is the work a schedule triggers.
type Job func(ctx context.Context) error

// Pool accepts triggered tasks. *engine.Service satisfies it.
type Pool interface {
	Enqueue(t engine.Task) error
}

type scheduleDef struct {
	name          string
	spec          string // cron spec or @every
	job           Job
	entryID       cron.EntryID
	startupSpread time.Duration
	running       *atomic.Bool
}

type Service struct {
	mu sync.Mutex

	log  logx.Logger
	cfg  Config
	loc  *time.Location
	pool Pool

	parser cron.Parser
	c      *cron.Cron
	defs   []scheduleDef

	enqMu       sync.Mutex
	lastEnqWarn map[string]time.Time
}

type ScheduleInfo struct {
	Name          string
	Spec          string
	Next          time.Time
	Prev          time.Time
	Running       bool
	StartupSpread time.Duration
}

type Snapshot struct {
	Started   bool
	Timezone  string
	Schedules []ScheduleInfo
}
