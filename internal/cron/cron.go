package cron

import (
	"context"
	"os"
	"sync"
	"time"

	cronv3 "github.com/robfig/cron/v3"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/client-go/kubernetes"
	"k8s.io/client-go/tools/leaderelection"
	"k8s.io/client-go/tools/leaderelection/resourcelock"

	"github.com/customeros/mailpulse/config"
	"github.com/customeros/mailpulse/interfaces"
	"github.com/customeros/mailpulse/internal/logger"
	"github.com/customeros/mailpulse/internal/tracing"
	"github.com/customeros/mailpulse/internal/utils"
)

// CONSTANTS
const (
	// GroupPipeline serializes jobs that write alerts, incidents or aggregates
	GroupPipeline = "pipeline"

	// LeaseDuration is how long a lease lasts before needing renewal
	LeaseDuration = 15 * time.Second
	// RenewDeadline is how long a leader has to renew its lease
	RenewDeadline = 10 * time.Second
	// RetryPeriod is how long to wait between leadership attempts
	RetryPeriod = 2 * time.Second
)

// LOCK MANAGEMENT
var jobLocks = struct {
	sync.Mutex
	locks map[string]*sync.Mutex
}{
	locks: map[string]*sync.Mutex{
		GroupPipeline: new(sync.Mutex),
	},
}

type IncidentSweeper interface {
	interfaces.IncidentDetector
	ExpireQuietIncidents(ctx context.Context, now time.Time) (int, error)
}

type AggregationRepairer interface {
	RepairUnaggregated(ctx context.Context, completedBefore time.Time, limit int) (int, error)
}

type CronManager struct {
	cfg      *config.Config
	log      logger.Logger
	cron     *cronv3.Cron
	k8s      kubernetes.Interface
	stopCh   chan struct{}
	stopOnce sync.Once
	jobIDs   map[string]cronv3.EntryID
	detector IncidentSweeper
	repairer AggregationRepairer
	now      func() time.Time
}

func NewCronManager(cfg *config.Config, log logger.Logger, k8s kubernetes.Interface, detector IncidentSweeper, repairer AggregationRepairer) *CronManager {
	return &CronManager{
		cfg:      cfg,
		log:      log,
		k8s:      k8s,
		stopCh:   make(chan struct{}),
		jobIDs:   make(map[string]cronv3.EntryID),
		detector: detector,
		repairer: repairer,
		now:      utils.Now,
	}
}

// Start initializes and starts the cron manager with leader election
// If k8s is nil, it will start in local mode without leader election
func (cm *CronManager) Start(podName, namespace string) error {
	if cm.k8s == nil || os.Getenv("LOCAL_DEV") == "true" {
		cm.log.Info("Starting cron manager in local mode")
		cm.StartCron()
		return nil
	}

	lock := &resourcelock.LeaseLock{
		LeaseMeta: metav1.ObjectMeta{
			Name:      "mailpulse-cron-leader",
			Namespace: namespace,
		},
		Client: cm.k8s.CoordinationV1(),
		LockConfig: resourcelock.ResourceLockConfig{
			Identity: podName,
		},
	}

	errCh := make(chan error, 1)

	go func() {
		le, err := leaderelection.NewLeaderElector(leaderelection.LeaderElectionConfig{
			Lock:            lock,
			ReleaseOnCancel: true,
			LeaseDuration:   LeaseDuration,
			RenewDeadline:   RenewDeadline,
			RetryPeriod:     RetryPeriod,
			Callbacks: leaderelection.LeaderCallbacks{
				OnStartedLeading: func(ctx context.Context) {
					cm.StartCron()
				},
				OnStoppedLeading: func() {
					cm.log.Info("Leader lost - stopping crons")
					cm.Stop()
				},
				OnNewLeader: func(identity string) {
					cm.log.Infof("New leader elected: %s", identity)
				},
			},
		})
		if err != nil {
			errCh <- err
			return
		}

		le.Run(context.Background())
	}()

	// Wait briefly to see if leader election fails immediately
	select {
	case err := <-errCh:
		cm.log.Warnf("Leader election failed, falling back to local mode: %v", err)
		cm.StartCron()
	case <-time.After(5 * time.Second):
	}

	return nil
}

// Stop gracefully stops the cron manager
func (cm *CronManager) Stop() {
	cm.stopOnce.Do(func() {
		if cm.cron != nil {
			cm.log.Info("Stopping cron manager")
			ctx := cm.cron.Stop()
			// Wait for jobs to finish
			<-ctx.Done()
		}
		close(cm.stopCh)
	})
}

func (cm *CronManager) addJob(c *cronv3.Cron, name, schedule string, job func()) {
	if schedule == "" {
		return
	}
	id, err := c.AddFunc(schedule, func() {
		defer tracing.RecoverAndLogToJaeger(cm.log)
		job()
	})
	if err != nil {
		cm.log.Fatalf("Could not add %s cron job: %v", name, err)
	}
	cm.jobIDs[name] = id
	cm.log.Infof("Registered %s job with schedule: %s", name, schedule)
}

// registerJobs adds all cron jobs to the scheduler
func (cm *CronManager) registerJobs(c *cronv3.Cron) {
	cronConfig := cm.cfg.CronConfig

	podName := os.Getenv("POD_NAME")
	if podName == "" {
		podName = "local"
	}
	cm.addJob(c, "heartbeat", cronConfig.CronScheduleHeartbeat, func() {
		cm.log.Infof("Cron heartbeat from pod: %s", podName)
	})

	if cm.detector != nil {
		cm.addJob(c, "detection", cronConfig.CronScheduleDetection, func() {
			jobLocks.locks[GroupPipeline].Lock()
			defer jobLocks.locks[GroupPipeline].Unlock()
			cm.runDetection()
		})
		cm.addJob(c, "incident_expiry", cronConfig.CronScheduleIncidentExpiry, func() {
			jobLocks.locks[GroupPipeline].Lock()
			defer jobLocks.locks[GroupPipeline].Unlock()
			cm.expireIncidents()
		})
	}

	if cm.repairer != nil {
		cm.addJob(c, "reaggregation", cronConfig.CronScheduleReaggregation, func() {
			jobLocks.locks[GroupPipeline].Lock()
			defer jobLocks.locks[GroupPipeline].Unlock()
			cm.repairAggregates()
		})
	}
}

// StartCron initializes and starts the cron scheduler
func (cm *CronManager) StartCron() {
	cm.log.Info("Starting cron manager")
	// Create a new cron with seconds field enabled and panic recovery
	cronOptions := []cronv3.Option{
		cronv3.WithSeconds(),
		cronv3.WithChain(
			cronv3.SkipIfStillRunning(cronv3.DefaultLogger),
			cronv3.Recover(cronv3.DefaultLogger),
		),
	}
	c := cronv3.New(cronOptions...)
	cm.registerJobs(c)
	c.Start()
	cm.cron = c
}

func (cm *CronManager) runDetection() {
	span, ctx := tracing.StartTracerSpan(context.Background(), "CronManager.runDetection")
	defer span.Finish()
	tracing.TagComponentCronJob(span)

	alerts, err := cm.detector.Detect(ctx, cm.now())
	if err != nil {
		tracing.TraceErr(span, err)
		cm.log.Errorf("Scheduled detection failed: %v", err)
	}
	if len(alerts) > 0 {
		cm.log.Infof("Scheduled detection raised %d alerts", len(alerts))
	}
}

func (cm *CronManager) expireIncidents() {
	span, ctx := tracing.StartTracerSpan(context.Background(), "CronManager.expireIncidents")
	defer span.Finish()
	tracing.TagComponentCronJob(span)

	resolved, err := cm.detector.ExpireQuietIncidents(ctx, cm.now())
	if err != nil {
		tracing.TraceErr(span, err)
		cm.log.Errorf("Failed to expire quiet incidents: %v", err)
		return
	}
	if resolved > 0 {
		cm.log.Infof("Resolved %d quiet incidents", resolved)
	}
}

func (cm *CronManager) repairAggregates() {
	span, ctx := tracing.StartTracerSpan(context.Background(), "CronManager.repairAggregates")
	defer span.Finish()
	tracing.TagComponentCronJob(span)

	completedBefore := cm.now().Add(-cm.cfg.CronConfig.ReaggregationGrace)
	repaired, err := cm.repairer.RepairUnaggregated(ctx, completedBefore, cm.cfg.CronConfig.ReaggregationBatchSize)
	if err != nil {
		tracing.TraceErr(span, err)
		cm.log.Errorf("Re-aggregation sweep failed: %v", err)
	}
	if repaired > 0 {
		cm.log.Infof("Re-aggregated %d files", repaired)
	}
}
