package logger

import (
	"fmt"
	"sync"
	"time"
)

// OperationLogger logs the stages of a single batch run with the batch
// fields attached to every line and the elapsed time on completion.
type OperationLogger struct {
	logger    Logger
	operation string
	startTime time.Time

	mu        sync.Mutex
	stage     string
	stageTime time.Time
	stages    []StageTiming
}

// StageTiming records how long a named stage of an operation took.
type StageTiming struct {
	Stage    string        `json:"stage"`
	Duration time.Duration `json:"duration"`
}

// NewOperationLogger creates a new operation logger
func NewOperationLogger(operation string, logger Logger, fields Fields) *OperationLogger {
	if logger == nil {
		logger = GetGlobalLogger()
	}

	l := logger.WithField("operation", operation)
	if len(fields) > 0 {
		l = l.WithFields(fields)
	}

	now := time.Now()
	ol := &OperationLogger{
		logger:    l,
		operation: operation,
		startTime: now,
		stageTime: now,
	}
	ol.logger.Debug("operation started")
	return ol
}

// Stage closes the current stage, if any, and opens a new one.
func (ol *OperationLogger) Stage(stage string) {
	ol.mu.Lock()
	defer ol.mu.Unlock()

	now := time.Now()
	ol.closeStage(now)
	ol.stage = stage
	ol.stageTime = now
	ol.logger.WithField("stage", stage).Debug("stage started")
}

func (ol *OperationLogger) closeStage(now time.Time) {
	if ol.stage == "" {
		return
	}
	ol.stages = append(ol.stages, StageTiming{Stage: ol.stage, Duration: now.Sub(ol.stageTime)})
	ol.stage = ""
}

// Progress logs progress within the current stage
func (ol *OperationLogger) Progress(processed, total int) {
	fields := Fields{"processed": processed, "total": total}
	if total > 0 {
		fields["percentage"] = fmt.Sprintf("%.1f%%", float64(processed)/float64(total)*100)
	}
	ol.logger.WithFields(fields).Debug("progress")
}

// Warning logs a warning during the operation
func (ol *OperationLogger) Warning(message string) {
	ol.logger.Warn(message)
}

// Success completes the operation and returns the stage timings.
func (ol *OperationLogger) Success(fields Fields) []StageTiming {
	ol.mu.Lock()
	defer ol.mu.Unlock()

	now := time.Now()
	ol.closeStage(now)
	ol.logger.WithFields(fields).WithField("duration", now.Sub(ol.startTime).String()).Info("operation completed")
	return append([]StageTiming(nil), ol.stages...)
}

// Failure completes the operation with an error
func (ol *OperationLogger) Failure(err error) {
	ol.mu.Lock()
	defer ol.mu.Unlock()

	now := time.Now()
	ol.closeStage(now)
	ol.logger.WithError(err).WithFields(Fields{
		"stage":    lastStage(ol.stages),
		"duration": now.Sub(ol.startTime).String(),
	}).Error("operation failed")
}

func lastStage(stages []StageTiming) string {
	if len(stages) == 0 {
		return ""
	}
	return stages[len(stages)-1].Stage
}

// TimedOperation executes a function and logs timing information
func TimedOperation(operation string, logger Logger, fn func() error) error {
	ol := NewOperationLogger(operation, logger, nil)

	if err := fn(); err != nil {
		ol.Failure(err)
		return err
	}
	ol.Success(nil)
	return nil
}
