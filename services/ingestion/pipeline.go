package ingestion

import (
	"context"
	"encoding/csv"
	"io"
	"sync"
	"time"

	"github.com/opentracing/opentracing-go"
	"github.com/pkg/errors"

	"github.com/customeros/mailpulse/config"
	"github.com/customeros/mailpulse/dto"
	"github.com/customeros/mailpulse/interfaces"
	"github.com/customeros/mailpulse/internal/enum"
	er "github.com/customeros/mailpulse/internal/errors"
	"github.com/customeros/mailpulse/internal/logger"
	"github.com/customeros/mailpulse/internal/metrics"
	"github.com/customeros/mailpulse/internal/models"
	"github.com/customeros/mailpulse/internal/pmta"
	"github.com/customeros/mailpulse/internal/tracing"
)

// OpenFunc yields the bytes of an uploaded log. The pipeline closes the reader.
type OpenFunc func(ctx context.Context) (io.ReadCloser, error)

type Pipeline struct {
	cfg        *config.IngestionConfig
	log        logger.Logger
	files      interfaces.FileRepository
	events     interfaces.EventRepository
	aggregator interfaces.FileAggregator
	publisher  interfaces.EventPublisher

	slots chan struct{}
	wg    sync.WaitGroup
}

func NewPipeline(cfg *config.IngestionConfig, log logger.Logger, files interfaces.FileRepository,
	events interfaces.EventRepository, aggregator interfaces.FileAggregator, publisher interfaces.EventPublisher) *Pipeline {
	return &Pipeline{
		cfg:        cfg,
		log:        log,
		files:      files,
		events:     events,
		aggregator: aggregator,
		publisher:  publisher,
		slots:      make(chan struct{}, cfg.MaxConcurrent),
	}
}

type ingestResult struct {
	detectedType enum.EventType
	rows         int64
}

// Process drives one pending file to a terminal status. The returned error is
// the ingestion failure, if any; aggregation failures are logged only.
func (p *Pipeline) Process(ctx context.Context, fileID string, source io.Reader) error {
	span, ctx := opentracing.StartSpanFromContext(ctx, "Pipeline.Process")
	defer span.Finish()
	tracing.TagComponentService(span)
	tracing.TagFile(span, fileID)

	if err := p.files.MarkProcessing(ctx, fileID); err != nil {
		tracing.TraceErr(span, err)
		return errors.Wrap(err, "failed to start processing")
	}
	started := time.Now()

	result, err := p.ingest(ctx, fileID, source)
	metrics.IngestionDuration.Observe(time.Since(started).Seconds())
	if err != nil {
		tracing.TraceErr(span, err)
		p.fail(ctx, fileID, result.detectedType, err)
		return err
	}

	if err := p.files.MarkCompleted(ctx, fileID, result.rows); err != nil {
		tracing.TraceErr(span, err)
		return errors.Wrap(err, "failed to mark file completed")
	}
	metrics.FilesProcessed.WithLabelValues(enum.FileStatusCompleted.String(), result.detectedType.String()).Inc()
	p.log.Infof("File %s ingested as %s: %d rows in %s", fileID, result.detectedType, result.rows, time.Since(started))
	p.publish(ctx, dto.FileProcessed{
		FileID:       fileID,
		Status:       enum.FileStatusCompleted.String(),
		DetectedType: result.detectedType.String(),
		RowCount:     result.rows,
	})

	if err := p.aggregator.AggregateFile(ctx, fileID); err != nil {
		if errors.Is(err, er.ErrAggregationInProgress) {
			p.log.Infof("File %s already claimed by another aggregation run", fileID)
			return nil
		}
		metrics.StageFailures.WithLabelValues(metrics.StageAggregation).Inc()
		p.log.Errorf("Aggregation failed for file %s, left for repair: %v", fileID, err)
	}
	return nil
}

func (p *Pipeline) ingest(ctx context.Context, fileID string, source io.Reader) (ingestResult, error) {
	result := ingestResult{detectedType: enum.EventTypeUnknown}

	reader := csv.NewReader(source)
	reader.FieldsPerRecord = -1
	reader.LazyQuotes = true

	headers, err := reader.Read()
	if err == io.EOF {
		return result, nil
	}
	if err != nil {
		return result, errors.Wrap(err, "failed to read header")
	}

	result.detectedType = pmta.DetectType(headers, p.cfg.HeaderMatchRatio)
	if err := p.files.SetDetectedType(ctx, fileID, result.detectedType); err != nil {
		return result, errors.Wrap(err, "failed to store detected type")
	}
	if result.detectedType == enum.EventTypeUnknown {
		p.log.Warnf("Log type of file %s not recognised, ingesting as unknown", fileID)
	}

	chunk := make([]*models.Event, 0, p.cfg.ChunkSize)
	flush := func() error {
		if len(chunk) == 0 {
			return nil
		}
		if _, err := p.events.InsertBatch(ctx, chunk); err != nil {
			return err
		}
		metrics.RowsIngested.Add(float64(len(chunk)))
		result.rows += int64(len(chunk))
		chunk = chunk[:0]
		return nil
	}

	for rowNum := 1; ; rowNum++ {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return result, errors.Wrapf(err, "failed to read row %d", rowNum)
		}

		row := make(pmta.Row, len(headers))
		for i, header := range headers {
			if i < len(record) {
				row[header] = record[i]
			}
		}
		if event := pmta.Normalize(row, result.detectedType, fileID, rowNum); event != nil {
			chunk = append(chunk, event)
		}
		if len(chunk) >= p.cfg.ChunkSize {
			if err := flush(); err != nil {
				return result, errors.Wrapf(err, "failed to store chunk ending at row %d", rowNum)
			}
		}
	}
	if err := flush(); err != nil {
		return result, errors.Wrap(err, "failed to store final chunk")
	}
	return result, nil
}

func (p *Pipeline) fail(ctx context.Context, fileID string, detectedType enum.EventType, cause error) {
	if err := p.files.MarkError(ctx, fileID, cause.Error()); err != nil {
		if errors.Is(err, er.ErrFileNotPending) {
			p.log.Warnf("File %s already finished, ignoring failure: %v", fileID, cause)
			return
		}
		p.log.Errorf("Failed to mark file %s errored: %v", fileID, err)
	}
	if detectedType == "" {
		detectedType = enum.EventTypeUnknown
	}
	metrics.FilesProcessed.WithLabelValues(enum.FileStatusError.String(), detectedType.String()).Inc()
	p.log.Errorf("Ingestion of file %s failed: %v", fileID, cause)
	p.publish(ctx, dto.FileProcessed{
		FileID:       fileID,
		Status:       enum.FileStatusError.String(),
		DetectedType: detectedType.String(),
		ErrorDetail:  cause.Error(),
	})
}

func (p *Pipeline) publish(ctx context.Context, event dto.FileProcessed) {
	if err := p.publisher.PublishFileProcessed(ctx, event); err != nil {
		metrics.StageFailures.WithLabelValues(metrics.StagePublish).Inc()
		p.log.Errorf("Failed to publish file processed for %s: %v", event.FileID, err)
	}
}

// Submit ingests a file in the background. At most MaxConcurrent files are
// processed at once; the caller's cancellation does not stop a started run.
func (p *Pipeline) Submit(ctx context.Context, fileID string, open OpenFunc) {
	ctx = context.WithoutCancel(ctx)
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		defer tracing.RecoverAndLogToJaeger(p.log)

		p.slots <- struct{}{}
		defer func() { <-p.slots }()

		source, err := open(ctx)
		if err != nil {
			// redeliveries of finished files must not touch their status
			if markErr := p.files.MarkProcessing(ctx, fileID); markErr != nil {
				p.log.Warnf("Skipping file %s, upload unavailable and file not pending: %v", fileID, markErr)
				return
			}
			p.fail(ctx, fileID, enum.EventTypeUnknown, errors.Wrap(err, "failed to open upload"))
			return
		}
		defer source.Close()

		if err := p.Process(ctx, fileID, source); err != nil {
			p.log.Warnf("Background ingestion of file %s ended with error: %v", fileID, err)
		}
	}()
}

// Wait blocks until every submitted file has finished.
func (p *Pipeline) Wait() {
	p.wg.Wait()
}
