package ingestion

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	activitydomain "github.com/smallbiznis/adl/internal/activity/domain"
	"github.com/smallbiznis/adl/internal/lock"
	obsdomain "github.com/smallbiznis/adl/internal/observation/domain"
	obscontext "github.com/smallbiznis/adl/internal/observability/context"
	"github.com/smallbiznis/adl/internal/observability/logger"
	"github.com/smallbiznis/adl/internal/observability/metrics"
	"github.com/smallbiznis/adl/internal/observability/tracing"
	"github.com/smallbiznis/adl/internal/qc"
	"github.com/smallbiznis/adl/internal/source"
	stationdomain "github.com/smallbiznis/adl/internal/station/domain"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

// ProcessStation pulls one station's window, runs QC and stores the result.
// A station locked by another worker is skipped with a zero count.
func (s *Service) ProcessStation(ctx context.Context, conn stationdomain.NetworkConnection, link stationdomain.StationLink, opts Options) (saved int, err error) {
	ctx = obscontext.WithStationID(ctx, link.StationID)
	ctx, span := tracing.Start(ctx, "ingestion.process_station",
		attribute.Int64("connection.id", conn.ID),
		attribute.Int64("station.id", link.StationID),
	)
	defer func() { tracing.End(span, err) }()

	log := logger.WithStation(logger.WithContext(ctx, s.log), link.StationID, link.Station.Name)

	key := lock.StationKey(link.StationID)
	token, ok, err := s.locker.TryLock(ctx, key, s.cfg.Lock.StationTTL)
	if err != nil {
		return 0, fmt.Errorf("acquire station lock: %w", err)
	}
	if !ok {
		s.sched.IncLockContended(metrics.LockScopeStation)
		log.Info("station is locked by another worker, skipping")
		return 0, nil
	}
	defer func() {
		if err := s.locker.Release(context.WithoutCancel(ctx), key, token); err != nil {
			log.Warn("failed to release station lock", zap.Error(err))
		}
	}()

	started := s.clock.Now()
	defer func() { s.sched.ObserveStationPull(s.clock.Now().Sub(started)) }()

	taskID := opts.TaskID
	if taskID == "" {
		taskID = obscontext.RunIDFromContext(ctx)
	}
	entry, err := s.activity.Start(ctx, activitydomain.StartParams{
		StationLinkID: link.ID,
		Direction:     activitydomain.DirectionPull,
		TaskID:        taskID,
	})
	if err != nil {
		return 0, fmt.Errorf("%w: start activity: %w", ErrStore, err)
	}

	run := &stationRun{
		svc:  s,
		conn: conn,
		link: link,
		loc:  link.Location(conn),
		log:  log,
	}
	runErr := run.execute(ctx, opts)

	outcome := activitydomain.Outcome{
		Success:       runErr == nil,
		RecordsCount:  run.saved,
		MessagesCount: run.messages,
		ObsStart:      run.obsStart,
		ObsEnd:        run.obsEnd,
	}
	switch {
	case runErr != nil:
		outcome.Message = runErr.Error()
	case run.saved > 0:
		outcome.Message = fmt.Sprintf("Processed %d records.", run.saved)
	default:
		outcome.Message = "No new records to save."
	}
	if err := s.activity.Finish(context.WithoutCancel(ctx), entry, outcome); err != nil {
		log.Error("failed to finish activity entry", zap.Error(err))
	}

	s.metrics.RecordObservationsIngested(ctx, conn.PluginID, run.saved)
	if runErr != nil {
		log.Error("station ingestion failed", zap.Int("saved", run.saved), zap.Error(runErr))
		return run.saved, runErr
	}
	log.Info("station ingestion completed", zap.Int("saved", run.saved), zap.Int("qc_messages", run.messages))
	return run.saved, nil
}

// stationRun carries the state of one ProcessStation call.
type stationRun struct {
	svc      *Service
	conn     stationdomain.NetworkConnection
	link     stationdomain.StationLink
	loc      *time.Location
	log      *zap.Logger
	mappings []stationdomain.VariableMapping
	station  qc.StationMeta

	saved    int
	messages int
	obsStart *time.Time
	obsEnd   *time.Time
}

func (r *stationRun) execute(ctx context.Context, opts Options) error {
	adapter, err := r.svc.sources.Get(r.conn.PluginID)
	if err != nil {
		return err
	}

	mappings, err := r.svc.stations.ListMappings(ctx, r.svc.db, r.link.ID)
	if err != nil {
		return fmt.Errorf("%w: list variable mappings: %w", ErrStore, err)
	}
	for _, m := range mappings {
		if strings.TrimSpace(m.SourceParameterName) == "" || strings.TrimSpace(m.SourceParameterUnit) == "" {
			r.log.Warn("skipping incomplete variable mapping", zap.Int64("mapping_id", m.ID))
			continue
		}
		r.mappings = append(r.mappings, m)
	}
	if len(r.mappings) == 0 {
		r.log.Info("no variable mappings configured")
		return nil
	}
	r.station = stationMeta(r.link.Station)

	latest, err := r.svc.observations.LatestTime(ctx, r.svc.db, r.link.StationID, r.conn.ID)
	if err != nil {
		return fmt.Errorf("%w: latest observation time: %w", ErrStore, err)
	}
	window := ResolveWindow(r.svc.clock.Now(), r.loc, latest, r.link.Station.FirstCollectionDate, opts)
	r.log.Debug("fetch window",
		zap.Time("start", window.Start),
		zap.Time("end", window.End),
	)

	timeout := r.svc.cfg.Ingestion.AdapterTimeout
	if timeout <= 0 {
		timeout = 2 * time.Minute
	}
	fetchCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	it, err := adapter.StationData(fetchCtx, r.sourceLink(), window.Start, window.End)
	if err != nil {
		return fmt.Errorf("fetch station data: %w", err)
	}
	defer func() {
		if err := it.Close(); err != nil {
			r.log.Warn("failed to close record iterator", zap.Error(err))
		}
	}()

	chunkSize := r.svc.cfg.Ingestion.ChunkSize
	if chunkSize <= 0 {
		chunkSize = defaultChunkSize
	}

	pending := newBatch()
	for {
		rec, ok, err := it.Next(fetchCtx)
		if err != nil {
			return fmt.Errorf("read station data: %w", err)
		}
		if !ok {
			break
		}
		if err := r.transform(ctx, rec, pending); err != nil {
			return err
		}
		if pending.len() >= chunkSize {
			if err := r.flush(ctx, adapter, pending, chunkSize); err != nil {
				return err
			}
			pending = newBatch()
		}
	}
	return r.flush(ctx, adapter, pending, chunkSize)
}

func (r *stationRun) sourceLink() source.Link {
	return source.Link{
		ConnectionID:        r.conn.ID,
		StationLinkID:       r.link.ID,
		Station:             r.link.Station,
		Location:            r.loc,
		ConnectionConfig:    json.RawMessage(r.conn.Config),
		LinkConfig:          json.RawMessage(r.link.Config),
		ConnectionUpdatedAt: r.conn.UpdatedAt,
	}
}

// transform maps one adapter record to canonical observations. Only store
// failures are returned; bad values are logged and skipped.
func (r *stationRun) transform(ctx context.Context, rec source.Record, b *batch) error {
	obsTime, err := localise(rec.ObservationTime, r.loc)
	if err != nil {
		r.log.Warn("skipping record", zap.Error(err))
		return nil
	}

	now := r.svc.clock.Now()
	for _, m := range r.mappings {
		raw, present := rec.Values[m.SourceParameterName]
		if !present {
			continue
		}
		value, ok := numeric(raw)
		if !ok {
			r.log.Debug("skipping non-numeric value",
				zap.String("field", m.SourceParameterName),
				zap.Any("value", raw),
			)
			continue
		}
		converted, err := convertValue(r.svc.units, value, m.SourceParameterUnit, m.Parameter)
		if err != nil {
			r.log.Warn("unit conversion failed, skipping value",
				zap.String("field", m.SourceParameterName),
				zap.String("from", m.SourceParameterUnit),
				zap.String("to", m.Parameter.UnitSymbol),
				zap.Error(err),
			)
			continue
		}

		outcome, err := r.evaluate(ctx, m, converted, obsTime)
		if err != nil {
			return err
		}
		record := obsdomain.Record{
			ID:           r.svc.genID.Generate().Int64(),
			Time:         obsTime,
			StationID:    r.link.StationID,
			ConnectionID: r.conn.ID,
			ParameterID:  m.ParameterID,
			Value:        converted,
			IsDaily:      r.conn.IsDailyData,
			QCStatus:     outcome.Status,
			QCBits:       outcome.Bits,
			QCVersion:    obsdomain.CurrentQCVersion,
			CreatedAt:    now,
			ModifiedAt:   now,
		}
		if b.put(record, outcome.Messages) {
			r.log.Warn("duplicate observation in batch, keeping last",
				zap.Time("time", obsTime),
				zap.Int64("parameter_id", m.ParameterID),
			)
		}
	}
	return nil
}

func (r *stationRun) evaluate(ctx context.Context, m stationdomain.VariableMapping, value float64, obsTime time.Time) (qc.Outcome, error) {
	pipe := r.svc.pipelines.For(m)
	if pipe.Empty() {
		return qc.Outcome{Status: qc.StatusNotEvaluated}, nil
	}

	qctx := qc.Context{
		Station: r.station,
		Parameter: qc.ParameterMeta{
			Name:            m.Parameter.Name,
			Unit:            m.Parameter.UnitSymbol,
			Category:        m.Parameter.Category,
			ObservationTime: obsTime,
		},
	}
	if req := pipe.HistoryRequirements(); req.Needed && req.Limit > 0 {
		rows, err := r.svc.observations.History(ctx, r.svc.db, r.link.StationID, r.conn.ID, m.ParameterID, obsTime, req.Limit)
		if err != nil {
			return qc.Outcome{}, fmt.Errorf("%w: load qc history for parameter %d: %w", ErrStore, m.ParameterID, err)
		}
		qctx.History = toHistory(rows)
	}
	return qc.Evaluate(pipe, value, qctx), nil
}

func toHistory(rows []obsdomain.Record) []qc.HistoryPoint {
	if len(rows) == 0 {
		return nil
	}
	out := make([]qc.HistoryPoint, len(rows))
	for i, row := range rows {
		value := row.Value
		out[i] = qc.HistoryPoint{Value: &value, Time: row.Time, QCStatus: row.QCStatus}
	}
	return out
}

// flush stores a chunk, then its QC messages against the resolved ids.
func (r *stationRun) flush(ctx context.Context, adapter source.Adapter, b *batch, chunkSize int) error {
	if b.len() == 0 {
		return nil
	}

	db := r.svc.db
	if err := r.svc.observations.UpsertBatch(ctx, db, b.records, chunkSize); err != nil {
		return fmt.Errorf("%w: save observations: %w", ErrStore, err)
	}

	keys := make([]obsdomain.Key, len(b.records))
	for i, rec := range b.records {
		keys[i] = rec.Key()
	}
	ids, err := r.svc.observations.ResolveIDs(ctx, db, r.link.StationID, r.conn.ID, keys)
	if err != nil {
		return fmt.Errorf("%w: resolve observation ids: %w", ErrStore, err)
	}

	now := r.svc.clock.Now()
	var (
		failures []obsdomain.QCMessage
		flags    []qc.Flag
	)
	for i := range b.records {
		rec := &b.records[i]
		if id, ok := ids[rec.Key()]; ok {
			rec.ID = id
		}
		for _, msg := range b.messages[rec.Key()] {
			failures = append(failures, obsdomain.QCMessage{
				ID:          r.svc.genID.Generate().Int64(),
				ObsRecordID: rec.ID,
				ObsTime:     rec.Time,
				StationID:   rec.StationID,
				ParameterID: rec.ParameterID,
				CheckType:   msg.Flag.Bit(),
				Message:     msg.Text,
				CreatedAt:   now,
			})
			flags = append(flags, msg.Flag)
		}
	}
	if len(failures) > 0 {
		if err := r.svc.observations.InsertQCMessages(ctx, db, failures, qcMessageChunkSize); err != nil {
			return fmt.Errorf("%w: save qc messages: %w", ErrStore, err)
		}
	}

	r.saved += len(b.records)
	r.messages += len(failures)
	for _, rec := range b.records {
		r.extend(rec.Time)
	}
	for _, flag := range flags {
		r.svc.metrics.RecordQCFailure(ctx, string(flag))
	}

	if hook, ok := adapter.(source.PostSaveHook); ok {
		if err := hook.AfterSave(ctx, r.sourceLink(), b.records, failures); err != nil {
			r.log.Warn("after save hook failed", zap.String("plugin", adapter.ID()), zap.Error(err))
		}
	}
	return nil
}

func (r *stationRun) extend(t time.Time) {
	t = t.UTC()
	if r.obsStart == nil || t.Before(*r.obsStart) {
		start := t
		r.obsStart = &start
	}
	if r.obsEnd == nil || t.After(*r.obsEnd) {
		end := t
		r.obsEnd = &end
	}
}

// batch holds one chunk of records deduplicated by key.
type batch struct {
	records  []obsdomain.Record
	index    map[obsdomain.Key]int
	messages map[obsdomain.Key][]qc.Message
}

func newBatch() *batch {
	return &batch{
		index:    make(map[obsdomain.Key]int),
		messages: make(map[obsdomain.Key][]qc.Message),
	}
}

func (b *batch) len() int { return len(b.records) }

// put adds rec, replacing an earlier record with the same key. It reports
// whether a replacement happened.
func (b *batch) put(rec obsdomain.Record, messages []qc.Message) bool {
	key := rec.Key()
	if i, ok := b.index[key]; ok {
		b.records[i] = rec
		b.setMessages(key, messages)
		return true
	}
	b.index[key] = len(b.records)
	b.records = append(b.records, rec)
	b.setMessages(key, messages)
	return false
}

func (b *batch) setMessages(key obsdomain.Key, messages []qc.Message) {
	if len(messages) == 0 {
		delete(b.messages, key)
		return
	}
	b.messages[key] = messages
}
