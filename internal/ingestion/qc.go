package ingestion

import (
	"bytes"
	"time"

	"github.com/smallbiznis/adl/internal/cache"
	"github.com/smallbiznis/adl/internal/qc"
	stationdomain "github.com/smallbiznis/adl/internal/station/domain"
	"go.uber.org/zap"
)

const pipelineCacheTTL = time.Hour

// pipelines caches built QC pipelines per parameter version. Mappings that
// carry their own rules are cached separately under the mapping id.
type pipelines struct {
	log       *zap.Logger
	registry  *qc.Registry
	byParam   *cache.VersionedCache[*qc.Pipeline]
	byMapping *cache.VersionedCache[*qc.Pipeline]
}

func newPipelines(log *zap.Logger, registry *qc.Registry) *pipelines {
	if registry == nil {
		registry = qc.DefaultRegistry()
	}
	return &pipelines{
		log:       log,
		registry:  registry,
		byParam:   cache.NewVersionedCache[*qc.Pipeline](pipelineCacheTTL),
		byMapping: cache.NewVersionedCache[*qc.Pipeline](pipelineCacheTTL),
	}
}

func ownRules(m stationdomain.VariableMapping) bool {
	raw := bytes.TrimSpace(m.QCRules)
	return len(raw) > 0 && !bytes.Equal(raw, []byte("null"))
}

// For returns the pipeline for a mapping, or nil when nothing is configured.
func (p *pipelines) For(m stationdomain.VariableMapping) *qc.Pipeline {
	build := func() (*qc.Pipeline, error) {
		return p.build(m.ID, m.Parameter.Name, m.Rules()), nil
	}
	var pipe *qc.Pipeline
	if ownRules(m) {
		pipe, _ = p.byMapping.GetOrBuild(m.ID, m.RulesVersion(), build)
	} else {
		pipe, _ = p.byParam.GetOrBuild(m.ParameterID, m.Parameter.ModifiedAt, build)
	}
	return pipe
}

func (p *pipelines) build(mappingID int64, paramName string, raw []byte) *qc.Pipeline {
	rules, err := qc.ParseRules(raw)
	if err != nil {
		p.log.Warn("invalid qc rules, skipping qc",
			zap.Int64("mapping_id", mappingID),
			zap.String("parameter", paramName),
			zap.Error(err),
		)
		return nil
	}
	if len(rules) == 0 {
		return nil
	}
	pipe, err := qc.NewBuilder(p.log).WithRegistry(p.registry).BuildFromRules(rules)
	if err != nil {
		p.log.Warn("qc pipeline built with skipped checks",
			zap.Int64("mapping_id", mappingID),
			zap.String("parameter", paramName),
			zap.Error(err),
		)
	}
	return pipe
}
