package server

import (
	"context"
	"net/http"

	"github.com/aristath/quantcore/internal/modules/panel"
	"github.com/aristath/quantcore/internal/modules/risk"
	"github.com/aristath/quantcore/internal/pipeline"
	"github.com/aristath/quantcore/internal/tools"
)

// toolHandler decodes Req, runs call and writes its result
func toolHandler[Req any, Resp any](s *Server, call func(context.Context, Req) (Resp, error)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req Req
		if err := s.decode(w, r, &req); err != nil {
			s.fail(w, r, err)
			return
		}
		resp, err := call(r.Context(), req)
		if err != nil {
			s.fail(w, r, err)
			return
		}
		s.respond(w, r, http.StatusOK, resp)
	}
}

// handleLoadData handles POST /api/tools/data
func (s *Server) handleLoadData(w http.ResponseWriter, r *http.Request) {
	toolHandler[panel.Request](s, s.tools.LoadData)(w, r)
}

// handleComputeSignals handles POST /api/tools/signals
func (s *Server) handleComputeSignals(w http.ResponseWriter, r *http.Request) {
	toolHandler[tools.SignalRequest](s, s.tools.ComputeSignals)(w, r)
}

// handleOptimize handles POST /api/tools/optimize
func (s *Server) handleOptimize(w http.ResponseWriter, r *http.Request) {
	toolHandler[tools.OptimizeRequest](s, s.tools.Optimize)(w, r)
}

// handleBacktest handles POST /api/tools/backtest
func (s *Server) handleBacktest(w http.ResponseWriter, r *http.Request) {
	toolHandler[tools.BacktestRequest](s, s.tools.RunBacktest)(w, r)
}

// handleRiskMetrics handles POST /api/tools/risk/metrics
func (s *Server) handleRiskMetrics(w http.ResponseWriter, r *http.Request) {
	toolHandler[risk.MetricsRequest](s, s.tools.RiskMetrics)(w, r)
}

// handleRiskStress handles POST /api/tools/risk/stress
func (s *Server) handleRiskStress(w http.ResponseWriter, r *http.Request) {
	toolHandler[risk.StressRequest](s, s.tools.Stress)(w, r)
}

// handleCompliance handles POST /api/tools/compliance
func (s *Server) handleCompliance(w http.ResponseWriter, r *http.Request) {
	toolHandler[tools.ComplianceRequest](s, s.tools.CheckCompliance)(w, r)
}

// handlePipeline handles POST /api/tools/pipeline
func (s *Server) handlePipeline(w http.ResponseWriter, r *http.Request) {
	toolHandler[pipeline.Spec](s, s.tools.RunPipeline)(w, r)
}
