package runtime

// Collectors exposes the system counters for NewMetricsRegistry and
// StartMetricsServer, one prometheus subsystem per entry.
func (s *System) Collectors() map[string]MetricFunc {
	return map[string]MetricFunc{
		"matrix": func() map[string]float64 {
			s.mu.Lock()
			defer s.mu.Unlock()
			p := s.matrix.Perf()
			var violations uint64
			var live int
			for _, d := range s.matrix.Domains() {
				violations += d.violations
				live += d.Len()
			}
			return map[string]float64{
				"global_tick":       float64(s.matrix.GlobalTick()),
				"domains_active":    float64(len(s.matrix.Domains())),
				"actors_live":       float64(live),
				"executions_total":  float64(p.Executions),
				"sub_budget_total":  float64(p.SubBudget),
				"budget_violations": float64(violations),
				"cycles_min":        float64(p.Min()),
				"cycles_max":        float64(p.MaxCycles),
				"cycles_avg":        p.AvgCycles(),
				"compliance_ratio":  p.ComplianceRatio(),
			}
		},
		"entanglement": func() map[string]float64 {
			s.mu.Lock()
			defer s.mu.Unlock()
			out := map[string]float64{}
			for _, d := range s.matrix.Domains() {
				st := d.bus.Stats()
				out["connections"] += float64(st.Connections)
				out["queued"] += float64(st.Queued)
				out["propagations_total"] += float64(st.Propagations)
				out["delivered_total"] += float64(st.Delivered)
				out["bounded_rejections_total"] += float64(st.BoundedRejections)
				out["dropped_total"] += float64(st.DroppedSignals)
				out["invalid_targets_total"] += float64(st.InvalidTargets)
				out["hop_budget_violations_total"] += float64(st.HopBudgetViolations)
				out["dark_activations_total"] += float64(st.DarkActivations)
				out["dark_expirations_total"] += float64(st.DarkExpirations)
			}
			return out
		},
		"routing": func() map[string]float64 {
			st := s.router.Stats()
			return map[string]float64{
				"mailboxes":                 float64(st.Mailboxes),
				"routed_total":              float64(st.Routed),
				"delivered_total":           float64(st.Delivered),
				"backpressured_total":       float64(st.Backpressured),
				"dead_lettered_total":       float64(st.DeadLettered),
				"dead_letter_dropped_total": float64(st.DeadLetterDropped),
				"circuit_rejected_total":    float64(st.CircuitRejected),
				"expired_total":             float64(st.Expired),
				"corrupted_total":           float64(st.Corrupted),
			}
		},
		"supervision": func() map[string]float64 {
			st := s.super.Stats()
			return map[string]float64{
				"actors":                  float64(st.Actors),
				"supervisors":             float64(st.Supervisors),
				"decisions_total":         float64(st.Decisions),
				"restarts_total":          float64(st.Restarts),
				"escalations_total":       float64(st.Escalations),
				"terminations_total":      float64(st.Terminations),
				"recoveries_ok_total":     float64(st.SuccessfulRecoveries),
				"recoveries_failed_total": float64(st.FailedRecoveries),
				"decision_avg_ns":         st.AvgDecisionNanos,
				"recovery_avg_ns":         st.AvgRecoveryNanos,
			}
		},
		"bidi": func() map[string]float64 {
			st := s.channel.Stats()
			return map[string]float64{
				"requests_total":   float64(st.Requests),
				"responses_total":  float64(st.Responses),
				"duplicates_total": float64(st.DuplicateResponses),
				"lost_total":       float64(st.LostMessages),
				"requeued_total":   float64(s.requeued.Load()),
				"rtt_min_ns":       float64(st.MinRTT),
				"rtt_max_ns":       float64(st.MaxRTT),
				"rtt_avg_ns":       st.AvgRTT,
			}
		},
	}
}
