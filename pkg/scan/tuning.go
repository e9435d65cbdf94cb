package scan

// TuningParams holds the real-time adjustable scanner parameters.
// These can be modified via the tuning API without restarting the session.
type TuningParams struct {
	// Detection
	EdgeMinArea      float64 `json:"edge_min_area"`
	CannyLow         float32 `json:"canny_low"`
	CannyHigh        float32 `json:"canny_high"`
	PolyEpsilonRatio float64 `json:"poly_epsilon_ratio"`

	// Focus and stability
	FocusThreshold          float64 `json:"focus_threshold"`
	MotionThreshold         float64 `json:"motion_threshold"`
	StabilityRequiredFrames int     `json:"stability_required_frames"`

	// Tick rate
	TickIntervalMs int `json:"tick_interval_ms"`
}

// TuningParams returns the current tuning parameters.
func (s *Scheduler) TuningParams() TuningParams {
	cfg := s.Config()
	return TuningParams{
		EdgeMinArea:             cfg.EdgeMinArea,
		CannyLow:                cfg.CannyLow,
		CannyHigh:               cfg.CannyHigh,
		PolyEpsilonRatio:        cfg.PolyEpsilonRatio,
		FocusThreshold:          cfg.FocusThreshold,
		MotionThreshold:         cfg.MotionThreshold,
		StabilityRequiredFrames: cfg.StabilityRequiredFrames,
		TickIntervalMs:          cfg.TickIntervalMs,
	}
}

// SetTuningParams updates tuning parameters at runtime.
// Only non-zero values are applied; the merged config must validate.
func (s *Scheduler) SetTuningParams(params TuningParams) error {
	s.tuneMu.Lock()
	defer s.tuneMu.Unlock()

	cfg := s.Config()

	if params.EdgeMinArea > 0 {
		cfg.EdgeMinArea = params.EdgeMinArea
	}
	if params.CannyLow > 0 {
		cfg.CannyLow = params.CannyLow
	}
	if params.CannyHigh > 0 {
		cfg.CannyHigh = params.CannyHigh
	}
	if params.PolyEpsilonRatio > 0 {
		cfg.PolyEpsilonRatio = params.PolyEpsilonRatio
	}
	if params.FocusThreshold > 0 {
		cfg.FocusThreshold = params.FocusThreshold
	}
	if params.MotionThreshold > 0 {
		cfg.MotionThreshold = params.MotionThreshold
	}
	if params.StabilityRequiredFrames > 0 {
		cfg.StabilityRequiredFrames = params.StabilityRequiredFrames
	}
	if params.TickIntervalMs > 0 {
		cfg.TickIntervalMs = params.TickIntervalMs
	}

	return s.SetConfig(cfg)
}
