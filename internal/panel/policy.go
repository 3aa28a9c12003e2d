package panel

// ShouldAnalyze decides whether an analysis call should proceed for the
// given context under the current configuration. Force always wins; any
// context not explicitly allowed is denied.
func ShouldAnalyze(ctx Context, cfg Config, force bool) bool {
	if force {
		return true
	}
	switch ctx {
	case ContextMessage:
		return cfg.CalculateEveryMessage
	case ContextEnd:
		return cfg.CalculateOnSessionEnd
	case ContextManual:
		return true
	default:
		return false
	}
}
