package api

// Validate validates the task specification.
// Rules are:
// - Name and Command are required
// - Port names are unique within the task (across inputs and outputs)
// - OnFailure is one of terminate, ignore, retry
// - MaxRetries only makes sense with the retry policy and must be positive
// - Resource hints cannot be negative
func (s TaskSpec) Validate() error {
	if s.Name == "" {
		return Configurationf("task name is required")
	}
	if s.Command == "" {
		return Configurationf("task %s: command is required", s.Name)
	}

	seen := make(map[string]struct{})
	for _, p := range s.Inputs {
		if p.Name == "" {
			return Configurationf("task %s: input port name is required", s.Name)
		}
		if _, dup := seen[p.Name]; dup {
			return Configurationf("task %s: duplicate port %s", s.Name, p.Name)
		}
		seen[p.Name] = struct{}{}
	}
	for _, p := range s.Outputs {
		if p.Name == "" {
			return Configurationf("task %s: output port name is required", s.Name)
		}
		if p.Path == "" {
			return Configurationf("task %s: output port %s has no path", s.Name, p.Name)
		}
		if _, dup := seen[p.Name]; dup {
			return Configurationf("task %s: duplicate port %s", s.Name, p.Name)
		}
		seen[p.Name] = struct{}{}
	}

	switch s.OnFailure {
	case "", PolicyTerminate, PolicyIgnore, PolicyRetry:
	default:
		return Configurationf("task %s: unknown failure policy %q", s.Name, s.OnFailure)
	}
	if s.MaxRetries < 0 {
		return Configurationf("task %s: maxRetries cannot be negative", s.Name)
	}
	if s.OnFailure == PolicyRetry && s.MaxRetries == 0 {
		return Configurationf("task %s: retry policy requires maxRetries > 0", s.Name)
	}

	if s.Resources.CPUs < 0 || s.Resources.MemoryMB < 0 || s.Resources.TimeMinutes < 0 {
		return Configurationf("task %s: negative resource hint", s.Name)
	}
	return nil
}
