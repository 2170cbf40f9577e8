package run

func SetStatus(status Status) UpdateSetter {
	return func(r *Run) error {
		if !status.IsValid() {
			return ErrInvalidStatus
		}
		r.Status = status
		return nil
	}
}

// SetProgress records the iteration count and per-class attempts of a run in
// flight.
func SetProgress(iterations int, attempts JSONMap) UpdateSetter {
	return func(r *Run) error {
		r.Iterations = iterations
		r.Attempts = attempts
		return nil
	}
}

func SetScreenshots(count int) UpdateSetter {
	return func(r *Run) error {
		r.Screenshots = count
		return nil
	}
}
