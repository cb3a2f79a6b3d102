package fileserver

// saveToStats accounts one served request in the statistics database.
// It runs in its own goroutine so a slow disk never delays the response.
func (s *FileServer) saveToStats(path string, status int, bytes int64) {
	if s.stats == nil {
		return
	}

	if err := s.stats.Add(path, status, bytes); err != nil {
		s.logger.Error("Failed to save statistics", "path", path, "err", err)
	}
}
