package service

// OpenJobLogs returns the number of job log files s keeps open.
func OpenJobLogs(s *JobLogSink) int {
	s.mx.Lock()
	defer s.mx.Unlock()
	return len(s.files)
}
