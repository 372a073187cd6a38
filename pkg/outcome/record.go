package outcome

import "time"

// Record is the terminal outcome of one delivery job.
type Record struct {
	JobID     string        `json:"jobId"`
	Origin    string        `json:"origin"`
	Recipient string        `json:"recipient"`
	Subject   string        `json:"subject"`
	Filename  string        `json:"filename"`
	Attempts  int           `json:"attempts"`
	Success   bool          `json:"success"`
	Error     string        `json:"error,omitempty"`
	Duration  time.Duration `json:"duration"`
	Timestamp time.Time     `json:"timestamp"`
}

// Result returns "success" or "failure".
func (r *Record) Result() string {
	if r.Success {
		return "success"
	}
	return "failure"
}
