package jobstore

import "github.com/robfig/cron/v3"

// cronParser accepts standard 5-field expressions plus descriptors like
// "@every 1h" and "@daily", matching what operators typically write into
// REFILL_CRON and scheduleRecurring's cronExpression.
var cronParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

// ParseCron validates a cron expression using the same parser the Job Store
// uses internally, so callers (e.g. SC's scheduleRecurring validation) reject
// the same set of malformed expressions the store would.
func ParseCron(expr string) (cron.Schedule, error) {
	return cronParser.Parse(expr)
}
