package engine

import "fmt"

// Counters are the aggregate progress numbers owned by the coordinator.
// They can drift after a resume from a partial snapshot, so Validate runs
// after every mutation and clamps instead of failing.
type Counters struct {
	Total         int `json:"total"`
	Processed     int `json:"processed"`
	Successful    int `json:"successful"`
	Failed        int `json:"failed"`
	Errors        int `json:"errors"`
	ActiveWorkers int `json:"activeWorkers"`
	WorkerCount   int `json:"workerCount"`
}

// Validate repairs invariant violations in place and returns a description
// of every repair applied, for logging.
func (c *Counters) Validate() []string {
	var repairs []string

	if c.Total < 0 {
		repairs = append(repairs, fmt.Sprintf("total %d clamped to 0", c.Total))
		c.Total = 0
	}
	if c.Processed < 0 {
		repairs = append(repairs, fmt.Sprintf("processed %d clamped to 0", c.Processed))
		c.Processed = 0
	}
	if c.Processed > c.Total {
		repairs = append(repairs, fmt.Sprintf("processed %d clamped to total %d", c.Processed, c.Total))
		c.Processed = c.Total
	}
	if c.Successful < 0 {
		repairs = append(repairs, fmt.Sprintf("successful %d clamped to 0", c.Successful))
		c.Successful = 0
	}
	if c.Failed < 0 {
		repairs = append(repairs, fmt.Sprintf("failed %d clamped to 0", c.Failed))
		c.Failed = 0
	}
	if c.Errors < 0 {
		repairs = append(repairs, fmt.Sprintf("errors %d clamped to 0", c.Errors))
		c.Errors = 0
	}

	if sum := c.Successful + c.Failed; sum > c.Processed {
		// Scale both down proportionally, flooring, so the pair fits under
		// processed again.
		ratio := float64(c.Processed) / float64(sum)
		newSuccessful := int(float64(c.Successful) * ratio)
		newFailed := int(float64(c.Failed) * ratio)
		repairs = append(repairs, fmt.Sprintf(
			"successful+failed %d exceeds processed %d, scaled to %d+%d",
			sum, c.Processed, newSuccessful, newFailed))
		c.Successful = newSuccessful
		c.Failed = newFailed
	}

	if c.ActiveWorkers < 0 {
		repairs = append(repairs, fmt.Sprintf("activeWorkers %d clamped to 0", c.ActiveWorkers))
		c.ActiveWorkers = 0
	}
	if c.WorkerCount > 0 && c.ActiveWorkers > c.WorkerCount {
		repairs = append(repairs, fmt.Sprintf("activeWorkers %d clamped to workerCount %d", c.ActiveWorkers, c.WorkerCount))
		c.ActiveWorkers = c.WorkerCount
	}

	return repairs
}

// Percent returns processed/total as a whole percentage.
func (c *Counters) Percent() int {
	if c.Total == 0 {
		return 0
	}
	return c.Processed * 100 / c.Total
}
