package coordinator

import (
	"github.com/notecove/notecove/internal/pollinggroup"
)

// SDStatus summarizes one registered SD's polling queue for polling.getStatus.
type SDStatus struct {
	SDID        string               `json:"sdId"`
	QueueLength int                  `json:"queueLength"`
	Settings    pollinggroup.Settings `json:"settings"`
	Entries     []pollinggroup.Entry `json:"entries"`
}

// PollingStatus implements polling.getStatus for one registered SD.
func (c *Coordinator) PollingStatus(sdID string) (SDStatus, error) {
	sd, err := c.sdOrErr(sdID)
	if err != nil {
		return SDStatus{}, err
	}
	return SDStatus{
		SDID:        sdID,
		QueueLength: sd.poll.Len(),
		Settings:    sd.poll.Settings(),
		Entries:     sd.poll.Snapshot(),
	}, nil
}

// SetPollingSettings implements polling.setSettings for one registered SD.
func (c *Coordinator) SetPollingSettings(sdID string, settings pollinggroup.Settings) error {
	sd, err := c.sdOrErr(sdID)
	if err != nil {
		return err
	}
	sd.poll.SetSettings(settings)
	return nil
}

// AllPollingStatus returns PollingStatus for every currently registered SD,
// for a process-wide `notecove status` with no --sd filter.
func (c *Coordinator) AllPollingStatus() []SDStatus {
	c.mu.RLock()
	ids := make([]string, 0, len(c.sds))
	for id := range c.sds {
		ids = append(ids, id)
	}
	c.mu.RUnlock()

	out := make([]SDStatus, 0, len(ids))
	for _, id := range ids {
		st, err := c.PollingStatus(id)
		if err != nil {
			continue
		}
		out = append(out, st)
	}
	return out
}
