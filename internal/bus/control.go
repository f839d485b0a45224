package bus

import "sync"

// MissionControl tracks the single active mission per user and its stop
// flag. The conductor polls StopRequested between tasks; the HTTP layer
// uses SetRunning as a test-and-set so only one mission runs per user.
type MissionControl struct {
	mu     sync.Mutex
	states map[string]*missionState
}

type missionState struct {
	running       bool
	stopRequested bool
}

// NewMissionControl creates an empty control table.
func NewMissionControl() *MissionControl {
	return &MissionControl{states: make(map[string]*missionState)}
}

// SetRunning claims the user's mission slot. Returns false when a mission
// is already running, in which case nothing changes.
func (c *MissionControl) SetRunning(userID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	state, ok := c.states[userID]
	if !ok {
		state = &missionState{}
		c.states[userID] = state
	}
	if state.running {
		return false
	}
	state.running = true
	state.stopRequested = false
	return true
}

// IsRunning reports whether the user has an active mission.
func (c *MissionControl) IsRunning(userID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	state, ok := c.states[userID]
	return ok && state.running
}

// RequestStop asks the user's active mission to halt at the next checkpoint.
// Returns false when no mission is running.
func (c *MissionControl) RequestStop(userID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	state, ok := c.states[userID]
	if !ok || !state.running {
		return false
	}
	state.stopRequested = true
	return true
}

// StopRequested reports whether a stop has been requested for the user's
// active mission.
func (c *MissionControl) StopRequested(userID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	state, ok := c.states[userID]
	return ok && state.stopRequested
}

// SetFinished releases the user's mission slot and clears the stop flag.
func (c *MissionControl) SetFinished(userID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.states, userID)
}
