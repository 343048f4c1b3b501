package core

// Heartbeat toggles the on-board LED once per tick.
type Heartbeat struct {
	pin     OutputPin
	log     Logger
	on      bool
	failing bool
}

func NewHeartbeat(pin OutputPin, log Logger) *Heartbeat {
	if log == nil {
		log = NopLogger
	}
	return &Heartbeat{pin: pin, log: log}
}

func (h *Heartbeat) Configure() error { return h.pin.Configure() }

// Tick flips the LED. Only the scheduler goroutine calls it. A failing pin
// is logged once per run of failures.
func (h *Heartbeat) Tick() {
	h.on = !h.on
	err := h.pin.Set(h.on)
	switch {
	case err != nil && !h.failing:
		h.log.Errorf("heartbeat: %v", err)
	case err == nil && h.failing:
		h.log.Infof("heartbeat: pin recovered")
	}
	h.failing = err != nil
}

// On reports the last driven level.
func (h *Heartbeat) On() bool { return h.on }
