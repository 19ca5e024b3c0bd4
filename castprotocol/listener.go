package castprotocol

// StatusListener receives discrete media session notifications. Callbacks
// run on the session's own goroutines, never on the caller's.
type StatusListener interface {
	OnStatusUpdated()
	OnMetadataUpdated()
	OnQueueStatusUpdated()
	OnPreloadStatusUpdated()
	OnSendingRemoteMediaRequest()
	OnAdBreakStatusUpdated()
}

// ProgressListener receives periodic playback progress ticks.
type ProgressListener interface {
	OnProgressUpdated(progressMs, durationMs int64)
}

// AddStatusListener registers l for status notifications.
func (c *CastClient) AddStatusListener(l StatusListener) {
	c.lmu.Lock()
	defer c.lmu.Unlock()
	c.statusListeners = append(c.statusListeners, l)
}

// AddProgressListener registers l for progress ticks.
func (c *CastClient) AddProgressListener(l ProgressListener) {
	c.lmu.Lock()
	defer c.lmu.Unlock()
	c.progressListeners = append(c.progressListeners, l)
}

func (c *CastClient) notifyStatus(fn func(StatusListener)) {
	c.lmu.RLock()
	ls := append([]StatusListener(nil), c.statusListeners...)
	c.lmu.RUnlock()

	for _, l := range ls {
		fn(l)
	}
}

func (c *CastClient) notifyProgress(progressMs, durationMs int64) {
	c.lmu.RLock()
	ls := append([]ProgressListener(nil), c.progressListeners...)
	c.lmu.RUnlock()

	for _, l := range ls {
		l.OnProgressUpdated(progressMs, durationMs)
	}
}
