package metrics

import "time"

// Noop is a Collector that discards every observation, used where no
// metrics backend is configured.
type Noop struct{}

func (Noop) ConnectionOpened()          {}
func (Noop) ConnectionClosed()          {}
func (Noop) ConnectionRejected()        {}
func (Noop) InvalidCommandRejected()    {}
func (Noop) SenderRejected()            {}
func (Noop) RecipientRejected()         {}
func (Noop) DataSizeRejected()          {}
func (Noop) HardModeRejected()          {}
func (Noop) RateLimitRejected()         {}
func (Noop) AuthResult(string, string)  {}
func (Noop) SpamAnalyzed()              {}
func (Noop) SpamSkipped()               {}
func (Noop) SpamError()                 {}
func (Noop) SpamDetected()              {}
func (Noop) SpamProcessingTime(time.Duration) {}
func (Noop) StorageSnapshot(StorageGauges)    {}
func (Noop) ChaosEvent()                      {}
func (Noop) ChaosLatencyInjected(time.Duration) {}
func (Noop) ChaosErrorReturned()                {}
func (Noop) ChaosConnectionDropped()            {}
func (Noop) ChaosGreylistRejection()            {}
func (Noop) ChaosBlackhole()                    {}
