package metrics

import "time"

// NoopMetrics is a no-operation Recorder used when metrics are disabled.
type NoopMetrics struct{}

var _ Recorder = (*NoopMetrics)(nil)

// NewNoopMetrics creates a new no-operation metrics recorder
func NewNoopMetrics() Recorder {
	return &NoopMetrics{}
}

func (n *NoopMetrics) RecordAuthorizationCreated(success bool) {}
func (n *NoopMetrics) RecordExchange(result string)            {}
func (n *NoopMetrics) RecordVerify(result string)              {}
func (n *NoopMetrics) RecordApprove(approved bool)             {}
func (n *NoopMetrics) RecordHeartbeat(status string)           {}
func (n *NoopMetrics) RecordTokenIssued(source string)         {}
func (n *NoopMetrics) RecordTokenRevoked()                     {}
func (n *NoopMetrics) RecordSweep(expired int64)               {}
func (n *NoopMetrics) SetPendingAuthorizations(count int64)    {}
func (n *NoopMetrics) SetActiveAgentTokens(count int64)        {}

func (n *NoopMetrics) RecordHTTPRequest(method, path, status string, duration time.Duration) {}
func (n *NoopMetrics) IncHTTPInFlight()                                                      {}
func (n *NoopMetrics) DecHTTPInFlight()                                                      {}
