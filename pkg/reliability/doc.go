// Copyright (c) 2024 SIROS Foundation
// SPDX-License-Identifier: BSD-2-Clause

/*
Package reliability tracks outbound AS2 messages awaiting an asynchronous MDN.

# Monitor

A Monitor maps the MIC of each outbound message to a pending confirmation.
An entry is Pending until an MDN confirms it or the confirmation window
elapses; both outcomes remove it and neither can be undone.

	monitor := reliability.NewMonitor(reliability.Config{
	    Window:        3 * time.Second,
	    SweepInterval: time.Second,
	})
	monitor.Start(ctx)
	defer monitor.Stop()

	// after sending
	if err := monitor.Register(msg.MIC, msg); err != nil {
	    // ErrAlreadyRegistered
	}

	// when the MDN arrives
	if _, err := monitor.Resolve(mdn.ReceivedContentMIC, mdn.OriginalMessageID, partner.Alias); err != nil {
	    // ErrCorrelation: unknown MIC, or a message id or sender mismatch
	}

Expired entries are handed to Config.OnExpired and counted in the
as2_mdn_expired_total metric.

# Metrics

NewMetrics registers the pending gauge and the confirmed, expired and
unexpected counters with a Prometheus registerer.
*/
package reliability
