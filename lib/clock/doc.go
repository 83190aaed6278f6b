// Copyright 2026 The Easel Authors
// SPDX-License-Identifier: Apache-2.0

// Package clock provides the time source used by every timeout, lease
// and timestamp in Easel.
//
// Components take a Clock in their config and default to Real() when
// none is given. Tests pass Fake() and drive deadlines explicitly:
//
//	fake := clock.Fake(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
//	negotiator := transport.NewNegotiator(transport.NegotiatorConfig{Clock: fake, ...})
//	go negotiator.Connect(ctx, endpoint, signaler)
//	fake.WaitForTimers(1)       // the attempt armed its deadline
//	fake.Advance(10 * time.Second)
package clock
