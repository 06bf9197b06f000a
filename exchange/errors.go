// Copyright 2026 The OpenPortal Authors
// SPDX-License-Identifier: Apache-2.0

package exchange

import "errors"

// ErrDuplicatePeer is returned by Register when an agent name is
// already registered; the caller should close the new connection
// rather than displace the existing one.
var ErrDuplicatePeer = errors.New("exchange: peer already registered")

// ErrNoSuchPeer is returned by Send when the message's recipient has
// no registered connection. The upper layer may buffer and retry once
// the peer appears.
var ErrNoSuchPeer = errors.New("exchange: no connection to recipient")
