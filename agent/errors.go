// Copyright 2026 The OpenPortal Authors
// SPDX-License-Identifier: Apache-2.0

package agent

import "errors"

// ErrNoHandler is recorded on a Job's ErrorText when it reaches this
// agent as its destination but no Handler has been installed.
var ErrNoHandler = errors.New("agent: no handler installed for local dispatch")

// ErrPeerUnreachable is wrapped in the Routing error forward returns
// when a Job's next hop never appears within the configured connect
// timeout.
var ErrPeerUnreachable = errors.New("agent: next hop did not connect in time")
