// Copyright 2026 The OpenPortal Authors
// SPDX-License-Identifier: Apache-2.0

package connection

// ProtocolVersion is this build's transport-layer wire version,
// exchanged during the handshake and independent of EngineVersion.
const ProtocolVersion = 1

// EngineVersion is this build's agent-engine (application layer)
// version, exchanged alongside ProtocolVersion so the router can
// refuse peers below its own minimum even when the transport agreed.
const EngineVersion = 1
