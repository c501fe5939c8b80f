/* SPDX-License-Identifier: MIT
 *
 * Copyright (C) 2017-2025 WireGuard LLC. All Rights Reserved.
 */

package device

// OutcomeKind tags the variant carried by an Outcome returned from
// encapsulate, decapsulate, and timer-tick calls.
type OutcomeKind int

const (
	OutcomeNothing OutcomeKind = iota
	OutcomeWriteToNetwork
	OutcomeWriteToTun
	OutcomeMulti
	OutcomeErr
)

func (k OutcomeKind) String() string {
	switch k {
	case OutcomeNothing:
		return "Nothing"
	case OutcomeWriteToNetwork:
		return "WriteToNetwork"
	case OutcomeWriteToTun:
		return "WriteToTun"
	case OutcomeMulti:
		return "Multi"
	case OutcomeErr:
		return "Err"
	default:
		return "Unknown"
	}
}

// Outcome is the single return value of every Tunnel/Device operation that
// would otherwise need to perform I/O itself: a datagram to put on the
// wire, a packet to deliver to the TUN device, several of either in one
// shot, nothing at all, or an error. Callers switch on Kind.
type Outcome struct {
	Kind    OutcomeKind
	Network []byte
	Tun     []byte
	Multi   []Outcome
	Err     error
}

func nothing() Outcome {
	return Outcome{Kind: OutcomeNothing}
}

func writeToNetwork(b []byte) Outcome {
	return Outcome{Kind: OutcomeWriteToNetwork, Network: b}
}

func writeToTun(b []byte) Outcome {
	return Outcome{Kind: OutcomeWriteToTun, Tun: b}
}

func errOutcome(err error) Outcome {
	return Outcome{Kind: OutcomeErr, Err: err}
}

// multi collapses zero, one, or many outcomes into the simplest equivalent
// shape: dropping Nothings, unwrapping a singleton, and only producing a
// real OutcomeMulti when two or more actionable outcomes remain.
func multi(outcomes ...Outcome) Outcome {
	var kept []Outcome
	for _, o := range outcomes {
		if o.Kind == OutcomeNothing {
			continue
		}
		kept = append(kept, o)
	}
	switch len(kept) {
	case 0:
		return nothing()
	case 1:
		return kept[0]
	default:
		return Outcome{Kind: OutcomeMulti, Multi: kept}
	}
}
