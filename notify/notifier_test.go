package notify

import (
	"testing"

	"github.com/lib/pq"
)

func TestListenerSignalCoalescesBurstsIntoOneWake(t *testing.T) {
	l := &Listener{wake: make(chan struct{}, 1)}

	l.signal()
	l.signal()
	l.signal()

	select {
	case <-l.Wake():
	default:
		t.Fatal("expected at least one queued wake")
	}

	select {
	case <-l.Wake():
		t.Fatal("expected the burst to coalesce into a single wake")
	default:
	}
}

func TestListenerSignalIsIndependentPerListener(t *testing.T) {
	a := &Listener{wake: make(chan struct{}, 1)}
	b := &Listener{wake: make(chan struct{}, 1)}

	a.signal()

	select {
	case <-b.Wake():
		t.Fatal("signalling one listener must not wake another")
	default:
	}

	select {
	case <-a.Wake():
	default:
		t.Fatal("expected a's wake to be queued")
	}
}

func TestEventCallbackSignalsOnConnectAndReconnect(t *testing.T) {
	l := &Listener{wake: make(chan struct{}, 1)}

	l.eventCallback(pq.ListenerEventConnected, nil)

	select {
	case <-l.Wake():
	default:
		t.Fatal("expected connect to trigger a wake")
	}

	l.eventCallback(pq.ListenerEventReconnected, nil)

	select {
	case <-l.Wake():
	default:
		t.Fatal("expected reconnect to trigger a wake")
	}
}
