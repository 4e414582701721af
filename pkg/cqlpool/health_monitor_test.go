package cqlpool

import (
	"errors"
	"sync"
	"testing"
)

type recordingListener struct {
	mu       sync.Mutex
	ups      int
	downs    int
	lastHost *Host
}

func (l *recordingListener) OnUp(host *Host) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.ups++
	l.lastHost = host
}

func (l *recordingListener) OnDown(host *Host) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.downs++
	l.lastHost = host
}

func (l *recordingListener) snapshot() (ups, downs int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.ups, l.downs
}

func TestHealthMonitor_DefaultsUp(t *testing.T) {
	host := NewHost("10.0.0.1:9042", func() ConvictionPolicy { return NewThresholdConvictionPolicy(1) })
	if !host.Monitor().IsUp() {
		t.Fatal("new host's monitor should default to up")
	}
}

func TestHealthMonitor_SignalConnectionFailureConvictsAndNotifies(t *testing.T) {
	host := NewHost("10.0.0.1:9042", func() ConvictionPolicy { return NewThresholdConvictionPolicy(1) })
	listener := &recordingListener{}
	host.Monitor().Register(listener)

	convicted := host.Monitor().SignalConnectionFailure(errors.New("boom"))
	if !convicted {
		t.Fatal("expected conviction with threshold 1")
	}
	if host.Monitor().IsUp() {
		t.Fatal("monitor should be down after conviction")
	}
	if ups, downs := listener.snapshot(); ups != 0 || downs != 1 {
		t.Fatalf("listener saw ups=%d downs=%d, want ups=0 downs=1", ups, downs)
	}
}

func TestHealthMonitor_ResetNotifiesAndFlipsUp(t *testing.T) {
	host := NewHost("10.0.0.1:9042", func() ConvictionPolicy { return NewThresholdConvictionPolicy(1) })
	listener := &recordingListener{}
	host.Monitor().Register(listener)

	host.Monitor().SignalConnectionFailure(errors.New("boom"))
	host.Monitor().Reset()

	if !host.Monitor().IsUp() {
		t.Fatal("monitor should be up after Reset")
	}
	if ups, downs := listener.snapshot(); ups != 1 || downs != 1 {
		t.Fatalf("listener saw ups=%d downs=%d, want ups=1 downs=1", ups, downs)
	}
}

func TestHealthMonitor_UnregisterStopsNotifications(t *testing.T) {
	host := NewHost("10.0.0.1:9042", func() ConvictionPolicy { return NewThresholdConvictionPolicy(1) })
	listener := &recordingListener{}
	handle := host.Monitor().Register(listener)
	host.Monitor().Unregister(handle)

	host.Monitor().SignalConnectionFailure(errors.New("boom"))

	if ups, downs := listener.snapshot(); ups != 0 || downs != 0 {
		t.Fatalf("listener saw ups=%d downs=%d after unregister, want 0/0", ups, downs)
	}
}

func TestHealthMonitor_BelowThresholdDoesNotConvict(t *testing.T) {
	host := NewHost("10.0.0.1:9042", func() ConvictionPolicy { return NewThresholdConvictionPolicy(3) })
	convicted := host.Monitor().SignalConnectionFailure(errors.New("boom"))
	if convicted {
		t.Fatal("should not convict below threshold")
	}
	if !host.Monitor().IsUp() {
		t.Fatal("monitor should remain up below threshold")
	}
}

type panickingListener struct{}

func (panickingListener) OnUp(*Host)   { panic("onup boom") }
func (panickingListener) OnDown(*Host) { panic("ondown boom") }

func TestHealthMonitor_PanickingListenerDoesNotBlockOthers(t *testing.T) {
	host := NewHost("10.0.0.1:9042", func() ConvictionPolicy { return NewThresholdConvictionPolicy(1) })
	host.Monitor().Register(panickingListener{})
	good := &recordingListener{}
	host.Monitor().Register(good)

	host.Monitor().SignalConnectionFailure(errors.New("boom"))

	if _, downs := good.snapshot(); downs != 1 {
		t.Fatal("well-behaved listener should still be notified despite a panicking sibling")
	}
}
