package stack

import (
	"reflect"
	"unsafe"

	"gvisor.dev/gvisor/pkg/tcpip"
	"gvisor.dev/gvisor/pkg/waiter"
)

// getEndpoint reaches past netstack's net.Conn/net.Listener wrappers to the
// underlying tcpip.Endpoint, the only way to reach options netstack doesn't
// surface through the standard net interfaces (TOS/DSCP, MSS, multicast
// membership). Grounded in waiter.go GetEndpoint, which does
// the identical unexported-field reflection for the same reason.
func getEndpoint(obj interface{}) tcpip.Endpoint {
	if obj == nil {
		return nil
	}
	v := reflect.ValueOf(obj)
	if v.Kind() == reflect.Ptr {
		v = v.Elem()
	}
	if v.Kind() != reflect.Struct {
		return nil
	}
	epField := v.FieldByName("ep")
	if !epField.IsValid() || epField.Kind() != reflect.Interface || epField.IsNil() {
		return nil
	}
	ptr := unsafe.Pointer(epField.UnsafeAddr())
	ifacePtr := reflect.NewAt(epField.Type(), ptr)
	ep, _ := ifacePtr.Elem().Interface().(tcpip.Endpoint)
	return ep
}

// getWaiterQueue reaches the waiter.Queue backing a netstack net.Conn or
// net.Listener, the same unexported-field escape hatch getEndpoint uses.
// Grounded in waiter.go GetWaiterQueue.
func getWaiterQueue(obj interface{}) *waiter.Queue {
	if obj == nil {
		return nil
	}
	v := reflect.ValueOf(obj)
	if v.Kind() == reflect.Ptr {
		v = v.Elem()
	}
	if v.Kind() != reflect.Struct {
		return nil
	}
	wqField := v.FieldByName("wq")
	if !wqField.IsValid() {
		return nil
	}
	if wqField.Kind() == reflect.Ptr {
		return (*waiter.Queue)(unsafe.Pointer(wqField.Pointer()))
	}
	if wqField.Kind() == reflect.Struct && wqField.CanAddr() {
		return (*waiter.Queue)(unsafe.Pointer(wqField.UnsafeAddr()))
	}
	return nil
}

// channelNotifier adapts a channel to waiter.EventListener, the same shape
// io_multplx.go select()/poll() implementations use to turn a
// queue notification into something a goroutine can block on.
type channelNotifier chan struct{}

func (c channelNotifier) NotifyEvent(waiter.EventMask) {
	select {
	case c <- struct{}{}:
	default:
	}
}

// waitEvent blocks the calling goroutine until obj's waiter.Queue reports
// one of events, giving accept/recv genuine edge-triggered readiness
// instead of a bare blocking call wrapped in a goroutine. If obj carries no
// extractable waiter.Queue (a descriptor not backed by netstack, as in
// tests), it degrades to "always ready" so callers still make progress.
func waitEvent(obj interface{}, events waiter.EventMask) {
	wq := getWaiterQueue(obj)
	if wq == nil {
		return
	}
	ch := make(channelNotifier, 1)
	entry := &waiter.Entry{}
	entry.Init(ch, events)
	wq.EventRegister(entry)
	defer wq.EventUnregister(entry)
	<-ch
}
