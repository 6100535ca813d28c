package target

import (
	"runtime"
	"sync"
)

// osThread runs functions on one locked OS thread. Both ptrace and the
// Windows debug API only accept requests from the thread that attached.
type osThread struct {
	once     sync.Once
	stopOnce sync.Once
	reqCh    chan func()
	doneCh   chan struct{}
	stopCh   chan struct{}
}

func newOSThread() *osThread {
	return &osThread{
		reqCh:  make(chan func()),
		doneCh: make(chan struct{}),
		stopCh: make(chan struct{}),
	}
}

// Exec runs fn on the locked thread and returns its error. Once Stop was
// called it returns ErrTracerStopped without running fn.
//
// issue: https://github.com/golang/go/issues/7699
func (t *osThread) Exec(fn func() error) error {
	t.once.Do(func() {
		go func() {
			runtime.LockOSThread()
			defer runtime.UnlockOSThread()

			for {
				select {
				case req := <-t.reqCh:
					req()
					t.doneCh <- struct{}{}
				case <-t.stopCh:
					return
				}
			}
		}()
	})

	select {
	case <-t.stopCh:
		return ErrTracerStopped
	default:
	}

	var err error
	select {
	case t.reqCh <- func() { err = fn() }:
	case <-t.stopCh:
		return ErrTracerStopped
	}
	<-t.doneCh
	return err
}

// Stop lets the locked goroutine exit.
func (t *osThread) Stop() {
	t.stopOnce.Do(func() { close(t.stopCh) })
}
