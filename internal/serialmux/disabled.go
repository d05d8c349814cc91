package serialmux

import (
	"context"
	"errors"
	"net/http"
)

// ErrDisabled is returned by DisabledSerialMux.SendCommand.
var ErrDisabled = errors.New("scanner disabled")

// DisabledSerialMux stands in when no scanner is attached. Subscribers never
// see a line; their channels close on Unsubscribe or Close.
type DisabledSerialMux struct {
	subs *subscriberSet
}

func NewDisabledSerialMux() *DisabledSerialMux {
	return &DisabledSerialMux{subs: newSubscriberSet(0)}
}

func (d *DisabledSerialMux) Subscribe() (string, chan string) { return d.subs.add() }
func (d *DisabledSerialMux) Unsubscribe(id string)            { d.subs.remove(id) }
func (d *DisabledSerialMux) SendCommand(string) error         { return ErrDisabled }

func (d *DisabledSerialMux) Monitor(ctx context.Context) error {
	<-ctx.Done()
	return ctx.Err()
}

func (d *DisabledSerialMux) Close() error {
	d.subs.shutdown()
	return nil
}

func (d *DisabledSerialMux) AttachAdminRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/debug/scanner-console", func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, ErrDisabled.Error(), http.StatusServiceUnavailable)
	})
}
