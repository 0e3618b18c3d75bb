// Package testutil holds test doubles shared by the bridge packages.
package testutil

import (
	"sync"

	"github.com/ghalamif/uabridge/internal/ports"
)

type Entry struct {
	Level  string
	Msg    string
	Err    error
	Fields []ports.Field
}

// Obs records every log line and metric update in memory.
type Obs struct {
	mu       sync.Mutex
	entries  []Entry
	counters map[string]float64
	gauges   map[string]float64
	latency  map[string]int
}

func NewObs() *Obs {
	return &Obs{
		counters: make(map[string]float64),
		gauges:   make(map[string]float64),
		latency:  make(map[string]int),
	}
}

func (o *Obs) LogInfo(msg string, fields ...ports.Field) { o.add("info", msg, nil, fields) }
func (o *Obs) LogWarn(msg string, fields ...ports.Field) { o.add("warn", msg, nil, fields) }
func (o *Obs) LogError(msg string, err error, fields ...ports.Field) {
	o.add("error", msg, err, fields)
}
func (o *Obs) LogCritical(msg string, err error, fields ...ports.Field) {
	o.add("critical", msg, err, fields)
}

func (o *Obs) IncCounter(name string, v float64) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.counters[name] += v
}

func (o *Obs) ObserveLatency(name string, _ float64) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.latency[name]++
}

func (o *Obs) SetGauge(name string, v float64) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.gauges[name] = v
}

func (o *Obs) add(level, msg string, err error, fields []ports.Field) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.entries = append(o.entries, Entry{Level: level, Msg: msg, Err: err, Fields: fields})
}

func (o *Obs) Entries() []Entry {
	o.mu.Lock()
	defer o.mu.Unlock()
	out := make([]Entry, len(o.entries))
	copy(out, o.entries)
	return out
}

// Find returns every entry logged with msg.
func (o *Obs) Find(msg string) []Entry {
	var out []Entry
	for _, e := range o.Entries() {
		if e.Msg == msg {
			out = append(out, e)
		}
	}
	return out
}

func (o *Obs) Counter(name string) float64 {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.counters[name]
}

func (o *Obs) Gauge(name string) float64 {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.gauges[name]
}

func (o *Obs) Observations(name string) int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.latency[name]
}

// Field returns the value of key in e, or nil.
func (e Entry) Field(key string) any {
	for _, f := range e.Fields {
		if f.Key == key {
			return f.Value
		}
	}
	return nil
}

var _ ports.Observability = (*Obs)(nil)
